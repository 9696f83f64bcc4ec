package chatlog

import "context"

// RemoteLookup resolves references that are neither cached nor present in
// the current batch. Every method reports absence with found=false and a
// nil error; errors describe failed calls.
type RemoteLookup interface {
	// GetMemberName returns the display name of one group member.
	GetMemberName(ctx context.Context, groupID string, userID string) (name string, found bool, err error)
	// GetMessage returns one message by identifier.
	GetMessage(ctx context.Context, messageID string) (message RawMessage, found bool, err error)
	// GetRecentMessages returns up to count of the latest group messages,
	// oldest first.
	GetRecentMessages(ctx context.Context, groupID string, count int) (messages []RawMessage, found bool, err error)
}

// ForwardLookup is optionally implemented by remote lookups that can fetch
// the sub-messages of a forward bundle delivered by identifier only.
type ForwardLookup interface {
	GetForwardMessages(ctx context.Context, forwardID string) (messages []RawMessage, found bool, err error)
}
