package chatlog

import (
	"strings"
	"time"
)

// TimeLayout is the rendering layout for message timestamps.
const TimeLayout = "2006-01-02 15:04:05"

const (
	// ForwardMarker is the content of every forward record.
	ForwardMarker = "[forward message]"
	// EmptyForwardMarker renders a forward record without sub-messages.
	EmptyForwardMarker = "[empty forward message]"
	// ImageMarker renders a plain image.
	ImageMarker = "[image]"
	// StickerMarker renders a platform sticker without a summary.
	StickerMarker = "[sticker]"
	// MentionAllMarker renders a mention of every group member.
	MentionAllMarker = "[@all]"
	// NonTextMarker renders a quoted message whose content is empty.
	NonTextMarker = "[non-text message]"
	// UnformattableMarker replaces a message whose formatting panicked.
	UnformattableMarker = "[unformattable message]"
	// UnknownSenderName is the display name used when a sender is anonymous.
	UnknownSenderName = "unknown user"
	// UnknownSenderID labels a sender without an identifier.
	UnknownSenderID = "unknown"
)

// PseudoForwardSender is the sentinel sender attached to pseudo-forward
// leaves, whose envelope does not expose per-item senders.
var PseudoForwardSender = Sender{UserID: "0", Nickname: "unknown"}

// Sender identifies the author of one raw message.
type Sender struct {
	// UserID is the platform user identifier normalized to a string.
	UserID string
	// Nickname is the account nickname.
	Nickname string
	// Card is the optional group-specific display name.
	Card string
}

// DisplayName returns the best human-readable name for the sender.
func (s Sender) DisplayName() string {
	if name := strings.TrimSpace(s.Nickname); name != "" {
		return name
	}
	if card := strings.TrimSpace(s.Card); card != "" {
		return card
	}

	return UnknownSenderName
}

// Label renders the sender as "name(id:X)".
func (s Sender) Label() string {
	id := strings.TrimSpace(s.UserID)
	if id == "" {
		id = UnknownSenderID
	}

	return s.DisplayName() + "(id:" + id + ")"
}

// RawMessage is one platform message before formatting.
type RawMessage struct {
	// ID is the platform message identifier normalized to a string.
	ID string
	// Sender identifies the author.
	Sender Sender
	// Time is the send time in epoch seconds.
	Time int64
	// Segments is the ordered message body.
	Segments []Segment
}

// Clone returns a deep copy of the message, including nested forwards.
func (m RawMessage) Clone() RawMessage {
	cloned := m
	if m.Segments == nil {
		return cloned
	}

	cloned.Segments = make([]Segment, len(m.Segments))
	for index, segment := range m.Segments {
		forward, ok := segment.(ForwardSegment)
		if !ok {
			cloned.Segments[index] = segment
			continue
		}
		nested := forward
		if forward.Messages != nil {
			nested.Messages = make([]RawMessage, len(forward.Messages))
			for messageIndex, message := range forward.Messages {
				nested.Messages[messageIndex] = message.Clone()
			}
		}
		cloned.Segments[index] = nested
	}

	return cloned
}

// ResourceType classifies image-bearing resources.
type ResourceType string

const (
	// ResourceTypeImage is a plain image.
	ResourceTypeImage ResourceType = "image"
	// ResourceTypeSticker is a platform sticker.
	ResourceTypeSticker ResourceType = "sticker"
	// ResourceTypeMarketplaceEmoji is a marketplace emoji.
	ResourceTypeMarketplaceEmoji ResourceType = "mface"
)

// Resource describes one image-bearing segment of a formatted message.
type Resource struct {
	Type     ResourceType `json:"type"`
	URL      string       `json:"url"`
	Summary  string       `json:"summary,omitempty"`
	File     string       `json:"file,omitempty"`
	FileSize string       `json:"file_size,omitempty"`
}

// FormattedMessage is the transcript-ready form of one raw message.
//
// Exactly one shape holds per record: plain content with no forward
// messages, or ForwardMarker content with the forward messages populated
// (possibly empty).
type FormattedMessage struct {
	Time            string             `json:"time"`
	Sender          string             `json:"sender"`
	Content         string             `json:"content"`
	Resources       []Resource         `json:"resources"`
	MessageID       string             `json:"message_id,omitempty"`
	ForwardMessages []FormattedMessage `json:"forward_messages,omitempty"`
}

// IsForward reports whether the record is a forward bundle.
func (m FormattedMessage) IsForward() bool {
	return m.Content == ForwardMarker
}

// Normalize replaces nil slices so the record serializes with an empty
// resources array.
func (m FormattedMessage) Normalize() FormattedMessage {
	if m.Resources == nil {
		m.Resources = []Resource{}
	}
	if m.ForwardMessages != nil {
		nested := make([]FormattedMessage, len(m.ForwardMessages))
		for index, child := range m.ForwardMessages {
			nested[index] = child.Normalize()
		}
		m.ForwardMessages = nested
	}

	return m
}

// GroupLog is the persisted bounded message log of one group.
type GroupLog struct {
	GroupID    string             `json:"group_id"`
	UpdateTime string             `json:"update_time"`
	Messages   []FormattedMessage `json:"messages"`
}

// FormatTime renders epoch seconds with TimeLayout in loc. A nil loc
// renders in time.Local.
func FormatTime(epochSeconds int64, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}

	return time.Unix(epochSeconds, 0).In(loc).Format(TimeLayout)
}

// GroupTrigger signals that a group received new messages and its log
// should be refreshed.
type GroupTrigger struct {
	GroupID   string
	MessageID string
	Time      int64
}
