package format

import (
	"strings"

	"grouplog/pkg/chatlog"
)

// Batch indexes the messages currently being formatted so references
// between them resolve without remote calls. A nil *Batch is empty.
type Batch struct {
	messages map[string]chatlog.RawMessage
	senders  map[string]chatlog.Sender
}

// NewBatch indexes messages by identifier and sender identifier. The first
// occurrence of an identifier wins.
func NewBatch(messages []chatlog.RawMessage) *Batch {
	batch := &Batch{
		messages: make(map[string]chatlog.RawMessage, len(messages)),
		senders:  make(map[string]chatlog.Sender),
	}
	for _, message := range messages {
		if id := strings.TrimSpace(message.ID); id != "" {
			if _, exists := batch.messages[id]; !exists {
				batch.messages[id] = message
			}
		}
		userID := strings.TrimSpace(message.Sender.UserID)
		if userID == "" || !hasName(message.Sender) {
			continue
		}
		if _, exists := batch.senders[userID]; !exists {
			batch.senders[userID] = message.Sender
		}
	}

	return batch
}

// Message returns the batch message with messageID.
func (b *Batch) Message(messageID string) (chatlog.RawMessage, bool) {
	if b == nil {
		return chatlog.RawMessage{}, false
	}
	message, ok := b.messages[messageID]

	return message, ok
}

// Sender returns the first named sender with userID.
func (b *Batch) Sender(userID string) (chatlog.Sender, bool) {
	if b == nil {
		return chatlog.Sender{}, false
	}
	sender, ok := b.senders[userID]

	return sender, ok
}

// Len returns the number of indexed messages.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}

	return len(b.messages)
}

func hasName(sender chatlog.Sender) bool {
	return strings.TrimSpace(sender.Nickname) != "" || strings.TrimSpace(sender.Card) != ""
}
