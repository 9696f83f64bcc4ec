package format

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"grouplog/pkg/chatlog"
)

// PseudoForwardApp marks a JSON card that carries a forward-like bundle.
const PseudoForwardApp = "com.tencent.multimsg"

// TooDeepForwardMarker replaces a forward nested deeper than the bound.
const TooDeepForwardMarker = "[forward message: nesting too deep]"

// Flattener expands native and pseudo forward bundles into a tree of
// formatted sub-messages.
type Flattener struct {
	resolver *Resolver
	logger   *slog.Logger
	location *time.Location
	maxDepth int
}

// NewFlattener creates a flattener that resolves mentions and remote
// forward bundles through resolver.
func NewFlattener(resolver *Resolver, options ...Option) *Flattener {
	return newFlattener(resolver, newSettings(options))
}

func newFlattener(resolver *Resolver, cfg settings) *Flattener {
	return &Flattener{
		resolver: resolver,
		logger:   cfg.logger,
		location: cfg.location,
		maxDepth: cfg.maxForwardDepth,
	}
}

// IsPseudoForward reports whether data is a JSON card carrying a
// pseudo-forward bundle.
func IsPseudoForward(data string) bool {
	if !gjson.Valid(data) {
		return false
	}

	return gjson.Get(data, "app").String() == PseudoForwardApp
}

// Flatten formats a forward segment sent by sender at epoch second at. It
// returns chatlog.ErrRecursionOverflow when nesting exceeds the bound.
func (f *Flattener) Flatten(ctx context.Context, segment chatlog.ForwardSegment, sender chatlog.Sender, at int64) (chatlog.FormattedMessage, error) {
	return f.flatten(ctx, segment, sender, at, 1)
}

// FlattenPseudo formats a pseudo-forward JSON envelope. Items carry no
// sender or time, so every leaf is attributed to the sentinel sender at
// epoch zero.
func (f *Flattener) FlattenPseudo(ctx context.Context, envelope string, sender chatlog.Sender, at int64) (chatlog.FormattedMessage, error) {
	return f.assemble(ctx, pseudoForwardMessages(envelope), sender, at, 1)
}

func (f *Flattener) flatten(
	ctx context.Context,
	segment chatlog.ForwardSegment,
	sender chatlog.Sender,
	at int64,
	depth int,
) (chatlog.FormattedMessage, error) {
	if depth > f.maxDepth {
		return chatlog.FormattedMessage{}, fmt.Errorf("flatten forward %s at depth %d: %w",
			segment.ID, depth, chatlog.ErrRecursionOverflow)
	}

	messages := segment.Messages
	if !segment.Inline && strings.TrimSpace(segment.ID) != "" {
		messages = f.fetch(ctx, segment.ID)
	}

	return f.assemble(ctx, messages, sender, at, depth)
}

func (f *Flattener) fetch(ctx context.Context, forwardID string) []chatlog.RawMessage {
	if f.resolver == nil {
		return nil
	}

	messages, found, err := f.resolver.lookupForward(ctx, forwardID)
	if err != nil {
		f.logger.WarnContext(ctx, "forward remote lookup failed", "forward_id", forwardID, "error", err)
		return nil
	}
	if !found {
		f.logger.DebugContext(ctx, "forward bundle not available", "forward_id", forwardID)
		return nil
	}

	return messages
}

func (f *Flattener) assemble(
	ctx context.Context,
	messages []chatlog.RawMessage,
	sender chatlog.Sender,
	at int64,
	depth int,
) (chatlog.FormattedMessage, error) {
	record := chatlog.FormattedMessage{
		Time:            chatlog.FormatTime(at, f.location),
		Sender:          sender.Label(),
		Content:         chatlog.ForwardMarker,
		Resources:       []chatlog.Resource{},
		ForwardMessages: make([]chatlog.FormattedMessage, 0, len(messages)),
	}

	for _, message := range messages {
		child, err := f.subMessage(ctx, message, depth)
		if err != nil {
			return chatlog.FormattedMessage{}, err
		}
		record.ForwardMessages = append(record.ForwardMessages, child)
	}

	return record, nil
}

// subMessage formats one forwarded message. A sub-message that is itself
// a forward becomes a nested forward record carrying the sub-message's
// image resources; its sibling text is not kept since a forward record's
// content is always the forward marker.
func (f *Flattener) subMessage(ctx context.Context, message chatlog.RawMessage, depth int) (chatlog.FormattedMessage, error) {
	for _, segment := range message.Segments {
		var (
			nested chatlog.FormattedMessage
			err    error
			found  bool
		)
		switch typed := segment.(type) {
		case chatlog.ForwardSegment:
			nested, err = f.flatten(ctx, typed, message.Sender, message.Time, depth+1)
			found = true
		case chatlog.JSONSegment:
			if IsPseudoForward(typed.Data) {
				if depth+1 > f.maxDepth {
					return chatlog.FormattedMessage{}, fmt.Errorf("flatten pseudo forward at depth %d: %w",
						depth+1, chatlog.ErrRecursionOverflow)
				}
				nested, err = f.assemble(ctx, pseudoForwardMessages(typed.Data), message.Sender, message.Time, depth+1)
				found = true
			}
		}
		if !found {
			continue
		}
		if err != nil {
			return chatlog.FormattedMessage{}, err
		}
		nested.MessageID = message.ID
		nested.Resources = append(nested.Resources, imageResources(message.Segments)...)
		return nested, nil
	}

	record := chatlog.FormattedMessage{
		Time:      chatlog.FormatTime(message.Time, f.location),
		Sender:    message.Sender.Label(),
		Resources: []chatlog.Resource{},
		MessageID: message.ID,
	}

	var content strings.Builder
	for _, segment := range message.Segments {
		switch typed := segment.(type) {
		case chatlog.ImageSegment:
			resource, text := ClassifyImage(typed)
			record.Resources = append(record.Resources, resource)
			content.WriteString(text)
		case chatlog.MentionSegment:
			content.WriteString(f.mention(typed.UserID))
		case chatlog.ReplySegment:
			content.WriteString("[quote (id:" + typed.MessageID + ")]")
		default:
			text, _ := FormatPlain(segment)
			content.WriteString(text)
		}
	}
	record.Content = content.String()

	return record, nil
}

func (f *Flattener) mention(userID string) string {
	if userID == chatlog.MentionAll {
		return chatlog.MentionAllMarker
	}
	if f.resolver != nil {
		if name, ok := f.resolver.caches.Names.Get(userID); ok {
			return formatMention(name, userID)
		}
	}

	return unresolvedMention(userID)
}

func pseudoForwardMessages(envelope string) []chatlog.RawMessage {
	var messages []chatlog.RawMessage
	gjson.Get(envelope, "meta.detail.news").ForEach(func(_, item gjson.Result) bool {
		text := item.Get("text")
		if !text.Exists() {
			return true
		}
		messages = append(messages, chatlog.RawMessage{
			Sender:   chatlog.PseudoForwardSender,
			Time:     0,
			Segments: []chatlog.Segment{chatlog.TextSegment{Text: text.String()}},
		})
		return true
	})

	return messages
}

func imageResources(segments []chatlog.Segment) []chatlog.Resource {
	var resources []chatlog.Resource
	for _, segment := range segments {
		if image, ok := segment.(chatlog.ImageSegment); ok {
			resource, _ := ClassifyImage(image)
			resources = append(resources, resource)
		}
	}

	return resources
}
