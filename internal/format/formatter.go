package format

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"grouplog/internal/cache"
	"grouplog/internal/metrics"
	"grouplog/pkg/chatlog"
)

// Formatter turns raw messages into formatted records.
type Formatter struct {
	resolver  *Resolver
	flattener *Flattener
	logger    *slog.Logger
	metrics   *metrics.Collectors
	location  *time.Location
	workers   int
}

// New creates a formatter sharing caches with every other formatter built
// over the same Set.
func New(caches *cache.Set, options ...Option) (*Formatter, error) {
	if caches == nil {
		return nil, errors.New("new formatter: nil cache set")
	}

	cfg := newSettings(options)
	resolver := newResolver(caches, cfg)

	return &Formatter{
		resolver:  resolver,
		flattener: newFlattener(resolver, cfg),
		logger:    cfg.logger,
		metrics:   cfg.metrics,
		location:  cfg.location,
		workers:   cfg.workers,
	}, nil
}

// Resolver returns the reference resolver used by the formatter.
func (f *Formatter) Resolver() *Resolver {
	return f.resolver
}

// FormatBatch formats messages concurrently, bounded by the worker limit.
// Records keep the input order.
func (f *Formatter) FormatBatch(ctx context.Context, groupID string, messages []chatlog.RawMessage) []chatlog.FormattedMessage {
	batch := NewBatch(messages)
	records := make([]chatlog.FormattedMessage, len(messages))

	var group errgroup.Group
	group.SetLimit(f.workers)
	for index, message := range messages {
		index, message := index, message
		group.Go(func() error {
			records[index] = f.Format(ctx, groupID, message, batch)
			return nil
		})
	}
	_ = group.Wait()

	return records
}

// Format formats one message. Panics are recovered and degrade the record
// to a placeholder that keeps sender, time and message id.
func (f *Formatter) Format(ctx context.Context, groupID string, message chatlog.RawMessage, batch *Batch) chatlog.FormattedMessage {
	var record chatlog.FormattedMessage
	err := runSafely("format message "+message.ID, func() error {
		formatted, err := f.format(ctx, groupID, message, batch)
		if err != nil {
			return err
		}
		record = formatted
		return nil
	})
	if err == nil {
		return record
	}

	f.metrics.ObserveFormatPanic()
	f.logger.ErrorContext(ctx, "message formatting failed",
		"group_id", groupID,
		"message_id", message.ID,
		"error", err,
	)

	return chatlog.FormattedMessage{
		Time:      chatlog.FormatTime(message.Time, f.location),
		Sender:    message.Sender.Label(),
		Content:   chatlog.UnformattableMarker,
		Resources: []chatlog.Resource{},
		MessageID: message.ID,
	}
}

func (f *Formatter) format(ctx context.Context, groupID string, message chatlog.RawMessage, batch *Batch) (chatlog.FormattedMessage, error) {
	f.resolver.RememberSender(message.Sender)

	if record, ok := f.formatForward(ctx, message); ok {
		return record, nil
	}

	parts := make([]string, len(message.Segments))
	resources := make([]chatlog.Resource, 0)

	var group errgroup.Group
	for index, segment := range message.Segments {
		if image, ok := segment.(chatlog.ImageSegment); ok {
			resource, text := ClassifyImage(image)
			resources = append(resources, resource)
			parts[index] = text
			continue
		}
		if text, handled := FormatPlain(segment); handled {
			parts[index] = text
			continue
		}

		index, segment := index, segment
		group.Go(func() error {
			return runSafely(fmt.Sprintf("format segment %d", index), func() error {
				parts[index] = f.resolveSegment(ctx, groupID, segment, batch)
				return nil
			})
		})
	}
	if err := group.Wait(); err != nil {
		return chatlog.FormattedMessage{}, err
	}

	return chatlog.FormattedMessage{
		Time:      chatlog.FormatTime(message.Time, f.location),
		Sender:    message.Sender.Label(),
		Content:   strings.Join(parts, ""),
		Resources: resources,
		MessageID: message.ID,
	}, nil
}

// formatForward short-circuits messages carrying a forward or
// pseudo-forward segment.
func (f *Formatter) formatForward(ctx context.Context, message chatlog.RawMessage) (chatlog.FormattedMessage, bool) {
	for _, segment := range message.Segments {
		var (
			record chatlog.FormattedMessage
			err    error
		)
		switch typed := segment.(type) {
		case chatlog.ForwardSegment:
			record, err = f.flattener.Flatten(ctx, typed, message.Sender, message.Time)
		case chatlog.JSONSegment:
			if !IsPseudoForward(typed.Data) {
				continue
			}
			record, err = f.flattener.FlattenPseudo(ctx, typed.Data, message.Sender, message.Time)
		default:
			continue
		}

		if err != nil {
			f.metrics.ObserveResolution(metrics.KindForward, metrics.TierTooDeep)
			f.logger.WarnContext(ctx, "forward flattening degraded",
				"message_id", message.ID,
				"error", err,
			)
			record = chatlog.FormattedMessage{
				Time:      chatlog.FormatTime(message.Time, f.location),
				Sender:    message.Sender.Label(),
				Content:   TooDeepForwardMarker,
				Resources: []chatlog.Resource{},
			}
		}
		record.MessageID = message.ID
		record.Resources = append(record.Resources, imageResources(message.Segments)...)

		return record, true
	}

	return chatlog.FormattedMessage{}, false
}

func (f *Formatter) resolveSegment(ctx context.Context, groupID string, segment chatlog.Segment, batch *Batch) string {
	switch typed := segment.(type) {
	case chatlog.MentionSegment:
		return f.resolver.ResolveMention(ctx, groupID, typed.UserID, batch)
	case chatlog.ReplySegment:
		return f.resolver.ResolveReply(ctx, groupID, typed.MessageID, batch)
	case chatlog.ForwardSegment:
		return chatlog.ForwardMarker
	default:
		text, _ := FormatPlain(segment)
		return text
	}
}
