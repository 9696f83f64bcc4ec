// Package ingest formats raw group messages and merges them into the
// persisted group logs, shedding overlapping requests for the same group.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"grouplog/internal/metrics"
	"grouplog/internal/store"
	"grouplog/pkg/chatlog"
)

const (
	// DefaultMaxHistory bounds every group log.
	DefaultMaxHistory = 100
	// DefaultSyncCount is how many recent messages a sync fetches.
	DefaultSyncCount = 50
)

// Formatter formats one batch of raw messages of a group.
type Formatter interface {
	FormatBatch(ctx context.Context, groupID string, messages []chatlog.RawMessage) []chatlog.FormattedMessage
}

// LogStore persists formatted records.
type LogStore interface {
	Save(ctx context.Context, groupID string, records []chatlog.FormattedMessage, maxHistory int) (store.SaveResult, error)
}

// HistorySource fetches the latest raw messages of a group.
type HistorySource interface {
	RecentMessages(ctx context.Context, groupID string, count int) ([]chatlog.RawMessage, bool, error)
}

// Option mutates service configuration.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(service *Service) {
		if logger != nil {
			service.logger = logger
		}
	}
}

// WithMetrics records sync outcomes.
func WithMetrics(collectors *metrics.Collectors) Option {
	return func(service *Service) {
		service.metrics = collectors
	}
}

// WithHistory enables Sync through source.
func WithHistory(source HistorySource) Option {
	return func(service *Service) {
		service.history = source
	}
}

// WithMaxHistory sets the initial log bound.
func WithMaxHistory(maxHistory int) Option {
	return func(service *Service) {
		if maxHistory > 0 {
			service.maxHistory.Store(int64(maxHistory))
		}
	}
}

// WithSyncCount sets how many recent messages Sync fetches.
func WithSyncCount(count int) Option {
	return func(service *Service) {
		if count > 0 {
			service.syncCount = count
		}
	}
}

// Service runs the format-then-save pipeline. At most one request per
// group is in flight; an overlapping request fails fast with
// chatlog.ErrSyncInFlight instead of queuing.
type Service struct {
	formatter Formatter
	store     LogStore
	history   HistorySource
	logger    *slog.Logger
	metrics   *metrics.Collectors
	syncCount int

	maxHistory atomic.Int64

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// New creates an ingestion service.
func New(formatter Formatter, logStore LogStore, options ...Option) (*Service, error) {
	if formatter == nil {
		return nil, errors.New("new ingest service: nil formatter")
	}
	if logStore == nil {
		return nil, errors.New("new ingest service: nil store")
	}

	service := &Service{
		formatter: formatter,
		store:     logStore,
		logger:    slog.Default(),
		syncCount: DefaultSyncCount,
		inFlight:  make(map[string]struct{}),
	}
	service.maxHistory.Store(DefaultMaxHistory)
	for _, option := range options {
		option(service)
	}

	return service, nil
}

// MaxHistory returns the current log bound.
func (s *Service) MaxHistory() int {
	return int(s.maxHistory.Load())
}

// SetMaxHistory changes the log bound for subsequent saves. Non-positive
// values are ignored.
func (s *Service) SetMaxHistory(maxHistory int) {
	if maxHistory <= 0 {
		return
	}
	previous := s.maxHistory.Swap(int64(maxHistory))
	if previous != int64(maxHistory) {
		s.logger.Info("max history updated", "previous", previous, "current", maxHistory)
	}
}

// Save formats messages and merges them into the log of groupID.
func (s *Service) Save(ctx context.Context, groupID string, messages []chatlog.RawMessage) (store.SaveResult, error) {
	release, err := s.acquire(groupID)
	if err != nil {
		s.metrics.ObserveSync(metrics.OutcomeDropped)
		return store.SaveResult{}, fmt.Errorf("ingest save %s: %w", groupID, err)
	}
	defer release()

	result, err := s.save(ctx, groupID, messages)
	s.observe(err)

	return result, err
}

// Sync fetches the latest messages of groupID from the history source and
// merges them into its log.
func (s *Service) Sync(ctx context.Context, groupID string) (store.SaveResult, error) {
	if s.history == nil {
		return store.SaveResult{}, fmt.Errorf("ingest sync %s: no history source configured", groupID)
	}

	release, err := s.acquire(groupID)
	if err != nil {
		s.metrics.ObserveSync(metrics.OutcomeDropped)
		return store.SaveResult{}, fmt.Errorf("ingest sync %s: %w", groupID, err)
	}
	defer release()

	messages, found, err := s.history.RecentMessages(ctx, groupID, s.syncCount)
	if err != nil {
		s.observe(err)
		return store.SaveResult{}, fmt.Errorf("ingest sync %s fetch history: %w", groupID, err)
	}
	if !found || len(messages) == 0 {
		s.logger.DebugContext(ctx, "sync found no history", "group_id", groupID)
		s.observe(nil)
		return store.SaveResult{}, nil
	}

	result, err := s.save(ctx, groupID, messages)
	s.observe(err)

	return result, err
}

// Run syncs every triggered group until ctx is canceled or triggers is
// closed, then waits for running syncs. Triggers for a group that is
// already syncing are dropped.
func (s *Service) Run(ctx context.Context, triggers <-chan chatlog.GroupTrigger) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case trigger, ok := <-triggers:
			if !ok {
				return nil
			}
			groupID := strings.TrimSpace(trigger.GroupID)
			if groupID == "" {
				continue
			}

			wg.Add(1)
			go func() {
				defer wg.Done()
				s.handleTrigger(ctx, groupID, trigger.MessageID)
			}()
		}
	}
}

func (s *Service) handleTrigger(ctx context.Context, groupID string, messageID string) {
	result, err := s.Sync(ctx, groupID)
	switch {
	case errors.Is(err, chatlog.ErrSyncInFlight):
		s.logger.DebugContext(ctx, "sync dropped while in flight",
			"group_id", groupID,
			"message_id", messageID,
		)
	case err != nil:
		s.logger.ErrorContext(ctx, "group sync failed",
			"group_id", groupID,
			"message_id", messageID,
			"error", err,
		)
	default:
		s.logger.InfoContext(ctx, "group synced",
			"group_id", groupID,
			"added", result.Added,
			"skipped", result.Skipped,
			"total", result.Total,
		)
	}
}

func (s *Service) save(ctx context.Context, groupID string, messages []chatlog.RawMessage) (store.SaveResult, error) {
	records := s.formatter.FormatBatch(ctx, groupID, messages)
	result, err := s.store.Save(ctx, groupID, records, s.MaxHistory())
	if err != nil {
		return store.SaveResult{}, fmt.Errorf("ingest save %s: %w", groupID, err)
	}

	return result, nil
}

func (s *Service) acquire(groupID string) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, busy := s.inFlight[groupID]; busy {
		return nil, chatlog.ErrSyncInFlight
	}
	s.inFlight[groupID] = struct{}{}

	return func() {
		s.mu.Lock()
		delete(s.inFlight, groupID)
		s.mu.Unlock()
	}, nil
}

func (s *Service) observe(err error) {
	if err != nil {
		s.metrics.ObserveSync(metrics.OutcomeError)
		return
	}
	s.metrics.ObserveSync(metrics.OutcomeOK)
}
