// Package store persists one bounded, deduplicated message log per group
// as a JSON file.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"grouplog/internal/metrics"
	"grouplog/pkg/chatlog"
)

const (
	defaultFilePerm   os.FileMode = 0o644
	defaultDirPerm    os.FileMode = 0o755
	fileExtension                 = ".json"
	corruptTimeLayout             = "20060102T150405"
	maxGroupIDLength              = 128
)

var groupIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// SaveResult summarizes one Save call.
type SaveResult struct {
	// Added counts records appended to the log.
	Added int
	// Skipped counts records whose message id was already logged.
	Skipped int
	// Dropped counts the oldest records truncated by the history bound.
	Dropped int
	// Total is the log length after the save.
	Total int
}

// Option mutates store configuration.
type Option func(*Store)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(store *Store) {
		if logger != nil {
			store.logger = logger
		}
	}
}

// WithMetrics records save outcomes.
func WithMetrics(collectors *metrics.Collectors) Option {
	return func(store *Store) {
		store.metrics = collectors
	}
}

// WithClock overrides the time source for update times and quarantine
// suffixes.
func WithClock(clock func() time.Time) Option {
	return func(store *Store) {
		if clock != nil {
			store.clock = clock
		}
	}
}

// WithLocation sets the time zone of update times.
func WithLocation(location *time.Location) Option {
	return func(store *Store) {
		if location != nil {
			store.location = location
		}
	}
}

// WithFilePerm sets the permission of written log files.
func WithFilePerm(perm os.FileMode) Option {
	return func(store *Store) {
		if perm != 0 {
			store.filePerm = perm
		}
	}
}

// Store owns the on-disk logs below one directory. Saves and resets of the
// same group are serialized; different groups proceed independently.
type Store struct {
	dir      string
	logger   *slog.Logger
	metrics  *metrics.Collectors
	clock    func() time.Time
	location *time.Location
	filePerm os.FileMode
	write    func(path string, content []byte, perm os.FileMode) error

	locks keyedLocks
}

// New creates a store rooted at dir, creating the directory when needed.
func New(dir string, options ...Option) (*Store, error) {
	if dir == "" {
		return nil, errors.New("new store: empty directory")
	}
	absolute, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("new store resolve %s: %w", dir, err)
	}

	store := &Store{
		dir:      absolute,
		logger:   slog.Default(),
		clock:    time.Now,
		location: time.Local,
		filePerm: defaultFilePerm,
		write:    writeAtomic,
	}
	for _, option := range options {
		option(store)
	}

	if err := os.MkdirAll(store.dir, defaultDirPerm); err != nil {
		return nil, fmt.Errorf("new store ensure dir %s: %w", store.dir, err)
	}

	return store, nil
}

// Dir returns the absolute data directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the log file path of groupID.
func (s *Store) Path(groupID string) (string, error) {
	if len(groupID) > maxGroupIDLength || !groupIDPattern.MatchString(groupID) {
		return "", fmt.Errorf("%w: %q", chatlog.ErrInvalidGroupID, groupID)
	}

	return filepath.Join(s.dir, groupID+fileExtension), nil
}

// Load reads the log of groupID. It reports found=false when no log exists
// and wraps chatlog.ErrCorruptLog when the file cannot be decoded.
func (s *Store) Load(ctx context.Context, groupID string) (chatlog.GroupLog, bool, error) {
	if err := ctx.Err(); err != nil {
		return chatlog.GroupLog{}, false, fmt.Errorf("store load %s: %w", groupID, err)
	}
	path, err := s.Path(groupID)
	if err != nil {
		return chatlog.GroupLog{}, false, fmt.Errorf("store load: %w", err)
	}

	log, found, err := readLog(path)
	if err != nil {
		return chatlog.GroupLog{}, false, fmt.Errorf("store load %s: %w", groupID, err)
	}

	return log, found, nil
}

// Save merges records into the log of groupID, skipping records whose
// message id is already logged, keeps the newest maxHistory entries and
// atomically replaces the file. A corrupt existing file is quarantined
// next to the log and replaced by a fresh one.
func (s *Store) Save(ctx context.Context, groupID string, records []chatlog.FormattedMessage, maxHistory int) (result SaveResult, err error) {
	defer func() {
		outcome := metrics.OutcomeOK
		if err != nil {
			outcome = metrics.OutcomeError
		}
		s.metrics.ObserveSave(outcome, result.Added, result.Skipped, result.Dropped)
	}()

	if maxHistory <= 0 {
		return SaveResult{}, fmt.Errorf("store save %s: max history must be > 0, got %d", groupID, maxHistory)
	}
	path, err := s.Path(groupID)
	if err != nil {
		return SaveResult{}, fmt.Errorf("store save: %w", err)
	}

	unlock := s.locks.lock(groupID)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return SaveResult{}, fmt.Errorf("store save %s: %w", groupID, err)
	}

	existing, _, err := readLog(path)
	if errors.Is(err, chatlog.ErrCorruptLog) {
		quarantined, quarantineErr := s.quarantine(path)
		if quarantineErr != nil {
			return SaveResult{}, fmt.Errorf("store save %s: %w", groupID, quarantineErr)
		}
		s.logger.WarnContext(ctx, "corrupt group log quarantined",
			"group_id", groupID,
			"path", path,
			"quarantined", quarantined,
			"error", err,
		)
		existing = chatlog.GroupLog{}
		err = nil
	}
	if err != nil {
		return SaveResult{}, fmt.Errorf("store save %s: %w", groupID, err)
	}

	merged, result := merge(existing.Messages, records, maxHistory)
	log := chatlog.GroupLog{
		GroupID:    groupID,
		UpdateTime: s.clock().In(s.location).Format(chatlog.TimeLayout),
		Messages:   merged,
	}

	content, err := encodeLog(log)
	if err != nil {
		return SaveResult{}, fmt.Errorf("store save %s encode: %w", groupID, err)
	}
	if err := s.write(path, content, s.filePerm); err != nil {
		return SaveResult{}, fmt.Errorf("store save %s: %w: %w", groupID, chatlog.ErrPersistentIO, err)
	}

	s.logger.DebugContext(ctx, "group log saved",
		"group_id", groupID,
		"added", result.Added,
		"skipped", result.Skipped,
		"dropped", result.Dropped,
		"total", result.Total,
	)

	return result, nil
}

// Reset deletes the log of groupID. Resetting a missing log succeeds.
func (s *Store) Reset(ctx context.Context, groupID string) error {
	path, err := s.Path(groupID)
	if err != nil {
		return fmt.Errorf("store reset: %w", err)
	}

	unlock := s.locks.lock(groupID)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("store reset %s: %w", groupID, err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("store reset %s: %w: %w", groupID, chatlog.ErrPersistentIO, err)
	}
	s.logger.InfoContext(ctx, "group log reset", "group_id", groupID)

	return nil
}

func (s *Store) quarantine(path string) (string, error) {
	target := path + ".corrupt-" + s.clock().Format(corruptTimeLayout)
	if err := os.Rename(path, target); err != nil {
		return "", fmt.Errorf("quarantine %s: %w: %w", path, chatlog.ErrPersistentIO, err)
	}

	return target, nil
}

// merge appends unseen records to existing and truncates the oldest
// entries beyond maxHistory.
func merge(existing []chatlog.FormattedMessage, records []chatlog.FormattedMessage, maxHistory int) ([]chatlog.FormattedMessage, SaveResult) {
	seen := make(map[string]struct{}, len(existing)+len(records))
	merged := make([]chatlog.FormattedMessage, 0, len(existing)+len(records))
	for _, message := range existing {
		if message.MessageID != "" {
			seen[message.MessageID] = struct{}{}
		}
		merged = append(merged, message.Normalize())
	}

	var result SaveResult
	for _, record := range records {
		if record.MessageID != "" {
			if _, exists := seen[record.MessageID]; exists {
				result.Skipped++
				continue
			}
			seen[record.MessageID] = struct{}{}
		}
		merged = append(merged, record.Normalize())
		result.Added++
	}

	if overflow := len(merged) - maxHistory; overflow > 0 {
		result.Dropped = overflow
		merged = append([]chatlog.FormattedMessage(nil), merged[overflow:]...)
	}
	result.Total = len(merged)

	return merged, result
}

func readLog(path string) (chatlog.GroupLog, bool, error) {
	content, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return chatlog.GroupLog{}, false, nil
	}
	if err != nil {
		return chatlog.GroupLog{}, false, fmt.Errorf("%w: read %s: %w", chatlog.ErrPersistentIO, path, err)
	}

	var log chatlog.GroupLog
	if err := json.Unmarshal(content, &log); err != nil {
		return chatlog.GroupLog{}, false, fmt.Errorf("%w: decode %s: %w", chatlog.ErrCorruptLog, path, err)
	}

	return log, true, nil
}

func encodeLog(log chatlog.GroupLog) ([]byte, error) {
	if log.Messages == nil {
		log.Messages = []chatlog.FormattedMessage{}
	}

	var buffer bytes.Buffer
	encoder := json.NewEncoder(&buffer)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(log); err != nil {
		return nil, err
	}

	return buffer.Bytes(), nil
}
