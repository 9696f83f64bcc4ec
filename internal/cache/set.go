package cache

import (
	"fmt"
	"time"

	"grouplog/pkg/chatlog"
)

const (
	// DefaultNameCapacity bounds the identity cache.
	DefaultNameCapacity = 200
	// DefaultMessageCapacity bounds the message cache.
	DefaultMessageCapacity = 100
	// DefaultMissCapacity bounds the negative cache.
	DefaultMissCapacity = 512
	// DefaultMissTTL is how long a failed remote lookup is remembered.
	DefaultMissTTL = 2 * time.Minute
)

// Config sizes one cache Set.
type Config struct {
	NameCapacity    int
	MessageCapacity int
	MissCapacity    int
	MissTTL         time.Duration
}

// DefaultConfig returns the production cache sizing.
func DefaultConfig() Config {
	return Config{
		NameCapacity:    DefaultNameCapacity,
		MessageCapacity: DefaultMessageCapacity,
		MissCapacity:    DefaultMissCapacity,
		MissTTL:         DefaultMissTTL,
	}
}

// Set bundles the process-wide caches consulted during formatting.
type Set struct {
	// Names maps user identifiers to display names.
	Names *LRU[string, string]
	// Messages maps message identifiers to raw messages.
	Messages *LRU[string, chatlog.RawMessage]
	// Misses remembers message identifiers the remote could not resolve.
	Misses *NegativeCache
}

// NewSet builds a cache Set. Zero-valued config fields fall back to the
// defaults.
func NewSet(cfg Config, options ...NegativeOption) (*Set, error) {
	defaults := DefaultConfig()
	if cfg.NameCapacity <= 0 {
		cfg.NameCapacity = defaults.NameCapacity
	}
	if cfg.MessageCapacity <= 0 {
		cfg.MessageCapacity = defaults.MessageCapacity
	}
	if cfg.MissCapacity <= 0 {
		cfg.MissCapacity = defaults.MissCapacity
	}
	if cfg.MissTTL <= 0 {
		cfg.MissTTL = defaults.MissTTL
	}

	names, err := NewLRU[string, string](cfg.NameCapacity)
	if err != nil {
		return nil, fmt.Errorf("new cache set names: %w", err)
	}
	messages, err := NewLRU[string, chatlog.RawMessage](cfg.MessageCapacity)
	if err != nil {
		return nil, fmt.Errorf("new cache set messages: %w", err)
	}
	misses, err := NewNegativeCache(cfg.MissCapacity, cfg.MissTTL, options...)
	if err != nil {
		return nil, fmt.Errorf("new cache set misses: %w", err)
	}

	return &Set{Names: names, Messages: messages, Misses: misses}, nil
}
