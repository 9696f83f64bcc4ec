package format

import (
	"log/slog"
	"time"

	"grouplog/internal/metrics"
	"grouplog/pkg/chatlog"
)

const (
	// DefaultWorkers bounds concurrent message formatting within a batch.
	DefaultWorkers = 8
	// DefaultLookupTimeout bounds every individual remote call.
	DefaultLookupTimeout = 5 * time.Second
	// DefaultMaxRetries bounds retries of transient remote failures.
	DefaultMaxRetries = 3
	// DefaultInitialBackoff is the first retry delay.
	DefaultInitialBackoff = 100 * time.Millisecond
	// DefaultMaxBackoff caps a single retry delay.
	DefaultMaxBackoff = 2 * time.Second
	// MaxReplyDepth bounds quoted reply chains.
	MaxReplyDepth = 32
	// MaxForwardDepth bounds forwards nested inside forwards.
	MaxForwardDepth = 32
)

// Option mutates formatting configuration.
type Option func(*settings)

type settings struct {
	logger          *slog.Logger
	metrics         *metrics.Collectors
	remote          chatlog.RemoteLookup
	location        *time.Location
	workers         int
	lookupTimeout   time.Duration
	maxRetries      int
	initialBackoff  time.Duration
	maxBackoff      time.Duration
	maxReplyDepth   int
	maxForwardDepth int
}

func newSettings(options []Option) settings {
	cfg := settings{
		logger:          slog.Default(),
		location:        time.Local,
		workers:         DefaultWorkers,
		lookupTimeout:   DefaultLookupTimeout,
		maxRetries:      DefaultMaxRetries,
		initialBackoff:  DefaultInitialBackoff,
		maxBackoff:      DefaultMaxBackoff,
		maxReplyDepth:   MaxReplyDepth,
		maxForwardDepth: MaxForwardDepth,
	}
	for _, option := range options {
		option(&cfg)
	}

	return cfg
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *settings) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithMetrics records resolution tiers and remote calls.
func WithMetrics(collectors *metrics.Collectors) Option {
	return func(cfg *settings) {
		cfg.metrics = collectors
	}
}

// WithRemote enables the remote fallback tier.
func WithRemote(remote chatlog.RemoteLookup) Option {
	return func(cfg *settings) {
		cfg.remote = remote
	}
}

// WithLocation sets the time zone timestamps render in.
func WithLocation(location *time.Location) Option {
	return func(cfg *settings) {
		if location != nil {
			cfg.location = location
		}
	}
}

// WithWorkers bounds concurrent message formatting within one batch.
func WithWorkers(workers int) Option {
	return func(cfg *settings) {
		if workers > 0 {
			cfg.workers = workers
		}
	}
}

// WithLookupTimeout bounds each remote call attempt.
func WithLookupTimeout(timeout time.Duration) Option {
	return func(cfg *settings) {
		if timeout > 0 {
			cfg.lookupTimeout = timeout
		}
	}
}

// WithRetry configures the transient failure retry policy. maxRetries of
// zero disables retries.
func WithRetry(maxRetries int, initial time.Duration, maxInterval time.Duration) Option {
	return func(cfg *settings) {
		if maxRetries >= 0 {
			cfg.maxRetries = maxRetries
		}
		if initial > 0 {
			cfg.initialBackoff = initial
		}
		if maxInterval > 0 {
			cfg.maxBackoff = maxInterval
		}
	}
}

// WithMaxReplyDepth bounds how many quoted ancestors are rendered.
func WithMaxReplyDepth(depth int) Option {
	return func(cfg *settings) {
		if depth > 0 {
			cfg.maxReplyDepth = depth
		}
	}
}

// WithMaxForwardDepth bounds forward nesting.
func WithMaxForwardDepth(depth int) Option {
	return func(cfg *settings) {
		if depth > 0 {
			cfg.maxForwardDepth = depth
		}
	}
}
