// Package metrics exposes Prometheus collectors for message resolution,
// remote lookups, log persistence, and ingestion.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "grouplog"

// Resolution kinds.
const (
	KindMention = "mention"
	KindReply   = "reply"
	KindForward = "forward"
)

// Resolution tiers.
const (
	TierCache      = "cache"
	TierBatch      = "batch"
	TierRemote     = "remote"
	TierNegative   = "negative"
	TierUnresolved = "unresolved"
	TierCycle      = "cycle"
	TierTooDeep    = "too_deep"
)

// Call and operation outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
	OutcomeDropped  = "dropped"
)

// Collectors bundles the process metrics. A nil *Collectors is valid and
// records nothing, so components can take it as an optional dependency.
type Collectors struct {
	registry *prometheus.Registry

	resolutions   *prometheus.CounterVec
	remoteCalls   *prometheus.CounterVec
	remoteLatency *prometheus.HistogramVec
	saves         *prometheus.CounterVec
	savedMessages *prometheus.CounterVec
	syncs         *prometheus.CounterVec
	formatPanics  prometheus.Counter
}

// New creates collectors registered on a fresh registry.
func New() *Collectors {
	c := &Collectors{
		registry: prometheus.NewRegistry(),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_total",
			Help:      "Reference resolutions by kind and the tier that answered.",
		}, []string{"kind", "tier"}),
		remoteCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_calls_total",
			Help:      "Remote lookup calls by action and outcome.",
		}, []string{"action", "outcome"}),
		remoteLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remote_call_duration_seconds",
			Help:      "Remote lookup call latency including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		}, []string{"action"}),
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "log_saves_total",
			Help:      "Group log saves by outcome.",
		}, []string{"outcome"}),
		savedMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "log_messages_total",
			Help:      "Messages handled by group log saves by result.",
		}, []string{"result"}),
		syncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "syncs_total",
			Help:      "Group sync requests by outcome.",
		}, []string{"outcome"}),
		formatPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "format_panics_total",
			Help:      "Messages degraded after a recovered formatting panic.",
		}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.resolutions,
		c.remoteCalls,
		c.remoteLatency,
		c.saves,
		c.savedMessages,
		c.syncs,
		c.formatPanics,
	)

	return c
}

// Registry returns the underlying registry.
func (c *Collectors) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}

	return c.registry
}

// ObserveResolution counts one resolution answered by tier.
func (c *Collectors) ObserveResolution(kind string, tier string) {
	if c == nil {
		return
	}
	c.resolutions.WithLabelValues(kind, tier).Inc()
}

// ObserveRemoteCall counts one remote call and records its latency.
func (c *Collectors) ObserveRemoteCall(action string, outcome string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.remoteCalls.WithLabelValues(action, outcome).Inc()
	c.remoteLatency.WithLabelValues(action).Observe(elapsed.Seconds())
}

// ObserveSave counts one group log save and its per-message results.
func (c *Collectors) ObserveSave(outcome string, added int, skipped int, dropped int) {
	if c == nil {
		return
	}
	c.saves.WithLabelValues(outcome).Inc()
	c.savedMessages.WithLabelValues("added").Add(float64(added))
	c.savedMessages.WithLabelValues("skipped").Add(float64(skipped))
	c.savedMessages.WithLabelValues("dropped").Add(float64(dropped))
}

// ObserveSync counts one sync request.
func (c *Collectors) ObserveSync(outcome string) {
	if c == nil {
		return
	}
	c.syncs.WithLabelValues(outcome).Inc()
}

// ObserveFormatPanic counts one recovered formatting panic.
func (c *Collectors) ObserveFormatPanic() {
	if c == nil {
		return
	}
	c.formatPanics.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collectors) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}

	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on address until ctx is canceled.
func Serve(ctx context.Context, address string, c *Collectors, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	server := &http.Server{
		Addr:              address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("metrics listen %s: %w", address, err)
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(listener)
	}()
	logger.InfoContext(ctx, "metrics endpoint listening", "address", listener.Addr().String())

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics shutdown: %w", err)
	}
	if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics serve: %w", err)
	}

	return nil
}
