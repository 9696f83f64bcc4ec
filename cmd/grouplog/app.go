package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"grouplog/internal/cache"
	"grouplog/internal/config"
	"grouplog/internal/driver"
	"grouplog/internal/format"
	"grouplog/internal/ingest"
	"grouplog/internal/metrics"
	"grouplog/internal/store"
	"grouplog/pkg/chatlog"
)

const (
	remoteReadyTimeout = 15 * time.Second
	remoteReadyPoll    = 50 * time.Millisecond
)

// app holds the components shared by every command.
type app struct {
	configPath string
	cfg        config.Config
	level      *slog.LevelVar
	logger     *slog.Logger
	metrics    *metrics.Collectors
	caches     *cache.Set
	store      *store.Store
	registry   *driver.Registry
}

func newApp(configPath string, logOutput io.Writer) (*app, error) {
	path, err := config.ResolvePath(configPath)
	if err != nil {
		return nil, fmt.Errorf("resolve config: %w", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	registry, err := driver.NewBuiltinRegistry()
	if err != nil {
		return nil, fmt.Errorf("new builtin driver registry: %w", err)
	}
	for _, definition := range cfg.EnabledDrivers() {
		if !registry.Supports(definition.Type) {
			return nil, fmt.Errorf("validate config file %s: drivers[%s].type: unsupported type %s",
				path, definition.Name, definition.Type)
		}
	}

	level := new(slog.LevelVar)
	level.Set(cfg.LogLevel)
	logger := slog.New(slog.NewJSONHandler(logOutput, &slog.HandlerOptions{Level: level}))
	collectors := metrics.New()

	caches, err := cache.NewSet(cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("new cache set: %w", err)
	}
	logger.Debug("caches ready",
		"name_capacity", caches.Names.Capacity(),
		"message_capacity", caches.Messages.Capacity(),
	)
	logStore, err := store.New(
		cfg.DataDir,
		store.WithLogger(logger),
		store.WithMetrics(collectors),
		store.WithLocation(cfg.Location),
	)
	if err != nil {
		return nil, fmt.Errorf("new store: %w", err)
	}

	return &app{
		configPath: path,
		cfg:        cfg,
		level:      level,
		logger:     logger,
		metrics:    collectors,
		caches:     caches,
		store:      logStore,
		registry:   registry,
	}, nil
}

// remote builds the first enabled driver runtime.
func (a *app) remote(ctx context.Context) (driver.Runtime, error) {
	runtimes, err := a.registry.BuildEnabled(ctx, a.cfg.Drivers, a.logger)
	if err != nil {
		return driver.Runtime{}, fmt.Errorf("build drivers: %w", err)
	}
	if len(runtimes) == 0 {
		return driver.Runtime{}, errors.New("no enabled driver configured")
	}
	if len(runtimes) > 1 {
		a.logger.WarnContext(ctx, "multiple drivers enabled, using the first",
			"driver", runtimes[0].Name,
			"enabled", len(runtimes),
		)
	}

	return runtimes[0], nil
}

// startRemote runs runtime in the background until it is ready. The
// returned stop func cancels it and waits for it to exit.
func (a *app) startRemote(ctx context.Context, runtime driver.Runtime) (func() error, error) {
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- runtime.Run(runCtx)
	}()
	stop := func() error {
		cancel()
		return <-done
	}

	if runtime.Ready == nil {
		return stop, nil
	}

	deadline := time.NewTimer(remoteReadyTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(remoteReadyPoll)
	defer ticker.Stop()
	for !runtime.Ready() {
		select {
		case <-ctx.Done():
			_ = stop()
			return nil, ctx.Err()
		case <-deadline.C:
			_ = stop()
			return nil, fmt.Errorf("driver %s not ready after %s", runtime.Name, remoteReadyTimeout)
		case <-ticker.C:
		}
	}

	return stop, nil
}

func (a *app) newFormatter(remote chatlog.RemoteLookup) (*format.Formatter, error) {
	options := []format.Option{
		format.WithLogger(a.logger),
		format.WithMetrics(a.metrics),
		format.WithLocation(a.cfg.Location),
		format.WithWorkers(a.cfg.Format.Workers),
		format.WithLookupTimeout(a.cfg.Format.LookupTimeout),
		format.WithRetry(a.cfg.Format.MaxRetries, a.cfg.Format.InitialBackoff, a.cfg.Format.MaxBackoff),
		format.WithMaxReplyDepth(a.cfg.Format.MaxReplyDepth),
		format.WithMaxForwardDepth(a.cfg.Format.MaxForwardDepth),
	}
	if remote != nil {
		options = append(options, format.WithRemote(remote))
	}

	formatter, err := format.New(a.caches, options...)
	if err != nil {
		return nil, fmt.Errorf("new formatter: %w", err)
	}

	return formatter, nil
}

func (a *app) newIngest(formatter *format.Formatter, syncCount int) (*ingest.Service, error) {
	if syncCount <= 0 {
		syncCount = a.cfg.SyncCount
	}

	service, err := ingest.New(
		formatter,
		a.store,
		ingest.WithLogger(a.logger),
		ingest.WithMetrics(a.metrics),
		ingest.WithHistory(formatter.Resolver()),
		ingest.WithMaxHistory(a.cfg.MaxHistory),
		ingest.WithSyncCount(syncCount),
	)
	if err != nil {
		return nil, fmt.Errorf("new ingest service: %w", err)
	}

	return service, nil
}

// reloadHandler applies the hot-reloadable subset of cfg.
func (a *app) reloadHandler(service *ingest.Service) config.ChangeHandler {
	return func(cfg config.Config) {
		if previous := a.level.Level(); previous != cfg.LogLevel {
			a.level.Set(cfg.LogLevel)
			a.logger.Info("log level updated", "previous", previous.String(), "current", cfg.LogLevel.String())
		}
		service.SetMaxHistory(cfg.MaxHistory)
	}
}

// serve runs the driver, the trigger consumer, the config watcher and the
// optional metrics endpoint until ctx is canceled.
func (a *app) serve(ctx context.Context) error {
	runtime, err := a.remote(ctx)
	if err != nil {
		return err
	}
	formatter, err := a.newFormatter(runtime.Lookup)
	if err != nil {
		return err
	}
	service, err := a.newIngest(formatter, 0)
	if err != nil {
		return err
	}
	watcher, err := config.NewWatcher(a.configPath, a.reloadHandler(service), config.WithWatcherLogger(a.logger))
	if err != nil {
		return fmt.Errorf("new config watcher: %w", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := runtime.Run(groupCtx); err != nil {
			return fmt.Errorf("run driver %s: %w", runtime.Name, err)
		}
		return nil
	})
	if runtime.Triggers != nil {
		group.Go(func() error {
			return service.Run(groupCtx, runtime.Triggers)
		})
	}
	group.Go(func() error {
		return watcher.Run(groupCtx)
	})
	if address := a.cfg.Metrics.Address; address != "" {
		group.Go(func() error {
			return metrics.Serve(groupCtx, address, a.metrics, a.logger)
		})
	}

	a.logger.InfoContext(ctx, "grouplog serving",
		"driver", runtime.Name,
		"data_dir", a.store.Dir(),
		"max_history", service.MaxHistory(),
	)

	return waitGroup(ctx, group, a.cfg.ShutdownTimeout)
}

// waitGroup waits for group, bounding the wait to timeout once ctx ends.
func waitGroup(ctx context.Context, group *errgroup.Group, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- group.Wait()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("shutdown timed out after %s", timeout)
	}
}
