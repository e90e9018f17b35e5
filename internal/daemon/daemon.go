// Package daemon wires the catalog service's collaborators (store,
// event bus, bundle cache, job runtime, executor, scheduler, trigger
// processor, materializer, telemetry) into a running process and
// exposes the HTTP control plane, mirroring the ordered
// construct/start/drain lifecycle of a long-running service daemon.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/flowforge/catalog/internal/config"
	"github.com/flowforge/catalog/internal/daemon/api"
	"github.com/flowforge/catalog/internal/materializer"
	"github.com/flowforge/catalog/internal/scheduler"
	"github.com/flowforge/catalog/internal/trigger"
	"github.com/flowforge/catalog/pkg/catalog/bundle"
	"github.com/flowforge/catalog/pkg/catalog/eventbus"
	"github.com/flowforge/catalog/pkg/catalog/executor"
	"github.com/flowforge/catalog/pkg/catalog/jobruntime"
	"github.com/flowforge/catalog/pkg/catalog/model"
	"github.com/flowforge/catalog/pkg/catalog/sandbox"
	"github.com/flowforge/catalog/pkg/catalog/store"
	"github.com/flowforge/catalog/pkg/catalog/telemetry"
)

// Options carries build metadata surfaced on /v1/version.
type Options struct {
	Version   string
	Commit    string
	BuildDate string
}

// Daemon is the assembled catalog service: every collaborator plus the
// HTTP listener and its graceful lifecycle.
type Daemon struct {
	cfg  *config.Config
	opts Options

	logger *slog.Logger
	store  store.RecordStore
	bus    eventbus.Bus

	bundleCache *bundle.Cache
	runtime     *jobruntime.Runtime
	executor    *executor.Executor
	scheduler   *scheduler.Scheduler
	trigger     *trigger.Processor
	materializer *materializer.Materializer
	telemetry   *telemetry.Provider

	server   *http.Server
	listener net.Listener

	unsubscribes []func()

	mu      sync.Mutex
	started bool
}

// New assembles a Daemon from cfg without starting any background
// work; call Start to bring it up.
func New(cfg *config.Config, opts Options, logger *slog.Logger) (*Daemon, error) {
	if logger == nil {
		logger = slog.Default()
	}

	recordStore, err := newStore(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	bus := eventbus.NewInMemoryBus()

	tp, err := telemetry.Setup(telemetry.Config{
		Enabled:        cfg.Observability.Enabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		Sampling:       cfg.Observability.Sampling,
		Exporters:      cfg.Observability.Exporters,
	})
	if err != nil {
		return nil, fmt.Errorf("setup telemetry: %w", err)
	}
	metrics := tp.Metrics()

	resolver, err := newSecretResolver()
	if err != nil {
		return nil, fmt.Errorf("setup secret resolver: %w", err)
	}
	resolveSecret := resolveSecretRef(resolver)

	bundleCache, err := newBundleCache(cfg.Bundle, logger)
	if err != nil {
		return nil, fmt.Errorf("setup bundle cache: %w", err)
	}

	sandboxRunner := sandbox.NewRunner(logger)
	logSandboxAvailability(context.Background(), logger)

	rt := &jobruntime.Runtime{
		Store:         recordStore,
		Handlers:      map[string]jobruntime.Handler{},
		Bundles:       &storeBundleResolver{store: recordStore},
		Cache:         bundleCache,
		Sandbox:       sandboxRunner,
		ResolveSecret: resolveSecret,
		Logger:        logger,
	}

	exec := &executor.Executor{
		Store:       recordStore,
		Bus:         bus,
		JobRuntime:  rt,
		Services:    newStaticServiceDirectory(cfg.Services),
		HTTP:        &http.Client{Timeout: 30 * time.Second},
		Resolve:     resolveSecret,
		Logger:      logger,
		Metrics:     metrics,
		Concurrency: cfg.Executor.Concurrency,
	}

	d := &Daemon{
		cfg:         cfg,
		opts:        opts,
		logger:      logger,
		store:       recordStore,
		bus:         bus,
		bundleCache: bundleCache,
		runtime:     rt,
		executor:    exec,
		telemetry:   tp,
	}

	d.scheduler = scheduler.New(scheduler.Config{
		Store:         recordStore,
		Dispatch:      d.dispatch,
		Logger:        logger,
		Metrics:       metrics,
		Interval:      cfg.Scheduler.Interval,
		MaxWindows:    cfg.Scheduler.MaxWindows,
		AdvisoryLocks: cfg.Scheduler.AdvisoryLocks,
		LockTTL:       cfg.Scheduler.LockTTL,
	})

	d.trigger = trigger.New(trigger.Config{
		Store:    recordStore,
		Dispatch: d.dispatch,
		Logger:   logger,
		Metrics:  metrics,
	})

	d.materializer = materializer.New(materializer.Config{
		Store:    recordStore,
		Dispatch: d.dispatch,
		Logger:   logger,
	})

	return d, nil
}

// newStore selects a RecordStore backend by cfg.Backend ("memory" or
// "sqlite").
func newStore(cfg config.StoreConfig) (store.RecordStore, error) {
	switch cfg.Backend {
	case "", "memory":
		return store.NewMemoryStore(), nil
	case "sqlite":
		return store.NewSQLiteStore(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// newBundleCache builds the bundle cache and its configured artifact
// storage backends (local filesystem, and S3 when cfg.S3Bucket is set).
func newBundleCache(cfg config.BundleConfig, logger *slog.Logger) (*bundle.Cache, error) {
	cacheDir := cfg.CacheDir
	if cacheDir == "" {
		dir, err := config.ConfigDir()
		if err != nil {
			return nil, err
		}
		cacheDir = dir + "/bundles"
	}
	if err := os.MkdirAll(cacheDir, 0o700); err != nil {
		return nil, fmt.Errorf("create bundle cache dir: %w", err)
	}

	localRoot := cfg.LocalRoot
	if localRoot == "" {
		localRoot = cacheDir + "/artifacts"
	}

	backends := map[model.ArtifactStorage]bundle.ArtifactStorage{
		model.ArtifactStorageLocal: &bundle.LocalStorage{Root: localRoot},
	}

	if cfg.S3Bucket != "" {
		s3Storage, err := bundle.NewS3Storage(context.Background(), cfg.S3Bucket, cfg.S3Region, cfg.S3Endpoint, cfg.S3Endpoint != "")
		if err != nil {
			return nil, fmt.Errorf("create s3 artifact storage: %w", err)
		}
		backends[model.ArtifactStorageS3] = s3Storage
	}

	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 32
	}

	return bundle.New(bundle.Config{
		StorageRoot: cacheDir,
		MaxEntries:  maxEntries,
		Logger:      logger,
	}, backends), nil
}

// dispatch hands a workflow run off to the executor, running it in its
// own goroutine so the scheduler/trigger/materializer enqueue path never
// blocks on execution.
func (d *Daemon) dispatch(ctx context.Context, workflowRunID string) {
	go func() {
		runCtx := context.Background()
		if _, err := d.executor.Run(runCtx, workflowRunID); err != nil {
			d.logger.Error("workflow run failed", "run_id", workflowRunID, "error", err)
		}
	}()
}

// buildRouter assembles the HTTP router and registers every handler
// group.
func (d *Daemon) buildRouter() *api.Router {
	tracer := d.telemetry.Tracer("catalog.daemon")
	router := api.NewRouter(api.RouterConfig{
		Version:   d.opts.Version,
		Commit:    d.opts.Commit,
		BuildDate: d.opts.BuildDate,
	}, tracer, d.logger)

	if d.cfg.Observability.Enabled {
		router.SetMetricsHandler(d.telemetry)
	}

	runs := &api.RunsHandler{Store: d.store, Dispatch: func(runID string) {
		d.dispatch(context.Background(), runID)
	}}
	runs.RegisterRoutes(router.Mux())

	schedules := &api.SchedulesHandler{Store: d.store}
	schedules.RegisterRoutes(router.Mux())

	events := &api.EventsHandler{Bus: d.bus}
	events.RegisterRoutes(router.Mux())

	definitions := &api.DefinitionsHandler{Store: d.store}
	definitions.RegisterRoutes(router.Mux())

	return router
}

// Start brings the daemon fully up: subscribes the trigger processor and
// materializer to the event bus, starts the scheduler, and serves the
// HTTP control plane until ctx is canceled.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return fmt.Errorf("daemon already started")
	}
	d.started = true
	d.mu.Unlock()

	d.unsubscribes = append(d.unsubscribes, d.trigger.Subscribe(d.bus, d.cfg.Trigger.EventTypes...))
	d.unsubscribes = append(d.unsubscribes, d.materializer.Subscribe(d.bus))

	if d.cfg.Scheduler.Enabled {
		d.scheduler.Start(ctx)
	}

	router := d.buildRouter()

	listener, err := d.listen()
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	d.listener = listener

	d.server = &http.Server{Handler: router}

	errCh := make(chan error, 1)
	go func() {
		if err := d.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	d.logger.Info("catalog daemon started", "addr", listener.Addr().String())

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func (d *Daemon) listen() (net.Listener, error) {
	if d.cfg.Listen.SocketPath != "" {
		_ = os.Remove(d.cfg.Listen.SocketPath)
		return net.Listen("unix", d.cfg.Listen.SocketPath)
	}
	addr := d.cfg.Listen.Addr
	if addr == "" {
		addr = "127.0.0.1:8090"
	}
	return net.Listen("tcp", addr)
}

// Shutdown drains the daemon in order: stop accepting new scheduler
// ticks, unsubscribe event-driven collaborators, drain the HTTP server,
// then flush telemetry.
func (d *Daemon) Shutdown(ctx context.Context) error {
	drainTimeout := d.cfg.DrainTimeout
	if drainTimeout <= 0 {
		drainTimeout = 30 * time.Second
	}
	drainCtx, cancel := context.WithTimeout(ctx, drainTimeout)
	defer cancel()

	if d.cfg.Scheduler.Enabled {
		d.scheduler.Stop()
	}

	for _, unsub := range d.unsubscribes {
		unsub()
	}

	if d.server != nil {
		if err := d.server.Shutdown(drainCtx); err != nil {
			d.logger.Warn("http server shutdown did not complete cleanly", "error", err)
		}
	}

	if d.cfg.Listen.SocketPath != "" {
		_ = os.Remove(d.cfg.Listen.SocketPath)
	}

	if err := d.telemetry.Shutdown(drainCtx); err != nil {
		d.logger.Warn("telemetry shutdown did not complete cleanly", "error", err)
	}

	d.logger.Info("catalog daemon stopped")
	return nil
}

// logSandboxAvailability reports which sandbox.Factory implementations
// this host can run, so an operator can tell from the boot log alone
// whether job steps will execute under container isolation or the
// degraded process-level fallback.
func logSandboxAvailability(ctx context.Context, logger *slog.Logger) {
	types := sandbox.GetAvailableSandboxTypes(ctx)
	logger.Info("sandbox availability",
		"docker", types[sandbox.TypeDocker],
		"fallback", types[sandbox.TypeFallback],
	)
}
