// Package pool composes the endpoint pool daemon: network monitor, registry,
// prober, discovery engine, router, durable store, scheduled jobs, and the
// diagnostics HTTP server.
package pool

import (
	"context"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/kachat-network/nodepool/pkg/config"
	"github.com/kachat-network/nodepool/pkg/discovery"
	"github.com/kachat-network/nodepool/pkg/logging"
	"github.com/kachat-network/nodepool/pkg/netmon"
	"github.com/kachat-network/nodepool/pkg/persist"
	nodepool "github.com/kachat-network/nodepool/pkg/pool"
	"github.com/kachat-network/nodepool/pkg/prober"
	"github.com/kachat-network/nodepool/pkg/router"
	"github.com/kachat-network/nodepool/pkg/rpc"
	"github.com/kachat-network/nodepool/pkg/seeds"
)

// App wires the pool components together and owns their lifecycles.
type App struct {
	Config    config.Config
	Logger    *zap.Logger
	Monitor   *netmon.Monitor
	Registry  *nodepool.Registry
	Prober    *prober.Prober
	Discovery *discovery.Engine
	Router    *router.Router
	Store     persist.Store

	Cron   *cron.Cron
	Server *http.Server

	// flushCh coalesces persist requests from quarantine transitions; the
	// drain goroutine in Start does the actual save.
	flushCh chan struct{}
}

// Initialize builds the app from configuration: restores persisted records,
// plants seeds, and wires epoch resets into the registry.
func Initialize(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New()
	if err != nil {
		return nil, err
	}

	network := nodepool.Network(cfg.Network)
	monitor := netmon.NewMonitor(logger)
	registry := nodepool.NewRegistry(logger, nodepool.RegistryOpts{
		MaxRecords:   cfg.Pool.MaxRecords,
		ActiveTarget: cfg.Pool.ActiveTarget,
	})

	store, err := newStore(ctx, cfg, logger)
	if err != nil {
		// The pool operates from memory when the durable store is down.
		logger.Warn("durable store unavailable, continuing in memory", zap.Error(err))
		store = persist.NewMemoryStore()
	}
	if records, loadErr := store.Load(ctx); loadErr != nil {
		logger.Warn("failed to restore persisted records", zap.Error(loadErr))
	} else if n := persist.Restore(registry, records); n > 0 {
		logger.Info("restored persisted records", zap.Int("count", n))
	}

	planted := seeds.Plant(registry, network)
	logger.Info("seed endpoints planted", zap.Int("count", planted), zap.String("network", cfg.Network))

	client := rpc.NewHTTPWithOpts(rpc.Opts{})
	prb := prober.New(registry, client, monitor, logger, prober.Opts{
		Burst:       cfg.Probe.Burst,
		RefillEvery: cfg.Probe.Refill(),
		Workers:     cfg.Probe.Workers,
	})
	disc := discovery.New(registry, client, monitor, logger, network)
	rtr := router.New(registry, client, monitor, prb, prb.Cooldown(), logger)

	monitor.OnChange(func(epoch int64, online bool) {
		registry.OnEpochChange(epoch)
	})

	// Quarantine transitions are the state changes most worth surviving a
	// restart, so they trigger a save immediately rather than waiting for
	// the next cron flush.
	flushCh := make(chan struct{}, 1)
	registry.OnQuarantineChange(func() {
		select {
		case flushCh <- struct{}{}:
		default:
		}
	})

	app := &App{
		Config:    cfg,
		Logger:    logger,
		Monitor:   monitor,
		Registry:  registry,
		Prober:    prb,
		Discovery: disc,
		Router:    rtr,
		Store:     store,
		flushCh:   flushCh,
	}
	if err := app.setupScheduler(ctx); err != nil {
		return nil, err
	}
	app.setupServer()
	return app, nil
}

func newStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (persist.Store, error) {
	if cfg.Persist.Backend == "redis" {
		return persist.NewRedisStore(ctx, logger)
	}
	return persist.NewMemoryStore(), nil
}

// setupScheduler registers the periodic jobs: discovery rounds and
// persistence flushes.
func (a *App) setupScheduler(ctx context.Context) error {
	a.Cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cron.DefaultLogger)))

	if _, err := a.Cron.AddFunc(a.Config.Discovery.CronSpec, func() {
		rctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if a.Discovery.Needed() {
			a.Discovery.Discover(rctx)
		}
	}); err != nil {
		return err
	}

	if _, err := a.Cron.AddFunc(a.Config.Persist.CronSpec, func() {
		rctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		a.Flush(rctx)
	}); err != nil {
		return err
	}

	return nil
}

// Flush persists the current registry contents. Persist failure is never
// fatal; the pool keeps operating from memory.
func (a *App) Flush(ctx context.Context) {
	records := a.Registry.All(nil)
	if err := a.Store.Save(ctx, records); err != nil {
		a.Logger.Warn("persist failed", zap.Int("records", len(records)), zap.Error(err))
		return
	}
	a.Logger.Debug("persisted registry", zap.Int("records", len(records)))
}

// Start runs the prober loop, cron jobs, and diagnostics server until ctx is
// cancelled, then flushes once more and shuts down.
func (a *App) Start(ctx context.Context) {
	a.Cron.Start()
	go a.Prober.Run(ctx)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-a.flushCh:
				fctx, cancel := context.WithTimeout(ctx, 15*time.Second)
				a.Flush(fctx)
				cancel()
			}
		}
	}()

	go func() {
		a.Logger.Info("diagnostics server listening", zap.String("addr", a.Server.Addr))
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.Error("diagnostics server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.Flush(sctx)
	_ = a.Server.Shutdown(sctx)
	a.Cron.Stop()
	_ = a.Store.Close()
	a.Logger.Info("pool stopped")
}
