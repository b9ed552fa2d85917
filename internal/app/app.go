// Package app wires the tracker's components together and owns their
// lifecycle. Nothing here is ambient: every component is constructed
// explicitly and handed its dependencies, so tests can assemble the same
// pipeline around fakes.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"retrotrack/internal/config"
	"retrotrack/internal/diff"
	"retrotrack/internal/dispatch"
	"retrotrack/internal/eventbus"
	"retrotrack/internal/poll"
	"retrotrack/internal/raapi"
	"retrotrack/internal/sink"
	"retrotrack/internal/storage"
	logx "retrotrack/pkg/logx"
	"retrotrack/pkg/metrics"
)

type App struct {
	cfgm *config.Manager

	logs *logx.Service
	log  logx.Logger
	bus  eventbus.Bus
	m    *metrics.Metrics

	store  storage.Store
	budget *raapi.Budget
	client *raapi.Client

	engine *diff.Engine
	disp   *dispatch.Dispatcher
	poller *poll.Service

	metricsSrv *http.Server

	bgCancel context.CancelFunc
	bgDone   chan struct{}
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(logSvc.Logger().With(logx.String("comp", "config")))

	bus := eventbus.New()
	m := metrics.New()

	storeCfg, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storeCfg, logSvc.Logger().With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", storeCfg.Driver))

	budgetCfg, err := mapBudgetConfig(cfg)
	if err != nil {
		return nil, err
	}
	budget := raapi.NewBudget(budgetCfg, logSvc.Logger().With(logx.String("comp", "budget")), m)

	clientCfg, err := mapClientConfig(cfg)
	if err != nil {
		return nil, err
	}
	client := raapi.NewClient(clientCfg, budget, raapi.NewCache(),
		logSvc.Logger().With(logx.String("comp", "raapi")), m)

	snk, err := buildSink(cfg, logSvc)
	if err != nil {
		return nil, err
	}

	dispCfg, err := mapDispatchConfig(cfg)
	if err != nil {
		return nil, err
	}
	disp := dispatch.New(dispCfg, snk, store,
		logSvc.Logger().With(logx.String("comp", "dispatch")), bus)

	diffCfg, err := mapDiffConfig(cfg)
	if err != nil {
		return nil, err
	}
	emit := func(ctx context.Context, ev diff.Event) {
		m.EventEmitted(string(ev.Kind))
		disp.Dispatch(ctx, ev)
	}
	engine := diff.NewEngine(diffCfg, client, store, diff.NewSnapshotStore(), emit,
		logSvc.Logger().With(logx.String("comp", "diff")), bus)

	pollCfg, err := mapPollConfig(cfg)
	if err != nil {
		return nil, err
	}
	poller := poll.New(pollCfg, engine.RunRankCycle, engine.RunAwardCycle,
		logSvc.Logger().With(logx.String("comp", "poll")), bus)

	a := &App{
		cfgm:   cfgm,
		logs:   logSvc,
		log:    log,
		bus:    bus,
		m:      m,
		store:  store,
		budget: budget,
		client: client,
		engine: engine,
		disp:   disp,
		poller: poller,
	}
	if cfg.Metrics.Enabled {
		addr := cfg.Metrics.Addr
		if addr == "" {
			addr = "127.0.0.1:9190"
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		a.metricsSrv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	}
	return a, nil
}

func (a *App) Start(ctx context.Context) error {
	bgCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.bgCancel = cancel
	a.bgDone = make(chan struct{})

	a.budget.Start(ctx)
	a.poller.Start(ctx)

	if a.metricsSrv != nil {
		go func() {
			if err := a.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Warn("metrics server exited", logx.Err(err))
			}
		}()
		a.log.Info("metrics server listening", logx.String("addr", a.metricsSrv.Addr))
	}

	go a.background(bgCtx)

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	a.log.Info("started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	a.poller.Stop(ctx)
	a.budget.Stop()

	if a.bgCancel != nil {
		a.bgCancel()
		select {
		case <-a.bgDone:
		case <-ctx.Done():
		}
	}
	if a.metricsSrv != nil {
		shCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
		_ = a.metricsSrv.Shutdown(shCtx)
		cancel()
	}
	if a.store != nil {
		_ = a.store.Close()
	}

	a.log.Info("stopped")
	_ = a.logs.Close()
	return nil
}

// PollNow triggers one out-of-band cycle ("rank" or "award").
func (a *App) PollNow(job string) bool { return a.poller.PollNow(job) }

// background runs the config watcher and the bus->metrics bridge until Stop.
func (a *App) background(ctx context.Context) {
	defer close(a.bgDone)

	updates := a.cfgm.Subscribe(2)
	defer a.cfgm.Unsubscribe(updates)

	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		if err := a.cfgm.Watch(ctx); err != nil {
			a.log.Warn("config watch unavailable", logx.Err(err))
		}
	}()

	events, unsub := a.bus.Subscribe(64)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			<-watchDone
			return
		case cfg := <-updates:
			if cfg != nil {
				a.applyConfig(cfg)
			}
		case ev := <-events:
			a.observe(ev)
		}
	}
}

// applyConfig pushes hot-reloadable policy into the running components.
// Structural settings (storage driver, base URL, timers) need a restart.
func (a *App) applyConfig(cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	if diffCfg, err := mapDiffConfig(cfg); err == nil {
		a.engine.Apply(diffCfg)
	} else {
		a.log.Warn("diff config rejected", logx.Err(err))
	}
	if dispCfg, err := mapDispatchConfig(cfg); err == nil {
		a.disp.Apply(dispCfg)
	} else {
		a.log.Warn("dispatch config rejected", logx.Err(err))
	}

	cacheTTL, err1 := config.ParseDurationField("api.cache_ttl", cfg.API.CacheTTL)
	volatileTTL, err2 := config.ParseDurationField("api.volatile_cache_ttl", cfg.API.VolatileCacheTTL)
	if err1 == nil && err2 == nil {
		a.client.ApplyTTLs(cacheTTL, volatileTTL)
	}

	a.log.Info("policy config applied")
}

func (a *App) observe(ev eventbus.Event) {
	switch ev.Type {
	case eventbus.TypeCycleDone:
		if r, ok := ev.Data.(poll.CycleReport); ok {
			a.m.ObserveCycle(r.Took.Seconds())
		}
	case eventbus.TypeDiffInconsistent:
		if entity, ok := ev.Data.(string); ok {
			a.m.InconsistentFetch(entity)
		}
	case eventbus.TypeDispatchSent:
		a.m.NotificationSent()
	case eventbus.TypeDispatchThrottled:
		a.m.NotificationThrottled()
	case eventbus.TypeDispatchDuplicate:
		a.m.NotificationDuplicate()
	case eventbus.TypeDispatchFailed:
		a.m.NotificationFailed()
	}
}

func buildSink(cfg *config.Config, logs *logx.Service) (sink.Sink, error) {
	var sinks []sink.Sink
	if cfg.Sinks.Log {
		sinks = append(sinks, sink.NewLogSink(logs.Logger().With(logx.String("comp", "sink"))))
	}
	if len(cfg.Sinks.Webhooks) > 0 {
		retries := cfg.Sinks.WebhookRetryMax
		if retries == 0 {
			retries = 2
		}
		sinks = append(sinks, sink.NewWebhook(cfg.Sinks.Webhooks, retries,
			logs.Logger().With(logx.String("comp", "webhook"))))
	}
	if len(sinks) == 0 {
		return nil, errors.New("no sinks configured: enable sinks.log or add sinks.webhooks")
	}
	return sink.NewRouter(sinks...), nil
}
