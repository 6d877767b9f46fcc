// Package app wires configuration, the tick scheduler, its hooks and the
// supporting services into the heartbeat daemon.
package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"heartbeat/internal/actions"
	"heartbeat/internal/beat"
	"heartbeat/internal/config"
	"heartbeat/internal/cronjobs"
	"heartbeat/internal/diag"
	"heartbeat/internal/eventbus"
	"heartbeat/internal/metrics"
	"heartbeat/internal/observability/httpd"
	"heartbeat/internal/runtime/supervisor"
	"heartbeat/internal/sdnotify"
	"heartbeat/internal/storage"
	"heartbeat/internal/ticksource"
	logx "heartbeat/pkg/logx"
)

const (
	cronSummary = "summary"
	cronPrune   = "prune"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log     logx.Logger
	logs    *logx.Service
	bus     eventbus.Bus
	store   storage.Store
	session string

	sched   *beat.Scheduler
	actions *actions.Registry
	monitor *diag.Monitor
	notify  *sdnotify.Notifier
	cron    *cronjobs.Service
	httpd   *httpd.Service
	reg     *prometheus.Registry

	watchdogEvery time.Duration

	pumpEvery atomic.Int64
	pumpReset chan struct{}

	hmu   sync.Mutex
	hooks map[string]config.HookConfig // user hooks by name

	smu         sync.Mutex
	lastSummary time.Time
}

// NewApp loads the config at cfgPath and builds every component. Hooks are
// registered, but no tick is delivered before Start.
func NewApp(cfgPath string, opts ...Option) (*App, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	var logOpts []logx.Option
	if o.console != nil {
		logOpts = append(logOpts, logx.WithConsoleOutput(o.console))
	}
	logSvc, root := logx.New(mapLogConfig(cfg), logOpts...)
	log := root.With(logx.String("comp", "app"))

	tick, err := cfg.Scheduler.TickPeriodOrDefault()
	if err != nil {
		return nil, err
	}
	pump, err := cfg.Scheduler.PumpIntervalOrDefault()
	if err != nil {
		return nil, err
	}

	src := o.src
	if src == nil {
		src = ticksource.NewTicker(root.With(logx.String("comp", "ticksource")))
	}
	sched := beat.New(src,
		beat.WithCapacity(cfg.Scheduler.CapacityOrDefault()),
		beat.WithTickPeriod(tick),
		beat.WithLogger(root.With(logx.String("comp", "beat"))),
	)
	if err := sched.Init(); err != nil {
		return nil, err
	}

	bus := eventbus.New()
	session := storage.NewSession()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, root.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("session", session))
	}

	maxISR, warnRate := diagSettings(cfg, tick)
	monitor := diag.NewMonitor(sched, bus,
		diag.WithMaxISR(maxISR),
		diag.WithWarnRate(warnRate),
		diag.WithLogger(root.With(logx.String("comp", "diag"))),
	)

	watchdogFn := o.watchdog
	if watchdogFn == nil {
		watchdogFn = sdnotify.WatchdogInterval
	}
	wdEvery, err := watchdogFn()
	if err != nil {
		log.Warn("cannot read systemd watchdog interval", logx.Err(err))
		wdEvery = 0
	}

	a := &App{
		cfgPath:       cfgPath,
		cfgm:          cfgm,
		log:           log,
		logs:          logSvc,
		bus:           bus,
		store:         store,
		session:       session,
		sched:         sched,
		actions:       actions.NewRegistry(o.actions...),
		monitor:       monitor,
		notify:        sdnotify.New(cfg.Systemd.Notify, root.With(logx.String("comp", "sdnotify"))),
		cron:          cronjobs.New(mapCronConfig(cfg), config.CronParser(), root.With(logx.String("comp", "cron"))),
		watchdogEvery: wdEvery,
		pumpReset:     make(chan struct{}, 1),
		hooks:         map[string]config.HookConfig{},
		lastSummary:   time.Now(),
	}
	a.pumpEvery.Store(int64(pump))

	a.reg = prometheus.NewRegistry()
	a.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.NewCollector(metrics.Sources{
			Snapshot:   sched.Snapshot,
			Diag:       monitor.Counters,
			Goroutines: a.goroutineStats,
			BusDropped: bus.Dropped,
		}),
	)
	a.httpd = httpd.New(a.reg, a.health, root.With(logx.String("comp", "httpd")))

	if err := a.checkHooks(cfg); err != nil {
		a.closeStore()
		return nil, fmt.Errorf("%w: %w", config.ErrInvalid, err)
	}
	if err := a.syncBuiltins(cfg); err != nil {
		a.closeStore()
		return nil, err
	}
	if err := a.registerHooks(cfg.Hooks); err != nil {
		a.closeStore()
		return nil, err
	}
	if err := a.cron.Set(a.cronJobs(cfg)); err != nil {
		a.closeStore()
		return nil, err
	}
	return a, nil
}

func (a *App) Scheduler() *beat.Scheduler { return a.sched }

// Gatherer exposes the metrics registry.
func (a *App) Gatherer() prometheus.Gatherer { return a.reg }

// Session is the id stored with every sample and event of this run.
func (a *App) Session() string { return a.session }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return a.checkHooks(cfg)
	})

	a.sup.GoRestart("beat.pump", a.pumpLoop, supervisor.WithRestartBackoff(10*time.Millisecond, time.Second))

	if a.store != nil {
		rec := diag.NewRecorder(a.store, a.session, a.log.With(logx.String("comp", "recorder")))
		events, unsub := a.bus.Subscribe(256)
		a.sup.Go("diag.recorder", func(c context.Context) error {
			defer unsub()
			return rec.Run(c, events)
		})
	}

	// Debug-level event log; components subscribe themselves for real work.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.String("hook", e.Hook), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	cfg := a.cfgm.Get()
	a.cron.Start(a.sup.Context())
	a.httpd.Reconfigure(a.sup.Context(), mapHTTPConfig(cfg))

	if err := a.sched.Start(); err != nil {
		return err
	}
	a.notify.Ready()
	a.notify.Status(fmt.Sprintf("%d hooks, tick %s", a.sched.Len(), a.sched.TickPeriod()))
	a.log.Info("app started", logx.Int("hooks", a.sched.Len()), logx.String("session", a.session))
	return nil
}

// pumpLoop calls Exec every pump interval until ctx is done.
func (a *App) pumpLoop(ctx context.Context) error {
	every := time.Duration(a.pumpEvery.Load())
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-a.pumpReset:
			if d := time.Duration(a.pumpEvery.Load()); d != every {
				every = d
				t.Reset(every)
			}
		case <-t.C:
			a.sched.Exec()
		}
	}
}

func (a *App) setPumpInterval(d time.Duration) {
	if d <= 0 || time.Duration(a.pumpEvery.Swap(int64(d))) == d {
		return
	}
	select {
	case a.pumpReset <- struct{}{}:
	default:
	}
}

func (a *App) watchdogPeriod() int32 {
	return sdnotify.TicksFor(a.watchdogEvery, a.sched.TickPeriod())
}

func (a *App) health() error {
	if !a.sched.Running() {
		return errors.New("scheduler paused")
	}
	return a.Err()
}

func (a *App) goroutineStats() []supervisor.Stats {
	if a.sup == nil {
		return nil
	}
	return a.sup.Stats()
}

func (a *App) cronJobs(cfg *config.Config) []cronjobs.Job {
	return []cronjobs.Job{
		{Name: cronSummary, Spec: cfg.Cron.Summary, Timeout: 10 * time.Second, Run: a.summary},
		{Name: cronPrune, Spec: cfg.Cron.Prune, Timeout: time.Minute, Run: a.prune},
	}
}

// summary logs scheduler state and, with storage, the events recorded since
// the previous summary.
func (a *App) summary(ctx context.Context) error {
	snap := a.sched.Snapshot()
	late := 0
	for _, h := range snap.Hooks {
		if h.Count < 0 {
			late++
		}
	}
	dc := a.monitor.Counters()
	fields := []logx.Field{
		logx.Uint64("global_count", uint64(snap.GlobalCount)),
		logx.Int("hooks", len(snap.Hooks)),
		logx.Int("late", late),
		logx.Duration("isr", snap.InterruptServiceDuration),
		logx.Bool("running", snap.Running),
		logx.Uint64("warnings_total", dc.Warnings),
		logx.Uint64("errors_total", dc.Errors),
		logx.Uint64("overruns_total", dc.Overruns),
	}

	now := time.Now()
	a.smu.Lock()
	since := a.lastSummary
	a.lastSummary = now
	a.smu.Unlock()

	if a.store != nil {
		counts, err := a.store.CountEvents(ctx, since)
		if err != nil {
			return fmt.Errorf("count events: %w", err)
		}
		types := make([]string, 0, len(counts))
		for typ := range counts {
			types = append(types, typ)
		}
		sort.Strings(types)
		for _, typ := range types {
			fields = append(fields, logx.Int("events."+typ, counts[typ]))
		}
	}
	a.log.Info("summary", fields...)
	return nil
}

// prune drops stored records older than storage.retention.
func (a *App) prune(ctx context.Context) error {
	keep := retentionOf(a.cfgm.Get())
	if a.store == nil || keep <= 0 {
		return nil
	}
	n, err := a.store.Prune(ctx, time.Now().Add(-keep))
	if err != nil {
		return fmt.Errorf("prune: %w", err)
	}
	a.log.Info("storage pruned", logx.Int64("removed", n), logx.Duration("retention", keep))
	return nil
}

func (a *App) closeStore() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.notify.Stopping()

	// Stop ticks first so counts freeze at their last value.
	if err := a.sched.Pause(); err != nil {
		a.log.Warn("pause failed", logx.Err(err))
	}
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem < max {
					max = rem
				}
			}
			if max > 0 {
				var cancel context.CancelFunc
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("cron", 2*time.Second, func(c context.Context) error { a.cron.Stop(c); return nil })
	step("httpd", time.Second, func(c context.Context) error { a.httpd.Stop(c); return nil })
	// Wait for supervised goroutines (pump, recorder, config watch/reload).
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	snap := a.sched.Snapshot()
	a.log.Info("stopped", logx.Uint64("global_count", uint64(snap.GlobalCount)), logx.Int("hooks", len(snap.Hooks)))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
