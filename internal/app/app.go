// Package app wires the schedd daemon: config, logging, journal storage, the
// dispatch engine, metrics and the debug server.
package app

import (
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/google/uuid"

	"pewsched/internal/config"
	"pewsched/internal/eventbus"
	"pewsched/internal/observability/metrics"
	"pewsched/internal/observability/pprof"
	rtsup "pewsched/internal/runtime/supervisor"
	"pewsched/internal/storage"
	"pewsched/internal/task/engine"
	"pewsched/internal/task/scheduler"
	logx "pewsched/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	runID string

	engine  *engine.Service
	metrics *metrics.Metrics
	debug   *pprof.Service

	tasks []taskSpec

	// stopTimeout bounds the engine stop step; hot-reloadable.
	stopTimeout atomic.Int64

	notify func(state string)

	stopOnce sync.Once
}

// Snapshot is what /snapshot serves.
type Snapshot struct {
	RunID  string          `json:"run_id"`
	Engine engine.Snapshot `json:"engine"`
}

// New loads and validates cfgPath and builds every component. Nothing runs
// until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	runID := uuid.NewString()
	log = log.With(logx.String("run_id", runID))

	engCfg, _ := mapEngineConfig(cfg)
	stopTimeout, _ := mapStopTimeout(cfg)
	debugCfg, _ := mapDebugConfig(cfg)
	tasks, _ := mapTasks(cfg)

	var store storage.Store
	if sc, enabled, _ := mapStorageConfig(cfg); enabled {
		store, err = storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			_ = logSvc.Close()
			return nil, err
		}
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	bus := eventbus.New()
	eng := engine.New(engCfg, log.With(logx.String("comp", "taskengine")), bus)

	a := &App{
		cfgm:    cfgm,
		log:     log.With(logx.String("comp", "app")),
		logs:    logSvc,
		bus:     bus,
		store:   store,
		runID:   runID,
		engine:  eng,
		metrics: metrics.New(eng.Scheduler(), bus),
		tasks:   tasks,
	}
	a.stopTimeout.Store(int64(stopTimeout))
	a.notify = sdNotifier(a.log.With(logx.String("comp", "systemd")))
	a.debug = pprof.New(debugCfg, log.With(logx.String("comp", "debug")), a.routes())
	return a, nil
}

func (a *App) RunID() string { return a.runID }

func (a *App) Scheduler() *scheduler.Scheduler { return a.engine.Scheduler() }

// DebugAddr is the bound debug server address, or "".
func (a *App) DebugAddr() string { return a.debug.Addr() }

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Snapshot() Snapshot {
	return Snapshot{RunID: a.runID, Engine: a.engine.Snapshot()}
}

func (a *App) routes() pprof.Routes {
	r := pprof.Routes{
		Health: func() error {
			if a.engine.Scheduler().Stats().Closed {
				return errors.New("scheduler closed")
			}
			return a.Err()
		},
		Metrics:  a.metrics.Handler(),
		Dump:     func(w io.Writer) error { return a.engine.Scheduler().Dump(w) },
		Snapshot: func() any { return a.Snapshot() },
	}
	if a.store != nil {
		r.Journal = func(ctx context.Context, limit int) (any, error) {
			return a.store.RecentJournal(ctx, limit)
		}
	}
	return r
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(a.log),
		rtsup.WithCancelOnError(true),
	)
	sctx := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return ValidateConfig(cfg)
	})

	if a.store != nil {
		j := &journal{store: a.store, runID: a.runID, log: a.log.With(logx.String("comp", "journal"))}
		events, unsub := eventbus.SubscribePrefix(a.bus, 512, "entry.")
		a.sup.Go("journal", func(c context.Context) error {
			defer unsub()
			j.run(c, events)
			return nil
		})
	}

	fired, unsub := eventbus.SubscribePrefix(a.bus, 256, scheduler.EventEntryFired)
	a.sup.Go("metrics", func(c context.Context) error {
		defer unsub()
		a.metrics.Run(c, fired)
		return nil
	})

	if err := a.engine.Start(sctx); err != nil {
		return err
	}
	if _, err := registerTasks(a.engine.Scheduler(), a.tasks, a.log.With(logx.String("comp", "tasks"))); err != nil {
		return err
	}

	debugCfg, _ := mapDebugConfig(a.cfgm.Get())
	if err := a.debug.Reconfigure(sctx, debugCfg); err != nil {
		return err
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.notify(daemon.SdNotifyReady)
	a.log.Info("app started", logx.Int("tasks", len(a.tasks)))
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts.
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					drained = true
				}
			}
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// applyConfig hot-applies logging, engine and debug settings. Storage and task
// changes are reported and wait for a restart.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	a.notify(daemon.SdNotifyReloading)
	defer a.notify(daemon.SdNotifyReady)

	sections, attrs, taskChanged := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	a.logs.Apply(mapLoggingConfig(newCfg))

	if engCfg, err := mapEngineConfig(newCfg); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		a.engine.Apply(engCfg)
	}
	if d, err := mapStopTimeout(newCfg); err == nil {
		a.stopTimeout.Store(int64(d))
	}

	if dc, err := mapDebugConfig(newCfg); err != nil {
		a.log.Warn("invalid debug config; keeping previous", logx.Err(err))
	} else if err := a.debug.Reconfigure(ctx, dc); err != nil {
		a.log.Warn("debug server reconfigure failed", logx.Err(err))
	}

	for _, s := range sections {
		if s == "storage" {
			a.log.Warn("storage config changed; restart required for changes to take effect")
		}
	}
	if len(taskChanged) > 0 {
		a.log.Warn("task list changed; restart required for changes to take effect", logx.Any("tasks", taskChanged))
	}

	a.log.Info("config reloaded", fields...)
}

// Stop shuts every component down in dependency order. Each step is bounded
// so one component cannot stall the whole stop. Safe to call twice.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	var err error
	a.stopOnce.Do(func() { err = a.stop(ctx, reason) })
	return err
}

func (a *App) stop(ctx context.Context, reason StopReason) error {
	a.notify(daemon.SdNotifyStopping)
	a.log.Info("stopping", logx.String("reason", string(reason)))

	var errs error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "stop %s", name))
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	}

	step("debug", time.Second, a.debug.Stop)
	step("taskengine", time.Duration(a.stopTimeout.Load()), a.engine.Stop)
	// Observers drain after the engine so retire events from Destroy land.
	step("supervisor", 2*time.Second, func(c context.Context) error {
		a.sup.Cancel()
		return a.sup.Wait(c)
	})
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped", logx.String("reason", string(reason)))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errs
}
