// Package engine drives a scheduler: it owns the single dispatch actor that
// runs the Wait/Dispatch cycle, supervised and restarted on failure, and keeps
// a short history of recent fires for diagnostics.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"pewsched/internal/eventbus"
	rtsup "pewsched/internal/runtime/supervisor"
	"pewsched/internal/task/scheduler"
	logx "pewsched/pkg/logx"
)

type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	sched *scheduler.Scheduler
	sup   *rtsup.Supervisor

	started bool
	stopped bool

	sweeps    atomic.Uint64
	lastSweep atomic.Int64

	hist *history
}

// New creates the engine and its scheduler. bus may be nil, in which case a
// private one is created for the history recorder.
func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	cfg = cfg.withDefaults()
	if bus == nil {
		bus = eventbus.New()
	}
	s := &Service{
		cfg:  cfg,
		log:  log,
		bus:  bus,
		hist: newHistory(cfg.HistorySize),
	}
	s.sched = scheduler.New(
		scheduler.WithLogger(log.With(logx.String("comp", "scheduler"))),
		scheduler.WithBus(bus),
		scheduler.WithPoolCapacity(cfg.PoolCapacity),
		scheduler.WithWarnRate(cfg.WarnRate),
	)
	return s
}

// Scheduler returns the scheduler driven by this engine. Producers add and
// delete entries on it directly.
func (s *Service) Scheduler() *scheduler.Scheduler { return s.sched }

// Supervisor returns the engine supervisor (nil before Start).
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

// Apply updates settings that can change at runtime.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	s.mu.Unlock()

	if prev.PoolCapacity != cfg.PoolCapacity {
		s.sched.SetPoolCapacity(cfg.PoolCapacity)
		s.log.Info("pool capacity changed", logx.Int("from", prev.PoolCapacity), logx.Int("to", cfg.PoolCapacity))
	}
	s.hist.resize(cfg.HistorySize)
}

// Start launches the dispatch actor. An engine cannot be restarted once stopped.
func (s *Service) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if s.started {
		s.mu.Unlock()
		return ErrRunning
	}
	s.started = true
	cfg := s.cfg
	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "taskengine"))),
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	s.mu.Unlock()

	events, unsub := s.bus.Subscribe(256)
	sup.Go("history", func(ctx context.Context) error {
		defer unsub()
		s.record(ctx, events)
		return nil
	})
	sup.GoRestart("dispatch", s.dispatchLoop,
		rtsup.WithRestartBackoff(cfg.RestartMin, cfg.RestartMax),
		rtsup.WithPublishFirstError(true),
	)

	s.log.Info("task engine started", logx.Int("pool_capacity", cfg.PoolCapacity))
	return nil
}

// Stop destroys the scheduler (waking the dispatcher and releasing queued
// tasks) and waits for the engine goroutines, bounded by ctx.
func (s *Service) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	sup := s.sup
	s.mu.Unlock()

	pending := s.sched.Len()
	err := s.sched.Destroy(ctx)
	if sup != nil {
		err = errors.CombineErrors(err, sup.Stop(ctx))
	}
	if err != nil {
		s.log.Warn("task engine stop incomplete", logx.Err(err))
		return err
	}
	s.log.Info("task engine stopped", logx.Int("released", pending))
	return nil
}

// dispatchLoop is the single dispatch actor.
func (s *Service) dispatchLoop(ctx context.Context) error {
	for {
		if _, err := s.sched.Wait(ctx); err != nil {
			if errors.Is(err, scheduler.ErrClosed) {
				return nil
			}
			return err
		}
		n, err := s.sched.Dispatch(ctx)
		s.sweeps.Add(1)
		s.lastSweep.Store(time.Now().UnixNano())
		if err != nil {
			if errors.Is(err, scheduler.ErrClosed) {
				return nil
			}
			return err
		}
		s.log.Trace("sweep", logx.Int("fired", n))
	}
}

// Snapshot returns engine and scheduler diagnostics.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	running := s.started && !s.stopped
	sup := s.sup
	s.mu.Unlock()

	snap := Snapshot{
		Running: running,
		Sweeps:  s.sweeps.Load(),
		Stats:   s.sched.Stats(),
		Entries: s.sched.Snapshot(),
		History: s.hist.items(),
	}
	if ns := s.lastSweep.Load(); ns > 0 {
		snap.LastSweep = time.Unix(0, ns)
	}
	if sup != nil {
		snap.Supervisor = sup.Snapshot()
	}
	return snap
}
