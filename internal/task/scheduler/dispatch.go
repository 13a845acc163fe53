package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/cockroachdb/errors"

	"pewsched/internal/timeval"
	logx "pewsched/pkg/logx"
)

// Dispatch fires every entry due within the look-ahead window and returns how
// many ran. It never waits for entries that are not yet due.
//
// Each task runs with the lock released. Afterwards a positive budget is
// decremented, then the entry is requeued if the task asked to continue and
// budget remains, and retired otherwise. A requeued entry's next fire time is
// its previous fire time plus the offset, clamped to now, so a slow task does
// not shift the cadence. An entry requeued during this sweep is skipped until
// the next Dispatch; due entries queued behind it still fire in this sweep.
//
// If ctx ends mid-sweep the remaining entries stay queued and ctx.Err() is
// returned along with the count so far.
func (s *Scheduler) Dispatch(ctx context.Context) (int, error) {
	if s == nil {
		return 0, errors.Wrap(ErrInvalidArgument, "nil scheduler")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.acquire(ctx); err != nil {
		return 0, err
	}
	defer s.releaseDispatch()

	s.mu.Lock()
	s.sweep++
	sweep := s.sweep
	s.mu.Unlock()

	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		e := s.popDue(sweep)
		if e == nil {
			return n, nil
		}
		s.fire(ctx, e)
		n++
	}
}

// popDue unlinks the first due entry not yet fired by this sweep.
func (s *Scheduler) popDue(sweep uint64) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	horizon := s.calc.Add(s.now(), lookAhead)
	var due *entry
	s.q.each(func(e *entry) bool {
		if !timeval.Before(e.fireAt, horizon) {
			return false
		}
		if e.sweep == sweep {
			return true
		}
		due = e
		return false
	})
	if due == nil {
		return nil
	}
	s.q.remove(due.id)
	due.sweep = sweep
	return due
}

func (s *Scheduler) fire(ctx context.Context, e *entry) {
	start := time.Now()
	res, panicked := s.run(ctx, e)
	took := time.Since(start)

	s.mu.Lock()
	s.fired++
	if panicked {
		s.panics++
	}
	if e.retries > 0 {
		e.retries--
	}
	fired := s.eventLocked(e)
	fired.Took = took
	fired.Continue = res.Continue
	fired.Panicked = panicked

	if res.Continue && e.retries != 0 {
		offset := e.interval
		if e.policy == PolicyDynamic {
			offset = res.Next
		}
		e.fireAt = s.nextFireTimeLocked(e.fireAt, offset)
		s.q.insert(e)
		next := s.eventLocked(e)
		s.mu.Unlock()

		s.notify()
		s.publish(EventEntryFired, fired)
		s.publish(EventEntryRescheduled, next)
		s.log.Debug("entry rescheduled",
			logx.Int64("id", next.ID),
			logx.String("name", next.Name),
			logx.Duration("offset", offset),
			logx.Int("retries", next.Retries),
		)
		return
	}

	s.retired++
	task := e.task
	s.pool.put(e)
	s.mu.Unlock()

	releaseTask(task)
	s.publish(EventEntryFired, fired)
	s.publish(EventEntryRetired, fired)
	s.log.Debug("entry retired",
		logx.Int64("id", fired.ID),
		logx.String("name", fired.Name),
		logx.Bool("continue", res.Continue),
		logx.Int("retries", fired.Retries),
	)
}

func (s *Scheduler) run(ctx context.Context, e *entry) (res Result, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{}
			panicked = true
			s.log.Error("task panicked",
				logx.Int64("id", e.id),
				logx.String("name", taskName(e.task)),
				logx.String("panic", fmt.Sprint(r)),
				logx.Stack(string(debug.Stack())),
			)
		}
	}()
	return e.task.Execute(ctx), false
}
