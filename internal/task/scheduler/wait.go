package scheduler

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"pewsched/internal/timeval"
)

// Wait blocks until at least one entry is due and then returns 0. The caller
// is expected to call Dispatch next.
//
// With an empty queue Wait sleeps until an Add. Otherwise it sleeps until the
// head is due; an Add of an earlier entry wakes it to re-evaluate. It returns
// ErrClosed once Destroy is called and ctx.Err() when ctx ends.
//
// Wait and Dispatch share a dispatcher slot: a second concurrent caller waits
// for the first to return.
func (s *Scheduler) Wait(ctx context.Context) (int, error) {
	if s == nil {
		return -1, errors.Wrap(ErrInvalidArgument, "nil scheduler")
	}
	if err := s.acquire(ctx); err != nil {
		return -1, err
	}
	defer s.releaseDispatch()

	for {
		ms, ok := s.untilHead()
		if s.stopping() {
			return -1, ErrClosed
		}
		if ok && ms <= 0 {
			return 0, nil
		}

		var (
			timer  *time.Timer
			expire <-chan time.Time
		)
		if ok {
			// ms is rounded down, so after ms the head is inside the
			// look-ahead window.
			timer = time.NewTimer(time.Duration(ms) * time.Millisecond)
			expire = timer.C
		}

		select {
		case <-s.wake:
		case <-expire:
		case <-s.stop:
			stopTimer(timer)
			return -1, ErrClosed
		case <-ctx.Done():
			stopTimer(timer)
			return -1, ctx.Err()
		}
		stopTimer(timer)
	}
}

// Next reports the milliseconds until the head entry is due (0 or less means
// due now) or -1 when nothing is queued. It never blocks.
func (s *Scheduler) Next() int64 {
	ms, ok := s.untilHead()
	if !ok {
		return -1
	}
	if ms < 0 {
		return 0
	}
	return ms
}

func (s *Scheduler) untilHead() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	head := s.q.head()
	if head == nil {
		return 0, false
	}
	return timeval.DiffMillis(head.fireAt, s.now()), true
}

func (s *Scheduler) acquire(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.stopping() {
		return ErrClosed
	}
	select {
	case s.dispatch <- struct{}{}:
		if s.stopping() {
			<-s.dispatch
			return ErrClosed
		}
		return nil
	case <-s.stop:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) releaseDispatch() { <-s.dispatch }

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
