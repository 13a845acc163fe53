package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"pewsched/internal/eventbus"
	"pewsched/internal/timeval"
	logx "pewsched/pkg/logx"
)

// New creates an empty scheduler. Ids start at 1.
func New(opts ...Option) *Scheduler {
	o := Options{PoolCapacity: DefaultPoolCapacity, WarnRate: DefaultWarnRate}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	s := &Scheduler{
		q:        newQueue(),
		pool:     newPool(o.PoolCapacity),
		nextID:   1,
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		dispatch: make(chan struct{}, 1),
		log:      o.Logger,
		bus:      o.Bus,
		calc:     timeval.NewCalc(o.Logger, o.WarnRate),
	}
	s.now = timeval.Now
	return s
}

// Add queues task to fire after delay and returns its id.
//
// Under PolicyFixed, delay is also the interval between runs and must be at
// least one millisecond; it is truncated to whole milliseconds. Under
// PolicyDynamic the next delay comes from the task's Result. retries is the
// number of runs allowed: negative means unlimited and 0 is treated as 1.
//
// On error the id is -1 and nothing was queued.
func (s *Scheduler) Add(delay time.Duration, task Task, policy Policy, retries int) (int64, error) {
	if s == nil {
		return -1, errors.Wrap(ErrInvalidArgument, "nil scheduler")
	}
	if task == nil {
		return -1, errors.Wrap(ErrInvalidArgument, "nil task")
	}
	if !policy.valid() {
		return -1, errors.Wrapf(ErrInvalidArgument, "unknown policy %d", int(policy))
	}
	if policy == PolicyFixed {
		ms := delay.Milliseconds()
		if ms <= 0 {
			return -1, errors.Wrapf(ErrInvalidArgument, "fixed interval must be at least 1ms, got %s", delay)
		}
		delay = time.Duration(ms) * time.Millisecond
	}
	if retries == 0 {
		retries = 1
	}

	s.mu.Lock()
	if s.stopping() {
		s.mu.Unlock()
		return -1, ErrClosed
	}
	e := s.pool.get()
	e.id = s.nextID
	s.nextID++
	s.issued++
	e.policy = policy
	e.interval = delay
	e.retries = retries
	e.task = task
	e.fireAt = s.fireTimeLocked(delay)
	s.q.insert(e)
	ev := s.eventLocked(e)
	s.mu.Unlock()

	s.notify()
	s.publish(EventEntryAdded, ev)

	if s.log.Enabled(logx.LevelDebug) {
		var b strings.Builder
		_ = s.Dump(&b)
		s.log.Debug("entry added",
			logx.Int64("id", ev.ID),
			logx.String("name", ev.Name),
			logx.String("policy", ev.Policy),
			logx.Duration("delay", delay),
			logx.Int("retries", retries),
			logx.String("queue", b.String()),
		)
	}
	return ev.ID, nil
}

// AddFunc is Add for a plain function.
func (s *Scheduler) AddFunc(delay time.Duration, fn func(ctx context.Context) Result, policy Policy, retries int) (int64, error) {
	if fn == nil {
		return -1, errors.Wrap(ErrInvalidArgument, "nil func")
	}
	return s.Add(delay, TaskFunc(fn), policy, retries)
}

// Schedule queues a dynamic task with an unlimited budget: it runs until it
// returns Done or is deleted.
func (s *Scheduler) Schedule(delay time.Duration, task Task) (int64, error) {
	return s.Add(delay, task, PolicyDynamic, -1)
}

// Delete cancels a queued entry and releases its task. An entry that a sweep
// is currently executing cannot be deleted and reports ErrNotFound.
func (s *Scheduler) Delete(id int64) error {
	if s == nil {
		return errors.Wrap(ErrInvalidArgument, "nil scheduler")
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	e := s.q.remove(id)
	if e == nil {
		s.mu.Unlock()
		return errors.Wrapf(ErrNotFound, "id %d", id)
	}
	s.deleted++
	ev := s.eventLocked(e)
	task := e.task
	s.pool.put(e)
	s.mu.Unlock()

	releaseTask(task)
	s.publish(EventEntryDeleted, ev)
	s.log.Debug("entry deleted", logx.Int64("id", id), logx.String("name", ev.Name))
	return nil
}

// Destroy stops the scheduler. A blocked Wait returns ErrClosed. Destroy then
// waits for the dispatcher to go idle, or for ctx to end, in which case the
// ctx error is returned and queued entries are left untouched. Once idle,
// every queued task is released and retired, and the pool is emptied.
//
// Calling Destroy from inside a task blocks until ctx ends, since the running
// sweep cannot go idle.
func (s *Scheduler) Destroy(ctx context.Context) error {
	if s == nil {
		return errors.Wrap(ErrInvalidArgument, "nil scheduler")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s.stopOnce.Do(func() { close(s.stop) })

	select {
	case s.dispatch <- struct{}{}:
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "scheduler: waiting for dispatcher")
	}
	defer func() { <-s.dispatch }()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	drained := s.q.drain()
	s.retired += uint64(len(drained))
	s.pool.reset()
	events := make([]EntryEvent, len(drained))
	for i, e := range drained {
		events[i] = s.eventLocked(e)
	}
	s.mu.Unlock()

	for i, e := range drained {
		releaseTask(e.task)
		e.task = nil
		s.publish(EventEntryRetired, events[i])
	}
	s.log.Debug("scheduler destroyed", logx.Int("released", len(drained)))
	return nil
}

// SetPoolCapacity changes the pool bound, trimming retained shells at once.
func (s *Scheduler) SetPoolCapacity(n int) {
	s.mu.Lock()
	s.pool.setCap(n)
	s.mu.Unlock()
}

// Len returns the number of queued entries.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.len()
}

// Stats returns the current counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Queued:  s.q.len(),
		Issued:  s.issued,
		Fired:   s.fired,
		Retired: s.retired,
		Deleted: s.deleted,
		Panics:  s.panics,
		Pooled:  s.pool.len(),
		PoolCap: s.pool.cap,
		Closed:  s.closed,
	}
}

// WhenRemaining returns the whole seconds until id fires, computed on the
// seconds fields only. It returns -1 and ErrNotFound if id is not queued.
func (s *Scheduler) WhenRemaining(id int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.q.get(id)
	if e == nil {
		return -1, errors.Wrapf(ErrNotFound, "id %d", id)
	}
	return e.fireAt.Sec - s.now().Sec, nil
}

// Done is closed once Destroy has been called.
func (s *Scheduler) Done() <-chan struct{} { return s.stop }

func (s *Scheduler) stopping() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

func (s *Scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// fireTimeLocked returns now+offset, never earlier than now.
func (s *Scheduler) fireTimeLocked(offset time.Duration) timeval.Timeval {
	return s.nextFireTimeLocked(s.now(), offset)
}

// nextFireTimeLocked returns prev+offset, never earlier than now.
func (s *Scheduler) nextFireTimeLocked(prev timeval.Timeval, offset time.Duration) timeval.Timeval {
	now := s.now()
	at := s.calc.Add(prev, timeval.FromDuration(offset))
	if timeval.Before(at, now) {
		return now
	}
	return at
}

func (s *Scheduler) eventLocked(e *entry) EntryEvent {
	return EntryEvent{
		ID:      e.id,
		Name:    taskName(e.task),
		Policy:  e.policy.String(),
		Retries: e.retries,
		FireAt:  e.fireAt.Time(),
	}
}

func (s *Scheduler) publish(typ string, ev EntryEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}
