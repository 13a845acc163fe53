package scheduler

import (
	"context"
	"strings"
	"time"
)

// Policy selects how a continuing entry computes its next fire time.
type Policy int

const (
	// PolicyFixed reschedules with the interval given to Add, ignoring Result.Next.
	PolicyFixed Policy = iota
	// PolicyDynamic reschedules with the Result.Next returned by the task.
	PolicyDynamic
)

func (p Policy) String() string {
	switch p {
	case PolicyFixed:
		return "fixed"
	case PolicyDynamic:
		return "dynamic"
	default:
		return "unknown"
	}
}

func (p Policy) valid() bool { return p == PolicyFixed || p == PolicyDynamic }

// ParsePolicy maps "fixed" or "dynamic" (case-insensitive) to a Policy.
func ParsePolicy(s string) (Policy, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fixed", "":
		return PolicyFixed, true
	case "dynamic":
		return PolicyDynamic, true
	default:
		return PolicyFixed, false
	}
}

// Result is what a task reports after running.
//
// Continue=false retires the entry. Next is only read under PolicyDynamic;
// values below zero are treated as zero.
type Result struct {
	Continue bool
	Next     time.Duration
}

// Done retires the entry.
func Done() Result { return Result{} }

// Again asks for another run after next (used by PolicyDynamic).
func Again(next time.Duration) Result { return Result{Continue: true, Next: next} }

// Task is a unit of scheduled work.
//
// Execute may call Add or Delete on the scheduler running it. A panic inside
// Execute is recovered and counts as Done.
type Task interface {
	Execute(ctx context.Context) Result
}

// Releaser is implemented by tasks that own resources. Release is called
// exactly once, when the entry leaves the scheduler for good (retired, deleted
// or dropped by Destroy). It is never called with the scheduler lock held.
type Releaser interface {
	Release()
}

// Namer lets a task label itself in dumps, logs and the journal.
type Namer interface {
	Name() string
}

// TaskFunc adapts a plain function to Task.
type TaskFunc func(ctx context.Context) Result

func (f TaskFunc) Execute(ctx context.Context) Result { return f(ctx) }

// NewPayloadTask binds a payload to run. The entry owns the payload: release
// (optional) is called once when the entry retires. A payload must not be
// shared between entries; copy it first.
func NewPayloadTask[T any](payload T, run func(context.Context, T) Result, release func(T)) Task {
	return &payloadTask[T]{payload: payload, run: run, release: release}
}

// NewNamedTask is NewPayloadTask with a label for dumps and logs.
func NewNamedTask[T any](name string, payload T, run func(context.Context, T) Result, release func(T)) Task {
	return &payloadTask[T]{name: name, payload: payload, run: run, release: release}
}

type payloadTask[T any] struct {
	name    string
	payload T
	run     func(context.Context, T) Result
	release func(T)
}

func (t *payloadTask[T]) Execute(ctx context.Context) Result {
	if t.run == nil {
		return Done()
	}
	return t.run(ctx, t.payload)
}

func (t *payloadTask[T]) Release() {
	if t.release != nil {
		t.release(t.payload)
	}
	var zero T
	t.payload = zero
}

func (t *payloadTask[T]) Name() string { return t.name }

func taskName(t Task) string {
	if n, ok := t.(Namer); ok {
		if name := n.Name(); name != "" {
			return name
		}
	}
	return "-"
}

func releaseTask(t Task) {
	if r, ok := t.(Releaser); ok {
		r.Release()
	}
}
