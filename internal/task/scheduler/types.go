package scheduler

import (
	"sync"
	"time"

	"pewsched/internal/eventbus"
	"pewsched/internal/timeval"
	logx "pewsched/pkg/logx"
)

// DefaultPoolCapacity is the number of retired entry shells kept for reuse.
const DefaultPoolCapacity = 128

// DefaultWarnRate bounds clock anomaly warnings per second.
const DefaultWarnRate = 5.0

// lookAhead batches entries due within this window into one sweep.
var lookAhead = timeval.FromMillis(1)

// Event types published on the bus.
const (
	EventEntryAdded       = "entry.added"
	EventEntryFired       = "entry.fired"
	EventEntryRescheduled = "entry.rescheduled"
	EventEntryRetired     = "entry.retired"
	EventEntryDeleted     = "entry.deleted"
)

// EntryEvent is the Data of every entry.* bus event.
type EntryEvent struct {
	ID       int64         `json:"id"`
	Name     string        `json:"name,omitempty"`
	Policy   string        `json:"policy"`
	Retries  int           `json:"retries"`
	FireAt   time.Time     `json:"fire_at,omitempty"`
	Took     time.Duration `json:"took,omitempty"`
	Continue bool          `json:"continue,omitempty"`
	Panicked bool          `json:"panicked,omitempty"`
}

// Options configures a Scheduler.
type Options struct {
	Logger       logx.Logger
	Bus          eventbus.Bus
	PoolCapacity int
	WarnRate     float64
}

// Option mutates Options.
type Option func(*Options)

// WithLogger sets the logger. The zero Logger discards everything.
func WithLogger(log logx.Logger) Option {
	return func(o *Options) { o.Logger = log }
}

// WithBus publishes entry lifecycle events to bus.
func WithBus(bus eventbus.Bus) Option {
	return func(o *Options) { o.Bus = bus }
}

// WithPoolCapacity bounds the entry pool. Negative values are clamped to 0.
func WithPoolCapacity(n int) Option {
	return func(o *Options) { o.PoolCapacity = n }
}

// WithWarnRate bounds clock anomaly warnings per second (<= 0: unlimited).
func WithWarnRate(perSec float64) Option {
	return func(o *Options) { o.WarnRate = perSec }
}

// Scheduler is the scheduling context: the ordered queue, the entry pool and
// the id counter, guarded by one mutex.
type Scheduler struct {
	mu sync.Mutex

	q      queue
	pool   pool
	nextID int64
	sweep  uint64

	issued  uint64
	fired   uint64
	retired uint64
	deleted uint64
	panics  uint64
	closed  bool

	// wake holds at most one pending signal; Add never blocks on it.
	wake chan struct{}
	// stop is closed by Destroy.
	stop     chan struct{}
	stopOnce sync.Once
	// dispatch is a 1-slot semaphore held by Wait and Dispatch.
	dispatch chan struct{}

	log  logx.Logger
	bus  eventbus.Bus
	calc *timeval.Calc
	now  func() timeval.Timeval
}

type entry struct {
	id       int64
	fireAt   timeval.Timeval
	policy   Policy
	interval time.Duration
	retries  int
	task     Task

	// sweep is the last sweep that fired this entry.
	sweep uint64
}

// Stats is a point-in-time view of the counters.
type Stats struct {
	Queued  int    `json:"queued"`
	Issued  uint64 `json:"issued"`
	Fired   uint64 `json:"fired"`
	Retired uint64 `json:"retired"`
	Deleted uint64 `json:"deleted"`
	Panics  uint64 `json:"panics"`
	Pooled  int    `json:"pooled"`
	PoolCap int    `json:"pool_cap"`
	Closed  bool   `json:"closed"`
}

// EntryInfo describes one queued entry.
type EntryInfo struct {
	ID        int64         `json:"id"`
	Name      string        `json:"name"`
	Policy    string        `json:"policy"`
	Interval  time.Duration `json:"interval"`
	Retries   int           `json:"retries"`
	FireAt    time.Time     `json:"fire_at"`
	Remaining time.Duration `json:"remaining"`
}
