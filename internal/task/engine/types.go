package engine

import (
	"time"

	"github.com/cockroachdb/errors"

	rtsup "pewsched/internal/runtime/supervisor"
	"pewsched/internal/task/scheduler"
)

var (
	ErrStopped = errors.New("task engine stopped")
	ErrRunning = errors.New("task engine already running")
)

// Config controls the dispatch engine.
type Config struct {
	PoolCapacity int
	WarnRate     float64

	// HistorySize bounds the recent-fire ring shown in snapshots.
	HistorySize int

	// SlowTask logs fires that took at least this long at info level.
	SlowTask time.Duration

	RestartMin time.Duration
	RestartMax time.Duration
}

func (c Config) withDefaults() Config {
	if c.PoolCapacity == 0 {
		c.PoolCapacity = scheduler.DefaultPoolCapacity
	}
	if c.WarnRate == 0 {
		c.WarnRate = scheduler.DefaultWarnRate
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	if c.SlowTask <= 0 {
		c.SlowTask = 750 * time.Millisecond
	}
	if c.RestartMin <= 0 {
		c.RestartMin = 250 * time.Millisecond
	}
	if c.RestartMax <= 0 {
		c.RestartMax = 30 * time.Second
	}
	return c
}

// HistoryItem records one fire.
type HistoryItem struct {
	ID       int64         `json:"id"`
	Name     string        `json:"name"`
	At       time.Time     `json:"at"`
	Took     time.Duration `json:"took"`
	Outcome  string        `json:"outcome"`
	Retries  int           `json:"retries"`
	Panicked bool          `json:"panicked,omitempty"`
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Running    bool                     `json:"running"`
	Sweeps     uint64                   `json:"sweeps"`
	LastSweep  time.Time                `json:"last_sweep"`
	Stats      scheduler.Stats          `json:"stats"`
	Entries    []scheduler.EntryInfo    `json:"entries"`
	History    []HistoryItem            `json:"history"`
	Supervisor rtsup.SupervisorSnapshot `json:"supervisor"`
}
