package config

// Config is the schedd configuration file, JSON or YAML.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Debug     DebugConfig     `json:"debug,omitempty"`

	// Storage enables the dispatch journal. Nil means disabled.
	Storage *StorageConfig `json:"storage,omitempty"`

	// Tasks are registered once at startup. Edits are reported on reload but
	// only take effect after a restart.
	Tasks []TaskConfig `json:"tasks,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the scheduler and its dispatch engine.
//
// Defaults (when fields are omitted/zero):
//   - pool_capacity: 128 (negative disables the pool)
//   - warn_rate_per_sec: 5 (negative means unlimited)
//   - history_size: 200
//   - slow_task: "750ms"
//   - stop_timeout: "5s"
type SchedulerConfig struct {
	PoolCapacity   int     `json:"pool_capacity,omitempty"`
	WarnRatePerSec float64 `json:"warn_rate_per_sec,omitempty"`
	HistorySize    int     `json:"history_size,omitempty"`
	SlowTask       string  `json:"slow_task,omitempty"`
	StopTimeout    string  `json:"stop_timeout,omitempty"`
}

// DebugConfig controls the optional debug HTTP server (pprof, metrics, queue).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default: "127.0.0.1:6060"
	Prefix        string `json:"prefix,omitempty"` // default: "/debug/pprof/"
	Token         string `json:"token,omitempty"`  // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// WriteTimeout defaults to 0 (disabled) so /profile works.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	// Runtime profiling rates. Leave 0 to keep Go defaults.
	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
}

// StorageConfig controls the dispatch journal.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./schedd.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
	Retain      int    `json:"retain,omitempty"`
}

// TaskConfig declares a demo task that logs each run.
//
//   - policy "fixed" reruns every delay; "dynamic" reruns after next.
//   - retries bounds the number of runs; 0 means once, negative means unlimited.
//   - stop_after makes the task itself ask to stop after that many runs.
type TaskConfig struct {
	Name      string `json:"name"`
	Delay     string `json:"delay"`
	Policy    string `json:"policy,omitempty"`
	Next      string `json:"next,omitempty"`
	Retries   int    `json:"retries,omitempty"`
	StopAfter int    `json:"stop_after,omitempty"`
	Payload   string `json:"payload,omitempty"`
}
