package app

import (
	"net"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"pewsched/internal/config"
	"pewsched/internal/observability/pprof"
	"pewsched/internal/storage"
	"pewsched/internal/task/engine"
	logx "pewsched/pkg/logx"
)

const defaultStopTimeout = 5 * time.Second

// ValidateConfig checks every section the daemon maps. It never starts anything.
func ValidateConfig(cfg *config.Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if _, err := mapEngineConfig(cfg); err != nil {
		return err
	}
	if _, err := mapStopTimeout(cfg); err != nil {
		return err
	}
	if _, err := mapDebugConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapTasks(cfg); err != nil {
		return err
	}
	return nil
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

// mapEngineConfig leaves zero values for engine defaults. Negative pool
// capacity disables the pool; negative warn rate removes the limit.
func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	sc := cfg.Scheduler
	if sc.HistorySize < 0 {
		return engine.Config{}, errors.New("scheduler.history_size must be >= 0")
	}
	slow, err := config.ParseDurationField("scheduler.slow_task", sc.SlowTask)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		PoolCapacity: sc.PoolCapacity,
		WarnRate:     sc.WarnRatePerSec,
		HistorySize:  sc.HistorySize,
		SlowTask:     slow,
	}, nil
}

func mapStopTimeout(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("scheduler.stop_timeout", cfg.Scheduler.StopTimeout, defaultStopTimeout)
}

// mapDebugConfig validates and converts the debug section.
func mapDebugConfig(cfg *config.Config) (pprof.Config, error) {
	dc := cfg.Debug
	out := pprof.Config{
		Enabled:       dc.Enabled,
		AllowInsecure: dc.AllowInsecure,
		Token:         strings.TrimSpace(dc.Token),
		Addr:          strings.TrimSpace(dc.Addr),
		Prefix:        strings.TrimSpace(dc.Prefix),
	}
	if out.Addr == "" {
		out.Addr = "127.0.0.1:6060"
	}

	var err error
	if out.ReadTimeout, err = config.ParseDurationOrDefault("debug.read_timeout", dc.ReadTimeout, 5*time.Second); err != nil {
		return out, err
	}
	if out.WriteTimeout, err = config.ParseDurationField("debug.write_timeout", dc.WriteTimeout); err != nil {
		return out, err
	}
	if out.IdleTimeout, err = config.ParseDurationOrDefault("debug.idle_timeout", dc.IdleTimeout, 120*time.Second); err != nil {
		return out, err
	}

	if dc.MutexProfileFraction < 0 {
		return out, errors.New("debug.mutex_profile_fraction must be >= 0")
	}
	if dc.BlockProfileRate < 0 {
		return out, errors.New("debug.block_profile_rate must be >= 0")
	}
	out.MutexProfileFraction = dc.MutexProfileFraction
	out.BlockProfileRate = dc.BlockProfileRate

	if out.Enabled {
		host, _, err := net.SplitHostPort(out.Addr)
		if err != nil {
			return out, errors.Wrapf(err, "debug.addr: invalid %q (expected host:port)", out.Addr)
		}
		public := host == "" || (!strings.EqualFold(host, "localhost") && !isLoopbackIP(host))
		if public && out.Token == "" && !out.AllowInsecure {
			return out, errors.New("debug: binding to non-loopback addr requires token or allow_insecure=true")
		}
	}
	return out, nil
}

func isLoopbackIP(h string) bool {
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}

// mapStorageConfig reports enabled=false for a missing section or driver "none".
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	if sc.Retain < 0 {
		return storage.Config{}, false, errors.New("storage.retain must be >= 0")
	}
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		return storage.Config{}, false, errors.Newf("storage.path is required when storage.driver=%s", driver)
	}

	switch driver {
	case "file":
		return storage.Config{Driver: driver, Path: path, Retain: sc.Retain}, true, nil
	case "sqlite", "sqlite3":
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy, Retain: sc.Retain}, true, nil
	default:
		return storage.Config{}, false, errors.Newf("unknown storage.driver: %s", sc.Driver)
	}
}

// StorageConfig maps the storage section for tools that read the journal
// outside the daemon.
func StorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	return mapStorageConfig(cfg)
}
