package config

import (
	"reflect"
	"sort"
	"strings"

	logx "pewsched/pkg/logx"
)

// SummarizeConfigChange returns (1) the sorted list of changed sections,
// (2) safe structured attrs for logging (never includes the debug token),
// and (3) the sorted names of tasks that were added, removed or edited.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(trimLogging(oldCfg.Logging), trimLogging(newCfg.Logging)) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Int("scheduler.pool_capacity", newCfg.Scheduler.PoolCapacity),
			logx.Any("scheduler.warn_rate_per_sec", newCfg.Scheduler.WarnRatePerSec),
			logx.Int("scheduler.history_size", newCfg.Scheduler.HistorySize),
			logx.String("scheduler.stop_timeout", strings.TrimSpace(newCfg.Scheduler.StopTimeout)),
		)
	}

	// Compare with the token reduced to set/unset.
	od, nd := oldCfg.Debug, newCfg.Debug
	tokenChanged := od.Token != nd.Token
	od.Token, nd.Token = "", ""
	if od != nd || tokenChanged {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", newCfg.Debug.Enabled),
			logx.String("debug.addr", strings.TrimSpace(newCfg.Debug.Addr)),
			logx.String("debug.prefix", strings.TrimSpace(newCfg.Debug.Prefix)),
			logx.Bool("debug.token_set", strings.TrimSpace(newCfg.Debug.Token) != ""),
			logx.Bool("debug.allow_insecure", newCfg.Debug.AllowInsecure),
		)
	}

	oldS, newS := derefStorage(oldCfg.Storage), derefStorage(newCfg.Storage)
	if oldS != newS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newS.Driver),
			logx.Bool("storage.path_set", newS.Path != ""),
			logx.String("storage.busy_timeout", newS.BusyTimeout),
			logx.Int("storage.retain", newS.Retain),
		)
	}

	taskChanged := diffTasks(oldCfg.Tasks, newCfg.Tasks)
	if len(taskChanged) > 0 {
		changed = append(changed, "tasks")
		attrs = append(attrs,
			logx.Int("tasks.changed_count", len(taskChanged)),
			logx.Int("tasks.count", len(newCfg.Tasks)),
		)
	}

	sort.Strings(changed)
	return changed, attrs, taskChanged
}

func trimLogging(l LoggingConfig) LoggingConfig {
	l.Level = strings.ToLower(strings.TrimSpace(l.Level))
	l.File.Path = strings.TrimSpace(l.File.Path)
	return l
}

// derefStorage treats nil and driver "none" alike.
func derefStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	out := StorageConfig{
		Driver:      strings.ToLower(strings.TrimSpace(s.Driver)),
		Path:        strings.TrimSpace(s.Path),
		BusyTimeout: strings.TrimSpace(s.BusyTimeout),
		Retain:      s.Retain,
	}
	if out.Driver == "none" {
		out.Driver = ""
	}
	return out
}

func diffTasks(oldT, newT []TaskConfig) []string {
	index := func(ts []TaskConfig) map[string]TaskConfig {
		m := make(map[string]TaskConfig, len(ts))
		for _, t := range ts {
			m[strings.TrimSpace(t.Name)] = t
		}
		return m
	}
	om, nm := index(oldT), index(newT)

	out := make([]string, 0)
	for name, o := range om {
		if n, ok := nm[name]; !ok || n != o {
			out = append(out, name)
		}
	}
	for name := range nm {
		if _, ok := om[name]; !ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
