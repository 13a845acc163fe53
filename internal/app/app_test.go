package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pewsched/internal/config"
	"pewsched/internal/eventbus"
	"pewsched/internal/storage"
	"pewsched/internal/task/scheduler"
	logx "pewsched/pkg/logx"
)

func TestValidateConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     config.Config
		wantErr string
	}{
		{name: "empty", cfg: config.Config{}},
		{
			name: "full",
			cfg: config.Config{
				Scheduler: config.SchedulerConfig{PoolCapacity: -1, WarnRatePerSec: -1, StopTimeout: "1s", SlowTask: "10ms"},
				Debug:     config.DebugConfig{Enabled: true, Addr: "localhost:0"},
				Storage:   &config.StorageConfig{Driver: "sqlite", Path: "x.db", BusyTimeout: "2s"},
				Tasks:     []config.TaskConfig{{Name: "a", Delay: "100ms"}},
			},
		},
		{name: "history", cfg: config.Config{Scheduler: config.SchedulerConfig{HistorySize: -1}}, wantErr: "history_size"},
		{name: "stop timeout", cfg: config.Config{Scheduler: config.SchedulerConfig{StopTimeout: "later"}}, wantErr: "stop_timeout"},
		{name: "public debug", cfg: config.Config{Debug: config.DebugConfig{Enabled: true, Addr: "0.0.0.0:6060"}}, wantErr: "non-loopback"},
		{name: "public debug with token", cfg: config.Config{Debug: config.DebugConfig{Enabled: true, Addr: ":6060", Token: "t"}}},
		{name: "bad debug addr", cfg: config.Config{Debug: config.DebugConfig{Enabled: true, Addr: "nope"}}, wantErr: "debug.addr"},
		{name: "storage driver", cfg: config.Config{Storage: &config.StorageConfig{Driver: "postgres", Path: "x"}}, wantErr: "unknown storage.driver"},
		{name: "storage path", cfg: config.Config{Storage: &config.StorageConfig{Driver: "file"}}, wantErr: "storage.path"},
		{name: "storage none", cfg: config.Config{Storage: &config.StorageConfig{Driver: "none"}}},
		{name: "zero fixed delay", cfg: config.Config{Tasks: []config.TaskConfig{{Name: "a"}}}, wantErr: ">= 1ms"},
		{name: "bad policy", cfg: config.Config{Tasks: []config.TaskConfig{{Name: "a", Delay: "1s", Policy: "cron"}}}, wantErr: "policy"},
		{name: "duplicate", cfg: config.Config{Tasks: []config.TaskConfig{{Name: "a", Delay: "1s"}, {Name: "a", Delay: "2s"}}}, wantErr: "duplicate"},
		{name: "unnamed", cfg: config.Config{Tasks: []config.TaskConfig{{Delay: "1s"}}}, wantErr: "name is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateConfig(&tt.cfg)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMapTasks(t *testing.T) {
	t.Parallel()

	specs, err := mapTasks(&config.Config{Tasks: []config.TaskConfig{
		{Name: " once ", Delay: "0s", Policy: "dynamic", Retries: 30},
		{Name: "tick", Delay: "100ms", Retries: -1, StopAfter: 3, Payload: "p"},
	}})
	require.NoError(t, err)
	require.Len(t, specs, 2)

	assert.Equal(t, taskSpec{name: "once", policy: scheduler.PolicyDynamic, retries: 30}, specs[0])
	assert.Equal(t, taskSpec{name: "tick", delay: 100 * time.Millisecond, policy: scheduler.PolicyFixed, retries: -1, stopAfter: 3, payload: "p"}, specs[1])
}

func TestDemoTask(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	st := &demoState{spec: taskSpec{name: "dyn", policy: scheduler.PolicyDynamic, next: 200 * time.Millisecond}, log: logx.Nop()}
	assert.Equal(t, scheduler.Again(200*time.Millisecond), st.run(ctx))

	st = &demoState{spec: taskSpec{name: "last", policy: scheduler.PolicyDynamic}, log: logx.Nop()}
	assert.Equal(t, scheduler.Done(), st.run(ctx))

	st = &demoState{spec: taskSpec{name: "three", policy: scheduler.PolicyFixed, stopAfter: 3}, log: logx.Nop()}
	assert.True(t, st.run(ctx).Continue)
	assert.True(t, st.run(ctx).Continue)
	assert.False(t, st.run(ctx).Continue)
	assert.EqualValues(t, 3, st.runs.Load())

	task := newDemoTask(taskSpec{name: "once", policy: scheduler.PolicyFixed, stopAfter: 1}, logx.Nop())
	assert.Equal(t, scheduler.Done(), task.Execute(ctx))
}

type memStore struct {
	mu   sync.Mutex
	recs []storage.JournalEntry
}

func (m *memStore) AppendJournal(_ context.Context, e storage.JournalEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, e)
	return nil
}

func (m *memStore) RecentJournal(_ context.Context, limit int) ([]storage.JournalEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]storage.JournalEntry(nil), m.recs[max(0, len(m.recs)-limit):]...), nil
}

func (m *memStore) Close() error { return nil }

func TestJournalRecordsEntryEvents(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	events, unsub := eventbus.SubscribePrefix(bus, 16, "entry.")
	defer unsub()

	st := &memStore{}
	j := &journal{store: st, runID: "run-1", log: logx.Nop()}

	now := time.Now()
	bus.Publish(eventbus.Event{Type: scheduler.EventEntryFired, Time: now, Data: scheduler.EntryEvent{ID: 4, Name: "tick", Policy: "fixed", Retries: 2, Took: 3 * time.Millisecond, Continue: true}})
	bus.Publish(eventbus.Event{Type: scheduler.EventEntryRetired, Time: now, Data: scheduler.EntryEvent{ID: 4, Name: "tick"}})
	bus.Publish(eventbus.Event{Type: "entry.bogus", Time: now, Data: "not an entry"})

	// A canceled context drains what is already buffered.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	j.run(ctx, events)

	recs, err := st.RecentJournal(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, storage.JournalEntry{
		At: now, RunID: "run-1", Event: "entry.fired", EntryID: 4, Name: "tick",
		Policy: "fixed", Retries: 2, TookMS: 3, Continue: true,
	}, recs[0])
	assert.Equal(t, "entry.retired", recs[1].Event)
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "schedd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, t.TempDir(), "tasks:\n  - name: a\n    delay: 0s\n")
	_, err := New(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")

	_, err = New(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestAppLifecycle(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeConfig(t, dir, fmt.Sprintf(`
logging:
  level: error
scheduler:
  stop_timeout: 2s
debug:
  enabled: true
  addr: 127.0.0.1:0
storage:
  driver: file
  path: %s
tasks:
  - name: once
    delay: 10ms
    policy: dynamic
  - name: ticker
    delay: 20ms
    retries: 3
  - name: forever
    delay: 1h
    retries: -1
`, filepath.Join(dir, "journal")))

	a, err := New(path)
	require.NoError(t, err)

	var (
		mu     sync.Mutex
		states []string
	)
	a.notify = func(s string) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}

	require.NoError(t, a.Start(context.Background()))
	require.NotEmpty(t, a.RunID())

	// once fires once, ticker three times, forever never.
	require.Eventually(t, func() bool {
		return a.Scheduler().Stats().Fired == 4
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, a.Scheduler().Len())

	addr := a.DebugAddr()
	require.NotEmpty(t, addr)
	resp, err := http.Get("http://" + addr + "/queue")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "forever")

	require.NoError(t, a.Stop(context.Background(), StopAppStop))
	require.NoError(t, a.Stop(context.Background(), StopAppStop))
	<-a.Done()

	mu.Lock()
	assert.Equal(t, []string{"READY=1", "STOPPING=1"}, states)
	mu.Unlock()

	// The journal outlives the process: reopen it and check this run's records.
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(dir, "journal")}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	recs, err := st.RecentJournal(context.Background(), 100)
	require.NoError(t, err)

	counts := map[string]int{}
	for _, r := range recs {
		assert.Equal(t, a.RunID(), r.RunID)
		counts[r.Event]++
	}
	assert.Equal(t, 3, counts[scheduler.EventEntryAdded])
	assert.Equal(t, 4, counts[scheduler.EventEntryFired])
	// once, ticker after firing, forever on shutdown.
	assert.Equal(t, 3, counts[scheduler.EventEntryRetired])
	assert.True(t, strings.HasPrefix(recs[0].Event, "entry."))
}
