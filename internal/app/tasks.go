package app

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"pewsched/internal/config"
	"pewsched/internal/task/scheduler"
	logx "pewsched/pkg/logx"
)

// taskSpec is a validated tasks[] item.
type taskSpec struct {
	name      string
	delay     time.Duration
	policy    scheduler.Policy
	next      time.Duration
	retries   int
	stopAfter int
	payload   string
}

func mapTasks(cfg *config.Config) ([]taskSpec, error) {
	out := make([]taskSpec, 0, len(cfg.Tasks))
	seen := make(map[string]struct{}, len(cfg.Tasks))
	for i, tc := range cfg.Tasks {
		name := strings.TrimSpace(tc.Name)
		if name == "" {
			return nil, errors.Newf("tasks[%d].name is required", i)
		}
		if _, dup := seen[name]; dup {
			return nil, errors.Newf("tasks[%d]: duplicate name %q", i, name)
		}
		seen[name] = struct{}{}

		key := "tasks." + name
		policy, ok := scheduler.ParsePolicy(tc.Policy)
		if !ok {
			return nil, errors.Newf("%s.policy: unknown %q (want fixed or dynamic)", key, tc.Policy)
		}
		delay, err := config.ParseDurationField(key+".delay", tc.Delay)
		if err != nil {
			return nil, err
		}
		if policy == scheduler.PolicyFixed && delay < time.Millisecond {
			return nil, errors.Newf("%s.delay must be >= 1ms for fixed policy", key)
		}
		next, err := config.ParseDurationField(key+".next", tc.Next)
		if err != nil {
			return nil, err
		}
		if tc.StopAfter < 0 {
			return nil, errors.Newf("%s.stop_after must be >= 0", key)
		}
		out = append(out, taskSpec{
			name:      name,
			delay:     delay,
			policy:    policy,
			next:      next,
			retries:   tc.Retries,
			stopAfter: tc.StopAfter,
			payload:   tc.Payload,
		})
	}
	return out, nil
}

// demoState is the payload owned by a demo task.
type demoState struct {
	spec taskSpec
	log  logx.Logger
	runs atomic.Int64
}

func (st *demoState) run(_ context.Context) scheduler.Result {
	n := st.runs.Add(1)
	st.log.Info("task fired",
		logx.String("task", st.spec.name),
		logx.Int64("run", n),
		logx.String("payload", st.spec.payload),
	)
	if st.spec.stopAfter > 0 && n >= int64(st.spec.stopAfter) {
		return scheduler.Done()
	}
	if st.spec.policy == scheduler.PolicyDynamic && st.spec.next <= 0 {
		return scheduler.Done()
	}
	return scheduler.Again(st.spec.next)
}

func newDemoTask(spec taskSpec, log logx.Logger) scheduler.Task {
	st := &demoState{spec: spec, log: log}
	return scheduler.NewNamedTask(spec.name, st,
		func(ctx context.Context, st *demoState) scheduler.Result { return st.run(ctx) },
		func(st *demoState) {
			st.log.Debug("task released", logx.String("task", st.spec.name), logx.Int64("runs", st.runs.Load()))
		},
	)
}

// registerTasks adds every configured task and returns the issued ids.
func registerTasks(s *scheduler.Scheduler, specs []taskSpec, log logx.Logger) ([]int64, error) {
	ids := make([]int64, 0, len(specs))
	for _, spec := range specs {
		task := newDemoTask(spec, log)
		id, err := s.Add(spec.delay, task, spec.policy, spec.retries)
		if err != nil {
			return ids, errors.Wrapf(err, "register task %q", spec.name)
		}
		ids = append(ids, id)
		log.Info("task registered",
			logx.String("task", spec.name),
			logx.Int64("id", id),
			logx.String("policy", spec.policy.String()),
			logx.Duration("delay", spec.delay),
			logx.Int("retries", spec.retries),
		)
	}
	return ids, nil
}
