package scheduler_test

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pewsched/internal/eventbus"
	"pewsched/internal/task/scheduler"
)

// recorder collects fire offsets relative to its creation.
type recorder struct {
	mu    sync.Mutex
	start time.Time
	at    []time.Duration
}

func newRecorder() *recorder { return &recorder{start: time.Now()} }

func (r *recorder) mark() {
	r.mu.Lock()
	r.at = append(r.at, time.Since(r.start))
	r.mu.Unlock()
}

func (r *recorder) fires() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.at...)
}

// dispatcher runs the Wait/Dispatch cycle until the returned stop is called.
func dispatcher(s *scheduler.Scheduler) (stop func()) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, err := s.Wait(ctx); err != nil {
				return
			}
			if _, err := s.Dispatch(ctx); err != nil {
				return
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func TestScheduler_AddValidation(t *testing.T) {
	t.Parallel()

	noop := scheduler.TaskFunc(func(context.Context) scheduler.Result { return scheduler.Done() })

	tests := map[string]struct {
		delay   time.Duration
		task    scheduler.Task
		policy  scheduler.Policy
		retries int
		wantErr error
	}{
		"zero fixed interval is rejected": {
			delay: 0, task: noop, policy: scheduler.PolicyFixed, retries: 3,
			wantErr: scheduler.ErrInvalidArgument,
		},
		"sub-millisecond fixed interval is rejected": {
			delay: 500 * time.Microsecond, task: noop, policy: scheduler.PolicyFixed, retries: 1,
			wantErr: scheduler.ErrInvalidArgument,
		},
		"negative fixed interval is rejected": {
			delay: -time.Second, task: noop, policy: scheduler.PolicyFixed, retries: 1,
			wantErr: scheduler.ErrInvalidArgument,
		},
		"nil task is rejected": {
			delay: time.Second, task: nil, policy: scheduler.PolicyDynamic, retries: 1,
			wantErr: scheduler.ErrInvalidArgument,
		},
		"unknown policy is rejected": {
			delay: time.Second, task: noop, policy: scheduler.Policy(42), retries: 1,
			wantErr: scheduler.ErrInvalidArgument,
		},
		"zero dynamic delay is accepted": {
			delay: 0, task: noop, policy: scheduler.PolicyDynamic, retries: 1,
		},
		"negative dynamic delay is accepted": {
			delay: -time.Second, task: noop, policy: scheduler.PolicyDynamic, retries: 1,
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			s := scheduler.New()
			id, err := s.Add(tt.delay, tt.task, tt.policy, tt.retries)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, int64(-1), id)
				assert.Equal(t, 0, s.Len())
				assert.Equal(t, uint64(0), s.Stats().Issued)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, int64(1), id)
			assert.Equal(t, 1, s.Len())
		})
	}
}

func TestScheduler_IDsIncrease(t *testing.T) {
	t.Parallel()

	s := scheduler.New()
	noop := func(context.Context) scheduler.Result { return scheduler.Done() }

	var last int64
	for i := 0; i < 50; i++ {
		id, err := s.AddFunc(time.Duration(50-i)*time.Millisecond, noop, scheduler.PolicyFixed, 1)
		require.NoError(t, err)
		assert.Greater(t, id, last)
		last = id
		if i%3 == 0 {
			require.NoError(t, s.Delete(id))
		}
	}
	id, err := s.AddFunc(time.Second, noop, scheduler.PolicyFixed, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(51), id)
}

func TestScheduler_Ordering(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		s := scheduler.New()
		named := func(name string) scheduler.Task {
			return scheduler.NewNamedTask(name, struct{}{}, func(context.Context, struct{}) scheduler.Result {
				return scheduler.Done()
			}, nil)
		}

		adds := []struct {
			name  string
			delay time.Duration
		}{
			{"c", 300 * time.Millisecond},
			{"a1", 100 * time.Millisecond},
			{"b", 200 * time.Millisecond},
			{"a2", 100 * time.Millisecond},
			{"first", 50 * time.Millisecond},
			{"a3", 100 * time.Millisecond},
		}
		ids := map[string]int64{}
		for _, a := range adds {
			id, err := s.Add(a.delay, named(a.name), scheduler.PolicyDynamic, 1)
			require.NoError(t, err)
			ids[a.name] = id
		}
		require.NoError(t, s.Delete(ids["b"]))

		var got []string
		var prev time.Time
		for _, e := range s.Snapshot() {
			got = append(got, e.Name)
			assert.False(t, e.FireAt.Before(prev), "queue out of order at %s", e.Name)
			prev = e.FireAt
		}
		assert.Equal(t, []string{"first", "a1", "a2", "a3", "c"}, got)
	})
}

func TestScheduler_FixedRetryExhaustion(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		s := scheduler.New()
		rec := newRecorder()

		_, err := s.AddFunc(100*time.Millisecond, func(context.Context) scheduler.Result {
			rec.mark()
			// Next is ignored under the fixed policy.
			return scheduler.Again(5 * time.Second)
		}, scheduler.PolicyFixed, 3)
		require.NoError(t, err)

		stop := dispatcher(s)
		time.Sleep(time.Second)
		synctest.Wait()
		stop()

		assert.Equal(t, []time.Duration{
			100 * time.Millisecond,
			200 * time.Millisecond,
			300 * time.Millisecond,
		}, rec.fires())
		assert.Equal(t, 0, s.Len())

		n, err := s.Dispatch(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		st := s.Stats()
		assert.Equal(t, uint64(3), st.Fired)
		assert.Equal(t, uint64(1), st.Retired)
	})
}

func TestScheduler_DynamicReschedule(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		s := scheduler.New()
		rec := newRecorder()

		_, err := s.AddFunc(100*time.Millisecond, func(context.Context) scheduler.Result {
			rec.mark()
			return scheduler.Again(300 * time.Millisecond)
		}, scheduler.PolicyDynamic, 2)
		require.NoError(t, err)

		stop := dispatcher(s)
		time.Sleep(2 * time.Second)
		synctest.Wait()
		stop()

		assert.Equal(t, []time.Duration{100 * time.Millisecond, 400 * time.Millisecond}, rec.fires())
		assert.Equal(t, 0, s.Len())
	})
}

func TestScheduler_CadenceIgnoresTaskRunTime(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		delay   time.Duration
		policy  scheduler.Policy
		next    time.Duration
		retries int
		runTime time.Duration
		want    []time.Duration
	}{
		"fixed": {
			delay: 100 * time.Millisecond, policy: scheduler.PolicyFixed, retries: 3,
			runTime: 50 * time.Millisecond,
			want:    []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond},
		},
		"dynamic": {
			delay: 100 * time.Millisecond, policy: scheduler.PolicyDynamic, next: 300 * time.Millisecond, retries: 3,
			runTime: 50 * time.Millisecond,
			want:    []time.Duration{100 * time.Millisecond, 400 * time.Millisecond, 700 * time.Millisecond},
		},
		"fixed overrun clamps to now": {
			delay: 100 * time.Millisecond, policy: scheduler.PolicyFixed, retries: 3,
			runTime: 150 * time.Millisecond,
			want:    []time.Duration{100 * time.Millisecond, 250 * time.Millisecond, 400 * time.Millisecond},
		},
		"dynamic overrun clamps to now": {
			delay: 100 * time.Millisecond, policy: scheduler.PolicyDynamic, next: 20 * time.Millisecond, retries: 2,
			runTime: 50 * time.Millisecond,
			want:    []time.Duration{100 * time.Millisecond, 150 * time.Millisecond},
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			synctest.Test(t, func(t *testing.T) {
				s := scheduler.New()
				rec := newRecorder()

				_, err := s.AddFunc(tc.delay, func(context.Context) scheduler.Result {
					rec.mark()
					time.Sleep(tc.runTime)
					return scheduler.Again(tc.next)
				}, tc.policy, tc.retries)
				require.NoError(t, err)

				stop := dispatcher(s)
				time.Sleep(2 * time.Second)
				synctest.Wait()
				stop()

				assert.Equal(t, tc.want, rec.fires())
				assert.Equal(t, 0, s.Len())
			})
		})
	}
}

func TestScheduler_SweepFiresEntriesBehindRescheduled(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		s := scheduler.New()
		var order []string

		_, err := s.AddFunc(0, func(context.Context) scheduler.Result {
			order = append(order, "again")
			return scheduler.Again(0)
		}, scheduler.PolicyDynamic, -1)
		require.NoError(t, err)
		// Inside the look-ahead window, but behind the first entry once it is
		// requeued at now.
		_, err = s.AddFunc(500*time.Microsecond, func(context.Context) scheduler.Result {
			order = append(order, "once")
			return scheduler.Done()
		}, scheduler.PolicyDynamic, 1)
		require.NoError(t, err)

		n, err := s.Dispatch(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Equal(t, []string{"again", "once"}, order)
		assert.Equal(t, 1, s.Len())
	})
}

func TestScheduler_UnlimitedUntilDeleted(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		s := scheduler.New()
		rec := newRecorder()

		id, err := s.AddFunc(100*time.Millisecond, func(context.Context) scheduler.Result {
			rec.mark()
			return scheduler.Again(0)
		}, scheduler.PolicyFixed, -1)
		require.NoError(t, err)

		stop := dispatcher(s)
		time.Sleep(1050 * time.Millisecond)
		synctest.Wait()

		assert.Len(t, rec.fires(), 10)
		assert.Equal(t, 1, s.Len())

		require.NoError(t, s.Delete(id))
		time.Sleep(time.Second)
		synctest.Wait()
		stop()

		assert.Len(t, rec.fires(), 10)
		assert.Equal(t, uint64(1), s.Stats().Deleted)
	})
}

func TestScheduler_Delete(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		s := scheduler.New()
		fired := map[int64]bool{}
		var mu sync.Mutex

		var ids []int64
		for i := 1; i <= 3; i++ {
			var id int64
			id, err := s.AddFunc(time.Duration(i)*100*time.Millisecond, func(context.Context) scheduler.Result {
				mu.Lock()
				fired[id] = true
				mu.Unlock()
				return scheduler.Done()
			}, scheduler.PolicyFixed, 1)
			require.NoError(t, err)
			ids = append(ids, id)
		}

		var before bytes.Buffer
		require.NoError(t, s.Dump(&before))

		err := s.Delete(999)
		require.ErrorIs(t, err, scheduler.ErrNotFound)

		var after bytes.Buffer
		require.NoError(t, s.Dump(&after))
		assert.Equal(t, before.Bytes(), after.Bytes())

		require.NoError(t, s.Delete(ids[1]))
		require.ErrorIs(t, s.Delete(ids[1]), scheduler.ErrNotFound)

		var dump bytes.Buffer
		require.NoError(t, s.Dump(&dump))
		assert.NotContains(t, dump.String(), "0002")
		assert.Contains(t, dump.String(), "0001")
		assert.Contains(t, dump.String(), "0003")

		stop := dispatcher(s)
		time.Sleep(time.Second)
		synctest.Wait()
		stop()

		mu.Lock()
		defer mu.Unlock()
		assert.False(t, fired[ids[1]])
		assert.Len(t, fired, 2)
	})
}

func TestScheduler_DumpFormat(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		s := scheduler.New()
		task := scheduler.NewNamedTask("ping", 0, func(context.Context, int) scheduler.Result {
			return scheduler.Done()
		}, nil)
		_, err := s.Add(1500*time.Millisecond, task, scheduler.PolicyFixed, -1)
		require.NoError(t, err)

		var b bytes.Buffer
		require.NoError(t, s.Dump(&b))
		out := b.String()
		assert.Contains(t, out, "Schedule Dump (1 in Q, 1 Total, 0 Cache)")
		assert.Contains(t, out, "0001")
		assert.Contains(t, out, "ping")
		assert.Contains(t, out, "inf")
		assert.Contains(t, out, "000001 : 500000")
	})
}

func TestScheduler_PoolBound(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		s := scheduler.New(scheduler.WithPoolCapacity(2))
		for i := 0; i < 6; i++ {
			_, err := s.AddFunc(time.Duration(i+1)*time.Millisecond, func(context.Context) scheduler.Result {
				return scheduler.Done()
			}, scheduler.PolicyFixed, 1)
			require.NoError(t, err)
		}

		stop := dispatcher(s)
		time.Sleep(100 * time.Millisecond)
		synctest.Wait()
		stop()

		st := s.Stats()
		assert.Equal(t, uint64(6), st.Retired)
		assert.Equal(t, 2, st.Pooled)
		assert.LessOrEqual(t, st.Pooled, st.PoolCap)

		s.SetPoolCapacity(1)
		assert.Equal(t, 1, s.Stats().Pooled)

		// Reused shells still get fresh ids.
		id, err := s.AddFunc(time.Second, func(context.Context) scheduler.Result { return scheduler.Done() }, scheduler.PolicyFixed, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(7), id)
		assert.Equal(t, 0, s.Stats().Pooled)
	})
}

func TestScheduler_WaitWakesOnEarlierAdd(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		s := scheduler.New()
		rec := newRecorder()
		mark := func(context.Context) scheduler.Result {
			rec.mark()
			return scheduler.Done()
		}

		_, err := s.AddFunc(time.Second, mark, scheduler.PolicyFixed, 1)
		require.NoError(t, err)

		stop := dispatcher(s)
		time.Sleep(10 * time.Millisecond)
		synctest.Wait()

		_, err = s.AddFunc(100*time.Millisecond, mark, scheduler.PolicyFixed, 1)
		require.NoError(t, err)

		time.Sleep(2 * time.Second)
		synctest.Wait()
		stop()

		assert.Equal(t, []time.Duration{110 * time.Millisecond, time.Second}, rec.fires())
	})
}

func TestScheduler_WaitOnEmptyQueue(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		s := scheduler.New()
		ctx, cancel := context.WithCancel(context.Background())

		errc := make(chan error, 1)
		go func() {
			_, err := s.Wait(ctx)
			errc <- err
		}()

		synctest.Wait()
		select {
		case err := <-errc:
			t.Fatalf("Wait returned early: %v", err)
		default:
		}

		cancel()
		assert.ErrorIs(t, <-errc, context.Canceled)
	})
}

func TestScheduler_DestroyWakesWait(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		s := scheduler.New()

		var released []int
		var mu sync.Mutex
		for i := 0; i < 3; i++ {
			task := scheduler.NewPayloadTask(i, func(context.Context, int) scheduler.Result {
				return scheduler.Done()
			}, func(p int) {
				mu.Lock()
				released = append(released, p)
				mu.Unlock()
			})
			_, err := s.Add(time.Hour, task, scheduler.PolicyFixed, 1)
			require.NoError(t, err)
		}

		errc := make(chan error, 1)
		go func() {
			_, err := s.Wait(context.Background())
			errc <- err
		}()
		synctest.Wait()

		require.NoError(t, s.Destroy(context.Background()))
		assert.ErrorIs(t, <-errc, scheduler.ErrClosed)
		assert.ElementsMatch(t, []int{0, 1, 2}, released)

		// Idempotent, and everything else reports closed.
		require.NoError(t, s.Destroy(context.Background()))
		_, err := s.AddFunc(time.Second, func(context.Context) scheduler.Result { return scheduler.Done() }, scheduler.PolicyFixed, 1)
		assert.ErrorIs(t, err, scheduler.ErrClosed)
		assert.ErrorIs(t, s.Delete(1), scheduler.ErrClosed)
		_, err = s.Wait(context.Background())
		assert.ErrorIs(t, err, scheduler.ErrClosed)
		_, err = s.Dispatch(context.Background())
		assert.ErrorIs(t, err, scheduler.ErrClosed)
		assert.Len(t, released, 3)
		assert.True(t, s.Stats().Closed)
	})
}

func TestScheduler_DestroyFromTaskGivesUp(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		s := scheduler.New()
		errc := make(chan error, 1)
		_, err := s.AddFunc(time.Millisecond, func(context.Context) scheduler.Result {
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			errc <- s.Destroy(ctx)
			return scheduler.Done()
		}, scheduler.PolicyFixed, 1)
		require.NoError(t, err)

		stop := dispatcher(s)
		time.Sleep(time.Second)
		synctest.Wait()
		stop()

		err = <-errc
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.DeadlineExceeded))

		// The sweep has finished, so a second attempt completes.
		require.NoError(t, s.Destroy(context.Background()))
	})
}

func TestScheduler_ReentrantAdd(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		s := scheduler.New()
		rec := newRecorder()

		_, err := s.AddFunc(100*time.Millisecond, func(context.Context) scheduler.Result {
			rec.mark()
			_, err := s.AddFunc(50*time.Millisecond, func(context.Context) scheduler.Result {
				rec.mark()
				return scheduler.Done()
			}, scheduler.PolicyFixed, 1)
			assert.NoError(t, err)
			return scheduler.Done()
		}, scheduler.PolicyFixed, 1)
		require.NoError(t, err)

		stop := dispatcher(s)
		time.Sleep(time.Second)
		synctest.Wait()
		stop()

		assert.Equal(t, []time.Duration{100 * time.Millisecond, 150 * time.Millisecond}, rec.fires())
	})
}

func TestScheduler_SweepDoesNotRefireEntry(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		s := scheduler.New()
		calls := 0
		_, err := s.AddFunc(0, func(context.Context) scheduler.Result {
			calls++
			return scheduler.Again(0)
		}, scheduler.PolicyDynamic, -1)
		require.NoError(t, err)

		n, err := s.Dispatch(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, 1, calls)

		n, err = s.Dispatch(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, 2, calls)
	})
}

func TestScheduler_PanicIsRecovered(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		s := scheduler.New()
		released := 0
		task := scheduler.NewPayloadTask("boom", func(context.Context, string) scheduler.Result {
			panic("boom")
		}, func(string) { released++ })

		_, err := s.Add(10*time.Millisecond, task, scheduler.PolicyFixed, -1)
		require.NoError(t, err)

		time.Sleep(10 * time.Millisecond)
		n, err := s.Dispatch(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		st := s.Stats()
		assert.Equal(t, uint64(1), st.Panics)
		assert.Equal(t, uint64(1), st.Retired)
		assert.Equal(t, 0, st.Queued)
		assert.Equal(t, 1, released)
	})
}

func TestScheduler_NextAndWhenRemaining(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		s := scheduler.New()
		assert.Equal(t, int64(-1), s.Next())

		id, err := s.AddFunc(2500*time.Millisecond, func(context.Context) scheduler.Result {
			return scheduler.Done()
		}, scheduler.PolicyFixed, 1)
		require.NoError(t, err)

		assert.Equal(t, int64(2500), s.Next())
		secs, err := s.WhenRemaining(id)
		require.NoError(t, err)
		assert.Equal(t, int64(2), secs)

		time.Sleep(3 * time.Second)
		assert.Equal(t, int64(0), s.Next())

		secs, err = s.WhenRemaining(id + 1)
		assert.ErrorIs(t, err, scheduler.ErrNotFound)
		assert.Equal(t, int64(-1), secs)
	})
}

func TestScheduler_PublishesLifecycle(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		bus := eventbus.New()
		ch, unsub := bus.Subscribe(16)
		defer unsub()

		s := scheduler.New(scheduler.WithBus(bus))
		_, err := s.AddFunc(time.Millisecond, func(context.Context) scheduler.Result {
			return scheduler.Again(0)
		}, scheduler.PolicyFixed, 2)
		require.NoError(t, err)

		stop := dispatcher(s)
		time.Sleep(100 * time.Millisecond)
		synctest.Wait()
		stop()

		var types []string
		for len(ch) > 0 {
			ev := <-ch
			types = append(types, ev.Type)
			_, ok := ev.Data.(scheduler.EntryEvent)
			assert.True(t, ok)
		}
		assert.Equal(t, []string{
			scheduler.EventEntryAdded,
			scheduler.EventEntryFired,
			scheduler.EventEntryRescheduled,
			scheduler.EventEntryFired,
			scheduler.EventEntryRetired,
		}, types)
	})
}
