package app

import (
	"context"
	"time"

	"pewsched/internal/eventbus"
	"pewsched/internal/storage"
	"pewsched/internal/task/scheduler"
	logx "pewsched/pkg/logx"
)

// journal copies entry.* bus events into the store, stamped with the run id.
type journal struct {
	store storage.Store
	runID string
	log   logx.Logger
}

func toJournalEntry(runID string, ev eventbus.Event) (storage.JournalEntry, bool) {
	d, ok := ev.Data.(scheduler.EntryEvent)
	if !ok {
		return storage.JournalEntry{}, false
	}
	return storage.JournalEntry{
		At:       ev.Time,
		RunID:    runID,
		Event:    ev.Type,
		EntryID:  d.ID,
		Name:     d.Name,
		Policy:   d.Policy,
		Retries:  d.Retries,
		TookMS:   d.Took.Milliseconds(),
		Continue: d.Continue,
		Panicked: d.Panicked,
	}, true
}

// run appends until ctx ends, then flushes what is already buffered.
func (j *journal) run(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			j.drain(events)
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			j.append(ctx, ev)
		}
	}
}

func (j *journal) drain(events <-chan eventbus.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			j.append(ctx, ev)
		default:
			return
		}
	}
}

func (j *journal) append(ctx context.Context, ev eventbus.Event) {
	rec, ok := toJournalEntry(j.runID, ev)
	if !ok {
		return
	}
	if err := j.store.AppendJournal(ctx, rec); err != nil {
		j.log.Warn("journal append failed", logx.String("event", ev.Type), logx.Int64("id", rec.EntryID), logx.Err(err))
	}
}
