package engine

import (
	"context"
	"sync"

	"pewsched/internal/eventbus"
	"pewsched/internal/task/scheduler"
	logx "pewsched/pkg/logx"
)

type history struct {
	mu    sync.Mutex
	size  int
	buf   []HistoryItem
}

func newHistory(size int) *history { return &history{size: size} }

func (h *history) add(it HistoryItem) {
	h.mu.Lock()
	h.buf = append(h.buf, it)
	if len(h.buf) > h.size {
		h.buf = h.buf[len(h.buf)-h.size:]
	}
	h.mu.Unlock()
}

func (h *history) resize(size int) {
	h.mu.Lock()
	h.size = size
	if len(h.buf) > size {
		h.buf = h.buf[len(h.buf)-size:]
	}
	h.mu.Unlock()
}

func (h *history) items() []HistoryItem {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]HistoryItem, len(h.buf))
	copy(out, h.buf)
	return out
}

// record turns entry.fired events into history items until ctx ends.
func (s *Service) record(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type != scheduler.EventEntryFired {
				continue
			}
			e, ok := ev.Data.(scheduler.EntryEvent)
			if !ok {
				continue
			}
			it := HistoryItem{
				ID:       e.ID,
				Name:     e.Name,
				At:       ev.Time,
				Took:     e.Took,
				Outcome:  outcome(e),
				Retries:  e.Retries,
				Panicked: e.Panicked,
			}
			s.hist.add(it)

			s.mu.Lock()
			slow := s.cfg.SlowTask
			s.mu.Unlock()
			if e.Took >= slow {
				s.log.Info("task.completed", logx.Int64("id", e.ID), logx.String("task", e.Name), logx.Duration("dur", e.Took), logx.String("outcome", it.Outcome))
			}
		}
	}
}

func outcome(e scheduler.EntryEvent) string {
	switch {
	case e.Panicked:
		return "panicked"
	case e.Continue && e.Retries != 0:
		return "rescheduled"
	case e.Continue:
		return "exhausted"
	default:
		return "done"
	}
}
