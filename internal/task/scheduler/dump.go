package scheduler

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"pewsched/internal/timeval"
)

// Dump writes the queue in fire order: a header with the queued, issued and
// pooled counts, then one row per entry with the time left until it fires.
func (s *Scheduler) Dump(w io.Writer) error {
	s.mu.Lock()
	now := s.now()
	queued, issued, pooled := s.q.len(), s.issued, s.pool.len()
	type row struct {
		id      int64
		name    string
		policy  Policy
		retries int
		delta   timeval.Timeval
	}
	rows := make([]row, 0, queued)
	s.q.each(func(e *entry) bool {
		rows = append(rows, row{
			id:      e.id,
			name:    taskName(e.task),
			policy:  e.policy,
			retries: e.retries,
			delta:   s.calc.Sub(e.fireAt, now),
		})
		return true
	})
	s.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "Schedule Dump (%d in Q, %d Total, %d Cache)\n", queued, issued, pooled)
	tw := tabwriter.NewWriter(&b, 0, 0, 1, ' ', tabwriter.Debug)
	fmt.Fprintln(tw, "ID\tName\tPolicy\tRetries\tTime (sec : usec)")
	for _, r := range rows {
		fmt.Fprintf(tw, "%.4d\t%s\t%s\t%s\t%s\n", r.id, r.name, r.policy, retriesLabel(r.retries), r.delta)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// Snapshot lists the queued entries in fire order.
func (s *Scheduler) Snapshot() []EntryInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	out := make([]EntryInfo, 0, s.q.len())
	s.q.each(func(e *entry) bool {
		out = append(out, EntryInfo{
			ID:        e.id,
			Name:      taskName(e.task),
			Policy:    e.policy.String(),
			Interval:  e.interval,
			Retries:   e.retries,
			FireAt:    e.fireAt.Time(),
			Remaining: s.calc.Sub(e.fireAt, now).Duration(),
		})
		return true
	})
	return out
}

func retriesLabel(n int) string {
	if n < 0 {
		return "inf"
	}
	return fmt.Sprint(n)
}
