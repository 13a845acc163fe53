package scheduler

import (
	"container/list"

	"pewsched/internal/timeval"
)

// queue keeps entries sorted ascending by fireAt. Entries with equal fireAt
// stay in insertion order. The index lets Delete unlink without a scan.
type queue struct {
	l   list.List
	idx map[int64]*list.Element
}

func newQueue() queue {
	return queue{idx: make(map[int64]*list.Element)}
}

// insert scans from the head and links e before the first strictly later entry.
func (q *queue) insert(e *entry) {
	for el := q.l.Front(); el != nil; el = el.Next() {
		if timeval.Before(e.fireAt, el.Value.(*entry).fireAt) {
			q.idx[e.id] = q.l.InsertBefore(e, el)
			return
		}
	}
	q.idx[e.id] = q.l.PushBack(e)
}

func (q *queue) head() *entry {
	el := q.l.Front()
	if el == nil {
		return nil
	}
	return el.Value.(*entry)
}

func (q *queue) popHead() *entry {
	el := q.l.Front()
	if el == nil {
		return nil
	}
	e := q.l.Remove(el).(*entry)
	delete(q.idx, e.id)
	return e
}

func (q *queue) remove(id int64) *entry {
	el, ok := q.idx[id]
	if !ok {
		return nil
	}
	delete(q.idx, id)
	return q.l.Remove(el).(*entry)
}

func (q *queue) get(id int64) *entry {
	el, ok := q.idx[id]
	if !ok {
		return nil
	}
	return el.Value.(*entry)
}

func (q *queue) len() int { return q.l.Len() }

func (q *queue) each(fn func(e *entry) bool) {
	for el := q.l.Front(); el != nil; el = el.Next() {
		if !fn(el.Value.(*entry)) {
			return
		}
	}
}

// drain unlinks everything and returns it in queue order.
func (q *queue) drain() []*entry {
	out := make([]*entry, 0, q.l.Len())
	for e := q.popHead(); e != nil; e = q.popHead() {
		out = append(out, e)
	}
	return out
}
