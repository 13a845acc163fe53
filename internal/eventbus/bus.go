// Package eventbus is a small in-memory fanout used to decouple the scheduler
// from its observers (journal, history, metrics).
package eventbus

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Event is a lightweight in-memory signal.
//
// Publish never blocks. Subscribers get buffered channels and a slow
// subscriber loses events rather than stalling the publisher.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// Counter is implemented by buses that count deliveries.
type Counter interface {
	Published() uint64
	Dropped() uint64
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]*sub{}}
}

type sub struct {
	ch     chan Event
	prefix string
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]*sub
	seq  atomic.Uint64

	published atomic.Uint64
	dropped   atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.published.Add(1)

	// Deliver under the read lock so unsubscribe (which closes the channel
	// under the write lock) can never race a send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if s.prefix != "" && !strings.HasPrefix(e.Type, s.prefix) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	return b.subscribe(buffer, "")
}

// SubscribePrefix is Subscribe limited to event types starting with prefix.
func SubscribePrefix(b Bus, buffer int, prefix string) (<-chan Event, func()) {
	if mb, ok := b.(*memBus); ok {
		return mb.subscribe(buffer, prefix)
	}
	return b.Subscribe(buffer)
}

func (b *memBus) subscribe(buffer int, prefix string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = &sub{ch: ch, prefix: prefix}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

func (b *memBus) Published() uint64 { return b.published.Load() }
func (b *memBus) Dropped() uint64   { return b.dropped.Load() }
