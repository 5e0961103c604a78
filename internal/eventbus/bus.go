// Package eventbus is a small in-memory fanout used to decouple the
// notification pipeline from observers (debug logging, future counters).
//
// Contract:
//   - Publish never blocks.
//   - Slow subscribers lose events rather than stalling the publisher.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	// EventDelivered fires after a notification DM lands and its ledger row
	// is written. Data is the delivered keyword owner's user ID.
	EventDelivered = "highlight.delivered"
	// EventSuppressed fires when a follow-up or channel deletion resolves a
	// watch before its timer.
	EventSuppressed = "highlight.suppressed"
	// EventRetracted fires after notifications for a source message are
	// deleted and forgotten.
	EventRetracted = "highlight.retracted"
)

type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// A subscriber may close its channel concurrently via unsubscribe;
		// the recover absorbs the resulting send panic.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}
