package highlight

import (
	"sync"

	"keywatch/internal/transport"
)

type followUpKey struct {
	channelID int64
	authorID  int64
}

// Waiters is a registry of pending follow-up watches. Each watch waits for
// the next message by a given author in a given channel; Observe resolves
// every matching watch.
//
// Registrations are torn down either by firing or by the returned cancel
// func, so a watch that times out leaves no stale filter behind.
type Waiters struct {
	mu  sync.Mutex
	seq uint64
	m   map[followUpKey]map[uint64]chan struct{}
}

func NewWaiters() *Waiters {
	return &Waiters{m: map[followUpKey]map[uint64]chan struct{}{}}
}

// Await registers interest in the next message from authorID in channelID.
// The returned channel is closed when such a message (or the channel's
// deletion) is observed. cancel removes the registration; it is safe to
// call after the channel fired.
func (w *Waiters) Await(channelID, authorID int64) (fired <-chan struct{}, cancel func()) {
	key := followUpKey{channelID: channelID, authorID: authorID}
	ch := make(chan struct{})

	w.mu.Lock()
	w.seq++
	id := w.seq
	set := w.m[key]
	if set == nil {
		set = map[uint64]chan struct{}{}
		w.m[key] = set
	}
	set[id] = ch
	w.mu.Unlock()

	cancel = func() {
		w.mu.Lock()
		if set, ok := w.m[key]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(w.m, key)
			}
		}
		w.mu.Unlock()
	}
	return ch, cancel
}

// Observe resolves all watches matching the message's channel and author.
func (w *Waiters) Observe(msg transport.Message) {
	key := followUpKey{channelID: msg.ChannelID, authorID: msg.AuthorID}

	w.mu.Lock()
	set := w.m[key]
	delete(w.m, key)
	w.mu.Unlock()

	for _, ch := range set {
		close(ch)
	}
}

// ObserveChannelGone resolves every watch in the channel, regardless of
// author. A deleted channel can never produce the message being waited
// for, and nothing should be delivered about it either.
func (w *Waiters) ObserveChannelGone(channelID int64) {
	var fired []chan struct{}

	w.mu.Lock()
	for key, set := range w.m {
		if key.channelID != channelID {
			continue
		}
		for _, ch := range set {
			fired = append(fired, ch)
		}
		delete(w.m, key)
	}
	w.mu.Unlock()

	for _, ch := range fired {
		close(ch)
	}
}

// Pending reports the number of registered watches.
func (w *Waiters) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, set := range w.m {
		n += len(set)
	}
	return n
}
