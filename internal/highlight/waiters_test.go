package highlight

import (
	"testing"

	"keywatch/internal/transport"
)

func fired(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestWaitersObserve(t *testing.T) {
	t.Parallel()
	w := NewWaiters()

	match, cancelMatch := w.Await(500, 1)
	defer cancelMatch()
	otherAuthor, cancelA := w.Await(500, 2)
	defer cancelA()
	otherChannel, cancelC := w.Await(600, 1)
	defer cancelC()

	w.Observe(transport.Message{ChannelID: 500, AuthorID: 1})

	if !fired(match) {
		t.Fatal("matching waiter did not fire")
	}
	if fired(otherAuthor) {
		t.Fatal("waiter for another author fired")
	}
	if fired(otherChannel) {
		t.Fatal("waiter for another channel fired")
	}
	if got := w.Pending(); got != 2 {
		t.Fatalf("Pending = %d, want 2", got)
	}
}

func TestWaitersCancelTearsDown(t *testing.T) {
	t.Parallel()
	w := NewWaiters()

	ch, cancel := w.Await(500, 1)
	if got := w.Pending(); got != 1 {
		t.Fatalf("Pending = %d, want 1", got)
	}
	cancel()
	if got := w.Pending(); got != 0 {
		t.Fatalf("Pending after cancel = %d, want 0", got)
	}

	// A message after cancel must not fire the abandoned channel.
	w.Observe(transport.Message{ChannelID: 500, AuthorID: 1})
	if fired(ch) {
		t.Fatal("cancelled waiter fired")
	}

	// cancel after fire is safe.
	ch2, cancel2 := w.Await(500, 1)
	w.Observe(transport.Message{ChannelID: 500, AuthorID: 1})
	if !fired(ch2) {
		t.Fatal("waiter did not fire")
	}
	cancel2()
}

func TestWaitersChannelGone(t *testing.T) {
	t.Parallel()
	w := NewWaiters()

	a, cancelA := w.Await(500, 1)
	defer cancelA()
	b, cancelB := w.Await(500, 2)
	defer cancelB()
	other, cancelO := w.Await(600, 1)
	defer cancelO()

	w.ObserveChannelGone(500)

	if !fired(a) || !fired(b) {
		t.Fatal("waiters in deleted channel did not fire")
	}
	if fired(other) {
		t.Fatal("waiter in surviving channel fired")
	}
}
