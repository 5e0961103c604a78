package eventbus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(4)
	defer unsub()

	b.Publish(Event{Type: EventDelivered, Data: int64(42)})

	select {
	case e := <-ch:
		if e.Type != EventDelivered {
			t.Fatalf("type = %q", e.Type)
		}
		if e.Data.(int64) != 42 {
			t.Fatalf("data = %v", e.Data)
		}
		if e.Time.IsZero() {
			t.Fatalf("time not set")
		}
	case <-time.After(time.Second):
		t.Fatalf("no event delivered")
	}
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: EventDelivered})
	b.Publish(Event{Type: EventSuppressed}) // buffer full, dropped

	<-ch
	select {
	case e := <-ch:
		t.Fatalf("unexpected second event: %v", e.Type)
	default:
	}
}

func TestPublishAfterUnsubscribe(t *testing.T) {
	t.Parallel()

	b := New()
	_, unsub := b.Subscribe(1)
	unsub()
	unsub() // idempotent

	// must not panic on the closed channel
	b.Publish(Event{Type: EventRetracted})
}
