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

	b.Publish(Event{Type: "ads.started", Data: 7})
	select {
	case e := <-ch:
		if e.Type != "ads.started" || e.Data.(int) != 7 {
			t.Fatalf("got %+v", e)
		}
		if e.Time.IsZero() {
			t.Fatal("publish must stamp a time")
		}
	case <-time.After(time.Second):
		t.Fatal("event never arrived")
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		defer close(done)
		// The buffer holds one event; the rest must be dropped, not block.
		for i := 0; i < 100; i++ {
			b.Publish(Event{Type: "ads.cycle"})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(4)
	unsub()
	unsub() // idempotent

	b.Publish(Event{Type: "ads.stopped"})
	if _, ok := <-ch; ok {
		t.Fatal("closed channel must not deliver")
	}
}
