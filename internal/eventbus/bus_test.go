package eventbus

import "testing"

func TestPublishFanout(t *testing.T) {
	b := New()
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(1)
	defer unsubC()

	b.Publish(Event{Type: BroadcastStarted})
	if e := <-a; e.Type != BroadcastStarted || e.Time.IsZero() {
		t.Fatalf("a got %+v", e)
	}
	if e := <-c; e.Type != BroadcastStarted {
		t.Fatalf("c got %+v", e)
	}

	unsubA()
	unsubA()
	if _, ok := <-a; ok {
		t.Fatalf("channel should be closed after unsubscribe")
	}
	b.Publish(Event{Type: BroadcastFinished})
	<-c
}

func TestSlowSubscriberDrops(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()
	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})
	if b.Dropped() != 1 {
		t.Fatalf("dropped = %d", b.Dropped())
	}
}
