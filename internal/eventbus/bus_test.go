package eventbus

import "testing"

func TestPublishFansOut(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(2)
	c, unsubC := b.Subscribe(2)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: HookWarning, Hook: "blink"})
	for _, ch := range []<-chan Event{a, c} {
		e := <-ch
		if e.Type != HookWarning || e.Hook != "blink" || e.Time.IsZero() {
			t.Fatalf("event = %+v", e)
		}
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	b.Publish(Event{Type: HookError})
	b.Publish(Event{Type: HookError})
	b.Publish(Event{Type: HookError})
	if b.Dropped() != 2 {
		t.Fatalf("Dropped() = %d, want 2", b.Dropped())
	}
	unsub()
	unsub()
	if _, ok := <-ch; !ok {
		t.Fatal("buffered event lost on unsubscribe")
	}
	if _, ok := <-ch; ok {
		t.Fatal("channel not closed")
	}
	// Publishing after unsubscribe must not panic.
	b.Publish(Event{Type: ISROverrun})
}
