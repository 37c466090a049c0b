package events

import (
	"testing"
	"time"
)

func TestBusFanOut(t *testing.T) {
	b := NewBus()
	a, unsubA := b.Subscribe(EventOrderUpdate, 4)
	defer unsubA()
	c, unsubC := b.Subscribe(EventOrderUpdate, 4)
	defer unsubC()

	b.Publish(EventOrderUpdate, "payload")

	for _, ch := range []<-chan any{a, c} {
		select {
		case got := <-ch:
			if got != "payload" {
				t.Fatalf("received %v", got)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber never received the payload")
		}
	}
}

func TestBusDropsWhenSubscriberSlow(t *testing.T) {
	b := NewBus()
	ch, unsub := b.Subscribe(EventPriceTick, 1)
	defer unsub()

	// Buffer of one: the second publish is dropped, not blocked on.
	done := make(chan struct{})
	go func() {
		b.Publish(EventPriceTick, 1)
		b.Publish(EventPriceTick, 2)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Publish blocked on a full subscriber")
	}

	if got := <-ch; got != 1 {
		t.Fatalf("first payload was %v", got)
	}
	select {
	case got := <-ch:
		t.Fatalf("unexpected second payload %v", got)
	default:
	}
	if b.Dropped() != 1 {
		t.Fatalf("dropped=%d, expected 1", b.Dropped())
	}
}

func TestBusSubscriberCount(t *testing.T) {
	b := NewBus()
	if b.Subscribers(EventOrderUpdate) != 0 {
		t.Fatalf("fresh bus reports subscribers")
	}
	_, unsubA := b.Subscribe(EventOrderUpdate, 1)
	_, unsubC := b.Subscribe(EventOrderUpdate, 1)
	if got := b.Subscribers(EventOrderUpdate); got != 2 {
		t.Fatalf("subscribers=%d, expected 2", got)
	}

	unsubA()
	unsubA() // repeated unsubscribe must not disturb the other listener
	if got := b.Subscribers(EventOrderUpdate); got != 1 {
		t.Fatalf("subscribers=%d after unsubscribe, expected 1", got)
	}
	unsubC()
	if got := b.Subscribers(EventOrderUpdate); got != 0 {
		t.Fatalf("subscribers=%d, expected 0", got)
	}
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	b := NewBus()
	ch, unsub := b.Subscribe(EventProtectionChange, 1)
	unsub()

	if _, open := <-ch; open {
		t.Fatalf("channel still open after unsubscribe")
	}
	// Publishing to a topic with no subscribers is a no-op.
	b.Publish(EventProtectionChange, "ignored")
}
