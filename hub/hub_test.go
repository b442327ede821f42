package hub

import (
	"testing"
	"time"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	h := New()
	a := h.Subscribe()
	b := h.Subscribe()
	defer h.Unsubscribe(a)
	defer h.Unsubscribe(b)

	h.Publish([]byte("hello"))

	for _, sub := range []*Subscriber{a, b} {
		select {
		case got := <-sub.C():
			if string(got) != "hello" {
				t.Fatalf("payload = %q, want hello", got)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for payload")
		}
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	h := New()
	slow := h.Subscribe()
	fast := h.Subscribe()
	defer h.Unsubscribe(slow)
	defer h.Unsubscribe(fast)

	// Never read from slow; publish well beyond its buffer.
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*4; i++ {
			h.Publish([]byte("x"))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}

	// The fast subscriber still has payloads buffered.
	select {
	case <-fast.C():
	default:
		t.Fatal("fast subscriber received nothing")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	h := New()
	sub := h.Subscribe()
	h.Unsubscribe(sub)
	h.Unsubscribe(sub) // idempotent

	select {
	case _, ok := <-sub.C():
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after unsubscribe")
	}

	if h.Count() != 0 {
		t.Fatalf("count = %d, want 0", h.Count())
	}
	// Publishing after unsubscribe must not panic.
	h.Publish([]byte("y"))
}
