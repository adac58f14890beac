package eventbus

import (
	"sync"
	"testing"
)

func TestPublishDispatchesToSubscribers(t *testing.T) {
	b := New(nil)
	var got []Envelope
	var mu sync.Mutex
	b.Subscribe("alarm.raised", func(env Envelope) {
		mu.Lock()
		got = append(got, env)
		mu.Unlock()
	})

	b.Publish(Envelope{Topic: "alarm.raised", Payload: "a1"})

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].Payload != "a1" {
		t.Fatalf("got %+v", got)
	}
}

func TestPublishOnlyReachesMatchingTopic(t *testing.T) {
	b := New(nil)
	var hits int
	b.Subscribe("alarm.raised", func(env Envelope) { hits++ })

	b.Publish(Envelope{Topic: "sequence.step"})
	if hits != 0 {
		t.Fatalf("hits = %d, want 0", hits)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(nil)
	var hits int
	unsub := b.Subscribe("t", func(env Envelope) { hits++ })

	b.Publish(Envelope{Topic: "t"})
	unsub()
	b.Publish(Envelope{Topic: "t"})

	if hits != 1 {
		t.Fatalf("hits = %d, want 1", hits)
	}
}

func TestUnsubscribeIdempotent(t *testing.T) {
	b := New(nil)
	unsub := b.Subscribe("t", func(env Envelope) {})
	unsub()
	unsub() // must not panic or remove another subscriber
}

func TestPublishRecoversFromPanickingSubscriber(t *testing.T) {
	b := New(nil)
	var secondCalled bool
	b.Subscribe("t", func(env Envelope) { panic("boom") })
	b.Subscribe("t", func(env Envelope) { secondCalled = true })

	b.Publish(Envelope{Topic: "t"})

	if !secondCalled {
		t.Fatal("expected second subscriber to still be invoked after first panicked")
	}
}

func TestSubscriberCount(t *testing.T) {
	b := New(nil)
	if b.SubscriberCount("t") != 0 {
		t.Fatal("expected 0 subscribers initially")
	}
	unsub := b.Subscribe("t", func(env Envelope) {})
	if b.SubscriberCount("t") != 1 {
		t.Fatal("expected 1 subscriber")
	}
	unsub()
	if b.SubscriberCount("t") != 0 {
		t.Fatal("expected 0 subscribers after unsubscribe")
	}
}
