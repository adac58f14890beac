// Package eventbus implements the control core's in-process publish/
// dispatch abstraction (spec §5 Design Notes), the home for
// mxrc.control-core's various lifecycle events — alarm transitions,
// sequence step transitions, arbiter mode changes — fanned out to any
// subscriber without coupling publishers to consumers.
//
// Every Envelope carries a Metadata map alongside its payload. The control
// core uses one well-known key, "traceparent", to thread a W3C trace
// context across the publish/dispatch boundary (see Tracer in this
// package): the original C++ EventBusTracer wanted this and had no place to
// put it because IEvent carried no metadata storage; here it is just a map
// entry.
package eventbus

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Envelope wraps one published event with routing and trace metadata.
type Envelope struct {
	Topic    string
	Payload  interface{}
	Metadata map[string]string
}

// Handler receives dispatched envelopes. Implementations must not block
// for long; the bus dispatches synchronously to each subscriber of a topic
// in subscription order.
type Handler func(Envelope)

// EventBus is the publish/subscribe abstraction used across the control
// core. Satisfied by *Bus; kept as an interface so alarm.Engine,
// arbiter.Arbiter, and internal/sequence can depend on it without
// importing this package's concrete type.
type EventBus interface {
	Publish(env Envelope)
	Subscribe(topic string, h Handler) (unsubscribe func())
}

// Bus is the default in-process EventBus: synchronous fan-out to
// subscribers, guarded by a RWMutex so Publish and Subscribe can run
// concurrently from arbitrary goroutines.
type Bus struct {
	log *zap.Logger

	mu   sync.RWMutex
	subs map[string][]*subscription
	seq  uint64
}

type subscription struct {
	id uint64
	h  Handler
}

// New creates an empty Bus.
func New(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{
		log:  log,
		subs: make(map[string][]*subscription),
	}
}

// Subscribe registers h to receive every envelope published to topic.
// The returned func removes the subscription; calling it more than once
// is a no-op.
func (b *Bus) Subscribe(topic string, h Handler) func() {
	b.mu.Lock()
	b.seq++
	id := b.seq
	b.subs[topic] = append(b.subs[topic], &subscription{id: id, h: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			list := b.subs[topic]
			for i, s := range list {
				if s.id == id {
					b.subs[topic] = append(list[:i], list[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish dispatches env to every current subscriber of env.Topic.
// A panicking handler is recovered and logged so one bad subscriber can't
// take down the publisher's goroutine.
func (b *Bus) Publish(env Envelope) {
	b.mu.RLock()
	subs := append([]*subscription(nil), b.subs[env.Topic]...)
	b.mu.RUnlock()

	for _, s := range subs {
		b.dispatchOne(s, env)
	}
}

func (b *Bus) dispatchOne(s *subscription, env Envelope) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("eventbus: subscriber panicked",
				zap.String("topic", env.Topic),
				zap.Any("recover", r),
			)
		}
	}()
	s.h(env)
}

// SubscriberCount returns the number of active subscribers for topic, used
// by Tracer to annotate dispatch spans with subscriber counts (mirrors
// EventBusTracer::onAfterDispatch's subscriber_count attribute).
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

func newEventID(topic string, seq uint64) string {
	return fmt.Sprintf("%s-%d", topic, seq)
}
