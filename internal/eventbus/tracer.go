package eventbus

import (
	"context"
	"strconv"
	"sync/atomic"

	"github.com/mxrc/control-core/internal/tracing"
)

// TracedBus wraps an EventBus so every Publish/dispatch pair produces a
// parent/child span pair, with the parent's trace context carried across
// the boundary via Envelope.Metadata["traceparent"] (and "tracestate",
// "baggage") — the slot the original EventBusTracer wanted but had no
// metadata storage to put it in.
type TracedBus struct {
	next   EventBus
	tracer *tracing.Tracer
	seq    uint64
}

// NewTracedBus wraps next with tracing instrumentation using tracer.
func NewTracedBus(next EventBus, tracer *tracing.Tracer) *TracedBus {
	return &TracedBus{next: next, tracer: tracer}
}

// Publish starts a span for the publish, injects its context into
// env.Metadata, and forwards env to the wrapped bus. ctx supplies the
// parent span, if any (per tracing.CurrentSpan).
func (t *TracedBus) Publish(ctx context.Context, env Envelope) {
	id := newEventID(env.Topic, atomic.AddUint64(&t.seq, 1))

	_, span := t.tracer.StartSpan(ctx, "EventBus.publish", map[string]string{
		"event.id":       id,
		"event.topic":    env.Topic,
		"mxrc.component": "eventbus",
		"mxrc.operation": "publish",
	})
	defer span.End()

	if env.Metadata == nil {
		env.Metadata = make(map[string]string)
	}
	env.Metadata["event.id"] = id
	tracing.InjectContext(span.Context(), env.Metadata)

	t.next.Publish(env)
	span.SetStatus(tracing.StatusOK, "")
}

// Subscribe wraps h so every dispatch gets its own child span, parented to
// the publish span via the traceparent carried in env.Metadata.
func (t *TracedBus) Subscribe(topic string, h Handler) func() {
	wrapped := func(env Envelope) {
		tc, ok := tracing.ExtractContext(env.Metadata)
		attrs := map[string]string{
			"event.id":       env.Metadata["event.id"],
			"event.topic":    env.Topic,
			"mxrc.component": "eventbus",
			"mxrc.operation": "dispatch",
		}

		var span *tracing.Span
		if ok {
			_, span = t.tracer.StartSpanFromRemote(context.Background(), "EventBus.dispatch", tc, attrs)
		} else {
			_, span = t.tracer.StartSpan(context.Background(), "EventBus.dispatch", attrs)
		}
		defer span.End()

		h(env)

		span.SetAttribute("event.subscriber_count", strconv.Itoa(t.subscriberCount(topic)))
		span.AddEvent("dispatch.completed", nil)
		span.SetStatus(tracing.StatusOK, "")
	}
	return t.next.Subscribe(topic, wrapped)
}

func (t *TracedBus) subscriberCount(topic string) int {
	if b, ok := t.next.(*Bus); ok {
		return b.SubscriberCount(topic)
	}
	return -1
}
