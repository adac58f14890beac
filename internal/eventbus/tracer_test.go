package eventbus

import (
	"context"
	"testing"

	"github.com/mxrc/control-core/internal/tracing"
)

func TestTracedBusPropagatesTraceparent(t *testing.T) {
	provider := tracing.NewProvider(nil)
	tracer := provider.Tracer("test")

	base := New(nil)
	traced := NewTracedBus(base, tracer)

	var gotMeta map[string]string
	traced.Subscribe("t", func(env Envelope) {
		gotMeta = env.Metadata
	})

	traced.Publish(context.Background(), Envelope{Topic: "t"})

	if gotMeta == nil || gotMeta["traceparent"] == "" {
		t.Fatalf("expected traceparent metadata to be propagated, got %+v", gotMeta)
	}
}

func TestTracedBusDispatchWithoutPublishStillWorks(t *testing.T) {
	provider := tracing.NewProvider(nil)
	tracer := provider.Tracer("test")
	base := New(nil)
	traced := NewTracedBus(base, tracer)

	var called bool
	traced.Subscribe("t", func(env Envelope) { called = true })

	base.Publish(Envelope{Topic: "t"})

	if !called {
		t.Fatal("expected handler to be invoked even without trace metadata")
	}
}
