package tracing

import (
	"context"
	"testing"
)

func TestStartSpanRootHasNoParent(t *testing.T) {
	p := NewProvider(nil)
	tracer := p.Tracer("mxrc-rt")
	ctx, span := tracer.StartSpan(context.Background(), "op", nil)
	tc := span.Context()
	if tc.ParentSpanID != "" {
		t.Fatalf("root span should have empty ParentSpanID, got %q", tc.ParentSpanID)
	}
	if tc.TraceID == "" || tc.SpanID == "" {
		t.Fatalf("expected non-empty trace/span ids, got %+v", tc)
	}
	if got, ok := CurrentSpan(ctx); !ok || got != span {
		t.Fatalf("CurrentSpan should return the started span")
	}
}

func TestStartSpanChildInheritsTraceID(t *testing.T) {
	p := NewProvider(nil)
	tracer := p.Tracer("mxrc-rt")
	ctx, root := tracer.StartSpan(context.Background(), "root", nil)
	_, child := tracer.StartSpan(ctx, "child", nil)

	rootCtx := root.Context()
	childCtx := child.Context()
	if childCtx.TraceID != rootCtx.TraceID {
		t.Fatalf("child trace id %q != root trace id %q", childCtx.TraceID, rootCtx.TraceID)
	}
	if childCtx.ParentSpanID != rootCtx.SpanID {
		t.Fatalf("child parent span id %q != root span id %q", childCtx.ParentSpanID, rootCtx.SpanID)
	}
}

func TestSpanEndIdempotent(t *testing.T) {
	p := NewProvider(nil)
	tracer := p.Tracer("mxrc-rt")
	_, span := tracer.StartSpan(context.Background(), "op", nil)
	if !span.IsRecording() {
		t.Fatalf("span should be recording after start")
	}
	span.End()
	if span.IsRecording() {
		t.Fatalf("span should not be recording after End")
	}
	span.End() // must not panic or double-count
}

func TestInjectExtractRoundTrip(t *testing.T) {
	tc := TraceContext{TraceID: "abc123", SpanID: "def456", Sampled: true, Baggage: map[string]string{"k": "v"}}
	carrier := make(map[string]string)
	InjectContext(tc, carrier)

	got, ok := ExtractContext(carrier)
	if !ok {
		t.Fatalf("ExtractContext failed to parse injected carrier: %v", carrier)
	}
	if got.TraceID != tc.TraceID || got.SpanID != tc.SpanID {
		t.Fatalf("round trip mismatch: got %+v, want trace/span from %+v", got, tc)
	}
	if !got.Sampled {
		t.Fatalf("expected Sampled=true to round trip")
	}
	if !got.IsRemote {
		t.Fatalf("extracted context should be marked remote")
	}
	if got.Baggage["k"] != "v" {
		t.Fatalf("baggage did not round trip: %+v", got.Baggage)
	}
}

func TestExtractContextMissingTraceparent(t *testing.T) {
	_, ok := ExtractContext(map[string]string{})
	if ok {
		t.Fatalf("expected ExtractContext to fail without a traceparent header")
	}
}

func TestStartSpanFromRemote(t *testing.T) {
	p := NewProvider(nil)
	tracer := p.Tracer("mxrc-rt")
	remote := TraceContext{TraceID: "remotetrace", SpanID: "remotespan", Sampled: true, IsRemote: true}

	_, span := tracer.StartSpanFromRemote(context.Background(), "inbound", remote, nil)
	tc := span.Context()
	if tc.TraceID != remote.TraceID {
		t.Fatalf("trace id = %q, want %q", tc.TraceID, remote.TraceID)
	}
	if tc.ParentSpanID != remote.SpanID {
		t.Fatalf("parent span id = %q, want %q", tc.ParentSpanID, remote.SpanID)
	}
}
