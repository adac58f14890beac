package tracing

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

type spanCtxKey struct{}

// Tracer creates spans for one named component (e.g. "mxrc-rt",
// "mxrc-nonrt"), per spec §4.F.
type Tracer struct {
	name string
	log  *zap.Logger

	mu    sync.Mutex
	ended []*Span // recently ended spans retained for ForceFlush/inspection
}

func newTracer(name string, log *zap.Logger) *Tracer {
	return &Tracer{name: name, log: log}
}

// StartSpan creates a new span. If ctx carries a current span, the new
// span is its child; otherwise it starts a new trace.
func (t *Tracer) StartSpan(ctx context.Context, operationName string, attributes map[string]string) (context.Context, *Span) {
	parent, hasParent := CurrentSpan(ctx)
	var tc TraceContext
	if hasParent {
		parentCtx := parent.Context()
		tc = TraceContext{
			TraceID:      parentCtx.TraceID,
			SpanID:       newSpanID(),
			ParentSpanID: parentCtx.SpanID,
			Sampled:      parentCtx.Sampled,
			TraceState:   parentCtx.TraceState,
			Baggage:      parentCtx.Baggage,
		}
	} else {
		tc = TraceContext{TraceID: newTraceID(), SpanID: newSpanID(), Sampled: true}
	}
	return t.startSpanWithContext(ctx, operationName, tc, attributes)
}

// StartSpanFromRemote creates a span as the child of an externally
// propagated TraceContext (e.g. extracted from an inbound carrier).
func (t *Tracer) StartSpanFromRemote(ctx context.Context, operationName string, parentContext TraceContext, attributes map[string]string) (context.Context, *Span) {
	tc := TraceContext{
		TraceID:      parentContext.TraceID,
		SpanID:       newSpanID(),
		ParentSpanID: parentContext.SpanID,
		Sampled:      parentContext.Sampled,
		TraceState:   parentContext.TraceState,
		Baggage:      parentContext.Baggage,
	}
	return t.startSpanWithContext(ctx, operationName, tc, attributes)
}

func (t *Tracer) startSpanWithContext(ctx context.Context, operationName string, tc TraceContext, attributes map[string]string) (context.Context, *Span) {
	span := &Span{
		ctx:        tc,
		name:       operationName,
		start:      nowFunc(),
		attributes: attributes,
		recording:  true,
		onEnd:      t.recordEnd,
	}
	return context.WithValue(ctx, spanCtxKey{}, span), span
}

func (t *Tracer) recordEnd(s *Span) {
	t.mu.Lock()
	t.ended = append(t.ended, s)
	if len(t.ended) > 1024 {
		t.ended = t.ended[len(t.ended)-1024:]
	}
	t.mu.Unlock()
	if t.log != nil {
		t.log.Debug("span ended",
			zap.String("tracer", t.name),
			zap.String("span", s.name),
			zap.Duration("duration", s.Duration()),
			zap.String("status", s.status.String()),
		)
	}
}

// CurrentSpan returns the span carried on ctx, if any.
func CurrentSpan(ctx context.Context) (*Span, bool) {
	span, ok := ctx.Value(spanCtxKey{}).(*Span)
	return span, ok
}

// WithSpan attaches span to ctx, returning the derived context. Used when
// a span was created out-of-band (e.g. by RTCycleTracer) and needs to
// become "current" for nested StartSpan calls.
func WithSpan(ctx context.Context, span *Span) context.Context {
	return context.WithValue(ctx, spanCtxKey{}, span)
}

// ExtractContext parses a W3C traceparent/tracestate carrier into a
// TraceContext, for spans received from a remote process.
func ExtractContext(carrier map[string]string) (TraceContext, bool) {
	tp, ok := carrier["traceparent"]
	if !ok {
		return TraceContext{}, false
	}
	parts := strings.Split(tp, "-")
	if len(parts) != 4 {
		return TraceContext{}, false
	}
	flags, err := strconv.ParseUint(parts[3], 16, 8)
	if err != nil {
		return TraceContext{}, false
	}
	tc := TraceContext{
		TraceID:    parts[1],
		SpanID:     parts[2],
		Sampled:    flags&0x1 == 1,
		TraceState: carrier["tracestate"],
		IsRemote:   true,
	}
	if baggage, ok := carrier["baggage"]; ok && baggage != "" {
		tc.Baggage = parseBaggage(baggage)
	}
	return tc, true
}

// InjectContext serializes tc into carrier using the W3C traceparent
// (and, if present, tracestate/baggage) header names.
func InjectContext(tc TraceContext, carrier map[string]string) {
	flags := "00"
	if tc.Sampled {
		flags = "01"
	}
	carrier["traceparent"] = "00-" + tc.TraceID + "-" + tc.SpanID + "-" + flags
	if tc.TraceState != "" {
		carrier["tracestate"] = tc.TraceState
	}
	if len(tc.Baggage) > 0 {
		carrier["baggage"] = formatBaggage(tc.Baggage)
	}
}

func parseBaggage(s string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		kv := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(kv) == 2 {
			out[kv[0]] = kv[1]
		}
	}
	return out
}

func formatBaggage(m map[string]string) string {
	var b strings.Builder
	first := true
	for k, v := range m {
		if !first {
			b.WriteByte(',')
		}
		first = false
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(v)
	}
	return b.String()
}
