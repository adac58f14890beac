package tracing

import (
	"sync"

	"go.uber.org/zap"
)

// Provider manages named Tracer instances, per spec §4.F.
type Provider struct {
	log *zap.Logger

	mu      sync.Mutex
	tracers map[string]*Tracer
}

// NewProvider creates a Provider. log may be nil (a no-op logger is used).
func NewProvider(log *zap.Logger) *Provider {
	if log == nil {
		log = zap.NewNop()
	}
	return &Provider{log: log, tracers: make(map[string]*Tracer)}
}

// Tracer returns the named tracer, creating it on first use.
func (p *Provider) Tracer(name string) *Tracer {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.tracers[name]; ok {
		return t
	}
	t := newTracer(name, p.log)
	p.tracers[name] = t
	return t
}

// Shutdown releases all tracers. The provider must not be used afterward.
func (p *Provider) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracers = make(map[string]*Tracer)
}

// ForceFlush is a no-op since spans are recorded synchronously on End;
// it exists so callers written against an exporting tracer provider (one
// that buffers spans for batched export) don't need a different shutdown
// sequence here.
func (p *Provider) ForceFlush() bool { return true }
