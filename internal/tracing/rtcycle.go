package tracing

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
)

func float64ToBits(f float64) uint64 { return math.Float64bits(f) }
func bitsToFloat64(b uint64) float64 { return math.Float64frombits(b) }

// RTCycleTracer provides low-overhead, sampled tracing for the control
// loop's real-time cycle (spec §4.F). The not-sampled path does no span
// allocation: startCycle only creates a Span when the cycle is chosen for
// sampling.
//
// original_source/'s RTCycleTracer keeps the current cycle span in
// thread-local storage; this type keeps it in a mutex-protected field
// instead, since the control loop runs its RT cycle on a single
// dedicated goroutine and true per-goroutine locals don't exist in Go.
type RTCycleTracer struct {
	tracer *Tracer

	enabled      atomic.Bool
	samplingRate atomic.Uint64 // bits of a float64, via math.Float64bits

	totalCycles   atomic.Uint64
	sampledCycles atomic.Uint64

	mu           sync.Mutex
	currentSpan  *Span
	currentCycle uint64
}

// NewRTCycleTracer creates a tracer over the given Tracer with the given
// sampling rate (0.0-1.0; out-of-range values clamp). Default is 0.1.
func NewRTCycleTracer(tracer *Tracer, samplingRate float64) *RTCycleTracer {
	if samplingRate < 0 {
		samplingRate = 0
	}
	if samplingRate > 1 {
		samplingRate = 1
	}
	rt := &RTCycleTracer{tracer: tracer}
	rt.enabled.Store(true)
	rt.setSamplingRateBits(samplingRate)
	return rt
}

func (rt *RTCycleTracer) setSamplingRateBits(rate float64) { rt.samplingRate.Store(float64ToBits(rate)) }

// StartCycle begins tracing for the given RT cycle number. No-op
// (allocation-free) if disabled or the cycle is not sampled.
func (rt *RTCycleTracer) StartCycle(cycleNumber uint64) {
	rt.totalCycles.Add(1)
	rt.mu.Lock()
	rt.currentCycle = cycleNumber
	rt.currentSpan = nil
	rt.mu.Unlock()

	if !rt.enabled.Load() || !rt.shouldSample() {
		return
	}
	rt.sampledCycles.Add(1)
	_, span := rt.tracer.StartSpan(context.Background(), fmt.Sprintf("rt_cycle_%d", cycleNumber), map[string]string{
		"cycle_number": fmt.Sprintf("%d", cycleNumber),
	})
	rt.mu.Lock()
	rt.currentSpan = span
	rt.mu.Unlock()
}

// EndCycle ends the current cycle's span, if one was created.
func (rt *RTCycleTracer) EndCycle(success bool) {
	rt.mu.Lock()
	span := rt.currentSpan
	rt.currentSpan = nil
	rt.mu.Unlock()
	if span == nil {
		return
	}
	if success {
		span.SetStatus(StatusOK, "")
	} else {
		span.SetStatus(StatusError, "cycle failed")
	}
	span.End()
}

// RecordAction adds an action-execution event to the current cycle span.
// No-op if the cycle is not being sampled.
func (rt *RTCycleTracer) RecordAction(actionName string, durationUs uint64) {
	rt.mu.Lock()
	span := rt.currentSpan
	rt.mu.Unlock()
	if span == nil {
		return
	}
	span.AddEvent(actionName, map[string]string{"duration_us": fmt.Sprintf("%d", durationUs)})
}

// RecordTiming attaches schedule/actual/deadline timing attributes to the
// current cycle span, recording jitter (actual-schedule) and slack
// (deadline-actual) so overruns are visible in the trace. No-op if the
// cycle is not being sampled.
func (rt *RTCycleTracer) RecordTiming(scheduleUs, actualUs, deadlineUs uint64) {
	rt.mu.Lock()
	span := rt.currentSpan
	rt.mu.Unlock()
	if span == nil {
		return
	}
	span.SetAttribute("schedule_time_us", fmt.Sprintf("%d", scheduleUs))
	span.SetAttribute("actual_time_us", fmt.Sprintf("%d", actualUs))
	span.SetAttribute("deadline_us", fmt.Sprintf("%d", deadlineUs))

	jitterUs := int64(actualUs) - int64(scheduleUs)
	slackUs := int64(deadlineUs) - int64(actualUs)
	span.SetAttribute("jitter_us", fmt.Sprintf("%d", jitterUs))
	span.SetAttribute("slack_us", fmt.Sprintf("%d", slackUs))

	// Thresholds match spec §4.F: jitter beyond 1ms or slack under 1ms are
	// each tagged as their own event on the cycle span.
	if jitterUs > 1000 || jitterUs < -1000 {
		span.AddEvent("high_jitter_detected", map[string]string{"jitter_us": fmt.Sprintf("%d", jitterUs)})
	}
	if slackUs < 1000 {
		span.AddEvent("low_slack_detected", map[string]string{"slack_us": fmt.Sprintf("%d", slackUs)})
	}
}

// SetEnabled turns RT cycle tracing on or off.
func (rt *RTCycleTracer) SetEnabled(enabled bool) { rt.enabled.Store(enabled) }

// IsEnabled reports whether RT cycle tracing is currently on.
func (rt *RTCycleTracer) IsEnabled() bool { return rt.enabled.Load() }

// SetSamplingRate updates the sampling rate (0.0-1.0; out-of-range
// values clamp).
func (rt *RTCycleTracer) SetSamplingRate(rate float64) {
	if rate < 0 {
		rate = 0
	}
	if rate > 1 {
		rate = 1
	}
	rt.setSamplingRateBits(rate)
}

// SamplingRate returns the current sampling rate.
func (rt *RTCycleTracer) SamplingRate() float64 { return bitsToFloat64(rt.samplingRate.Load()) }

// Stats returns a human-readable summary of cycle/sample counters.
func (rt *RTCycleTracer) Stats() string {
	total := rt.totalCycles.Load()
	sampled := rt.sampledCycles.Load()
	return fmt.Sprintf("cycles=%d sampled=%d rate=%.3f", total, sampled, rt.SamplingRate())
}

// shouldSample draws a uniform random value in [0,1) via crypto/rand and
// compares it against the sampling rate.
func (rt *RTCycleTracer) shouldSample() bool {
	rate := rt.SamplingRate()
	if rate <= 0 {
		return false
	}
	if rate >= 1 {
		return true
	}
	var b [8]byte
	_, _ = rand.Read(b[:])
	r := float64(binary.BigEndian.Uint64(b[:])>>11) / (1 << 53)
	return r < rate
}
