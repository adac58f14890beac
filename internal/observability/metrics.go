// Package observability — metrics.go
//
// Prometheus metrics for the control core.
//
// Endpoint: GET /metrics on 127.0.0.1:9091 (configurable).
// Format: Prometheus text exposition format (OpenMetrics compatible).
// Bind: loopback only — no external exposure.
//
// Metric naming convention: mxrc_<subsystem>_<name>_<unit>
//
// All metrics are registered on a dedicated prometheus.Registry (not the
// default global registry) to avoid collisions with other instrumented
// libraries in the same process.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metric descriptors for the control core.
type Metrics struct {
	registry *prometheus.Registry

	// ─── Arbiter ──────────────────────────────────────────────────────────────

	// ArbiterTickLatency records Tick() wall-clock duration.
	ArbiterTickLatency prometheus.Histogram

	// ArbiterTicksTotal counts Tick() invocations.
	ArbiterTicksTotal prometheus.Counter

	// ArbiterPreemptionsTotal counts task preemptions, by priority of the
	// preempting task.
	ArbiterPreemptionsTotal *prometheus.CounterVec

	// ArbiterQueueDepth is the current pending-queue depth, by priority lane.
	ArbiterQueueDepth *prometheus.GaugeVec

	// ─── Alarm ────────────────────────────────────────────────────────────────

	// AlarmsRaisedTotal counts RaiseAlarm calls, by severity.
	AlarmsRaisedTotal *prometheus.CounterVec

	// AlarmsActiveGauge is the current number of active alarms, by severity.
	AlarmsActiveGauge *prometheus.GaugeVec

	// AlarmEscalationsTotal counts severity escalations due to recurrence.
	AlarmEscalationsTotal prometheus.Counter

	// ─── Sequence ─────────────────────────────────────────────────────────────

	// SequenceExecutionsTotal counts sequence executions, by terminal status.
	SequenceExecutionsTotal *prometheus.CounterVec

	// SequenceStepDuration records per-step execution latency.
	SequenceStepDuration prometheus.Histogram

	// ─── Bag ──────────────────────────────────────────────────────────────────

	// BagMessagesWrittenTotal counts messages durably written.
	BagMessagesWrittenTotal prometheus.Counter

	// BagMessagesDroppedTotal counts messages dropped due to a full queue.
	BagMessagesDroppedTotal prometheus.Counter

	// BagRotationsTotal counts file rotations.
	BagRotationsTotal prometheus.Counter

	// ─── Tracing ──────────────────────────────────────────────────────────────

	// TracingCyclesSampledTotal counts RT cycles selected for sampling.
	TracingCyclesSampledTotal prometheus.Counter

	// ─── Process ──────────────────────────────────────────────────────────────

	// UptimeSeconds is the number of seconds since the process started.
	UptimeSeconds prometheus.Gauge

	startTime time.Time
}

// NewMetrics creates and registers all control-core Prometheus metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		ArbiterTickLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mxrc",
			Subsystem: "arbiter",
			Name:      "tick_latency_seconds",
			Help:      "Wall-clock duration of Arbiter.Tick().",
			Buckets:   []float64{.0001, .0005, .001, .002, .005, .01, .02, .05, .1},
		}),

		ArbiterTicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mxrc",
			Subsystem: "arbiter",
			Name:      "ticks_total",
			Help:      "Total Arbiter.Tick() invocations.",
		}),

		ArbiterPreemptionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mxrc",
			Subsystem: "arbiter",
			Name:      "preemptions_total",
			Help:      "Total task preemptions, by preempting task priority.",
		}, []string{"priority"}),

		ArbiterQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mxrc",
			Subsystem: "arbiter",
			Name:      "queue_depth",
			Help:      "Current pending-task queue depth, by priority lane.",
		}, []string{"priority"}),

		AlarmsRaisedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mxrc",
			Subsystem: "alarm",
			Name:      "raised_total",
			Help:      "Total RaiseAlarm calls, by severity.",
		}, []string{"severity"}),

		AlarmsActiveGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mxrc",
			Subsystem: "alarm",
			Name:      "active",
			Help:      "Current number of active alarms, by severity.",
		}, []string{"severity"}),

		AlarmEscalationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mxrc",
			Subsystem: "alarm",
			Name:      "escalations_total",
			Help:      "Total severity escalations due to recurrence within the window.",
		}),

		SequenceExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mxrc",
			Subsystem: "sequence",
			Name:      "executions_total",
			Help:      "Total sequence executions, by terminal status.",
		}, []string{"status"}),

		SequenceStepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mxrc",
			Subsystem: "sequence",
			Name:      "step_duration_seconds",
			Help:      "Per-step execution latency within a sequence.",
			Buckets:   prometheus.DefBuckets,
		}),

		BagMessagesWrittenTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mxrc",
			Subsystem: "bag",
			Name:      "messages_written_total",
			Help:      "Total messages durably written to bag files.",
		}),

		BagMessagesDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mxrc",
			Subsystem: "bag",
			Name:      "messages_dropped_total",
			Help:      "Total messages dropped because the writer queue was full.",
		}),

		BagRotationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mxrc",
			Subsystem: "bag",
			Name:      "rotations_total",
			Help:      "Total bag file rotations.",
		}),

		TracingCyclesSampledTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mxrc",
			Subsystem: "tracing",
			Name:      "cycles_sampled_total",
			Help:      "Total RT cycles selected for sampling.",
		}),

		UptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mxrc",
			Subsystem: "process",
			Name:      "uptime_seconds",
			Help:      "Number of seconds since the process started.",
		}),
	}

	reg.MustRegister(
		m.ArbiterTickLatency,
		m.ArbiterTicksTotal,
		m.ArbiterPreemptionsTotal,
		m.ArbiterQueueDepth,
		m.AlarmsRaisedTotal,
		m.AlarmsActiveGauge,
		m.AlarmEscalationsTotal,
		m.SequenceExecutionsTotal,
		m.SequenceStepDuration,
		m.BagMessagesWrittenTotal,
		m.BagMessagesDroppedTotal,
		m.BagRotationsTotal,
		m.TracingCyclesSampledTotal,
		m.UptimeSeconds,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// ServeMetrics starts the Prometheus HTTP metrics server on the given address.
// Blocks until ctx is cancelled or the server fails.
func (m *Metrics) ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go m.updateUptime(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server on %s: %w", addr, err)
	}
	return nil
}

// updateUptime periodically updates the UptimeSeconds gauge.
func (m *Metrics) updateUptime(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.UptimeSeconds.Set(time.Since(m.startTime).Seconds())
		case <-ctx.Done():
			return
		}
	}
}
