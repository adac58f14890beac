// Package main — cmd/mxrc-controld/main.go
//
// Control core daemon entrypoint.
//
// Startup sequence:
//  1. Load and validate config from /etc/mxrc/control-core.yaml.
//  2. Initialise structured logger (zap, JSON format).
//  3. Construct the Tracing Core provider and the RT-cycle tracer.
//  4. Load the alarm catalog and construct the Alarm Engine over a
//     tracing-instrumented EventBus (traceparent propagates across the
//     publish/dispatch boundary).
//  5. Open the bbolt-backed sequence/template registry.
//  6. Construct the audit kernel and wire alarm escalations into the
//     audit chain.
//  7. Construct the preemption budget and the Behavior Arbiter.
//  8. Open the Bag Logger's async writer.
//  9. Start the Prometheus metrics server (127.0.0.1:9091).
// 10. Start the operator Unix-socket console.
// 11. Start the arbiter tick loop at the configured interval.
// 12. Register a SIGHUP handler for config hot-reload.
// 13. Block on SIGINT/SIGTERM for graceful shutdown.
//
// Shutdown sequence (on SIGINT/SIGTERM):
//  1. Cancel the root context (propagates to all goroutines).
//  2. Stop the tick loop and the operator console.
//  3. Close the bag writer (flushes and finalizes the active file).
//  4. Close the sequence registry.
//  5. Flush the logger.
//  6. Exit 0.
//
// On config validation failure: exit 1 immediately.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mxrc/control-core/internal/alarm"
	"github.com/mxrc/control-core/internal/arbiter"
	"github.com/mxrc/control-core/internal/audit"
	"github.com/mxrc/control-core/internal/bag"
	"github.com/mxrc/control-core/internal/budget"
	"github.com/mxrc/control-core/internal/config"
	"github.com/mxrc/control-core/internal/eventbus"
	"github.com/mxrc/control-core/internal/observability"
	"github.com/mxrc/control-core/internal/operator"
	"github.com/mxrc/control-core/internal/sequregistry"
	"github.com/mxrc/control-core/internal/tracing"
)

func main() {
	// ── Flags ─────────────────────────────────────────────────────────────────
	configPath := flag.String("config", "/etc/mxrc/control-core.yaml", "Path to control-core.yaml")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("mxrc-controld %s (commit=%s built=%s)\n",
			config.Version, config.GitCommit, config.BuildTime)
		os.Exit(0)
	}

	// ── Step 1: Load config ───────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: config load failed: %v\n", err)
		os.Exit(1)
	}

	// ── Step 2: Initialise logger ─────────────────────────────────────────────
	log, err := buildLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("mxrc-controld starting",
		zap.String("version", config.Version),
		zap.String("commit", config.GitCommit),
		zap.String("built", config.BuildTime),
		zap.String("node_id", cfg.NodeID),
		zap.String("config", *configPath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Step 3: Tracing Core ──────────────────────────────────────────────────
	tracerProvider := tracing.NewProvider(log)
	rtTracer := tracing.NewRTCycleTracer(tracerProvider.Tracer("mxrc-rt"), cfg.Tracing.RTSamplingRate)
	rtTracer.SetEnabled(cfg.Tracing.Enabled)
	log.Info("tracing core constructed",
		zap.Float64("rt_sampling_rate", cfg.Tracing.RTSamplingRate),
		zap.Bool("enabled", cfg.Tracing.Enabled))

	// ── Step 4: Alarm catalog + engine ────────────────────────────────────────
	catalog, err := alarm.LoadCatalog(cfg.Alarm.CatalogPath)
	if err != nil {
		log.Fatal("alarm catalog load failed", zap.Error(err), zap.String("path", cfg.Alarm.CatalogPath))
	}

	bus := eventbus.NewTracedBus(eventbus.New(log), tracerProvider.Tracer("mxrc-eventbus"))
	alarmEngine := alarm.New(catalog, log, &alarmBusAdapter{bus: bus})
	log.Info("alarm engine constructed", zap.String("catalog_path", cfg.Alarm.CatalogPath))

	// ── Step 5: Sequence registry ──────────────────────────────────────────────
	seqStore, err := sequregistry.Open(cfg.Sequence.RegistryDBPath)
	if err != nil {
		log.Fatal("sequence registry open failed", zap.Error(err), zap.String("path", cfg.Sequence.RegistryDBPath))
	}
	defer seqStore.Close() //nolint:errcheck
	log.Info("sequence registry opened", zap.String("path", cfg.Sequence.RegistryDBPath))

	// ── Step 6: Audit kernel ──────────────────────────────────────────────────
	auditKernel := audit.New(log, false)
	bus.Subscribe("alarm", func(env eventbus.Envelope) {
		ev, ok := env.Payload.(alarm.Event)
		if !ok || ev.Kind != alarm.EventEscalated {
			return
		}
		d := audit.AlarmEscalationDecision(ev.Alarm, ev.PriorSeverity, ev.Alarm.Severity, cfg.NodeID, time.Now())
		if err := auditKernel.ValidateDecision(d); err != nil {
			log.Warn("audit violation on alarm escalation", zap.Error(err), zap.String("alarm_id", ev.Alarm.ID))
		}
	})

	// ── Step 7: Preemption budget + Behavior Arbiter ──────────────────────────
	preemptBudget := budget.New(cfg.Arbiter.PreemptionBudgetCapacity, cfg.Arbiter.PreemptionBudgetRefillPeriod)
	defer preemptBudget.Close()
	a := arbiter.New(log, alarmEngine, cfg.Arbiter.QueueCapacityPerLane, preemptBudget)

	// ── Step 8: Bag Logger ────────────────────────────────────────────────────
	bagWriter, err := bag.NewAsyncWriter(
		cfg.Bag.Dir,
		cfg.Bag.QueueCapacity,
		bag.RotationPolicy{MaxBytes: cfg.Bag.RotationMaxBytes, MaxAge: cfg.Bag.RotationMaxAge},
		bag.RetentionPolicy{MaxAge: cfg.Bag.RetentionMaxAge, MaxCount: cfg.Bag.RetentionMaxCount},
		log,
	)
	if err != nil {
		log.Fatal("bag writer open failed", zap.Error(err), zap.String("dir", cfg.Bag.Dir))
	}
	defer bagWriter.Close() //nolint:errcheck
	log.Info("bag logger started", zap.String("dir", cfg.Bag.Dir))

	// ── Step 9: Prometheus metrics ────────────────────────────────────────────
	metrics := observability.NewMetrics()
	go func() {
		if err := metrics.ServeMetrics(ctx, cfg.Observability.MetricsAddr); err != nil {
			log.Error("metrics server error", zap.Error(err))
		}
	}()
	log.Info("metrics server started", zap.String("addr", cfg.Observability.MetricsAddr))

	// ── Step 10: Operator console ─────────────────────────────────────────────
	if cfg.Operator.Enabled {
		opSrv := operator.NewServer(cfg.Operator.SocketPath, a, alarmEngine, log)
		go func() {
			if err := opSrv.ListenAndServe(ctx); err != nil {
				log.Error("operator server error", zap.Error(err))
			}
		}()
		log.Info("operator console started", zap.String("socket", cfg.Operator.SocketPath))
	} else {
		log.Info("operator console disabled")
	}

	// ── Step 11: Arbiter tick loop ─────────────────────────────────────────────
	tickDone := make(chan struct{})
	go runTickLoop(ctx, a, rtTracer, metrics, cfg.Arbiter.TickInterval, tickDone)
	log.Info("arbiter tick loop started", zap.Duration("interval", cfg.Arbiter.TickInterval))

	// ── Step 12: SIGHUP hot-reload ─────────────────────────────────────────────
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			log.Info("SIGHUP received — reloading config...")
			newCfg, err := config.Load(*configPath)
			if err != nil {
				log.Error("config hot-reload failed — retaining old config", zap.Error(err))
				continue
			}
			// Only non-destructive fields are applied live (spec: bag dir,
			// sequence registry path, and operator socket path require a
			// restart). The RT sampling rate is the only field applied live;
			// log level and every other field keep their startup values.
			rtTracer.SetSamplingRate(newCfg.Tracing.RTSamplingRate)
			log.Info("config hot-reload applied",
				zap.Float64("rt_sampling_rate", newCfg.Tracing.RTSamplingRate))
		}
	}()

	// ── Step 13: Wait for shutdown signal ─────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutdown signal received", zap.String("signal", sig.String()))

	cancel()
	<-tickDone

	log.Info("mxrc-controld shutdown complete")
}

// runTickLoop drives the Behavior Arbiter at a fixed rate, sampling an RT
// cycle span around each Tick per spec §4.F and recording latency into
// metrics. Exits when ctx is cancelled.
func runTickLoop(ctx context.Context, a *arbiter.Arbiter, rtTracer *tracing.RTCycleTracer, metrics *observability.Metrics, interval time.Duration, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var cycle uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cycle++
			rtTracer.StartCycle(cycle)
			start := time.Now()

			a.Tick()

			metrics.ArbiterTickLatency.Observe(time.Since(start).Seconds())
			metrics.ArbiterTicksTotal.Inc()
			rtTracer.EndCycle(true)
		}
	}
}

// alarmBusAdapter adapts eventbus.TracedBus to alarm.EventBus, wrapping
// each alarm.Event in an Envelope so alarm lifecycle events flow through
// the same traced bus as every other control-core event.
type alarmBusAdapter struct {
	bus *eventbus.TracedBus
}

func (a *alarmBusAdapter) Publish(event alarm.Event) {
	a.bus.Publish(context.Background(), eventbus.Envelope{Topic: "alarm", Payload: event})
}

// buildLogger constructs a zap.Logger with the given level and format.
func buildLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	return cfg.Build()
}
