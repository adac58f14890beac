// Package bench — ticklatency/main.go
//
// Behavior Arbiter tick latency measurement tool.
//
// Measures the wall-clock duration of Arbiter.Tick() under a loaded queue
// (spec §4.C: "bounded ≤ 10 ms at 10 Hz nominal").
//
// Method:
//  1. Pre-loads the arbiter's pending queue across all five priority lanes.
//  2. Calls Tick() in a tight loop, timing each call with
//     time.Now()/time.Since (CLOCK_MONOTONIC equivalent on Go's runtime
//     clock source).
//  3. Periodically resubmits synthetic tasks so the queue stays loaded for
//     the duration of the run, instead of draining to idle.
//  4. Results are written to a CSV file.
//
// The measurement includes:
//   - Queue pop/push overhead (buffered-channel lanes, spec §4.B)
//   - Preemption-policy evaluation and budget consumption
//   - Statistics bookkeeping
//
// It does NOT include:
//   - Real task execution time (synthetic tasks complete instantly)
//   - Alarm engine or bag logger I/O (not wired into this benchmark)
//
// Output CSV columns:
//   iteration, latency_us, preempted (true/false)
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/mxrc/control-core/internal/arbiter"
	"github.com/mxrc/control-core/internal/budget"
	"github.com/mxrc/control-core/internal/priority"
	"github.com/mxrc/control-core/internal/task"
)

func main() {
	iterations := flag.Int("iterations", 100000, "Number of Tick() calls to measure")
	outputFile := flag.String("output", "ticklatency_raw.csv", "Output CSV file path")
	queueCapacity := flag.Int("queue-capacity", 256, "Per-lane pending queue capacity")
	resubmitEvery := flag.Int("resubmit-every", 1, "Submit a fresh synthetic task every N iterations, across all lanes")
	flag.Parse()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	f, err := os.Create(*outputFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create output: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()
	_ = w.Write([]string{"iteration", "latency_us", "preempted"})

	bud := budget.New(1000, time.Second)
	defer bud.Close()
	a := arbiter.New(nil, nil, *queueCapacity, bud)

	rng := rand.New(rand.NewSource(1))
	var nextID uint64
	submit := func(p priority.Priority) {
		nextID++
		a.RequestBehavior(&task.Request{
			ID:          fmt.Sprintf("bench-%d", nextID),
			Priority:    p,
			Task:        &benchTask{},
			Timestamp:   time.Now(),
			Cancellable: true,
		})
	}

	// Pre-load every lane so the first Tick already has preemption
	// candidates to evaluate.
	for p := priority.EmergencyStop; p <= priority.Maintenance; p++ {
		for i := 0; i < 4; i++ {
			submit(p)
		}
	}

	var p50Bucket [10001]int // microsecond histogram, 0-10000us

	for i := 0; i < *iterations; i++ {
		if *resubmitEvery > 0 && i%*resubmitEvery == 0 {
			submit(priority.Priority(rng.Intn(priority.Levels)))
		}

		statsBefore := a.Statistics()
		start := time.Now()
		a.Tick()
		latency := time.Since(start)
		statsAfter := a.Statistics()

		preempted := statsAfter.TasksPreempted > statsBefore.TasksPreempted

		latencyUs := int(latency.Microseconds())
		if latencyUs >= 0 && latencyUs < len(p50Bucket) {
			p50Bucket[latencyUs]++
		}

		_ = w.Write([]string{
			strconv.Itoa(i),
			strconv.Itoa(latencyUs),
			strconv.FormatBool(preempted),
		})
	}

	p50, p95, p99 := computePercentiles(p50Bucket[:], *iterations)

	fmt.Printf("Arbiter Tick Latency Results (%d iterations)\n", *iterations)
	fmt.Printf("  p50: %dus\n", p50)
	fmt.Printf("  p95: %dus\n", p95)
	fmt.Printf("  p99: %dus\n", p99)
	fmt.Printf("  Output: %s\n", *outputFile)

	// spec §4.C bounds Tick() at <=10ms (10000us) at 10Hz nominal.
	if p99 > 10000 {
		fmt.Fprintf(os.Stderr, "FAIL: p99 %dus exceeds 10000us (10ms) tick budget\n", p99)
		os.Exit(1)
	}
}

func computePercentiles(hist []int, total int) (p50, p95, p99 int) {
	// Latencies past the last bucket are not counted in hist, so a
	// percentile the histogram never reaches lies beyond it.
	p50, p95, p99 = len(hist), len(hist), len(hist)
	targets := []struct {
		pct float64
		out *int
	}{
		{0.50, &p50},
		{0.95, &p95},
		{0.99, &p99},
	}
	cumulative := 0
	ti := 0
	for i, count := range hist {
		cumulative += count
		for ti < len(targets) && float64(cumulative) >= targets[ti].pct*float64(total) {
			*targets[ti].out = i
			ti++
		}
		if ti == len(targets) {
			break
		}
	}
	return
}

// benchTask is a minimal Task that never reaches a terminal state on its
// own, so it stays available as a preemption target for the duration of
// the benchmark.
type benchTask struct {
	status task.Status
}

func (b *benchTask) Start() error  { b.status = task.Running; return nil }
func (b *benchTask) Stop() error   { b.status = task.Cancelled; return nil }
func (b *benchTask) Pause() error  { b.status = task.Paused; return nil }
func (b *benchTask) Resume() error { b.status = task.Running; return nil }
func (b *benchTask) GetStatus() task.Status {
	if b.status == task.Idle {
		return task.Idle
	}
	return task.Running
}
func (b *benchTask) GetProgress() float64 { return 0 }
