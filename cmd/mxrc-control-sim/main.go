// Package main — cmd/mxrc-control-sim/main.go
//
// Behavior Arbiter load simulator.
//
// Purpose: validate the preemption-dominance property of spec §8 before
// release — that across a synthetic pallet-shuttle workload mix, every
// preemption the arbiter performs is to a strictly higher-priority
// candidate, and that NORMAL_TASK submissions are not starved beyond a
// configurable bound even under sustained EMERGENCY_STOP/URGENT_TASK
// pressure.
//
// Workload model: each simulated tick, a synthetic task arrives on one of
// the five priority lanes with probability arrivalRate[lane]. Task runtime
// is drawn from an exponential distribution with mean meanRuntime[lane].
// The arbiter is driven by repeated Tick() calls exactly as
// cmd/mxrc-controld drives it, minus the real I/O (alarm engine, bag
// logger, tracing) — this is a pure scheduling-core simulation.
//
// Dominance condition (spec §8, scenario-style):
//   P(normal_task_wait_ticks <= maxNormalWaitTicks) > 0.95
//
// Output: per-tick CSV to stdout (tick, current_priority, pending_count,
// preemptions_total). Summary to stderr: preemption-invariant violations
// (should always be zero) and the dominance condition result.
//
// Usage:
//   mxrc-control-sim [flags]
//   mxrc-control-sim -ticks 100000 -seed 42 -max-normal-wait 500
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"strconv"
	"time"

	"github.com/mxrc/control-core/internal/arbiter"
	"github.com/mxrc/control-core/internal/budget"
	"github.com/mxrc/control-core/internal/priority"
	"github.com/mxrc/control-core/internal/task"
)

func main() {
	// ── Flags ─────────────────────────────────────────────────────────────────
	ticks := flag.Int("ticks", 100000, "Number of simulated ticks")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Random seed")
	maxNormalWait := flag.Int("max-normal-wait", 500, "Dominance bound: max ticks a NORMAL_TASK may wait before running")
	queueCapacity := flag.Int("queue-capacity", 256, "Per-lane pending queue capacity")
	budgetCapacity := flag.Int("budget-capacity", 100, "Preemption token budget capacity")
	budgetRefill := flag.Duration("budget-refill", time.Minute, "Preemption token budget refill period")
	flag.Parse()

	rng := rand.New(rand.NewSource(*seed))

	// ── Simulation ────────────────────────────────────────────────────────────
	sim := newSimulator(*ticks, *queueCapacity, *budgetCapacity, *budgetRefill, rng)
	results := sim.run()

	// ── Output: CSV to stdout ─────────────────────────────────────────────────
	w := csv.NewWriter(os.Stdout)
	_ = w.Write([]string{"tick", "current_priority", "pending_count", "preemptions_total"})
	for _, r := range results {
		_ = w.Write([]string{
			strconv.Itoa(r.Tick),
			r.CurrentPriority,
			strconv.Itoa(r.PendingCount),
			strconv.FormatUint(r.PreemptionsTotal, 10),
		})
	}
	w.Flush()

	// ── Preemption-invariant + dominance condition evaluation ────────────────
	var waitTicks []int
	for _, w := range sim.normalWaitTicks {
		waitTicks = append(waitTicks, w)
	}
	withinBound := 0
	for _, wt := range waitTicks {
		if wt <= *maxNormalWait {
			withinBound++
		}
	}
	var dominanceProbability float64
	if len(waitTicks) > 0 {
		dominanceProbability = float64(withinBound) / float64(len(waitTicks))
	} else {
		dominanceProbability = 1.0
	}

	fmt.Fprintf(os.Stderr, "\n=== SIMULATION RESULT ===\n")
	fmt.Fprintf(os.Stderr, "Ticks run:                    %d\n", *ticks)
	fmt.Fprintf(os.Stderr, "Preemption invariant violations: %d\n", sim.invariantViolations)
	fmt.Fprintf(os.Stderr, "NORMAL_TASK submissions observed: %d\n", len(waitTicks))
	fmt.Fprintf(os.Stderr, "Within wait bound (<=%d ticks):  %d / %d (%.1f%%)\n",
		*maxNormalWait, withinBound, len(waitTicks), dominanceProbability*100)
	fmt.Fprintf(os.Stderr, "Dominance condition (P > 0.95): %v\n", dominanceProbability > 0.95)

	if sim.invariantViolations == 0 && dominanceProbability > 0.95 {
		fmt.Fprintf(os.Stderr, "RESULT: PASS\n")
		os.Exit(0)
	}
	fmt.Fprintf(os.Stderr, "RESULT: FAIL\n")
	os.Exit(2)
}

// tickResult holds the output of a single simulated tick.
type tickResult struct {
	Tick             int
	CurrentPriority  string
	PendingCount     int
	PreemptionsTotal uint64
}

// arrivalRate is the per-tick probability of a new task arriving on a lane,
// and meanRuntimeTicks is the mean of the exponential runtime distribution
// for tasks on that lane. Indexed by priority.Priority.
var arrivalRate = [priority.Levels]float64{
	priority.EmergencyStop: 0.0005,
	priority.SafetyIssue:   0.002,
	priority.UrgentTask:    0.01,
	priority.NormalTask:    0.05,
	priority.Maintenance:   0.002,
}

var meanRuntimeTicks = [priority.Levels]float64{
	priority.EmergencyStop: 3,
	priority.SafetyIssue:   10,
	priority.UrgentTask:    20,
	priority.NormalTask:    50,
	priority.Maintenance:   100,
}

// simulator drives an *arbiter.Arbiter with a synthetic workload.
type simulator struct {
	ticks int
	a     *arbiter.Arbiter
	bud   *budget.Bucket
	rng   *rand.Rand

	nextID              uint64
	invariantViolations int
	lastPriority        map[string]priority.Priority
	normalSubmitTick    map[string]int
	normalWaitTicks     []int
}

func newSimulator(ticks, queueCapacity, budgetCapacity int, budgetRefill time.Duration, rng *rand.Rand) *simulator {
	bud := budget.New(budgetCapacity, budgetRefill)
	return &simulator{
		ticks:            ticks,
		a:                arbiter.New(nil, nil, queueCapacity, bud),
		bud:              bud,
		rng:              rng,
		lastPriority:     make(map[string]priority.Priority),
		normalSubmitTick: make(map[string]int),
	}
}

// run executes the simulation and returns per-tick results.
// Complexity: O(ticks). Memory: O(ticks) for the result slice.
func (s *simulator) run() []tickResult {
	defer s.bud.Close()
	results := make([]tickResult, s.ticks)

	for t := 0; t < s.ticks; t++ {
		for p := priority.EmergencyStop; p <= priority.Maintenance; p++ {
			if s.rng.Float64() < arrivalRate[p] {
				s.submit(p, t)
			}
		}

		beforeID, beforeOK := s.a.GetCurrentTaskID()
		preemptedBefore := s.a.Statistics().TasksPreempted
		s.a.Tick()
		afterID, afterOK := s.a.GetCurrentTaskID()

		if afterOK && (!beforeOK || afterID != beforeID) {
			// A new task took the current slot: verify it either filled an
			// idle slot or preempted a strictly lower-priority predecessor.
			if beforeOK && s.a.Statistics().TasksPreempted > preemptedBefore {
				before := s.lastPriority[beforeID]
				after := s.lastPriority[afterID]
				if !(after < before) {
					s.invariantViolations++
				}
			}
			if submitTick, ok := s.normalSubmitTick[afterID]; ok {
				s.normalWaitTicks = append(s.normalWaitTicks, t-submitTick)
				delete(s.normalSubmitTick, afterID)
			}
		}

		stats := s.a.Statistics()
		cur := "IDLE"
		if afterOK {
			cur = s.lastPriority[afterID].String()
		}
		results[t] = tickResult{
			Tick:             t,
			CurrentPriority:  cur,
			PendingCount:     s.a.GetPendingBehaviorCount(),
			PreemptionsTotal: stats.TasksPreempted,
		}
	}

	return results
}

func (s *simulator) submit(p priority.Priority, tick int) {
	s.nextID++
	id := fmt.Sprintf("sim-%d", s.nextID)
	s.lastPriority[id] = p
	if p == priority.NormalTask {
		s.normalSubmitTick[id] = tick
	}
	runtime := 1 + int(s.rng.ExpFloat64()*meanRuntimeTicks[p])
	s.a.RequestBehavior(&task.Request{
		ID:          id,
		Priority:    p,
		Task:        newSyntheticTask(runtime),
		Timestamp:   time.Now(),
		Cancellable: true,
	})
}

// syntheticTask completes itself after a fixed number of GetStatus polls
// following Start, modeling a bounded-duration behavior without any real
// wall-clock wait.
type syntheticTask struct {
	remainingTicks int
	status         task.Status
}

func newSyntheticTask(runtimeTicks int) *syntheticTask {
	if runtimeTicks < 1 {
		runtimeTicks = 1
	}
	return &syntheticTask{remainingTicks: runtimeTicks, status: task.Idle}
}

func (s *syntheticTask) Start() error {
	s.status = task.Running
	return nil
}

func (s *syntheticTask) Stop() error {
	s.status = task.Cancelled
	return nil
}

func (s *syntheticTask) Pause() error {
	s.status = task.Paused
	return nil
}

func (s *syntheticTask) Resume() error {
	s.status = task.Running
	return nil
}

func (s *syntheticTask) GetStatus() task.Status {
	if s.status == task.Running {
		s.remainingTicks--
		if s.remainingTicks <= 0 {
			s.status = task.Completed
		}
	}
	return s.status
}

func (s *syntheticTask) GetProgress() float64 {
	return math.Max(0, 1.0-float64(s.remainingTicks)/10.0)
}
