package sequence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/mxrc/control-core/internal/coreerr"
)

// Execution is one running instance of a SequenceDefinition. It implements
// task.Task through TaskAdapter (adapter.go) so a running sequence can be
// dispatched by the Behavior Arbiter like any other behavior.
type Execution struct {
	def     *SequenceDefinition
	ctx     *ExecutionContext
	factory ActionFactory
	log     *zap.Logger
	sem     *semaphore.Weighted

	mu        sync.Mutex
	status    Status
	err       error
	completed int
	startedAt time.Time
	runCtx    context.Context
	cancel    context.CancelFunc
	done      chan struct{}
}

// Config bundles the inputs an Execution needs beyond the definition
// itself.
type Config struct {
	Factory ActionFactory
	Log     *zap.Logger
	// MaxParallel caps concurrently running parallel-branch sub-lists. 0
	// means unbounded (limited only by the branch's own sub-list count).
	MaxParallel int64
}

// NewExecution creates a new, not-yet-started Execution over def.
func NewExecution(def *SequenceDefinition, executionID string, cfg Config) *Execution {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	var sem *semaphore.Weighted
	if cfg.MaxParallel > 0 {
		sem = semaphore.NewWeighted(cfg.MaxParallel)
	}
	return &Execution{
		def:     def,
		ctx:     NewExecutionContext(executionID),
		factory: cfg.Factory,
		log:     log,
		sem:     sem,
		status:  StatusPending,
		done:    make(chan struct{}),
	}
}

// ExecutionContext returns the execution's dynamic context.
func (e *Execution) ExecutionContext() *ExecutionContext { return e.ctx }

// Run executes the sequence's steps to completion, failure, or
// cancellation. Safe to call once; blocks until the sequence finishes.
func (e *Execution) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)

	e.mu.Lock()
	e.status = StatusRunning
	e.startedAt = time.Now()
	e.runCtx = runCtx
	e.cancel = cancel
	e.mu.Unlock()

	defer close(e.done)

	skip := make(map[string]bool)
	var runErr error

	for i, step := range e.def.Steps {
		if e.ctx.Executed(step.StepID) || skip[step.StepID] {
			continue
		}
		if e.ctx.IsCancelled() {
			runErr = coreerr.ErrCancelled
			break
		}
		e.waitWhilePaused(runCtx)

		if branch, ok := e.def.Branches[step.StepID]; ok {
			var branchSkip map[string]bool
			var err error
			branchSkip, err = e.runBranch(runCtx, step.StepID, branch)
			if err != nil {
				if e.ctx.IsCancelled() {
					runErr = coreerr.ErrCancelled
				} else {
					runErr = &coreerr.SequenceFailure{StepIndex: i, StepID: step.StepID, Err: err}
				}
				break
			}
			for id := range branchSkip {
				skip[id] = true
			}
			continue
		}

		if err := e.runStepWithRetry(runCtx, step); err != nil {
			if e.ctx.IsCancelled() {
				runErr = coreerr.ErrCancelled
			} else {
				runErr = &coreerr.SequenceFailure{StepIndex: i, StepID: step.StepID, Err: err}
			}
			break
		}
		e.mu.Lock()
		e.completed++
		e.mu.Unlock()
	}

	e.mu.Lock()
	e.err = runErr
	switch {
	case runErr == coreerr.ErrCancelled:
		e.status = StatusCancelled
	case runErr != nil:
		e.status = StatusFailed
	default:
		e.status = StatusCompleted
	}
	e.mu.Unlock()

	return runErr
}

// runStepWithRetry runs one action step under the sequence's retry policy.
func (e *Execution) runStepWithRetry(ctx context.Context, step Step) error {
	policy := DefaultRetryPolicy
	if e.def.Retry != nil {
		policy = *e.def.Retry
	}

	action, err := e.factory.Create(step.ActionType, step.Parameters)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := policy.DelayForAttempt(attempt - 1)
			if delay > 0 {
				timer := time.NewTimer(delay)
				select {
				case <-timer.C:
				case <-ctx.Done():
					timer.Stop()
					return coreerr.ErrCancelled
				}
			}
		}

		result, err := action.Run(e.ctx)
		if err == nil && result.Success {
			result.ActionID = step.ActionID
			e.ctx.RecordResult(result)
			return nil
		}
		lastErr = err
		if lastErr == nil {
			lastErr = fmt.Errorf("action %q reported failure without error", step.ActionID)
		}
		e.log.Debug("sequence step attempt failed",
			zap.String("step_id", step.StepID), zap.Int("attempt", attempt), zap.Error(lastErr))
	}
	return lastErr
}

// runBranch dispatches to the conditional or parallel handling for branch,
// returning the set of step ids that were NOT taken and must be skipped by
// the caller's main loop.
func (e *Execution) runBranch(ctx context.Context, stepID string, branch Branch) (map[string]bool, error) {
	if branch.IsConditional() {
		return e.runConditional(ctx, branch)
	}
	return nil, e.runParallel(ctx, branch)
}

func (e *Execution) runConditional(ctx context.Context, branch Branch) (map[string]bool, error) {
	taken, err := EvaluateCondition(branch.Condition, e.ctx)
	if err != nil {
		return nil, err
	}

	path, notTaken := branch.TrueSteps, branch.FalseSteps
	if !taken {
		path, notTaken = branch.FalseSteps, branch.TrueSteps
	}

	for _, id := range path {
		if e.ctx.Executed(id) {
			continue
		}
		step, ok := e.stepByID(id)
		if !ok {
			continue
		}
		if err := e.runStepWithRetry(ctx, step); err != nil {
			return nil, err
		}
	}

	skip := make(map[string]bool, len(notTaken))
	for _, id := range notTaken {
		skip[id] = true
	}
	return skip, nil
}

func (e *Execution) runParallel(ctx context.Context, branch Branch) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, group := range branch.ParallelGroups {
		group := group
		g.Go(func() error {
			if e.sem != nil {
				if err := e.sem.Acquire(gctx, 1); err != nil {
					return err
				}
				defer e.sem.Release(1)
			}
			for _, id := range group {
				step, ok := e.stepByID(id)
				if !ok {
					continue
				}
				if err := e.runStepWithRetry(gctx, step); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

func (e *Execution) stepByID(id string) (Step, bool) {
	for _, s := range e.def.Steps {
		if s.StepID == id {
			return s, true
		}
	}
	return Step{}, false
}

func (e *Execution) waitWhilePaused(ctx context.Context) {
	for e.ctx.isPaused() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(25 * time.Millisecond):
		}
	}
}

// Pause requests that the execution pause before its next step.
func (e *Execution) Pause() error {
	e.ctx.setPaused(true)
	e.mu.Lock()
	if e.status == StatusRunning {
		e.status = StatusPaused
	}
	e.mu.Unlock()
	return nil
}

// Resume clears a prior pause request.
func (e *Execution) Resume() error {
	e.ctx.setPaused(false)
	e.mu.Lock()
	if e.status == StatusPaused {
		e.status = StatusRunning
	}
	e.mu.Unlock()
	return nil
}

// Cancel requests cancellation. The running action is asked to stop via
// context cancellation; subsequent steps are skipped.
func (e *Execution) Cancel() error {
	e.ctx.RequestCancel()
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// Wait blocks until the execution reaches a terminal status.
func (e *Execution) Wait() {
	<-e.done
}

// Status returns a snapshot of the execution's progress (spec §4.D
// getStatus).
func (e *Execution) Status() StatusReport {
	e.mu.Lock()
	defer e.mu.Unlock()
	var elapsed time.Duration
	if !e.startedAt.IsZero() {
		elapsed = time.Since(e.startedAt)
	}
	results := make(map[string]ActionResult)
	e.ctx.mu.RLock()
	for k, v := range e.ctx.results {
		results[k] = v
	}
	e.ctx.mu.RUnlock()

	return StatusReport{
		Status:         e.status,
		CompletedSteps: e.completed,
		TotalSteps:     len(e.def.Steps),
		Results:        results,
		Elapsed:        elapsed,
		Err:            e.err,
	}
}
