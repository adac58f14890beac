// Package audit provides a decision-bounds and determinism audit trail for
// the control core (spec §5: every state transition that can change the
// robot's physical behavior must be reproducible and bounds-checked before
// it is allowed to take effect).
//
// The Kernel validates Arbiter mode transitions, Alarm severity
// escalations, and Sequence step transitions. Each validated Decision is
// given a canonical SHA256 hash of its inputs and
// chained to the previous decision's hash (a Merkle-style append-only
// chain), so a post-incident review can replay the exact sequence of
// decisions and detect any gap or alteration.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ViolationType classifies a bounds or determinism violation.
type ViolationType string

const (
	// ViolationNonMonotonicTime - decision timestamp precedes the last one.
	ViolationNonMonotonicTime ViolationType = "non_monotonic_time"

	// ViolationUnboundedParameter - a parameter fell outside its declared range.
	ViolationUnboundedParameter ViolationType = "unbounded_parameter"

	// ViolationMissingInputs - a decision was submitted without recorded inputs.
	ViolationMissingInputs ViolationType = "missing_inputs"

	// ViolationNaNInf - a numeric input was NaN or Inf.
	ViolationNaNInf ViolationType = "nan_inf_detected"
)

// Violation is returned when ValidateDecision rejects a decision.
type Violation struct {
	Type      ViolationType          `json:"type"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Context   map[string]interface{} `json:"context"`
}

func (v *Violation) Error() string {
	return fmt.Sprintf("audit violation [%s]: %s", v.Type, v.Message)
}

// Decision represents a control-affecting state transition submitted for
// audit: an Arbiter mode change, an Alarm severity escalation, or a
// Sequence step transition.
type Decision struct {
	Subsystem    string                 `json:"subsystem"` // "arbiter" | "alarm" | "sequence"
	EntityID     string                 `json:"entity_id"` // task id, alarm id, or sequence run id
	FromState    string                 `json:"from_state"`
	ToState      string                 `json:"to_state"`
	Severity     float64                `json:"severity"` // normalized [0,1]; caller's choice of scale
	Timestamp    time.Time              `json:"timestamp"`
	NodeID       string                 `json:"node_id"`
	Inputs       map[string]interface{} `json:"inputs"`
	DecisionHash string                 `json:"decision_hash"`
	ParentHash   string                 `json:"parent_hash"`
	Bounded      bool                   `json:"bounded"`
}

// Bounds defines the allowed ranges for decision parameters.
type Bounds struct {
	SeverityMin float64
	SeverityMax float64

	// TimestampSkewTolerance is the max forward jump between consecutive
	// decisions before a warning is logged (not a rejection).
	TimestampSkewTolerance time.Duration
}

// DefaultBounds returns production-grade parameter bounds.
func DefaultBounds() Bounds {
	return Bounds{
		SeverityMin:            0.0,
		SeverityMax:            1.0,
		TimestampSkewTolerance: 5 * time.Second,
	}
}

// Kernel enforces bounds and determinism constraints on every decision
// submitted through ValidateDecision, and maintains the hash chain.
type Kernel struct {
	mu               sync.Mutex
	bounds           Bounds
	lastTimestamp    time.Time
	lastDecisionHash string
	violationCount   int64
	verifiedCount    int64
	log              *zap.Logger
	strict           bool // panics on violation; test/simulation use only
}

// New creates a Kernel with default bounds. strict should be false in
// production; it exists so integration tests can fail fast on the first
// violation instead of accumulating a silent counter.
func New(log *zap.Logger, strict bool) *Kernel {
	if log == nil {
		log = zap.NewNop()
	}
	k := &Kernel{
		bounds:        DefaultBounds(),
		lastTimestamp: time.Now(),
		log:           log,
		strict:        strict,
	}
	k.log.Info("audit kernel initialized",
		zap.Bool("strict_mode", strict),
		zap.Float64("severity_max", k.bounds.SeverityMax),
	)
	return k
}

// ValidateDecision checks d against the configured bounds and the
// determinism chain, sets d.DecisionHash and d.ParentHash, and returns an
// error (a *Violation, unless strict mode panics instead) if any check
// fails. On success d.Bounded is set true and the chain advances.
func (k *Kernel) ValidateDecision(d *Decision) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.checkTimeMonotonicity(d.Timestamp); err != nil {
		return k.handleViolation(err)
	}

	if math.IsNaN(d.Severity) || math.IsInf(d.Severity, 0) {
		return k.handleViolation(&Violation{
			Type:      ViolationNaNInf,
			Message:   fmt.Sprintf("severity is NaN or Inf: %f", d.Severity),
			Timestamp: time.Now(),
			Context:   map[string]interface{}{"entity_id": d.EntityID},
		})
	}

	if d.Severity < k.bounds.SeverityMin || d.Severity > k.bounds.SeverityMax {
		return k.handleViolation(&Violation{
			Type:      ViolationUnboundedParameter,
			Message:   fmt.Sprintf("severity %.4f outside bounds [%.4f, %.4f]", d.Severity, k.bounds.SeverityMin, k.bounds.SeverityMax),
			Timestamp: time.Now(),
			Context: map[string]interface{}{
				"entity_id": d.EntityID,
				"value":     d.Severity,
			},
		})
	}

	if len(d.Inputs) == 0 {
		return k.handleViolation(&Violation{
			Type:      ViolationMissingInputs,
			Message:   "decision submitted without recorded inputs",
			Timestamp: time.Now(),
			Context:   map[string]interface{}{"entity_id": d.EntityID},
		})
	}

	hash, err := k.computeDecisionHash(d)
	if err != nil {
		return fmt.Errorf("audit: compute decision hash: %w", err)
	}
	d.DecisionHash = hash
	d.ParentHash = k.lastDecisionHash
	k.lastDecisionHash = hash
	k.lastTimestamp = d.Timestamp
	k.verifiedCount++
	d.Bounded = true

	k.log.Debug("decision validated",
		zap.String("subsystem", d.Subsystem),
		zap.String("entity_id", d.EntityID),
		zap.String("to_state", d.ToState),
		zap.String("hash", hash[:16]),
		zap.Int64("verified_count", k.verifiedCount),
	)

	return nil
}

func (k *Kernel) checkTimeMonotonicity(ts time.Time) error {
	if ts.Before(k.lastTimestamp) {
		return &Violation{
			Type:      ViolationNonMonotonicTime,
			Message:   fmt.Sprintf("time went backwards: %v < %v", ts, k.lastTimestamp),
			Timestamp: time.Now(),
			Context: map[string]interface{}{
				"current":  ts.Format(time.RFC3339Nano),
				"previous": k.lastTimestamp.Format(time.RFC3339Nano),
			},
		}
	}

	if skew := ts.Sub(k.lastTimestamp); skew > k.bounds.TimestampSkewTolerance {
		k.log.Warn("large timestamp skew between decisions",
			zap.Duration("skew", skew),
			zap.Duration("tolerance", k.bounds.TimestampSkewTolerance),
		)
	}

	return nil
}

// computeDecisionHash produces a canonical SHA256 hash over the decision's
// inputs, so two control-core instances fed the same inputs in the same
// order always produce the same chain.
func (k *Kernel) computeDecisionHash(d *Decision) (string, error) {
	canonical := map[string]interface{}{
		"subsystem":  d.Subsystem,
		"entity_id":  d.EntityID,
		"from_state": d.FromState,
		"to_state":   d.ToState,
		"severity":   fmt.Sprintf("%.8f", d.Severity),
		"timestamp":  d.Timestamp.UnixNano(),
		"node_id":    d.NodeID,
		"inputs":     d.Inputs,
	}
	b, err := json.Marshal(canonical)
	if err != nil {
		return "", fmt.Errorf("marshal decision: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// handleViolation records a violation and, in strict mode, panics.
// Production callers (strict=false) get the Violation back as an error.
func (k *Kernel) handleViolation(err error) error {
	k.violationCount++

	v, ok := err.(*Violation)
	if !ok {
		v = &Violation{Type: ViolationType("unknown"), Message: err.Error(), Timestamp: time.Now()}
	}

	k.log.Error("audit violation",
		zap.String("type", string(v.Type)),
		zap.String("message", v.Message),
		zap.Any("context", v.Context),
		zap.Int64("total_violations", k.violationCount),
	)

	if k.strict {
		panic(fmt.Sprintf("audit violation in strict mode: %v", v))
	}

	return v
}

// Stats is a snapshot of kernel counters.
type Stats struct {
	DecisionsVerified int64  `json:"decisions_verified"`
	ViolationCount    int64  `json:"violation_count"`
	LastDecisionHash  string `json:"last_decision_hash"`
}

// GetStats returns current kernel statistics.
func (k *Kernel) GetStats() Stats {
	k.mu.Lock()
	defer k.mu.Unlock()
	return Stats{
		DecisionsVerified: k.verifiedCount,
		ViolationCount:    k.violationCount,
		LastDecisionHash:  k.lastDecisionHash,
	}
}
