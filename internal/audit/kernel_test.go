package audit

import (
	"errors"
	"math"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestValidateDecisionSuccess(t *testing.T) {
	k := New(zap.NewNop(), false)

	d := &Decision{
		Subsystem: "alarm",
		EntityID:  "a1",
		FromState: "WARNING",
		ToState:   "CRITICAL",
		Severity:  1.0,
		Timestamp: time.Now(),
		NodeID:    "node-1",
		Inputs:    map[string]interface{}{"recurrence_count": 3},
	}

	if err := k.ValidateDecision(d); err != nil {
		t.Fatalf("ValidateDecision: %v", err)
	}
	if d.DecisionHash == "" {
		t.Fatal("expected decision hash to be set")
	}
	if !d.Bounded {
		t.Fatal("expected Bounded=true")
	}
	if stats := k.GetStats(); stats.DecisionsVerified != 1 {
		t.Fatalf("DecisionsVerified = %d, want 1", stats.DecisionsVerified)
	}
}

func TestValidateDecisionChainsHashes(t *testing.T) {
	k := New(zap.NewNop(), false)

	d1 := &Decision{Subsystem: "arbiter", EntityID: "t1", ToState: "AUTO", Timestamp: time.Now(), Inputs: map[string]interface{}{"x": 1}}
	if err := k.ValidateDecision(d1); err != nil {
		t.Fatalf("d1: %v", err)
	}

	d2 := &Decision{Subsystem: "arbiter", EntityID: "t1", ToState: "STANDBY", Timestamp: d1.Timestamp.Add(time.Second), Inputs: map[string]interface{}{"x": 2}}
	if err := k.ValidateDecision(d2); err != nil {
		t.Fatalf("d2: %v", err)
	}

	if d2.ParentHash != d1.DecisionHash {
		t.Fatalf("d2.ParentHash = %q, want %q", d2.ParentHash, d1.DecisionHash)
	}
}

func TestValidateDecisionRejectsOutOfBoundsSeverity(t *testing.T) {
	k := New(zap.NewNop(), false)

	d := &Decision{
		Subsystem: "alarm",
		EntityID:  "a1",
		Severity:  1.5,
		Timestamp: time.Now(),
		Inputs:    map[string]interface{}{"x": 1},
	}

	err := k.ValidateDecision(d)
	if err == nil {
		t.Fatal("expected violation for out-of-bounds severity")
	}
	var v *Violation
	if !errors.As(err, &v) {
		t.Fatalf("expected *Violation, got %T", err)
	}
	if v.Type != ViolationUnboundedParameter {
		t.Fatalf("Type = %s, want %s", v.Type, ViolationUnboundedParameter)
	}
	if stats := k.GetStats(); stats.ViolationCount != 1 {
		t.Fatalf("ViolationCount = %d, want 1", stats.ViolationCount)
	}
}

func TestValidateDecisionRejectsNonMonotonicTime(t *testing.T) {
	k := New(zap.NewNop(), false)
	now := time.Now()

	d1 := &Decision{Subsystem: "alarm", EntityID: "a1", Timestamp: now, Inputs: map[string]interface{}{"x": 1}}
	if err := k.ValidateDecision(d1); err != nil {
		t.Fatalf("d1: %v", err)
	}

	d2 := &Decision{Subsystem: "alarm", EntityID: "a1", Timestamp: now.Add(-time.Second), Inputs: map[string]interface{}{"x": 1}}
	err := k.ValidateDecision(d2)
	var v *Violation
	if !errors.As(err, &v) || v.Type != ViolationNonMonotonicTime {
		t.Fatalf("expected ViolationNonMonotonicTime, got %v", err)
	}
}

func TestValidateDecisionRejectsMissingInputs(t *testing.T) {
	k := New(zap.NewNop(), false)
	d := &Decision{Subsystem: "alarm", EntityID: "a1", Timestamp: time.Now()}
	err := k.ValidateDecision(d)
	var v *Violation
	if !errors.As(err, &v) || v.Type != ViolationMissingInputs {
		t.Fatalf("expected ViolationMissingInputs, got %v", err)
	}
}

func TestValidateDecisionRejectsNaN(t *testing.T) {
	k := New(zap.NewNop(), false)
	d := &Decision{
		Subsystem: "alarm",
		EntityID:  "a1",
		Severity:  math.NaN(),
		Timestamp: time.Now(),
		Inputs:    map[string]interface{}{"x": 1},
	}
	err := k.ValidateDecision(d)
	var v *Violation
	if !errors.As(err, &v) || v.Type != ViolationNaNInf {
		t.Fatalf("expected ViolationNaNInf, got %v", err)
	}
}

func TestValidateDecisionStrictModePanics(t *testing.T) {
	k := New(zap.NewNop(), true)
	d := &Decision{Subsystem: "alarm", EntityID: "a1", Timestamp: time.Now()}

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic in strict mode")
		}
	}()
	_ = k.ValidateDecision(d)
}
