package audit

import (
	"time"

	"github.com/mxrc/control-core/internal/alarm"
	"github.com/mxrc/control-core/internal/mode"
)

// AlarmEscalationDecision builds a Decision for an alarm severity escalation
// (spec §4.A: severity can only be raised, never lowered). from/to are the
// severities before and after Severity.Escalate() was applied.
func AlarmEscalationDecision(a alarm.Alarm, from, to alarm.Severity, nodeID string, now time.Time) *Decision {
	return &Decision{
		Subsystem: "alarm",
		EntityID:  a.ID,
		FromState: from.String(),
		ToState:   to.String(),
		Severity:  severityFraction(to),
		Timestamp: now,
		NodeID:    nodeID,
		Inputs: map[string]interface{}{
			"code":             a.Code,
			"recurrence_count": a.RecurrenceCount,
		},
	}
}

// ArbiterModeDecision builds a Decision for a control-mode transition
// (spec §4.C). taskID is the task driving the transition, if any.
func ArbiterModeDecision(from, to mode.Mode, taskID, nodeID string, now time.Time) *Decision {
	return &Decision{
		Subsystem: "arbiter",
		EntityID:  taskID,
		FromState: from.String(),
		ToState:   to.String(),
		Severity:  0,
		Timestamp: now,
		NodeID:    nodeID,
		Inputs: map[string]interface{}{
			"from_mode": from.String(),
			"to_mode":   to.String(),
		},
	}
}

// SequenceStepDecision builds a Decision for a sequence step transition
// (spec §4.D).
func SequenceStepDecision(runID, stepID, fromStatus, toStatus, nodeID string, attempt int, now time.Time) *Decision {
	return &Decision{
		Subsystem: "sequence",
		EntityID:  runID,
		FromState: fromStatus,
		ToState:   toStatus,
		Severity:  0,
		Timestamp: now,
		NodeID:    nodeID,
		Inputs: map[string]interface{}{
			"step_id": stepID,
			"attempt": attempt,
		},
	}
}

// severityFraction maps alarm.Severity's three-valued ordinal onto [0,1]
// for the Kernel's normalized bounds check (CRITICAL=1.0, WARNING=0.5,
// INFO=0.0).
func severityFraction(s alarm.Severity) float64 {
	switch s {
	case alarm.Critical:
		return 1.0
	case alarm.Warning:
		return 0.5
	default:
		return 0.0
	}
}
