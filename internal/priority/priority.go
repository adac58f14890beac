// Package priority defines the five behavior priority levels shared by the
// queues, the arbiter, and the sequence engine.
package priority

import "fmt"

// Priority orders work submitted to the Behavior Arbiter. Lower ordinal is
// higher priority. Values must match the ordering in spec §3 exactly:
// EMERGENCY_STOP < SAFETY_ISSUE < URGENT_TASK < NORMAL_TASK < MAINTENANCE.
type Priority uint8

const (
	EmergencyStop Priority = iota
	SafetyIssue
	UrgentTask
	NormalTask
	Maintenance

	// Levels is the number of distinct priority lanes.
	Levels = int(Maintenance) + 1
)

// String returns the human-readable priority name.
func (p Priority) String() string {
	switch p {
	case EmergencyStop:
		return "EMERGENCY_STOP"
	case SafetyIssue:
		return "SAFETY_ISSUE"
	case UrgentTask:
		return "URGENT_TASK"
	case NormalTask:
		return "NORMAL_TASK"
	case Maintenance:
		return "MAINTENANCE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(p))
	}
}

// Valid reports whether p is one of the five defined levels.
func (p Priority) Valid() bool {
	return p <= Maintenance
}

// Preemptive reports whether a request at this level is allowed to preempt
// a running lower-priority task. Levels 0-2 (EMERGENCY_STOP, SAFETY_ISSUE,
// URGENT_TASK) may preempt; 3-4 (NORMAL_TASK, MAINTENANCE) may not.
func (p Priority) Preemptive() bool {
	return p <= UrgentTask
}

// HigherThan reports whether p outranks other (lower ordinal wins).
func (p Priority) HigherThan(other Priority) bool {
	return p < other
}
