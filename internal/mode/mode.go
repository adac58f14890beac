// Package mode — control_mode.go
//
// Defines the control-mode state machine for the behavior arbiter.
//
// State transition graph (spec §3):
//
//	BOOT ──→ INIT ──→ STANDBY ──→ {MANUAL, READY, AUTO, MAINT}
//	MANUAL ──→ STANDBY
//	READY ──→ {AUTO, STANDBY}
//	AUTO ──→ {READY, STANDBY, CHARGING}
//	CHARGING ──→ {STANDBY, AUTO}
//	MAINT ──→ STANDBY
//	FAULT ──→ STANDBY
//	ANY ──→ FAULT   (always legal)
//
// Invariant: the current mode is a single authoritative atomic value;
// external observers read it without locking, backed by atomic.Uint32
// since reads must never block per spec §5.
package mode

import (
	"fmt"
	"sync/atomic"
)

// Mode is one of the nine control modes.
type Mode uint32

const (
	Boot Mode = iota
	Init
	Standby
	Manual
	Ready
	Auto
	Fault
	Maint
	Charging

	// count is the number of defined modes.
	count = int(Charging) + 1
)

// String returns the human-readable mode name.
func (m Mode) String() string {
	switch m {
	case Boot:
		return "BOOT"
	case Init:
		return "INIT"
	case Standby:
		return "STANDBY"
	case Manual:
		return "MANUAL"
	case Ready:
		return "READY"
	case Auto:
		return "AUTO"
	case Fault:
		return "FAULT"
	case Maint:
		return "MAINT"
	case Charging:
		return "CHARGING"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint32(m))
	}
}

// legalTransitions maps each mode to the set of modes it may transition to,
// excluding the universal "ANY -> FAULT" rule which is checked separately.
var legalTransitions = map[Mode]map[Mode]bool{
	Boot:     {Init: true},
	Init:     {Standby: true},
	Standby:  {Manual: true, Ready: true, Auto: true, Maint: true},
	Manual:   {Standby: true},
	Ready:    {Auto: true, Standby: true},
	Auto:     {Ready: true, Standby: true, Charging: true},
	Charging: {Standby: true, Auto: true},
	Maint:    {Standby: true},
	Fault:    {Standby: true},
}

// CanTransition reports whether moving from `from` to `to` is legal per the
// transition table above, or because `to` is FAULT (always legal from any
// mode).
func CanTransition(from, to Mode) bool {
	if to == Fault {
		return true
	}
	return legalTransitions[from][to]
}

// Atomic is a lock-free holder for the current control mode. Reads never
// block; writes are serialized through Transition so illegal moves are
// rejected atomically with respect to concurrent readers.
type Atomic struct {
	v atomic.Uint32
}

// NewAtomic creates an Atomic initialised to the given mode (typically Boot).
func NewAtomic(initial Mode) *Atomic {
	a := &Atomic{}
	a.v.Store(uint32(initial))
	return a
}

// Load returns the current mode. Safe for concurrent use, never blocks.
func (a *Atomic) Load() Mode {
	return Mode(a.v.Load())
}

// Transition attempts to move to `to`. Returns false if the transition is
// not legal from the current mode; the mode is left unchanged in that case.
// Uses a CAS loop so concurrent callers never observe a torn update, and so
// a transition decision is always made against a consistent "from" value.
func (a *Atomic) Transition(to Mode) bool {
	for {
		from := Mode(a.v.Load())
		if !CanTransition(from, to) {
			return false
		}
		if a.v.CompareAndSwap(uint32(from), uint32(to)) {
			return true
		}
		// Lost the race with another writer; re-read and retry.
	}
}

// Force unconditionally sets the mode, bypassing the transition table. Used
// for initial boot sequencing, test setup, and by the arbiter to enter FAULT
// on a critical alarm or an emergency stop; other state changes go through
// Transition.
func (a *Atomic) Force(to Mode) {
	a.v.Store(uint32(to))
}
