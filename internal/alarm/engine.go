// Package alarm — engine.go
//
// The Alarm Engine (spec §4.A): raises, deduplicates, escalates, and
// resolves alarms, and answers the single hot-path fact the arbiter polls —
// "is any critical alarm active?" — in O(1) from an atomic flag: mutex
// for correctness, atomic flag for the hot read.
package alarm

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mxrc/control-core/internal/coreerr"
)

// EventBus receives alarm lifecycle events. Implementations must not block
// the engine's hot path (spec §5: "neither reads them synchronously in the
// hot path"). A nil Bus is valid; events are then simply dropped.
type EventBus interface {
	Publish(event Event)
}

// EventKind distinguishes the alarm lifecycle events the engine emits.
type EventKind string

const (
	EventRaised       EventKind = "AlarmRaised"
	EventCleared      EventKind = "AlarmCleared"
	EventEscalated    EventKind = "AlarmEscalated"
	EventAcknowledged EventKind = "AlarmAcknowledged"
)

// Event is published on the EventBus for every alarm lifecycle transition.
// PriorSeverity is Alarm.Severity before this event; for EventEscalated it
// is strictly less severe than Alarm.Severity (higher ordinal, since
// Escalate only ever steps severity up), letting consumers (the audit
// kernel) record the actual from/to transition instead of a self-loop.
// For every other Kind it equals Alarm.Severity.
type Event struct {
	Kind          EventKind
	Alarm         Alarm
	PriorSeverity Severity
}

// recurrenceEntry tracks the rolling-window recurrence bookkeeping for one
// alarm code.
type recurrenceEntry struct {
	count    int
	lastSeen time.Time
}

// Engine is the alarm engine. All mutable state is guarded by mu except
// criticalActive, which is a plain atomic read for the arbiter's hot path.
type Engine struct {
	catalog *Catalog
	log     *zap.Logger
	bus     EventBus
	now     func() time.Time

	mu         sync.Mutex
	active     map[string]*Alarm
	history    []Alarm
	recurrence map[string]*recurrenceEntry
	bySeverity [3]int // indexed by Severity; count of ACTIVE alarms

	stats Statistics

	criticalActive atomic.Bool
}

// New creates an Engine over the given catalog. bus may be nil.
func New(catalog *Catalog, log *zap.Logger, bus EventBus) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		catalog:    catalog,
		log:        log,
		bus:        bus,
		now:        time.Now,
		active:     make(map[string]*Alarm),
		recurrence: make(map[string]*recurrenceEntry),
	}
}

// RaiseAlarm raises a new occurrence of code. Fails with ErrUnknownAlarmCode
// if code is not in the catalog. Recurrence and escalation follow spec
// §4.A steps 1-5.
func (e *Engine) RaiseAlarm(code, source, details string) (Alarm, error) {
	cfg, ok := e.catalog.Lookup(code)
	if !ok {
		e.mu.Lock()
		e.stats.UnknownCodeDrops++
		e.mu.Unlock()
		return Alarm{}, fmt.Errorf("alarm.RaiseAlarm: %w: %q", coreerr.ErrUnknownAlarmCode, code)
	}

	now := e.now()

	e.mu.Lock()

	rec := e.recurrence[code]
	if rec == nil {
		rec = &recurrenceEntry{}
		e.recurrence[code] = rec
	}
	window := cfg.RecurrenceWindow
	if window > 0 && !rec.lastSeen.IsZero() && now.Sub(rec.lastSeen) <= window {
		rec.count++
	} else {
		rec.count = 1
	}
	rec.lastSeen = now
	recurrenceCount := rec.count

	sev := cfg.Severity
	if cfg.RecurrenceThreshold > 0 && recurrenceCount >= cfg.RecurrenceThreshold {
		sev = sev.Escalate()
	}

	id := code + "_" + strconv.FormatInt(now.UnixMilli(), 10)
	a := Alarm{
		ID:              id,
		Code:            code,
		Name:            cfg.Name,
		Severity:        sev,
		State:           Active,
		Timestamp:       now,
		Details:         details,
		Source:          source,
		RecurrenceCount: recurrenceCount,
	}
	if recurrenceCount > 1 {
		last := now
		a.LastRecurrence = &last
	}

	e.active[id] = &a
	e.bySeverity[sev]++
	e.stats.TotalRaised++
	e.refreshCriticalLocked()

	e.mu.Unlock()

	e.log.Info("alarm raised",
		zap.String("id", id), zap.String("code", code),
		zap.String("severity", sev.String()), zap.Int("recurrence", recurrenceCount))

	e.publish(EventRaised, a, a.Severity)
	if sev != cfg.Severity {
		e.publish(EventEscalated, a, cfg.Severity)
	}

	return a, nil
}

// refreshCriticalLocked updates the hot-path atomic from bySeverity[Critical].
// Caller must hold mu.
func (e *Engine) refreshCriticalLocked() {
	e.criticalActive.Store(e.bySeverity[Critical] > 0)
}

// HasCriticalAlarm is the O(1) hot read the arbiter polls every tick.
// Safe for concurrent use, never blocks.
func (e *Engine) HasCriticalAlarm() bool {
	return e.criticalActive.Load()
}

// GetAlarm returns the alarm with the given id, if currently active.
// Resolved alarms are retained in history only, not in the active map.
func (e *Engine) GetAlarm(id string) (Alarm, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.active[id]
	if !ok {
		return Alarm{}, false
	}
	return *a, true
}

// GetActiveAlarms returns all active alarms sorted by severity (CRITICAL
// first), then by raise time (oldest first) within a severity; alarms
// raised at the same instant are ordered by ID.
func (e *Engine) GetActiveAlarms() []Alarm {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotActiveLocked(nil)
}

// GetActiveAlarmsBySeverity returns active alarms at exactly the given
// severity, in raise order (oldest first; ties ordered by ID).
func (e *Engine) GetActiveAlarmsBySeverity(sev Severity) []Alarm {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotActiveLocked(&sev)
}

// snapshotActiveLocked must be called with mu held.
func (e *Engine) snapshotActiveLocked(filter *Severity) []Alarm {
	out := make([]Alarm, 0, len(e.active))
	for _, a := range e.active {
		if filter != nil && a.Severity != *filter {
			continue
		}
		out = append(out, *a)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Severity != out[j].Severity {
			return out[i].Severity < out[j].Severity
		}
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// GetAlarmHistory returns up to limit of the most recently resolved alarms,
// most recent first. limit <= 0 returns the full history.
func (e *Engine) GetAlarmHistory(limit int) []Alarm {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Alarm, limit)
	for i := 0; i < limit; i++ {
		out[i] = e.history[n-1-i]
	}
	return out
}

// AcknowledgeAlarm transitions an alarm from ACTIVE to ACKNOWLEDGED.
// Returns ErrNotFound if the id is unknown, ErrNotActive if the alarm is
// not currently ACTIVE.
func (e *Engine) AcknowledgeAlarm(id, by string) error {
	e.mu.Lock()
	a, ok := e.active[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("alarm.AcknowledgeAlarm: %w: %q", coreerr.ErrNotFound, id)
	}
	if a.State != Active {
		e.mu.Unlock()
		return fmt.Errorf("alarm.AcknowledgeAlarm: %w: %q", coreerr.ErrNotActive, id)
	}
	now := e.now()
	a.State = Acknowledged
	a.AcknowledgedTime = &now
	a.AcknowledgedBy = by
	snap := *a
	e.mu.Unlock()

	e.log.Info("alarm acknowledged", zap.String("id", id), zap.String("by", by))
	e.publish(EventAcknowledged, snap, snap.Severity)
	return nil
}

// ResolveAlarm transitions an alarm to RESOLVED and removes it from the
// active set. Returns ErrNotFound if id is not in the active set, which
// includes an alarm that was already resolved: resolution removes it from
// the active map under the same lock, so the ErrAlreadyResolved check below
// is not reached through this API.
func (e *Engine) ResolveAlarm(id string) error {
	e.mu.Lock()
	a, ok := e.active[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("alarm.ResolveAlarm: %w: %q", coreerr.ErrNotFound, id)
	}
	if a.State == Resolved {
		e.mu.Unlock()
		return fmt.Errorf("alarm.ResolveAlarm: %w: %q", coreerr.ErrAlreadyResolved, id)
	}

	now := e.now()
	a.State = Resolved
	a.ResolvedTime = &now
	snap := *a

	e.bySeverity[a.Severity]--
	delete(e.active, id)
	e.history = append(e.history, snap)
	e.stats.ResolvedTotal++
	e.refreshCriticalLocked()
	e.mu.Unlock()

	e.log.Info("alarm resolved", zap.String("id", id), zap.String("code", a.Code))
	e.publish(EventCleared, snap, snap.Severity)
	return nil
}

// ResetAllAlarms resolves every currently ACTIVE or ACKNOWLEDGED alarm.
// Returns the number resolved.
func (e *Engine) ResetAllAlarms() int {
	e.mu.Lock()
	ids := make([]string, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	for _, id := range ids {
		_ = e.ResolveAlarm(id)
	}
	return len(ids)
}

// GetStatistics returns a snapshot of engine counters.
func (e *Engine) GetStatistics() Statistics {
	e.mu.Lock()
	defer e.mu.Unlock()
	stats := e.stats
	stats.ActiveCritical = e.bySeverity[Critical]
	stats.ActiveWarning = e.bySeverity[Warning]
	stats.ActiveInfo = e.bySeverity[Info]
	return stats
}

func (e *Engine) publish(kind EventKind, a Alarm, priorSeverity Severity) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(Event{Kind: kind, Alarm: a, PriorSeverity: priorSeverity})
}
