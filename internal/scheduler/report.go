package scheduler

import (
	"fmt"
	"time"

	"github.com/zjrosen/syscore/internal/metrics"
	"github.com/zjrosen/syscore/internal/unit"
)

// State is the lifecycle of a node within one run.
//
//	pending -> ready -> running -> done | failed
//	pending | ready -> skipped
type State string

const (
	StatePending State = "pending"
	StateReady   State = "ready"
	StateRunning State = "running"
	StateDone    State = "done"
	StateFailed  State = "failed"
	StateSkipped State = "skipped"
)

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	switch s {
	case StateDone, StateFailed, StateSkipped:
		return true
	default:
		return false
	}
}

// Outcome classifies how a run ended.
type Outcome string

const (
	// OutcomeCompleted means every unit ran and succeeded.
	OutcomeCompleted Outcome = "completed"
	// OutcomeFailed means at least one unit failed.
	OutcomeFailed Outcome = "failed"
	// OutcomeShutdown means a unit requested shutdown before all units ran.
	OutcomeShutdown Outcome = "shutdown"
	// OutcomeCancelled means the caller's context ended the run.
	OutcomeCancelled Outcome = "cancelled"
)

// UnitRecord is the per-unit result of a run.
type UnitRecord struct {
	Name     string
	Kind     unit.Kind
	State    State
	WorkerID string
	Start    time.Time
	End      time.Time
	// StartSeq and EndSeq order unit transitions within a run. For every
	// edge, the predecessor's EndSeq is lower than the successor's StartSeq.
	StartSeq uint64
	EndSeq   uint64
	Err      error
	// SkipReason explains a skipped state.
	SkipReason string
}

// Elapsed is the unit's execute wall-clock time.
func (r UnitRecord) Elapsed() time.Duration {
	if r.Start.IsZero() || r.End.IsZero() {
		return 0
	}
	return r.End.Sub(r.Start)
}

// Line renders the diagnostic line for a finished unit.
func (r UnitRecord) Line() string {
	switch r.State {
	case StateSkipped:
		return fmt.Sprintf("[skipped] [name: %s] %s", r.Name, r.SkipReason)
	case StateFailed:
		return fmt.Sprintf("[failed] [name: %s] [worker: %s] %s: %v", r.Name, r.WorkerID, metrics.FormatMillis(r.Elapsed()), r.Err)
	default:
		return fmt.Sprintf("[loaded] [name: %s] [worker: %s] %s", r.Name, r.WorkerID, metrics.FormatMillis(r.Elapsed()))
	}
}

// Report is the result of Scheduler.Run.
type Report struct {
	RunID   string
	Outcome Outcome
	// ShutdownBy and ShutdownReason are set for OutcomeShutdown.
	ShutdownBy     string
	ShutdownReason string

	Start time.Time
	End   time.Time

	// Units is in completion order; never-run units follow in name order.
	Units   []UnitRecord
	Metrics metrics.RunMetrics
}

// Total is wall-clock time of the run.
func (r *Report) Total() time.Duration {
	return r.End.Sub(r.Start)
}

// TotalLine renders the final diagnostic line.
func (r *Report) TotalLine() string {
	return fmt.Sprintf("[total] [run: %s] [outcome: %s] %s", r.RunID, r.Outcome, metrics.FormatMillis(r.Total()))
}

// Unit returns the record for name.
func (r *Report) Unit(name string) (UnitRecord, bool) {
	for _, rec := range r.Units {
		if rec.Name == name {
			return rec, true
		}
	}
	return UnitRecord{}, false
}
