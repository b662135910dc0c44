// Package unit defines the execute contract every schedulable system
// implements, and the environment the scheduler injects into each run.
package unit

import (
	"context"
	"fmt"

	"github.com/zjrosen/syscore/internal/eventbus"
)

// Unit is a named, independently schedulable piece of work.
// Execute is invoked at most once per run. Returning an error marks the unit
// failed and causes its dependents to be skipped.
type Unit interface {
	Execute(ctx context.Context, env *Env) error
}

// Func adapts a plain function to the Unit interface.
type Func func(ctx context.Context, env *Env) error

// Execute calls f.
func (f Func) Execute(ctx context.Context, env *Env) error {
	return f(ctx, env)
}

// Kind tags a registration with the capability it provides.
type Kind string

const (
	KindEvent  Kind = "event"
	KindRender Kind = "render"
	KindInput  Kind = "input"
	KindWindow Kind = "window"
	KindNoop   Kind = "noop"
	KindCustom Kind = "custom"
)

var kinds = []Kind{KindEvent, KindRender, KindInput, KindWindow, KindNoop, KindCustom}

// Kinds returns the closed set of capability kinds.
func Kinds() []Kind {
	out := make([]Kind, len(kinds))
	copy(out, kinds)
	return out
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	for _, known := range kinds {
		if k == known {
			return true
		}
	}
	return false
}

// ParseKind converts a manifest string into a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown unit kind %q", s)
	}
	return k, nil
}

// Env is what the scheduler hands a unit for one execution.
type Env struct {
	// Name is the name the unit was registered under.
	Name string
	// WorkerID identifies the worker slot running the unit.
	WorkerID string
	// RunID identifies the scheduler run.
	RunID string
	// Bus is the event bus shared by every unit in the run.
	Bus *eventbus.Bus

	shutdown func(reason string)
}

// NewEnv builds an Env. shutdown may be nil, in which case RequestShutdown
// is a no-op.
func NewEnv(name, workerID, runID string, bus *eventbus.Bus, shutdown func(reason string)) *Env {
	return &Env{
		Name:     name,
		WorkerID: workerID,
		RunID:    runID,
		Bus:      bus,
		shutdown: shutdown,
	}
}

// RequestShutdown asks the scheduler to stop admitting new units.
// Units already running finish normally.
func (e *Env) RequestShutdown(reason string) {
	if e == nil || e.shutdown == nil {
		return
	}
	e.shutdown(reason)
}

// Subscribe registers handler on the shared bus.
func (e *Env) Subscribe(event string, handler eventbus.Handler) {
	if e == nil || e.Bus == nil {
		return
	}
	e.Bus.Subscribe(event, handler)
}

// Publish dispatches an event on the shared bus and returns the final payload.
func (e *Env) Publish(event, payload string) string {
	if e == nil || e.Bus == nil {
		return payload
	}
	return e.Bus.Publish(event, payload)
}
