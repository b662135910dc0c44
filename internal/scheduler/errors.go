package scheduler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zjrosen/syscore/internal/registry"
)

var (
	// ErrUnknownUnit is returned when an edge names an unregistered unit.
	ErrUnknownUnit = errors.New("unknown unit reference")
	// ErrCycle is returned when the precedence edges form a cycle.
	ErrCycle = errors.New("cycle detected")
	// ErrEmptyGraph is returned when a run is requested with no units.
	ErrEmptyGraph = errors.New("no units registered")
	// ErrShutdownRequested is returned when a unit requested shutdown mid-run.
	ErrShutdownRequested = errors.New("shutdown requested")
	// ErrUnitFailed is returned when at least one unit returned an error.
	ErrUnitFailed = errors.New("unit failed")
)

// GraphError describes why a registry snapshot could not be compiled.
type GraphError struct {
	Kind error
	// Edge is the offending edge for ErrUnknownUnit.
	Edge registry.Edge
	// Missing is the endpoint of Edge that is not registered.
	Missing string
	// Cycle is a witness path for ErrCycle, first and last element equal.
	Cycle []string
}

func (e *GraphError) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case errors.Is(e.Kind, ErrCycle):
		return fmt.Sprintf("%s: %s", e.Kind, strings.Join(e.Cycle, " -> "))
	case errors.Is(e.Kind, ErrUnknownUnit):
		return fmt.Sprintf("%s: edge %s names unregistered unit %q", e.Kind, e.Edge, e.Missing)
	default:
		return e.Kind.Error()
	}
}

func (e *GraphError) Unwrap() error { return e.Kind }

func unknownUnitError(edge registry.Edge, missing string) error {
	return &GraphError{Kind: ErrUnknownUnit, Edge: edge, Missing: missing}
}

func cycleError(path []string) error {
	return &GraphError{Kind: ErrCycle, Cycle: path}
}
