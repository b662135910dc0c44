// Package registry stores the units a scheduler run will execute and the
// precedence edges declared between them.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/zjrosen/syscore/internal/log"
	"github.com/zjrosen/syscore/internal/unit"
)

var (
	// ErrEmptyName is returned when a unit or edge endpoint name is empty.
	ErrEmptyName = errors.New("name is required")
	// ErrDuplicateUnit is returned when a name is registered twice.
	ErrDuplicateUnit = errors.New("unit already registered")
	// ErrNilUnit is returned when registering a nil capability.
	ErrNilUnit = errors.New("unit is nil")
	// ErrUnknownKind is returned for a kind outside the closed set.
	ErrUnknownKind = errors.New("unknown unit kind")
	// ErrNotFound is returned when no unit is registered under a name.
	ErrNotFound = errors.New("unit not found")
	// ErrKindMismatch is returned when a unit exists but has a different kind.
	ErrKindMismatch = errors.New("unit kind mismatch")
)

// Registration binds a unique name to a unit capability.
type Registration struct {
	Name string
	Kind unit.Kind
	Unit unit.Unit
}

// Edge is a precedence constraint: Before must finish before After starts.
type Edge struct {
	Before string
	After  string
}

func (e Edge) String() string {
	return fmt.Sprintf("%s -> %s", e.Before, e.After)
}

// Registry holds unit registrations and dependency edges.
// It is safe for concurrent use.
type Registry struct {
	id      string
	units   map[string]Registration
	edges   []Edge
	version uint64
	mu      sync.RWMutex
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		id:    uuid.New().String(),
		units: make(map[string]Registration),
	}
}

// Add registers u under name.
func (r *Registry) Add(name string, kind unit.Kind, u unit.Unit) error {
	if name == "" {
		return fmt.Errorf("registry: add unit: %w", ErrEmptyName)
	}
	if u == nil {
		return fmt.Errorf("registry: add unit %s: %w", name, ErrNilUnit)
	}
	if !kind.Valid() {
		return fmt.Errorf("registry: add unit %s: %w: %q", name, ErrUnknownKind, kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.units[name]; exists {
		return fmt.Errorf("registry: add unit %s: %w", name, ErrDuplicateUnit)
	}
	r.units[name] = Registration{Name: name, Kind: kind, Unit: u}
	r.version++

	log.Debug(log.CatRegistry, "unit registered", "name", name, "kind", kind)
	return nil
}

// MustAdd is Add that panics on error. Intended for static wiring.
func (r *Registry) MustAdd(name string, kind unit.Kind, u unit.Unit) {
	if err := r.Add(name, kind, u); err != nil {
		panic(err)
	}
}

// SetDependency declares that before must complete before after starts.
// Endpoints are not checked for existence until the graph is compiled.
func (r *Registry) SetDependency(before, after string) error {
	if before == "" || after == "" {
		return fmt.Errorf("registry: dependency %q -> %q: %w", before, after, ErrEmptyName)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.edges = append(r.edges, Edge{Before: before, After: after})
	r.version++

	log.Debug(log.CatRegistry, "dependency declared", "before", before, "after", after)
	return nil
}

// Get returns the registration for name.
func (r *Registry) Get(name string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.units[name]
	return reg, ok
}

// LookupKind returns the unit registered under name if it has the given kind.
func (r *Registry) LookupKind(name string, kind unit.Kind) (unit.Unit, error) {
	reg, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("registry: %s: %w", name, ErrNotFound)
	}
	if reg.Kind != kind {
		return nil, fmt.Errorf("registry: %s is %s, not %s: %w", name, reg.Kind, kind, ErrKindMismatch)
	}
	return reg.Unit, nil
}

// Lookup returns the unit registered under name as a T.
// It reports false when the name is absent or the unit is not a T.
func Lookup[T unit.Unit](r *Registry, name string) (T, bool) {
	var zero T
	reg, ok := r.Get(name)
	if !ok {
		return zero, false
	}
	typed, ok := reg.Unit.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}

// Len returns the number of registered units.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.units)
}

// Snapshot is an immutable view of a registry at one version.
type Snapshot struct {
	// Units is sorted by name.
	Units []Registration
	// Edges keeps declaration order.
	Edges []Edge
	// Fingerprint changes whenever the registry is mutated.
	Fingerprint string
}

// Snapshot copies the current registrations and edges.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	units := make([]Registration, 0, len(r.units))
	for _, reg := range r.units {
		units = append(units, reg)
	}
	sort.Slice(units, func(i, j int) bool { return units[i].Name < units[j].Name })

	edges := make([]Edge, len(r.edges))
	copy(edges, r.edges)

	return Snapshot{
		Units:       units,
		Edges:       edges,
		Fingerprint: fmt.Sprintf("%s@%d", r.id, r.version),
	}
}
