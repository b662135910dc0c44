// Package manifest loads unit graphs from YAML files.
//
// A manifest lists units by name and kind, with optional per-unit latency
// and the units each one must wait for:
//
//	name: demo
//	max_delay: 2s
//	units:
//	  - name: EventSystem
//	    kind: event
//	  - name: RenderSystem
//	    kind: render
//	    delay: 500ms
//	    after: [EventSystem]
//	edges:
//	  - before: EventSystem
//	    after: RenderSystem
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zjrosen/syscore/internal/log"
	"github.com/zjrosen/syscore/internal/registry"
	"github.com/zjrosen/syscore/internal/systems"
	"github.com/zjrosen/syscore/internal/unit"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid manifest")

// Manifest is the root of a manifest file.
type Manifest struct {
	Name string `yaml:"name"`
	// MaxDelay applies to units without their own delay.
	MaxDelay time.Duration `yaml:"max_delay"`
	Units    []UnitDef     `yaml:"units"`
	Edges    []EdgeDef     `yaml:"edges"`
}

// UnitDef declares one unit.
type UnitDef struct {
	Name  string        `yaml:"name"`
	Kind  string        `yaml:"kind"`
	Delay time.Duration `yaml:"delay"`
	// After names units that must finish before this one starts.
	After []string `yaml:"after"`
}

// EdgeDef declares a precedence constraint outside of a unit definition.
type EdgeDef struct {
	Before string `yaml:"before"`
	After  string `yaml:"after"`
}

// Load reads and validates the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	log.Debug(log.CatManifest, "manifest loaded", "path", path, "units", len(m.Units), "edges", len(m.Edges))
	return m, nil
}

// Parse decodes and validates a manifest. Unknown fields are rejected.
func Parse(data []byte) (*Manifest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrInvalid)
		}
		return nil, fmt.Errorf("parse: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks field-level rules. References between units are checked
// when the graph is compiled.
func (m *Manifest) Validate() error {
	var errs []error
	if len(m.Units) == 0 {
		errs = append(errs, fmt.Errorf("%w: units: at least one unit is required", ErrInvalid))
	}
	if m.MaxDelay < 0 {
		errs = append(errs, fmt.Errorf("%w: max_delay: must be >= 0, got %s", ErrInvalid, m.MaxDelay))
	}

	seen := make(map[string]int, len(m.Units))
	for i, u := range m.Units {
		field := fmt.Sprintf("units[%d]", i)
		name := strings.TrimSpace(u.Name)
		switch {
		case name == "":
			errs = append(errs, fmt.Errorf("%w: %s.name: required", ErrInvalid, field))
		case name != u.Name:
			errs = append(errs, fmt.Errorf("%w: %s.name: %q has surrounding whitespace", ErrInvalid, field, u.Name))
		default:
			if prev, dup := seen[name]; dup {
				errs = append(errs, fmt.Errorf("%w: %s.name: %q already declared by units[%d]", ErrInvalid, field, name, prev))
			}
			seen[name] = i
		}

		kind, err := unit.ParseKind(u.Kind)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("%w: %s.kind: %v (want one of %s)", ErrInvalid, field, err, kindList()))
		case kind == unit.KindCustom:
			errs = append(errs, fmt.Errorf("%w: %s.kind: %q units cannot be declared in a manifest", ErrInvalid, field, kind))
		}

		if u.Delay < 0 {
			errs = append(errs, fmt.Errorf("%w: %s.delay: must be >= 0, got %s", ErrInvalid, field, u.Delay))
		}
		for j, dep := range u.After {
			if strings.TrimSpace(dep) == "" {
				errs = append(errs, fmt.Errorf("%w: %s.after[%d]: empty unit name", ErrInvalid, field, j))
			}
		}
	}

	for i, e := range m.Edges {
		if e.Before == "" || e.After == "" {
			errs = append(errs, fmt.Errorf("%w: edges[%d]: before and after are required", ErrInvalid, i))
		}
	}
	return errors.Join(errs...)
}

func kindList() string {
	var names []string
	for _, k := range unit.Kinds() {
		if k != unit.KindCustom {
			names = append(names, string(k))
		}
	}
	return strings.Join(names, ", ")
}

// EdgeList returns every precedence constraint: each unit's after list in
// declaration order, followed by the explicit edges.
func (m *Manifest) EdgeList() []registry.Edge {
	var edges []registry.Edge
	for _, u := range m.Units {
		for _, dep := range u.After {
			edges = append(edges, registry.Edge{Before: dep, After: u.Name})
		}
	}
	for _, e := range m.Edges {
		edges = append(edges, registry.Edge{Before: e.Before, After: e.After})
	}
	return edges
}

// Build registers the manifest's units and edges into reg. Unit latency is
// the unit's delay, else the manifest's max_delay, else opts.MaxDelay.
func (m *Manifest) Build(reg *registry.Registry, opts systems.Options) error {
	for i, def := range m.Units {
		kind, err := unit.ParseKind(def.Kind)
		if err != nil {
			return fmt.Errorf("%w: units[%d].kind: %v", ErrInvalid, i, err)
		}

		unitOpts := opts
		switch {
		case def.Delay > 0:
			unitOpts.MaxDelay = def.Delay
		case m.MaxDelay > 0:
			unitOpts.MaxDelay = m.MaxDelay
		}

		impl, err := systems.Factory(kind, unitOpts)
		if err != nil {
			return fmt.Errorf("units[%d]: %w", i, err)
		}
		if err := reg.Add(def.Name, kind, impl); err != nil {
			return fmt.Errorf("units[%d]: %w", i, err)
		}
	}

	for _, e := range m.EdgeList() {
		if err := reg.SetDependency(e.Before, e.After); err != nil {
			return fmt.Errorf("edge %s: %w", e, err)
		}
	}
	return nil
}

// LoadInto loads the manifest at path and builds it into a new registry.
func LoadInto(path string, opts systems.Options) (*Manifest, *registry.Registry, error) {
	m, err := Load(path)
	if err != nil {
		return nil, nil, err
	}
	reg := registry.New()
	if err := m.Build(reg, opts); err != nil {
		return nil, nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return m, reg, nil
}
