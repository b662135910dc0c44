package systems

import (
	"fmt"

	"github.com/zjrosen/syscore/internal/registry"
	"github.com/zjrosen/syscore/internal/unit"
)

// Names of the units in the default graph.
const (
	NameEvent  = "EventSystem"
	NameRender = "RenderSystem"
	NameInput  = "InputSystem"
	NameWindow = "WindowSystem"
)

// Factory builds the demo unit for kind. KindCustom has no demo
// implementation and returns an error.
func Factory(kind unit.Kind, opts Options) (unit.Unit, error) {
	switch kind {
	case unit.KindEvent:
		return NewEventSystem(opts), nil
	case unit.KindRender:
		return NewRenderSystem(opts), nil
	case unit.KindInput:
		return NewInputSystem(opts), nil
	case unit.KindWindow:
		return NewWindowSystem(opts), nil
	case unit.KindNoop:
		return NewNoop(opts), nil
	default:
		return nil, fmt.Errorf("systems: no demo unit for kind %q", kind)
	}
}

// RegisterDefaults installs the default graph into reg: the event system
// first, then render, input, and window in parallel.
func RegisterDefaults(reg *registry.Registry, opts Options) error {
	units := []struct {
		name string
		kind unit.Kind
	}{
		{NameEvent, unit.KindEvent},
		{NameRender, unit.KindRender},
		{NameInput, unit.KindInput},
		{NameWindow, unit.KindWindow},
	}
	for _, u := range units {
		impl, err := Factory(u.kind, opts)
		if err != nil {
			return err
		}
		if err := reg.Add(u.name, u.kind, impl); err != nil {
			return err
		}
	}

	for _, after := range []string{NameRender, NameInput, NameWindow} {
		if err := reg.SetDependency(NameEvent, after); err != nil {
			return err
		}
	}
	return nil
}
