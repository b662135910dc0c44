package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/syscore/internal/unit"
)

type renderStub struct{ frames int }

func (r *renderStub) Execute(context.Context, *unit.Env) error { return nil }

type inputStub struct{}

func (inputStub) Execute(context.Context, *unit.Env) error { return nil }

func noop() unit.Unit {
	return unit.Func(func(context.Context, *unit.Env) error { return nil })
}

func TestRegistry_AddAndGet(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Add("render", unit.KindRender, &renderStub{}))

	got, ok := reg.Get("render")
	require.True(t, ok)
	require.Equal(t, "render", got.Name)
	require.Equal(t, unit.KindRender, got.Kind)
	require.Equal(t, 1, reg.Len())

	_, ok = reg.Get("missing")
	require.False(t, ok)
}

func TestRegistry_RejectsInvalidRegistrations(t *testing.T) {
	reg := New()

	err := reg.Add("", unit.KindNoop, noop())
	require.ErrorIs(t, err, ErrEmptyName)

	err = reg.Add("a", unit.KindNoop, nil)
	require.ErrorIs(t, err, ErrNilUnit)

	err = reg.Add("a", unit.Kind("physics"), noop())
	require.ErrorIs(t, err, ErrUnknownKind)

	require.NoError(t, reg.Add("a", unit.KindNoop, noop()))
	err = reg.Add("a", unit.KindNoop, noop())
	require.ErrorIs(t, err, ErrDuplicateUnit)
	require.Contains(t, err.Error(), "a")

	require.Equal(t, 1, reg.Len())
}

func TestRegistry_MustAddPanics(t *testing.T) {
	reg := New()
	reg.MustAdd("a", unit.KindNoop, noop())
	require.Panics(t, func() { reg.MustAdd("a", unit.KindNoop, noop()) })
}

func TestRegistry_SetDependency(t *testing.T) {
	reg := New()

	// Endpoints need not exist yet
	require.NoError(t, reg.SetDependency("event", "render"))
	require.NoError(t, reg.SetDependency("event", "render"))

	require.ErrorIs(t, reg.SetDependency("", "render"), ErrEmptyName)
	require.ErrorIs(t, reg.SetDependency("event", ""), ErrEmptyName)

	snap := reg.Snapshot()
	require.Equal(t, []Edge{{"event", "render"}, {"event", "render"}}, snap.Edges)
}

func TestRegistry_LookupKind(t *testing.T) {
	reg := New()
	reg.MustAdd("render", unit.KindRender, &renderStub{})

	u, err := reg.LookupKind("render", unit.KindRender)
	require.NoError(t, err)
	require.NotNil(t, u)

	_, err = reg.LookupKind("render", unit.KindInput)
	require.ErrorIs(t, err, ErrKindMismatch)

	_, err = reg.LookupKind("input", unit.KindInput)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLookup_Typed(t *testing.T) {
	reg := New()
	stub := &renderStub{frames: 3}
	reg.MustAdd("render", unit.KindRender, stub)
	reg.MustAdd("input", unit.KindInput, inputStub{})

	got, ok := Lookup[*renderStub](reg, "render")
	require.True(t, ok)
	require.Same(t, stub, got)

	// Wrong type yields absent, never a panic
	_, ok = Lookup[*renderStub](reg, "input")
	require.False(t, ok)

	_, ok = Lookup[inputStub](reg, "missing")
	require.False(t, ok)
}

func TestSnapshot_SortedAndFingerprinted(t *testing.T) {
	reg := New()
	reg.MustAdd("window", unit.KindNoop, noop())
	reg.MustAdd("event", unit.KindNoop, noop())
	reg.MustAdd("input", unit.KindNoop, noop())

	first := reg.Snapshot()
	names := make([]string, 0, len(first.Units))
	for _, u := range first.Units {
		names = append(names, u.Name)
	}
	require.Equal(t, []string{"event", "input", "window"}, names)

	require.Equal(t, first.Fingerprint, reg.Snapshot().Fingerprint, "unchanged registry keeps its fingerprint")

	require.NoError(t, reg.SetDependency("event", "input"))
	require.NotEqual(t, first.Fingerprint, reg.Snapshot().Fingerprint)

	other := New()
	other.MustAdd("event", unit.KindNoop, noop())
	require.NotEqual(t, first.Fingerprint, other.Snapshot().Fingerprint)
}

func TestEdge_String(t *testing.T) {
	require.Equal(t, "a -> b", Edge{Before: "a", After: "b"}.String())
}
