package unit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/syscore/internal/eventbus"
)

func TestFunc_Execute(t *testing.T) {
	want := errors.New("boom")
	var gotName string
	f := Func(func(_ context.Context, env *Env) error {
		gotName = env.Name
		return want
	})

	err := f.Execute(context.Background(), NewEnv("input", "worker-1", "run", nil, nil))

	require.ErrorIs(t, err, want)
	require.Equal(t, "input", gotName)
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds() {
		got, err := ParseKind(string(k))
		require.NoError(t, err)
		require.Equal(t, k, got)
	}

	_, err := ParseKind("physics")
	require.Error(t, err)
	require.Contains(t, err.Error(), "physics")
}

func TestEnv_RequestShutdown(t *testing.T) {
	var reason string
	env := NewEnv("window", "worker-2", "run", nil, func(r string) { reason = r })

	env.RequestShutdown("closed")

	require.Equal(t, "closed", reason)
}

func TestEnv_NilSafety(t *testing.T) {
	var env *Env
	require.NotPanics(t, func() {
		env.RequestShutdown("x")
		env.Subscribe("a", func(*string) {})
		require.Equal(t, "p", env.Publish("a", "p"))
	})

	bare := NewEnv("n", "w", "r", nil, nil)
	require.NotPanics(t, func() { bare.RequestShutdown("x") })
	require.Equal(t, "p", bare.Publish("a", "p"))
}

func TestEnv_PublishSubscribeUseBus(t *testing.T) {
	bus := eventbus.New()
	env := NewEnv("render", "worker-1", "run", bus, nil)

	env.Subscribe("render", func(p *string) { *p = "drawn:" + *p })

	require.Equal(t, "drawn:frame", env.Publish("render", "frame"))
	require.Equal(t, 1, bus.ListenerCount("render"))
}
