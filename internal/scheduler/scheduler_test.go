package scheduler

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/zjrosen/syscore/internal/cachemanager"
	"github.com/zjrosen/syscore/internal/eventbus"
	"github.com/zjrosen/syscore/internal/registry"
	"github.com/zjrosen/syscore/internal/tracing"
	"github.com/zjrosen/syscore/internal/unit"
)

func sleeper(d time.Duration) unit.Unit {
	return unit.Func(func(ctx context.Context, _ *unit.Env) error {
		select {
		case <-time.After(d):
		case <-ctx.Done():
		}
		return nil
	})
}

func newScheduler(t *testing.T, cfg Config, opts ...Option) *Scheduler {
	t.Helper()
	s, err := New(cfg, opts...)
	require.NoError(t, err)
	return s
}

func requireRecord(t *testing.T, report *Report, name string) UnitRecord {
	t.Helper()
	rec, ok := report.Unit(name)
	require.True(t, ok, "no record for %s", name)
	return rec
}

func TestNew_RejectsNegativeWorkers(t *testing.T) {
	_, err := New(Config{MaxWorkers: -1})
	require.Error(t, err)
}

func TestRun_FanoutAfterRoot(t *testing.T) {
	reg := registry.New()
	reg.MustAdd("A", unit.KindEvent, sleeper(10*time.Millisecond))
	for _, name := range []string{"B", "C", "D"} {
		reg.MustAdd(name, unit.KindNoop, sleeper(20*time.Millisecond))
		require.NoError(t, reg.SetDependency("A", name))
	}

	report, err := newScheduler(t, Config{}).Run(context.Background(), reg)
	require.NoError(t, err)
	require.Equal(t, OutcomeCompleted, report.Outcome)
	require.Len(t, report.Units, 4)
	require.Equal(t, "A", report.Units[0].Name)

	a := requireRecord(t, report, "A")
	for _, name := range []string{"B", "C", "D"} {
		rec := requireRecord(t, report, name)
		require.Equal(t, StateDone, rec.State)
		require.Less(t, a.EndSeq, rec.StartSeq, "%s started before A finished", name)
		require.False(t, rec.Start.Before(a.End), "%s started before A finished", name)
	}

	require.Equal(t, 4, report.Metrics.Completed)
	require.GreaterOrEqual(t, report.Metrics.PeakConcurrency, 2)
}

func TestRun_IndependentUnitsOverlap(t *testing.T) {
	reg := registry.New()
	reg.MustAdd("X", unit.KindNoop, sleeper(100*time.Millisecond))
	reg.MustAdd("Y", unit.KindNoop, sleeper(100*time.Millisecond))

	report, err := newScheduler(t, Config{}).Run(context.Background(), reg)
	require.NoError(t, err)

	x := requireRecord(t, report, "X")
	y := requireRecord(t, report, "Y")
	require.True(t, x.Start.Before(y.End) && y.Start.Before(x.End), "X and Y did not overlap")
	require.Equal(t, 2, report.Metrics.PeakConcurrency)
	require.NotEqual(t, x.WorkerID, y.WorkerID)
}

func TestRun_MaxWorkersCapsConcurrency(t *testing.T) {
	reg := registry.New()
	for _, name := range []string{"a", "b", "c", "d"} {
		reg.MustAdd(name, unit.KindNoop, sleeper(5*time.Millisecond))
	}

	report, err := newScheduler(t, Config{MaxWorkers: 1}).Run(context.Background(), reg)
	require.NoError(t, err)
	require.Equal(t, 1, report.Metrics.PeakConcurrency)
	for _, rec := range report.Units {
		require.Equal(t, "worker-1", rec.WorkerID)
	}
}

func TestRun_EachUnitRunsOnce(t *testing.T) {
	var mu sync.Mutex
	counts := map[string]int{}
	counting := unit.Func(func(_ context.Context, env *unit.Env) error {
		mu.Lock()
		counts[env.Name]++
		mu.Unlock()
		return nil
	})

	reg := registry.New()
	for _, name := range []string{"A", "B", "C", "D"} {
		reg.MustAdd(name, unit.KindNoop, counting)
	}
	require.NoError(t, reg.SetDependency("A", "B"))
	require.NoError(t, reg.SetDependency("A", "C"))
	require.NoError(t, reg.SetDependency("B", "D"))
	require.NoError(t, reg.SetDependency("C", "D"))

	_, err := newScheduler(t, Config{}).Run(context.Background(), reg)
	require.NoError(t, err)
	require.Equal(t, map[string]int{"A": 1, "B": 1, "C": 1, "D": 1}, counts)
}

func TestRun_EnvInjected(t *testing.T) {
	bus := eventbus.New()
	var got *unit.Env
	reg := registry.New()
	reg.MustAdd("probe", unit.KindCustom, unit.Func(func(_ context.Context, env *unit.Env) error {
		got = env
		return nil
	}))

	report, err := newScheduler(t, Config{}, WithBus(bus)).Run(context.Background(), reg)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "probe", got.Name)
	require.Equal(t, "worker-1", got.WorkerID)
	require.Equal(t, report.RunID, got.RunID)
	require.Same(t, bus, got.Bus)
}

func TestRun_PublishReachesEarlierSubscriberSynchronously(t *testing.T) {
	var mu sync.Mutex
	var trail []string
	mark := func(s string) {
		mu.Lock()
		trail = append(trail, s)
		mu.Unlock()
	}

	reg := registry.New()
	reg.MustAdd("A", unit.KindEvent, unit.Func(func(context.Context, *unit.Env) error { return nil }))
	reg.MustAdd("D", unit.KindRender, unit.Func(func(_ context.Context, env *unit.Env) error {
		env.Subscribe("notify", func(payload *string) {
			mark("handler:" + *payload)
		})
		return nil
	}))
	reg.MustAdd("C", unit.KindInput, unit.Func(func(_ context.Context, env *unit.Env) error {
		mark("before publish")
		env.Publish("notify", "hello")
		mark("after publish")
		return nil
	}))
	require.NoError(t, reg.SetDependency("A", "C"))
	require.NoError(t, reg.SetDependency("A", "D"))
	require.NoError(t, reg.SetDependency("D", "C"))

	report, err := newScheduler(t, Config{}).Run(context.Background(), reg)
	require.NoError(t, err)
	require.Equal(t, []string{"before publish", "handler:hello", "after publish"}, trail)
	require.Equal(t, int64(1), report.Metrics.EventsPublished)
}

func TestRun_ShutdownStopsAdmission(t *testing.T) {
	reg := registry.New()
	reg.MustAdd("A", unit.KindWindow, unit.Func(func(_ context.Context, env *unit.Env) error {
		env.RequestShutdown("window closed")
		return nil
	}))
	reg.MustAdd("slow", unit.KindNoop, sleeper(50*time.Millisecond))
	reg.MustAdd("B", unit.KindNoop, nop())
	reg.MustAdd("C", unit.KindNoop, nop())
	require.NoError(t, reg.SetDependency("A", "B"))
	require.NoError(t, reg.SetDependency("B", "C"))

	report, err := newScheduler(t, Config{}).Run(context.Background(), reg)
	require.ErrorIs(t, err, ErrShutdownRequested)
	require.NotErrorIs(t, err, ErrUnitFailed)
	require.Equal(t, OutcomeShutdown, report.Outcome)
	require.Equal(t, "A", report.ShutdownBy)
	require.Equal(t, "window closed", report.ShutdownReason)

	require.Equal(t, StateDone, requireRecord(t, report, "A").State)
	require.Equal(t, StateDone, requireRecord(t, report, "slow").State, "running units finish normally")

	for _, name := range []string{"B", "C"} {
		rec := requireRecord(t, report, name)
		require.Equal(t, StateSkipped, rec.State)
		require.Equal(t, "shutdown requested", rec.SkipReason)
		require.Zero(t, rec.StartSeq)
	}
	require.Equal(t, 2, report.Metrics.Skipped)
}

func TestRun_ShutdownRequestedTwiceKeepsFirstReason(t *testing.T) {
	reg := registry.New()
	reg.MustAdd("A", unit.KindWindow, unit.Func(func(_ context.Context, env *unit.Env) error {
		env.RequestShutdown("first")
		env.RequestShutdown("second")
		return nil
	}))

	report, err := newScheduler(t, Config{}).Run(context.Background(), reg)
	require.ErrorIs(t, err, ErrShutdownRequested)
	require.Equal(t, "first", report.ShutdownReason)
}

func TestRun_FailureSkipsDependents(t *testing.T) {
	boom := errors.New("boom")
	reg := registry.New()
	reg.MustAdd("A", unit.KindNoop, unit.Func(func(context.Context, *unit.Env) error { return boom }))
	reg.MustAdd("B", unit.KindNoop, nop())
	reg.MustAdd("C", unit.KindNoop, nop())
	reg.MustAdd("other", unit.KindNoop, nop())
	require.NoError(t, reg.SetDependency("A", "B"))
	require.NoError(t, reg.SetDependency("B", "C"))

	report, err := newScheduler(t, Config{}).Run(context.Background(), reg)
	require.ErrorIs(t, err, ErrUnitFailed)
	require.Contains(t, err.Error(), "A")
	require.Equal(t, OutcomeFailed, report.Outcome)

	a := requireRecord(t, report, "A")
	require.Equal(t, StateFailed, a.State)
	require.ErrorIs(t, a.Err, boom)

	for _, name := range []string{"B", "C"} {
		rec := requireRecord(t, report, name)
		require.Equal(t, StateSkipped, rec.State)
		require.Equal(t, "dependency A failed", rec.SkipReason)
	}
	require.Equal(t, StateDone, requireRecord(t, report, "other").State)
	require.Equal(t, 1, report.Metrics.Failed)
}

func TestRun_PanicIsRecovered(t *testing.T) {
	reg := registry.New()
	reg.MustAdd("bad", unit.KindNoop, unit.Func(func(context.Context, *unit.Env) error {
		panic("kaboom")
	}))

	report, err := newScheduler(t, Config{}).Run(context.Background(), reg)
	require.ErrorIs(t, err, ErrUnitFailed)

	rec := requireRecord(t, report, "bad")
	require.Equal(t, StateFailed, rec.State)
	require.Contains(t, rec.Err.Error(), "kaboom")
}

func TestRun_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := registry.New()
	reg.MustAdd("A", unit.KindNoop, unit.Func(func(ctx context.Context, _ *unit.Env) error {
		cancel()
		<-ctx.Done()
		return nil
	}))
	reg.MustAdd("B", unit.KindNoop, nop())
	require.NoError(t, reg.SetDependency("A", "B"))

	report, err := newScheduler(t, Config{}).Run(ctx, reg)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, OutcomeCancelled, report.Outcome)

	b := requireRecord(t, report, "B")
	require.Equal(t, StateSkipped, b.State)
	require.Equal(t, "run cancelled", b.SkipReason)
}

func TestRun_InvalidGraphs(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*registry.Registry)
		want  error
	}{
		{
			name: "dangling edge",
			setup: func(r *registry.Registry) {
				r.MustAdd("A", unit.KindNoop, nop())
				_ = r.SetDependency("A", "missing")
			},
			want: ErrUnknownUnit,
		},
		{
			name: "cycle",
			setup: func(r *registry.Registry) {
				r.MustAdd("A", unit.KindNoop, nop())
				r.MustAdd("B", unit.KindNoop, nop())
				_ = r.SetDependency("A", "B")
				_ = r.SetDependency("B", "A")
			},
			want: ErrCycle,
		},
		{
			name:  "empty",
			setup: func(*registry.Registry) {},
			want:  ErrEmptyGraph,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ran := false
			reg := registry.New()
			tt.setup(reg)
			s := newScheduler(t, Config{}, WithObserver(func(UnitRecord) { ran = true }))

			report, err := s.Run(context.Background(), reg)
			require.ErrorIs(t, err, tt.want)
			require.Nil(t, report)
			require.False(t, ran, "no unit may run for an invalid graph")
		})
	}
}

func TestCompile_ReusesCachedGraph(t *testing.T) {
	cache := cachemanager.NewInMemoryCacheManager[string, *Graph]("test", time.Minute, time.Minute)
	reg := buildRegistry(t, []string{"A", "B"}, [][2]string{{"A", "B"}})
	s := newScheduler(t, Config{}, WithGraphCache(cache))

	g1, err := s.Compile(context.Background(), reg)
	require.NoError(t, err)
	g2, err := s.Compile(context.Background(), reg)
	require.NoError(t, err)
	require.Same(t, g1, g2)
	require.Equal(t, 1, cache.Len())

	reg.MustAdd("C", unit.KindNoop, nop())
	g3, err := s.Compile(context.Background(), reg)
	require.NoError(t, err)
	require.NotSame(t, g1, g3)
	require.Equal(t, 3, g3.Len())
}

func TestExecute_GraphReusableAcrossRuns(t *testing.T) {
	reg := buildRegistry(t, []string{"A", "B"}, [][2]string{{"A", "B"}})
	s := newScheduler(t, Config{})
	g, err := s.Compile(context.Background(), reg)
	require.NoError(t, err)

	r1, err := s.Execute(context.Background(), g)
	require.NoError(t, err)
	r2, err := s.Execute(context.Background(), g)
	require.NoError(t, err)
	require.NotEqual(t, r1.RunID, r2.RunID)
	require.Equal(t, 2, r2.Metrics.Completed)
}

func TestRun_OutputAndObserver(t *testing.T) {
	var buf bytes.Buffer
	var observed []string
	reg := buildRegistry(t, []string{"A", "B"}, [][2]string{{"A", "B"}})
	s := newScheduler(t, Config{},
		WithOutput(&buf),
		WithObserver(func(rec UnitRecord) { observed = append(observed, rec.Name) }),
	)

	report, err := s.Run(context.Background(), reg)
	require.NoError(t, err)
	require.Equal(t, []string{"A", "B"}, observed)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	require.Regexp(t, `^\[loaded\] \[name: A\] \[worker: worker-\d+\] \d+\.\d{2}ms$`, lines[0])
	require.Regexp(t, `^\[loaded\] \[name: B\] \[worker: worker-\d+\] \d+\.\d{2}ms$`, lines[1])
	require.Equal(t, report.TotalLine(), lines[2])
	require.Contains(t, lines[2], "[outcome: completed]")
}

func TestRun_TracesRunAndUnits(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	reg := buildRegistry(t, []string{"A", "B"}, [][2]string{{"A", "B"}})
	s := newScheduler(t, Config{}, WithTracer(tp.Tracer("test")))

	_, err := s.Run(context.Background(), reg)
	require.NoError(t, err)

	var names []string
	var runSpan sdktrace.ReadOnlySpan
	for _, span := range recorder.Ended() {
		names = append(names, span.Name())
		if span.Name() == tracing.SpanRun {
			runSpan = span
		}
	}
	require.ElementsMatch(t, []string{tracing.SpanCompile, tracing.SpanRun, tracing.SpanPrefixUnit + "A", tracing.SpanPrefixUnit + "B"}, names)
	require.NotNil(t, runSpan)

	for _, span := range recorder.Ended() {
		if strings.HasPrefix(span.Name(), tracing.SpanPrefixUnit) {
			require.Equal(t, runSpan.SpanContext().SpanID(), span.Parent().SpanID())
		}
	}
}
