// Package scheduler compiles a registry into an execution graph and runs its
// units concurrently, starting each unit only after every unit it depends on
// has finished.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/zjrosen/syscore/internal/cachemanager"
	"github.com/zjrosen/syscore/internal/eventbus"
	"github.com/zjrosen/syscore/internal/log"
	"github.com/zjrosen/syscore/internal/metrics"
	"github.com/zjrosen/syscore/internal/registry"
	"github.com/zjrosen/syscore/internal/tracing"
	"github.com/zjrosen/syscore/internal/unit"
)

// Config holds scheduler settings.
type Config struct {
	// MaxWorkers caps concurrent units. Values <= 0 size the pool to the
	// number of units so that no ready unit ever waits for a worker.
	MaxWorkers int
	// GraphCacheTTL bounds how long a compiled graph is reused for an
	// unchanged registry. Zero uses the cache default.
	GraphCacheTTL time.Duration
}

// Observer is called on the scheduler goroutine each time a unit reaches a
// terminal state.
type Observer func(UnitRecord)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithBus sets the event bus injected into units.
func WithBus(bus *eventbus.Bus) Option {
	return func(s *Scheduler) { s.bus = bus }
}

// WithTracer sets the tracer used for run and unit spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Scheduler) { s.tracer = tracer }
}

// WithGraphCache shares a compiled-graph cache between schedulers.
func WithGraphCache(cache cachemanager.CacheManager[string, *Graph]) Option {
	return func(s *Scheduler) { s.cache = cache }
}

// WithObserver registers an observer for unit results.
func WithObserver(obs Observer) Option {
	return func(s *Scheduler) { s.observers = append(s.observers, obs) }
}

// WithOutput writes one diagnostic line per finished unit plus a total line.
func WithOutput(w io.Writer) Option {
	return func(s *Scheduler) { s.out = w }
}

// Scheduler runs registries. A Scheduler may be reused; each Run compiles
// (or reuses) a graph and executes it once.
type Scheduler struct {
	cfg       Config
	bus       *eventbus.Bus
	tracer    trace.Tracer
	cache     cachemanager.CacheManager[string, *Graph]
	graphs    *cachemanager.Loader[string, *Graph, registry.Snapshot]
	observers []Observer
	out       io.Writer
}

// New creates a scheduler.
func New(cfg Config, opts ...Option) (*Scheduler, error) {
	if cfg.MaxWorkers < 0 {
		return nil, fmt.Errorf("scheduler: max workers must be >= 0, got %d", cfg.MaxWorkers)
	}

	s := &Scheduler{cfg: cfg, out: io.Discard}
	for _, opt := range opts {
		opt(s)
	}
	if s.bus == nil {
		s.bus = eventbus.New()
	}
	if s.tracer == nil {
		s.tracer = noop.NewTracerProvider().Tracer("noop")
	}
	if s.cache == nil {
		s.cache = cachemanager.NewInMemoryCacheManager[string, *Graph]("graphs", cachemanager.DefaultExpiration, cachemanager.DefaultCleanupInterval)
	}
	s.graphs = cachemanager.NewLoader(s.cache, func(_ context.Context, snap registry.Snapshot) (*Graph, error) {
		return Compile(snap)
	}, cfg.GraphCacheTTL)
	return s, nil
}

// Bus returns the event bus injected into units.
func (s *Scheduler) Bus() *eventbus.Bus {
	return s.bus
}

// Compile validates reg and returns its execution graph, reusing a cached
// graph when the registry has not changed since it was last compiled.
func (s *Scheduler) Compile(ctx context.Context, reg *registry.Registry) (*Graph, error) {
	if reg == nil {
		return nil, fmt.Errorf("scheduler: registry is nil")
	}
	snap := reg.Snapshot()

	_, span := s.tracer.Start(ctx, tracing.SpanCompile, trace.WithAttributes(
		attribute.Int(tracing.AttrUnitCount, len(snap.Units)),
		attribute.Int(tracing.AttrEdgeCount, len(snap.Edges)),
	))
	defer span.End()

	g, err := s.graphs.Get(ctx, snap.Fingerprint, snap)
	tracing.RecordError(span, err)
	if err != nil {
		log.ErrorErr(log.CatSched, "graph compilation failed", err, "fingerprint", snap.Fingerprint)
		return nil, fmt.Errorf("scheduler: compile: %w", err)
	}
	log.Debug(log.CatSched, "graph ready", "units", g.Len(), "edges", len(g.edges), "fingerprint", g.Fingerprint())
	return g, nil
}

// Run compiles reg and executes it. See Execute for the result contract.
func (s *Scheduler) Run(ctx context.Context, reg *registry.Registry) (*Report, error) {
	g, err := s.Compile(ctx, reg)
	if err != nil {
		return nil, err
	}
	return s.Execute(ctx, g)
}

// Execute runs every node of g once, honoring precedence, and blocks until
// no unit is running and no further unit can be admitted.
//
// The report is always returned for a started run. The error is nil when
// every unit completed. Otherwise it wraps ErrShutdownRequested when a unit
// called RequestShutdown, ErrUnitFailed when a unit returned an error, or the
// context error when ctx ended the run. After shutdown or cancellation no
// new unit is started; running units finish and the rest are skipped.
func (s *Scheduler) Execute(ctx context.Context, g *Graph) (*Report, error) {
	if g == nil || g.Len() == 0 {
		return nil, fmt.Errorf("scheduler: %w", ErrEmptyGraph)
	}

	workers := s.cfg.MaxWorkers
	if workers <= 0 || workers > g.Len() {
		workers = g.Len()
	}

	r := newRun(s, g, workers)
	ctx, span := s.tracer.Start(ctx, tracing.SpanRun, trace.WithAttributes(
		attribute.String(tracing.AttrRunID, r.id),
		attribute.Int(tracing.AttrUnitCount, g.Len()),
		attribute.Int(tracing.AttrEdgeCount, len(g.edges)),
	))
	defer span.End()
	r.span = span

	log.Info(log.CatSched, "run started", "run", r.id, "units", g.Len(), "workers", workers)
	report, err := r.execute(ctx)
	span.SetAttributes(attribute.String(tracing.AttrRunOutcome, string(report.Outcome)))
	tracing.RecordError(span, err)

	fmt.Fprintln(s.out, report.TotalLine())
	log.Info(log.CatSched, "run finished", "run", r.id, "outcome", report.Outcome, "total", metrics.FormatMillis(report.Total()))
	return report, err
}

type completion struct {
	idx    int
	worker string
	start  time.Time
	end    time.Time
	seq    [2]uint64
	err    error
}

// run is the per-execution state. Node states, remaining counts, and
// records are touched only by the coordinator goroutine in execute.
type run struct {
	s       *Scheduler
	g       *Graph
	id      string
	span    trace.Span
	workers int
	signal  *Signal

	states    []State
	remaining []int
	records   []UnitRecord
	finished  []int

	slots chan int
	done  chan completion
	seq   atomic.Uint64
	gauge metrics.Gauge
}

func newRun(s *Scheduler, g *Graph, workers int) *run {
	r := &run{
		s:         s,
		g:         g,
		id:        uuid.New().String(),
		workers:   workers,
		signal:    NewSignal(),
		states:    make([]State, g.Len()),
		remaining: make([]int, g.Len()),
		records:   make([]UnitRecord, g.Len()),
		slots:     make(chan int, workers),
		done:      make(chan completion, g.Len()),
	}
	for i, n := range g.nodes {
		r.states[i] = StatePending
		r.remaining[i] = len(n.predecessors)
		r.records[i] = UnitRecord{Name: n.Name, Kind: n.Kind, State: StatePending}
	}
	for slot := 1; slot <= workers; slot++ {
		r.slots <- slot
	}
	return r
}

func (r *run) execute(ctx context.Context) (*Report, error) {
	report := &Report{RunID: r.id, Start: time.Now()}
	publishedBefore := r.s.bus.Published()

	p := pool.New().WithMaxGoroutines(r.workers)

	var ready []int
	for _, n := range r.g.Roots() {
		r.states[n.index] = StateReady
		ready = append(ready, n.index)
	}

	running := 0
	stopping := false
	for {
		if !stopping && (ctx.Err() != nil || r.signal.Fired()) {
			stopping = true
			r.logStop(ctx)
		}
		for !stopping && len(ready) > 0 && running < r.workers {
			idx := ready[0]
			ready = ready[1:]
			r.admit(ctx, p, idx)
			running++
		}
		if running == 0 {
			break
		}

		signalDone, ctxDone := r.signal.Done(), ctx.Done()
		if stopping {
			signalDone, ctxDone = nil, nil
		}
		select {
		case c := <-r.done:
			running--
			ready = append(ready, r.finish(c)...)
		case <-signalDone:
		case <-ctxDone:
		}
	}
	p.Wait()

	skipReason := "not started"
	switch {
	case ctx.Err() != nil:
		skipReason = "run cancelled"
	case r.signal.Fired():
		skipReason = "shutdown requested"
	}
	for i := range r.g.nodes {
		if !r.states[i].IsTerminal() {
			r.skip(i, skipReason)
		}
	}

	report.End = time.Now()
	for _, idx := range r.finished {
		report.Units = append(report.Units, r.records[idx])
	}
	report.Metrics = r.summarize(report)
	report.Metrics.EventsPublished = r.s.bus.Published() - publishedBefore

	return report, r.outcome(ctx, report)
}

func (r *run) admit(ctx context.Context, p *pool.Pool, idx int) {
	n := r.g.nodes[idx]
	r.states[idx] = StateRunning
	r.records[idx].State = StateRunning
	r.span.AddEvent(tracing.EventNodeAdmitted, trace.WithAttributes(attribute.String(tracing.AttrUnitName, n.Name)))
	log.Debug(log.CatSched, "node admitted", "run", r.id, "unit", n.Name)

	p.Go(func() {
		r.done <- r.runNode(ctx, idx)
	})
}

// runNode executes one unit on a pool goroutine.
func (r *run) runNode(ctx context.Context, idx int) completion {
	n := r.g.nodes[idx]
	slot := <-r.slots
	defer func() { r.slots <- slot }()

	worker := fmt.Sprintf("worker-%d", slot)
	env := unit.NewEnv(n.Name, worker, r.id, r.s.bus, func(reason string) {
		r.requestShutdown(ctx, n.Name, reason)
	})
	u := tracing.WrapUnit(r.s.tracer, n.Kind, n.Unit)

	r.gauge.Inc()
	defer r.gauge.Dec()

	c := completion{idx: idx, worker: worker}
	c.seq[0] = r.seq.Add(1)
	c.start = time.Now()
	c.err = safeExecute(ctx, u, env)
	c.end = time.Now()
	c.seq[1] = r.seq.Add(1)
	return c
}

func safeExecute(ctx context.Context, u unit.Unit, env *unit.Env) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error(log.CatUnit, "unit panic recovered",
				"unit", env.Name,
				"panic", rec,
				"stack", string(debug.Stack()))
			err = fmt.Errorf("unit %s panicked: %v", env.Name, rec)
		}
	}()
	return u.Execute(ctx, env)
}

func (r *run) requestShutdown(ctx context.Context, by, reason string) {
	if r.signal.Fired() {
		return
	}
	r.signal.Trigger(by, reason)
	trace.SpanFromContext(ctx).AddEvent(tracing.EventShutdownRequested, trace.WithAttributes(
		attribute.String(tracing.AttrUnitName, by),
		attribute.String(tracing.AttrShutdownReason, reason),
	))
	log.Info(log.CatSched, "shutdown requested", "run", r.id, "by", by, "reason", reason)
}

// finish records a completion and returns the nodes it made ready.
func (r *run) finish(c completion) []int {
	n := r.g.nodes[c.idx]
	rec := &r.records[c.idx]
	rec.WorkerID = c.worker
	rec.Start, rec.End = c.start, c.end
	rec.StartSeq, rec.EndSeq = c.seq[0], c.seq[1]
	rec.Err = c.err

	if c.err != nil {
		r.states[c.idx] = StateFailed
		rec.State = StateFailed
		log.ErrorErr(log.CatUnit, "unit failed", c.err, "run", r.id, "unit", n.Name, "worker", c.worker)
		r.markFinished(c.idx)
		r.skipDependents(n)
		return nil
	}

	r.states[c.idx] = StateDone
	rec.State = StateDone
	log.Debug(log.CatUnit, "unit done", "run", r.id, "unit", n.Name, "worker", c.worker, "elapsed", metrics.FormatMillis(rec.Elapsed()))
	r.markFinished(c.idx)

	var ready []int
	for _, succ := range n.successors {
		r.remaining[succ.index]--
		if r.remaining[succ.index] == 0 && r.states[succ.index] == StatePending {
			r.states[succ.index] = StateReady
			r.records[succ.index].State = StateReady
			ready = append(ready, succ.index)
		}
	}
	return ready
}

func (r *run) skipDependents(failed *Node) {
	queue := append([]*Node(nil), failed.successors...)
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if r.states[n.index].IsTerminal() {
			continue
		}
		r.skip(n.index, fmt.Sprintf("dependency %s failed", failed.Name))
		queue = append(queue, n.successors...)
	}
}

func (r *run) skip(idx int, reason string) {
	r.states[idx] = StateSkipped
	r.records[idx].State = StateSkipped
	r.records[idx].SkipReason = reason
	r.span.AddEvent(tracing.EventNodeSkipped, trace.WithAttributes(
		attribute.String(tracing.AttrUnitName, r.g.nodes[idx].Name),
	))
	log.Debug(log.CatSched, "node skipped", "run", r.id, "unit", r.g.nodes[idx].Name, "reason", reason)
	r.markFinished(idx)
}

func (r *run) markFinished(idx int) {
	r.finished = append(r.finished, idx)
	rec := r.records[idx]
	fmt.Fprintln(r.s.out, rec.Line())
	for _, obs := range r.s.observers {
		obs(rec)
	}
}

func (r *run) logStop(ctx context.Context) {
	if err := ctx.Err(); err != nil {
		log.Warn(log.CatSched, "run cancelled, no new units will start", "run", r.id, "error", err)
		return
	}
	log.Info(log.CatSched, "shutdown observed, no new units will start", "run", r.id)
}

func (r *run) summarize(report *Report) metrics.RunMetrics {
	m := metrics.RunMetrics{
		Units:           r.g.Len(),
		PeakConcurrency: r.gauge.Peak(),
		Total:           report.End.Sub(report.Start),
	}
	for _, rec := range r.records {
		switch rec.State {
		case StateDone:
			m.Completed++
		case StateFailed:
			m.Failed++
		case StateSkipped:
			m.Skipped++
		}
		m.UnitTime += rec.Elapsed()
	}
	return m
}

func (r *run) outcome(ctx context.Context, report *Report) error {
	var failed []string
	for _, rec := range r.records {
		if rec.State == StateFailed {
			failed = append(failed, rec.Name)
		}
	}
	sort.Strings(failed)

	var errs []error
	switch {
	case ctx.Err() != nil:
		report.Outcome = OutcomeCancelled
		errs = append(errs, fmt.Errorf("run %s: %w", r.id, ctx.Err()))
	case r.signal.Fired():
		report.Outcome = OutcomeShutdown
		report.ShutdownBy, report.ShutdownReason = r.signal.Reason()
		errs = append(errs, fmt.Errorf("run %s: %w by %s: %s", r.id, ErrShutdownRequested, report.ShutdownBy, report.ShutdownReason))
	case len(failed) > 0:
		report.Outcome = OutcomeFailed
	default:
		report.Outcome = OutcomeCompleted
	}
	if len(failed) > 0 {
		errs = append(errs, fmt.Errorf("run %s: %w: %s", r.id, ErrUnitFailed, strings.Join(failed, ", ")))
	}
	return errors.Join(errs...)
}
