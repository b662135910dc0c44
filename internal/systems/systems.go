// Package systems provides the demo units: an event system that announces
// itself, and render, input, and window systems that simulate work with a
// random latency and talk to each other over the event bus.
package systems

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/zjrosen/syscore/internal/log"
	"github.com/zjrosen/syscore/internal/unit"
)

// Event names used by the demo systems.
const (
	EventRender = "render"
	EventQuit   = "quit"
)

// Payloads published by the demo systems.
const (
	RenderPayload = "render the frame"
	QuitPayload   = "closed with the x button"
)

// DefaultMaxDelay bounds simulated latency when Options.MaxDelay is zero.
const DefaultMaxDelay = 3 * time.Second

// Options configures the demo systems.
type Options struct {
	// MaxDelay is the upper bound of the simulated latency. Latency is drawn
	// uniformly from [1ms, MaxDelay]. Negative disables latency.
	MaxDelay time.Duration
	// Out receives system output. Nil discards it.
	Out io.Writer
	// Latency overrides the random latency source for the named unit.
	Latency func(name string, max time.Duration) time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxDelay == 0 {
		o.MaxDelay = DefaultMaxDelay
	}
	if o.Out == nil {
		o.Out = io.Discard
	}
	if o.Latency == nil {
		o.Latency = randomLatency
	}
	return o
}

func randomLatency(_ string, max time.Duration) time.Duration {
	if max <= time.Millisecond {
		return max
	}
	return time.Millisecond + rand.N(max-time.Millisecond+1)
}

// simulate blocks for a random latency or until ctx ends.
func (o Options) simulate(ctx context.Context, env *unit.Env) error {
	if o.MaxDelay < 0 {
		return nil
	}
	d := o.Latency(env.Name, o.MaxDelay)
	log.Debug(log.CatUnit, "simulating work", "unit", env.Name, "worker", env.WorkerID, "latency", d)

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EventSystem announces that it is running. In the default graph every other
// system waits on it.
type EventSystem struct {
	opts Options
}

// NewEventSystem creates an EventSystem.
func NewEventSystem(opts Options) *EventSystem {
	return &EventSystem{opts: opts.withDefaults()}
}

func (s *EventSystem) Execute(_ context.Context, env *unit.Env) error {
	fmt.Fprintf(s.opts.Out, "running %s\n", env.Name)
	return nil
}

// RenderSystem prints every render payload it receives.
type RenderSystem struct {
	opts Options

	mu       sync.Mutex
	rendered []string
}

// NewRenderSystem creates a RenderSystem.
func NewRenderSystem(opts Options) *RenderSystem {
	return &RenderSystem{opts: opts.withDefaults()}
}

func (s *RenderSystem) Execute(ctx context.Context, env *unit.Env) error {
	env.Subscribe(EventRender, s.onRender)
	return s.opts.simulate(ctx, env)
}

func (s *RenderSystem) onRender(payload *string) {
	s.mu.Lock()
	s.rendered = append(s.rendered, *payload)
	s.mu.Unlock()
	fmt.Fprintln(s.opts.Out, *payload)
}

// Rendered returns the payloads received so far.
func (s *RenderSystem) Rendered() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.rendered...)
}

// InputSystem simulates polling, then asks for a render and a quit.
type InputSystem struct {
	opts Options
}

// NewInputSystem creates an InputSystem.
func NewInputSystem(opts Options) *InputSystem {
	return &InputSystem{opts: opts.withDefaults()}
}

func (s *InputSystem) Execute(ctx context.Context, env *unit.Env) error {
	if err := s.opts.simulate(ctx, env); err != nil {
		return err
	}
	env.Publish(EventRender, RenderPayload)
	env.Publish(EventQuit, QuitPayload)
	return nil
}

// WindowSystem turns a quit event into a shutdown request and asks for a
// render once its own work is done.
type WindowSystem struct {
	opts Options
}

// NewWindowSystem creates a WindowSystem.
func NewWindowSystem(opts Options) *WindowSystem {
	return &WindowSystem{opts: opts.withDefaults()}
}

func (s *WindowSystem) Execute(ctx context.Context, env *unit.Env) error {
	env.Subscribe(EventQuit, func(payload *string) {
		fmt.Fprintf(s.opts.Out, "quit message: %s\n", *payload)
		env.RequestShutdown(*payload)
	})
	if err := s.opts.simulate(ctx, env); err != nil {
		return err
	}
	env.Publish(EventRender, RenderPayload)
	return nil
}

// Noop only simulates latency.
type Noop struct {
	opts Options
}

// NewNoop creates a Noop.
func NewNoop(opts Options) *Noop {
	return &Noop{opts: opts.withDefaults()}
}

func (s *Noop) Execute(ctx context.Context, env *unit.Env) error {
	return s.opts.simulate(ctx, env)
}

// SyncWriter serialises writes to w so that lines from concurrent units do
// not interleave.
func SyncWriter(w io.Writer) io.Writer {
	if sw, ok := w.(*syncWriter); ok {
		return sw
	}
	return &syncWriter{w: w}
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
