package scheduler

import "sync"

// Signal is a one-shot shutdown request shared by every unit in a run.
// The first Trigger wins; later calls are ignored.
type Signal struct {
	once   sync.Once
	done   chan struct{}
	mu     sync.RWMutex
	reason string
	by     string
}

// NewSignal returns an untriggered signal.
func NewSignal() *Signal {
	return &Signal{done: make(chan struct{})}
}

// Trigger fires the signal. by names the requester.
func (s *Signal) Trigger(by, reason string) {
	s.once.Do(func() {
		s.mu.Lock()
		s.by = by
		s.reason = reason
		s.mu.Unlock()
		close(s.done)
	})
}

// Done is closed once the signal fires.
func (s *Signal) Done() <-chan struct{} {
	return s.done
}

// Fired reports whether Trigger has been called.
func (s *Signal) Fired() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Reason returns the requester and reason given to the first Trigger.
func (s *Signal) Reason() (by, reason string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.by, s.reason
}
