// Package metrics provides run statistics for the scheduler.
package metrics

import (
	"fmt"
	"sync/atomic"
	"time"
)

// RunMetrics summarises one scheduler run.
type RunMetrics struct {
	Units     int `json:"units"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`

	// PeakConcurrency is the most units observed executing at once.
	PeakConcurrency int `json:"peak_concurrency"`
	// EventsPublished counts bus publishes made during the run.
	EventsPublished int64 `json:"events_published"`

	// Total is wall-clock time for the whole run.
	Total time.Duration `json:"total"`
	// UnitTime is the sum of every unit's execute time.
	UnitTime time.Duration `json:"unit_time"`
}

// Parallelism returns UnitTime/Total: 1.0 means fully serial execution.
func (m RunMetrics) Parallelism() float64 {
	if m.Total <= 0 {
		return 0
	}
	return float64(m.UnitTime) / float64(m.Total)
}

// FormatTotal returns total elapsed milliseconds, e.g. "1532.41ms".
func (m RunMetrics) FormatTotal() string {
	return FormatMillis(m.Total)
}

// FormatParallelism returns a display string such as "2.7x".
func (m RunMetrics) FormatParallelism() string {
	return fmt.Sprintf("%.1fx", m.Parallelism())
}

// FormatMillis renders d in milliseconds with two decimals.
func FormatMillis(d time.Duration) string {
	return fmt.Sprintf("%.2fms", float64(d.Microseconds())/1000.0)
}

// Gauge tracks a current value and its high-water mark. Safe for concurrent use.
type Gauge struct {
	current atomic.Int64
	peak    atomic.Int64
}

// Inc raises the gauge by one and updates the peak.
func (g *Gauge) Inc() {
	n := g.current.Add(1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

// Dec lowers the gauge by one.
func (g *Gauge) Dec() {
	g.current.Add(-1)
}

// Current returns the present value.
func (g *Gauge) Current() int {
	return int(g.current.Load())
}

// Peak returns the highest value seen.
func (g *Gauge) Peak() int {
	return int(g.peak.Load())
}
