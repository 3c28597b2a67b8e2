// Package perfmonitor measures wall-clock spans, such as how long a proxied
// session stayed open.
package perfmonitor

import (
	"sync"
	"time"
)

// PerformanceMonitor records a start and an end instant. Stop without a prior
// Start is ignored. Safe for concurrent use.
type PerformanceMonitor struct {
	mu        sync.Mutex
	startTime time.Time
	endTime   time.Time
}

// NewPerformanceMonitor returns a monitor with no recorded span.
func NewPerformanceMonitor() *PerformanceMonitor {
	return &PerformanceMonitor{}
}

// Start records the start instant, replacing any previous one.
func (p *PerformanceMonitor) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.startTime = time.Now()
	p.endTime = time.Time{}
}

// Stop records the end instant. Calling it again moves the end forward.
func (p *PerformanceMonitor) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startTime.IsZero() {
		return
	}

	p.endTime = time.Now()
}

// Reset clears both instants.
func (p *PerformanceMonitor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.startTime = time.Time{}
	p.endTime = time.Time{}
}

// Elapsed returns the recorded span, or zero unless both Start and Stop ran.
func (p *PerformanceMonitor) Elapsed() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startTime.IsZero() || p.endTime.IsZero() {
		return 0
	}

	return p.endTime.Sub(p.startTime)
}

// ElapsedMilliseconds returns Elapsed as fractional milliseconds.
func (p *PerformanceMonitor) ElapsedMilliseconds() float64 {
	return float64(p.Elapsed()) / float64(time.Millisecond)
}
