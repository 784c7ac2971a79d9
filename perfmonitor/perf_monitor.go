// Package perfmonitor provides a small stopwatch used to time request
// processing.
package perfmonitor

import "time"

// PerformanceMonitor measures the time between a Start and a Stop call. It is
// not safe for concurrent use; create one per measured operation.
type PerformanceMonitor struct {
	startTime time.Time
	endTime   time.Time
}

// NewPerformanceMonitor returns a monitor with no measurement recorded.
func NewPerformanceMonitor() *PerformanceMonitor {
	return &PerformanceMonitor{}
}

// Start records the start time, overwriting any previous start time. The end
// time of a previous measurement is kept until the next Stop.
func (p *PerformanceMonitor) Start() {
	p.startTime = time.Now()
}

// Stop records the end time. It does nothing if Start has not been called
// since the last Reset.
func (p *PerformanceMonitor) Stop() {
	if p.startTime.IsZero() {
		return
	}

	p.endTime = time.Now()
}

// Reset clears both recorded times so the monitor can be reused.
func (p *PerformanceMonitor) Reset() {
	p.startTime = time.Time{}
	p.endTime = time.Time{}
}

// Elapsed returns the measured duration, or zero when either end of the
// measurement is missing.
func (p *PerformanceMonitor) Elapsed() time.Duration {
	if p.startTime.IsZero() || p.endTime.IsZero() {
		return 0
	}

	return p.endTime.Sub(p.startTime)
}

// ElapsedMilliseconds returns Elapsed as fractional milliseconds.
//
// Returns:
//   - The measured duration in milliseconds, or 0 if Start or Stop is missing
func (p *PerformanceMonitor) ElapsedMilliseconds() float64 {
	return float64(p.Elapsed()) / float64(time.Millisecond)
}
