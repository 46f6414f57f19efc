// Package progress tracks byte progress for a single transfer and derives
// throughput and time-remaining figures for the UI callbacks.
package progress

import (
	"sync"
	"time"
)

// Stats is a point-in-time snapshot of progress.
type Stats struct {
	BytesDone int64
	Total     int64
	RateBps   float64
	ETA       time.Duration
	Percent   float64
	StartedAt time.Time
	UpdatedAt time.Time
}

// Meter tracks byte progress. The rate is the cumulative average since
// Start, so a stalled transfer decays toward its true mean rather than
// freezing at the last instantaneous reading.
type Meter struct {
	mu        sync.Mutex
	total     int64
	done      int64
	startedAt time.Time
	updatedAt time.Time
	now       func() time.Time
}

// NewMeter returns a meter using the wall clock.
func NewMeter() *Meter {
	return NewMeterWithNow(time.Now)
}

// NewMeterWithNow returns a meter with a custom time source (for tests).
func NewMeterWithNow(now func() time.Time) *Meter {
	if now == nil {
		now = time.Now
	}
	return &Meter{now: now}
}

// Start initializes the meter with a total size.
func (m *Meter) Start(totalBytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total = totalBytes
	m.done = 0
	m.startedAt = m.now()
	m.updatedAt = m.startedAt
}

// Add increments the completed byte count.
func (m *Meter) Add(n int) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.done += int64(n)
	m.updatedAt = m.now()
}

// Snapshot returns the current progress stats. Rate is zero until at
// least some time has elapsed; ETA is zero while the rate is zero.
func (m *Meter) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Stats{
		BytesDone: m.done,
		Total:     m.total,
		StartedAt: m.startedAt,
		UpdatedAt: m.updatedAt,
	}
	if m.total > 0 {
		stats.Percent = float64(m.done) / float64(m.total) * 100
	}
	elapsed := m.now().Sub(m.startedAt).Seconds()
	if elapsed > 0 && m.done > 0 {
		stats.RateBps = float64(m.done) / elapsed
	}
	if stats.RateBps > 0 && m.total > m.done {
		remaining := float64(m.total - m.done)
		stats.ETA = time.Duration(remaining / stats.RateBps * float64(time.Second))
	}
	return stats
}
