package frameclock

import (
	"sync"
	"time"
)

// MonitorSnapshot summarises observed frame callback durations.
type MonitorSnapshot struct {
	Samples int           `json:"samples"`
	Average time.Duration `json:"average"`
	Max     time.Duration `json:"max"`
	Last    time.Duration `json:"last"`
}

// HeadroomFPS is the frame rate the average callback cost could sustain.
func (s MonitorSnapshot) HeadroomFPS() float64 {
	if s.Average <= 0 {
		return 0
	}
	return float64(time.Second) / float64(s.Average)
}

// Monitor accumulates timing statistics for frame callbacks.
type Monitor struct {
	mu      sync.Mutex
	samples int
	total   time.Duration
	max     time.Duration
	last    time.Duration
}

// NewMonitor constructs an empty monitor ready to collect samples.
func NewMonitor() *Monitor {
	return &Monitor{}
}

// Observe records the duration of one frame's callbacks.
func (m *Monitor) Observe(duration time.Duration) {
	if m == nil || duration <= 0 {
		return
	}
	m.mu.Lock()
	m.samples++
	m.total += duration
	if duration > m.max {
		m.max = duration
	}
	m.last = duration
	m.mu.Unlock()
}

// Snapshot returns a copy of the aggregated statistics.
func (m *Monitor) Snapshot() MonitorSnapshot {
	if m == nil {
		return MonitorSnapshot{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := MonitorSnapshot{Samples: m.samples, Max: m.max, Last: m.last}
	if m.samples > 0 {
		snapshot.Average = m.total / time.Duration(m.samples)
	}
	return snapshot
}

// Reset clears the accumulated statistics when a new match is loaded.
func (m *Monitor) Reset() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.samples = 0
	m.total = 0
	m.max = 0
	m.last = 0
	m.mu.Unlock()
}
