package networking

import (
	"sync"
	"sync/atomic"
)

// DropReason labels why a frame never reached a viewer.
type DropReason string

const (
	// DropBandwidth means the viewer's bandwidth budget was exhausted.
	DropBandwidth DropReason = "bandwidth"
	// DropBackpressure means the viewer's send queue was full.
	DropBackpressure DropReason = "backpressure"
)

// FrameMetrics tracks frame sizes and drop counters for the viewer hub.
type FrameMetrics struct {
	frames atomic.Int64

	mu    sync.RWMutex
	bytes map[string]int64
	drops map[DropReason]int64
}

// NewFrameMetrics constructs an empty tracker.
func NewFrameMetrics() *FrameMetrics {
	return &FrameMetrics{
		bytes: make(map[string]int64),
		drops: make(map[DropReason]int64),
	}
}

// ObserveFrame records one encoded frame broadcast to the hub.
func (m *FrameMetrics) ObserveFrame() {
	if m == nil {
		return
	}
	m.frames.Add(1)
}

// ObserveDelivery records the encoded size of the last frame queued for a viewer.
func (m *FrameMetrics) ObserveDelivery(viewerID string, size int) {
	if m == nil || viewerID == "" {
		return
	}
	m.mu.Lock()
	m.bytes[viewerID] = int64(max(size, 0))
	m.mu.Unlock()
}

// ObserveDrop counts a frame that was not delivered.
func (m *FrameMetrics) ObserveDrop(reason DropReason) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.drops[reason]++
	m.mu.Unlock()
}

// ForgetViewer removes the gauge for a disconnected viewer.
func (m *FrameMetrics) ForgetViewer(viewerID string) {
	if m == nil || viewerID == "" {
		return
	}
	m.mu.Lock()
	delete(m.bytes, viewerID)
	m.mu.Unlock()
}

// Frames returns the number of frames broadcast so far.
func (m *FrameMetrics) Frames() int64 {
	if m == nil {
		return 0
	}
	return m.frames.Load()
}

// BytesPerViewer returns a copy of the latest frame size per viewer.
func (m *FrameMetrics) BytesPerViewer() map[string]int64 {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]int64, len(m.bytes))
	for viewerID, size := range m.bytes {
		out[viewerID] = size
	}
	return out
}

// DropCounts returns cumulative drops per reason.
func (m *FrameMetrics) DropCounts() map[DropReason]int64 {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[DropReason]int64, len(m.drops))
	for reason, count := range m.drops {
		out[reason] = count
	}
	return out
}
