package networking

import "testing"

func TestFrameMetricsObserveAndForget(t *testing.T) {
	metrics := NewFrameMetrics()
	metrics.ObserveFrame()
	metrics.ObserveFrame()
	metrics.ObserveDelivery("viewer-1", 128)
	metrics.ObserveDelivery("viewer-1", 256)
	metrics.ObserveDrop(DropBandwidth)
	metrics.ObserveDrop(DropBandwidth)
	metrics.ObserveDrop(DropBackpressure)

	if metrics.Frames() != 2 {
		t.Fatalf("expected 2 frames, got %d", metrics.Frames())
	}
	if bytes := metrics.BytesPerViewer(); bytes["viewer-1"] != 256 {
		t.Fatalf("expected latest frame size, got %+v", bytes)
	}
	counts := metrics.DropCounts()
	if counts[DropBandwidth] != 2 || counts[DropBackpressure] != 1 {
		t.Fatalf("unexpected drop counts: %+v", counts)
	}

	metrics.ForgetViewer("viewer-1")
	if remaining := metrics.BytesPerViewer(); len(remaining) != 0 {
		t.Fatalf("expected viewer removal, got %+v", remaining)
	}
}

func TestFrameMetricsNilSafe(t *testing.T) {
	var metrics *FrameMetrics
	metrics.ObserveFrame()
	metrics.ObserveDrop(DropBandwidth)
	if metrics.Frames() != 0 || metrics.DropCounts() != nil {
		t.Fatalf("nil metrics should report nothing")
	}
}
