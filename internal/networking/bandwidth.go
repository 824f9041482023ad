// Package networking meters outbound viewer traffic.
package networking

import (
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultBandwidthLimitBytesPerSecond caps per-viewer frame throughput at 4 Mbps (decimal).
const DefaultBandwidthLimitBytesPerSecond = 4_000_000.0 / 8.0

// BandwidthUsage captures the throttling state for a single viewer.
type BandwidthUsage struct {
	ViewerID        string    `json:"viewer_id"`
	AvailableBytes  float64   `json:"available_bytes"`
	BytesPerSecond  float64   `json:"bytes_per_second"`
	ObservedSeconds float64   `json:"observed_seconds"`
	SentBytes       int64     `json:"sent_bytes"`
	DroppedFrames   int64     `json:"dropped_frames"`
	LastRefill      time.Time `json:"last_refill"`
}

type viewerBucket struct {
	tokens  float64
	last    time.Time
	since   time.Time
	sent    int64
	dropped int64
}

// BandwidthRegulator enforces a token-bucket budget per viewer so a slow
// connection sheds frames instead of queueing them.
type BandwidthRegulator struct {
	mu       sync.Mutex
	buckets  map[string]*viewerBucket
	capacity float64
	refill   float64
	clock    clockwork.Clock
}

// NewBandwidthRegulator constructs a regulator refilling at bytesPerSecond.
func NewBandwidthRegulator(bytesPerSecond float64, clock clockwork.Clock) *BandwidthRegulator {
	if bytesPerSecond <= 0 {
		bytesPerSecond = DefaultBandwidthLimitBytesPerSecond
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &BandwidthRegulator{
		buckets:  make(map[string]*viewerBucket),
		capacity: bytesPerSecond,
		refill:   bytesPerSecond,
		clock:    clock,
	}
}

func (r *BandwidthRegulator) replenish(bucket *viewerBucket, now time.Time) {
	//1.- Ignore time running backwards.
	if !now.After(bucket.last) {
		return
	}
	bucket.tokens = math.Min(r.capacity, bucket.tokens+now.Sub(bucket.last).Seconds()*r.refill)
	bucket.last = now
}

// Allow charges a frame of size bytes against the viewer's budget. Status
// messages and other control traffic should bypass the regulator.
func (r *BandwidthRegulator) Allow(viewerID string, size int) bool {
	if r == nil || viewerID == "" || size <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	bucket := r.buckets[viewerID]
	if bucket == nil {
		//1.- New viewers start with a full bucket so the first frames go out at once.
		bucket = &viewerBucket{tokens: r.capacity, last: now, since: now}
		r.buckets[viewerID] = bucket
	}
	r.replenish(bucket, now)

	if float64(size) > bucket.tokens {
		//2.- Count the refusal; the caller drops the frame.
		bucket.dropped++
		return false
	}
	bucket.tokens -= float64(size)
	bucket.sent += int64(size)
	return true
}

// Forget removes the bucket for a disconnected viewer.
func (r *BandwidthRegulator) Forget(viewerID string) {
	if r == nil || viewerID == "" {
		return
	}
	r.mu.Lock()
	delete(r.buckets, viewerID)
	r.mu.Unlock()
}

// SnapshotUsage reports throughput and drop counts per viewer.
func (r *BandwidthRegulator) SnapshotUsage() map[string]BandwidthUsage {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buckets) == 0 {
		return nil
	}

	now := r.clock.Now()
	snapshot := make(map[string]BandwidthUsage, len(r.buckets))
	for viewerID, bucket := range r.buckets {
		r.replenish(bucket, now)
		observed := math.Max(now.Sub(bucket.since).Seconds(), 0)
		rate := 0.0
		if observed > 0 {
			rate = float64(bucket.sent) / observed
		}
		snapshot[viewerID] = BandwidthUsage{
			ViewerID:        viewerID,
			AvailableBytes:  math.Max(bucket.tokens, 0),
			BytesPerSecond:  rate,
			ObservedSeconds: observed,
			SentBytes:       bucket.sent,
			DroppedFrames:   bucket.dropped,
			LastRefill:      bucket.last,
		}
	}
	return snapshot
}
