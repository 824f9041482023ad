// Package telemetry keeps the latest playback status and ships it to
// out-of-process observers.
package telemetry

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"driftpursuit/viewer/internal/playback"
)

// Snapshot is the most recent status together with bookkeeping about when it arrived.
type Snapshot struct {
	playback.Status
	SessionID string    `json:"session_id"`
	Frames    uint64    `json:"frames"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Fields flattens the snapshot into JSON-compatible primitives.
func (s Snapshot) Fields() map[string]any {
	return map[string]any{
		"session_id":         s.SessionID,
		"turn":               float64(s.Turn),
		"farthest_turn":      float64(s.FarthestTurn),
		"turn_count":         float64(s.TurnCount),
		"updates_per_second": s.UpdatesPerSecond,
		"frames_per_second":  s.FramesPerSecond,
		"goal_speed":         s.GoalSpeed,
		"simulation_time":    s.SimulationTime,
		"seeking":            s.Seeking,
		"interpolating":      s.Interpolating,
		"paused":             s.Paused(),
		"frames":             float64(s.Frames),
		"updated_at":         s.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// Board is a playback.StatusSink that remembers the latest status for readers
// on other goroutines.
type Board struct {
	mu      sync.RWMutex
	clock   clockwork.Clock
	session string
	latest  Snapshot
	ready   bool
}

// NewBoard constructs an empty board for the given session.
func NewBoard(sessionID string, clock clockwork.Clock) *Board {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Board{clock: clock, session: sessionID}
}

// SetSessionID labels subsequent snapshots with the playback session they came from.
func (b *Board) SetSessionID(sessionID string) {
	b.mu.Lock()
	b.session = sessionID
	b.mu.Unlock()
}

// SetStatus records the status published for the current frame.
func (b *Board) SetStatus(status playback.Status) {
	if b == nil {
		return
	}
	now := b.clock.Now()
	b.mu.Lock()
	b.latest = Snapshot{
		Status:    status,
		SessionID: b.session,
		Frames:    b.latest.Frames + 1,
		UpdatedAt: now,
	}
	b.ready = true
	b.mu.Unlock()
}

// Latest returns the most recent snapshot; ok is false until the first frame.
func (b *Board) Latest() (Snapshot, bool) {
	if b == nil {
		return Snapshot{}, false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.latest, b.ready
}

// Age reports how long ago the last status arrived.
func (b *Board) Age() (time.Duration, bool) {
	snapshot, ok := b.Latest()
	if !ok {
		return 0, false
	}
	return b.clock.Since(snapshot.UpdatedAt), true
}

var _ playback.StatusSink = (*Board)(nil)
