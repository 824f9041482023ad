// Package playback reconciles render frames, the selected playback speed and
// the discrete turn sequence of a recorded match.
package playback

import (
	"time"

	"driftpursuit/viewer/internal/interp"
	"driftpursuit/viewer/internal/match"
)

// Cursor is the match-side collaborator: it owns realized turn state and
// computes toward a target under a time budget.
type Cursor interface {
	Current() *match.World
	CurrentTurn() int
	FarthestTurn() int
	NextDelta(turn int) (*match.Delta, bool)
	DeltaCount() int
	SeekTo(turn int)
	Compute(budget time.Duration)
}

// FrameClock schedules a callback for the next render frame. The returned
// function cancels the request.
type FrameClock interface {
	RequestTick(fn func(now time.Time)) func()
}

// RenderRequest is what gets drawn for one frame. Next is nil when the bare
// realized state should be drawn without blending.
type RenderRequest struct {
	World    *match.World
	Origin   match.Vec2
	Width    float64
	Next     *interp.NextStep
	Fraction float64
}

// Bodies resolves the request into the bodies to draw, ordered by ID.
func (r RenderRequest) Bodies() []match.Body {
	if r.Next == nil {
		return r.World.SortedBodies()
	}
	return r.Next.Blend(r.World, r.Fraction)
}

// Renderer draws one frame.
type Renderer interface {
	Render(req RenderRequest)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(req RenderRequest)

// Render calls f(req).
func (f RendererFunc) Render(req RenderRequest) { f(req) }

// Status is published to the control surface once per frame.
type Status struct {
	Turn             int     `json:"turn"`
	FarthestTurn     int     `json:"farthest_turn"`
	TurnCount        int     `json:"turn_count"`
	UpdatesPerSecond float64 `json:"updates_per_second"`
	FramesPerSecond  float64 `json:"frames_per_second"`
	GoalSpeed        float64 `json:"goal_speed"`
	SimulationTime   float64 `json:"simulation_time"`
	Seeking          bool    `json:"seeking"`
	Interpolating    bool    `json:"interpolating"`
}

// Paused reports whether playback is stopped.
func (s Status) Paused() bool { return s.GoalSpeed == 0 }

// StatusSink receives per-frame status.
type StatusSink interface {
	SetStatus(status Status)
}

// StatusSinks fans a status out to several sinks.
type StatusSinks []StatusSink

// SetStatus forwards status to every non-nil sink.
func (s StatusSinks) SetStatus(status Status) {
	for _, sink := range s {
		if sink != nil {
			sink.SetStatus(status)
		}
	}
}
