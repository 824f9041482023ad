// Package match models a recorded match as an initial world plus per-turn deltas
// and exposes a cursor that computes turn states incrementally under a time budget.
package match

import (
	"fmt"
	"sort"
)

// Vec2 is a point or direction on the match plane.
type Vec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Lerp blends v toward o by f.
func (v Vec2) Lerp(o Vec2, f float64) Vec2 {
	return Vec2{X: v.X + (o.X-v.X)*f, Y: v.Y + (o.Y-v.Y)*f}
}

// Body is a single entity alive on the board.
type Body struct {
	ID       int32   `json:"id"`
	Team     uint8   `json:"team"`
	Kind     string  `json:"kind"`
	Position Vec2    `json:"position"`
	Heading  float64 `json:"heading"`
	Health   float64 `json:"health"`
}

// Movement relocates an existing body at the end of a turn.
type Movement struct {
	ID       int32   `json:"id"`
	Position Vec2    `json:"position"`
	Heading  float64 `json:"heading"`
}

// Death removes a body. Offset in [0,1] is the instant within the turn at which
// the body is destroyed.
type Death struct {
	ID     int32   `json:"id"`
	Offset float64 `json:"offset"`
}

// HealthChange sets a body's health at the end of a turn.
type HealthChange struct {
	ID     int32   `json:"id"`
	Health float64 `json:"health"`
}

// Delta moves the world from Turn-1 to Turn. The delta for turn 0 builds the
// initial world from an empty board.
type Delta struct {
	Turn    int            `json:"turn"`
	Moved   []Movement     `json:"moved,omitempty"`
	Spawned []Body         `json:"spawned,omitempty"`
	Died    []Death        `json:"died,omitempty"`
	Damaged []HealthChange `json:"damaged,omitempty"`
}

// Validate reports structural problems in a delta.
func (d Delta) Validate() error {
	if d.Turn < 0 {
		return fmt.Errorf("delta turn %d is negative", d.Turn)
	}
	for _, death := range d.Died {
		if death.Offset < 0 || death.Offset > 1 {
			return fmt.Errorf("turn %d: death of body %d has offset %v outside [0,1]", d.Turn, death.ID, death.Offset)
		}
	}
	return nil
}

// World is the full board state at a turn.
type World struct {
	Turn      int
	MinCorner Vec2
	MaxCorner Vec2
	Bodies    map[int32]Body
}

// NewWorld returns an empty board before turn 0 has been applied.
func NewWorld(minCorner, maxCorner Vec2) *World {
	return &World{Turn: -1, MinCorner: minCorner, MaxCorner: maxCorner, Bodies: make(map[int32]Body)}
}

// Width is the horizontal extent of the board.
func (w *World) Width() float64 { return w.MaxCorner.X - w.MinCorner.X }

// Clone deep copies the world so the copy can be mutated independently.
func (w *World) Clone() *World {
	bodies := make(map[int32]Body, len(w.Bodies))
	for id, body := range w.Bodies {
		bodies[id] = body
	}
	return &World{Turn: w.Turn, MinCorner: w.MinCorner, MaxCorner: w.MaxCorner, Bodies: bodies}
}

// SortedBodies returns the bodies ordered by ID.
func (w *World) SortedBodies() []Body {
	out := make([]Body, 0, len(w.Bodies))
	for _, body := range w.Bodies {
		out = append(out, body)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Apply advances the world in place by one delta. References to unknown
// bodies are ignored.
func (w *World) Apply(d Delta) {
	for _, move := range d.Moved {
		body, ok := w.Bodies[move.ID]
		if !ok {
			continue
		}
		body.Position = move.Position
		body.Heading = move.Heading
		w.Bodies[move.ID] = body
	}
	for _, change := range d.Damaged {
		body, ok := w.Bodies[change.ID]
		if !ok {
			continue
		}
		body.Health = change.Health
		w.Bodies[change.ID] = body
	}
	for _, death := range d.Died {
		delete(w.Bodies, death.ID)
	}
	for _, body := range d.Spawned {
		w.Bodies[body.ID] = body
	}
	w.Turn = d.Turn
}
