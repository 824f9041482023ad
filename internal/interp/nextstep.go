// Package interp blends a realized turn with the delta to the following turn.
package interp

import (
	"math"
	"sort"

	"driftpursuit/viewer/internal/match"
)

// HealthSwitchFraction is the fraction at which health changes become visible.
const HealthSwitchFraction = 0.5

// NextStep holds the transition from one turn to the next in a form that can be
// sampled at any fraction. A NextStep is reused across frames by calling Load.
type NextStep struct {
	moves   map[int32]match.Movement
	deaths  map[int32]float64
	health  map[int32]float64
	spawned []match.Body
	respawn map[int32]struct{}
}

// Load prepares the transition described by delta, starting from world.
func (n *NextStep) Load(world *match.World, delta *match.Delta) {
	n.moves = resetMap(n.moves)
	n.deaths = resetFloatMap(n.deaths)
	n.health = resetFloatMap(n.health)
	n.spawned = n.spawned[:0]
	if n.respawn == nil {
		n.respawn = make(map[int32]struct{})
	}
	clear(n.respawn)
	if delta == nil {
		return
	}
	for _, move := range delta.Moved {
		n.moves[move.ID] = move
	}
	for _, death := range delta.Died {
		n.deaths[death.ID] = death.Offset
	}
	for _, change := range delta.Damaged {
		n.health[change.ID] = change.Health
	}
	n.spawned = append(n.spawned, delta.Spawned...)
	for _, body := range delta.Spawned {
		n.respawn[body.ID] = struct{}{}
	}
}

// Blend samples the transition at fraction f, clamped into [0,1]. Positions are
// lerped, headings follow the shortest arc, a death applies once f reaches its
// offset, health switches at HealthSwitchFraction and spawns appear at 1,
// replacing any body with the same ID. Bodies are returned ordered by ID.
func (n *NextStep) Blend(world *match.World, f float64) []match.Body {
	f = Clamp(f)
	out := make([]match.Body, 0, len(world.Bodies)+len(n.spawned))
	for id, body := range world.Bodies {
		if offset, dies := n.deaths[id]; dies && f >= offset {
			continue
		}
		if _, replaced := n.respawn[id]; replaced && f >= 1 {
			continue
		}
		if move, ok := n.moves[id]; ok {
			body.Position = body.Position.Lerp(move.Position, f)
			body.Heading = LerpAngle(body.Heading, move.Heading, f)
		}
		if health, ok := n.health[id]; ok && f >= HealthSwitchFraction {
			body.Health = health
		}
		out = append(out, body)
	}
	if f >= 1 {
		out = append(out, n.spawned...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Clamp bounds a fraction to [0,1]. NaN maps to 0.
func Clamp(f float64) float64 {
	switch {
	case math.IsNaN(f) || f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}

// LerpAngle interpolates between two headings in radians along the shorter arc.
func LerpAngle(from, to, f float64) float64 {
	diff := math.Remainder(to-from, 2*math.Pi)
	return from + diff*f
}

func resetMap(m map[int32]match.Movement) map[int32]match.Movement {
	if m == nil {
		return make(map[int32]match.Movement)
	}
	clear(m)
	return m
}

func resetFloatMap(m map[int32]float64) map[int32]float64 {
	if m == nil {
		return make(map[int32]float64)
	}
	clear(m)
	return m
}
