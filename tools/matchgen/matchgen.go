// Package matchgen writes synthetic replay bundles for demos and tests.
package matchgen

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"driftpursuit/viewer/internal/match"
	"driftpursuit/viewer/internal/replay"
)

// Options shape a generated match.
type Options struct {
	MatchID    string
	Seed       uint64
	Turns      int
	BodiesPer  int
	HalfExtent float64
	Map        string
	Clock      clockwork.Clock
}

// DefaultOptions generates a short two-team skirmish.
func DefaultOptions() Options {
	return Options{Turns: 300, BodiesPer: 6, HalfExtent: 100, Map: "proving-grounds"}
}

var teams = []replay.Team{{ID: 1, Name: "red"}, {ID: 2, Name: "blue"}}

var kinds = []string{"scout", "tank", "artillery"}

// Match is a generated recording.
type Match struct {
	Deltas    []match.Delta
	Events    []GeneratedEvent
	MinCorner match.Vec2
	MaxCorner match.Vec2
	Winner    uint8
}

// GeneratedEvent is an event to append next to the turn stream.
type GeneratedEvent struct {
	Turn    int
	Type    string
	Payload map[string]any
}

type mover struct {
	body    match.Body
	speed   float64
	alive   bool
	damages int
}

// Build deterministically generates a match from opts.
func Build(opts Options) (*Match, error) {
	if opts.Turns <= 0 {
		return nil, fmt.Errorf("turns must be positive, got %d", opts.Turns)
	}
	if opts.BodiesPer <= 0 {
		return nil, fmt.Errorf("bodies per team must be positive, got %d", opts.BodiesPer)
	}
	if opts.HalfExtent <= 0 {
		opts.HalfExtent = DefaultOptions().HalfExtent
	}
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	extent := opts.HalfExtent
	out := &Match{
		Deltas:    make([]match.Delta, opts.Turns),
		MinCorner: match.Vec2{X: -extent, Y: -extent},
		MaxCorner: match.Vec2{X: extent, Y: extent},
	}

	//1.- Turn 0 spawns both teams on opposite flanks.
	movers := make([]*mover, 0, 2*opts.BodiesPer)
	spawn := match.Delta{Turn: 0}
	for t, team := range teams {
		flank := -extent / 2
		if t == 1 {
			flank = extent / 2
		}
		for i := 0; i < opts.BodiesPer; i++ {
			body := match.Body{
				ID:       int32(len(movers) + 1),
				Team:     team.ID,
				Kind:     kinds[i%len(kinds)],
				Position: match.Vec2{X: flank + rng.Float64()*10 - 5, Y: rng.Float64()*extent - extent/2},
				Heading:  rng.Float64() * 2 * math.Pi,
				Health:   100,
			}
			movers = append(movers, &mover{body: body, speed: 0.5 + rng.Float64(), alive: true})
			spawn.Spawned = append(spawn.Spawned, body)
		}
	}
	out.Deltas[0] = spawn
	out.Events = append(out.Events, GeneratedEvent{Turn: 0, Type: "match_start", Payload: map[string]any{"bodies": len(movers)}})

	//2.- Every later turn wanders survivors, trades damage and occasionally kills.
	for turn := 1; turn < opts.Turns; turn++ {
		delta := match.Delta{Turn: turn}
		for _, m := range movers {
			if !m.alive {
				continue
			}
			m.body.Heading += rng.NormFloat64() * 0.3
			next := match.Vec2{
				X: clamp(m.body.Position.X+math.Cos(m.body.Heading)*m.speed, -extent, extent),
				Y: clamp(m.body.Position.Y+math.Sin(m.body.Heading)*m.speed, -extent, extent),
			}
			m.body.Position = next
			delta.Moved = append(delta.Moved, match.Movement{ID: m.body.ID, Position: next, Heading: m.body.Heading})

			if rng.Float64() < 0.02 {
				m.body.Health -= 10 + rng.Float64()*20
				m.damages++
				if m.body.Health <= 0 {
					m.alive = false
					delta.Died = append(delta.Died, match.Death{ID: m.body.ID, Offset: rng.Float64()})
					out.Events = append(out.Events, GeneratedEvent{Turn: turn, Type: "death", Payload: map[string]any{"id": m.body.ID, "team": m.body.Team}})
					continue
				}
				delta.Damaged = append(delta.Damaged, match.HealthChange{ID: m.body.ID, Health: m.body.Health})
			}
		}
		sort.Slice(delta.Moved, func(i, j int) bool { return delta.Moved[i].ID < delta.Moved[j].ID })
		out.Deltas[turn] = delta
	}

	out.Winner = leader(movers)
	out.Events = append(out.Events, GeneratedEvent{Turn: opts.Turns - 1, Type: "match_end", Payload: map[string]any{"winner": out.Winner}})
	return out, nil
}

// leader returns the team with the most survivors, or 0 on a tie.
func leader(movers []*mover) uint8 {
	alive := map[uint8]int{}
	for _, m := range movers {
		if m.alive {
			alive[m.body.Team]++
		}
	}
	red, blue := alive[teams[0].ID], alive[teams[1].ID]
	switch {
	case red > blue:
		return teams[0].ID
	case blue > red:
		return teams[1].ID
	default:
		return 0
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// Write generates a match and persists it as a bundle under root, returning
// the bundle directory.
func Write(root string, opts Options) (string, error) {
	generated, err := Build(opts)
	if err != nil {
		return "", err
	}
	matchID := opts.MatchID
	if matchID == "" {
		matchID = "synthetic-" + uuid.NewString()[:8]
	}
	writer, err := replay.NewWriter(root, matchID, replay.WriterOptions{
		Clock:     opts.Clock,
		MinCorner: generated.MinCorner,
		MaxCorner: generated.MaxCorner,
	})
	if err != nil {
		return "", err
	}
	writer.SetHeaderMetadata(fmt.Sprintf("%d", opts.Seed), opts.Map, teams, generated.Winner)
	for _, delta := range generated.Deltas {
		if err := writer.AppendTurn(delta); err != nil {
			writer.Close()
			return "", err
		}
	}
	for _, event := range generated.Events {
		if err := writer.AppendEvent(event.Turn, event.Type, event.Payload); err != nil {
			writer.Close()
			return "", err
		}
	}
	if err := writer.Close(); err != nil {
		return "", err
	}
	return writer.Directory(), nil
}
