package interp

import (
	"math"
	"testing"

	"driftpursuit/viewer/internal/match"
)

func baseWorld() *match.World {
	world := match.NewWorld(match.Vec2{}, match.Vec2{X: 10, Y: 10})
	world.Apply(match.Delta{Turn: 0, Spawned: []match.Body{
		{ID: 1, Position: match.Vec2{X: 0, Y: 0}, Heading: 0, Health: 10},
		{ID: 2, Position: match.Vec2{X: 5, Y: 5}, Health: 3},
	}})
	return world
}

func nextDelta() *match.Delta {
	return &match.Delta{
		Turn:    1,
		Moved:   []match.Movement{{ID: 1, Position: match.Vec2{X: 4, Y: 2}, Heading: math.Pi / 2}},
		Died:    []match.Death{{ID: 2, Offset: 0.4}},
		Damaged: []match.HealthChange{{ID: 1, Health: 7}},
		Spawned: []match.Body{{ID: 3, Position: match.Vec2{X: 1, Y: 1}, Health: 10}},
	}
}

func find(bodies []match.Body, id int32) (match.Body, bool) {
	for _, body := range bodies {
		if body.ID == id {
			return body, true
		}
	}
	return match.Body{}, false
}

func TestBlendLerpsPositionsAndHeadings(t *testing.T) {
	var step NextStep
	world := baseWorld()
	step.Load(world, nextDelta())

	bodies := step.Blend(world, 0.25)
	body, ok := find(bodies, 1)
	if !ok {
		t.Fatal("expected body 1 in blend")
	}
	if body.Position != (match.Vec2{X: 1, Y: 0.5}) {
		t.Fatalf("unexpected lerped position %#v", body.Position)
	}
	if math.Abs(body.Heading-math.Pi/8) > 1e-12 {
		t.Fatalf("unexpected heading %v", body.Heading)
	}
	if body.Health != 10 {
		t.Fatalf("health must not switch before the midpoint, got %v", body.Health)
	}
	if world.Bodies[1].Position != (match.Vec2{}) {
		t.Fatal("blend must not mutate the base world")
	}
}

func TestBlendResolvesDiscreteEventsByThreshold(t *testing.T) {
	var step NextStep
	world := baseWorld()
	step.Load(world, nextDelta())

	cases := []struct {
		fraction  float64
		wantDead  bool
		wantSpawn bool
		health    float64
	}{
		{fraction: 0, wantDead: false, wantSpawn: false, health: 10},
		{fraction: 0.39, wantDead: false, wantSpawn: false, health: 10},
		{fraction: 0.4, wantDead: true, wantSpawn: false, health: 10},
		{fraction: 0.5, wantDead: true, wantSpawn: false, health: 7},
		{fraction: 1, wantDead: true, wantSpawn: true, health: 7},
	}
	for _, tc := range cases {
		bodies := step.Blend(world, tc.fraction)
		if _, alive := find(bodies, 2); alive == tc.wantDead {
			t.Fatalf("fraction %v: expected dead=%v", tc.fraction, tc.wantDead)
		}
		if _, spawned := find(bodies, 3); spawned != tc.wantSpawn {
			t.Fatalf("fraction %v: expected spawn=%v", tc.fraction, tc.wantSpawn)
		}
		if body, _ := find(bodies, 1); body.Health != tc.health {
			t.Fatalf("fraction %v: expected health %v, got %v", tc.fraction, tc.health, body.Health)
		}
	}
}

func TestBlendSpawnReplacesBodyWithSameID(t *testing.T) {
	world := baseWorld()
	delta := &match.Delta{Turn: 1, Spawned: []match.Body{{ID: 1, Position: match.Vec2{X: 3}, Health: 5}}}
	var step NextStep
	step.Load(world, delta)

	before := step.Blend(world, 0.99)
	if body, _ := find(before, 1); body.Health != 10 || len(before) != 2 {
		t.Fatalf("expected the original body before the turn ends, got %+v", before)
	}

	applied := world.Clone()
	applied.Apply(*delta)
	blended := step.Blend(world, 1)
	want := applied.SortedBodies()
	if len(blended) != len(want) {
		t.Fatalf("blend at fraction 1 has %d bodies, applied world has %d", len(blended), len(want))
	}
	for i := range want {
		if blended[i] != want[i] {
			t.Fatalf("body %d: blended %+v, applied %+v", i, blended[i], want[i])
		}
	}
}

func TestBlendClampsFraction(t *testing.T) {
	var step NextStep
	world := baseWorld()
	step.Load(world, nextDelta())

	over, _ := find(step.Blend(world, 3.5), 1)
	if over.Position != (match.Vec2{X: 4, Y: 2}) {
		t.Fatalf("expected overshoot to clamp at the next position, got %#v", over.Position)
	}
	under, _ := find(step.Blend(world, -2), 1)
	if under.Position != (match.Vec2{}) {
		t.Fatalf("expected negative fraction to clamp at the base position, got %#v", under.Position)
	}
}

func TestLoadResetsPreviousStep(t *testing.T) {
	var step NextStep
	world := baseWorld()
	step.Load(world, nextDelta())
	step.Load(world, &match.Delta{Turn: 1})

	bodies := step.Blend(world, 1)
	if len(bodies) != 2 {
		t.Fatalf("expected stale events to be cleared, got %#v", bodies)
	}
}

func TestLerpAngleTakesShortestArc(t *testing.T) {
	from := 0.1
	to := 2*math.Pi - 0.1
	got := LerpAngle(from, to, 0.5)
	if math.Abs(got) > 1e-9 {
		t.Fatalf("expected the blend to pass through 0, got %v", got)
	}
}

func TestClamp(t *testing.T) {
	for _, tc := range []struct{ in, want float64 }{
		{-1, 0}, {0, 0}, {0.3, 0.3}, {1, 1}, {7, 1}, {math.NaN(), 0},
	} {
		if got := Clamp(tc.in); got != tc.want {
			t.Fatalf("Clamp(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
