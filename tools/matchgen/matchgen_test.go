package matchgen

import (
	"reflect"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"driftpursuit/viewer/internal/match"
	"driftpursuit/viewer/internal/replay"
)

func TestBuildIsDeterministicPerSeed(t *testing.T) {
	opts := Options{Seed: 42, Turns: 80, BodiesPer: 3, HalfExtent: 50}
	first, err := Build(opts)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	second, err := Build(opts)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !reflect.DeepEqual(first.Deltas, second.Deltas) {
		t.Fatal("expected identical deltas for the same seed")
	}
	opts.Seed = 43
	third, err := Build(opts)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if reflect.DeepEqual(first.Deltas, third.Deltas) {
		t.Fatal("expected a different seed to change the match")
	}
}

func TestBuildProducesValidReplayableDeltas(t *testing.T) {
	generated, err := Build(Options{Seed: 7, Turns: 200, BodiesPer: 4, HalfExtent: 30})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(generated.Deltas[0].Spawned) != 8 {
		t.Fatalf("expected 8 spawned bodies, got %d", len(generated.Deltas[0].Spawned))
	}
	world := match.NewWorld(generated.MinCorner, generated.MaxCorner)
	for i, delta := range generated.Deltas {
		if delta.Turn != i {
			t.Fatalf("delta %d labelled turn %d", i, delta.Turn)
		}
		if err := delta.Validate(); err != nil {
			t.Fatalf("delta %d invalid: %v", i, err)
		}
		world.Apply(delta)
		for _, body := range world.Bodies {
			if body.Position.X < -30 || body.Position.X > 30 || body.Position.Y < -30 || body.Position.Y > 30 {
				t.Fatalf("body %d left the board at turn %d: %+v", body.ID, i, body.Position)
			}
		}
	}
	if generated.Events[0].Type != "match_start" || generated.Events[len(generated.Events)-1].Type != "match_end" {
		t.Fatalf("expected start and end events, got %+v", generated.Events)
	}
}

func TestBuildRejectsEmptyMatches(t *testing.T) {
	if _, err := Build(Options{Turns: 0, BodiesPer: 1}); err == nil {
		t.Fatal("expected zero turns to be rejected")
	}
	if _, err := Build(Options{Turns: 5}); err == nil {
		t.Fatal("expected zero bodies to be rejected")
	}
}

func TestWritePersistsReadableBundle(t *testing.T) {
	root := t.TempDir()
	at := time.Date(2024, 9, 1, 8, 0, 0, 0, time.UTC)
	dir, err := Write(root, Options{MatchID: "demo", Seed: 3, Turns: 50, BodiesPer: 2, Map: "dunes", Clock: clockwork.NewFakeClockAt(at)})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	bundle, err := replay.Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if bundle.Manifest.TurnCount != 50 || bundle.Manifest.MatchID != "demo" {
		t.Fatalf("unexpected manifest: %+v", bundle.Manifest)
	}
	if bundle.Header.Map != "dunes" || bundle.Header.MatchSeed != "3" || len(bundle.Header.Teams) != 2 {
		t.Fatalf("unexpected header: %+v", bundle.Header)
	}
	if len(bundle.Events) < 2 {
		t.Fatalf("expected events to be persisted, got %d", len(bundle.Events))
	}
	if _, err := bundle.Match(match.Options{}); err != nil {
		t.Fatalf("Match: %v", err)
	}
}
