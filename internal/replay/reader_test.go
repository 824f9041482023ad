package replay

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"driftpursuit/viewer/internal/codec"
	"driftpursuit/viewer/internal/match"
)

func TestOpenRoundTripsWriterOutput(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 7, 11, 8, 30, 0, 0, time.UTC))
	writer := writeBundle(t, t.TempDir(), clock, sampleDeltas(5))

	bundle, err := Open(writer.Directory())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(bundle.Deltas) != 5 || bundle.Manifest.TurnCount != 5 {
		t.Fatalf("expected 5 turns, got %d (manifest %d)", len(bundle.Deltas), bundle.Manifest.TurnCount)
	}
	if bundle.Deltas[4].Moved[0].Position.X != 4 {
		t.Fatalf("unexpected delta contents: %+v", bundle.Deltas[4])
	}
	if len(bundle.Events) != 1 || bundle.Events[0].Type != "spawn" {
		t.Fatalf("unexpected events: %+v", bundle.Events)
	}
	if bundle.Header.TeamName(bundle.Header.Winner) != "red" {
		t.Fatalf("unexpected winner %q", bundle.Header.TeamName(bundle.Header.Winner))
	}

	m, err := bundle.Match(match.Options{KeyframeInterval: 2, Clock: clock})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if m.DeltaCount() != 5 || m.CurrentTurn() != 0 {
		t.Fatalf("unexpected cursor state: count=%d turn=%d", m.DeltaCount(), m.CurrentTurn())
	}
	if m.Current().Width() != 20 {
		t.Fatalf("expected board width 20, got %v", m.Current().Width())
	}
}

func TestOpenRejectsUnsupportedVersion(t *testing.T) {
	writer := writeBundle(t, t.TempDir(), clockwork.NewFakeClock(), sampleDeltas(2))
	path := filepath.Join(writer.Directory(), ManifestFile)
	manifest, err := ReadManifest(writer.Directory())
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	manifest.Version = ManifestVersion + 1
	if err := writeManifest(path, manifest); err != nil {
		t.Fatalf("writeManifest: %v", err)
	}
	if _, err := Open(writer.Directory()); !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestOpenRejectsTurnCountMismatch(t *testing.T) {
	writer := writeBundle(t, t.TempDir(), clockwork.NewFakeClock(), sampleDeltas(3))
	manifest := writer.Manifest()
	manifest.TurnCount = 4
	if err := writeManifest(filepath.Join(writer.Directory(), ManifestFile), manifest); err != nil {
		t.Fatalf("writeManifest: %v", err)
	}
	_, err := Open(writer.Directory())
	if err == nil || !strings.Contains(err.Error(), "declares 4 turns") {
		t.Fatalf("expected turn count mismatch, got %v", err)
	}
}

func TestOpenRejectsMislabelledRecord(t *testing.T) {
	dir := t.TempDir()
	writeRawBundle(t, dir, func(buf []byte) []byte {
		payload, _ := json.Marshal(match.Delta{Turn: 0})
		//1.- Label the first record as turn 7 to break the dense sequence.
		var prefix [turnRecordHeaderSize]byte
		binary.LittleEndian.PutUint64(prefix[0:8], 7)
		binary.LittleEndian.PutUint32(prefix[8:12], uint32(len(payload)))
		return append(append(buf, prefix[:]...), payload...)
	})
	_, err := Open(dir)
	if err == nil || !strings.Contains(err.Error(), "labelled turn 7") {
		t.Fatalf("expected mislabelled record error, got %v", err)
	}
}

func TestOpenRejectsTruncatedRecord(t *testing.T) {
	dir := t.TempDir()
	writeRawBundle(t, dir, func(buf []byte) []byte {
		var prefix [turnRecordHeaderSize]byte
		binary.LittleEndian.PutUint32(prefix[8:12], 100)
		return append(append(buf, prefix[:]...), []byte("{}")...)
	})
	if _, err := Open(dir); err == nil {
		t.Fatalf("expected truncated payload to fail")
	}
}

func TestOpenToleratesMissingEventLog(t *testing.T) {
	writer := writeBundle(t, t.TempDir(), clockwork.NewFakeClock(), sampleDeltas(2))
	if err := os.Remove(filepath.Join(writer.Directory(), writer.Manifest().EventsPath)); err != nil {
		t.Fatalf("remove events: %v", err)
	}
	bundle, err := Open(writer.Directory())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(bundle.Events) != 0 {
		t.Fatalf("expected no events, got %d", len(bundle.Events))
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatalf("expected empty path to fail")
	}
	if _, err := Open(t.TempDir()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected missing manifest, got %v", err)
	}
}

// writeRawBundle lays out an uncompressed single-turn bundle whose turn stream
// is produced by build.
func writeRawBundle(t *testing.T, dir string, build func([]byte) []byte) {
	t.Helper()
	manifest := Manifest{
		Version:     ManifestVersion,
		MatchID:     "raw",
		TurnCount:   1,
		EventsCodec: codec.None,
		EventsPath:  eventsBase,
		TurnsCodec:  codec.None,
		TurnsPath:   turnsBase,
		MaxCorner:   match.Vec2{X: 1, Y: 1},
	}
	if err := writeManifest(filepath.Join(dir, ManifestFile), manifest); err != nil {
		t.Fatalf("writeManifest: %v", err)
	}
	if err := WriteHeader(filepath.Join(dir, HeaderFile), Header{SchemaVersion: HeaderSchemaVersion, FilePointer: ManifestFile}); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, turnsBase), build(nil), 0o644); err != nil {
		t.Fatalf("write turns: %v", err)
	}
}
