package replay

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"driftpursuit/viewer/internal/codec"
	"driftpursuit/viewer/internal/match"
)

var writerMatchCleaner = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// ErrWriterClosed is returned when appending to a closed writer.
var ErrWriterClosed = errors.New("replay writer closed")

const (
	// ManifestVersion is the bundle layout version written by this package.
	ManifestVersion = 1
	// ManifestFile names the manifest inside a bundle directory.
	ManifestFile = "manifest.json"
	// HeaderFile names the header inside a bundle directory.
	HeaderFile = "header.json"

	eventsBase = "events.jsonl"
	turnsBase  = "turns.bin"

	// turnRecordHeaderSize is the fixed prefix of each turn record: turn u64 | size u32.
	turnRecordHeaderSize = 8 + 4
)

// Manifest describes the bundle layout so tooling can locate artefacts.
type Manifest struct {
	Version     int        `json:"version"`
	CreatedAt   string     `json:"created_at"`
	MatchID     string     `json:"match_id"`
	TurnCount   int        `json:"turn_count"`
	MinCorner   match.Vec2 `json:"min_corner"`
	MaxCorner   match.Vec2 `json:"max_corner"`
	EventsCodec string     `json:"events_codec"`
	EventsPath  string     `json:"events_path"`
	TurnsCodec  string     `json:"turns_codec"`
	TurnsPath   string     `json:"turns_path"`
}

// Event is a match-level occurrence recorded next to the turn stream.
type Event struct {
	Turn       int             `json:"turn"`
	CapturedAt string          `json:"captured_at"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// WriterOptions tune a bundle writer. Empty codec names select snappy for
// events and zstd for turns.
type WriterOptions struct {
	Clock       clockwork.Clock
	EventsCodec string
	TurnsCodec  string
	MinCorner   match.Vec2
	MaxCorner   match.Vec2
}

// Writer streams a match into a bundle directory.
type Writer struct {
	mu       sync.Mutex
	dir      string
	clock    clockwork.Clock
	manifest Manifest
	header   Header

	eventFile   *os.File
	eventStream io.WriteCloser
	eventBuf    *bufio.Writer
	turnFile    *os.File
	turnStream  io.WriteCloser

	turns  int
	closed bool
}

// NewWriter prepares the bundle directory under root and opens compressed sinks.
func NewWriter(root, matchID string, opts WriterOptions) (*Writer, error) {
	if root == "" {
		return nil, fmt.Errorf("replay root must be provided")
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.EventsCodec == "" {
		opts.EventsCodec = codec.Snappy
	}
	if opts.TurnsCodec == "" {
		opts.TurnsCodec = codec.Zstd
	}
	eventsCodec, err := codec.Lookup(opts.EventsCodec)
	if err != nil {
		return nil, err
	}
	turnsCodec, err := codec.Lookup(opts.TurnsCodec)
	if err != nil {
		return nil, err
	}

	cleaned := writerMatchCleaner.ReplaceAllString(matchID, "")
	if cleaned == "" {
		cleaned = "match"
	}
	created := opts.Clock.Now().UTC()
	dir := filepath.Join(root, fmt.Sprintf("%s-%s", cleaned, created.Format("20060102T150405Z")))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	manifest := Manifest{
		Version:     ManifestVersion,
		CreatedAt:   created.Format(time.RFC3339Nano),
		MatchID:     cleaned,
		MinCorner:   opts.MinCorner,
		MaxCorner:   opts.MaxCorner,
		EventsCodec: eventsCodec.Name(),
		EventsPath:  eventsBase + eventsCodec.Extension(),
		TurnsCodec:  turnsCodec.Name(),
		TurnsPath:   turnsBase + turnsCodec.Extension(),
	}

	//1.- Open both sinks, unwinding whatever was opened if a later step fails.
	w := &Writer{dir: dir, clock: opts.Clock, manifest: manifest}
	w.header = Header{SchemaVersion: HeaderSchemaVersion, MatchID: cleaned, FilePointer: ManifestFile}
	if w.eventFile, err = os.Create(filepath.Join(dir, manifest.EventsPath)); err != nil {
		return nil, err
	}
	if w.eventStream, err = eventsCodec.NewWriter(w.eventFile); err != nil {
		w.eventFile.Close()
		return nil, err
	}
	w.eventBuf = bufio.NewWriter(w.eventStream)
	if w.turnFile, err = os.Create(filepath.Join(dir, manifest.TurnsPath)); err != nil {
		w.eventStream.Close()
		w.eventFile.Close()
		return nil, err
	}
	if w.turnStream, err = turnsCodec.NewWriter(w.turnFile); err != nil {
		w.eventStream.Close()
		w.eventFile.Close()
		w.turnFile.Close()
		return nil, err
	}
	return w, nil
}

// Directory exposes the directory backing the replay bundle.
func (w *Writer) Directory() string {
	if w == nil {
		return ""
	}
	return w.dir
}

// Manifest returns the manifest as it stands; TurnCount grows with each turn.
func (w *Writer) Manifest() Manifest {
	w.mu.Lock()
	defer w.mu.Unlock()
	manifest := w.manifest
	manifest.TurnCount = w.turns
	return manifest
}

// SetHeaderMetadata configures the header persisted when the writer closes.
func (w *Writer) SetHeaderMetadata(seed, mapName string, teams []Team, winner uint8) {
	w.mu.Lock()
	w.header.MatchSeed = seed
	w.header.Map = mapName
	w.header.Teams = append([]Team(nil), teams...)
	w.header.Winner = winner
	w.mu.Unlock()
}

// AppendTurn writes the next turn delta. Turns must arrive in order starting at 0.
func (w *Writer) AppendTurn(delta match.Delta) error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	if err := delta.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(delta)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}
	if delta.Turn != w.turns {
		return fmt.Errorf("turn %d appended out of order, expected %d", delta.Turn, w.turns)
	}
	//1.- Length-prefix each record so readers can step through without parsing JSON boundaries.
	var prefix [turnRecordHeaderSize]byte
	binary.LittleEndian.PutUint64(prefix[0:8], uint64(delta.Turn))
	binary.LittleEndian.PutUint32(prefix[8:12], uint32(len(payload)))
	if _, err := w.turnStream.Write(prefix[:]); err != nil {
		return err
	}
	if _, err := w.turnStream.Write(payload); err != nil {
		return err
	}
	w.turns++
	return nil
}

// AppendEvent writes one JSON line to the event log.
func (w *Writer) AppendEvent(turn int, eventType string, payload any) error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		raw = data
	}
	record := Event{
		Turn:       turn,
		CapturedAt: w.clock.Now().UTC().Format(time.RFC3339Nano),
		Type:       eventType,
		Payload:    raw,
	}
	line, err := json.Marshal(record)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}
	if _, err := w.eventBuf.Write(line); err != nil {
		return err
	}
	return w.eventBuf.WriteByte('\n')
}

// Close flushes all streams, then persists the manifest and header.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	//1.- Attempt every flush/close and surface the first failure.
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	keep(w.eventBuf.Flush())
	keep(w.eventStream.Close())
	keep(w.eventFile.Close())
	keep(w.turnStream.Close())
	keep(w.turnFile.Close())

	//2.- The manifest goes last so a bundle without one is known to be incomplete.
	manifest := w.manifest
	manifest.TurnCount = w.turns
	keep(WriteHeader(filepath.Join(w.dir, HeaderFile), w.header))
	keep(writeManifest(filepath.Join(w.dir, ManifestFile), manifest))
	return firstErr
}

func writeManifest(path string, manifest Manifest) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
