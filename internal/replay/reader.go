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

	"driftpursuit/viewer/internal/codec"
	"driftpursuit/viewer/internal/match"
)

// ErrUnsupportedVersion is returned for bundles written with an unknown layout version.
var ErrUnsupportedVersion = errors.New("unsupported replay bundle version")

// maxTurnRecord bounds a single turn payload so a corrupt length cannot exhaust memory.
const maxTurnRecord = 64 << 20

// Bundle is a fully decoded replay bundle.
type Bundle struct {
	Dir      string
	Manifest Manifest
	Header   Header
	Deltas   []match.Delta
	Events   []Event
}

// ReadManifest loads and checks the manifest of the bundle in dir.
func ReadManifest(dir string) (Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return Manifest{}, err
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	if manifest.Version != ManifestVersion {
		return Manifest{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, manifest.Version)
	}
	if manifest.TurnCount < 0 {
		return Manifest{}, fmt.Errorf("manifest turn_count %d is negative", manifest.TurnCount)
	}
	return manifest, nil
}

// Open decodes the bundle stored in dir.
func Open(dir string) (*Bundle, error) {
	if dir == "" {
		return nil, fmt.Errorf("replay path must be provided")
	}
	manifest, err := ReadManifest(dir)
	if err != nil {
		return nil, err
	}
	header, err := ReadHeader(filepath.Join(dir, HeaderFile))
	if err != nil {
		return nil, err
	}

	bundle := &Bundle{Dir: dir, Manifest: manifest, Header: header}
	//1.- Decode the turn stream and insist it matches the manifest's count.
	if bundle.Deltas, err = readTurns(filepath.Join(dir, manifest.TurnsPath), manifest.TurnsCodec); err != nil {
		return nil, fmt.Errorf("read turns: %w", err)
	}
	if len(bundle.Deltas) != manifest.TurnCount {
		return nil, fmt.Errorf("manifest declares %d turns, stream holds %d", manifest.TurnCount, len(bundle.Deltas))
	}
	//2.- Events are optional decoration; a missing log is not an error.
	bundle.Events, err = readEvents(filepath.Join(dir, manifest.EventsPath), manifest.EventsCodec)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return bundle, nil
}

// Match builds a cursor over the bundle's turns.
func (b *Bundle) Match(opts match.Options) (*match.Match, error) {
	return match.New(b.Manifest.MinCorner, b.Manifest.MaxCorner, b.Deltas, opts)
}

func openStream(path, codecName string) (io.ReadCloser, func() error, error) {
	c, err := codec.Lookup(codecName)
	if err != nil {
		return nil, nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	stream, err := c.NewReader(bufio.NewReader(file))
	if err != nil {
		file.Close()
		return nil, nil, err
	}
	closeAll := func() error {
		return errors.Join(stream.Close(), file.Close())
	}
	return stream, closeAll, nil
}

func readTurns(path, codecName string) ([]match.Delta, error) {
	stream, closeAll, err := openStream(path, codecName)
	if err != nil {
		return nil, err
	}
	defer closeAll()

	var deltas []match.Delta
	var prefix [turnRecordHeaderSize]byte
	for {
		if _, err := io.ReadFull(stream, prefix[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return deltas, nil
			}
			return nil, fmt.Errorf("record %d prefix: %w", len(deltas), err)
		}
		turn := binary.LittleEndian.Uint64(prefix[0:8])
		size := binary.LittleEndian.Uint32(prefix[8:12])
		if turn != uint64(len(deltas)) {
			return nil, fmt.Errorf("record %d labelled turn %d", len(deltas), turn)
		}
		if size > maxTurnRecord {
			return nil, fmt.Errorf("record %d size %d exceeds limit", turn, size)
		}
		payload := make([]byte, size)
		if _, err := io.ReadFull(stream, payload); err != nil {
			return nil, fmt.Errorf("record %d payload: %w", turn, err)
		}
		var delta match.Delta
		if err := json.Unmarshal(payload, &delta); err != nil {
			return nil, fmt.Errorf("record %d decode: %w", turn, err)
		}
		deltas = append(deltas, delta)
	}
}

func readEvents(path, codecName string) ([]Event, error) {
	stream, closeAll, err := openStream(path, codecName)
	if err != nil {
		return nil, err
	}
	defer closeAll()

	var events []Event
	decoder := json.NewDecoder(stream)
	for decoder.More() {
		var event Event
		if err := decoder.Decode(&event); err != nil {
			return nil, fmt.Errorf("event %d: %w", len(events), err)
		}
		events = append(events, event)
	}
	return events, nil
}
