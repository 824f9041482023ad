package replaycatalog

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"driftpursuit/viewer/internal/replay"
)

// Entry captures a bundle's manifest and header alongside its directory.
type Entry struct {
	Dir      string          `json:"dir"`
	Manifest replay.Manifest `json:"manifest"`
	Header   replay.Header   `json:"header"`
}

// Winner resolves the winning team's display name.
func (e Entry) Winner() string {
	if e.Header.Winner == 0 {
		return ""
	}
	return e.Header.TeamName(e.Header.Winner)
}

// List walks the directory tree and returns every complete bundle, newest first.
func List(root string) ([]Entry, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("root directory must be provided")
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root must be a directory")
	}

	var entries []Entry
	//1.- A manifest marks a finished bundle; directories without one are still being written.
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || d.Name() != replay.ManifestFile {
			return nil
		}
		dir := filepath.Dir(path)
		manifest, err := replay.ReadManifest(dir)
		if err != nil {
			return fmt.Errorf("%s: %w", dir, err)
		}
		header, err := replay.ReadHeader(filepath.Join(dir, replay.HeaderFile))
		if err != nil {
			return fmt.Errorf("%s: %w", dir, err)
		}
		entries = append(entries, Entry{Dir: dir, Manifest: manifest, Header: header})
		return filepath.SkipDir
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Manifest.CreatedAt == entries[j].Manifest.CreatedAt {
			return entries[i].Dir < entries[j].Dir
		}
		return entries[i].Manifest.CreatedAt > entries[j].Manifest.CreatedAt
	})
	return entries, nil
}

// Find returns the entry whose directory base name or match ID equals name.
func Find(entries []Entry, name string) (Entry, bool) {
	for _, entry := range entries {
		if filepath.Base(entry.Dir) == name || entry.Manifest.MatchID == name {
			return entry, true
		}
	}
	return Entry{}, false
}

// MarshalEntries produces a stable JSON representation of the entries for CLI output.
func MarshalEntries(entries []Entry) ([]byte, error) {
	return json.MarshalIndent(entries, "", "  ")
}
