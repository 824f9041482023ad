package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// HeaderSchemaVersion tracks the schema version for replay header documents.
const HeaderSchemaVersion = 1

// Team names one side of the match.
type Team struct {
	ID   uint8  `json:"id"`
	Name string `json:"name"`
}

// Header is the human-facing metadata persisted alongside a replay bundle.
type Header struct {
	SchemaVersion int    `json:"schema_version"`
	MatchID       string `json:"match_id"`
	MatchSeed     string `json:"match_seed,omitempty"`
	Map           string `json:"map,omitempty"`
	Teams         []Team `json:"teams,omitempty"`
	Winner        uint8  `json:"winner,omitempty"`
	FilePointer   string `json:"file_pointer"`
}

// TeamName resolves a team identifier, falling back to a generic label.
func (h Header) TeamName(id uint8) string {
	for _, team := range h.Teams {
		if team.ID == id {
			return team.Name
		}
	}
	return fmt.Sprintf("team %d", id)
}

// Validate ensures the header contains enough information for catalogue tooling.
func (h Header) Validate() error {
	if h.SchemaVersion <= 0 {
		return fmt.Errorf("schema_version must be positive")
	}
	if strings.TrimSpace(h.FilePointer) == "" {
		return fmt.Errorf("file_pointer must not be empty")
	}
	seen := make(map[uint8]struct{}, len(h.Teams))
	for _, team := range h.Teams {
		if _, dup := seen[team.ID]; dup {
			return fmt.Errorf("team %d declared twice", team.ID)
		}
		seen[team.ID] = struct{}{}
	}
	return nil
}

// WriteHeader persists the supplied header to the provided file path.
func WriteHeader(path string, header Header) error {
	if err := header.Validate(); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(header, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	//1.- Terminate with a newline so POSIX tooling can append easily.
	return os.WriteFile(path, append(payload, '\n'), 0o644)
}

// ReadHeader loads and decodes a replay header from disk.
func ReadHeader(path string) (Header, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Header{}, err
	}
	var header Header
	if err := json.Unmarshal(data, &header); err != nil {
		return Header{}, fmt.Errorf("decode header %s: %w", path, err)
	}
	if err := header.Validate(); err != nil {
		return Header{}, err
	}
	return header, nil
}
