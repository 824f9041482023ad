package replay

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteAndReadHeader(t *testing.T) {
	dir := t.TempDir()
	header := Header{
		SchemaVersion: HeaderSchemaVersion,
		MatchID:       "final",
		MatchSeed:     "seed-9",
		Map:           "canyon",
		Teams:         []Team{{ID: 1, Name: "red"}, {ID: 2, Name: "blue"}},
		Winner:        2,
		FilePointer:   ManifestFile,
	}
	path := filepath.Join(dir, HeaderFile)
	if err := WriteHeader(path, header); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	loaded, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if loaded.SchemaVersion != header.SchemaVersion || loaded.MatchSeed != header.MatchSeed || loaded.Map != "canyon" {
		t.Fatalf("unexpected header values: %+v", loaded)
	}
	if loaded.TeamName(loaded.Winner) != "blue" {
		t.Fatalf("unexpected winner name %q", loaded.TeamName(loaded.Winner))
	}
	if loaded.TeamName(9) != "team 9" {
		t.Fatalf("expected fallback team label, got %q", loaded.TeamName(9))
	}
}

func TestHeaderValidateRejectsDuplicateTeams(t *testing.T) {
	header := Header{
		SchemaVersion: HeaderSchemaVersion,
		FilePointer:   ManifestFile,
		Teams:         []Team{{ID: 1, Name: "red"}, {ID: 1, Name: "also red"}},
	}
	err := header.Validate()
	if err == nil || !strings.Contains(err.Error(), "declared twice") {
		t.Fatalf("expected duplicate team error, got %v", err)
	}
	if err := (Header{SchemaVersion: 1}).Validate(); err == nil {
		t.Fatalf("expected missing file pointer to be rejected")
	}
}
