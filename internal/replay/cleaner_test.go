package replay

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"driftpursuit/viewer/internal/logging"
)

func TestCleanerEnforcesMaxMatches(t *testing.T) {
	tmp := t.TempDir()
	now := time.Date(2024, 7, 15, 12, 0, 0, 0, time.UTC)
	//1.- Seed three synthetic bundles so the cleaner has something to prune.
	seedBundle(t, tmp, "alpha-20240715T090000Z", now.Add(-3*time.Hour), 64, true)
	seedBundle(t, tmp, "bravo-20240715T100000Z", now.Add(-2*time.Hour), 32, true)
	seedBundle(t, tmp, "charlie-20240715T110000Z", now.Add(-time.Hour), 48, true)

	cleaner := NewCleaner(tmp, RetentionPolicy{MaxMatches: 2}, clockwork.NewFakeClockAt(now), logging.NewTestLogger())
	cleaner.RunOnce()

	remaining := listBundles(t, tmp)
	expected := []string{"bravo-20240715T100000Z", "charlie-20240715T110000Z"}
	if len(remaining) != 2 || remaining[0] != expected[0] || remaining[1] != expected[1] {
		t.Fatalf("unexpected retained bundles: %v", remaining)
	}

	stats := cleaner.Stats()
	if stats.Bundles != 2 || stats.Incomplete != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	manifestBytes := int64(len(`{"version":1}`))
	if stats.Bytes != 48+32+2*manifestBytes {
		t.Fatalf("unexpected byte total %d", stats.Bytes)
	}
	if !stats.LastSweep.Equal(now) {
		t.Fatalf("expected last sweep at %v, got %v", now, stats.LastSweep)
	}
}

func TestCleanerPrunesByAge(t *testing.T) {
	tmp := t.TempDir()
	now := time.Date(2024, 7, 16, 9, 0, 0, 0, time.UTC)
	seedBundle(t, tmp, "echo-20240713T080000Z", now.Add(-72*time.Hour), 3, true)
	seedBundle(t, tmp, "foxtrot-20240716T070000Z", now.Add(-time.Hour), 5, true)
	if err := os.WriteFile(filepath.Join(tmp, "notes.txt"), []byte("loose file"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cleaner := NewCleaner(tmp, RetentionPolicy{MaxAge: 36 * time.Hour, MaxMatches: 5}, clockwork.NewFakeClockAt(now), logging.NewTestLogger())
	cleaner.RunOnce()

	remaining := listBundles(t, tmp)
	if len(remaining) != 1 || remaining[0] != "foxtrot-20240716T070000Z" {
		t.Fatalf("expected only foxtrot to remain, got %v", remaining)
	}
	if _, err := os.Stat(filepath.Join(tmp, "notes.txt")); err != nil {
		t.Fatalf("expected loose files to be left alone: %v", err)
	}
}

func TestCleanerIgnoresIncompleteBundlesForCount(t *testing.T) {
	tmp := t.TempDir()
	now := time.Date(2024, 7, 17, 9, 0, 0, 0, time.UTC)
	seedBundle(t, tmp, "golf-20240717T080000Z", now.Add(-time.Hour), 4, true)
	//1.- A bundle still being written has no manifest yet and must survive the count limit.
	seedBundle(t, tmp, "hotel-20240717T085900Z", now.Add(-time.Minute), 4, false)

	cleaner := NewCleaner(tmp, RetentionPolicy{MaxMatches: 1}, clockwork.NewFakeClockAt(now), logging.NewTestLogger())
	cleaner.RunOnce()

	if remaining := listBundles(t, tmp); len(remaining) != 2 {
		t.Fatalf("expected both bundles to remain, got %v", remaining)
	}
	stats := cleaner.Stats()
	if stats.Bundles != 1 || stats.Incomplete != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestCleanerRunSweepsOnTicker(t *testing.T) {
	tmp := t.TempDir()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 7, 18, 0, 0, 0, 0, time.UTC))
	cleaner := NewCleaner(tmp, RetentionPolicy{MaxAge: time.Hour}, clock, logging.NewTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		cleaner.Run(ctx, time.Minute)
		close(done)
	}()

	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("waiting for ticker: %v", err)
	}
	seedBundle(t, tmp, "india-20240717T000000Z", clock.Now().Add(-2*time.Hour), 1, true)
	clock.Advance(time.Minute)

	//1.- Poll because the sweep runs on the cleaner goroutine.
	deadline := time.Now().Add(2 * time.Second)
	for len(listBundles(t, tmp)) != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("ticker sweep did not prune the stale bundle")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
}

func seedBundle(t *testing.T, dir, name string, mod time.Time, payload int, complete bool) {
	t.Helper()
	bundle := filepath.Join(dir, name)
	if err := os.MkdirAll(bundle, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	files := map[string][]byte{"turns.bin.zst": make([]byte, payload)}
	if complete {
		files[ManifestFile] = []byte(`{"version":1}`)
	}
	for name, data := range files {
		path := filepath.Join(bundle, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			t.Fatalf("WriteFile %s: %v", name, err)
		}
		if err := os.Chtimes(path, mod, mod); err != nil {
			t.Fatalf("Chtimes %s: %v", name, err)
		}
	}
	if err := os.Chtimes(bundle, mod, mod); err != nil {
		t.Fatalf("Chtimes dir: %v", err)
	}
}

func listBundles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names
}
