package replay

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"driftpursuit/viewer/internal/logging"
)

// RetentionPolicy defines how many replay bundles are retained on disk.
type RetentionPolicy struct {
	MaxMatches int
	MaxAge     time.Duration
}

// StorageStats summarises the disk footprint of persisted bundles.
type StorageStats struct {
	Bundles    int       `json:"bundles"`
	Incomplete int       `json:"incomplete"`
	Bytes      int64     `json:"bytes"`
	LastSweep  time.Time `json:"last_sweep"`
}

// Cleaner periodically prunes bundle directories according to a retention policy.
type Cleaner struct {
	mu     sync.RWMutex
	dir    string
	policy RetentionPolicy
	log    *logging.Logger
	clock  clockwork.Clock
	stats  StorageStats
}

// NewCleaner constructs a cleaner for the provided replay root.
func NewCleaner(dir string, policy RetentionPolicy, clock clockwork.Clock, logger *logging.Logger) *Cleaner {
	if logger == nil {
		logger = logging.L()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Cleaner{dir: dir, policy: policy, log: logger, clock: clock}
}

// Run executes retention sweeps until the context is cancelled.
func (c *Cleaner) Run(ctx context.Context, interval time.Duration) {
	if c == nil || ctx == nil {
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := c.clock.NewTicker(interval)
	defer ticker.Stop()
	//1.- Sweep eagerly so retention applies immediately on startup.
	c.sweep()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			c.sweep()
		}
	}
}

// RunOnce performs a single retention sweep.
func (c *Cleaner) RunOnce() {
	if c == nil {
		return
	}
	c.sweep()
}

// Stats returns the last recorded storage statistics.
func (c *Cleaner) Stats() StorageStats {
	if c == nil {
		return StorageStats{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

type bundleDir struct {
	name     string
	path     string
	size     int64
	modTime  time.Time
	complete bool
}

func (c *Cleaner) sweep() {
	if c == nil || strings.TrimSpace(c.dir) == "" {
		return
	}
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		c.log.Warn("replay retention scan failed", logging.Error(err), logging.String("directory", c.dir))
		return
	}
	bundles := c.collect(entries)
	now := c.clock.Now()
	kept := 0
	stats := StorageStats{LastSweep: now}
	for _, bundle := range bundles {
		if remove, reason := c.shouldRemove(bundle, now, kept); remove {
			if err := os.RemoveAll(bundle.path); err == nil {
				c.log.Info("replay retention removed bundle", logging.String("bundle", bundle.name), logging.String("reason", reason))
				continue
			}
			c.log.Warn("replay retention removal failed", logging.Error(err), logging.String("bundle", bundle.name))
		}
		//1.- Only complete bundles count towards the retention limit.
		if bundle.complete {
			kept++
			stats.Bundles++
		} else {
			stats.Incomplete++
		}
		stats.Bytes += bundle.size
	}
	c.mu.Lock()
	c.stats = stats
	c.mu.Unlock()
}

func (c *Cleaner) collect(entries []os.DirEntry) []*bundleDir {
	bundles := make([]*bundleDir, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(c.dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			c.log.Warn("replay retention stat failed", logging.Error(err), logging.String("path", path))
			continue
		}
		size, newest, err := directoryFootprint(path)
		if err != nil {
			c.log.Warn("replay retention size failed", logging.Error(err), logging.String("path", path))
			continue
		}
		modTime := info.ModTime()
		if newest.After(modTime) {
			modTime = newest
		}
		_, statErr := os.Stat(filepath.Join(path, ManifestFile))
		bundles = append(bundles, &bundleDir{
			name:     entry.Name(),
			path:     path,
			size:     size,
			modTime:  modTime,
			complete: statErr == nil,
		})
	}
	//2.- Newest first so the count limit favours recent matches.
	sort.Slice(bundles, func(i, j int) bool { return bundles[i].modTime.After(bundles[j].modTime) })
	return bundles
}

func (c *Cleaner) shouldRemove(bundle *bundleDir, now time.Time, kept int) (bool, string) {
	reasons := make([]string, 0, 2)
	if c.policy.MaxAge > 0 && now.Sub(bundle.modTime) > c.policy.MaxAge {
		reasons = append(reasons, fmt.Sprintf("age>%s", c.policy.MaxAge))
	}
	if bundle.complete && c.policy.MaxMatches > 0 && kept >= c.policy.MaxMatches {
		reasons = append(reasons, fmt.Sprintf(">=%d bundles", c.policy.MaxMatches))
	}
	return len(reasons) > 0, strings.Join(reasons, ", ")
}

func directoryFootprint(root string) (int64, time.Time, error) {
	var total int64
	var newest time.Time
	walkErr := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
		return nil
	})
	return total, newest, walkErr
}
