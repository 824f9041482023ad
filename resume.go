package main

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"driftpursuit/viewer/internal/logging"
	"driftpursuit/viewer/internal/playback"
)

// resumePoint is the persisted playback position for one bundle.
type resumePoint struct {
	SavedAt   time.Time `json:"saved_at"`
	Bundle    string    `json:"bundle"`
	Turn      int       `json:"turn"`
	GoalSpeed float64   `json:"goal_speed"`
}

// ResumeStore persists the latest playback position so a restarted viewer
// continues where it stopped. It is a playback.StatusSink.
type ResumeStore struct {
	mu       sync.Mutex
	path     string
	bundle   string
	interval time.Duration
	clock    clockwork.Clock
	log      *logging.Logger

	saved  *resumePoint
	latest resumePoint
	dirty  bool

	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	once    sync.Once
}

// NewResumeStore loads any position saved at path. A nil store is returned
// when path is empty; its methods are no-ops.
func NewResumeStore(path, bundle string, interval time.Duration, clock clockwork.Clock, logger *logging.Logger) (*ResumeStore, error) {
	if path == "" {
		return nil, nil
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = logging.L()
	}
	store := &ResumeStore{
		path:     path,
		bundle:   bundle,
		interval: interval,
		clock:    clock,
		log:      logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *ResumeStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	var point resumePoint
	if err := json.Unmarshal(data, &point); err != nil {
		return err
	}
	//1.- A position recorded against another bundle means nothing here.
	if point.Bundle != s.bundle || point.Turn < 0 {
		return nil
	}
	s.saved = &point
	return nil
}

// Saved returns the position loaded at construction.
func (s *ResumeStore) Saved() (turn int, goalSpeed float64, ok bool) {
	if s == nil || s.saved == nil {
		return 0, 0, false
	}
	return s.saved.Turn, s.saved.GoalSpeed, true
}

// SetStatus records the position shown by the latest frame.
func (s *ResumeStore) SetStatus(status playback.Status) {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.latest.Turn != status.Turn || s.latest.GoalSpeed != status.GoalSpeed {
		s.latest.Turn = status.Turn
		s.latest.GoalSpeed = status.GoalSpeed
		s.dirty = true
	}
	s.mu.Unlock()
}

// Run flushes on every interval until Close.
func (s *ResumeStore) Run() {
	if s == nil || s.running.Swap(true) {
		return
	}
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()
	defer close(s.doneCh)
	for {
		select {
		case <-ticker.Chan():
			s.flush()
		case <-s.stopCh:
			s.flush()
			return
		}
	}
}

// Flush writes the latest position if it changed since the last write.
func (s *ResumeStore) Flush() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}
	point := s.latest
	point.SavedAt = s.clock.Now().UTC()
	point.Bundle = s.bundle
	data, err := json.MarshalIndent(point, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil && !errors.Is(err, fs.ErrExist) {
		return err
	}
	//2.- Write beside the target and rename into place.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}
	s.dirty = false
	return nil
}

func (s *ResumeStore) flush() {
	if err := s.Flush(); err != nil {
		s.log.Error("failed to persist resume position", logging.Error(err), logging.String("path", s.path))
	}
}

// Close stops Run, which flushes once more before returning. Without Run it
// flushes directly.
func (s *ResumeStore) Close() error {
	if s == nil {
		return nil
	}
	s.once.Do(func() { close(s.stopCh) })
	if !s.running.Load() {
		return s.Flush()
	}
	<-s.doneCh
	return nil
}

var _ playback.StatusSink = (*ResumeStore)(nil)
