package playback

import (
	"errors"
	"math"
	"sync/atomic"

	"github.com/google/uuid"

	"driftpursuit/viewer/internal/config"
	"driftpursuit/viewer/internal/logging"
)

// ErrSessionClosed is returned when a command arrives after the session stopped accepting work.
var ErrSessionClosed = errors.New("playback session closed")

// ErrInvalidSpeed is returned for negative or non-finite speeds.
var ErrInvalidSpeed = errors.New("goal speed must be a finite, non-negative number")

// Poster runs tasks on the goroutine delivering frame ticks.
type Poster interface {
	Post(task func()) bool
}

// Loop is the frame source a Session drives: it schedules ticks and serializes tasks.
type Loop interface {
	FrameClock
	Poster
}

// Session ties one match to a synchronizer and a frame loop. Its control
// methods are safe to call from any goroutine; they are forwarded to the loop.
type Session struct {
	id     string
	cursor Cursor
	sync   *Synchronizer
	loop   Loop
	log    *logging.Logger
	closed atomic.Bool
}

// NewSession builds a session for cursor. Frames are not requested until Start.
func NewSession(cursor Cursor, renderer Renderer, sink StatusSink, loop Loop, cfg config.PlaybackConfig, logger *logging.Logger) *Session {
	id := uuid.NewString()
	if logger == nil {
		logger = logging.L()
	}
	logger = logger.With(logging.String("session_id", id))
	return &Session{
		id:     id,
		cursor: cursor,
		sync:   NewSynchronizer(cursor, renderer, sink, loop, cfg, logger),
		loop:   loop,
		log:    logger,
	}
}

// ID uniquely identifies the session.
func (s *Session) ID() string { return s.id }

// TurnCount is the number of recorded turns.
func (s *Session) TurnCount() int { return s.cursor.DeltaCount() }

// Start schedules the first frame.
func (s *Session) Start() error {
	s.log.Info("playback session started", logging.Int("turns", s.cursor.DeltaCount()))
	return s.post(s.sync.Start)
}

// TogglePause switches between paused and normal speed.
func (s *Session) TogglePause() error { return s.post(s.sync.TogglePause) }

// ToggleSpeed switches between normal and fast speed.
func (s *Session) ToggleSpeed() error { return s.post(s.sync.ToggleSpeed) }

// SetGoalSpeed selects an arbitrary playback speed.
func (s *Session) SetGoalSpeed(v float64) error {
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return ErrInvalidSpeed
	}
	return s.post(func() { s.sync.SetGoalSpeed(v) })
}

// Seek jumps to turn, clamped into the recorded range. It returns the turn
// actually requested.
func (s *Session) Seek(turn int) (int, error) {
	if turn < 0 {
		turn = 0
	}
	if last := s.cursor.DeltaCount() - 1; turn > last {
		turn = last
	}
	return turn, s.post(func() { s.sync.Seek(turn) })
}

// Close stops the session's frames. Further commands return ErrSessionClosed.
func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.loop.Post(s.sync.Cancel)
	s.log.Info("playback session closed")
	return nil
}

func (s *Session) post(task func()) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	if !s.loop.Post(func() {
		if s.sync.Cancelled() {
			return
		}
		task()
	}) {
		return ErrSessionClosed
	}
	return nil
}
