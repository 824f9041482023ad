package playback

import (
	"fmt"
	"math"
	"time"

	"driftpursuit/viewer/internal/config"
	"driftpursuit/viewer/internal/interp"
	"driftpursuit/viewer/internal/logging"
	"driftpursuit/viewer/internal/rate"
)

type seekRequest struct {
	target int
	active bool
}

// Synchronizer drives a Cursor from render frames. All methods must be called
// from the goroutine that delivers frame ticks.
type Synchronizer struct {
	cursor   Cursor
	renderer Renderer
	sink     StatusSink
	clock    FrameClock
	cfg      config.PlaybackConfig
	log      *logging.Logger

	goal    float64
	sim     float64
	last    time.Time
	hasLast bool
	seek    seekRequest

	renderRate *rate.Estimator
	updateRate *rate.Estimator
	next       interp.NextStep

	cancelTick func()
	cancelled  bool
}

// NewSynchronizer wires a synchronizer. Zero tuning values fall back to the
// config package defaults; playback starts at the normal speed.
func NewSynchronizer(cursor Cursor, renderer Renderer, sink StatusSink, clock FrameClock, cfg config.PlaybackConfig, logger *logging.Logger) *Synchronizer {
	cfg = withDefaults(cfg)
	if renderer == nil {
		renderer = RendererFunc(func(RenderRequest) {})
	}
	if sink == nil {
		sink = StatusSinks(nil)
	}
	if logger == nil {
		logger = logging.L()
	}
	return &Synchronizer{
		cursor:     cursor,
		renderer:   renderer,
		sink:       sink,
		clock:      clock,
		cfg:        cfg,
		log:        logger,
		goal:       cfg.NormalSpeed,
		renderRate: rate.New(cfg.RateHalfLife, cfg.RateDepth),
		updateRate: rate.New(cfg.RateHalfLife, cfg.RateDepth),
	}
}

func withDefaults(cfg config.PlaybackConfig) config.PlaybackConfig {
	defaults := config.Defaults().Playback
	if cfg.NormalSpeed <= 0 {
		cfg.NormalSpeed = defaults.NormalSpeed
	}
	if cfg.FastSpeed <= 0 {
		cfg.FastSpeed = defaults.FastSpeed
	}
	if cfg.ResyncThreshold <= 0 {
		cfg.ResyncThreshold = defaults.ResyncThreshold
	}
	if cfg.ComputeBudget <= 0 {
		cfg.ComputeBudget = defaults.ComputeBudget
	}
	if cfg.RateHalfLife <= 0 {
		cfg.RateHalfLife = defaults.RateHalfLife
	}
	if cfg.RateDepth <= 0 {
		cfg.RateDepth = defaults.RateDepth
	}
	return cfg
}

// Start requests the first frame.
func (s *Synchronizer) Start() {
	s.schedule()
}

// OnFrame advances playback for one render frame.
func (s *Synchronizer) OnFrame(now time.Time) {
	if s.cancelled {
		return
	}
	s.cancelTick = nil

	//1.- Advance simulation time unless this is the first frame or a seek is pending.
	delta := 0.0
	switch {
	case !s.hasLast:
	case s.seek.active:
		if s.cursor.CurrentTurn() == s.seek.target {
			s.seek.active = false
		}
	default:
		realized := float64(s.cursor.CurrentTurn())
		if math.Abs(s.sim-realized) < s.cfg.ResyncThreshold {
			delta = s.advance(now.Sub(s.last))
			s.cursor.SeekTo(int(math.Floor(s.sim)))
		}
	}

	//2.- Feed the estimators, then let the cursor spend its budget.
	s.renderRate.Update(now, 1)
	s.updateRate.Update(now, delta)
	s.cursor.Compute(s.cfg.ComputeBudget)
	s.last = now
	s.hasLast = true

	//3.- Draw once and publish the frame's status.
	req := s.renderRequest()
	s.renderer.Render(req)
	s.sink.SetStatus(s.status(req.Next != nil))

	s.schedule()
}

// advance moves simulation time forward by the goal speed over elapsed and
// returns how far it actually moved. Time parks on the final turn.
func (s *Synchronizer) advance(elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	before := s.sim
	s.sim += s.goal * elapsed.Seconds()
	if end := float64(s.cursor.DeltaCount() - 1); s.sim > end {
		s.sim = math.Max(end, before)
	}
	return s.sim - before
}

func (s *Synchronizer) renderRequest() RenderRequest {
	world := s.cursor.Current()
	req := RenderRequest{World: world, Origin: world.MinCorner, Width: world.Width()}
	turn := s.cursor.CurrentTurn()
	if !s.cfg.Interpolate || turn+1 >= s.cursor.DeltaCount() || s.goal >= s.renderRate.Rate() {
		return req
	}
	delta, ok := s.cursor.NextDelta(turn)
	if !ok {
		return req
	}
	s.next.Load(world, delta)
	req.Next = &s.next
	req.Fraction = interp.Clamp(s.sim - float64(turn))
	return req
}

func (s *Synchronizer) status(interpolating bool) Status {
	return Status{
		Turn:             s.cursor.CurrentTurn(),
		FarthestTurn:     s.cursor.FarthestTurn(),
		TurnCount:        s.cursor.DeltaCount(),
		UpdatesPerSecond: s.updateRate.Rate(),
		FramesPerSecond:  s.renderRate.Rate(),
		GoalSpeed:        s.goal,
		SimulationTime:   s.sim,
		Seeking:          s.seek.active,
		Interpolating:    interpolating,
	}
}

func (s *Synchronizer) schedule() {
	if s.cancelled || s.clock == nil || s.cancelTick != nil {
		return
	}
	s.cancelTick = s.clock.RequestTick(s.OnFrame)
}

// SetGoalSpeed changes the playback speed in turns per second. A negative or
// NaN speed is a programming error and panics.
func (s *Synchronizer) SetGoalSpeed(v float64) {
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		panic(fmt.Sprintf("playback: invalid goal speed %v", v))
	}
	s.goal = v
}

// TogglePause switches between paused and the normal speed.
func (s *Synchronizer) TogglePause() {
	if s.goal == 0 {
		s.SetGoalSpeed(s.cfg.NormalSpeed)
	} else {
		s.SetGoalSpeed(0)
	}
	s.log.Debug("playback pause toggled", logging.Float64("goal_speed", s.goal))
}

// ToggleSpeed switches between the normal and fast speeds. A paused session
// resumes at the normal speed.
func (s *Synchronizer) ToggleSpeed() {
	if s.goal == s.cfg.NormalSpeed {
		s.SetGoalSpeed(s.cfg.FastSpeed)
	} else {
		s.SetGoalSpeed(s.cfg.NormalSpeed)
	}
	s.log.Debug("playback speed toggled", logging.Float64("goal_speed", s.goal))
}

// Seek jumps simulation time to target and holds it there until the cursor
// realizes that turn. The target must already be within range.
func (s *Synchronizer) Seek(target int) {
	s.sim = float64(target)
	s.seek = seekRequest{target: target, active: true}
	s.cursor.SeekTo(target)
	s.log.Debug("playback seek requested", logging.Int("target", target), logging.Int("realized", s.cursor.CurrentTurn()))
}

// Cancel stops frame scheduling for good. It is safe to call repeatedly.
func (s *Synchronizer) Cancel() {
	if s.cancelled {
		return
	}
	s.cancelled = true
	if s.cancelTick != nil {
		s.cancelTick()
		s.cancelTick = nil
	}
}

// Cancelled reports whether Cancel has been called.
func (s *Synchronizer) Cancelled() bool { return s.cancelled }

// SimulationTime is the fractional visual playback position.
func (s *Synchronizer) SimulationTime() float64 { return s.sim }

// GoalSpeed is the speed playback is trying to hold.
func (s *Synchronizer) GoalSpeed() float64 { return s.goal }

// Seeking reports whether a seek is still waiting for the cursor.
func (s *Synchronizer) Seeking() bool { return s.seek.active }

