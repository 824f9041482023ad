package playback

import (
	"math"
	"testing"
	"time"

	"driftpursuit/viewer/internal/config"
	"driftpursuit/viewer/internal/logging"
	"driftpursuit/viewer/internal/match"
)

// fakeCursor realizes turns instantly unless stepsPerCompute limits it.
type fakeCursor struct {
	world           *match.World
	count           int
	target          int
	farthest        int
	stepsPerCompute int
	frozen          bool
	seeks           []int
	budgets         []time.Duration
}

func newFakeCursor(count int) *fakeCursor {
	world := match.NewWorld(match.Vec2{}, match.Vec2{X: 64, Y: 64})
	world.Apply(match.Delta{Turn: 0, Spawned: []match.Body{{ID: 1, Health: 1}}})
	return &fakeCursor{world: world, count: count}
}

func (c *fakeCursor) Current() *match.World { return c.world }
func (c *fakeCursor) CurrentTurn() int      { return c.world.Turn }
func (c *fakeCursor) FarthestTurn() int     { return c.farthest }
func (c *fakeCursor) DeltaCount() int       { return c.count }

func (c *fakeCursor) NextDelta(turn int) (*match.Delta, bool) {
	if turn < 0 || turn+1 >= c.count {
		return nil, false
	}
	next := turn + 1
	return &match.Delta{Turn: next, Moved: []match.Movement{{ID: 1, Position: match.Vec2{X: float64(next)}}}}, true
}

func (c *fakeCursor) SeekTo(turn int) {
	if turn < 0 {
		turn = 0
	}
	if turn > c.count-1 {
		turn = c.count - 1
	}
	c.target = turn
	c.seeks = append(c.seeks, turn)
}

func (c *fakeCursor) Compute(budget time.Duration) {
	c.budgets = append(c.budgets, budget)
	if c.frozen {
		return
	}
	steps := c.stepsPerCompute
	if steps <= 0 {
		steps = math.MaxInt32
	}
	for i := 0; i < steps && c.world.Turn != c.target; i++ {
		if c.world.Turn < c.target {
			c.world.Turn++
		} else {
			c.world.Turn--
		}
	}
	c.world.Bodies[1] = match.Body{ID: 1, Health: 1, Position: match.Vec2{X: float64(c.world.Turn)}}
	if c.world.Turn > c.farthest {
		c.farthest = c.world.Turn
	}
}

// manualClock hands out at most one pending tick and fires it on demand.
type manualClock struct {
	pending  func(time.Time)
	requests int
	cancels  int
}

func (c *manualClock) RequestTick(fn func(time.Time)) func() {
	c.requests++
	c.pending = fn
	return func() {
		if c.pending != nil {
			c.cancels++
		}
		c.pending = nil
	}
}

func (c *manualClock) fire(t *testing.T, now time.Time) {
	t.Helper()
	fn := c.pending
	if fn == nil {
		t.Fatal("no frame requested")
	}
	c.pending = nil
	fn(now)
}

type recordingRenderer struct{ requests []RenderRequest }

func (r *recordingRenderer) Render(req RenderRequest) { r.requests = append(r.requests, req) }

func (r *recordingRenderer) last() RenderRequest { return r.requests[len(r.requests)-1] }

type recordingSink struct{ statuses []Status }

func (s *recordingSink) SetStatus(status Status) { s.statuses = append(s.statuses, status) }

type harness struct {
	cursor   *fakeCursor
	clock    *manualClock
	renderer *recordingRenderer
	sink     *recordingSink
	sync     *Synchronizer
	start    time.Time
}

func testPlaybackConfig() config.PlaybackConfig {
	cfg := config.Defaults().Playback
	cfg.Interpolate = true
	return cfg
}

func newHarness(count int, cfg config.PlaybackConfig) *harness {
	h := &harness{
		cursor:   newFakeCursor(count),
		clock:    &manualClock{},
		renderer: &recordingRenderer{},
		sink:     &recordingSink{},
		start:    time.Unix(1_700_000_000, 0),
	}
	h.sync = NewSynchronizer(h.cursor, h.renderer, h.sink, h.clock, cfg, logging.NewTestLogger())
	h.sync.Start()
	return h
}

// frames fires n frames spaced by step, the first at offset.
func (h *harness) frames(t *testing.T, offset, step time.Duration, n int) time.Duration {
	t.Helper()
	at := offset
	for i := 0; i < n; i++ {
		h.clock.fire(t, h.start.Add(at))
		at += step
	}
	return at
}

func approxEqual(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestPausedPlaybackNeverAdvances(t *testing.T) {
	h := newHarness(100, testPlaybackConfig())
	h.sync.SetGoalSpeed(0)

	h.frames(t, 0, 16*time.Millisecond, 120)

	if h.sync.SimulationTime() != 0 {
		t.Fatalf("expected paused simulation time to stay 0, got %v", h.sync.SimulationTime())
	}
	if h.cursor.CurrentTurn() != 0 {
		t.Fatalf("expected realized turn 0, got %d", h.cursor.CurrentTurn())
	}
}

func TestSimulationTimeAdvancesLinearly(t *testing.T) {
	cases := []struct {
		speed float64
		step  time.Duration
		n     int
	}{
		{speed: 7, step: 16 * time.Millisecond, n: 30},
		{speed: 10, step: 33 * time.Millisecond, n: 12},
		{speed: 2.5, step: 5 * time.Millisecond, n: 200},
	}
	for _, tc := range cases {
		h := newHarness(1000, testPlaybackConfig())
		h.sync.SetGoalSpeed(tc.speed)

		h.frames(t, 0, tc.step, tc.n+1)

		want := tc.speed * float64(tc.n) * float64(tc.step/time.Millisecond) / 1000
		if got := h.sync.SimulationTime(); math.Abs(got-want) > 1e-6 {
			t.Fatalf("speed %v step %v: expected simulation time %v, got %v", tc.speed, tc.step, want, got)
		}
	}
}

func TestFirstFrameDoesNotAdvance(t *testing.T) {
	h := newHarness(100, testPlaybackConfig())
	h.sync.SetGoalSpeed(50)
	h.frames(t, time.Hour, 0, 1)
	if h.sync.SimulationTime() != 0 {
		t.Fatalf("expected no advancement on first frame, got %v", h.sync.SimulationTime())
	}
	if len(h.cursor.budgets) != 1 {
		t.Fatalf("expected compute on the first frame, got %d calls", len(h.cursor.budgets))
	}
}

func TestResyncFreezesSimulationTime(t *testing.T) {
	cfg := testPlaybackConfig()
	cfg.ResyncThreshold = 10
	h := newHarness(1000, cfg)
	h.cursor.frozen = true
	h.sync.SetGoalSpeed(100)

	at := h.frames(t, 0, 100*time.Millisecond, 2)
	if got := h.sync.SimulationTime(); !approxEqual(got, 10) {
		t.Fatalf("expected simulation time 10 after one advancing frame, got %v", got)
	}

	at = h.frames(t, at, 100*time.Millisecond, 5)
	if got := h.sync.SimulationTime(); !approxEqual(got, 10) {
		t.Fatalf("expected resync to freeze simulation time at 10, got %v", got)
	}
	if got := h.sink.statuses[len(h.sink.statuses)-1].UpdatesPerSecond; got >= h.sink.statuses[1].UpdatesPerSecond {
		t.Fatalf("expected update rate to decay while frozen, got %v", got)
	}

	h.cursor.frozen = false
	h.frames(t, at, 100*time.Millisecond, 2)
	if got := h.sync.SimulationTime(); got <= 10 {
		t.Fatalf("expected advancement to resume once the cursor caught up, got %v", got)
	}
}

func TestSeekHoldsSimulationTimeUntilRealized(t *testing.T) {
	h := newHarness(100, testPlaybackConfig())
	h.cursor.stepsPerCompute = 5
	h.sync.SetGoalSpeed(10)

	//1.- Play until the cursor realizes turn 5.
	at := h.frames(t, 0, 100*time.Millisecond, 6)
	if h.cursor.CurrentTurn() != 5 {
		t.Fatalf("expected realized turn 5 before seeking, got %d", h.cursor.CurrentTurn())
	}

	//2.- Seek far ahead: time jumps immediately and then holds.
	h.sync.Seek(30)
	if h.sync.SimulationTime() != 30 {
		t.Fatalf("expected simulation time 30 immediately, got %v", h.sync.SimulationTime())
	}
	if h.cursor.seeks[len(h.cursor.seeks)-1] != 30 {
		t.Fatalf("expected cursor seek to 30, got %v", h.cursor.seeks)
	}
	for h.cursor.CurrentTurn() != 30 {
		at = h.frames(t, at, 100*time.Millisecond, 1)
		if h.sync.SimulationTime() != 30 {
			t.Fatalf("simulation time moved during seek: %v at realized %d", h.sync.SimulationTime(), h.cursor.CurrentTurn())
		}
	}
	if !h.sync.Seeking() {
		t.Fatal("seek should stay active until a frame observes the realized target")
	}

	//3.- The next frame observes the target and clears the seek without advancing.
	at = h.frames(t, at, 100*time.Millisecond, 1)
	if h.sync.Seeking() || h.sync.SimulationTime() != 30 {
		t.Fatalf("expected seek cleared at 30, seeking=%v sim=%v", h.sync.Seeking(), h.sync.SimulationTime())
	}

	//4.- Normal advancement resumes on the following frame.
	h.frames(t, at, 100*time.Millisecond, 1)
	if got := h.sync.SimulationTime(); !approxEqual(got, 31) {
		t.Fatalf("expected advancement to resume at 31, got %v", got)
	}
}

func TestSeekOverwritesActiveSeek(t *testing.T) {
	h := newHarness(100, testPlaybackConfig())
	h.cursor.frozen = true
	h.frames(t, 0, 10*time.Millisecond, 1)

	h.sync.Seek(40)
	h.sync.Seek(12)
	if h.sync.SimulationTime() != 12 {
		t.Fatalf("expected latest seek to win, got %v", h.sync.SimulationTime())
	}

	h.cursor.frozen = false
	h.frames(t, 10*time.Millisecond, 10*time.Millisecond, 2)
	if h.cursor.CurrentTurn() != 12 || h.sync.Seeking() {
		t.Fatalf("expected seek to 12 to complete, realized=%d seeking=%v", h.cursor.CurrentTurn(), h.sync.Seeking())
	}
}

func TestInterpolationFractionIsClamped(t *testing.T) {
	cfg := testPlaybackConfig()
	cfg.ResyncThreshold = 50
	h := newHarness(1000, cfg)
	h.cursor.frozen = true
	h.sync.SetGoalSpeed(5)

	// 100 frames per second for four seconds: the render rate dwarfs the goal
	// speed and simulation time runs ~20 turns ahead of the frozen cursor.
	h.frames(t, 0, 10*time.Millisecond, 400)

	last := h.renderer.last()
	if last.Next == nil {
		t.Fatal("expected interpolation while render rate exceeds goal speed")
	}
	if h.sync.SimulationTime() <= 1 {
		t.Fatalf("expected simulation time ahead of realized+1, got %v", h.sync.SimulationTime())
	}
	if last.Fraction != 1 {
		t.Fatalf("expected fraction clamped to 1, got %v", last.Fraction)
	}
	for i, req := range h.renderer.requests {
		if req.Fraction < 0 || req.Fraction > 1 {
			t.Fatalf("frame %d: fraction %v outside [0,1]", i, req.Fraction)
		}
	}

	//1.- A backward seek leaves simulation time below the realized turn for a while.
	h.cursor.frozen = false
	h.cursor.world.Turn = 40
	h.sync.Seek(3)
	h.cursor.frozen = true
	h.frames(t, 4*time.Second, 10*time.Millisecond, 1)
	if got := h.renderer.last().Fraction; got != 0 {
		t.Fatalf("expected fraction clamped to 0 below the realized turn, got %v", got)
	}
}

func TestInterpolationBlendsTowardNextTurn(t *testing.T) {
	h := newHarness(1000, testPlaybackConfig())
	h.sync.SetGoalSpeed(1)

	h.frames(t, 0, 10*time.Millisecond, 151)

	last := h.renderer.last()
	if last.Next == nil {
		t.Fatal("expected an interpolated frame")
	}
	if !approxEqual(last.Fraction, 0.5) {
		t.Fatalf("expected fraction 0.5 at simulation time 1.5, got %v", last.Fraction)
	}
	bodies := last.Bodies()
	if len(bodies) != 1 || !approxEqual(bodies[0].Position.X, 1.5) {
		t.Fatalf("expected body blended to x=1.5, got %#v", bodies)
	}
	if last.Width != 64 || last.Origin != (match.Vec2{}) {
		t.Fatalf("unexpected board geometry origin=%v width=%v", last.Origin, last.Width)
	}
}

func TestInterpolationDisabledByConfig(t *testing.T) {
	cfg := testPlaybackConfig()
	cfg.Interpolate = false
	h := newHarness(1000, cfg)
	h.sync.SetGoalSpeed(1)
	h.frames(t, 0, 10*time.Millisecond, 100)
	for i, req := range h.renderer.requests {
		if req.Next != nil {
			t.Fatalf("frame %d interpolated although disabled", i)
		}
	}
}

func TestInterpolationSkippedOnFinalTurn(t *testing.T) {
	h := newHarness(5, testPlaybackConfig())
	h.sync.SetGoalSpeed(2)
	h.frames(t, 0, 10*time.Millisecond, 400)

	if h.cursor.CurrentTurn() != 4 {
		t.Fatalf("expected playback to reach the final turn, got %d", h.cursor.CurrentTurn())
	}
	if h.renderer.last().Next != nil {
		t.Fatal("expected bare state on the final turn")
	}
	if got := h.sync.SimulationTime(); got != 4 {
		t.Fatalf("expected simulation time parked on the final turn, got %v", got)
	}
}

func TestFastForwardDisablesInterpolation(t *testing.T) {
	h := newHarness(1_000_000, testPlaybackConfig())
	h.sync.SetGoalSpeed(300)

	h.frames(t, 0, time.Second/60, 180)

	status := h.sink.statuses[len(h.sink.statuses)-1]
	if status.FramesPerSecond < 45 || status.FramesPerSecond > 65 {
		t.Fatalf("expected a render rate near 60, got %v", status.FramesPerSecond)
	}
	if h.renderer.last().Next != nil || status.Interpolating {
		t.Fatal("expected bare state while goal speed exceeds render rate")
	}

	h.sync.SetGoalSpeed(10)
	h.frames(t, 3*time.Second, time.Second/60, 1)
	if h.renderer.last().Next == nil {
		t.Fatal("expected interpolation to resume below the render rate")
	}
}

func TestScenarioFiftyTurnsAtNormalSpeed(t *testing.T) {
	h := newHarness(50, testPlaybackConfig())
	h.sync.SetGoalSpeed(10)

	h.frames(t, 0, 100*time.Millisecond, 11)

	if got := h.sync.SimulationTime(); !approxEqual(got, 10) {
		t.Fatalf("expected simulation time 10 after t=1000ms, got %v", got)
	}
	if got := h.cursor.seeks[len(h.cursor.seeks)-1]; got != 10 {
		t.Fatalf("expected cursor driven toward turn 10, got %d", got)
	}
	if h.cursor.CurrentTurn() != 10 {
		t.Fatalf("expected realized turn 10, got %d", h.cursor.CurrentTurn())
	}
	if len(h.cursor.budgets) != 11 {
		t.Fatalf("expected one compute per frame, got %d", len(h.cursor.budgets))
	}
	for _, budget := range h.cursor.budgets {
		if budget != config.DefaultComputeBudget {
			t.Fatalf("expected compute budget %v, got %v", config.DefaultComputeBudget, budget)
		}
	}
}

func TestStatusPublishedEveryFrame(t *testing.T) {
	h := newHarness(50, testPlaybackConfig())
	h.frames(t, 0, 100*time.Millisecond, 4)

	if len(h.sink.statuses) != 4 || len(h.renderer.requests) != 4 {
		t.Fatalf("expected one status and one render per frame, got %d/%d", len(h.sink.statuses), len(h.renderer.requests))
	}
	first := h.sink.statuses[0]
	if want := math.Ln2 / config.DefaultRateHalfLife.Seconds(); !approxEqual(first.FramesPerSecond, want) {
		t.Fatalf("expected single-sample render rate %v, got %v", want, first.FramesPerSecond)
	}
	if first.UpdatesPerSecond != 0 {
		t.Fatalf("expected zero update rate on the first frame, got %v", first.UpdatesPerSecond)
	}
	last := h.sink.statuses[3]
	if last.Turn != 3 || last.FarthestTurn != 3 || last.TurnCount != 50 || last.GoalSpeed != config.DefaultNormalSpeed {
		t.Fatalf("unexpected status %+v", last)
	}
}

func TestCancelStopsSchedulingAndIsIdempotent(t *testing.T) {
	h := newHarness(50, testPlaybackConfig())
	h.frames(t, 0, 100*time.Millisecond, 2)
	requests := h.clock.requests

	h.sync.Cancel()
	h.sync.Cancel()

	if h.clock.pending != nil || h.clock.cancels != 1 {
		t.Fatalf("expected the pending frame to be cancelled once, pending=%v cancels=%d", h.clock.pending != nil, h.clock.cancels)
	}
	h.sync.OnFrame(h.start.Add(time.Second))
	h.sync.Start()
	if h.clock.requests != requests {
		t.Fatalf("expected no frames requested after cancel, got %d new", h.clock.requests-requests)
	}
	if len(h.renderer.requests) != 2 {
		t.Fatalf("expected no rendering after cancel, got %d frames", len(h.renderer.requests))
	}
}

func TestSetGoalSpeedRejectsNegative(t *testing.T) {
	h := newHarness(10, testPlaybackConfig())
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for negative goal speed")
		}
	}()
	h.sync.SetGoalSpeed(-1)
}

func TestToggleControls(t *testing.T) {
	cfg := testPlaybackConfig()
	h := newHarness(10, cfg)

	if h.sync.GoalSpeed() != cfg.NormalSpeed {
		t.Fatalf("expected playback to start at normal speed, got %v", h.sync.GoalSpeed())
	}
	steps := []struct {
		action func()
		want   float64
	}{
		{h.sync.ToggleSpeed, cfg.FastSpeed},
		{h.sync.ToggleSpeed, cfg.NormalSpeed},
		{h.sync.TogglePause, 0},
		{h.sync.TogglePause, cfg.NormalSpeed},
		{h.sync.TogglePause, 0},
		{h.sync.ToggleSpeed, cfg.NormalSpeed},
		{h.sync.ToggleSpeed, cfg.FastSpeed},
		{h.sync.TogglePause, 0},
	}
	for i, step := range steps {
		step.action()
		if h.sync.GoalSpeed() != step.want {
			t.Fatalf("step %d: expected goal speed %v, got %v", i, step.want, h.sync.GoalSpeed())
		}
	}
}
