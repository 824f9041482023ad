package replayplayer

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"driftpursuit/viewer/internal/config"
	"driftpursuit/viewer/internal/logging"
	"driftpursuit/viewer/internal/match"
	"driftpursuit/viewer/internal/playback"
	"driftpursuit/viewer/internal/replay"
)

// Options tune a headless playback run.
type Options struct {
	// FrameRateHz is the simulated render cadence.
	FrameRateHz float64
	// Speed is the goal speed in turns per second. Zero starts paused; a negative
	// value keeps the configured normal speed.
	Speed float64
	// MaxFrames bounds the run. Zero plays until the last turn is shown.
	MaxFrames int
	// Seek jumps to this turn before the first frame when non-negative.
	Seek int
	// SampleEvery records a timeline sample every N frames. Zero disables sampling.
	SampleEvery int
	// Playback overrides the synchronizer tuning.
	Playback config.PlaybackConfig
}

// DefaultOptions plays at the configured defaults from turn 0.
func DefaultOptions() Options {
	return Options{
		FrameRateHz: config.DefaultFrameRateHz,
		Speed:       -1,
		Seek:        -1,
		Playback:    config.Defaults().Playback,
	}
}

// Sample is one point of the playback timeline.
type Sample struct {
	Frame          int     `json:"frame"`
	Turn           int     `json:"turn"`
	SimulationTime float64 `json:"simulation_time"`
	Interpolating  bool    `json:"interpolating"`
}

// Summary reports what a headless run rendered.
type Summary struct {
	Manifest           replay.Manifest `json:"manifest"`
	Winner             string          `json:"winner,omitempty"`
	Events             int             `json:"events"`
	Frames             int             `json:"frames"`
	InterpolatedFrames int             `json:"interpolated_frames"`
	FinalTurn          int             `json:"final_turn"`
	FarthestTurn       int             `json:"farthest_turn"`
	ReachedEnd         bool            `json:"reached_end"`
	PlaybackSeconds    float64         `json:"playback_seconds"`
	UpdatesPerSecond   float64         `json:"updates_per_second"`
	FramesPerSecond    float64         `json:"frames_per_second"`
	Timeline           []Sample        `json:"timeline,omitempty"`
}

// steppedClock hands out one pending frame callback at a time.
type steppedClock struct {
	pending func(time.Time)
}

func (c *steppedClock) RequestTick(fn func(time.Time)) func() {
	c.pending = fn
	return func() { c.pending = nil }
}

func (c *steppedClock) fire(now time.Time) bool {
	fn := c.pending
	if fn == nil {
		return false
	}
	c.pending = nil
	fn(now)
	return true
}

// lastStatus keeps the most recent status published by the synchronizer.
type lastStatus struct {
	status playback.Status
}

func (l *lastStatus) SetStatus(status playback.Status) { l.status = status }

// ResolveBundleDir accepts either a bundle directory or its manifest path.
func ResolveBundleDir(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return path, nil
	}
	if filepath.Base(path) != replay.ManifestFile {
		return "", fmt.Errorf("%s is neither a bundle directory nor %s", path, replay.ManifestFile)
	}
	return filepath.Dir(path), nil
}

// PlayPath opens the bundle at path and plays it headlessly.
func PlayPath(path string, opts Options, logger *logging.Logger) (Summary, error) {
	dir, err := ResolveBundleDir(path)
	if err != nil {
		return Summary{}, err
	}
	bundle, err := replay.Open(dir)
	if err != nil {
		return Summary{}, err
	}
	return Play(bundle, opts, logger)
}

// Play drives the playback synchronizer over bundle with synthetic frame
// timestamps, exactly as the viewer would, without sleeping.
func Play(bundle *replay.Bundle, opts Options, logger *logging.Logger) (Summary, error) {
	if bundle == nil {
		return Summary{}, fmt.Errorf("bundle is required")
	}
	if logger == nil {
		logger = logging.L()
	}
	if opts.FrameRateHz <= 0 {
		opts.FrameRateHz = config.DefaultFrameRateHz
	}
	cursor, err := bundle.Match(match.Options{KeyframeInterval: opts.Playback.KeyframeInterval})
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{Manifest: bundle.Manifest, Events: len(bundle.Events)}
	if bundle.Header.Winner != 0 {
		summary.Winner = bundle.Header.TeamName(bundle.Header.Winner)
	}
	last := cursor.DeltaCount() - 1
	clock := &steppedClock{}
	sink := &lastStatus{}
	renderer := playback.RendererFunc(func(req playback.RenderRequest) {
		summary.Frames++
		if req.Next != nil {
			summary.InterpolatedFrames++
		}
	})
	synchronizer := playback.NewSynchronizer(cursor, renderer, sink, clock, opts.Playback, logger)

	//1.- Apply the requested speed and starting turn before the first frame.
	if opts.Speed >= 0 {
		synchronizer.SetGoalSpeed(opts.Speed)
	}
	startTurn := 0
	if opts.Seek >= 0 {
		startTurn = min(opts.Seek, last)
		synchronizer.Seek(startTurn)
	}
	synchronizer.Start()
	limit := opts.MaxFrames
	if limit <= 0 {
		limit = frameAllowance(last-startTurn, synchronizer.GoalSpeed(), opts.FrameRateHz)
	}

	//2.- Feed evenly spaced frame timestamps until the end is shown or the budget runs out.
	interval := time.Duration(float64(time.Second) / opts.FrameRateHz)
	start := time.Unix(0, 0).UTC()
	now := start
	for frame := 0; frame < limit; frame++ {
		if !clock.fire(now) {
			break
		}
		status := sink.status
		if opts.SampleEvery > 0 && frame%opts.SampleEvery == 0 {
			summary.Timeline = append(summary.Timeline, Sample{
				Frame:          frame,
				Turn:           status.Turn,
				SimulationTime: status.SimulationTime,
				Interpolating:  status.Interpolating,
			})
		}
		if status.Turn >= last && !status.Seeking {
			summary.ReachedEnd = true
			break
		}
		if status.GoalSpeed == 0 && !status.Seeking && opts.MaxFrames <= 0 {
			return summary, fmt.Errorf("playback paused at turn %d with no frame limit", status.Turn)
		}
		now = now.Add(interval)
	}
	synchronizer.Cancel()
	if !summary.ReachedEnd && opts.MaxFrames <= 0 {
		return summary, fmt.Errorf("playback stalled at turn %d after %d frames", sink.status.Turn, summary.Frames)
	}

	final := sink.status
	summary.FinalTurn = final.Turn
	summary.FarthestTurn = final.FarthestTurn
	summary.PlaybackSeconds = now.Sub(start).Seconds()
	summary.UpdatesPerSecond = final.UpdatesPerSecond
	summary.FramesPerSecond = final.FramesPerSecond
	logger.Debug("headless playback finished",
		logging.Int("frames", summary.Frames),
		logging.Int("final_turn", summary.FinalTurn),
		logging.Bool("reached_end", summary.ReachedEnd),
	)
	return summary, nil
}

// frameAllowance bounds an unlimited run at four times the frames the turns
// should need, plus ten seconds of slack.
func frameAllowance(turns int, speed, hz float64) int {
	if speed <= 0 {
		speed = config.DefaultNormalSpeed
	}
	return int(math.Ceil(float64(max(turns, 0))/speed*hz))*4 + int(10*hz)
}
