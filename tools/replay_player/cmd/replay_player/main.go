package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"driftpursuit/viewer/internal/logging"
	"driftpursuit/viewer/tools/replay_player"
)

func main() {
	path := flag.String("path", "", "Path to a replay directory or manifest.json")
	speed := flag.Float64("speed", -1, "goal speed in turns per second (0 pauses, negative keeps the default)")
	hz := flag.Float64("hz", 0, "simulated frame rate (0 keeps the default)")
	frames := flag.Int("frames", 0, "stop after this many frames (0 plays to the end)")
	seek := flag.Int("seek", -1, "turn to start from")
	sample := flag.Int("sample", 0, "record a timeline sample every N frames")
	flag.Parse()

	if *path == "" {
		fmt.Fprintln(os.Stderr, "path flag is required")
		os.Exit(1)
	}

	opts := replayplayer.DefaultOptions()
	opts.Speed = *speed
	if *hz > 0 {
		opts.FrameRateHz = *hz
	}
	opts.MaxFrames = *frames
	opts.Seek = *seek
	opts.SampleEvery = *sample

	summary, err := replayplayer.PlayPath(*path, opts, logging.NewWithWriter(os.Stderr, logging.WarnLevel))
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}

	//1.- Render the run summary as JSON so callers can pipe the output elsewhere.
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		fmt.Fprintln(os.Stderr, "encode error:", err)
		os.Exit(3)
	}
}
