package main

import (
	"flag"
	"fmt"
	"os"

	"driftpursuit/viewer/tools/replay_catalog"
)

func main() {
	root := flag.String("dir", ".", "directory containing replay bundles")
	jsonFlag := flag.Bool("json", false, "emit JSON instead of human-readable output")
	flag.Parse()

	entries, err := replaycatalog.List(*root)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *jsonFlag {
		payload, err := replaycatalog.MarshalEntries(entries)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(string(payload))
		return
	}

	for _, entry := range entries {
		fmt.Printf("%s (v%d, %d turns)\n", entry.Dir, entry.Manifest.Version, entry.Manifest.TurnCount)
		if entry.Header.MatchSeed != "" {
			fmt.Printf("  seed: %s\n", entry.Header.MatchSeed)
		}
		if entry.Header.Map != "" {
			fmt.Printf("  map: %s\n", entry.Header.Map)
		}
		for _, team := range entry.Header.Teams {
			fmt.Printf("  team %d: %s\n", team.ID, team.Name)
		}
		if winner := entry.Winner(); winner != "" {
			fmt.Printf("  winner: %s\n", winner)
		}
		fmt.Printf("  created: %s\n", entry.Manifest.CreatedAt)
	}
}
