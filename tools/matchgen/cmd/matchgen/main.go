package main

import (
	"flag"
	"fmt"
	"os"

	"driftpursuit/viewer/tools/matchgen"
)

func main() {
	defaults := matchgen.DefaultOptions()
	root := flag.String("dir", ".", "directory to write the bundle into")
	id := flag.String("id", "", "match identifier (random when empty)")
	seed := flag.Uint64("seed", 1, "random seed")
	turns := flag.Int("turns", defaults.Turns, "number of turns to generate")
	bodies := flag.Int("bodies", defaults.BodiesPer, "bodies spawned per team")
	extent := flag.Float64("extent", defaults.HalfExtent, "half width of the square board")
	mapName := flag.String("map", defaults.Map, "map name stored in the header")
	flag.Parse()

	dir, err := matchgen.Write(*root, matchgen.Options{
		MatchID:    *id,
		Seed:       *seed,
		Turns:      *turns,
		BodiesPer:  *bodies,
		HalfExtent: *extent,
		Map:        *mapName,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	fmt.Println(dir)
}
