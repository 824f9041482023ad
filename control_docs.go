package main

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	httpapi "driftpursuit/viewer/internal/http"
)

// ControlDoc describes a single playback control and the command a client
// sends to trigger it over /controls or the websocket.
type ControlDoc struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description"`
	Shortcut    string `json:"shortcut,omitempty"`
	Action      string `json:"action"`
	Argument    string `json:"argument,omitempty"`
}

var defaultControlDocs = []ControlDoc{
	{
		ID:          "pause",
		Label:       "Pause",
		Description: "Stop the simulation clock, or resume at normal speed.",
		Shortcut:    "Space",
		Action:      httpapi.ActionTogglePause,
	},
	{
		ID:          "fast-forward",
		Label:       "Fast Forward",
		Description: "Switch between normal and fast playback speed.",
		Shortcut:    "F",
		Action:      httpapi.ActionToggleSpeed,
	},
	{
		ID:          "speed",
		Label:       "Set Speed",
		Description: "Play at an explicit rate in turns per second. Zero pauses.",
		Action:      httpapi.ActionSetSpeed,
		Argument:    "speed",
	},
	{
		ID:          "seek",
		Label:       "Seek",
		Description: "Jump to a turn. Out-of-range turns are clamped to the match.",
		Shortcut:    "Click timeline",
		Action:      httpapi.ActionSeek,
		Argument:    "turn",
	},
}

// registerControlDocEndpoints serves the control descriptions at /api/controls.
func registerControlDocEndpoints(mux *http.ServeMux) {
	mux.HandleFunc("/api/controls", func(w http.ResponseWriter, r *http.Request) {
		docs := append([]ControlDoc(nil), defaultControlDocs...)
		sort.SliceStable(docs, func(i, j int) bool {
			if docs[i].Label == docs[j].Label {
				return strings.Compare(docs[i].ID, docs[j].ID) < 0
			}
			return strings.Compare(docs[i].Label, docs[j].Label) < 0
		})

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(docs); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}
