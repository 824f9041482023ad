// Package httpapi serves the viewer's operational and control endpoints.
package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"driftpursuit/viewer/internal/logging"
	"driftpursuit/viewer/internal/networking"
	"driftpursuit/viewer/internal/replay"
	"driftpursuit/viewer/internal/telemetry"
	replaycatalog "driftpursuit/viewer/tools/replay_catalog"
)

// maxControlBody bounds control request bodies.
const maxControlBody = 4 << 10

// ReadinessProvider exposes viewer state required for readiness checks.
type ReadinessProvider interface {
	ViewerCount() int
	StartupError() error
	Uptime() time.Duration
}

// StatusProvider returns the latest playback snapshot.
type StatusProvider interface {
	Latest() (telemetry.Snapshot, bool)
}

// CatalogFunc lists the bundles available under the replay root.
type CatalogFunc func() ([]replaycatalog.Entry, error)

// Options configures the HandlerSet.
type Options struct {
	Logger    *logging.Logger
	Readiness ReadinessProvider
	Status    StatusProvider
	Controls  *ControlGate
	Catalog   CatalogFunc
	Frames    *networking.FrameMetrics
	Bandwidth *networking.BandwidthRegulator
	Retention func() replay.StorageStats
	Clock     clockwork.Clock
}

// HandlerSet bundles the viewer's HTTP handlers.
type HandlerSet struct {
	logger    *logging.Logger
	readiness ReadinessProvider
	status    StatusProvider
	controls  *ControlGate
	catalog   CatalogFunc
	frames    *networking.FrameMetrics
	bandwidth *networking.BandwidthRegulator
	retention func() replay.StorageStats
	clock     clockwork.Clock
}

// NewHandlerSet constructs a HandlerSet using the provided options.
func NewHandlerSet(opts Options) *HandlerSet {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &HandlerSet{
		logger:    logger,
		readiness: opts.Readiness,
		status:    opts.Status,
		controls:  opts.Controls,
		catalog:   opts.Catalog,
		frames:    opts.Frames,
		bandwidth: opts.Bandwidth,
		retention: opts.Retention,
		clock:     clock,
	}
}

// Register attaches all handlers to the provided mux.
func (h *HandlerSet) Register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/livez", h.LivenessHandler())
	mux.HandleFunc("/readyz", h.ReadinessHandler())
	mux.HandleFunc("/status", h.StatusHandler())
	mux.HandleFunc("/metrics", h.MetricsHandler())
	mux.HandleFunc("/controls", h.ControlsHandler())
	mux.HandleFunc("/replays", h.CatalogHandler())
}

// LivenessHandler reports that the HTTP server is reachable.
func (h *HandlerSet) LivenessHandler() http.HandlerFunc {
	type response struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{
			Status:    "alive",
			Timestamp: h.clock.Now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// ReadinessHandler reports ready once playback has produced its first frame.
func (h *HandlerSet) ReadinessHandler() http.HandlerFunc {
	type response struct {
		Status        string  `json:"status"`
		Message       string  `json:"message,omitempty"`
		UptimeSeconds float64 `json:"uptime_seconds"`
		Viewers       int     `json:"viewers"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		code := http.StatusOK
		resp := response{Status: "ok"}
		if h.readiness != nil {
			resp.Viewers = h.readiness.ViewerCount()
			resp.UptimeSeconds = h.readiness.Uptime().Seconds()
			if err := h.readiness.StartupError(); err != nil {
				code = http.StatusServiceUnavailable
				resp.Status = "error"
				resp.Message = err.Error()
			}
		}
		if code == http.StatusOK && h.status != nil {
			if _, ok := h.status.Latest(); !ok {
				code = http.StatusServiceUnavailable
				resp.Status = "starting"
				resp.Message = "no frame rendered yet"
			}
		}
		writeJSON(w, code, resp)
	}
}

// StatusHandler returns the latest playback snapshot.
func (h *HandlerSet) StatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.status == nil {
			http.Error(w, "playback status unavailable", http.StatusServiceUnavailable)
			return
		}
		snapshot, ok := h.status.Latest()
		if !ok {
			http.Error(w, "no frame rendered yet", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, snapshot)
	}
}

// ControlsHandler accepts POSTed ControlRequest documents. The token may also
// arrive as a bearer Authorization header.
func (h *HandlerSet) ControlsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := h.logger.With(
			logging.String("handler", "controls"),
			logging.String("remote_addr", r.RemoteAddr),
		)
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if h.controls == nil {
			http.Error(w, "playback controls unavailable", http.StatusServiceUnavailable)
			return
		}
		var req ControlRequest
		decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxControlBody))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&req); err != nil {
			http.Error(w, "invalid control request", http.StatusBadRequest)
			return
		}
		if req.Token == "" {
			req.Token = bearerToken(r)
		}
		result, err := h.controls.Apply(req)
		if err != nil {
			code := ControlStatusCode(err)
			reqLogger.Warn("control rejected", logging.String("action", req.Action), logging.Error(err), logging.Int("status", code))
			http.Error(w, err.Error(), code)
			return
		}
		writeJSON(w, http.StatusAccepted, result)
	}
}

// CatalogHandler lists bundles under the replay root.
func (h *HandlerSet) CatalogHandler() http.HandlerFunc {
	type response struct {
		Replays []replaycatalog.Entry `json:"replays"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if h.catalog == nil {
			http.Error(w, "replay catalog not configured", http.StatusNotFound)
			return
		}
		entries, err := h.catalog()
		if err != nil {
			h.logger.Error("replay catalog failed", logging.Error(err))
			http.Error(w, "failed to list replays", http.StatusInternalServerError)
			return
		}
		if entries == nil {
			entries = []replaycatalog.Entry{}
		}
		writeJSON(w, http.StatusOK, response{Replays: entries})
	}
}

// MetricsHandler emits Prometheus compatible text metrics.
func (h *HandlerSet) MetricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		if h.readiness != nil {
			writeMetric(w, "viewer_uptime_seconds", "gauge", "Viewer uptime in seconds.", fmt.Sprintf("%.0f", h.readiness.Uptime().Seconds()))
			writeMetric(w, "viewer_clients", "gauge", "Connected websocket viewers.", fmt.Sprint(h.readiness.ViewerCount()))
		}
		if h.status != nil {
			if snapshot, ok := h.status.Latest(); ok {
				writeMetric(w, "viewer_playback_turn", "gauge", "Realized turn currently displayed.", fmt.Sprint(snapshot.Turn))
				writeMetric(w, "viewer_playback_farthest_turn", "gauge", "Farthest turn computed so far.", fmt.Sprint(snapshot.FarthestTurn))
				writeMetric(w, "viewer_playback_updates_per_second", "gauge", "Smoothed turn advancement rate.", fmt.Sprintf("%.3f", snapshot.UpdatesPerSecond))
				writeMetric(w, "viewer_playback_frames_per_second", "gauge", "Smoothed render frame rate.", fmt.Sprintf("%.3f", snapshot.FramesPerSecond))
				writeMetric(w, "viewer_playback_goal_speed", "gauge", "Requested turns per second.", fmt.Sprintf("%.3f", snapshot.GoalSpeed))
			}
		}
		if h.frames != nil {
			writeMetric(w, "viewer_frames_total", "counter", "Frames broadcast to the hub.", fmt.Sprint(h.frames.Frames()))
			drops := h.frames.DropCounts()
			fmt.Fprintf(w, "# HELP viewer_frames_dropped_total Frames not delivered per reason.\n")
			fmt.Fprintf(w, "# TYPE viewer_frames_dropped_total counter\n")
			for _, reason := range sortedKeys(drops) {
				fmt.Fprintf(w, "viewer_frames_dropped_total{reason=%q} %d\n", reason, drops[reason])
			}
			sizes := h.frames.BytesPerViewer()
			fmt.Fprintf(w, "# HELP viewer_frame_bytes Last frame size per viewer in bytes.\n")
			fmt.Fprintf(w, "# TYPE viewer_frame_bytes gauge\n")
			for _, viewerID := range sortedKeys(sizes) {
				fmt.Fprintf(w, "viewer_frame_bytes{viewer=%q} %d\n", viewerID, sizes[viewerID])
			}
		}
		if h.bandwidth != nil {
			usage := h.bandwidth.SnapshotUsage()
			if len(usage) > 0 {
				fmt.Fprintf(w, "# HELP viewer_bandwidth_bytes_per_second Observed outbound bandwidth per viewer in bytes per second.\n")
				fmt.Fprintf(w, "# TYPE viewer_bandwidth_bytes_per_second gauge\n")
				for _, viewerID := range sortedKeys(usage) {
					fmt.Fprintf(w, "viewer_bandwidth_bytes_per_second{viewer=%q} %.2f\n", viewerID, usage[viewerID].BytesPerSecond)
				}
			}
		}
		if h.retention != nil {
			stats := h.retention()
			writeMetric(w, "viewer_replay_bundles", "gauge", "Complete replay bundles retained on disk.", fmt.Sprint(stats.Bundles))
			writeMetric(w, "viewer_replay_bytes", "gauge", "Disk footprint of the replay root in bytes.", fmt.Sprint(stats.Bytes))
		}
	}
}

func writeMetric(w http.ResponseWriter, name, kind, help, value string) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, kind)
	fmt.Fprintf(w, "%s %s\n", name, value)
}

func sortedKeys[K ~string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}
