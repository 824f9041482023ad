package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	httpapi "driftpursuit/viewer/internal/http"
	"driftpursuit/viewer/internal/logging"
	"driftpursuit/viewer/internal/match"
	"driftpursuit/viewer/internal/networking"
	"driftpursuit/viewer/internal/playback"
)

const (
	viewerSendBuffer = 64
	pingInterval     = 30 * time.Second
	pongWait         = 2 * pingInterval
	writeWait        = 5 * time.Second
	maxControlFrame  = 4 << 10
)

// frameMessage is the JSON document pushed to viewers once per rendered frame.
type frameMessage struct {
	Type     string       `json:"type"`
	Turn     int          `json:"turn"`
	Fraction float64      `json:"fraction"`
	Blended  bool         `json:"blended"`
	Origin   match.Vec2   `json:"origin"`
	Width    float64      `json:"width"`
	Bodies   []match.Body `json:"bodies"`
}

type statusMessage struct {
	Type string `json:"type"`
	playback.Status
	Paused bool `json:"paused"`
}

type ackMessage struct {
	Type   string                 `json:"type"`
	Result *httpapi.ControlResult `json:"result,omitempty"`
	Error  string                 `json:"error,omitempty"`
	Code   int                    `json:"code,omitempty"`
}

type viewer struct {
	id      string
	subject string
	conn    *websocket.Conn
	send    chan []byte
	once    sync.Once
}

func (v *viewer) close() {
	v.once.Do(func() { close(v.send) })
}

// Hub fans rendered frames and status out to websocket viewers and feeds
// their control commands to the playback gate.
type Hub struct {
	mu      sync.RWMutex
	viewers map[string]*viewer

	upgrader      websocket.Upgrader
	authenticator websocketAuthenticator
	controls      *httpapi.ControlGate
	bandwidth     *networking.BandwidthRegulator
	metrics       *networking.FrameMetrics
	clock         clockwork.Clock
	log           *logging.Logger

	lastStatus  playback.Status
	statusValid bool
}

// HubOptions configures NewHub.
type HubOptions struct {
	AllowedOrigins []string
	Authenticator  websocketAuthenticator
	Controls       *httpapi.ControlGate
	Bandwidth      *networking.BandwidthRegulator
	Metrics        *networking.FrameMetrics
	Clock          clockwork.Clock
	Logger         *logging.Logger
}

// NewHub constructs an empty hub.
func NewHub(opts HubOptions) *Hub {
	if opts.Logger == nil {
		opts.Logger = logging.L()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Authenticator == nil {
		opts.Authenticator = allowAllAuthenticator{}
	}
	h := &Hub{
		viewers:       make(map[string]*viewer),
		authenticator: opts.Authenticator,
		controls:      opts.Controls,
		bandwidth:     opts.Bandwidth,
		metrics:       opts.Metrics,
		clock:         opts.Clock,
		log:           opts.Logger,
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: originChecker(opts.AllowedOrigins)}
	return h
}

// SetControls attaches the control gate once the playback session exists.
func (h *Hub) SetControls(gate *httpapi.ControlGate) {
	h.mu.Lock()
	h.controls = gate
	h.mu.Unlock()
}

// originChecker accepts same-host requests, any origin listed, or everything when "*" is listed.
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin == "" || slices.Contains(allowed, "*") || slices.Contains(allowed, origin) {
			return true
		}
		return strings.EqualFold(strings.TrimPrefix(strings.TrimPrefix(origin, "https://"), "http://"), r.Host)
	}
}

// ViewerCount reports connected viewers.
func (h *Hub) ViewerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.viewers)
}

// Render encodes the frame once and queues it for every viewer. It runs on
// the frame loop and never blocks.
func (h *Hub) Render(req playback.RenderRequest) {
	msg := frameMessage{
		Type:     "frame",
		Turn:     req.World.Turn,
		Fraction: req.Fraction,
		Blended:  req.Next != nil,
		Origin:   req.Origin,
		Width:    req.Width,
		Bodies:   req.Bodies(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("frame encode failed", logging.Error(err))
		return
	}
	h.metrics.ObserveFrame()
	h.broadcast(payload, true)
}

// SetStatus forwards status to viewers whenever something other than the
// smoothed rates changed.
func (h *Hub) SetStatus(status playback.Status) {
	h.mu.Lock()
	changed := !h.statusValid || statusChanged(h.lastStatus, status)
	h.lastStatus = status
	h.statusValid = true
	h.mu.Unlock()
	if !changed {
		return
	}
	payload, err := json.Marshal(statusMessage{Type: "status", Status: status, Paused: status.Paused()})
	if err != nil {
		h.log.Error("status encode failed", logging.Error(err))
		return
	}
	h.broadcast(payload, false)
}

func statusChanged(prev, next playback.Status) bool {
	return prev.Turn != next.Turn ||
		prev.FarthestTurn != next.FarthestTurn ||
		prev.GoalSpeed != next.GoalSpeed ||
		prev.Seeking != next.Seeking ||
		prev.Interpolating != next.Interpolating
}

// broadcast queues payload for every viewer. Frames are metered by the
// bandwidth regulator; status messages are not.
func (h *Hub) broadcast(payload []byte, metered bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, v := range h.viewers {
		if metered && !h.bandwidth.Allow(id, len(payload)) {
			h.metrics.ObserveDrop(networking.DropBandwidth)
			continue
		}
		select {
		case v.send <- payload:
			if metered {
				h.metrics.ObserveDelivery(id, len(payload))
			}
		default:
			//1.- A full queue means the viewer is behind; skip rather than stall the frame loop.
			h.metrics.ObserveDrop(networking.DropBackpressure)
		}
	}
}

func (h *Hub) register(v *viewer) {
	h.mu.Lock()
	h.viewers[v.id] = v
	status, ok := h.lastStatus, h.statusValid
	h.mu.Unlock()
	//1.- New viewers get the current status straight away instead of waiting for a change.
	if ok {
		if payload, err := json.Marshal(statusMessage{Type: "status", Status: status, Paused: status.Paused()}); err == nil {
			v.send <- payload
		}
	}
}

func (h *Hub) unregister(v *viewer) {
	h.mu.Lock()
	if current, ok := h.viewers[v.id]; ok && current == v {
		delete(h.viewers, v.id)
	}
	h.mu.Unlock()
	v.close()
	h.bandwidth.Forget(v.id)
	h.metrics.ForgetViewer(v.id)
}

// ServeWS upgrades the request and runs the viewer's reader and writer.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	subject, err := h.authenticator.Authenticate(r)
	if err != nil {
		h.log.Warn("viewer rejected", logging.Error(err), logging.String("remote_addr", r.RemoteAddr))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", logging.Error(err))
		return
	}
	v := &viewer{id: uuid.NewString(), subject: subject, conn: conn, send: make(chan []byte, viewerSendBuffer)}
	log := logging.LoggerFromContext(r.Context()).With(logging.String("viewer_id", v.id), logging.String("subject", subject))
	h.register(v)
	log.Info("viewer connected", logging.Int("viewers", h.ViewerCount()))

	go h.writePump(v, log)
	h.readPump(v, log)
	h.unregister(v)
	log.Info("viewer disconnected", logging.Int("viewers", h.ViewerCount()))
}

func (h *Hub) readPump(v *viewer, log *logging.Logger) {
	v.conn.SetReadLimit(maxControlFrame)
	_ = v.conn.SetReadDeadline(h.clock.Now().Add(pongWait))
	v.conn.SetPongHandler(func(string) error {
		return v.conn.SetReadDeadline(h.clock.Now().Add(pongWait))
	})
	for {
		_, raw, err := v.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("viewer read failed", logging.Error(err))
			}
			return
		}
		h.handleCommand(v, raw, log)
	}
}

func (h *Hub) handleCommand(v *viewer, raw []byte, log *logging.Logger) {
	var req httpapi.ControlRequest
	ack := ackMessage{Type: "ack"}
	if err := json.Unmarshal(raw, &req); err != nil {
		ack.Error, ack.Code = "invalid control message", http.StatusBadRequest
	} else {
		h.mu.RLock()
		gate := h.controls
		h.mu.RUnlock()
		result, err := gate.Apply(req)
		if err != nil {
			ack.Error, ack.Code = err.Error(), httpapi.ControlStatusCode(err)
			if !errors.Is(err, httpapi.ErrRateLimited) {
				log.Warn("viewer control rejected", logging.String("action", req.Action), logging.Error(err))
			}
		} else {
			ack.Result = &result
		}
	}
	payload, err := json.Marshal(ack)
	if err != nil {
		return
	}
	select {
	case v.send <- payload:
	default:
		h.metrics.ObserveDrop(networking.DropBackpressure)
	}
}

func (h *Hub) writePump(v *viewer, log *logging.Logger) {
	ticker := h.clock.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		v.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-v.send:
			_ = v.conn.SetWriteDeadline(h.clock.Now().Add(writeWait))
			if !ok {
				_ = v.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := v.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Debug("viewer write failed", logging.Error(err))
				return
			}
		case <-ticker.Chan():
			_ = v.conn.SetWriteDeadline(h.clock.Now().Add(writeWait))
			if err := v.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

var (
	_ playback.Renderer   = (*Hub)(nil)
	_ playback.StatusSink = (*Hub)(nil)
)
