package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"

	"driftpursuit/viewer/internal/logging"
)

const (
	natsMaxReconnects = -1
	natsReconnectWait = 2 * time.Second
)

// Publisher is the subset of *nats.Conn the reporter needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Connect dials NATS with reconnect handlers that log through logger.
func Connect(url string, logger *logging.Logger) (*nats.Conn, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("nats url must be provided")
	}
	if logger == nil {
		logger = logging.L()
	}
	opts := []nats.Option{
		nats.Name("driftpursuit-viewer"),
		nats.MaxReconnects(natsMaxReconnects),
		nats.ReconnectWait(natsReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("nats disconnected", logging.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", logging.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			logger.Error("nats error", logging.Error(err))
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return nc, nil
}

// Reporter periodically publishes the board's latest snapshot as JSON.
type Reporter struct {
	board     *Board
	publisher Publisher
	subject   string
	interval  time.Duration
	clock     clockwork.Clock
	log       *logging.Logger

	lastFrames atomic.Uint64
	published  atomic.Uint64
}

// NewReporter wires a board to a publisher.
func NewReporter(board *Board, publisher Publisher, subject string, interval time.Duration, clock clockwork.Clock, logger *logging.Logger) *Reporter {
	if interval <= 0 {
		interval = time.Second
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = logging.L()
	}
	return &Reporter{board: board, publisher: publisher, subject: subject, interval: interval, clock: clock, log: logger}
}

// Run publishes on every tick until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) {
	if r == nil || r.publisher == nil {
		return
	}
	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if _, err := r.PublishOnce(); err != nil {
				r.log.Warn("status publish failed", logging.Error(err), logging.String("subject", r.subject))
			}
		}
	}
}

// PublishOnce sends the latest snapshot if a frame arrived since the previous
// publication. It reports whether anything was sent.
func (r *Reporter) PublishOnce() (bool, error) {
	snapshot, ok := r.board.Latest()
	if !ok || snapshot.Frames == r.lastFrames.Load() {
		return false, nil
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return false, err
	}
	if err := r.publisher.Publish(r.subject, payload); err != nil {
		return false, fmt.Errorf("publish %s: %w", r.subject, err)
	}
	r.lastFrames.Store(snapshot.Frames)
	r.published.Add(1)
	return true, nil
}

// Published counts successful publications.
func (r *Reporter) Published() uint64 { return r.published.Load() }
