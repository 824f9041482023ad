package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"
	"google.golang.org/grpc"

	"driftpursuit/viewer/internal/auth"
	configpkg "driftpursuit/viewer/internal/config"
	"driftpursuit/viewer/internal/frameclock"
	httpapi "driftpursuit/viewer/internal/http"
	"driftpursuit/viewer/internal/logging"
	"driftpursuit/viewer/internal/match"
	"driftpursuit/viewer/internal/networking"
	"driftpursuit/viewer/internal/playback"
	"driftpursuit/viewer/internal/replay"
	"driftpursuit/viewer/internal/telemetry"
	"driftpursuit/viewer/internal/timesync"
	replaycatalog "driftpursuit/viewer/tools/replay_catalog"
)

const (
	shutdownGrace = 5 * time.Second
	tokenLeeway   = 2 * time.Second
)

// viewerApp owns one playback session and everything serving it.
type viewerApp struct {
	cfg     *configpkg.Config
	log     *logging.Logger
	clock   clockwork.Clock
	started time.Time

	bundle    *replay.Bundle
	loop      *frameclock.Loop
	session   *playback.Session
	board     *telemetry.Board
	hub       *Hub
	frames    *networking.FrameMetrics
	bandwidth *networking.BandwidthRegulator
	cleaner   *replay.Cleaner
	resume    *ResumeStore
	handler   http.Handler

	startupErr error
}

// resolveBundle opens the configured bundle, or the newest complete one under the replay root.
func resolveBundle(cfg *configpkg.Config) (*replay.Bundle, error) {
	if strings.TrimSpace(cfg.ReplayPath) != "" {
		return replay.Open(cfg.ReplayPath)
	}
	if strings.TrimSpace(cfg.ReplayRoot) == "" {
		return nil, errors.New("no replay configured: set VIEWER_REPLAY_PATH or VIEWER_REPLAY_ROOT")
	}
	entries, err := replaycatalog.List(cfg.ReplayRoot)
	if err != nil {
		return nil, fmt.Errorf("list replays: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("no complete replay bundles under %s", cfg.ReplayRoot)
	}
	return replay.Open(entries[0].Dir)
}

func newViewerApp(cfg *configpkg.Config, logger *logging.Logger, clock clockwork.Clock) (*viewerApp, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	if logger == nil {
		logger = logging.L()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	app := &viewerApp{cfg: cfg, log: logger, clock: clock, started: clock.Now()}

	//1.- Load the recorded match and build the turn cursor over it.
	bundle, err := resolveBundle(cfg)
	if err != nil {
		return nil, err
	}
	app.bundle = bundle
	cursor, err := bundle.Match(match.Options{KeyframeInterval: cfg.Playback.KeyframeInterval, Clock: clock})
	if err != nil {
		return nil, fmt.Errorf("build match %s: %w", bundle.Dir, err)
	}

	//2.- Optional token verification shared by the websocket and the control gate.
	var verifier *auth.HMACTokenVerifier
	authenticator := websocketAuthenticator(allowAllAuthenticator{})
	if cfg.ControlSecret != "" {
		if verifier, err = auth.NewHMACTokenVerifier(cfg.ControlSecret, tokenLeeway, clock); err != nil {
			return nil, fmt.Errorf("control verifier: %w", err)
		}
		if authenticator, err = newHMACWebsocketAuthenticator(verifier); err != nil {
			return nil, err
		}
	}

	if app.resume, err = NewResumeStore(cfg.ResumePath, bundle.Dir, cfg.ResumeInterval, clock, logger); err != nil {
		return nil, fmt.Errorf("resume store: %w", err)
	}

	//3.- Frame loop, status board and viewer hub feed the playback session.
	app.loop = frameclock.NewLoop(clock, cfg.Playback.FrameRateHz)
	app.board = telemetry.NewBoard("", clock)
	app.frames = networking.NewFrameMetrics()
	app.bandwidth = networking.NewBandwidthRegulator(networking.DefaultBandwidthLimitBytesPerSecond, clock)
	app.hub = NewHub(HubOptions{
		AllowedOrigins: cfg.AllowedOrigins,
		Authenticator:  authenticator,
		Bandwidth:      app.bandwidth,
		Metrics:        app.frames,
		Clock:          clock,
		Logger:         logger,
	})
	sinks := playback.StatusSinks{app.board, app.hub}
	if app.resume != nil {
		sinks = append(sinks, app.resume)
	}
	app.session = playback.NewSession(cursor, app.hub, sinks, app.loop, cfg.Playback, logger)
	app.board.SetSessionID(app.session.ID())

	var authorizer httpapi.Authorizer
	if verifier != nil {
		authorizer = verifier
	}
	gate := httpapi.NewControlGate(app.session, authorizer, httpapi.NewSlidingWindowLimiter(cfg.SeekWindow, cfg.SeekBurst, clock), logger)
	app.hub.SetControls(gate)

	if cfg.ReplayRoot != "" {
		app.cleaner = replay.NewCleaner(cfg.ReplayRoot, replay.RetentionPolicy{
			MaxMatches: cfg.Retention.MaxMatches,
			MaxAge:     cfg.Retention.MaxAge,
		}, clock, logger)
	}

	//4.- HTTP surface: websocket, operational handlers and control docs behind CORS and tracing.
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", app.hub.ServeWS)
	opts := httpapi.Options{
		Logger:    logger,
		Readiness: app,
		Status:    app.board,
		Controls:  gate,
		Frames:    app.frames,
		Bandwidth: app.bandwidth,
		Clock:     clock,
	}
	if cfg.ReplayRoot != "" {
		root := cfg.ReplayRoot
		opts.Catalog = func() ([]replaycatalog.Entry, error) { return replaycatalog.List(root) }
		opts.Retention = app.cleaner.Stats
	}
	httpapi.NewHandlerSet(opts).Register(mux)
	registerControlDocEndpoints(mux)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", logging.TraceIDHeader},
	})
	app.handler = logging.HTTPTraceMiddleware(logger)(corsHandler.Handler(mux))

	logger.Info("replay loaded",
		logging.String("bundle", bundle.Dir),
		logging.String("match_id", bundle.Manifest.MatchID),
		logging.Int("turns", bundle.Manifest.TurnCount),
		logging.String("session_id", app.session.ID()),
	)
	return app, nil
}

// ViewerCount reports connected websocket viewers.
func (a *viewerApp) ViewerCount() int { return a.hub.ViewerCount() }

// StartupError surfaces a failure recorded while starting playback.
func (a *viewerApp) StartupError() error { return a.startupErr }

// Uptime reports how long the app has existed.
func (a *viewerApp) Uptime() time.Duration { return a.clock.Since(a.started) }

// start runs the frame loop, schedules the first frame, restores any saved
// position and starts the background sweepers.
func (a *viewerApp) start(ctx context.Context) error {
	a.loop.Start(ctx)
	if err := a.session.Start(); err != nil {
		a.startupErr = err
		return err
	}
	if turn, speed, ok := a.resume.Saved(); ok {
		err := a.session.SetGoalSpeed(speed)
		resumed := turn
		if err == nil {
			resumed, err = a.session.Seek(turn)
		}
		if err != nil {
			a.startupErr = err
			return err
		}
		a.log.Info("resumed playback", logging.Int("turn", resumed), logging.Float64("goal_speed", speed))
	}
	if a.resume != nil {
		go a.resume.Run()
	}
	if a.cleaner != nil {
		go a.cleaner.Run(ctx, a.cfg.Retention.Interval)
	}
	return nil
}

// stop closes the session and waits for the frame loop to exit.
func (a *viewerApp) stop() {
	_ = a.session.Close()
	a.loop.Stop()
	if err := a.resume.Close(); err != nil {
		a.log.Warn("resume position not saved", logging.Error(err))
	}
}

// startStatusStream serves the gRPC status stream when an address is configured.
func startStatusStream(cfg *configpkg.Config, board *telemetry.Board, clock clockwork.Clock, logger *logging.Logger) (func(), error) {
	if strings.TrimSpace(cfg.GRPCAddress) == "" {
		return func() {}, nil
	}
	opts, cleanup, err := configureGRPCSecurity(cfg, logger)
	if err != nil {
		return nil, err
	}
	lis, err := net.Listen("tcp", cfg.GRPCAddress)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("grpc listen: %w", err)
	}
	server := grpc.NewServer(opts...)
	timesync.Register(server, timesync.NewService(board, cfg.Telemetry.StatusInterval, clock, logger))
	go func() {
		if err := server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Error("grpc server stopped", logging.Error(err))
		}
	}()
	logger.Info("grpc status stream listening", logging.String("address", cfg.GRPCAddress))
	return func() {
		//1.- Watch streams only end with their context, so cap the graceful drain.
		stopped := make(chan struct{})
		go func() {
			server.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-clock.After(shutdownGrace):
			server.Stop()
		}
		cleanup()
	}, nil
}

// startReporter publishes status snapshots to NATS when a URL is configured.
func startReporter(ctx context.Context, cfg *configpkg.Config, board *telemetry.Board, clock clockwork.Clock, logger *logging.Logger) (func(), error) {
	if strings.TrimSpace(cfg.Telemetry.NATSURL) == "" {
		return func() {}, nil
	}
	nc, err := telemetry.Connect(cfg.Telemetry.NATSURL, logger)
	if err != nil {
		return nil, err
	}
	reporter := telemetry.NewReporter(board, nc, cfg.Telemetry.NATSSubject, cfg.Telemetry.PublishInterval, clock, logger)
	go reporter.Run(ctx)
	logger.Info("publishing playback status", logging.String("subject", cfg.Telemetry.NATSSubject))
	return func() {
		if err := nc.Drain(); err != nil {
			logger.Warn("nats drain failed", logging.Error(err))
		}
	}, nil
}

func run(ctx context.Context, cfg *configpkg.Config, logger *logging.Logger) error {
	clock := clockwork.NewRealClock()
	app, err := newViewerApp(cfg, logger, clock)
	if err != nil {
		return err
	}
	defer app.stop()
	if err := app.start(ctx); err != nil {
		return err
	}

	stopGRPC, err := startStatusStream(cfg, app.board, clock, logger)
	if err != nil {
		return err
	}
	defer stopGRPC()
	stopReporter, err := startReporter(ctx, cfg, app.board, clock, logger)
	if err != nil {
		//1.- Telemetry is optional; playback carries on without it.
		logger.Warn("status reporter disabled", logging.Error(err))
	} else {
		defer stopReporter()
	}

	server := &http.Server{
		Addr:              cfg.Address,
		Handler:           app.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	endpoints := advertisedEndpoints(cfg)
	go func() {
		logger.Info("viewer listening",
			logging.String("url", endpoints.HTTP),
			logging.String("websocket", endpoints.WebSocket),
			logging.String("status_stream", endpoints.StatusStream),
			logging.Bool("tls", cfg.TLSEnabled()),
		)
		var err error
		if cfg.TLSEnabled() {
			err = server.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	logger.Info("shutting down viewer")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}
	cfg, err := configpkg.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logging: %v\n", err)
		os.Exit(1)
	}
	logging.ReplaceGlobals(logger)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("viewer exited", logging.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}
