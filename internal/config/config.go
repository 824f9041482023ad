package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultAddr is the default TCP address the viewer HTTP server listens on.
	DefaultAddr = ":43127"
	// DefaultGRPCAddr is the listener for the playback status stream. Empty disables gRPC.
	DefaultGRPCAddr = ":43128"

	// DefaultFrameRateHz is the render cadence driving the playback loop.
	DefaultFrameRateHz = 60.0
	// DefaultInterpolate toggles blending between turns.
	DefaultInterpolate = true
	// DefaultNormalSpeed is the goal speed, in turns per second, of regular playback.
	DefaultNormalSpeed = 10.0
	// DefaultFastSpeed is the goal speed used while fast-forwarding.
	DefaultFastSpeed = 300.0
	// DefaultResyncThreshold is how many turns the realized turn may lag before time freezes.
	DefaultResyncThreshold = 10.0
	// DefaultComputeBudget bounds the turn computation performed inside one frame.
	DefaultComputeBudget = 5 * time.Millisecond
	// DefaultRateHalfLife is the half-life of the render and update rate estimators.
	DefaultRateHalfLife = 500 * time.Millisecond
	// DefaultRateDepth caps how many samples a rate estimator remembers.
	DefaultRateDepth = 100
	// DefaultKeyframeInterval controls how often the match cursor snapshots the world.
	DefaultKeyframeInterval = 50

	// DefaultStatusInterval is the cadence of gRPC status samples.
	DefaultStatusInterval = 250 * time.Millisecond
	// DefaultNATSSubject is where playback status is published when NATS is configured.
	DefaultNATSSubject = "viewer.playback.status"
	// DefaultPublishInterval is the cadence of NATS status publications.
	DefaultPublishInterval = time.Second

	// DefaultSeekWindow bounds how frequently viewers may issue seek commands.
	DefaultSeekWindow = time.Second
	// DefaultSeekBurst sets how many seeks are accepted per window.
	DefaultSeekBurst = 5

	// DefaultRetentionInterval is how often the replay root is swept.
	DefaultRetentionInterval = time.Hour
	// DefaultResumeInterval is how often the resume position is flushed to disk.
	DefaultResumeInterval = 5 * time.Second

	// DefaultLogLevel controls verbosity for viewer logs.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "viewer.log"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10
	// DefaultLogMaxAgeDays controls how long rotated log files are kept on disk.
	DefaultLogMaxAgeDays = 7
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true
)

// GRPCAuthMode selects how the status stream authenticates callers.
type GRPCAuthMode string

const (
	// GRPCAuthModeNone accepts every caller.
	GRPCAuthModeNone GRPCAuthMode = "none"
	// GRPCAuthModeSharedSecret requires a shared secret in request metadata.
	GRPCAuthModeSharedSecret GRPCAuthMode = "shared_secret"
	// GRPCAuthModeMTLS requires client certificates signed by the configured CA.
	GRPCAuthModeMTLS GRPCAuthMode = "mtls"
)

// Config captures all runtime tunables for the viewer service.
type Config struct {
	Address        string
	GRPCAddress    string
	AllowedOrigins []string

	// TLSCertPath and TLSKeyPath switch the HTTP listener to HTTPS when both are set.
	TLSCertPath string
	TLSKeyPath  string

	ReplayPath string
	ReplayRoot string
	Retention  RetentionConfig

	// ResumePath persists the playback position across restarts. Empty disables it.
	ResumePath     string
	ResumeInterval time.Duration

	Playback  PlaybackConfig
	Telemetry TelemetryConfig

	ControlSecret string
	SeekWindow    time.Duration
	SeekBurst     int

	GRPCAuthMode       GRPCAuthMode
	GRPCSharedSecret   string
	GRPCServerCertPath string
	GRPCServerKeyPath  string
	GRPCClientCAPath   string

	Logging LoggingConfig
}

// PlaybackConfig tunes the playback synchronizer and match cursor.
type PlaybackConfig struct {
	FrameRateHz      float64       `yaml:"frame_rate_hz"`
	Interpolate      bool          `yaml:"-"`
	NormalSpeed      float64       `yaml:"normal_speed"`
	FastSpeed        float64       `yaml:"fast_speed"`
	ResyncThreshold  float64       `yaml:"resync_threshold"`
	ComputeBudget    time.Duration `yaml:"compute_budget"`
	RateHalfLife     time.Duration `yaml:"rate_half_life"`
	RateDepth        int           `yaml:"rate_depth"`
	KeyframeInterval int           `yaml:"keyframe_interval"`
}

// TelemetryConfig controls the outbound status publishers.
type TelemetryConfig struct {
	NATSURL         string        `yaml:"nats_url"`
	NATSSubject     string        `yaml:"nats_subject"`
	PublishInterval time.Duration `yaml:"publish_interval"`
	StatusInterval  time.Duration `yaml:"status_interval"`
}

// RetentionConfig bounds how many replay bundles are kept under ReplayRoot.
type RetentionConfig struct {
	MaxMatches int           `yaml:"max_matches"`
	MaxAge     time.Duration `yaml:"max_age"`
	Interval   time.Duration `yaml:"interval"`
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
	Console    bool   `yaml:"console"`
}

// fileConfig mirrors the subset of settings accepted from VIEWER_CONFIG_FILE.
type fileConfig struct {
	Address        string           `yaml:"address"`
	GRPCAddress    *string          `yaml:"grpc_address"`
	AllowedOrigins []string         `yaml:"allowed_origins"`
	TLSCertPath    string           `yaml:"tls_cert"`
	TLSKeyPath     string           `yaml:"tls_key"`
	ReplayPath     string           `yaml:"replay_path"`
	ReplayRoot     string           `yaml:"replay_root"`
	ResumePath     string           `yaml:"resume_path"`
	Retention      *RetentionConfig `yaml:"retention"`
	Playback       *filePlayback    `yaml:"playback"`
	Telemetry      *TelemetryConfig `yaml:"telemetry"`
	Logging        *LoggingConfig   `yaml:"logging"`
}

// filePlayback keeps Interpolate tri-state so an omitted key leaves the default alone.
type filePlayback struct {
	PlaybackConfig `yaml:",inline"`
	Interpolate    *bool `yaml:"interpolate"`
}

// TLSEnabled reports whether the HTTP listener serves HTTPS.
func (c *Config) TLSEnabled() bool {
	return c.TLSCertPath != "" && c.TLSKeyPath != ""
}

// Defaults returns a configuration populated with the built-in defaults.
func Defaults() *Config {
	return &Config{
		Address:     DefaultAddr,
		GRPCAddress: DefaultGRPCAddr,
		Retention:   RetentionConfig{Interval: DefaultRetentionInterval},

		ResumeInterval: DefaultResumeInterval,
		Playback: PlaybackConfig{
			FrameRateHz:      DefaultFrameRateHz,
			Interpolate:      DefaultInterpolate,
			NormalSpeed:      DefaultNormalSpeed,
			FastSpeed:        DefaultFastSpeed,
			ResyncThreshold:  DefaultResyncThreshold,
			ComputeBudget:    DefaultComputeBudget,
			RateHalfLife:     DefaultRateHalfLife,
			RateDepth:        DefaultRateDepth,
			KeyframeInterval: DefaultKeyframeInterval,
		},
		Telemetry: TelemetryConfig{
			NATSSubject:     DefaultNATSSubject,
			PublishInterval: DefaultPublishInterval,
			StatusInterval:  DefaultStatusInterval,
		},
		SeekWindow:   DefaultSeekWindow,
		SeekBurst:    DefaultSeekBurst,
		GRPCAuthMode: GRPCAuthModeNone,
		Logging: LoggingConfig{
			Level:      DefaultLogLevel,
			Path:       DefaultLogPath,
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
			Compress:   DefaultLogCompress,
		},
	}
}

// Load reads the viewer configuration. Defaults are applied first, then the optional
// YAML file named by VIEWER_CONFIG_FILE, then VIEWER_* environment overrides. Invalid
// values are collected and reported together.
func Load() (*Config, error) {
	cfg := Defaults()
	var problems []string

	//1.- Overlay the YAML file so deployments can version their tuning.
	if path := strings.TrimSpace(os.Getenv("VIEWER_CONFIG_FILE")); path != "" {
		if err := applyFile(cfg, path); err != nil {
			problems = append(problems, fmt.Sprintf("VIEWER_CONFIG_FILE: %v", err))
		}
	}

	//2.- Environment variables win over the file.
	cfg.Address = getString("VIEWER_ADDR", cfg.Address)
	if raw, ok := os.LookupEnv("VIEWER_GRPC_ADDR"); ok {
		cfg.GRPCAddress = strings.TrimSpace(raw)
	}
	if origins := parseList(os.Getenv("VIEWER_ALLOWED_ORIGINS")); origins != nil {
		cfg.AllowedOrigins = origins
	}
	cfg.TLSCertPath = getString("VIEWER_TLS_CERT", cfg.TLSCertPath)
	cfg.TLSKeyPath = getString("VIEWER_TLS_KEY", cfg.TLSKeyPath)
	cfg.ReplayPath = getString("VIEWER_REPLAY_PATH", cfg.ReplayPath)
	cfg.ReplayRoot = getString("VIEWER_REPLAY_ROOT", cfg.ReplayRoot)
	cfg.ResumePath = getString("VIEWER_RESUME_PATH", cfg.ResumePath)
	cfg.ControlSecret = strings.TrimSpace(os.Getenv("VIEWER_CONTROL_SECRET"))
	cfg.GRPCSharedSecret = strings.TrimSpace(os.Getenv("VIEWER_GRPC_SHARED_SECRET"))
	cfg.GRPCServerCertPath = strings.TrimSpace(os.Getenv("VIEWER_GRPC_TLS_CERT"))
	cfg.GRPCServerKeyPath = strings.TrimSpace(os.Getenv("VIEWER_GRPC_TLS_KEY"))
	cfg.GRPCClientCAPath = strings.TrimSpace(os.Getenv("VIEWER_GRPC_CLIENT_CA"))
	cfg.Telemetry.NATSURL = getString("VIEWER_NATS_URL", cfg.Telemetry.NATSURL)
	cfg.Telemetry.NATSSubject = getString("VIEWER_NATS_SUBJECT", cfg.Telemetry.NATSSubject)
	cfg.Logging.Level = getString("VIEWER_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Path = getString("VIEWER_LOG_PATH", cfg.Logging.Path)

	positiveFloat(&problems, "VIEWER_FRAME_RATE_HZ", &cfg.Playback.FrameRateHz)
	positiveFloat(&problems, "VIEWER_NORMAL_SPEED", &cfg.Playback.NormalSpeed)
	positiveFloat(&problems, "VIEWER_FAST_SPEED", &cfg.Playback.FastSpeed)
	positiveFloat(&problems, "VIEWER_RESYNC_THRESHOLD", &cfg.Playback.ResyncThreshold)
	parseBool(&problems, "VIEWER_INTERPOLATE", &cfg.Playback.Interpolate)
	positiveDuration(&problems, "VIEWER_COMPUTE_BUDGET", &cfg.Playback.ComputeBudget)
	positiveDuration(&problems, "VIEWER_RATE_HALF_LIFE", &cfg.Playback.RateHalfLife)
	positiveInt(&problems, "VIEWER_RATE_DEPTH", &cfg.Playback.RateDepth)
	positiveInt(&problems, "VIEWER_KEYFRAME_INTERVAL", &cfg.Playback.KeyframeInterval)

	positiveDuration(&problems, "VIEWER_STATUS_INTERVAL", &cfg.Telemetry.StatusInterval)
	positiveDuration(&problems, "VIEWER_PUBLISH_INTERVAL", &cfg.Telemetry.PublishInterval)
	positiveDuration(&problems, "VIEWER_SEEK_WINDOW", &cfg.SeekWindow)
	positiveInt(&problems, "VIEWER_SEEK_BURST", &cfg.SeekBurst)

	nonNegativeInt(&problems, "VIEWER_RETENTION_MAX_MATCHES", &cfg.Retention.MaxMatches)
	positiveDuration(&problems, "VIEWER_RETENTION_MAX_AGE", &cfg.Retention.MaxAge)
	positiveDuration(&problems, "VIEWER_RETENTION_INTERVAL", &cfg.Retention.Interval)
	positiveDuration(&problems, "VIEWER_RESUME_INTERVAL", &cfg.ResumeInterval)

	positiveInt(&problems, "VIEWER_LOG_MAX_SIZE_MB", &cfg.Logging.MaxSizeMB)
	nonNegativeInt(&problems, "VIEWER_LOG_MAX_BACKUPS", &cfg.Logging.MaxBackups)
	nonNegativeInt(&problems, "VIEWER_LOG_MAX_AGE_DAYS", &cfg.Logging.MaxAgeDays)
	parseBool(&problems, "VIEWER_LOG_COMPRESS", &cfg.Logging.Compress)
	parseBool(&problems, "VIEWER_LOG_CONSOLE", &cfg.Logging.Console)

	if raw := strings.TrimSpace(os.Getenv("VIEWER_GRPC_AUTH_MODE")); raw != "" {
		cfg.GRPCAuthMode = GRPCAuthMode(strings.ToLower(raw))
	}

	//3.- Cross-field validation once every source has been merged.
	if cfg.Playback.FastSpeed < cfg.Playback.NormalSpeed {
		problems = append(problems, fmt.Sprintf("fast speed %.2f must not be below normal speed %.2f", cfg.Playback.FastSpeed, cfg.Playback.NormalSpeed))
	}
	if (cfg.TLSCertPath == "") != (cfg.TLSKeyPath == "") {
		problems = append(problems, "VIEWER_TLS_CERT and VIEWER_TLS_KEY must be set together")
	}
	switch cfg.GRPCAuthMode {
	case GRPCAuthModeNone:
	case GRPCAuthModeSharedSecret:
		if cfg.GRPCSharedSecret == "" {
			problems = append(problems, "VIEWER_GRPC_SHARED_SECRET is required for shared_secret auth")
		}
	case GRPCAuthModeMTLS:
		if cfg.GRPCServerCertPath == "" || cfg.GRPCServerKeyPath == "" || cfg.GRPCClientCAPath == "" {
			problems = append(problems, "VIEWER_GRPC_TLS_CERT, VIEWER_GRPC_TLS_KEY and VIEWER_GRPC_CLIENT_CA are required for mtls auth")
		}
	default:
		problems = append(problems, fmt.Sprintf("VIEWER_GRPC_AUTH_MODE must be none, shared_secret or mtls, got %q", cfg.GRPCAuthMode))
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var file fileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if file.Address != "" {
		cfg.Address = file.Address
	}
	if file.GRPCAddress != nil {
		cfg.GRPCAddress = strings.TrimSpace(*file.GRPCAddress)
	}
	if len(file.AllowedOrigins) > 0 {
		cfg.AllowedOrigins = append([]string(nil), file.AllowedOrigins...)
	}
	if file.TLSCertPath != "" {
		cfg.TLSCertPath = file.TLSCertPath
	}
	if file.TLSKeyPath != "" {
		cfg.TLSKeyPath = file.TLSKeyPath
	}
	if file.ReplayPath != "" {
		cfg.ReplayPath = file.ReplayPath
	}
	if file.ReplayRoot != "" {
		cfg.ReplayRoot = file.ReplayRoot
	}
	if file.ResumePath != "" {
		cfg.ResumePath = file.ResumePath
	}
	if file.Retention != nil {
		mergeRetention(&cfg.Retention, *file.Retention)
	}
	if file.Playback != nil {
		mergePlayback(&cfg.Playback, *file.Playback)
	}
	if file.Telemetry != nil {
		mergeTelemetry(&cfg.Telemetry, *file.Telemetry)
	}
	if file.Logging != nil {
		mergeLogging(&cfg.Logging, *file.Logging)
	}
	return nil
}

func mergePlayback(dst *PlaybackConfig, file filePlayback) {
	src := file.PlaybackConfig
	if src.FrameRateHz > 0 {
		dst.FrameRateHz = src.FrameRateHz
	}
	if src.NormalSpeed > 0 {
		dst.NormalSpeed = src.NormalSpeed
	}
	if src.FastSpeed > 0 {
		dst.FastSpeed = src.FastSpeed
	}
	if src.ResyncThreshold > 0 {
		dst.ResyncThreshold = src.ResyncThreshold
	}
	if src.ComputeBudget > 0 {
		dst.ComputeBudget = src.ComputeBudget
	}
	if src.RateHalfLife > 0 {
		dst.RateHalfLife = src.RateHalfLife
	}
	if src.RateDepth > 0 {
		dst.RateDepth = src.RateDepth
	}
	if src.KeyframeInterval > 0 {
		dst.KeyframeInterval = src.KeyframeInterval
	}
	if file.Interpolate != nil {
		dst.Interpolate = *file.Interpolate
	}
}

func mergeTelemetry(dst *TelemetryConfig, src TelemetryConfig) {
	if src.NATSURL != "" {
		dst.NATSURL = src.NATSURL
	}
	if src.NATSSubject != "" {
		dst.NATSSubject = src.NATSSubject
	}
	if src.PublishInterval > 0 {
		dst.PublishInterval = src.PublishInterval
	}
	if src.StatusInterval > 0 {
		dst.StatusInterval = src.StatusInterval
	}
}

func mergeRetention(dst *RetentionConfig, src RetentionConfig) {
	if src.MaxMatches > 0 {
		dst.MaxMatches = src.MaxMatches
	}
	if src.MaxAge > 0 {
		dst.MaxAge = src.MaxAge
	}
	if src.Interval > 0 {
		dst.Interval = src.Interval
	}
}

func mergeLogging(dst *LoggingConfig, src LoggingConfig) {
	if src.Level != "" {
		dst.Level = src.Level
	}
	if src.Path != "" {
		dst.Path = src.Path
	}
	if src.MaxSizeMB > 0 {
		dst.MaxSizeMB = src.MaxSizeMB
	}
	if src.MaxBackups > 0 {
		dst.MaxBackups = src.MaxBackups
	}
	if src.MaxAgeDays > 0 {
		dst.MaxAgeDays = src.MaxAgeDays
	}
	if src.Console {
		dst.Console = true
	}
}

func positiveFloat(problems *[]string, key string, dst *float64) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || !(value > 0) {
		*problems = append(*problems, fmt.Sprintf("%s must be a positive number, got %q", key, raw))
		return
	}
	*dst = value
}

func positiveInt(problems *[]string, key string, dst *int) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		*problems = append(*problems, fmt.Sprintf("%s must be a positive integer, got %q", key, raw))
		return
	}
	*dst = value
}

func nonNegativeInt(problems *[]string, key string, dst *int) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		*problems = append(*problems, fmt.Sprintf("%s must be a non-negative integer, got %q", key, raw))
		return
	}
	*dst = value
}

func positiveDuration(problems *[]string, key string, dst *time.Duration) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	duration, err := time.ParseDuration(raw)
	if err != nil || duration <= 0 {
		*problems = append(*problems, fmt.Sprintf("%s must be a positive duration, got %q", key, raw))
		return
	}
	*dst = duration
}

func parseBool(problems *[]string, key string, dst *bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		*problems = append(*problems, fmt.Sprintf("%s must be a boolean value, got %q", key, raw))
		return
	}
	*dst = value
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if item := strings.TrimSpace(part); item != "" {
			values = append(values, item)
		}
	}
	if len(values) == 0 {
		return nil
	}
	return values
}
