package httpapi

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	"driftpursuit/viewer/internal/auth"
	"driftpursuit/viewer/internal/logging"
	"driftpursuit/viewer/internal/playback"
)

// Control actions accepted from HTTP and websocket clients.
const (
	ActionTogglePause = "toggle_pause"
	ActionToggleSpeed = "toggle_speed"
	ActionSeek        = "seek"
	ActionSetSpeed    = "set_speed"
)

var (
	// ErrUnknownAction is returned for actions outside the supported set.
	ErrUnknownAction = errors.New("unknown control action")
	// ErrMissingArgument is returned when an action's argument is absent or invalid.
	ErrMissingArgument = errors.New("missing control argument")
	// ErrRateLimited is returned when seeks arrive faster than the limiter allows.
	ErrRateLimited = errors.New("control rate limit exceeded")
	// ErrUnauthorized is returned when a token is required but absent.
	ErrUnauthorized = errors.New("control token required")
)

// Controller is the playback surface commands are applied to.
type Controller interface {
	TogglePause() error
	ToggleSpeed() error
	SetGoalSpeed(v float64) error
	Seek(turn int) (int, error)
}

// Authorizer verifies control tokens.
type Authorizer interface {
	Authorize(token string, scope auth.Scope) (*auth.TokenClaims, error)
}

// RateLimiter gates how frequently sensitive operations may be invoked.
type RateLimiter interface {
	Allow() bool
}

// ControlRequest is the wire form of a playback command.
type ControlRequest struct {
	Action string   `json:"action"`
	Turn   *int     `json:"turn,omitempty"`
	Speed  *float64 `json:"speed,omitempty"`
	Token  string   `json:"token,omitempty"`
}

// ControlResult acknowledges an accepted command.
type ControlResult struct {
	Status  string `json:"status"`
	Action  string `json:"action"`
	Turn    *int   `json:"turn,omitempty"`
	Subject string `json:"subject,omitempty"`
}

// ControlGate authenticates, rate limits and applies control commands. A nil
// authorizer leaves controls open.
type ControlGate struct {
	controls    Controller
	authorizer  Authorizer
	seekLimiter RateLimiter
	log         *logging.Logger
}

// NewControlGate constructs a gate in front of controls.
func NewControlGate(controls Controller, authorizer Authorizer, seekLimiter RateLimiter, logger *logging.Logger) *ControlGate {
	if logger == nil {
		logger = logging.L()
	}
	return &ControlGate{controls: controls, authorizer: authorizer, seekLimiter: seekLimiter, log: logger}
}

// Apply executes req after checking its token and rate budget.
func (g *ControlGate) Apply(req ControlRequest) (ControlResult, error) {
	if g == nil || g.controls == nil {
		return ControlResult{}, playback.ErrSessionClosed
	}
	action := strings.ToLower(strings.TrimSpace(req.Action))
	result := ControlResult{Status: "accepted", Action: action}

	//1.- Authenticate before looking at the action so probes learn nothing.
	if g.authorizer != nil {
		token := strings.TrimSpace(req.Token)
		if token == "" {
			return ControlResult{}, ErrUnauthorized
		}
		claims, err := g.authorizer.Authorize(token, auth.ScopeControl)
		if err != nil {
			return ControlResult{}, err
		}
		result.Subject = claims.Subject
	}

	var err error
	switch action {
	case ActionTogglePause:
		err = g.controls.TogglePause()
	case ActionToggleSpeed:
		err = g.controls.ToggleSpeed()
	case ActionSetSpeed:
		if req.Speed == nil || math.IsNaN(*req.Speed) || math.IsInf(*req.Speed, 0) || *req.Speed < 0 {
			return ControlResult{}, fmt.Errorf("%w: speed must be a finite non-negative number", ErrMissingArgument)
		}
		err = g.controls.SetGoalSpeed(*req.Speed)
	case ActionSeek:
		if req.Turn == nil {
			return ControlResult{}, fmt.Errorf("%w: seek requires turn", ErrMissingArgument)
		}
		//2.- Only seeks are throttled; each one restarts budgeted computation.
		if g.seekLimiter != nil && !g.seekLimiter.Allow() {
			return ControlResult{}, ErrRateLimited
		}
		var turn int
		turn, err = g.controls.Seek(*req.Turn)
		result.Turn = &turn
	default:
		return ControlResult{}, fmt.Errorf("%w: %q", ErrUnknownAction, req.Action)
	}
	if err != nil {
		return ControlResult{}, err
	}
	g.log.Debug("control applied", logging.String("action", action), logging.String("subject", result.Subject))
	return result, nil
}

// ControlStatusCode maps a control error to the HTTP status reported to callers.
func ControlStatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnauthorized), errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrInsufficientScope):
		return http.StatusForbidden
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrUnknownAction), errors.Is(err, ErrMissingArgument), errors.Is(err, playback.ErrInvalidSpeed):
		return http.StatusBadRequest
	case errors.Is(err, playback.ErrSessionClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
