// Package auth issues and verifies the HMAC control tokens that gate viewer
// playback commands.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
)

var (
	// ErrInvalidToken indicates the token failed signature checks or had malformed structure.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken signals that the token's expiry is in the past.
	ErrExpiredToken = errors.New("token expired")
	// ErrInsufficientScope means the token is valid but does not grant the requested scope.
	ErrInsufficientScope = errors.New("insufficient scope")
)

// Scope names a capability granted by a token.
type Scope string

const (
	// ScopeWatch allows receiving frames and status.
	ScopeWatch Scope = "watch"
	// ScopeControl allows pause, speed and seek commands.
	ScopeControl Scope = "control"
)

// Audience is stamped into every token and checked on verification.
const Audience = "driftpursuit-viewer"

const signingAlgorithm = "HS256"

// TokenClaims captures the payload carried by a control token.
type TokenClaims struct {
	Subject   string
	Scopes    []Scope
	ExpiresAt time.Time
	IssuedAt  time.Time
	Audience  string
}

// Allows reports whether the claims grant scope. Control implies watch.
func (c *TokenClaims) Allows(scope Scope) bool {
	if c == nil {
		return false
	}
	if scope == ScopeWatch && slices.Contains(c.Scopes, ScopeControl) {
		return true
	}
	return slices.Contains(c.Scopes, scope)
}

type tokenHeader struct {
	Algorithm string `json:"alg"`
	Type      string `json:"typ"`
}

type tokenPayload struct {
	Subject  string `json:"sub"`
	Scope    string `json:"scope"`
	Expires  int64  `json:"exp"`
	Issued   int64  `json:"iat"`
	Audience string `json:"aud"`
}

// HMACTokenVerifier issues and validates compact JWT-style tokens signed with HS256.
type HMACTokenVerifier struct {
	secret []byte
	clock  clockwork.Clock
	leeway time.Duration
}

// NewHMACTokenVerifier constructs a verifier for the supplied shared secret and clock skew allowance.
func NewHMACTokenVerifier(secret string, leeway time.Duration, clock clockwork.Clock) (*HMACTokenVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("hmac secret must not be empty")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &HMACTokenVerifier{secret: []byte(secret), clock: clock, leeway: max(leeway, 0)}, nil
}

// Issue signs a token for subject granting scopes for ttl.
func (v *HMACTokenVerifier) Issue(subject string, ttl time.Duration, scopes ...Scope) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("token subject must not be empty")
	}
	if ttl <= 0 {
		return "", errors.New("token ttl must be positive")
	}
	names := make([]string, 0, len(scopes))
	for _, scope := range scopes {
		names = append(names, string(scope))
	}
	now := v.clock.Now()
	headerJSON, err := json.Marshal(tokenHeader{Algorithm: signingAlgorithm, Type: "JWT"})
	if err != nil {
		return "", err
	}
	payloadJSON, err := json.Marshal(tokenPayload{
		Subject:  subject,
		Scope:    strings.Join(names, " "),
		Expires:  now.Add(ttl).Unix(),
		Issued:   now.Unix(),
		Audience: Audience,
	})
	if err != nil {
		return "", err
	}
	signingInput := encodeSegment(headerJSON) + "." + encodeSegment(payloadJSON)
	return signingInput + "." + encodeSegment(v.sign([]byte(signingInput))), nil
}

// Verify parses the token and validates signature, audience and expiry.
func (v *HMACTokenVerifier) Verify(token string) (*TokenClaims, error) {
	if v == nil || len(v.secret) == 0 {
		return nil, errors.New("verifier not initialised")
	}
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) != 3 {
		return nil, ErrInvalidToken
	}

	//1.- Check the header before spending time on the signature.
	var header tokenHeader
	if err := decodeJSONSegment(parts[0], &header); err != nil {
		return nil, ErrInvalidToken
	}
	if header.Algorithm != signingAlgorithm {
		return nil, fmt.Errorf("%w: unexpected algorithm %q", ErrInvalidToken, header.Algorithm)
	}

	//2.- Compare signatures in constant time.
	signature, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil || !hmac.Equal(signature, v.sign([]byte(parts[0]+"."+parts[1]))) {
		return nil, ErrInvalidToken
	}

	var payload tokenPayload
	if err := decodeJSONSegment(parts[1], &payload); err != nil {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(payload.Subject) == "" || payload.Expires <= 0 {
		return nil, ErrInvalidToken
	}
	if payload.Audience != Audience {
		return nil, fmt.Errorf("%w: unexpected audience %q", ErrInvalidToken, payload.Audience)
	}
	expiresAt := time.Unix(payload.Expires, 0)
	if expiresAt.Add(v.leeway).Before(v.clock.Now()) {
		return nil, ErrExpiredToken
	}

	claims := &TokenClaims{
		Subject:   payload.Subject,
		ExpiresAt: expiresAt,
		IssuedAt:  time.Unix(payload.Issued, 0),
		Audience:  payload.Audience,
	}
	for _, name := range strings.Fields(payload.Scope) {
		claims.Scopes = append(claims.Scopes, Scope(name))
	}
	return claims, nil
}

// Authorize verifies token and requires it to grant scope.
func (v *HMACTokenVerifier) Authorize(token string, scope Scope) (*TokenClaims, error) {
	claims, err := v.Verify(token)
	if err != nil {
		return nil, err
	}
	if !claims.Allows(scope) {
		return claims, fmt.Errorf("%w: %s", ErrInsufficientScope, scope)
	}
	return claims, nil
}

func (v *HMACTokenVerifier) sign(payload []byte) []byte {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)
	return mac.Sum(nil)
}

func encodeSegment(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

func decodeJSONSegment(segment string, into any) error {
	data, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, into)
}
