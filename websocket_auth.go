package main

import (
	"errors"
	"net/http"
	"strings"

	"driftpursuit/viewer/internal/auth"
)

type websocketAuthenticator interface {
	Authenticate(r *http.Request) (string, error)
}

type allowAllAuthenticator struct{}

func (allowAllAuthenticator) Authenticate(*http.Request) (string, error) {
	return "anonymous", nil
}

type hmacWebsocketAuthenticator struct {
	verifier *auth.HMACTokenVerifier
}

func newHMACWebsocketAuthenticator(verifier *auth.HMACTokenVerifier) (websocketAuthenticator, error) {
	if verifier == nil {
		return nil, errors.New("verifier not configured")
	}
	return &hmacWebsocketAuthenticator{verifier: verifier}, nil
}

// Authenticate requires a token carrying the watch scope and returns its subject.
func (a *hmacWebsocketAuthenticator) Authenticate(r *http.Request) (string, error) {
	if a == nil || a.verifier == nil {
		return "", errors.New("verifier not configured")
	}
	token := strings.TrimSpace(r.URL.Query().Get("auth_token"))
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Auth-Token"))
	}
	if token == "" {
		return "", errors.New("missing auth token")
	}
	claims, err := a.verifier.Authorize(token, auth.ScopeWatch)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}
