package main

import (
	"fmt"
	"net"
	"strings"

	configpkg "driftpursuit/viewer/internal/config"
)

// viewerEndpoints lists the addresses a viewer deployment advertises at startup.
type viewerEndpoints struct {
	HTTP         string
	WebSocket    string
	StatusStream string
}

// advertisedEndpoints derives the browser, websocket and gRPC addresses from cfg.
// 1.- Pick http/ws or https/wss depending on whether the listener serves TLS.
// 2.- Normalise wildcard hosts so the log shows an address a client can dial.
func advertisedEndpoints(cfg *configpkg.Config) viewerEndpoints {
	httpScheme, wsScheme := "http", "ws"
	if cfg.TLSEnabled() {
		httpScheme, wsScheme = "https", "wss"
	}
	host := normaliseHostPort(cfg.Address)
	endpoints := viewerEndpoints{
		HTTP:      fmt.Sprintf("%s://%s", httpScheme, host),
		WebSocket: fmt.Sprintf("%s://%s/ws", wsScheme, host),
	}
	if strings.TrimSpace(cfg.GRPCAddress) != "" {
		endpoints.StatusStream = normaliseHostPort(cfg.GRPCAddress)
	}
	return endpoints
}

func normaliseHostPort(address string) string {
	trimmed := strings.TrimSpace(address)
	if trimmed == "" {
		return "localhost"
	}
	host, port, err := net.SplitHostPort(trimmed)
	if err != nil {
		if strings.HasPrefix(trimmed, ":") {
			return "localhost" + trimmed
		}
		return trimmed
	}
	switch strings.TrimSpace(host) {
	case "", "0.0.0.0", "::":
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}
