// File: client/client.go
// Package client dials a WebSocket server and returns a client-side
// connection endpoint.
// Author: momentics <momentics.com>
// License: Apache-2.0
//
// The client implements:
// - RFC6455 handshake over bare TCP (with or without ws:// scheme)
// - Optional SOCKS5 proxying from the environment
// - Retries with linear backoff (controlled by ReconnectMax)

package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/momentics/hioload-wsmsg/control"
	"github.com/momentics/hioload-wsmsg/handshake"
	"github.com/momentics/hioload-wsmsg/internal/logging"
	"github.com/momentics/hioload-wsmsg/protocol"
	"github.com/momentics/hioload-wsmsg/transport"
)

// Config holds all configurable parameters for the WebSocket client.
type Config struct {
	Handshake        bool                // send the HTTP upgrade request
	Header           http.Header         // extra upgrade request headers
	HandshakeTimeout time.Duration       // deadline for the upgrade, 0 = none
	UseProxy         bool                // honour ALL_PROXY / NO_PROXY
	ReconnectMax     int                 // retries after a failed dial (0 = none)
	Conn             protocol.ConnConfig // connection limits and auto replies
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Handshake:        true,
		HandshakeTimeout: 5 * time.Second,
		Conn:             protocol.DefaultConnConfig(),
	}
}

// ConfigFrom builds a client config from the [client] and [connection]
// sections of a configuration file.
func ConfigFrom(fc control.Config) *Config {
	return &Config{
		Handshake:        fc.Client.Handshake,
		HandshakeTimeout: fc.Client.HandshakeTimeout,
		UseProxy:         fc.Client.UseProxy,
		ReconnectMax:     fc.Client.ReconnectMax,
		Conn:             fc.Connection,
	}
}

// Dial connects to address, either ws://host:port/path or bare host:port,
// and returns a connection that masks every frame it sends. A nil cfg
// means DefaultConfig.
func Dial(ctx context.Context, address string, cfg *Config, opts ...protocol.ConnOption) (*protocol.WSConnection, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	host, path, err := parseAddress(address)
	if err != nil {
		return nil, err
	}
	log := logging.Component("client").With().Str("addr", host).Logger()

	var lastErr error
	for attempt := 1; ; attempt++ {
		nc, err := dialAndHandshake(ctx, host, path, cfg)
		if err == nil {
			log.Debug().Int("attempt", attempt).Msg("connected")
			all := append(cfg.Conn.Options(), protocol.WithClientSide())
			return protocol.NewWSConnection(nc, append(all, opts...)...), nil
		}
		lastErr = err
		if attempt > cfg.ReconnectMax {
			break
		}
		log.Warn().Err(err).Int("attempt", attempt).Msg("dial failed, retrying")
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("client: %w (last error: %v)", ctx.Err(), lastErr)
		case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
		}
	}
	if cfg.ReconnectMax > 0 {
		return nil, fmt.Errorf("client: max reconnect attempts reached: %w", lastErr)
	}
	return nil, lastErr
}

// dialAndHandshake performs one TCP dial and, if enabled, the upgrade.
func dialAndHandshake(ctx context.Context, host, path string, cfg *Config) (*transport.NetConn, error) {
	nc, err := transport.Dial(ctx, host, cfg.UseProxy)
	if err != nil {
		return nil, err
	}
	if !cfg.Handshake {
		return nc, nil
	}
	if cfg.HandshakeTimeout > 0 {
		nc.SetDeadline(time.Now().Add(cfg.HandshakeTimeout))
	}
	if err := handshake.Request(nc.Reader(), nc, host, path, cfg.Header); err != nil {
		nc.Close()
		return nil, err
	}
	nc.SetDeadline(time.Time{})
	return nc, nil
}

// parseAddress accepts ws:// or bare host:port.
func parseAddress(addr string) (host, path string, err error) {
	if !strings.Contains(addr, "://") {
		return addr, "/", nil
	}
	u, err := url.Parse(addr)
	if err != nil {
		return "", "", fmt.Errorf("client: bad address %q: %w", addr, err)
	}
	if u.Scheme != "ws" && u.Scheme != "http" {
		return "", "", fmt.Errorf("client: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("client: no host in %q", addr)
	}
	host = u.Host
	if u.Port() == "" {
		host += ":80"
	}
	return host, u.RequestURI(), nil
}
