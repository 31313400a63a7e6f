// File: server/types.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"time"

	"github.com/momentics/hioload-wsmsg/control"
	"github.com/momentics/hioload-wsmsg/protocol"
)

// Config holds all server-side configuration parameters.
type Config struct {
	Host             string              // bind host, "" = all interfaces
	Handshake        bool                // run the HTTP upgrade before queueing a connection
	HandshakeTimeout time.Duration       // deadline for the upgrade request, 0 = none
	MaxPending       int                 // queued connections not yet accepted, <= 0 = unbounded
	ReusePort        bool                // SO_REUSEPORT on the listening socket
	Conn             protocol.ConnConfig // settings for every accepted connection
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Handshake:        true,
		HandshakeTimeout: 5 * time.Second,
		MaxPending:       128,
		Conn:             protocol.DefaultConnConfig(),
	}
}

// ConfigFrom builds a server config from the [server] and [connection]
// sections of a configuration file.
func ConfigFrom(fc control.Config) *Config {
	return &Config{
		Host:             fc.Server.Host,
		Handshake:        fc.Server.Handshake,
		HandshakeTimeout: fc.Server.HandshakeTimeout,
		MaxPending:       fc.Server.MaxPending,
		ReusePort:        fc.Server.ReusePort,
		Conn:             fc.Connection,
	}
}
