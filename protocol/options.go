// File: protocol/options.go
// Package protocol defines functional options for WSConnection.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

import (
	"time"

	"github.com/rs/zerolog"
)

// DefaultMaxMessageSize bounds reassembled messages unless overridden.
const DefaultMaxMessageSize = 16 << 20 // 16 MiB

// ConnConfig holds per-connection settings. It mirrors the [connection]
// table of the configuration file.
type ConnConfig struct {
	MaxFrameSize    int64         `toml:"max_frame_size"`   // per-frame payload cap
	MaxMessageSize  int           `toml:"max_message_size"` // reassembled payload cap, 0 = unbounded
	AssemblyTimeout time.Duration `toml:"assembly_timeout"` // 0 = a stalled fragment stream waits forever
	AutoPong        bool          `toml:"auto_pong"`        // answer Ping with Pong
	AutoCloseReply  bool          `toml:"auto_close_reply"` // answer Close and release the stream
}

// DefaultConnConfig returns sensible defaults.
func DefaultConnConfig() ConnConfig {
	return ConnConfig{
		MaxFrameSize:   MaxFramePayload,
		MaxMessageSize: DefaultMaxMessageSize,
		AutoPong:       true,
		AutoCloseReply: true,
	}
}

// Options converts the config into connection options.
func (c ConnConfig) Options() []ConnOption {
	return []ConnOption{
		WithMaxFrameSize(c.MaxFrameSize),
		WithMaxMessageSize(c.MaxMessageSize),
		WithAssemblyTimeout(c.AssemblyTimeout),
		WithAutoPong(c.AutoPong),
		WithAutoCloseReply(c.AutoCloseReply),
	}
}

// ConnOption customizes connection initialization.
type ConnOption func(*WSConnection)

// WithClientSide masks every outbound frame, as RFC 6455 requires of clients.
func WithClientSide() ConnOption {
	return func(c *WSConnection) {
		c.client = true
	}
}

// WithMaxFrameSize overrides the per-frame payload limit.
func WithMaxFrameSize(n int64) ConnOption {
	return func(c *WSConnection) {
		if n > 0 {
			c.limits.MaxFramePayload = n
		}
	}
}

// WithMaxMessageSize bounds the payload of any received message.
func WithMaxMessageSize(n int) ConnOption {
	return func(c *WSConnection) {
		c.cfg.MaxMessageSize = n
	}
}

// WithAssemblyTimeout bounds how long a fragmented message may stay open.
func WithAssemblyTimeout(d time.Duration) ConnOption {
	return func(c *WSConnection) {
		c.cfg.AssemblyTimeout = d
	}
}

// WithAutoPong toggles automatic Pong replies.
func WithAutoPong(on bool) ConnOption {
	return func(c *WSConnection) {
		c.cfg.AutoPong = on
	}
}

// WithAutoCloseReply toggles the automatic Close reply.
func WithAutoCloseReply(on bool) ConnOption {
	return func(c *WSConnection) {
		c.cfg.AutoCloseReply = on
	}
}

// WithLogger sets the connection logger.
func WithLogger(l zerolog.Logger) ConnOption {
	return func(c *WSConnection) {
		c.log = l
	}
}
