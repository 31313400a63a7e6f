// File: server/options.go
// Package server defines functional options for the Server.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"github.com/momentics/hioload-wsmsg/control"
	"github.com/momentics/hioload-wsmsg/protocol"
	"github.com/rs/zerolog"
)

// ServerOption customizes server initialization.
type ServerOption func(*Server)

// WithLogger replaces the component logger.
func WithLogger(l zerolog.Logger) ServerOption {
	return func(s *Server) {
		s.log = l
	}
}

// WithConnOptions appends options applied to every accepted connection,
// after those derived from Config.Conn.
func WithConnOptions(opts ...protocol.ConnOption) ServerOption {
	return func(s *Server) {
		s.connOpts = append(s.connOpts, opts...)
	}
}

// WithMetrics shares a metrics registry, e.g. between several servers.
func WithMetrics(mr *control.MetricsRegistry) ServerOption {
	return func(s *Server) {
		s.metrics = mr
	}
}
