// File: api/transport.go
// Author: momentics <momentics@gmail.com>
//
// Defines the duplex stream abstraction the message layer consumes.
// Connect/listen/accept live in the transport package; the core only
// sees an already-open stream.

package api

import (
	"net"
	"time"
)

// Stream abstracts a full-duplex byte stream, usually backed by net.Conn.
type Stream interface {
	// Read reads into a preallocated buffer.
	Read(p []byte) (n int, err error)

	// Write writes buffer contents into the stream.
	Write(p []byte) (n int, err error)

	// Close shuts down the stream. Safe to call more than once.
	Close() error

	// SetReadDeadline bounds blocking reads; zero time clears it.
	SetReadDeadline(t time.Time) error

	// RemoteAddr reports the peer address, if any.
	RemoteAddr() net.Addr
}

// ReadinessProber is implemented by streams that can report, without
// blocking, whether inbound bytes are waiting.
type ReadinessProber interface {
	Readable() bool
}
