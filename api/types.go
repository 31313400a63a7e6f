// File: api/types.go
// Author: momentics <momentics@gmail.com>
//
// Shared API-level type declarations, DTOs, and constants.

package api

import "time"

// ConnState enumerates the state of a connection endpoint.
type ConnState int

const (
	ConnUnknown ConnState = iota
	ConnOpen
	ConnClosing
	ConnClosed
)

func (s ConnState) String() string {
	switch s {
	case ConnOpen:
		return "open"
	case ConnClosing:
		return "closing"
	case ConnClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ConnStats is a snapshot of per-connection counters.
type ConnStats struct {
	BytesReceived     int64
	BytesSent         int64
	FramesReceived    int64
	FramesSent        int64
	MessagesReceived  int64
	MalformedMessages int64
	OpenedAt          time.Time
}
