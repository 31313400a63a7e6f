// File: server/listener.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Background accept loop: TCP accept, optional upgrade handshake, queueing.

package server

import (
	"errors"
	"net"
	"time"

	"github.com/momentics/hioload-wsmsg/api"
	"github.com/momentics/hioload-wsmsg/handshake"
	"github.com/momentics/hioload-wsmsg/transport"
)

const maxAcceptBackoff = time.Second

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.loops.Done()
	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			// EMFILE and friends: back off instead of spinning.
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else if backoff *= 2; backoff > maxAcceptBackoff {
				backoff = maxAcceptBackoff
			}
			s.log.Error().Err(err).Dur("backoff", backoff).Msg("accept failed")
			time.Sleep(backoff)
			continue
		}
		backoff = 0
		s.metrics.Add(MetricAccepted, 1)
		nc := transport.NewNetConn(conn)
		if !s.track(ln, nc) {
			nc.Close()
			continue
		}
		go s.admit(ln, nc)
	}
}

// track registers a stream entering the handshake so that Close and a
// re-bind can abort it. It fails once ln is no longer the bound listener.
func (s *Server) track(ln net.Listener, nc *transport.NetConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.ln != ln {
		return false
	}
	s.handshaking[nc] = struct{}{}
	s.admits.Add(1)
	return true
}

// untrack reports whether nc was still registered, i.e. not aborted.
func (s *Server) untrack(nc *transport.NetConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.handshaking[nc]
	delete(s.handshaking, nc)
	return ok
}

// admit runs the upgrade handshake and queues the stream.
func (s *Server) admit(ln net.Listener, nc *transport.NetConn) {
	defer s.admits.Done()
	if s.cfg.Handshake {
		if s.cfg.HandshakeTimeout > 0 {
			nc.SetDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
		}
		req, err := handshake.Accept(nc.Reader(), nc)
		if live := s.untrack(nc); !live {
			// aborted by Close or a re-bind
			nc.Close()
			return
		}
		if err != nil {
			s.metrics.Add(MetricHandshakeFailed, 1)
			s.log.Warn().Err(err).Str("remote", nc.RemoteAddr().String()).Msg("handshake failed")
			nc.Close()
			return
		}
		nc.SetDeadline(time.Time{})
		s.log.Debug().Str("remote", nc.RemoteAddr().String()).Str("path", req.URL.Path).Msg("upgraded")
	} else {
		s.untrack(nc)
	}
	s.enqueue(ln, nc)
}

func (s *Server) enqueue(ln net.Listener, nc *transport.NetConn) {
	s.mu.Lock()
	if s.closed || s.ln != ln {
		s.mu.Unlock()
		nc.Close()
		return
	}
	if s.cfg.MaxPending > 0 && s.pending.Length() >= s.cfg.MaxPending {
		s.mu.Unlock()
		s.metrics.Add(MetricRejected, 1)
		err := api.Wrap(api.ErrCodeResourceExhausted, api.ErrResourceExhausted, "pending queue full").
			WithContext("max_pending", s.cfg.MaxPending)
		s.log.Warn().Err(err).Str("remote", nc.RemoteAddr().String()).Msg("connection rejected")
		nc.Close()
		return
	}
	s.pending.Add(nc)
	n := s.pending.Length()
	s.mu.Unlock()

	s.metrics.Set(MetricPending, int64(n))
	s.signal()
}
