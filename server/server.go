// File: server/server.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Server is the listening endpoint: it binds a port, queues inbound
// connections in the background and hands them out one at a time as
// protocol.WSConnection values.

package server

import (
	"context"
	"net"
	"strconv"
	"sync"

	"github.com/eapache/queue"
	"github.com/momentics/hioload-wsmsg/api"
	"github.com/momentics/hioload-wsmsg/control"
	"github.com/momentics/hioload-wsmsg/internal/logging"
	"github.com/momentics/hioload-wsmsg/protocol"
	"github.com/momentics/hioload-wsmsg/transport"
	"github.com/momentics/hioload-wsmsg/transport/tcp"
	"github.com/rs/zerolog"
)

// Metric keys.
const (
	MetricBinds           = "server.binds"
	MetricAccepted        = "server.accepted"
	MetricHandshakeFailed = "server.handshake_failed"
	MetricRejected        = "server.rejected"
	MetricHandedOut       = "server.handed_out"
	MetricPending         = "server.pending"
)

// Server does not own the connections returned by Accept; closing the
// server only releases the listener and connections still queued.
type Server struct {
	cfg      *Config
	log      zerolog.Logger
	connOpts []protocol.ConnOption
	metrics  *control.MetricsRegistry
	debug    *control.DebugProbes

	bindMu sync.Mutex // serializes Listen

	mu          sync.Mutex
	ln          net.Listener
	pending     *queue.Queue // of *transport.NetConn
	handshaking map[*transport.NetConn]struct{}
	ready       chan struct{}
	done        chan struct{}
	closed      bool
	loops       sync.WaitGroup
	admits      sync.WaitGroup
}

// New builds an unbound server. A nil cfg means DefaultConfig.
func New(cfg *Config, opts ...ServerOption) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s := &Server{
		cfg:     cfg,
		log:     logging.Component("server"),
		pending:     queue.New(),
		handshaking: make(map[*transport.NetConn]struct{}),
		ready:       make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = control.NewMetricsRegistry()
	}
	s.debug = control.NewDebugProbes()
	control.RegisterPlatformProbes(s.debug)
	s.debug.RegisterProbe("server.listening", func() any { return s.Available() })
	s.debug.RegisterProbe("server.addr", func() any {
		if a := s.Addr(); a != nil {
			return a.String()
		}
		return ""
	})
	s.debug.RegisterProbe("server.pending", func() any { return s.pendingLen() })
	return s
}

// Listen binds host:port, port 0 picks a free port. An already bound
// server drops its previous listener and every connection still queued on
// it before binding again.
func (s *Server) Listen(port int) error {
	if port < 0 || port > 65535 {
		return api.Wrap(api.ErrCodeInvalidArgument, api.ErrInvalidArgument, "listen port out of range").WithContext("port", port)
	}
	s.bindMu.Lock()
	defer s.bindMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return api.ErrListenerClosed
	}
	old := s.ln
	s.ln = nil
	dropped := s.drainLocked()
	s.mu.Unlock()

	if old != nil {
		old.Close()
		s.loops.Wait()
		s.admits.Wait()
		s.log.Debug().Str("addr", old.Addr().String()).Int("dropped", dropped).Msg("previous listener released")
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(port))
	ln, err := tcp.Listen(context.Background(), tcp.ListenerConfig{Addr: addr, ReusePort: s.cfg.ReusePort})
	if err != nil {
		s.log.Error().Err(err).Str("addr", addr).Msg("listen failed")
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return api.ErrListenerClosed
	}
	s.ln = ln
	s.loops.Add(1)
	s.mu.Unlock()

	s.metrics.Add(MetricBinds, 1)
	s.log.Info().Str("addr", ln.Addr().String()).Bool("handshake", s.cfg.Handshake).Msg("listening")
	go s.acceptLoop(ln)
	return nil
}

// Available reports whether the server is bound and accepting.
func (s *Server) Available() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ln != nil && !s.closed
}

// Poll reports, without blocking, whether Accept would return at once.
func (s *Server) Poll() bool {
	return s.pendingLen() > 0
}

// Accept blocks until a queued connection exists and returns it as a
// server-side connection endpoint. It fails with api.ErrNotListening when
// the server is unbound, api.ErrListenerClosed once closed, or ctx.Err().
func (s *Server) Accept(ctx context.Context) (*protocol.WSConnection, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, api.ErrListenerClosed
		}
		if s.pending.Length() > 0 {
			nc := s.pending.Remove().(*transport.NetConn)
			left := s.pending.Length()
			s.mu.Unlock()
			if left > 0 {
				s.signal()
			}
			s.metrics.Set(MetricPending, int64(left))
			s.metrics.Add(MetricHandedOut, 1)
			return s.newConnection(nc), nil
		}
		if s.ln == nil {
			s.mu.Unlock()
			return nil, api.ErrNotListening
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.done:
			return nil, api.ErrListenerClosed
		case <-s.ready:
		}
	}
}

func (s *Server) newConnection(nc *transport.NetConn) *protocol.WSConnection {
	opts := append(s.cfg.Conn.Options(), s.connOpts...)
	return protocol.NewWSConnection(nc, opts...)
}

// Close releases the listener and queued connections. Connections already
// returned by Accept stay open. Close is idempotent.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln := s.ln
	s.ln = nil
	dropped := s.drainLocked()
	close(s.done)
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
		s.loops.Wait()
	}
	s.admits.Wait()
	s.log.Info().Int("dropped", dropped).Msg("server closed")
	return err
}

// Addr returns the bound address, nil when not listening.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Metrics returns a snapshot of the server counters.
func (s *Server) Metrics() map[string]any {
	return s.metrics.GetSnapshot()
}

// Debug exposes the probe registry so callers can add their own probes.
func (s *Server) Debug() api.Debug {
	return s.debug
}

// DumpState runs every registered debug probe.
func (s *Server) DumpState() map[string]any {
	return s.debug.DumpState()
}

func (s *Server) pendingLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.Length()
}

// drainLocked closes every queued stream and every stream still in the
// upgrade handshake. Caller holds s.mu.
func (s *Server) drainLocked() int {
	for nc := range s.handshaking {
		nc.Close()
		delete(s.handshaking, nc)
	}
	n := s.pending.Length()
	for s.pending.Length() > 0 {
		s.pending.Remove().(*transport.NetConn).Close()
	}
	if n > 0 {
		s.metrics.Set(MetricPending, int64(0))
	}
	return n
}

func (s *Server) signal() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}
