// File: protocol/connection.go
// Package protocol implements the core WebSocket connection handling.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// WSConnection turns inbound frames into complete messages and outbound
// messages into frames over one duplex stream.

package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/momentics/hioload-wsmsg/api"
	"github.com/momentics/hioload-wsmsg/internal/logging"
)

// WSConnection is a connection endpoint. ReadMessage must be driven by a
// single goroutine; sends are serialized internally so control replies and
// caller writes never interleave inside a frame.
type WSConnection struct {
	stream api.Stream
	br     *bufio.Reader
	client bool
	cfg    ConnConfig
	limits Limits
	log    zerolog.Logger

	// at most one fragmented message in flight
	builder       *StreamBuilder
	assemblyStart time.Time

	writeMu   sync.Mutex
	state     int32
	closeSent int32
	closeOnce sync.Once
	closeErr  error

	openedAt          time.Time
	bytesReceived     int64
	bytesSent         int64
	framesReceived    int64
	framesSent        int64
	messagesReceived  int64
	malformedMessages int64
}

// NewWSConnection wraps an open stream. The connection owns the stream
// from here on.
func NewWSConnection(stream api.Stream, opts ...ConnOption) *WSConnection {
	c := &WSConnection{
		stream:   stream,
		br:       bufio.NewReader(stream),
		cfg:      DefaultConnConfig(),
		limits:   DefaultLimits(),
		log:      logging.Component("conn"),
		state:    int32(api.ConnOpen),
		openedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.cfg.MaxFrameSize = c.limits.MaxFramePayload
	if addr := stream.RemoteAddr(); addr != nil {
		c.log = c.log.With().Str("remote", addr.String()).Logger()
	}
	return c
}

// ReadMessage blocks until one complete message arrives. Fragmented
// messages are reassembled; control frames, including those interleaved in
// a fragmented sequence, are returned as they arrive.
//
// Errors wrap api.ErrMalformedMessage for a broken fragment sequence (the
// connection stays usable), api.ErrMessageTooLarge and api.ErrAssemblyTimeout
// (the connection is closed), or api.ErrConnectionClosed.
func (c *WSConnection) ReadMessage() (Message, error) {
	for {
		if c.State() == api.ConnClosed {
			c.builder = nil
			return Message{}, api.ErrConnectionClosed
		}
		f, err := c.readFrame()
		if err != nil {
			return Message{}, c.failRead(err)
		}
		msg, done, err := c.process(f)
		if done || err != nil {
			return msg, err
		}
	}
}

func (c *WSConnection) readFrame() (Frame, error) {
	if c.builder != nil && c.cfg.AssemblyTimeout > 0 {
		if err := c.stream.SetReadDeadline(c.assemblyStart.Add(c.cfg.AssemblyTimeout)); err != nil {
			return Frame{}, err
		}
	}
	f, err := ReadFrame(c.br, c.limits)
	if err != nil {
		return Frame{}, err
	}
	atomic.AddInt64(&c.framesReceived, 1)
	atomic.AddInt64(&c.bytesReceived, int64(len(f.payload)))
	return f, nil
}

// process feeds one frame through the classifier and the active builder.
// done reports that msg (or err) must go back to the caller.
func (c *WSConnection) process(f Frame) (msg Message, done bool, err error) {
	switch f.Role() {
	case RoleComplete:
		if f.Opcode().IsControl() {
			msg = FromFrame(f, MessageEmpty)
			c.handleControl(msg)
			return msg, true, nil
		}
		if c.builder != nil {
			// a new data message may not start inside a fragmented one
			c.builder.First(f)
			return c.discardBuilder()
		}
		msg = FromFrame(f, MessageEmpty)
		if msg.IsEmpty() {
			atomic.AddInt64(&c.malformedMessages, 1)
			c.log.Warn().Uint8("opcode", uint8(f.Opcode())).Msg("unclassifiable frame")
			return Message{}, true, fmt.Errorf("%w: %w", api.ErrMalformedMessage, ErrUnknownMessageType)
		}
		if c.cfg.MaxMessageSize > 0 && msg.Len() > c.cfg.MaxMessageSize {
			return Message{}, true, c.failTooLarge(msg.Len())
		}
		atomic.AddInt64(&c.messagesReceived, 1)
		return msg, true, nil

	case RoleFirst:
		if c.builder != nil {
			c.builder.First(f)
			return c.discardBuilder()
		}
		c.builder = NewStreamBuilder(WithMaxSize(c.cfg.MaxMessageSize))
		c.assemblyStart = time.Now()
		c.builder.First(f)

	case RoleContinuation:
		c.activeBuilder().Append(f)

	case RoleLast:
		c.activeBuilder().End(f)
		if c.builder.IsComplete() {
			msg, err = c.builder.Build()
			c.resetBuilder()
			atomic.AddInt64(&c.messagesReceived, 1)
			return msg, true, err
		}
	}

	if c.builder.IsErrored() {
		return c.discardBuilder()
	}
	return Message{}, false, nil
}

// activeBuilder returns the in-flight builder, or installs a fresh one so
// that a continuation without an opening frame is recorded as an error.
func (c *WSConnection) activeBuilder() *StreamBuilder {
	if c.builder == nil {
		c.builder = NewStreamBuilder(WithDummyMode())
	}
	return c.builder
}

func (c *WSConnection) discardBuilder() (Message, bool, error) {
	reason := c.builder.Err()
	typ := c.builder.Type()
	c.resetBuilder()
	if errors.Is(reason, api.ErrMessageTooLarge) {
		return Message{}, true, c.failTooLarge(-1)
	}
	atomic.AddInt64(&c.malformedMessages, 1)
	c.log.Warn().Err(reason).Str("type", typ.String()).Msg("malformed fragmented message discarded")
	return Message{}, true, fmt.Errorf("%w: %w", api.ErrMalformedMessage, reason)
}

func (c *WSConnection) resetBuilder() {
	c.builder = nil
	if c.cfg.AssemblyTimeout > 0 {
		_ = c.stream.SetReadDeadline(time.Time{})
	}
}

// failTooLarge closes the connection with 1009; the rest of an oversized
// sequence cannot be skipped reliably.
func (c *WSConnection) failTooLarge(size int) error {
	c.log.Warn().Int("size", size).Int("limit", c.cfg.MaxMessageSize).Msg("message exceeds limit")
	c.CloseWithStatus(CloseMessageTooBig, "message too big")
	return fmt.Errorf("read message: %w", api.ErrMessageTooLarge)
}

// failRead is terminal: any in-flight builder is dropped and the stream closed.
func (c *WSConnection) failRead(err error) error {
	inFlight := c.builder != nil
	c.builder = nil

	var nerr net.Error
	switch {
	case inFlight && c.cfg.AssemblyTimeout > 0 && errors.As(err, &nerr) && nerr.Timeout():
		c.log.Warn().Dur("timeout", c.cfg.AssemblyTimeout).Msg("fragmented message stalled")
		c.CloseWithStatus(ClosePolicyViolation, "assembly timeout")
		return api.ErrAssemblyTimeout
	case errors.Is(err, ErrFrameTooLarge):
		c.CloseWithStatus(CloseMessageTooBig, "frame too big")
		return fmt.Errorf("%w: %w", api.ErrMessageTooLarge, err)
	case errors.Is(err, ErrReservedBits), errors.Is(err, ErrFragmentedControl), errors.Is(err, ErrControlTooLarge):
		atomic.AddInt64(&c.malformedMessages, 1)
		c.log.Warn().Err(err).Msg("protocol violation")
		c.CloseWithStatus(CloseProtocolError, "")
		return fmt.Errorf("%w: %w", api.ErrMalformedMessage, err)
	}

	c.log.Debug().Err(err).Bool("in_flight", inFlight).Msg("read failed")
	c.shutdown()
	return fmt.Errorf("%w: %w", api.ErrConnectionClosed, err)
}

// handleControl answers Ping and Close frames per RFC 6455.
func (c *WSConnection) handleControl(msg Message) {
	switch msg.Type() {
	case MessagePing:
		if c.cfg.AutoPong {
			if err := c.writeFrame(NewFrame(OpcodePong, true, msg.Payload())); err != nil {
				c.log.Debug().Err(err).Msg("pong reply failed")
			}
		}
	case MessageClose:
		code, _ := msg.CloseStatus()
		if !c.cfg.AutoCloseReply {
			atomic.CompareAndSwapInt32(&c.state, int32(api.ConnOpen), int32(api.ConnClosing))
			return
		}
		if code == CloseNoStatusRcvd {
			code = CloseNormalClosure
		}
		c.CloseWithStatus(code, "")
	}
}

// Send writes msg as a single final frame.
func (c *WSConnection) Send(msg Message) error {
	op, ok := msg.Type().Opcode()
	if !ok {
		return api.ErrInvalidArgument
	}
	if op.IsControl() && msg.Len() > MaxControlPayloadLen {
		return ErrControlTooLarge
	}
	if op == OpcodeClose {
		atomic.StoreInt32(&c.closeSent, 1)
	}
	return c.writeFrame(NewFrame(op, true, msg.Payload()))
}

func (c *WSConnection) SendText(s string) error {
	return c.Send(NewMessage(MessageText, []byte(s), RoleComplete))
}

func (c *WSConnection) SendBinary(p []byte) error {
	return c.Send(NewMessage(MessageBinary, p, RoleComplete))
}

func (c *WSConnection) Ping(p []byte) error {
	return c.Send(NewMessage(MessagePing, p, RoleComplete))
}

func (c *WSConnection) Pong(p []byte) error {
	return c.Send(NewMessage(MessagePong, p, RoleComplete))
}

// SendFragmented splits a data message into frames of at most chunk bytes.
// Messages that fit in one chunk go out unfragmented.
func (c *WSConnection) SendFragmented(msg Message, chunk int) error {
	if !msg.IsText() && !msg.IsBinary() {
		return api.ErrInvalidArgument
	}
	p := msg.Payload()
	if chunk <= 0 || len(p) <= chunk {
		return c.Send(msg)
	}
	op, _ := msg.Type().Opcode()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	for off := 0; off < len(p); off += chunk {
		end := min(off+chunk, len(p))
		fop := OpcodeContinuation
		if off == 0 {
			fop = op
		}
		if err := c.writeFrameLocked(NewFrame(fop, end == len(p), p[off:end])); err != nil {
			return err
		}
	}
	return nil
}

// SendFrame writes a raw frame record without validation.
func (c *WSConnection) SendFrame(f Frame) error {
	return c.writeFrame(f)
}

func (c *WSConnection) writeFrame(f Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.writeFrameLocked(f)
}

func (c *WSConnection) writeFrameLocked(f Frame) error {
	if c.State() == api.ConnClosed {
		return api.ErrConnectionClosed
	}
	if err := WriteFrame(c.stream, f, c.client); err != nil {
		return fmt.Errorf("write %s frame: %w", f.Opcode(), err)
	}
	atomic.AddInt64(&c.framesSent, 1)
	atomic.AddInt64(&c.bytesSent, int64(len(f.payload)))
	return nil
}

// Close sends a normal-closure frame (once) and closes the stream.
func (c *WSConnection) Close() error {
	return c.CloseWithStatus(CloseNormalClosure, "")
}

// CloseWithStatus sends a Close frame with code and reason unless one was
// already sent, then closes the stream. Safe to call in any state and more
// than once.
func (c *WSConnection) CloseWithStatus(code int, reason string) error {
	c.closeOnce.Do(func() {
		if atomic.CompareAndSwapInt32(&c.closeSent, 0, 1) && c.State() != api.ConnClosed {
			if len(reason) > MaxControlPayloadLen-2 {
				reason = reason[:MaxControlPayloadLen-2]
			}
			if err := c.writeFrame(NewFrame(OpcodeClose, true, ClosePayload(code, reason))); err != nil {
				c.log.Debug().Err(err).Msg("close frame not sent")
			}
		}
		c.closeErr = c.shutdown()
	})
	return c.closeErr
}

func (c *WSConnection) shutdown() error {
	if atomic.SwapInt32(&c.state, int32(api.ConnClosed)) == int32(api.ConnClosed) {
		return nil
	}
	return c.stream.Close()
}

// Available reports whether the connection is still open.
func (c *WSConnection) Available() bool {
	return c.State() != api.ConnClosed
}

// Poll reports, without blocking, whether inbound bytes are waiting.
func (c *WSConnection) Poll() bool {
	if !c.Available() {
		return false
	}
	if c.br.Buffered() > 0 {
		return true
	}
	if p, ok := c.stream.(api.ReadinessProber); ok {
		return p.Readable()
	}
	return false
}

func (c *WSConnection) State() api.ConnState {
	return api.ConnState(atomic.LoadInt32(&c.state))
}

// SetReadDeadline passes through to the stream. It is overridden while a
// fragmented message is open and an assembly timeout is configured.
func (c *WSConnection) SetReadDeadline(t time.Time) error {
	return c.stream.SetReadDeadline(t)
}

func (c *WSConnection) RemoteAddr() net.Addr {
	return c.stream.RemoteAddr()
}

// Stream provides access to the underlying api.Stream.
func (c *WSConnection) Stream() api.Stream {
	return c.stream
}

// Stats returns a snapshot of connection statistics.
func (c *WSConnection) Stats() api.ConnStats {
	return api.ConnStats{
		BytesReceived:     atomic.LoadInt64(&c.bytesReceived),
		BytesSent:         atomic.LoadInt64(&c.bytesSent),
		FramesReceived:    atomic.LoadInt64(&c.framesReceived),
		FramesSent:        atomic.LoadInt64(&c.framesSent),
		MessagesReceived:  atomic.LoadInt64(&c.messagesReceived),
		MalformedMessages: atomic.LoadInt64(&c.malformedMessages),
		OpenedAt:          c.openedAt,
	}
}
