// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package transport

import (
	"bufio"
	"net"
	"time"
)

// readBufferSize matches the read side of a typical WebSocket upgrade.
const readBufferSize = 4096

// NetConn adapts a net.Conn to api.Stream. Reads go through a buffered
// reader so that bytes read past the HTTP upgrade headers are not lost.
type NetConn struct {
	conn net.Conn
	br   *bufio.Reader
}

// NewNetConn initializes a new NetConn.
func NewNetConn(conn net.Conn) *NetConn {
	return &NetConn{
		conn: conn,
		br:   bufio.NewReaderSize(conn, readBufferSize),
	}
}

// Reader exposes the buffered reader, used by the upgrade handshake.
func (n *NetConn) Reader() *bufio.Reader { return n.br }

// Conn returns the underlying connection.
func (n *NetConn) Conn() net.Conn { return n.conn }

func (n *NetConn) Read(buf []byte) (int, error)  { return n.br.Read(buf) }
func (n *NetConn) Write(buf []byte) (int, error) { return n.conn.Write(buf) }
func (n *NetConn) Close() error                  { return n.conn.Close() }
func (n *NetConn) RemoteAddr() net.Addr          { return n.conn.RemoteAddr() }
func (n *NetConn) LocalAddr() net.Addr           { return n.conn.LocalAddr() }

func (n *NetConn) SetReadDeadline(t time.Time) error  { return n.conn.SetReadDeadline(t) }
func (n *NetConn) SetWriteDeadline(t time.Time) error { return n.conn.SetWriteDeadline(t) }
func (n *NetConn) SetDeadline(t time.Time) error      { return n.conn.SetDeadline(t) }

// Readable reports whether a Read would return without blocking: either
// bytes are already buffered or the socket has input (or a hangup) pending.
func (n *NetConn) Readable() bool {
	if n.br.Buffered() > 0 {
		return true
	}
	return socketReadable(n.conn)
}
