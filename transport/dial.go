// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package transport

import (
	"context"
	"fmt"
	"net"

	"golang.org/x/net/proxy"
)

// Dial opens a TCP connection to addr. With useProxy set, ALL_PROXY and
// NO_PROXY from the environment decide whether a SOCKS5 proxy is used.
func Dial(ctx context.Context, addr string, useProxy bool) (*NetConn, error) {
	direct := &net.Dialer{}
	var d proxy.ContextDialer = direct
	if useProxy {
		switch pd := proxy.FromEnvironmentUsing(direct).(type) {
		case proxy.ContextDialer:
			d = pd
		default:
			d = contextDialer{pd}
		}
	}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	return NewNetConn(conn), nil
}

// contextDialer lets a plain proxy.Dialer honour context cancellation
// before the dial starts.
type contextDialer struct {
	proxy.Dialer
}

func (c contextDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.Dial(network, addr)
}
