// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

package tcp

import (
	"context"
	"fmt"
	"net"
	"syscall"
)

// ListenerConfig holds configuration for the TCP listener.
type ListenerConfig struct {
	Addr      string // TCP address to bind (e.g., ":9000")
	ReusePort bool   // SO_REUSEPORT, lets several processes share the port
}

// Listen opens the listening socket described by cfg.
func Listen(ctx context.Context, cfg ListenerConfig) (net.Listener, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var serr error
			if err := c.Control(func(fd uintptr) {
				serr = setListenerOptions(fd, cfg)
			}); err != nil {
				return err
			}
			return serr
		},
	}
	ln, err := lc.Listen(ctx, "tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("tcp listen failed: %w", err)
	}
	return ln, nil
}
