//go:build !linux

// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package transport

import "net"

// socketReadable has no portable zero-timeout probe; only buffered bytes count.
func socketReadable(net.Conn) bool { return false }
