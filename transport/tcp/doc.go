// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package tcp opens the TCP listening socket used by the server and applies
// the socket options configured for it.
package tcp
