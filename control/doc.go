// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration file loading, runtime metrics and debug introspection for
// the WebSocket endpoints.
//
// Provides concurrent-safe state handling primitives including:
//   - TOML configuration with defaults and validation
//   - Named counters and gauges with snapshot reads
//   - State export through registered debug probes
package control
