//go:build !linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

package tcp

// Go already sets SO_REUSEADDR on unix listeners; ReusePort is Linux only.
func setListenerOptions(uintptr, ListenerConfig) error { return nil }
