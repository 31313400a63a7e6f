// File: protocol/builder.go
// Package protocol
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// StreamBuilder reassembles one fragmented message. Any out-of-order or
// mismatched frame marks the builder errored for good; the partial content
// is never handed out.

package protocol

import (
	"errors"

	"github.com/momentics/hioload-wsmsg/api"
)

var (
	ErrUnexpectedFragment = errors.New("protocol: unexpected fragment")
	ErrUnknownMessageType = errors.New("protocol: unclassifiable opcode")
	ErrIncompleteMessage  = errors.New("protocol: message is not complete")
)

// BuilderOption customizes a StreamBuilder.
type BuilderOption func(*StreamBuilder)

// WithDummyMode runs the state machine without retaining payload bytes.
func WithDummyMode() BuilderOption {
	return func(b *StreamBuilder) {
		b.dummy = true
	}
}

// WithMaxSize bounds the reassembled payload; zero means unbounded.
func WithMaxSize(n int) BuilderOption {
	return func(b *StreamBuilder) {
		b.maxSize = n
	}
}

// StreamBuilder is single-use: one builder per logical message. It has no
// internal locking.
type StreamBuilder struct {
	dummy    bool
	maxSize  int
	empty    bool
	complete bool
	errored  bool
	typ      MessageType
	size     int
	content  []byte
	err      error
}

// NewStreamBuilder returns an empty builder.
func NewStreamBuilder(opts ...BuilderOption) *StreamBuilder {
	b := &StreamBuilder{empty: true}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// First opens the sequence with a frame whose role is RoleFirst.
func (b *StreamBuilder) First(f Frame) {
	if !b.empty {
		b.fail(ErrUnexpectedFragment)
		return
	}
	b.empty = false

	if !f.IsBeginningOfFragments() {
		b.fail(ErrUnexpectedFragment)
		return
	}
	b.typ = Classify(f.opcode)
	if b.typ == MessageEmpty {
		b.fail(ErrUnknownMessageType)
		return
	}
	b.add(f.payload)
}

// Append adds a continuation frame to an open sequence.
func (b *StreamBuilder) Append(f Frame) {
	if b.errored {
		return
	}
	if b.empty || b.complete {
		b.fail(ErrUnexpectedFragment)
		return
	}
	if !f.IsContinuesFragment() {
		b.fail(ErrUnexpectedFragment)
		return
	}
	b.add(f.payload)
}

// End closes an open sequence with its last frame.
func (b *StreamBuilder) End(f Frame) {
	if b.errored {
		return
	}
	if b.empty || b.complete {
		b.fail(ErrUnexpectedFragment)
		return
	}
	if !f.IsEndOfFragments() {
		b.fail(ErrUnexpectedFragment)
		return
	}
	b.add(f.payload)
	if !b.errored {
		b.complete = true
	}
}

func (b *StreamBuilder) add(p []byte) {
	if b.maxSize > 0 && b.size+len(p) > b.maxSize {
		b.fail(api.ErrMessageTooLarge)
		return
	}
	b.size += len(p)
	if b.dummy {
		return
	}
	if b.content == nil {
		// Capacity is capped so later appends never write into the caller's array.
		b.content = p[:len(p):len(p)]
		return
	}
	b.content = append(b.content, p...)
}

func (b *StreamBuilder) fail(err error) {
	b.errored = true
	b.complete = false
	b.content = nil
	if b.err == nil {
		b.err = err
	}
}

func (b *StreamBuilder) IsErrored() bool   { return b.errored }
func (b *StreamBuilder) IsOk() bool        { return !b.errored }
func (b *StreamBuilder) IsComplete() bool  { return b.complete }
func (b *StreamBuilder) IsEmpty() bool     { return b.empty }
func (b *StreamBuilder) Type() MessageType { return b.typ }
func (b *StreamBuilder) Size() int         { return b.size }
func (b *StreamBuilder) Err() error        { return b.err }

// Build returns the reassembled message. Before completion it returns the
// empty sentinel and an error.
func (b *StreamBuilder) Build() (Message, error) {
	if b.errored {
		return Message{}, b.err
	}
	if !b.complete {
		return Message{}, ErrIncompleteMessage
	}
	return NewMessage(b.typ, b.content, RoleComplete), nil
}
