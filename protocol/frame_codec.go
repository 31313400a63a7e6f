// File: protocol/frame_codec.go
// Package protocol implements the frame codec with frame size enforcement.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Implements WebSocket frame encoding/decoding with payload size limits
// to prevent resource exhaustion in high-load scenarios.

package protocol

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"io"
)

// MaxFramePayload defines the default maximum payload size for a single frame.
const MaxFramePayload = 1 << 20 // 1 MiB

var (
	ErrReservedBits      = errors.New("protocol: reserved header bits set")
	ErrFragmentedControl = errors.New("protocol: fragmented control frame")
	ErrControlTooLarge   = errors.New("protocol: control frame payload exceeds 125 bytes")
	ErrFrameTooLarge     = errors.New("protocol: frame payload exceeds maximum allowed size")
	ErrShortFrame        = errors.New("protocol: truncated frame")
)

// Limits constrains frame decode memory use.
type Limits struct {
	MaxFramePayload int64
}

// DefaultLimits returns the codec defaults.
func DefaultLimits() Limits {
	return Limits{MaxFramePayload: MaxFramePayload}
}

// ReadFrame parses one frame header and payload from r and unmasks the
// payload when the mask bit is set.
func ReadFrame(r io.Reader, lim Limits) (Frame, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, ErrShortFrame
		}
		return Frame{}, err
	}

	if hdr[0]&RsvBits != 0 {
		return Frame{}, ErrReservedBits
	}
	final := hdr[0]&FinBit != 0
	opcode := Opcode(hdr[0] & OpBits)
	masked := hdr[1]&MaskBit != 0
	length := int64(hdr[1] & 0x7F)

	if opcode.IsControl() {
		if !final {
			return Frame{}, ErrFragmentedControl
		}
		if length > MaxControlPayloadLen {
			return Frame{}, ErrControlTooLarge
		}
	}

	switch length {
	case 126:
		var ext [2]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return Frame{}, shortRead(err)
		}
		length = int64(binary.BigEndian.Uint16(ext[:]))
	case 127:
		var ext [8]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return Frame{}, shortRead(err)
		}
		u := binary.BigEndian.Uint64(ext[:])
		if u>>63 != 0 {
			return Frame{}, ErrFrameTooLarge
		}
		length = int64(u)
	}

	limit := lim.MaxFramePayload
	if limit <= 0 {
		limit = MaxFramePayload
	}
	if length > limit {
		return Frame{}, ErrFrameTooLarge
	}

	var maskKey [4]byte
	if masked {
		if _, err := io.ReadFull(r, maskKey[:]); err != nil {
			return Frame{}, shortRead(err)
		}
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, shortRead(err)
	}
	if masked {
		maskBytes(maskKey, payload)
	}

	return NewFrame(opcode, final, payload), nil
}

// WriteFrame serializes f to w. Client endpoints pass mask=true and get a
// fresh random masking key per frame.
func WriteFrame(w io.Writer, f Frame, mask bool) error {
	var key *[4]byte
	if mask {
		var k [4]byte
		if _, err := rand.Read(k[:]); err != nil {
			return err
		}
		key = &k
	}
	buf := AppendFrame(make([]byte, 0, MaxFrameHeaderLen+len(f.payload)), f, key)
	_, err := w.Write(buf)
	return err
}

// AppendFrame appends the wire form of f to dst. A nil maskKey produces an
// unmasked frame. The frame payload itself is never modified.
func AppendFrame(dst []byte, f Frame, maskKey *[4]byte) []byte {
	b0 := byte(f.opcode & OpBits)
	if f.final {
		b0 |= FinBit
	}
	var maskBit byte
	if maskKey != nil {
		maskBit = MaskBit
	}

	plen := len(f.payload)
	switch {
	case plen <= 125:
		dst = append(dst, b0, byte(plen)|maskBit)
	case plen <= 0xFFFF:
		dst = append(dst, b0, 126|maskBit)
		dst = binary.BigEndian.AppendUint16(dst, uint16(plen))
	default:
		dst = append(dst, b0, 127|maskBit)
		dst = binary.BigEndian.AppendUint64(dst, uint64(plen))
	}

	if maskKey == nil {
		return append(dst, f.payload...)
	}
	dst = append(dst, maskKey[:]...)
	start := len(dst)
	dst = append(dst, f.payload...)
	maskBytes(*maskKey, dst[start:])
	return dst
}

// maskBytes applies XOR on buf using key; masking and unmasking are the same operation.
func maskBytes(key [4]byte, buf []byte) {
	for i := range buf {
		buf[i] ^= key[i&3]
	}
}

func shortRead(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrShortFrame
	}
	return err
}
