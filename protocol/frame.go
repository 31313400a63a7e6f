// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Frame record handed from the wire codec to the message layer.

package protocol

// Role is the position of a frame (or partial message) inside a
// fragmented sequence.
type Role uint8

const (
	RoleComplete Role = iota
	RoleFirst
	RoleContinuation
	RoleLast
)

func (r Role) String() string {
	switch r {
	case RoleFirst:
		return "first"
	case RoleContinuation:
		return "continuation"
	case RoleLast:
		return "last"
	default:
		return "complete"
	}
}

// roleOf derives the fragmentation role from the FIN bit and opcode.
func roleOf(op Opcode, final bool) Role {
	switch {
	case final && op != OpcodeContinuation:
		return RoleComplete
	case !final && op != OpcodeContinuation:
		return RoleFirst
	case !final:
		return RoleContinuation
	default:
		return RoleLast
	}
}

// Frame is one decoded wire frame. The role is computed once at
// construction; frames are not modified afterwards.
type Frame struct {
	opcode  Opcode
	final   bool
	payload []byte
	role    Role
}

// NewFrame builds a frame record. The payload slice is retained, not copied.
func NewFrame(op Opcode, final bool, payload []byte) Frame {
	return Frame{
		opcode:  op & OpBits,
		final:   final,
		payload: payload,
		role:    roleOf(op&OpBits, final),
	}
}

func (f Frame) Opcode() Opcode  { return f.opcode }
func (f Frame) Final() bool     { return f.final }
func (f Frame) Payload() []byte { return f.payload }
func (f Frame) Role() Role      { return f.role }

// IsUnfragmented reports a self-contained frame.
func (f Frame) IsUnfragmented() bool { return f.role == RoleComplete }

// IsBeginningOfFragments reports a frame opening a fragmented sequence.
func (f Frame) IsBeginningOfFragments() bool { return f.role == RoleFirst }

// IsContinuesFragment reports a middle piece of a fragmented sequence.
func (f Frame) IsContinuesFragment() bool { return f.role == RoleContinuation }

// IsEndOfFragments reports the frame closing a fragmented sequence.
func (f Frame) IsEndOfFragments() bool { return f.role == RoleLast }
