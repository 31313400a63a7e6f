// File: protocol/message.go
// Package protocol
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Application-level message values and opcode classification.

package protocol

// MessageType is the semantic kind of a message.
type MessageType uint8

const (
	// MessageEmpty marks "no message": an unclassified or invalid opcode.
	MessageEmpty MessageType = iota
	MessageText
	MessageBinary
	MessagePing
	MessagePong
	MessageClose
)

func (t MessageType) String() string {
	switch t {
	case MessageText:
		return "text"
	case MessageBinary:
		return "binary"
	case MessagePing:
		return "ping"
	case MessagePong:
		return "pong"
	case MessageClose:
		return "close"
	default:
		return "empty"
	}
}

// Opcode returns the wire opcode used to send a message of this type.
// ok is false for MessageEmpty.
func (t MessageType) Opcode() (op Opcode, ok bool) {
	switch t {
	case MessageText:
		return OpcodeText, true
	case MessageBinary:
		return OpcodeBinary, true
	case MessagePing:
		return OpcodePing, true
	case MessagePong:
		return OpcodePong, true
	case MessageClose:
		return OpcodeClose, true
	}
	return 0, false
}

// Classify maps an opcode to its message type. Continuation and reserved
// opcodes yield MessageEmpty.
func Classify(op Opcode) MessageType {
	switch op {
	case OpcodeText:
		return MessageText
	case OpcodeBinary:
		return MessageBinary
	case OpcodePing:
		return MessagePing
	case OpcodePong:
		return MessagePong
	case OpcodeClose:
		return MessageClose
	default:
		return MessageEmpty
	}
}

// Message is an immutable application message. The zero value is the
// empty sentinel. A Message built straight from a frame may be partial;
// messages returned by WSConnection.ReadMessage are always RoleComplete.
//
// Payload returns the backing slice; callers must not modify it.
type Message struct {
	typ     MessageType
	length  int
	payload []byte
	role    Role
}

// NewMessage constructs a message around payload without copying it.
func NewMessage(t MessageType, payload []byte, role Role) Message {
	return Message{
		typ:     t,
		length:  len(payload),
		payload: payload,
		role:    role,
	}
}

// FromFrame promotes a single frame to a message. A non-empty override
// wins over the frame opcode.
func FromFrame(f Frame, override MessageType) Message {
	t := override
	if t == MessageEmpty {
		t = Classify(f.opcode)
	}
	return NewMessage(t, f.payload, f.role)
}

func (m Message) Type() MessageType { return m.typ }
func (m Message) Len() int          { return m.length }
func (m Message) Payload() []byte   { return m.payload }
func (m Message) Data() string      { return string(m.payload) }
func (m Message) Role() Role        { return m.role }

func (m Message) IsEmpty() bool  { return m.typ == MessageEmpty }
func (m Message) IsText() bool   { return m.typ == MessageText }
func (m Message) IsBinary() bool { return m.typ == MessageBinary }
func (m Message) IsPing() bool   { return m.typ == MessagePing }
func (m Message) IsPong() bool   { return m.typ == MessagePong }
func (m Message) IsClose() bool  { return m.typ == MessageClose }

func (m Message) IsComplete() bool     { return m.role == RoleComplete }
func (m Message) IsPartial() bool      { return m.role != RoleComplete }
func (m Message) IsFirst() bool        { return m.role == RoleFirst }
func (m Message) IsContinuation() bool { return m.role == RoleContinuation }
func (m Message) IsLast() bool         { return m.role == RoleLast }

// CloseStatus decodes the status code and reason of a Close message.
// A close message without a body reports CloseNoStatusRcvd.
func (m Message) CloseStatus() (code int, reason string) {
	if len(m.payload) < 2 {
		return CloseNoStatusRcvd, ""
	}
	return int(m.payload[0])<<8 | int(m.payload[1]), string(m.payload[2:])
}

// ClosePayload encodes a Close frame body.
func ClosePayload(code int, reason string) []byte {
	if code == CloseNoStatusRcvd {
		return nil
	}
	b := make([]byte, 2, 2+len(reason))
	b[0] = byte(code >> 8)
	b[1] = byte(code)
	return append(b, reason...)
}
