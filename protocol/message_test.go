package protocol_test

import (
	"bytes"
	"testing"

	"github.com/momentics/hioload-wsmsg/protocol"
)

func TestClassifyIsTotal(t *testing.T) {
	want := map[protocol.Opcode]protocol.MessageType{
		protocol.OpcodeText:   protocol.MessageText,
		protocol.OpcodeBinary: protocol.MessageBinary,
		protocol.OpcodePing:   protocol.MessagePing,
		protocol.OpcodePong:   protocol.MessagePong,
		protocol.OpcodeClose:  protocol.MessageClose,
	}
	for op := protocol.Opcode(0); op <= 0x0F; op++ {
		got := protocol.Classify(op)
		exp, known := want[op]
		if !known {
			exp = protocol.MessageEmpty
		}
		if got != exp {
			t.Fatalf("Classify(%#x) = %v, want %v", byte(op), got, exp)
		}
		if again := protocol.Classify(op); again != got {
			t.Fatalf("Classify(%#x) not deterministic", byte(op))
		}
	}
}

func TestMessageTypeOpcodeRoundTrip(t *testing.T) {
	for _, mt := range []protocol.MessageType{
		protocol.MessageText, protocol.MessageBinary, protocol.MessagePing,
		protocol.MessagePong, protocol.MessageClose,
	} {
		op, ok := mt.Opcode()
		if !ok || protocol.Classify(op) != mt {
			t.Fatalf("%v does not round-trip through its opcode", mt)
		}
	}
	if _, ok := protocol.MessageEmpty.Opcode(); ok {
		t.Fatal("empty type must not map to an opcode")
	}
}

func TestFrameRoles(t *testing.T) {
	cases := []struct {
		op    protocol.Opcode
		final bool
		role  protocol.Role
	}{
		{protocol.OpcodeText, true, protocol.RoleComplete},
		{protocol.OpcodePing, true, protocol.RoleComplete},
		{protocol.OpcodeBinary, false, protocol.RoleFirst},
		{protocol.OpcodeContinuation, false, protocol.RoleContinuation},
		{protocol.OpcodeContinuation, true, protocol.RoleLast},
	}
	for _, tc := range cases {
		f := protocol.NewFrame(tc.op, tc.final, nil)
		if f.Role() != tc.role {
			t.Fatalf("NewFrame(%v, %v).Role() = %v, want %v", tc.op, tc.final, f.Role(), tc.role)
		}
		n := 0
		for _, p := range []bool{f.IsUnfragmented(), f.IsBeginningOfFragments(), f.IsContinuesFragment(), f.IsEndOfFragments()} {
			if p {
				n++
			}
		}
		if n != 1 {
			t.Fatalf("frame %v/%v satisfies %d role predicates", tc.op, tc.final, n)
		}
	}
}

func TestFromFrameUnfragmented(t *testing.T) {
	payload := []byte("payload bytes")
	f := protocol.NewFrame(protocol.OpcodeBinary, true, payload)
	msg := protocol.FromFrame(f, protocol.MessageEmpty)

	if !msg.IsBinary() || !msg.IsComplete() {
		t.Fatalf("got type=%v role=%v", msg.Type(), msg.Role())
	}
	if !bytes.Equal(msg.Payload(), payload) || msg.Len() != len(payload) {
		t.Fatalf("payload mismatch: %q len=%d", msg.Payload(), msg.Len())
	}
	if &msg.Payload()[0] != &payload[0] {
		t.Fatal("payload was copied instead of moved")
	}
}

func TestFromFrameOverrideAndRoles(t *testing.T) {
	f := protocol.NewFrame(protocol.OpcodeBinary, true, []byte("x"))
	if got := protocol.FromFrame(f, protocol.MessageText); !got.IsText() {
		t.Fatalf("override ignored: %v", got.Type())
	}

	first := protocol.FromFrame(protocol.NewFrame(protocol.OpcodeText, false, []byte("a")), protocol.MessageEmpty)
	if !first.IsFirst() || !first.IsPartial() || !first.IsText() {
		t.Fatalf("first: type=%v role=%v", first.Type(), first.Role())
	}
	cont := protocol.FromFrame(protocol.NewFrame(protocol.OpcodeContinuation, false, nil), protocol.MessageEmpty)
	if !cont.IsContinuation() || !cont.IsEmpty() {
		t.Fatalf("continuation: type=%v role=%v", cont.Type(), cont.Role())
	}
	last := protocol.FromFrame(protocol.NewFrame(protocol.OpcodeContinuation, true, nil), protocol.MessageBinary)
	if !last.IsLast() || !last.IsBinary() {
		t.Fatalf("last: type=%v role=%v", last.Type(), last.Role())
	}
}

func TestZeroMessageIsEmptySentinel(t *testing.T) {
	var m protocol.Message
	if !m.IsEmpty() || m.Len() != 0 || m.Payload() != nil {
		t.Fatalf("zero message is not the empty sentinel: %+v", m)
	}
}

func TestCloseStatus(t *testing.T) {
	msg := protocol.NewMessage(protocol.MessageClose, protocol.ClosePayload(protocol.CloseGoingAway, "bye"), protocol.RoleComplete)
	code, reason := msg.CloseStatus()
	if code != protocol.CloseGoingAway || reason != "bye" {
		t.Fatalf("got %d %q", code, reason)
	}
	empty := protocol.NewMessage(protocol.MessageClose, nil, protocol.RoleComplete)
	if code, _ := empty.CloseStatus(); code != protocol.CloseNoStatusRcvd {
		t.Fatalf("bodyless close reported %d", code)
	}
}
