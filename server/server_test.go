package server_test

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/momentics/hioload-wsmsg/api"
	"github.com/momentics/hioload-wsmsg/client"
	"github.com/momentics/hioload-wsmsg/internal/logging"
	"github.com/momentics/hioload-wsmsg/protocol"
	"github.com/momentics/hioload-wsmsg/server"
)

func TestMain(m *testing.M) {
	logging.ConfigureTests()
	os.Exit(m.Run())
}

func listen(t *testing.T, cfg *server.Config) *server.Server {
	t.Helper()
	cfg.Host = "127.0.0.1"
	s := server.New(cfg)
	if err := s.Listen(0); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func dial(t *testing.T, s *server.Server) *protocol.WSConnection {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := client.Dial(ctx, "ws://"+s.Addr().String()+"/", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func accept(t *testing.T, s *server.Server) *protocol.WSConnection {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := s.Accept(ctx)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestFragmentedMessageOnPort9000(t *testing.T) {
	s := server.New(nil)
	if err := s.Listen(9000); err != nil {
		t.Skipf("port 9000 unavailable: %v", err)
	}
	defer s.Close()
	if !s.Available() {
		t.Fatal("not available after Listen")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cli, err := client.Dial(ctx, "ws://127.0.0.1:9000/", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer cli.Close()
	for _, f := range []protocol.Frame{
		protocol.NewFrame(protocol.OpcodeText, false, []byte("He")),
		protocol.NewFrame(protocol.OpcodeContinuation, false, []byte("llo ")),
		protocol.NewFrame(protocol.OpcodeContinuation, true, []byte("World")),
	} {
		if err := cli.SendFrame(f); err != nil {
			t.Fatalf("SendFrame: %v", err)
		}
	}

	conn, err := s.Accept(ctx)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	defer conn.Close()
	msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if !msg.IsText() || msg.Data() != "Hello World" || msg.Role() != protocol.RoleComplete {
		t.Fatalf("got %v %q %v", msg.Type(), msg.Data(), msg.Role())
	}
}

func TestEchoBothWays(t *testing.T) {
	s := listen(t, server.DefaultConfig())
	cli := dial(t, s)
	conn := accept(t, s)

	if err := cli.SendFragmented(protocol.NewMessage(protocol.MessageBinary, []byte("0123456789"), protocol.RoleComplete), 3); err != nil {
		t.Fatal(err)
	}
	msg, err := conn.ReadMessage()
	if err != nil || !msg.IsBinary() || msg.Data() != "0123456789" {
		t.Fatalf("server got %v %q %v", msg.Type(), msg.Data(), err)
	}
	if err := conn.SendText("back"); err != nil {
		t.Fatal(err)
	}
	msg, err = cli.ReadMessage()
	if err != nil || msg.Data() != "back" {
		t.Fatalf("client got %q %v", msg.Data(), err)
	}
}

func TestPollReflectsPendingConnections(t *testing.T) {
	s := listen(t, server.DefaultConfig())
	if s.Poll() {
		t.Fatal("Poll true with nothing queued")
	}
	dial(t, s)
	eventually(t, "pending connection", s.Poll)
	accept(t, s)
	if s.Poll() {
		t.Fatal("Poll true after the only connection was accepted")
	}
	if got := s.Metrics()[server.MetricHandedOut]; got != int64(1) {
		t.Fatalf("handed out = %v", got)
	}
}

func TestRelistenDropsPending(t *testing.T) {
	s := listen(t, server.DefaultConfig())
	cli := dial(t, s)
	eventually(t, "pending connection", s.Poll)

	if err := s.Listen(0); err != nil {
		t.Fatalf("re-Listen: %v", err)
	}
	if s.Poll() {
		t.Fatal("pending connection survived re-Listen")
	}
	if !s.Available() {
		t.Fatal("not available after re-Listen")
	}
	cli.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := cli.ReadMessage(); !errors.Is(err, api.ErrConnectionClosed) {
		t.Fatalf("dropped client read: %v", err)
	}

	// the new listener works
	dial(t, s)
	accept(t, s)
}

func TestPendingOverflowRejected(t *testing.T) {
	cfg := server.DefaultConfig()
	cfg.MaxPending = 1
	s := listen(t, cfg)
	dial(t, s)
	dial(t, s)
	eventually(t, "rejection", func() bool {
		return s.Metrics()[server.MetricRejected] == int64(1)
	})
	accept(t, s)
	if s.Poll() {
		t.Fatal("rejected connection was queued")
	}
}

func TestHandshakeFailureCounted(t *testing.T) {
	s := listen(t, server.DefaultConfig())
	raw, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer raw.Close()
	fmt.Fprintf(raw, "GET / HTTP/1.1\r\nHost: x\r\n\r\n")
	status, err := bufio.NewReader(raw).ReadString('\n')
	if err != nil || !strings.Contains(status, "400") {
		t.Fatalf("status %q %v", status, err)
	}
	eventually(t, "handshake failure metric", func() bool {
		return s.Metrics()[server.MetricHandshakeFailed] == int64(1)
	})
	if s.Poll() {
		t.Fatal("failed handshake queued")
	}
}

func TestNoHandshakeRawFrames(t *testing.T) {
	cfg := server.DefaultConfig()
	cfg.Handshake = false
	s := listen(t, cfg)
	raw, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer raw.Close()
	if err := protocol.WriteFrame(raw, protocol.NewFrame(protocol.OpcodeText, true, []byte("bare")), true); err != nil {
		t.Fatal(err)
	}
	conn := accept(t, s)
	msg, err := conn.ReadMessage()
	if err != nil || msg.Data() != "bare" {
		t.Fatalf("got %q %v", msg.Data(), err)
	}
}

func TestAcceptStates(t *testing.T) {
	s := server.New(nil)
	if s.Available() || s.Addr() != nil {
		t.Fatal("unbound server reports available")
	}
	if _, err := s.Accept(context.Background()); !errors.Is(err, api.ErrNotListening) {
		t.Fatalf("Accept unbound: %v", err)
	}
	if err := s.Listen(-1); !errors.Is(err, api.ErrInvalidArgument) {
		t.Fatalf("Listen(-1): %v", err)
	}

	s = listen(t, server.DefaultConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := s.Accept(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Accept timeout: %v", err)
	}

	errc := make(chan error, 1)
	go func() {
		_, err := s.Accept(context.Background())
		errc <- err
	}()
	time.Sleep(10 * time.Millisecond)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := <-errc; !errors.Is(err, api.ErrListenerClosed) {
		t.Fatalf("blocked Accept: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if s.Available() {
		t.Fatal("available after Close")
	}
	if err := s.Listen(0); !errors.Is(err, api.ErrListenerClosed) {
		t.Fatalf("Listen after Close: %v", err)
	}
}

func TestDumpState(t *testing.T) {
	s := listen(t, server.DefaultConfig())
	state := s.DumpState()
	if state["server.listening"] != true || state["server.pending"] != 0 {
		t.Fatalf("state %v", state)
	}
	if state["server.addr"] != s.Addr().String() {
		t.Fatalf("addr probe %v", state["server.addr"])
	}
}

func TestInteropWithCoderWebsocket(t *testing.T) {
	s := listen(t, server.DefaultConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	peer, _, err := websocket.Dial(ctx, "ws://"+s.Addr().String()+"/interop", nil)
	if err != nil {
		t.Fatalf("coder dial: %v", err)
	}
	defer peer.CloseNow()

	if err := peer.Write(ctx, websocket.MessageText, []byte("from coder")); err != nil {
		t.Fatal(err)
	}
	conn := accept(t, s)
	msg, err := conn.ReadMessage()
	if err != nil || !msg.IsText() || msg.Data() != "from coder" {
		t.Fatalf("server got %v %q %v", msg.Type(), msg.Data(), err)
	}

	if err := conn.SendFragmented(protocol.NewMessage(protocol.MessageBinary, []byte("fragmented reply"), protocol.RoleComplete), 4); err != nil {
		t.Fatal(err)
	}
	typ, data, err := peer.Read(ctx)
	if err != nil || typ != websocket.MessageBinary || string(data) != "fragmented reply" {
		t.Fatalf("coder got %v %q %v", typ, data, err)
	}
}

func TestConcurrentListenSamePort(t *testing.T) {
	probe, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := probe.Addr().(*net.TCPAddr).Port
	probe.Close()

	cfg := server.DefaultConfig()
	cfg.Host = "127.0.0.1"
	s := server.New(cfg)

	// binds are serialized: each one releases the previous listener first
	errc := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() { errc <- s.Listen(port) }()
	}
	for i := 0; i < 8; i++ {
		if err := <-errc; err != nil {
			t.Fatalf("concurrent Listen: %v", err)
		}
	}
	if got := s.Metrics()[server.MetricBinds]; got != int64(8) {
		t.Fatalf("binds = %v", got)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", fmt.Sprint(port)))
	if err != nil {
		t.Fatalf("port still held after Close: %v", err)
	}
	ln.Close()
}

func TestCloseAbortsStalledHandshake(t *testing.T) {
	cfg := server.DefaultConfig()
	cfg.HandshakeTimeout = 0
	s := listen(t, cfg)

	raw, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer raw.Close()
	eventually(t, "accepted connection", func() bool {
		return s.Metrics()[server.MetricAccepted] == int64(1)
	})

	closed := make(chan error, 1)
	go func() { closed <- s.Close() }()
	select {
	case err := <-closed:
		if err != nil {
			t.Fatalf("Close: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Close blocked on a silent peer")
	}

	// the server side of the silent connection is gone
	raw.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := raw.Read(make([]byte, 1)); err == nil {
		t.Fatal("stalled handshake connection still open")
	} else if ne, ok := err.(net.Error); ok && ne.Timeout() {
		t.Fatal("stalled handshake connection still open after Close")
	}
	if got := s.Metrics()[server.MetricHandshakeFailed]; got != nil {
		t.Fatalf("aborted handshake counted as failure: %v", got)
	}
}

func TestRelistenAbortsStalledHandshake(t *testing.T) {
	cfg := server.DefaultConfig()
	cfg.HandshakeTimeout = 0
	s := listen(t, cfg)

	raw, err := net.Dial("tcp", s.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer raw.Close()
	eventually(t, "accepted connection", func() bool {
		return s.Metrics()[server.MetricAccepted] == int64(1)
	})
	if err := s.Listen(0); err != nil {
		t.Fatal(err)
	}
	raw.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := raw.Read(make([]byte, 1)); err == nil {
		t.Fatal("stalled handshake survived re-Listen")
	} else if ne, ok := err.(net.Error); ok && ne.Timeout() {
		t.Fatal("stalled handshake survived re-Listen")
	}
}
