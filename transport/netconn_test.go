package transport_test

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/momentics/hioload-wsmsg/transport"
	"github.com/momentics/hioload-wsmsg/transport/tcp"
)

func loopback(t *testing.T) (*transport.NetConn, net.Conn) {
	t.Helper()
	ln, err := tcp.Listen(context.Background(), tcp.ListenerConfig{Addr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- c
	}()

	nc, err := transport.Dial(context.Background(), ln.Addr().String(), false)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	peer, ok := <-accepted
	if !ok {
		t.Fatal("accept failed")
	}
	t.Cleanup(func() {
		nc.Close()
		peer.Close()
	})
	return nc, peer
}

func TestNetConnReadWrite(t *testing.T) {
	nc, peer := loopback(t)
	if _, err := peer.Write([]byte("ping")); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 4)
	if _, err := io.ReadFull(nc, buf); err != nil || string(buf) != "ping" {
		t.Fatalf("read %q %v", buf, err)
	}
	if _, err := nc.Write([]byte("pong")); err != nil {
		t.Fatal(err)
	}
	if _, err := io.ReadFull(peer, buf); err != nil || string(buf) != "pong" {
		t.Fatalf("peer read %q %v", buf, err)
	}
	if nc.RemoteAddr().String() != peer.LocalAddr().String() {
		t.Fatalf("remote %v, peer local %v", nc.RemoteAddr(), peer.LocalAddr())
	}
}

func TestNetConnReadableBuffered(t *testing.T) {
	nc, peer := loopback(t)
	if nc.Readable() {
		t.Fatal("readable before any input")
	}
	if _, err := peer.Write([]byte("ab")); err != nil {
		t.Fatal(err)
	}
	// pull both bytes into the buffer, consume one
	nc.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := nc.Reader().Peek(2); err != nil {
		t.Fatalf("peek: %v", err)
	}
	if _, err := nc.Reader().ReadByte(); err != nil {
		t.Fatal(err)
	}
	if !nc.Readable() {
		t.Fatal("buffered byte not reported")
	}
}

func TestDialRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()
	if _, err := transport.Dial(context.Background(), addr, false); err == nil {
		t.Fatal("dial to a closed port succeeded")
	}
}

func TestDialCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := transport.Dial(ctx, "127.0.0.1:1", true); err == nil {
		t.Fatal("dial with cancelled context succeeded")
	}
}
