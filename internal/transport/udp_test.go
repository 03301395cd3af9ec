package transport

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

func listenPair(t *testing.T) (*UDP, *net.UDPConn) {
	t.Helper()

	peer, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("peer listen: %v", err)
	}
	t.Cleanup(func() { peer.Close() })

	u, err := Listen("127.0.0.1:0", StaticResolver{
		"cortex": peer.LocalAddr().(*net.UDPAddr),
	})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { u.Close() })
	return u, peer
}

func TestSendReceive(t *testing.T) {
	u, peer := listenPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := u.Send(ctx, "cortex", []byte("ping")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	buf := make([]byte, 64)
	peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, from, err := peer.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("peer read: %v", err)
	}
	if string(buf[:n]) != "ping" {
		t.Fatalf("peer got %q, want ping", buf[:n])
	}

	if _, err := peer.WriteToUDP([]byte("pong"), from); err != nil {
		t.Fatalf("peer write: %v", err)
	}

	n, src, err := u.Receive(ctx, buf)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if string(buf[:n]) != "pong" {
		t.Errorf("Receive got %q, want pong", buf[:n])
	}
	if src.String() != peer.LocalAddr().String() {
		t.Errorf("source = %s, want %s", src, peer.LocalAddr())
	}
}

func TestReceiveTimeout(t *testing.T) {
	u, _ := listenPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, _, err := u.Receive(ctx, make([]byte, 16))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if time.Since(start) > time.Second {
		t.Errorf("Receive blocked for %v", time.Since(start))
	}
}

func TestSendUnknownName(t *testing.T) {
	u, _ := listenPair(t)
	if err := u.Send(context.Background(), "ghost", []byte("x")); err == nil {
		t.Fatal("expected resolve error for unknown animus")
	}
}
