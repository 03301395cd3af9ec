// Package transport carries encoded commands to animus daemons over a single
// UDP socket that brainstorm binds once at startup.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"
)

// ErrTimeout is returned by Receive when the context deadline passes before
// a datagram arrives.
var ErrTimeout = errors.New("receive timed out")

// Resolver maps an animus name to the address its daemon listens on.
type Resolver interface {
	Resolve(name string) (*net.UDPAddr, error)
}

// StaticResolver resolves names from a fixed table.
type StaticResolver map[string]*net.UDPAddr

// Resolve implements Resolver.
func (s StaticResolver) Resolve(name string) (*net.UDPAddr, error) {
	addr, ok := s[name]
	if !ok {
		return nil, fmt.Errorf("no address known for animus %q", name)
	}
	return addr, nil
}

// UDP is a connectionless command channel. It is not safe for concurrent
// receives; callers serialize exchanges.
type UDP struct {
	conn     *net.UDPConn
	resolver Resolver
}

// Listen binds the command socket on addr (e.g. "127.0.0.1:4048").
func Listen(addr string, resolver Resolver) (*UDP, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolving listen address %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("binding command socket %s: %w", addr, err)
	}
	return &UDP{conn: conn, resolver: resolver}, nil
}

// LocalAddr returns the bound address.
func (u *UDP) LocalAddr() net.Addr {
	return u.conn.LocalAddr()
}

// Send resolves the animus name and writes b as one datagram. Delivery is
// not acknowledged.
func (u *UDP) Send(ctx context.Context, name string, b []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	addr, err := u.resolver.Resolve(name)
	if err != nil {
		return err
	}

	deadline, _ := ctx.Deadline()
	if err := u.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("setting write deadline: %w", err)
	}
	if _, err := u.conn.WriteToUDP(b, addr); err != nil {
		return fmt.Errorf("writing to %s: %w", addr, err)
	}
	return nil
}

// Receive blocks for the next datagram from any source. The context
// deadline, if any, bounds the wait; expiry yields ErrTimeout.
func (u *UDP) Receive(ctx context.Context, buf []byte) (int, net.Addr, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}

	var deadline time.Time
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	if err := u.conn.SetReadDeadline(deadline); err != nil {
		return 0, nil, fmt.Errorf("setting read deadline: %w", err)
	}

	n, from, err := u.conn.ReadFromUDP(buf)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return 0, nil, ErrTimeout
		}
		return 0, nil, fmt.Errorf("reading command socket: %w", err)
	}
	return n, from, nil
}

// Close releases the socket.
func (u *UDP) Close() error {
	return u.conn.Close()
}
