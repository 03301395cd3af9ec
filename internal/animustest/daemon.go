package animustest

import (
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/cajal/brainstorm/internal/protocol"
)

// Daemon serves a fake animus on a loopback UDP socket, answering every
// command on the socket it arrived from.
type Daemon struct {
	conn *net.UDPConn

	mu sync.Mutex
	a  *Animus
}

// Serve starts a daemon for a and stops it when the test ends.
func Serve(t testing.TB, a *Animus) *Daemon {
	t.Helper()

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("fake animus %q: listen: %v", a.Name, err)
	}
	d := &Daemon{conn: conn, a: a}

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.loop()
	}()
	t.Cleanup(func() {
		conn.Close()
		<-done
	})
	return d
}

// Addr is the address the daemon listens on.
func (d *Daemon) Addr() *net.UDPAddr {
	return d.conn.LocalAddr().(*net.UDPAddr)
}

// Do runs fn with exclusive access to the daemon's animus state.
func (d *Daemon) Do(fn func(a *Animus)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(d.a)
}

func (d *Daemon) loop() {
	buf := make([]byte, protocol.MaxDatagram)
	for {
		n, from, err := d.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}
		cmd, err := protocol.DecodeCommand(buf[:n])
		if err != nil {
			continue
		}

		d.mu.Lock()
		outcome, answer := d.a.Respond(cmd)
		d.mu.Unlock()
		if !answer {
			continue
		}

		report := &protocol.Report{Seq: cmd.Seq, Name: cmd.Name, Action: cmd.Action, Outcome: outcome}
		data, err := report.Encode()
		if err != nil {
			continue
		}
		d.conn.WriteToUDP(data, from)
	}
}
