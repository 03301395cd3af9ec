// Package animustest provides in-memory and loopback fakes of animus daemons
// for exercising the dispatcher, the group operations and the REPL.
package animustest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"sync"

	"github.com/cajal/brainstorm/internal/protocol"
	"github.com/cajal/brainstorm/internal/transport"
)

// Handler overrides the default answer to one action. Returning false keeps
// the animus silent.
type Handler func(cmd *protocol.Command) (protocol.Outcome, bool)

// Animus is a scripted daemon. The zero value is an inactive animus that
// never answers.
type Animus struct {
	Name       string
	Active     bool
	Awake      bool
	Version    string
	Inputs     []protocol.ReceiverInfo
	Outputs    []string
	Structures []string

	// Override replaces the default behaviour for individual actions.
	Override map[protocol.ActionType]Handler
	// SendErr, when set, fails every send addressed to this animus.
	SendErr error

	// Links records every LinkOutput the animus accepted.
	Links []protocol.ReceiverInfo
	// Received records every command delivered to the animus.
	Received []protocol.Action
}

// Respond applies cmd to the animus and returns the outcome it would report.
func (a *Animus) Respond(cmd *protocol.Command) (protocol.Outcome, bool) {
	a.Received = append(a.Received, cmd.Action)

	if h, ok := a.Override[cmd.Action.Type]; ok {
		return h(cmd)
	}
	if !a.Active {
		return protocol.Outcome{}, false
	}

	switch cmd.Action.Type {
	case protocol.ActionQuery, protocol.ActionSave, protocol.ActionUncheckedLink:
		return protocol.Success(), true
	case protocol.ActionWake:
		a.Awake = true
		return protocol.Success(), true
	case protocol.ActionSleep:
		a.Awake = false
		return protocol.Success(), true
	case protocol.ActionTerminate:
		a.Active = false
		return protocol.Success(), true
	case protocol.ActionStatus:
		return mustReturn(a.Awake), true
	case protocol.ActionName:
		return mustReturn(a.Name), true
	case protocol.ActionVersion:
		return mustReturn(a.Version), true
	case protocol.ActionReportInputs:
		return mustReturn(orEmpty(a.Inputs)), true
	case protocol.ActionListInputs:
		names := make([]string, 0, len(a.Inputs))
		for _, in := range a.Inputs {
			names = append(names, in.TractName)
		}
		return mustReturn(names), true
	case protocol.ActionListOutputs:
		return mustReturn(orEmpty(a.Outputs)), true
	case protocol.ActionListStructures:
		return mustReturn(orEmpty(a.Structures)), true
	case protocol.ActionLinkOutput:
		info := *cmd.Action.Receiver
		if !slices.Contains(a.Outputs, info.TractName) {
			return protocol.Failure(fmt.Sprintf("no output tract '%s'", info.TractName)), true
		}
		a.Links = append(a.Links, info)
		return protocol.Success(), true
	}
	return protocol.Failure("unsupported action"), true
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func mustReturn(v any) protocol.Outcome {
	o, err := protocol.Return(v)
	if err != nil {
		panic(err)
	}
	return o
}

// Silent is a Handler that never answers.
func Silent(*protocol.Command) (protocol.Outcome, bool) { return protocol.Outcome{}, false }

// Reply returns a Handler that always answers with o.
func Reply(o protocol.Outcome) Handler {
	return func(*protocol.Command) (protocol.Outcome, bool) { return o, true }
}

// RawReturn returns a Handler answering with a Return outcome whose payload
// is the given JSON text, well formed or not.
func RawReturn(data string) Handler {
	return Reply(protocol.Outcome{Type: protocol.OutcomeReturn, Data: []byte(data)})
}

// Network is an in-memory Transport. Replies are queued in send order and
// Receive returns transport.ErrTimeout as soon as the queue is empty.
type Network struct {
	mu    sync.Mutex
	animi map[string]*Animus
	queue [][]byte
	sent  []*protocol.Command
}

// NewNetwork returns a network hosting the given animi.
func NewNetwork(animi ...*Animus) *Network {
	n := &Network{animi: make(map[string]*Animus)}
	for _, a := range animi {
		n.animi[a.Name] = a
	}
	return n
}

// Animus returns the fake registered under name, or nil.
func (n *Network) Animus(name string) *Animus {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.animi[name]
}

// Send decodes b and lets the addressed animus answer it.
func (n *Network) Send(ctx context.Context, name string, b []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cmd, err := protocol.DecodeCommand(b)
	if err != nil {
		return fmt.Errorf("fake network got undecodable command: %w", err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	a, ok := n.animi[name]
	if ok && a.SendErr != nil {
		return a.SendErr
	}
	n.sent = append(n.sent, cmd)
	if !ok {
		return nil
	}

	outcome, answer := a.Respond(cmd)
	if !answer {
		return nil
	}
	report := &protocol.Report{Seq: cmd.Seq, Name: cmd.Name, Action: cmd.Action, Outcome: outcome}
	data, err := report.Encode()
	if err != nil {
		return fmt.Errorf("fake animus %q: %w", name, err)
	}
	n.queue = append(n.queue, data)
	return nil
}

// Receive pops the oldest queued datagram.
func (n *Network) Receive(ctx context.Context, buf []byte) (int, net.Addr, error) {
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return 0, nil, transport.ErrTimeout
		}
		return 0, nil, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.queue) == 0 {
		return 0, nil, transport.ErrTimeout
	}
	data := n.queue[0]
	n.queue = n.queue[1:]
	return copy(buf, data), &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4049}, nil
}

// Inject queues a raw datagram ahead of any later replies.
func (n *Network) Inject(datagram []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.queue = append(n.queue, datagram)
}

// InjectReport encodes and queues r.
func (n *Network) InjectReport(r *protocol.Report) error {
	data, err := r.Encode()
	if err != nil {
		return err
	}
	n.Inject(data)
	return nil
}

// Sent returns every command that was delivered, in order.
func (n *Network) Sent() []*protocol.Command {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.sent)
}

// SentTo returns the action types delivered to name, in order.
func (n *Network) SentTo(name string) []protocol.ActionType {
	n.mu.Lock()
	defer n.mu.Unlock()
	var types []protocol.ActionType
	for _, c := range n.sent {
		if c.Name == name {
			types = append(types, c.Action.Type)
		}
	}
	return types
}
