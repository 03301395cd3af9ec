// Package dispatch sends typed commands to named animi and reads back their
// reports. It is the only code that touches the command socket.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/cajal/brainstorm/internal/config"
	"github.com/cajal/brainstorm/internal/metrics"
	"github.com/cajal/brainstorm/internal/protocol"
	"github.com/cajal/brainstorm/internal/transport"
)

var (
	ErrEncode      = errors.New("encoding command failed")
	ErrTransport   = errors.New("transport failure")
	ErrDecode      = errors.New("decoding report failed")
	ErrNoResponse  = errors.New("no response")
	ErrInvalidName = errors.New("invalid animus name")
)

// SendError wraps a failure that happened before the command left the
// process, as opposed to a missing or unusable report.
type SendError struct {
	Animus string
	Action protocol.Action
	Err    error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("sending %s to %q: %v", e.Action, e.Animus, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// IsSendError reports whether err means the command was never sent.
func IsSendError(err error) bool {
	var se *SendError
	return errors.As(err, &se)
}

// Transport is the datagram channel the dispatcher drives. Receive must
// return an error matching transport.ErrTimeout when ctx's deadline passes.
type Transport interface {
	Send(ctx context.Context, name string, b []byte) error
	Receive(ctx context.Context, buf []byte) (int, net.Addr, error)
}

// Options configure a Dispatcher. Zero values select defaults.
type Options struct {
	// Deadline for each report read. Defaults to 5s.
	Timeout time.Duration
	Metrics metrics.Recorder
	// Destination for HandleCommand output. Defaults to io.Discard.
	Output io.Writer
	// Report format for HandleCommand: text, json or yaml.
	Format string
}

// pending is the one outstanding request whose report we are waiting for.
type pending struct {
	seq    uint32
	name   string
	action protocol.Action
	sentAt time.Time
}

// Dispatcher issues commands and correlates reports. Every command carries
// a sequence number; a report is accepted only if it echoes the sequence
// number and name of the latest command, so late answers to earlier
// commands are dropped instead of being mistaken for the current one.
// A mutex keeps at most one send+read exchange in flight.
type Dispatcher struct {
	tr      Transport
	timeout time.Duration
	rec     metrics.Recorder
	out     io.Writer
	format  string

	mu      sync.Mutex
	seq     uint32
	pending *pending
	buf     []byte
}

// New creates a dispatcher over tr.
func New(tr Transport, opts Options) *Dispatcher {
	d := &Dispatcher{
		tr:      tr,
		timeout: opts.Timeout,
		rec:     opts.Metrics,
		out:     opts.Output,
		format:  opts.Format,
		buf:     make([]byte, protocol.MaxDatagram),
	}
	if d.timeout <= 0 {
		d.timeout = time.Duration(config.DefaultResponseTimeoutMS) * time.Millisecond
	}
	if d.rec == nil {
		d.rec = metrics.Noop{}
	}
	if d.out == nil {
		d.out = io.Discard
	}
	if d.format == "" {
		d.format = config.OutputText
	}
	return d
}

// Output returns the writer operator-facing messages go to.
func (d *Dispatcher) Output() io.Writer { return d.out }

// SendCommand encodes action for the named animus and sends it without
// waiting for a report.
func (d *Dispatcher) SendCommand(ctx context.Context, name string, action protocol.Action) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.send(ctx, name, action)
}

// ReadReport blocks for the report answering the most recent command, up to
// the configured deadline. Expiry yields ErrNoResponse, or ErrDecode if an
// undecodable datagram was all that arrived.
func (d *Dispatcher) ReadReport(ctx context.Context) (*protocol.Report, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.read(ctx)
}

// Exchange sends one command and reads its report as a single step.
func (d *Dispatcher) Exchange(ctx context.Context, name string, action protocol.Action) (*protocol.Report, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.send(ctx, name, action); err != nil {
		return nil, err
	}
	return d.read(ctx)
}

func (d *Dispatcher) send(ctx context.Context, name string, action protocol.Action) error {
	d.seq++
	cmd := protocol.NewCommand(d.seq, name, action)

	b, err := cmd.Encode()
	if err != nil {
		d.rec.DispatchError("encode")
		return &SendError{Animus: name, Action: action, Err: fmt.Errorf("%w: %w", ErrEncode, err)}
	}
	if err := d.tr.Send(ctx, name, b); err != nil {
		d.rec.DispatchError("send")
		return &SendError{Animus: name, Action: action, Err: fmt.Errorf("%w: %w", ErrTransport, err)}
	}

	d.pending = &pending{seq: cmd.Seq, name: name, action: action, sentAt: time.Now()}
	d.rec.CommandSent(string(action.Type))
	slog.Debug("command sent", "animus", name, "action", action.String(), "seq", cmd.Seq)
	return nil
}

func (d *Dispatcher) read(ctx context.Context) (*protocol.Report, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	// An undecodable datagram may come from anywhere, so it does not end the
	// wait. It is reported only if nothing usable arrives before the deadline.
	var undecoded error
	for {
		n, from, err := d.tr.Receive(ctx, d.buf)
		if err != nil {
			if errors.Is(err, transport.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				if undecoded != nil {
					return nil, undecoded
				}
				d.rec.DispatchError("no_response")
				return nil, d.noResponse()
			}
			d.rec.DispatchError("receive")
			return nil, fmt.Errorf("%w: %w", ErrTransport, err)
		}

		report, err := protocol.DecodeReport(d.buf[:n])
		if err != nil {
			d.rec.DispatchError("decode")
			slog.Debug("discarding undecodable datagram", "from", from, "len", n, "err", err)
			undecoded = fmt.Errorf("%w: datagram from %v: %w", ErrDecode, from, err)
			continue
		}

		p := d.pending
		if p != nil && (report.Seq != p.seq || report.Name != p.name) {
			slog.Debug("discarding uncorrelated report",
				"from", from, "name", report.Name, "seq", report.Seq,
				"want_name", p.name, "want_seq", p.seq)
			continue
		}

		if p != nil {
			d.rec.ExchangeObserved(string(p.action.Type), time.Since(p.sentAt))
		}
		d.pending = nil
		d.rec.ReportReceived(string(report.Outcome.Type))
		return report, nil
	}
}

func (d *Dispatcher) noResponse() error {
	if p := d.pending; p != nil {
		return fmt.Errorf("%w from %q to %s within %s", ErrNoResponse, p.name, p.action, d.timeout)
	}
	return fmt.Errorf("%w within %s", ErrNoResponse, d.timeout)
}

// HandleCommand sends action, reads one report and prints it. Failures are
// printed as a command error (nothing sent) or a response error (sent, but
// no usable report) and also returned.
func (d *Dispatcher) HandleCommand(ctx context.Context, name string, action protocol.Action) error {
	if err := d.SendCommand(ctx, name, action); err != nil {
		CommandError(d.out, name, err)
		return err
	}
	report, err := d.ReadReport(ctx)
	if err != nil {
		ResponseError(d.out, name, action, err)
		return err
	}
	return PrintReport(d.out, report, d.format)
}

// IsActive reports whether the named animus answers a Query with Success.
// Silence is the normal state of an offline animus and yields false, nil.
func (d *Dispatcher) IsActive(ctx context.Context, name string) (bool, error) {
	if err := config.ValidateAnimusName(name); err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidName, err)
	}

	report, err := d.Exchange(ctx, name, protocol.NewAction(protocol.ActionQuery))
	if errors.Is(err, ErrNoResponse) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return protocol.ActionQuery.Completed(report.Outcome), nil
}

// IsAwake asks the named animus for its Status. Unlike IsActive, a missing
// or unreadable answer is an error: the caller has already established
// that the animus is running.
func (d *Dispatcher) IsAwake(ctx context.Context, name string) (bool, error) {
	report, err := d.Exchange(ctx, name, protocol.NewAction(protocol.ActionStatus))
	if err != nil {
		return false, err
	}
	awake, err := protocol.DecodeAwake(report.Outcome)
	if err != nil {
		return false, fmt.Errorf("status of %q: %w", name, err)
	}
	return awake, nil
}

// ReportInputs returns the receivers the named animus exposes.
func (d *Dispatcher) ReportInputs(ctx context.Context, name string) ([]protocol.ReceiverInfo, error) {
	return query(ctx, d, name, protocol.ActionReportInputs, protocol.DecodeReceivers)
}

// ListInputs returns the names of the animus's input tracts.
func (d *Dispatcher) ListInputs(ctx context.Context, name string) ([]string, error) {
	return query(ctx, d, name, protocol.ActionListInputs, protocol.DecodeNames)
}

// ListOutputs returns the names of the animus's output tracts.
func (d *Dispatcher) ListOutputs(ctx context.Context, name string) ([]string, error) {
	return query(ctx, d, name, protocol.ActionListOutputs, protocol.DecodeNames)
}

// ListStructures returns the names of the structures in the animus's complex.
func (d *Dispatcher) ListStructures(ctx context.Context, name string) ([]string, error) {
	return query(ctx, d, name, protocol.ActionListStructures, protocol.DecodeNames)
}

func query[T any](ctx context.Context, d *Dispatcher, name string, t protocol.ActionType, decode func(protocol.Outcome) (T, error)) (T, error) {
	var zero T
	report, err := d.Exchange(ctx, name, protocol.NewAction(t))
	if err != nil {
		return zero, err
	}
	v, err := decode(report.Outcome)
	if err != nil {
		return zero, fmt.Errorf("%s from %q: %w", t, name, err)
	}
	return v, nil
}
