package group

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"

	"github.com/cajal/brainstorm/internal/dispatch"
	"github.com/cajal/brainstorm/internal/ledger"
	"github.com/cajal/brainstorm/internal/metrics"
	"github.com/cajal/brainstorm/internal/protocol"
)

var (
	ErrDuplicateInput  = errors.New("duplicate input")
	ErrDuplicateOutput = errors.New("duplicate output")
	ErrNotActive       = errors.New("animus is not active")
	ErrAwake           = errors.New("animus is processing inputs")
)

// Link states. A link is attempted once its LinkOutput has been sent and
// confirmed once the sender acknowledged it with Success.
const (
	LinkAttempted = ledger.StateAttempted
	LinkConfirmed = ledger.StateConfirmed
	LinkFailed    = ledger.StateFailed
)

// StepError records the member and action at which an auto-link run
// stopped.
type StepError struct {
	Animus string
	Action protocol.ActionType
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s on '%s': %v", e.Action, e.Animus, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Receiver is an input tract and the animus that owns it.
type Receiver struct {
	Animus string
	Info   protocol.ReceiverInfo
}

// Capabilities are the tracts gathered from a group, keyed by tract name.
// Both maps are scoped to one auto-link run.
type Capabilities struct {
	Receivers map[string]Receiver
	Senders   map[string]string
}

// Endpoint names one tract of one animus.
type Endpoint struct {
	Animus string
	Tract  string
}

// Link is one sender/receiver pair the resolver acted on.
type Link struct {
	Tract    string
	Sender   string
	Receiver string
	Addr     string
	State    ledger.State
}

// Result summarizes an auto-link run.
type Result struct {
	Group string
	RunID string
	Links []Link
	// Pairs whose LinkOutput could not be sent, or was refused in confirm mode.
	Failed          []*MemberError
	UnlinkedOutputs []Endpoint
	UnlinkedInputs  []Endpoint
}

// History persists link attempts. *ledger.Ledger implements it.
type History interface {
	BeginRun(ctx context.Context, group string) (string, error)
	RecordAttempt(ctx context.Context, runID string, a ledger.Attempt) error
	SetState(ctx context.Context, runID, tract string, state ledger.State) error
}

// LinkerOptions configure a Linker.
type LinkerOptions struct {
	// ConfirmLinks waits for each LinkOutput report and keeps a pair
	// unlinked unless the sender answers Success.
	ConfirmLinks bool
	History      History
	Metrics      metrics.Recorder
	Output       io.Writer
	// Report format for refused links: text, json or yaml.
	Format string
}

// Linker runs auto-link: readiness gate, capability collection and
// name-matching resolution.
type Linker struct {
	store   *Store
	d       Dispatcher
	confirm bool
	history History
	rec     metrics.Recorder
	out     io.Writer
	format  string
}

// NewLinker creates a linker.
func NewLinker(store *Store, d Dispatcher, opts LinkerOptions) *Linker {
	l := &Linker{
		store:   store,
		d:       d,
		confirm: opts.ConfirmLinks,
		history: opts.History,
		rec:     opts.Metrics,
		out:     opts.Output,
		format:  opts.Format,
	}
	if l.rec == nil {
		l.rec = metrics.Noop{}
	}
	if l.out == nil {
		l.out = io.Discard
	}
	return l
}

// AutoLink links every output tract in group to the input tract of the same
// name. Nothing is linked unless every member is active and asleep and no
// tract name is declared twice. Leftover tracts are printed as notes.
func (l *Linker) AutoLink(ctx context.Context, group string) (*Result, error) {
	members, err := l.store.Members(group)
	if err != nil {
		return nil, err
	}
	if err := l.Gate(ctx, members); err != nil {
		return nil, err
	}
	caps, err := l.Collect(ctx, members)
	if err != nil {
		return nil, err
	}

	runID := l.beginRun(ctx, group)
	res := l.Resolve(ctx, runID, caps)
	res.Group = group
	res.RunID = runID

	WriteNotes(l.out, res)
	slog.Info("auto-link finished", "group", group, "run", runID,
		"links", len(res.Links), "failed", len(res.Failed),
		"unlinked_outputs", len(res.UnlinkedOutputs), "unlinked_inputs", len(res.UnlinkedInputs))
	return res, nil
}

// Gate checks, in member order, that each animus is active and asleep. It
// stops at the first member that fails.
func (l *Linker) Gate(ctx context.Context, members []string) error {
	for _, m := range members {
		active, err := l.d.IsActive(ctx, m)
		if err != nil {
			return &StepError{Animus: m, Action: protocol.ActionQuery, Err: err}
		}
		if !active {
			return &StepError{Animus: m, Action: protocol.ActionQuery, Err: ErrNotActive}
		}

		awake, err := l.d.IsAwake(ctx, m)
		if err != nil {
			return &StepError{Animus: m, Action: protocol.ActionStatus, Err: err}
		}
		if awake {
			return &StepError{Animus: m, Action: protocol.ActionStatus, Err: ErrAwake}
		}
	}
	return nil
}

// Collect gathers every member's input receivers and output tracts. Any
// failure, including a tract name seen twice, discards everything gathered
// so far.
func (l *Linker) Collect(ctx context.Context, members []string) (*Capabilities, error) {
	caps := &Capabilities{
		Receivers: make(map[string]Receiver),
		Senders:   make(map[string]string),
	}
	for _, m := range members {
		if err := l.gatherInputs(ctx, m, caps); err != nil {
			return nil, err
		}
		if err := l.gatherOutputs(ctx, m, caps); err != nil {
			return nil, err
		}
	}
	return caps, nil
}

func (l *Linker) gatherInputs(ctx context.Context, animus string, caps *Capabilities) error {
	outcome, err := l.ask(ctx, animus, protocol.ActionReportInputs)
	if err != nil {
		return err
	}
	list, err := protocol.DecodeReceivers(outcome)
	if err != nil {
		return &StepError{Animus: animus, Action: protocol.ActionReportInputs, Err: err}
	}
	for _, info := range list {
		if prev, ok := caps.Receivers[info.TractName]; ok {
			return &StepError{Animus: animus, Action: protocol.ActionReportInputs,
				Err: fmt.Errorf("%w '%s' (declared by '%s' and '%s')", ErrDuplicateInput, info.TractName, prev.Animus, animus)}
		}
		caps.Receivers[info.TractName] = Receiver{Animus: animus, Info: info}
	}
	return nil
}

func (l *Linker) gatherOutputs(ctx context.Context, animus string, caps *Capabilities) error {
	outcome, err := l.ask(ctx, animus, protocol.ActionListOutputs)
	if err != nil {
		return err
	}
	list, err := protocol.DecodeNames(outcome)
	if err != nil {
		return &StepError{Animus: animus, Action: protocol.ActionListOutputs, Err: err}
	}
	for _, tract := range list {
		if prev, ok := caps.Senders[tract]; ok {
			return &StepError{Animus: animus, Action: protocol.ActionListOutputs,
				Err: fmt.Errorf("%w '%s' (declared by '%s' and '%s')", ErrDuplicateOutput, tract, prev, animus)}
		}
		caps.Senders[tract] = animus
	}
	return nil
}

// ask sends one command and reads its report as two steps so a failure can
// be attributed to the send or to the response.
func (l *Linker) ask(ctx context.Context, animus string, t protocol.ActionType) (protocol.Outcome, error) {
	action := protocol.NewAction(t)
	if err := l.d.SendCommand(ctx, animus, action); err != nil {
		return protocol.Outcome{}, &StepError{Animus: animus, Action: t, Err: err}
	}
	report, err := l.d.ReadReport(ctx)
	if err != nil {
		return protocol.Outcome{}, &StepError{Animus: animus, Action: t, Err: err}
	}
	return report.Outcome, nil
}

// Resolve sends LinkOutput for every tract present in both maps, removing
// each linked pair from caps. Pairs are visited in tract-name order. By
// default a pair is retired as soon as its command is sent; with
// ConfirmLinks it is retired only when the sender reports Success.
func (l *Linker) Resolve(ctx context.Context, runID string, caps *Capabilities) *Result {
	res := &Result{}

	for _, tract := range slices.Sorted(maps.Keys(caps.Senders)) {
		sender := caps.Senders[tract]
		recv, ok := caps.Receivers[tract]
		if !ok {
			continue
		}

		link := Link{Tract: tract, Sender: sender, Receiver: recv.Animus, Addr: recv.Info.Addr}
		action := protocol.LinkOutput(recv.Info)

		if err := l.d.SendCommand(ctx, sender, action); err != nil {
			dispatch.CommandError(l.out, sender, err)
			link.State = LinkFailed
			l.record(ctx, runID, link)
			res.Failed = append(res.Failed, &MemberError{Animus: sender, Err: err})
			continue
		}
		link.State = LinkAttempted
		l.rec.LinkAttempted()
		l.record(ctx, runID, link)

		if l.confirm {
			if err := l.confirmLink(ctx, sender, action); err != nil {
				link.State = LinkFailed
				l.setState(ctx, runID, link)
				res.Failed = append(res.Failed, &MemberError{Animus: sender, Err: err})
				continue
			}
			link.State = LinkConfirmed
			l.rec.LinkConfirmed()
			l.setState(ctx, runID, link)
		}

		delete(caps.Senders, tract)
		delete(caps.Receivers, tract)
		res.Links = append(res.Links, link)
	}

	for tract, animus := range caps.Senders {
		res.UnlinkedOutputs = append(res.UnlinkedOutputs, Endpoint{Animus: animus, Tract: tract})
	}
	for tract, r := range caps.Receivers {
		res.UnlinkedInputs = append(res.UnlinkedInputs, Endpoint{Animus: r.Animus, Tract: tract})
	}
	byTract := func(a, b Endpoint) int { return cmp.Compare(a.Tract, b.Tract) }
	slices.SortFunc(res.UnlinkedOutputs, byTract)
	slices.SortFunc(res.UnlinkedInputs, byTract)
	return res
}

func (l *Linker) confirmLink(ctx context.Context, sender string, action protocol.Action) error {
	report, err := l.d.ReadReport(ctx)
	if err != nil {
		dispatch.ResponseError(l.out, sender, action, err)
		return err
	}
	if !action.Type.Completed(report.Outcome) {
		if err := dispatch.PrintReport(l.out, report, l.format); err != nil {
			slog.Warn("printing link report", "animus", sender, "err", err)
		}
		return fmt.Errorf("%s refused: %s", action, report.Outcome)
	}
	return nil
}

func (l *Linker) beginRun(ctx context.Context, group string) string {
	if l.history == nil {
		return ""
	}
	id, err := l.history.BeginRun(ctx, group)
	if err != nil {
		slog.Warn("link ledger unavailable", "group", group, "err", err)
		return ""
	}
	return id
}

func (l *Linker) record(ctx context.Context, runID string, link Link) {
	if l.history == nil || runID == "" {
		return
	}
	err := l.history.RecordAttempt(ctx, runID, ledger.Attempt{
		Tract:    link.Tract,
		Sender:   link.Sender,
		Receiver: link.Receiver,
		Addr:     link.Addr,
		State:    link.State,
	})
	if err != nil {
		slog.Warn("recording link attempt", "run", runID, "tract", link.Tract, "err", err)
	}
}

func (l *Linker) setState(ctx context.Context, runID string, link Link) {
	if l.history == nil || runID == "" {
		return
	}
	if err := l.history.SetState(ctx, runID, link.Tract, link.State); err != nil {
		slog.Warn("updating link attempt", "run", runID, "tract", link.Tract, "err", err)
	}
}

// WriteNotes prints the tracts left unlinked by a run, one "animus: tract"
// line each. Nothing is printed for a fully matched run.
func WriteNotes(w io.Writer, res *Result) {
	if len(res.UnlinkedOutputs) > 0 {
		fmt.Fprintln(w, "NOTE -- Some Outputs were not linked (these may go to Motors):")
		for _, e := range res.UnlinkedOutputs {
			fmt.Fprintf(w, "%s: %s\n", e.Animus, e.Tract)
		}
	}
	if len(res.UnlinkedInputs) > 0 {
		fmt.Fprintln(w, "NOTE -- Some Inputs were not linked (these may come from Sensors):")
		for _, e := range res.UnlinkedInputs {
			fmt.Fprintf(w, "%s: %s\n", e.Animus, e.Tract)
		}
	}
}

// PrintAbort explains why an auto-link run on group did not get to link
// anything.
func PrintAbort(w io.Writer, group string, err error) {
	var step *StepError
	if !errors.As(err, &step) {
		fmt.Fprintf(w, "Group file for '%s' is corrupted or missing: %v\n", group, err)
		return
	}

	switch {
	case errors.Is(err, ErrNotActive):
		fmt.Fprintf(w, "Animus '%s' is not active. Please activate all animi in the group '%s' before linking tracts.\n", step.Animus, group)
	case errors.Is(err, ErrAwake):
		fmt.Fprintf(w, "Animus '%s' is processing inputs. Please sleep all animi in the group '%s' before linking tracts.\n", step.Animus, group)
	case errors.Is(err, ErrDuplicateInput), errors.Is(err, ErrDuplicateOutput):
		fmt.Fprintf(w, "ERROR: Aborting auto-link: %v\n", step.Err)
		fmt.Fprintln(w, dispatch.VersionHint)
	case errors.Is(err, dispatch.ErrInvalidName):
		fmt.Fprintf(w, "Group '%s' lists an invalid animus name: '%s'\n", group, step.Animus)
	case dispatch.IsSendError(err):
		dispatch.CommandError(w, step.Animus, err)
	default:
		dispatch.ResponseError(w, step.Animus, protocol.NewAction(step.Action), err)
	}
}
