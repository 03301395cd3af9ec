package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrProtocol marks a message that is well formed but violates the command
// protocol, e.g. an outcome variant the action can never produce.
var ErrProtocol = errors.New("protocol violation")

// ActionType is the discriminator of the Action union.
type ActionType string

const (
	ActionName           ActionType = "Name"
	ActionVersion        ActionType = "Version"
	ActionListStructures ActionType = "ListStructures"
	ActionListInputs     ActionType = "ListInputs"
	ActionListOutputs    ActionType = "ListOutputs"
	ActionReportInputs   ActionType = "ReportInputs"
	ActionWake           ActionType = "Wake"
	ActionSleep          ActionType = "Sleep"
	ActionStatus         ActionType = "Status"
	ActionTerminate      ActionType = "Terminate"
	ActionSave           ActionType = "Save"
	ActionQuery          ActionType = "Query"
	ActionLinkOutput     ActionType = "LinkOutput"
	ActionUncheckedLink  ActionType = "UncheckedLink"
)

// ExpectsReturn reports whether a successful report for this action carries
// an Outcome of type Return, and therefore a payload the caller must decode.
func (t ActionType) ExpectsReturn() bool {
	switch t {
	case ActionName, ActionVersion, ActionListStructures, ActionListInputs,
		ActionListOutputs, ActionReportInputs, ActionStatus:
		return true
	default:
		return false
	}
}

// Completed reports whether o is a successful answer to t: Return for
// actions that carry data, Success for the rest.
func (t ActionType) Completed(o Outcome) bool {
	if t.ExpectsReturn() {
		return o.Type == OutcomeReturn
	}
	return o.Type == OutcomeSuccess
}

// ReceiverInfo describes one input tract of an animus: its name and the
// socket address a linked sender should direct output to.
type ReceiverInfo struct {
	TractName string `json:"tract_name"`
	Addr      string `json:"addr"`
}

// Action is the union of all commands an animus accepts.
// Only the payload fields relevant to Type are set.
type Action struct {
	Type     ActionType    `json:"type"`
	Receiver *ReceiverInfo `json:"receiver,omitempty"`
	Tract    string        `json:"tract,omitempty"`
	Addr     string        `json:"addr,omitempty"`
}

// NewAction returns a payload-free action of the given type.
func NewAction(t ActionType) Action {
	return Action{Type: t}
}

// LinkOutput asks the receiving animus to direct its output tract of the
// same name to the given receiver.
func LinkOutput(info ReceiverInfo) Action {
	return Action{Type: ActionLinkOutput, Receiver: &info}
}

// UncheckedLink links a tract to a raw socket address without consulting
// the receiver.
func UncheckedLink(tract, addr string) Action {
	return Action{Type: ActionUncheckedLink, Tract: tract, Addr: addr}
}

// Validate checks that the action is a known variant carrying the payload
// that variant requires.
func (a Action) Validate() error {
	switch a.Type {
	case ActionName, ActionVersion, ActionListStructures, ActionListInputs,
		ActionListOutputs, ActionReportInputs, ActionWake, ActionSleep,
		ActionStatus, ActionTerminate, ActionSave, ActionQuery:
		return nil
	case ActionLinkOutput:
		if a.Receiver == nil {
			return fmt.Errorf("LinkOutput requires receiver info")
		}
		if a.Receiver.TractName == "" || a.Receiver.Addr == "" {
			return fmt.Errorf("LinkOutput requires a tract name and address")
		}
		return nil
	case ActionUncheckedLink:
		if a.Tract == "" || a.Addr == "" {
			return fmt.Errorf("UncheckedLink requires a tract name and address")
		}
		return nil
	default:
		return fmt.Errorf("unknown action type: %q", a.Type)
	}
}

// String renders the action for operator-facing output.
func (a Action) String() string {
	switch a.Type {
	case ActionLinkOutput:
		if a.Receiver != nil {
			return fmt.Sprintf("LinkOutput(%s -> %s)", a.Receiver.TractName, a.Receiver.Addr)
		}
	case ActionUncheckedLink:
		return fmt.Sprintf("UncheckedLink(%s -> %s)", a.Tract, a.Addr)
	}
	return string(a.Type)
}

// Command is a single request addressed to a named animus. Seq is echoed
// back in the matching Report so responses can be correlated.
type Command struct {
	Seq    uint32 `json:"seq"`
	Name   string `json:"name"`
	Action Action `json:"action"`
}

// NewCommand builds a command for the named animus.
func NewCommand(seq uint32, name string, action Action) *Command {
	return &Command{Seq: seq, Name: name, Action: action}
}

// Encode validates the command and renders it as one datagram.
func (c *Command) Encode() ([]byte, error) {
	if err := c.Action.Validate(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshalling command: %w", err)
	}
	return encodeFrame(FrameCommand, payload)
}

// DecodeCommand parses a datagram produced by Command.Encode.
func DecodeCommand(datagram []byte) (*Command, error) {
	payload, err := decodeFrame(datagram, FrameCommand)
	if err != nil {
		return nil, err
	}
	var c Command
	if err := json.Unmarshal(payload, &c); err != nil {
		return nil, fmt.Errorf("parsing command: %w", err)
	}
	if err := c.Action.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return &c, nil
}

// OutcomeType is the discriminator of the Outcome union.
type OutcomeType string

const (
	OutcomeSuccess OutcomeType = "Success"
	OutcomeReturn  OutcomeType = "Return"
	OutcomeFailure OutcomeType = "Failure"
)

// Outcome is the result carried by a Report. Data is set only for Return
// and holds the JSON document whose shape depends on the action.
type Outcome struct {
	Type    OutcomeType     `json:"type"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// Success returns a payload-free successful outcome.
func Success() Outcome { return Outcome{Type: OutcomeSuccess} }

// Failure returns a failed outcome with a human-readable message.
func Failure(msg string) Outcome { return Outcome{Type: OutcomeFailure, Message: msg} }

// Return marshals v as the payload of a Return outcome.
func Return(v any) (Outcome, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Outcome{}, fmt.Errorf("marshalling return payload: %w", err)
	}
	return Outcome{Type: OutcomeReturn, Data: data}, nil
}

func (o Outcome) String() string {
	switch o.Type {
	case OutcomeReturn:
		return "Return " + string(o.Data)
	case OutcomeFailure:
		if o.Message != "" {
			return "Failure: " + o.Message
		}
	}
	return string(o.Type)
}

// Report is an animus's answer to a Command.
type Report struct {
	Seq     uint32  `json:"seq"`
	Name    string  `json:"name"`
	Action  Action  `json:"action"`
	Outcome Outcome `json:"outcome"`
}

// Encode renders the report as one datagram.
func (r *Report) Encode() ([]byte, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshalling report: %w", err)
	}
	return encodeFrame(FrameReport, payload)
}

// DecodeReport parses one received datagram into a Report. An unknown
// outcome variant is reported as ErrProtocol rather than ignored.
func DecodeReport(datagram []byte) (*Report, error) {
	payload, err := decodeFrame(datagram, FrameReport)
	if err != nil {
		return nil, err
	}
	var r Report
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, fmt.Errorf("parsing report: %w", err)
	}
	switch r.Outcome.Type {
	case OutcomeSuccess, OutcomeReturn, OutcomeFailure:
	default:
		return nil, fmt.Errorf("%w: unknown outcome %q from %q", ErrProtocol, r.Outcome.Type, r.Name)
	}
	return &r, nil
}
