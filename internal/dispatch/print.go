package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/cajal/brainstorm/internal/config"
	"github.com/cajal/brainstorm/internal/protocol"
)

// VersionHint accompanies diagnostics that usually mean the two sides
// disagree about the wire format.
const VersionHint = "Check that brainstorm and animusd are built from the same protocol version."

// reportView is the structured rendering of a report for json and yaml output.
type reportView struct {
	Name    string `json:"name" yaml:"name"`
	Action  string `json:"action" yaml:"action"`
	Outcome string `json:"outcome" yaml:"outcome"`
	Data    any    `json:"data,omitempty" yaml:"data,omitempty"`
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
}

// PrintReport writes a report as "name (action): outcome" or, for the json
// and yaml formats, as a structured document.
func PrintReport(w io.Writer, r *protocol.Report, format string) error {
	switch format {
	case config.OutputJSON, config.OutputYAML:
	default:
		_, err := fmt.Fprintf(w, "%s (%s): %s\n", r.Name, r.Action, r.Outcome)
		return err
	}

	v := reportView{
		Name:    r.Name,
		Action:  r.Action.String(),
		Outcome: string(r.Outcome.Type),
		Message: r.Outcome.Message,
	}
	if len(r.Outcome.Data) > 0 {
		if err := json.Unmarshal(r.Outcome.Data, &v.Data); err != nil {
			v.Data = string(r.Outcome.Data)
		}
	}

	if format == config.OutputJSON {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s\n", data)
		return err
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// CommandError reports a command that could not be sent.
func CommandError(w io.Writer, animus string, err error) {
	fmt.Fprintf(w, "ERROR: Command to '%s' was not sent properly.\n", animus)
	fmt.Fprintf(w, "  %v\n", err)
	if errors.Is(err, ErrEncode) {
		fmt.Fprintln(w, VersionHint)
	}
}

// ResponseError reports a command that was sent but whose answer was
// missing or unusable.
func ResponseError(w io.Writer, animus string, action protocol.Action, err error) {
	if errors.Is(err, ErrNoResponse) {
		fmt.Fprintf(w, "No response from animus '%s' to %s\n", animus, action)
		return
	}
	fmt.Fprintf(w, "ERROR: Response from '%s' to %s could not be read.\n", animus, action)
	fmt.Fprintf(w, "  %v\n", err)
	if IsVersionMismatch(err) {
		fmt.Fprintln(w, VersionHint)
	}
}

// IsVersionMismatch reports whether err is the kind of failure produced when
// brainstorm and an animus disagree about the wire format.
func IsVersionMismatch(err error) bool {
	return errors.Is(err, ErrDecode) ||
		errors.Is(err, protocol.ErrProtocol) ||
		errors.Is(err, protocol.ErrPayload)
}
