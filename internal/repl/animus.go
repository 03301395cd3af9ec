package repl

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cajal/brainstorm/internal/config"
	"github.com/cajal/brainstorm/internal/dispatch"
	"github.com/cajal/brainstorm/internal/protocol"
)

// animusCommand is the command tree of the sub-shell for one selected
// animus. Every command is a single exchange with its daemon.
func (s *Session) animusCommand(name string) *cobra.Command {
	root := &cobra.Command{
		Use:   name,
		Short: "Manage an active Animus service",
	}

	send := func(t protocol.ActionType) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			s.d.HandleCommand(cmd.Context(), name, protocol.NewAction(t))
			return nil
		}
	}
	list := func(t protocol.ActionType, query func(context.Context, string) ([]string, error)) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			s.listNames(cmd.Context(), name, t, query)
			return nil
		}
	}

	root.AddCommand(
		leaf("name", "Retrieve the name of the Complex handled by the Animus", 0, send(protocol.ActionName)),
		leaf("version", "Retrieve the version of the Animus", 0, send(protocol.ActionVersion)),
		leaf("list-structures", "List the Structures in the Complex", 0, list(protocol.ActionListStructures, s.d.ListStructures)),
		leaf("list-inputs", "List the input tracts of the Complex", 0, list(protocol.ActionListInputs, s.d.ListInputs)),
		leaf("list-outputs", "List the output tracts of the Complex", 0, list(protocol.ActionListOutputs, s.d.ListOutputs)),
		leaf("save", "Save the state of the Complex to its network file", 0,
			func(cmd *cobra.Command, args []string) error {
				fmt.Fprintln(s.out, "Saving network state...")
				return send(protocol.ActionSave)(cmd, args)
			}),
		leaf("wake", "Begin processing inputs", 0, send(protocol.ActionWake)),
		leaf("sleep", "Stop processing inputs", 0, send(protocol.ActionSleep)),
		leaf("status", "Report whether the Animus is processing inputs", 0, send(protocol.ActionStatus)),
		leaf("query", "Check that the Animus answers commands", 0, send(protocol.ActionQuery)),
		leaf("terminate", "Shut down the Animus service", 0, send(protocol.ActionTerminate)),
		leaf("back", "Return to the Brainstorm REPL", 0,
			func(*cobra.Command, []string) error { return errBack }),
	)
	return root
}

// listNames prints one name per line in text mode. Structured formats print
// the whole report instead.
func (s *Session) listNames(ctx context.Context, name string, t protocol.ActionType, query func(context.Context, string) ([]string, error)) {
	if s.format != config.OutputText {
		s.d.HandleCommand(ctx, name, protocol.NewAction(t))
		return
	}

	names, err := query(ctx, name)
	switch {
	case err == nil:
	case dispatch.IsSendError(err):
		dispatch.CommandError(s.out, name, err)
		return
	default:
		dispatch.ResponseError(s.out, name, protocol.NewAction(t), err)
		return
	}
	for _, n := range names {
		fmt.Fprintln(s.out, n)
	}
}
