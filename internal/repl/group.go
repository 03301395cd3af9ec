package repl

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cajal/brainstorm/internal/group"
	"github.com/cajal/brainstorm/internal/protocol"
)

func (s *Session) groupCommand(name string) *cobra.Command {
	root := &cobra.Command{
		Use:   name,
		Short: "Manage a group (System) of Animi",
	}

	broadcast := func(t protocol.ActionType) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			s.groupAction(cmd.Context(), name, t)
			return nil
		}
	}

	root.AddCommand(
		leaf("list-members", "List all Animi that are members of this group", 0,
			func(*cobra.Command, []string) error { s.listMembers(name); return nil }),
		leaf("add <animus>", "Add a known animus to the group", 1,
			func(_ *cobra.Command, args []string) error { s.addMember(name, args[0]); return nil }),
		leaf("remove <animus>", "Remove an animus from the group", 1,
			func(_ *cobra.Command, args []string) error { s.removeMember(name, args[0]); return nil }),
		leaf("wake", "Begin processing inputs for all animi in the group", 0, broadcast(protocol.ActionWake)),
		leaf("sleep", "Stop processing inputs for all animi in the group", 0, broadcast(protocol.ActionSleep)),
		leaf("status", "Get the status of each animus in the group", 0, broadcast(protocol.ActionStatus)),
		leaf("query", "Query each animus to check that all are present", 0, broadcast(protocol.ActionQuery)),
		leaf("auto-link", "Link every output tract to the input tract of the same name", 0,
			func(cmd *cobra.Command, _ []string) error { s.autoLink(cmd.Context(), name); return nil }),
		leaf("link-history", "Show the links made by the last auto-link run", 0,
			func(cmd *cobra.Command, _ []string) error { s.linkHistory(cmd.Context(), name); return nil }),
		leaf("back", "Return to the Brainstorm REPL", 0,
			func(*cobra.Command, []string) error { return errBack }),
	)
	return root
}

func (s *Session) groupAction(ctx context.Context, name string, t protocol.ActionType) {
	failed, err := s.bcast.GroupAction(ctx, name, protocol.NewAction(t))
	if err != nil {
		fmt.Fprintf(s.out, "Group file for '%s' is corrupted or missing: %v\n", name, err)
		return
	}
	if len(failed) > 0 {
		fmt.Fprintf(s.out, "%d of the group's animi did not complete %s\n", len(failed), t)
	}
}

func (s *Session) listMembers(name string) {
	members, err := s.groups.Members(name)
	if err != nil {
		fmt.Fprintf(s.out, "Group file for '%s' is corrupted or missing: %v\n", name, err)
		return
	}
	for _, m := range members {
		fmt.Fprintln(s.out, m)
	}
}

func (s *Session) addMember(name, member string) {
	if !s.paths.Exists(member) {
		fmt.Fprintf(s.out, "Animus '%s' not found! Use `list-all`\n", member)
		return
	}
	if err := s.groups.Add(name, member); err != nil {
		s.commandError("add", err)
		return
	}
	fmt.Fprintf(s.out, "Added '%s' to group '%s'\n", member, name)
}

func (s *Session) removeMember(name, member string) {
	if err := s.groups.Remove(name, member); err != nil {
		s.commandError("remove", err)
		return
	}
	fmt.Fprintf(s.out, "Removed '%s' from group '%s'\n", member, name)
}

func (s *Session) autoLink(ctx context.Context, name string) {
	res, err := s.linker.AutoLink(ctx, name)
	if err != nil {
		group.PrintAbort(s.out, name, err)
		return
	}
	fmt.Fprintf(s.out, "Linked %d tract(s) in group '%s'", len(res.Links), name)
	if len(res.Failed) > 0 {
		fmt.Fprintf(s.out, "; %d failed", len(res.Failed))
	}
	fmt.Fprintln(s.out)
}

func (s *Session) linkHistory(ctx context.Context, name string) {
	if s.history == nil {
		fmt.Fprintln(s.out, "The link ledger is disabled (set `ledger = true` in brainstorm/config.toml).")
		return
	}
	run, err := s.history.LastRun(ctx, name)
	if err != nil {
		s.commandError("link-history", err)
		return
	}
	if run == nil {
		fmt.Fprintf(s.out, "No auto-link runs recorded for group '%s'\n", name)
		return
	}

	fmt.Fprintf(s.out, "Run %s at %s\n", run.ID, run.StartedAt.Local().Format(time.DateTime))
	for _, a := range run.Attempts {
		fmt.Fprintf(s.out, "  %s: %s -> %s (%s) [%s]\n", a.Tract, a.Sender, a.Receiver, a.Addr, a.State)
	}
}
