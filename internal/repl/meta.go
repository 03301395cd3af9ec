package repl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cajal/brainstorm/internal/animus"
	"github.com/cajal/brainstorm/internal/config"
)

func (s *Session) metaCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "brainstorm",
		Short: "REPL for managing Animus services and networks",
	}
	root.AddCommand(
		leaf("animate <network>", "Create a new Animus for the network provided, then activate it", 1,
			func(cmd *cobra.Command, args []string) error { return s.animate(cmd.Context(), args[0]) }),
		leaf("load <animus>", "Load and activate an Animus that is saved on this device", 1,
			func(cmd *cobra.Command, args []string) error { s.load(cmd.Context(), args[0]); return nil }),
		leaf("select <animus>", "Select an active Animus to manage", 1,
			func(cmd *cobra.Command, args []string) error { return s.selectAnimus(cmd.Context(), args[0]) }),
		leaf("group <name>", "Select a group of animi to manage (created on request)", 1,
			func(cmd *cobra.Command, args []string) error { return s.selectGroup(cmd.Context(), args[0]) }),
		leaf("add-remote <animus> <ip>", "Register an animus running on another device", 2,
			func(cmd *cobra.Command, args []string) error { s.addRemote(cmd.Context(), args[0], args[1]); return nil }),
		leaf("list-active", "List all Animi that are currently answering commands", 0,
			func(cmd *cobra.Command, args []string) error { s.listActive(cmd.Context()); return nil }),
		leaf("list-all", "List all local and remote Animi", 0,
			func(cmd *cobra.Command, args []string) error { s.listAll(); return nil }),
		leaf("list-networks", "List all `.nn` networks in the saved directory", 0,
			func(cmd *cobra.Command, args []string) error { s.listNetworks(); return nil }),
		&cobra.Command{
			Use:     "quit",
			Aliases: []string{"exit"},
			Short:   "Exit Brainstorm (active Animi keep running)",
			Args:    cobra.NoArgs,
			RunE:    func(cmd *cobra.Command, args []string) error { return errQuit },
		},
	)
	return root
}

func (s *Session) animate(ctx context.Context, network string) error {
	if !s.paths.NetworkExists(network) {
		fmt.Fprintf(s.out, "Network '%s' not found! Use `list-networks`\n", network)
		return nil
	}
	name, err := animus.NameFor(network)
	if err != nil {
		s.commandError("animate", err)
		return nil
	}

	name, err = s.chooseName(ctx, name)
	if err != nil {
		return err
	}
	if name == "" {
		fmt.Fprintln(s.out, "No name chosen.")
		return nil
	}

	pid, err := s.manager.Animate(ctx, network, name)
	if err != nil {
		s.commandError("animate", err)
		return nil
	}
	fmt.Fprintf(s.out, "%s successfully animated as '%s' (pid %d)\n", network, name, pid)
	return nil
}

// chooseName asks for another name until one is valid and not already
// active. An empty answer cancels and yields "".
func (s *Session) chooseName(ctx context.Context, name string) (string, error) {
	for {
		if config.ValidateAnimusName(name) != nil {
			fmt.Fprintln(s.out, "Invalid character(s) in string. Use a-Z, 0-9, or underscores.")
		} else {
			err := s.manager.CheckName(ctx, name)
			if err == nil {
				fmt.Fprintf(s.out, "Name: %s\n", name)
				return name, nil
			}
			if !errors.Is(err, animus.ErrAlreadyActive) {
				return "", err
			}
			fmt.Fprintf(s.out, "Animus '%s' is already active!\n", name)
		}

		fmt.Fprintln(s.out, "Type a new name or submit an empty line to cancel.")
		answer, err := s.in.ReadLine("New name: ")
		if err != nil {
			return "", err
		}
		if name = strings.TrimSpace(answer); name == "" {
			return "", nil
		}
	}
}

func (s *Session) load(ctx context.Context, name string) {
	if s.paths.IsRemote(name) && !s.paths.IsLocal(name) {
		fmt.Fprintf(s.out, "Animus '%s' is remote; load it with brainstorm on its own device.\n", name)
		return
	}
	if !s.paths.IsLocal(name) {
		fmt.Fprintf(s.out, "Animus '%s' not found! Use `list-all`\n", name)
		return
	}

	pid, err := s.manager.Load(ctx, name)
	switch {
	case errors.Is(err, animus.ErrAlreadyActive):
		fmt.Fprintf(s.out, "Animus '%s' is already active!\n", name)
	case err != nil:
		s.commandError("load", err)
	default:
		fmt.Fprintf(s.out, "Animus '%s' is loaded! (pid %d)\n", name, pid)
	}
}

func (s *Session) selectAnimus(ctx context.Context, name string) error {
	active, err := s.d.IsActive(ctx, name)
	if err != nil {
		s.commandError("select", err)
		return nil
	}
	if !active {
		s.commandError("select", fmt.Errorf("'%s' is not active", name))
		return nil
	}
	if !s.paths.Exists(name) {
		fmt.Fprintf(s.out, "WARN: '%s' is unregistered\n", name)
	}

	fmt.Fprintf(s.out, "Selected animus '%s'\n", name)
	return s.loop(ctx, name, func() *cobra.Command { return s.animusCommand(name) })
}

func (s *Session) selectGroup(ctx context.Context, name string) error {
	if err := config.ValidateGroupName(name); err != nil {
		s.commandError("group", err)
		return nil
	}
	if !s.groups.Exists(name) {
		ok, err := s.confirm(fmt.Sprintf("Group '%s' does not exist. Create it?", name))
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := s.groups.Create(name); err != nil {
			s.commandError("group", err)
			return nil
		}
		fmt.Fprintf(s.out, "Created group '%s'\n", name)
	}

	fmt.Fprintf(s.out, "Selected group '%s'\n", name)
	return s.loop(ctx, name, func() *cobra.Command { return s.groupCommand(name) })
}

func (s *Session) addRemote(ctx context.Context, name, addr string) {
	if err := config.ValidateAnimusName(name); err != nil {
		s.commandError("add-remote", err)
		return
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		s.commandError("add-remote", fmt.Errorf("invalid IP address: %q", addr))
		return
	}
	if s.paths.Exists(name) {
		s.commandError("add-remote", fmt.Errorf("animus '%s' already exists", name))
		return
	}
	if err := s.paths.WriteRemote(name, ip); err != nil {
		s.commandError("add-remote", err)
		return
	}
	fmt.Fprintf(s.out, "Registered remote animus '%s' at %s\n", name, ip)

	active, err := s.d.IsActive(ctx, name)
	if err != nil || !active {
		fmt.Fprintf(s.out, "WARN: '%s' is not answering yet\n", name)
	}
}

// listActive probes every local and remote animus and prints the ones
// answering Query.
func (s *Session) listActive(ctx context.Context) {
	local, err := s.paths.ListLocal()
	if err != nil {
		s.commandError("list-active", err)
		return
	}
	remote, err := s.paths.ListRemote()
	if err != nil {
		s.commandError("list-active", err)
		return
	}
	names := slices.Compact(slices.Sorted(slices.Values(append(local, remote...))))

	for _, name := range names {
		active, err := s.d.IsActive(ctx, name)
		if err != nil {
			slog.Warn("probing animus", "animus", name, "err", err)
			continue
		}
		if active {
			fmt.Fprintln(s.out, name)
		}
	}
}

func (s *Session) listAll() {
	local, err := s.paths.ListLocal()
	if err != nil {
		s.commandError("list-all", err)
		return
	}
	remote, err := s.paths.ListRemote()
	if err != nil {
		s.commandError("list-all", err)
		return
	}

	fmt.Fprintln(s.out, "Local animi:")
	for _, name := range local {
		fmt.Fprintf(s.out, "  %s\n", name)
	}
	fmt.Fprintln(s.out, "Remote animi:")
	for _, name := range remote {
		ip, err := s.paths.ReadRemote(name)
		if err != nil {
			fmt.Fprintf(s.out, "  %s (unreadable: %v)\n", name, err)
			continue
		}
		fmt.Fprintf(s.out, "  %s (%s)\n", name, ip)
	}
}

func (s *Session) listNetworks() {
	networks, err := s.paths.ListNetworks()
	if err != nil {
		s.commandError("list-networks", err)
		return
	}
	for _, n := range networks {
		fmt.Fprintln(s.out, n)
	}
}
