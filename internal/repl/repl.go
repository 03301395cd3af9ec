// Package repl implements the interactive brainstorm shell: a top-level
// prompt for animus records and two sub-shells, one for a selected animus and
// one for a group.
package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cajal/brainstorm/internal/animus"
	"github.com/cajal/brainstorm/internal/config"
	"github.com/cajal/brainstorm/internal/dispatch"
	"github.com/cajal/brainstorm/internal/group"
	"github.com/cajal/brainstorm/internal/ledger"
	"github.com/cajal/brainstorm/internal/terminal"
)

var (
	errBack = errors.New("back")
	errQuit = errors.New("quit")
)

// LinkHistory looks up recorded auto-link runs. *ledger.Ledger implements it.
type LinkHistory interface {
	LastRun(ctx context.Context, group string) (*ledger.Run, error)
}

// Options wire a Session to the rest of brainstorm.
type Options struct {
	Paths       animus.Paths
	Dispatcher  *dispatch.Dispatcher
	Groups      *group.Store
	Broadcaster *group.Broadcaster
	Linker      *group.Linker
	Manager     *animus.Manager
	// History is nil when the link ledger is disabled.
	History LinkHistory
	Input   terminal.LineReader
	Output  io.Writer
	Format  string
}

// Session is one interactive brainstorm shell.
type Session struct {
	paths   animus.Paths
	d       *dispatch.Dispatcher
	groups  *group.Store
	bcast   *group.Broadcaster
	linker  *group.Linker
	manager *animus.Manager
	history LinkHistory
	in      terminal.LineReader
	out     io.Writer
	format  string
}

// New creates a session.
func New(opts Options) *Session {
	s := &Session{
		paths:   opts.Paths,
		d:       opts.Dispatcher,
		groups:  opts.Groups,
		bcast:   opts.Broadcaster,
		linker:  opts.Linker,
		manager: opts.Manager,
		history: opts.History,
		in:      opts.Input,
		out:     opts.Output,
		format:  opts.Format,
	}
	if s.out == nil {
		s.out = io.Discard
	}
	if s.format == "" {
		s.format = config.OutputText
	}
	return s
}

// Run greets the user and reads top-level commands until quit, end of input
// or ctx cancellation. Animi keep running after the shell exits.
func (s *Session) Run(ctx context.Context) error {
	fmt.Fprintln(s.out, "Welcome to Brainstorm! For usage information, enter 'help'.")

	err := s.loop(ctx, "brainstorm", s.metaCommand)
	if errors.Is(err, errQuit) || errors.Is(err, io.EOF) {
		fmt.Fprintln(s.out, "Goodbye!")
		return nil
	}
	return err
}

// loop reads lines under prompt and executes each against a fresh command
// tree. It returns nil on `back`, and errQuit, io.EOF or the context error
// when the whole shell should stop.
func (s *Session) loop(ctx context.Context, prompt string, tree func() *cobra.Command) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := s.in.ReadLine(prompt + "> ")
		if err != nil {
			return err
		}
		args := strings.Fields(line)
		if len(args) == 0 {
			continue
		}

		root := tree()
		root.SetArgs(args)
		root.SetOut(s.out)
		root.SetErr(s.out)
		root.SilenceErrors = true
		root.SilenceUsage = true
		root.CompletionOptions.DisableDefaultCmd = true

		err = root.ExecuteContext(ctx)
		switch {
		case err == nil:
		case errors.Is(err, errBack):
			return nil
		case errors.Is(err, errQuit), errors.Is(err, io.EOF), errors.Is(err, context.Canceled):
			return err
		default:
			fmt.Fprintln(s.out, err)
		}
	}
}

// confirm asks a yes/no question; an empty answer means yes.
func (s *Session) confirm(question string) (bool, error) {
	answer, err := s.in.ReadLine(question + " [Y/n] ")
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "", "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func (s *Session) commandError(cmd string, err error) {
	fmt.Fprintf(s.out, "WARN: An error occurred while executing '%s' command\n", cmd)
	fmt.Fprintf(s.out, "  %v\n", err)
}

// leaf builds a command that takes exactly n positional arguments.
func leaf(use, short string, n int, run func(cmd *cobra.Command, args []string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(n),
		RunE:  run,
	}
}
