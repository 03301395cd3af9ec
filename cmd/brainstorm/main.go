package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cajal/brainstorm/internal/animus"
	"github.com/cajal/brainstorm/internal/config"
	"github.com/cajal/brainstorm/internal/dispatch"
	"github.com/cajal/brainstorm/internal/group"
	"github.com/cajal/brainstorm/internal/ledger"
	"github.com/cajal/brainstorm/internal/metrics"
	"github.com/cajal/brainstorm/internal/repl"
	"github.com/cajal/brainstorm/internal/terminal"
	"github.com/cajal/brainstorm/internal/transport"
)

var (
	setupFlag   bool
	runFlag     bool
	verboseFlag bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "brainstorm",
		Short: "REPL for managing Animus services and networks",
		Long: "Brainstorm manages Animus services for Cajal-based simulated spiking neural networks.\n" +
			"Run `brainstorm` to launch the control REPL.",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE:         rootRun,
	}
	rootCmd.Flags().BoolVarP(&setupFlag, "setup", "s", false, "Create the directories and default config brainstorm needs")
	rootCmd.Flags().BoolVarP(&runFlag, "run", "r", false, "With --setup, launch the REPL once setup is done")
	rootCmd.Flags().BoolVarP(&verboseFlag, "verbose", "v", false, "Log debug diagnostics to stderr")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func rootRun(cmd *cobra.Command, args []string) error {
	level := slog.LevelWarn
	if verboseFlag {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	paths := animus.NewPaths(animus.DataDir())

	if setupFlag {
		if err := paths.Setup(); err != nil {
			return fmt.Errorf("error creating framework directory: %w", err)
		}
		fmt.Println("Cajal setup complete")
		if !runFlag {
			return nil
		}
	}

	if !paths.SetupOK() {
		fmt.Println("Missing `.cajal` directories. Run `$ brainstorm --setup`.")
		return nil
	}

	cfg, err := config.LoadConfig(paths.Root)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	return runREPL(cfg, paths)
}

func runREPL(cfg *config.Config, paths animus.Paths) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr, err := transport.Listen(cfg.Listen, animus.NewResolver(paths, cfg.AnimusPort))
	if err != nil {
		return fmt.Errorf("binding command socket: %w", err)
	}
	closers := []io.Closer{tr}
	slog.Debug("command socket bound", "addr", tr.LocalAddr().String())

	var rec metrics.Recorder = metrics.Noop{}
	if cfg.MetricsAddr != nil {
		prom := metrics.NewPrometheus()
		rec = prom
		go func() {
			if err := prom.Serve(ctx, *cfg.MetricsAddr); err != nil {
				slog.Error("metrics server failed", "addr", *cfg.MetricsAddr, "err", err)
			}
		}()
	}

	d := dispatch.New(tr, dispatch.Options{
		Timeout: cfg.ResponseTimeout(),
		Metrics: rec,
		Output:  os.Stdout,
		Format:  cfg.Output,
	})

	store := group.NewStore(paths.Groups())
	linkOpts := group.LinkerOptions{
		ConfirmLinks: cfg.AutoLink.ConfirmLinks,
		Metrics:      rec,
		Output:       os.Stdout,
		Format:       cfg.Output,
	}

	opts := repl.Options{
		Paths:       paths,
		Dispatcher:  d,
		Groups:      store,
		Broadcaster: group.NewBroadcaster(store, d),
		Manager:     animus.NewManager(paths, d, cfg.AnimusPort),
		Input:       terminal.Open(os.Stdin, os.Stdout),
		Output:      os.Stdout,
		Format:      cfg.Output,
	}

	if cfg.Ledger {
		led, err := ledger.Open(paths.Groups())
		if err != nil {
			slog.Warn("link ledger disabled", "err", err)
		} else {
			closers = append(closers, led)
			linkOpts.History = led
			opts.History = led
		}
	}
	opts.Linker = group.NewLinker(store, d, linkOpts)

	release := sync.OnceFunc(func() { closeAll(closers) })
	defer release()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)
	go awaitSignal(sigCh, cancel, release, os.Exit)

	return repl.New(opts).Run(ctx)
}

// awaitSignal ends the process on the first signal. The REPL may be blocked
// reading stdin, so resources are released here rather than by unwinding.
// Animi keep running either way.
func awaitSignal(sigCh <-chan os.Signal, cancel context.CancelFunc, release func(), exit func(int)) {
	<-sigCh
	fmt.Fprintln(os.Stderr, "[brainstorm] shutting down...")
	cancel()
	release()
	exit(0)
}

// closeAll closes cs in reverse order of opening.
func closeAll(cs []io.Closer) {
	for i := len(cs) - 1; i >= 0; i-- {
		if err := cs[i].Close(); err != nil {
			slog.Debug("closing on exit", "err", err)
		}
	}
}
