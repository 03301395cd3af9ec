package animus

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/cajal/brainstorm/internal/config"
)

var (
	ErrAlreadyActive  = errors.New("animus is already active")
	ErrNetworkMissing = errors.New("network not found")
)

// Prober tells whether an animus daemon is answering commands.
type Prober interface {
	IsActive(ctx context.Context, name string) (bool, error)
}

// Manager builds and starts animusd processes for local animi.
type Manager struct {
	paths Paths
	probe Prober
	port  int

	// Cargo is the package installer used by Build.
	Cargo string
}

// NewManager creates a manager. defaultPort is the first command port handed
// out to newly animated animi.
func NewManager(p Paths, probe Prober, defaultPort int) *Manager {
	if defaultPort <= 0 {
		defaultPort = config.DefaultAnimusPort
	}
	return &Manager{paths: p, probe: probe, port: defaultPort, Cargo: "cargo"}
}

// NameFor derives the default animus name for a network file.
func NameFor(network string) (string, error) {
	name, ok := strings.CutSuffix(network, NetworkExt)
	if !ok {
		return "", fmt.Errorf("invalid file type: expected `%s` file extension", NetworkExt)
	}
	return name, nil
}

// CheckName reports whether name can be used for a new animus: it must be
// valid and not already answering commands.
func (m *Manager) CheckName(ctx context.Context, name string) error {
	if err := config.ValidateAnimusName(name); err != nil {
		return err
	}
	active, err := m.probe.IsActive(ctx, name)
	if err != nil {
		return err
	}
	if active {
		return fmt.Errorf("%w: '%s'", ErrAlreadyActive, name)
	}
	return nil
}

// Animate creates animus name for a saved network: its directory, a default
// config with a free command port, the animusd build, and a running daemon.
// It returns the daemon's pid.
func (m *Manager) Animate(ctx context.Context, network, name string) (int, error) {
	if !m.paths.NetworkExists(network) {
		return 0, fmt.Errorf("%w: '%s'", ErrNetworkMissing, network)
	}
	if _, err := NameFor(network); err != nil {
		return 0, err
	}
	if err := m.CheckName(ctx, name); err != nil {
		return 0, err
	}

	dir := m.paths.AnimusDir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("creating animus directory: %w", err)
	}

	if _, err := os.Stat(config.AnimusConfigPath(dir)); os.IsNotExist(err) {
		port, err := m.nextPort()
		if err != nil {
			return 0, err
		}
		cfg := &config.AnimusConfig{
			Animus: config.AnimusSection{Name: name, IP: "127.0.0.1", Port: port},
		}
		if err := cfg.Save(dir); err != nil {
			return 0, err
		}
	}

	if err := m.Build(ctx, name); err != nil {
		return 0, err
	}
	return m.Launch(name)
}

// nextPort returns one past the highest port used by any local animus, or
// the default port if none has one.
func (m *Manager) nextPort() (int, error) {
	names, err := m.paths.ListLocal()
	if err != nil {
		return 0, err
	}
	port := m.port
	for _, n := range names {
		cfg, err := config.LoadAnimusConfig(m.paths.AnimusDir(n))
		if err != nil {
			continue
		}
		if cfg.Animus.Port >= port {
			port = cfg.Animus.Port + 1
		}
	}
	return port, nil
}

// Build installs animusd into the animus directory with the features from
// its config, then renames the binary to animusd-<name>.
func (m *Manager) Build(ctx context.Context, name string) error {
	dir := m.paths.AnimusDir(name)

	var features string
	cfg, err := config.LoadAnimusConfig(dir)
	switch {
	case err == nil:
		features = cfg.FeaturesArg()
	case !errors.Is(err, os.ErrNotExist):
		return err
	}

	args := []string{"install", "animusd"}
	if features != "" {
		args = append(args, "--features", features)
	}
	args = append(args, "--root", dir)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, m.Cargo, args...)
	cmd.Stderr = &stderr
	slog.Info("building animusd", "animus", name, "features", features)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("installing animusd for '%s' (features %q): %w\n%s", name, features, err, strings.TrimSpace(stderr.String()))
	}

	built := filepath.Join(dir, "bin", "animusd")
	bin := m.paths.Binary(name)
	if err := os.Rename(built, bin); err != nil {
		return fmt.Errorf("renaming animusd: %w", err)
	}
	if err := os.Chmod(bin, 0o755); err != nil {
		return fmt.Errorf("making animusd executable: %w", err)
	}
	return nil
}

// Launch starts animusd-<name> in its own session so it outlives brainstorm.
// Output goes to animusd.log in the animus directory.
func (m *Manager) Launch(name string) (int, error) {
	bin := m.paths.Binary(name)
	if _, err := os.Stat(bin); err != nil {
		return 0, fmt.Errorf("%w: no animusd binary for '%s'", ErrNotFound, name)
	}

	dir := m.paths.AnimusDir(name)
	logFile, err := os.OpenFile(filepath.Join(dir, "animusd.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("opening animus log: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command(bin)
	cmd.Dir = dir
	cmd.Stdin = nil
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("spawning animusd for '%s': %w", name, err)
	}
	pid := cmd.Process.Pid
	// Reap the child if it exits while brainstorm is still running.
	go cmd.Wait()

	slog.Info("animus launched", "animus", name, "pid", pid)
	return pid, nil
}

// Load starts an existing local animus that is not already running.
func (m *Manager) Load(ctx context.Context, name string) (int, error) {
	if !m.paths.IsLocal(name) {
		return 0, fmt.Errorf("%w: '%s'", ErrNotFound, name)
	}
	active, err := m.probe.IsActive(ctx, name)
	if err != nil {
		return 0, err
	}
	if active {
		return 0, fmt.Errorf("%w: '%s'", ErrAlreadyActive, name)
	}
	return m.Launch(name)
}
