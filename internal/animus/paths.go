// Package animus manages animus records on disk and the animusd processes
// behind them.
//
// Layout under the data root (normally ~/.cajal):
//
//	animi/<name>/              local animus: config.toml, bin/animusd-<name>
//	animi/groups/<group>       group membership files, links.db
//	animi/remote/<name>        remote animus: host IP
//	saved/<network>.nn         serialized networks
//	brainstorm/config.toml     brainstorm configuration
package animus

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cajal/brainstorm/internal/config"
)

// NetworkExt is the file extension of serialized networks.
const NetworkExt = ".nn"

const (
	groupsDir = "groups"
	remoteDir = "remote"
)

// DataDir returns the data root: $CAJAL_HOME, else ~/.cajal.
func DataDir() string {
	if dir := os.Getenv("CAJAL_HOME"); dir != "" {
		return dir
	}
	home := os.Getenv("HOME")
	if home == "" {
		fmt.Fprintln(os.Stderr, "[brainstorm] ERROR: $HOME environment variable is not set")
		fmt.Fprintln(os.Stderr, "[brainstorm] WARNING: Using insecure fallback directory /tmp/.cajal")
		return "/tmp/.cajal"
	}
	return filepath.Join(home, ".cajal")
}

// Paths resolves locations inside one data root.
type Paths struct {
	Root string
}

// NewPaths returns the layout rooted at root.
func NewPaths(root string) Paths {
	return Paths{Root: root}
}

func (p Paths) Animi() string      { return filepath.Join(p.Root, "animi") }
func (p Paths) Groups() string     { return filepath.Join(p.Animi(), groupsDir) }
func (p Paths) Remote() string     { return filepath.Join(p.Animi(), remoteDir) }
func (p Paths) Saved() string      { return filepath.Join(p.Root, "saved") }
func (p Paths) Brainstorm() string { return filepath.Join(p.Root, "brainstorm") }

// AnimusDir is the directory of a local animus.
func (p Paths) AnimusDir(name string) string {
	return filepath.Join(p.Animi(), name)
}

// Binary is the renamed animusd executable of a local animus.
func (p Paths) Binary(name string) string {
	return filepath.Join(p.AnimusDir(name), "bin", "animusd-"+name)
}

// NetworkPath is the path of a saved network file.
func (p Paths) NetworkPath(file string) string {
	return filepath.Join(p.Saved(), file)
}

func (p Paths) dirs() []string {
	return []string{p.Root, p.Animi(), p.Groups(), p.Remote(), p.Saved(), p.Brainstorm()}
}

// Setup creates any missing directories and writes a default
// brainstorm/config.toml if none exists.
func (p Paths) Setup() error {
	for _, dir := range p.dirs() {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	if _, err := os.Stat(config.Path(p.Root)); os.IsNotExist(err) {
		if err := config.Default().Save(p.Root); err != nil {
			return fmt.Errorf("writing default config: %w", err)
		}
	}
	return nil
}

// SetupOK reports whether every directory of the layout exists.
func (p Paths) SetupOK() bool {
	for _, dir := range p.dirs() {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			return false
		}
	}
	return true
}
