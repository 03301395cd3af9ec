package animus

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/cajal/brainstorm/internal/config"
)

var ErrNotFound = errors.New("animus not found")

// ListLocal returns the names of local animi, sorted.
func (p Paths) ListLocal() ([]string, error) {
	entries, err := os.ReadDir(p.Animi())
	if err != nil {
		return nil, fmt.Errorf("reading animi dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() || e.Name() == groupsDir || e.Name() == remoteDir {
			continue
		}
		if config.ValidateAnimusName(e.Name()) != nil {
			continue
		}
		names = append(names, e.Name())
	}
	slices.Sort(names)
	return names, nil
}

// ListRemote returns the names of registered remote animi, sorted.
func (p Paths) ListRemote() ([]string, error) {
	entries, err := os.ReadDir(p.Remote())
	if err != nil {
		return nil, fmt.Errorf("reading remote dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && config.ValidateAnimusName(e.Name()) == nil {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

// IsLocal reports whether a local animus directory exists for name.
func (p Paths) IsLocal(name string) bool {
	if config.ValidateAnimusName(name) != nil || name == groupsDir || name == remoteDir {
		return false
	}
	info, err := os.Stat(p.AnimusDir(name))
	return err == nil && info.IsDir()
}

// IsRemote reports whether a remote record exists for name.
func (p Paths) IsRemote(name string) bool {
	if config.ValidateAnimusName(name) != nil {
		return false
	}
	info, err := os.Stat(filepath.Join(p.Remote(), name))
	return err == nil && info.Mode().IsRegular()
}

// Exists reports whether name is a known local or remote animus.
func (p Paths) Exists(name string) bool {
	return p.IsLocal(name) || p.IsRemote(name)
}

// ListNetworks returns the saved network files, sorted.
func (p Paths) ListNetworks() ([]string, error) {
	entries, err := os.ReadDir(p.Saved())
	if err != nil {
		return nil, fmt.Errorf("reading saved dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), NetworkExt) {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

// NetworkExists reports whether file is a saved network.
func (p Paths) NetworkExists(file string) bool {
	if file == "" || filepath.Base(file) != file {
		return false
	}
	info, err := os.Stat(p.NetworkPath(file))
	return err == nil && info.Mode().IsRegular()
}

// ReadRemote returns the host IP recorded for a remote animus.
func (p Paths) ReadRemote(name string) (net.IP, error) {
	if err := config.ValidateAnimusName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(p.Remote(), name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: no remote record for '%s'", ErrNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	text := strings.TrimSpace(string(data))
	ip := net.ParseIP(text)
	if ip == nil {
		return nil, fmt.Errorf("remote record for '%s' holds an invalid IP address: %q", name, text)
	}
	return ip, nil
}

// WriteRemote registers name as a remote animus reachable at ip.
func (p Paths) WriteRemote(name string, ip net.IP) error {
	if err := config.ValidateAnimusName(name); err != nil {
		return err
	}
	if ip == nil {
		return fmt.Errorf("no IP address given for '%s'", name)
	}
	if err := os.MkdirAll(p.Remote(), 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(p.Remote(), name), []byte(ip.String()), 0o644)
}
