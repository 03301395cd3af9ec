// Package group manages named sets of animi: their membership files, the
// per-member command broadcaster and the auto-link protocol that wires
// output tracts to input tracts of the same name across a group.
package group

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/cajal/brainstorm/internal/config"
)

var (
	ErrGroupMissing  = errors.New("group not found")
	ErrGroupExists   = errors.New("group already exists")
	ErrMemberExists  = errors.New("group already contains")
	ErrMemberMissing = errors.New("not found in group")
)

// Store keeps one membership file per group: one animus name per line, in
// insertion order.
type Store struct {
	dir string
}

// NewStore returns a store rooted at dir (normally animi/groups).
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the directory holding the membership files.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

// List returns the names of all groups, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading groups dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		// Skips the link ledger and any temp files left by WriteMembers.
		if !e.Type().IsRegular() || config.ValidateGroupName(e.Name()) != nil {
			continue
		}
		names = append(names, e.Name())
	}
	slices.Sort(names)
	return names, nil
}

// Exists reports whether a membership file exists for name.
func (s *Store) Exists(name string) bool {
	if config.ValidateGroupName(name) != nil {
		return false
	}
	info, err := os.Stat(s.path(name))
	return err == nil && info.Mode().IsRegular()
}

// Create makes an empty group.
func (s *Store) Create(name string) error {
	if err := config.ValidateGroupName(name); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating groups dir: %w", err)
	}
	f, err := os.OpenFile(s.path(name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("%w: '%s'", ErrGroupExists, name)
	}
	if err != nil {
		return fmt.Errorf("creating group '%s': %w", name, err)
	}
	return f.Close()
}

// Delete removes a group's membership file.
func (s *Store) Delete(name string) error {
	if !s.Exists(name) {
		return fmt.Errorf("%w: '%s'", ErrGroupMissing, name)
	}
	return os.Remove(s.path(name))
}

// Members reads the group's member list in file order. Blank lines are
// ignored.
func (s *Store) Members(name string) ([]string, error) {
	if config.ValidateGroupName(name) != nil {
		return nil, fmt.Errorf("%w: '%s'", ErrGroupMissing, name)
	}
	data, err := os.ReadFile(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: '%s'", ErrGroupMissing, name)
	}
	if err != nil {
		return nil, fmt.Errorf("reading group '%s': %w", name, err)
	}

	members := []string{}
	for line := range strings.Lines(string(data)) {
		line = strings.TrimSpace(line)
		if line != "" {
			members = append(members, line)
		}
	}
	return members, nil
}

// WriteMembers replaces the group's member list. The file is written to a
// temp file and renamed into place so readers never see a partial list.
func (s *Store) WriteMembers(name string, members []string) error {
	if err := config.ValidateGroupName(name); err != nil {
		return err
	}

	var b strings.Builder
	for _, m := range members {
		b.WriteString(m)
		b.WriteByte('\n')
	}

	tmp, err := os.CreateTemp(s.dir, "."+name+".*")
	if err != nil {
		return fmt.Errorf("writing group '%s': %w", name, err)
	}
	if _, err := tmp.WriteString(b.String()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing group '%s': %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing group '%s': %w", name, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), s.path(name)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replacing group '%s': %w", name, err)
	}
	return nil
}

// Add appends member to the group.
func (s *Store) Add(name, member string) error {
	if err := config.ValidateAnimusName(member); err != nil {
		return err
	}
	members, err := s.Members(name)
	if err != nil {
		return err
	}
	if slices.Contains(members, member) {
		return fmt.Errorf("%w '%s'", ErrMemberExists, member)
	}
	return s.WriteMembers(name, append(members, member))
}

// Remove deletes member from the group, preserving the order of the rest.
func (s *Store) Remove(name, member string) error {
	members, err := s.Members(name)
	if err != nil {
		return err
	}
	i := slices.Index(members, member)
	if i < 0 {
		return fmt.Errorf("animus '%s' %w", member, ErrMemberMissing)
	}
	return s.WriteMembers(name, slices.Delete(members, i, i+1))
}
