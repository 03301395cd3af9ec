package group

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir())
}

func TestMembersRoundTrip(t *testing.T) {
	s := newTestStore(t)

	for _, n := range []int{0, 1, 2, 7} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			want := make([]string, 0, n)
			for i := range n {
				want = append(want, fmt.Sprintf("animus_%d", i))
			}
			if err := s.WriteMembers("retina", want); err != nil {
				t.Fatalf("WriteMembers: %v", err)
			}
			got, err := s.Members("retina")
			if err != nil {
				t.Fatalf("Members: %v", err)
			}
			if !slices.Equal(got, want) {
				t.Errorf("Members = %q, want %q", got, want)
			}
		})
	}
}

func TestMembersSkipsBlankLines(t *testing.T) {
	s := newTestStore(t)
	if err := os.WriteFile(filepath.Join(s.Dir(), "retina"), []byte("\neye\n\n  \nlgn\r\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := s.Members("retina")
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(got, []string{"eye", "lgn"}) {
		t.Errorf("Members = %q", got)
	}
}

func TestCreateListDelete(t *testing.T) {
	s := newTestStore(t)

	if err := s.Create("retina"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Create("retina"); !errors.Is(err, ErrGroupExists) {
		t.Errorf("second Create err = %v, want ErrGroupExists", err)
	}
	if err := s.Create("bad/name"); err == nil {
		t.Error("Create accepted an invalid name")
	}
	if err := s.Create("cochlea"); err != nil {
		t.Fatal(err)
	}
	// Non-group files in the directory are not listed.
	os.WriteFile(filepath.Join(s.Dir(), "links.db"), nil, 0o644)

	names, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(names, []string{"cochlea", "retina"}) {
		t.Errorf("List = %q", names)
	}

	if !s.Exists("retina") || s.Exists("nope") {
		t.Error("Exists disagrees with Create")
	}
	if err := s.Delete("retina"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete("retina"); !errors.Is(err, ErrGroupMissing) {
		t.Errorf("second Delete err = %v, want ErrGroupMissing", err)
	}
}

func TestAddRemove(t *testing.T) {
	s := newTestStore(t)
	if err := s.Create("retina"); err != nil {
		t.Fatal(err)
	}

	for _, m := range []string{"eye", "lgn", "v1"} {
		if err := s.Add("retina", m); err != nil {
			t.Fatalf("Add(%s): %v", m, err)
		}
	}
	if err := s.Add("retina", "lgn"); !errors.Is(err, ErrMemberExists) {
		t.Errorf("duplicate Add err = %v, want ErrMemberExists", err)
	}
	if err := s.Add("retina", "not valid"); err == nil {
		t.Error("Add accepted an invalid animus name")
	}

	if err := s.Remove("retina", "lgn"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := s.Remove("retina", "lgn"); !errors.Is(err, ErrMemberMissing) {
		t.Errorf("second Remove err = %v, want ErrMemberMissing", err)
	}

	got, err := s.Members("retina")
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(got, []string{"eye", "v1"}) {
		t.Errorf("Members = %q, want [eye v1]", got)
	}

	if _, err := s.Members("absent"); !errors.Is(err, ErrGroupMissing) {
		t.Errorf("Members(absent) err = %v, want ErrGroupMissing", err)
	}
}
