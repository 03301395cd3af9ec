package group

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/cajal/brainstorm/internal/animustest"
	"github.com/cajal/brainstorm/internal/dispatch"
	"github.com/cajal/brainstorm/internal/protocol"
)

func TestGroupActionContinuesPastFailure(t *testing.T) {
	f := newFixture(t, []string{"a", "b", "c"},
		&animustest.Animus{Name: "a", Active: true},
		&animustest.Animus{Name: "b", Active: true, SendErr: errors.New("host down")},
		&animustest.Animus{Name: "c", Active: true},
	)

	failed, err := NewBroadcaster(f.store, f.d).GroupAction(context.Background(), "g", protocol.NewAction(protocol.ActionWake))
	if err != nil {
		t.Fatalf("GroupAction: %v", err)
	}
	if len(failed) != 1 || failed[0].Animus != "b" || !dispatch.IsSendError(failed[0]) {
		t.Fatalf("failed = %v, want one send error for b", failed)
	}

	for _, name := range []string{"a", "c"} {
		if got := f.net.SentTo(name); !slices.Equal(got, []protocol.ActionType{protocol.ActionWake}) {
			t.Errorf("%s received %v", name, got)
		}
		if !f.net.Animus(name).Awake {
			t.Errorf("%s not awake", name)
		}
	}

	out := f.out.String()
	for _, want := range []string{"a (Wake): Success", "ERROR: Command to 'b' was not sent properly.", "c (Wake): Success"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestGroupActionReportsSilentMember(t *testing.T) {
	f := newFixture(t, []string{"a", "b"},
		&animustest.Animus{Name: "a"},
		&animustest.Animus{Name: "b", Active: true},
	)

	failed, err := NewBroadcaster(f.store, f.d).GroupAction(context.Background(), "g", protocol.NewAction(protocol.ActionStatus))
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 1 || !errors.Is(failed[0], dispatch.ErrNoResponse) {
		t.Errorf("failed = %v", failed)
	}
	if !strings.Contains(f.out.String(), "No response from animus 'a' to Status") {
		t.Errorf("output = %q", f.out.String())
	}
}

func TestGroupActionMissingGroup(t *testing.T) {
	f := newFixture(t, nil)

	if _, err := NewBroadcaster(f.store, f.d).GroupAction(context.Background(), "nope", protocol.NewAction(protocol.ActionWake)); !errors.Is(err, ErrGroupMissing) {
		t.Errorf("err = %v, want ErrGroupMissing", err)
	}
}
