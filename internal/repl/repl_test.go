package repl

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/cajal/brainstorm/internal/animus"
	"github.com/cajal/brainstorm/internal/animustest"
	"github.com/cajal/brainstorm/internal/dispatch"
	"github.com/cajal/brainstorm/internal/group"
	"github.com/cajal/brainstorm/internal/ledger"
	"github.com/cajal/brainstorm/internal/protocol"
	"github.com/cajal/brainstorm/internal/terminal"
)

type fixture struct {
	paths  animus.Paths
	net    *animustest.Network
	groups *group.Store
	opts   Options
	out    *bytes.Buffer
}

func newFixture(t *testing.T, animi ...*animustest.Animus) *fixture {
	t.Helper()
	paths := animus.NewPaths(t.TempDir())
	if err := paths.Setup(); err != nil {
		t.Fatalf("Setup: %v", err)
	}

	f := &fixture{
		paths:  paths,
		net:    animustest.NewNetwork(animi...),
		groups: group.NewStore(paths.Groups()),
		out:    &bytes.Buffer{},
	}
	d := dispatch.New(f.net, dispatch.Options{Timeout: 20 * time.Millisecond, Output: f.out})

	led, err := ledger.Open(paths.Groups())
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	t.Cleanup(func() { led.Close() })

	f.opts = Options{
		Paths:       paths,
		Dispatcher:  d,
		Groups:      f.groups,
		Broadcaster: group.NewBroadcaster(f.groups, d),
		Linker:      group.NewLinker(f.groups, d, group.LinkerOptions{History: led, Output: f.out}),
		Manager:     animus.NewManager(paths, d, 0),
		History:     led,
		Output:      f.out,
	}
	return f
}

// local registers name as a local animus directory.
func (f *fixture) local(t *testing.T, names ...string) {
	t.Helper()
	for _, n := range names {
		if err := os.MkdirAll(f.paths.AnimusDir(n), 0o755); err != nil {
			t.Fatal(err)
		}
	}
}

func (f *fixture) run(t *testing.T, script string) string {
	t.Helper()
	f.opts.Input = terminal.NewScanner(strings.NewReader(script), io.Discard)
	if err := New(f.opts).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return f.out.String()
}

func mustContain(t *testing.T, out string, want ...string) {
	t.Helper()
	for _, w := range want {
		if !strings.Contains(out, w) {
			t.Errorf("output missing %q:\n%s", w, out)
		}
	}
}

func mustNotContain(t *testing.T, out string, unwanted ...string) {
	t.Helper()
	for _, w := range unwanted {
		if strings.Contains(out, w) {
			t.Errorf("output unexpectedly contains %q:\n%s", w, out)
		}
	}
}

func TestQuitAndExit(t *testing.T) {
	for _, cmd := range []string{"quit", "exit"} {
		t.Run(cmd, func(t *testing.T) {
			f := newFixture(t)
			out := f.run(t, cmd+"\nlist-all\n")
			mustContain(t, out, "Welcome to Brainstorm! For usage information, enter 'help'.", "Goodbye!")
			mustNotContain(t, out, "Local animi:")
		})
	}
}

func TestEndOfInputEndsSession(t *testing.T) {
	f := newFixture(t)
	mustContain(t, f.run(t, ""), "Goodbye!")
}

func TestUnknownCommandKeepsGoing(t *testing.T) {
	f := newFixture(t)
	out := f.run(t, "bogus\n\nlist-all\nquit\n")
	mustContain(t, out, `unknown command "bogus"`, "Local animi:")
}

func TestWrongArgCount(t *testing.T) {
	f := newFixture(t)
	out := f.run(t, "select\nquit\n")
	mustContain(t, out, "accepts 1 arg(s), received 0")
}

func TestListAll(t *testing.T) {
	f := newFixture(t)
	f.local(t, "b", "a")
	if err := f.paths.WriteRemote("r", net.ParseIP("10.0.0.2")); err != nil {
		t.Fatal(err)
	}
	out := f.run(t, "list-all\nquit\n")
	mustContain(t, out, "Local animi:\n  a\n  b\nRemote animi:\n  r (10.0.0.2)\n")
}

func TestListNetworks(t *testing.T) {
	f := newFixture(t)
	for _, name := range []string{"cortex.nn", "notes.txt"} {
		if err := os.WriteFile(f.paths.NetworkPath(name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	out := f.run(t, "list-networks\nquit\n")
	mustContain(t, out, "cortex.nn\n")
	mustNotContain(t, out, "notes.txt")
}

func TestListActive(t *testing.T) {
	f := newFixture(t,
		&animustest.Animus{Name: "a", Active: true},
		&animustest.Animus{Name: "b"},
		&animustest.Animus{Name: "r", Active: true},
	)
	f.local(t, "a", "b")
	if err := f.paths.WriteRemote("r", net.ParseIP("10.0.0.9")); err != nil {
		t.Fatal(err)
	}

	out := f.run(t, "list-active\nquit\n")
	mustContain(t, out, "\na\nr\n")
	mustNotContain(t, out, "\nb\n")
	for _, name := range []string{"a", "b", "r"} {
		if got := f.net.SentTo(name); !slices.Equal(got, []protocol.ActionType{protocol.ActionQuery}) {
			t.Errorf("%s received %v, want one Query", name, got)
		}
	}
}

func TestSelectAnimus(t *testing.T) {
	f := newFixture(t, &animustest.Animus{
		Name: "a", Active: true, Version: "1.2", Outputs: []string{"x", "y"},
	})
	f.local(t, "a")

	out := f.run(t, "select a\nversion\nlist-outputs\nsave\nback\nlist-all\nquit\n")
	mustContain(t, out,
		"Selected animus 'a'",
		`a (Version): Return "1.2"`,
		"x\ny\n",
		"Saving network state...",
		"Local animi:",
	)
	mustNotContain(t, out, "unregistered")

	want := []protocol.ActionType{
		protocol.ActionQuery, protocol.ActionVersion, protocol.ActionListOutputs, protocol.ActionSave,
	}
	if got := f.net.SentTo("a"); !slices.Equal(got, want) {
		t.Errorf("sent %v, want %v", got, want)
	}
}

func TestSelectStructuredOutput(t *testing.T) {
	f := newFixture(t, &animustest.Animus{Name: "a", Active: true, Structures: []string{"v1"}})
	f.opts.Dispatcher = dispatch.New(f.net, dispatch.Options{
		Timeout: 20 * time.Millisecond, Output: f.out, Format: "json",
	})
	f.opts.Format = "json"

	out := f.run(t, "select a\nlist-structures\nback\nquit\n")
	mustContain(t, out, "WARN: 'a' is unregistered", `"action": "ListStructures"`)
}

func TestSelectInactive(t *testing.T) {
	f := newFixture(t, &animustest.Animus{Name: "ghost"})
	out := f.run(t, "select ghost\nquit\n")
	mustContain(t, out, "'ghost' is not active")
	mustNotContain(t, out, "Selected animus")
}

func TestSelectSilentCommand(t *testing.T) {
	f := newFixture(t, &animustest.Animus{
		Name: "a", Active: true,
		Override: map[protocol.ActionType]animustest.Handler{protocol.ActionName: animustest.Silent},
	})
	out := f.run(t, "select a\nname\nback\nquit\n")
	mustContain(t, out, "No response from animus 'a' to Name")
}

func TestEndOfInputInsideSubShell(t *testing.T) {
	f := newFixture(t, &animustest.Animus{Name: "a", Active: true})
	out := f.run(t, "select a\n")
	mustContain(t, out, "Selected animus 'a'", "Goodbye!")
}

func TestGroupCreatedOnRequest(t *testing.T) {
	f := newFixture(t)
	f.local(t, "a")

	out := f.run(t, "group g\n\nadd a\nadd a\nadd nobody\nlist-members\nback\nquit\n")
	mustContain(t, out,
		"Created group 'g'",
		"Selected group 'g'",
		"Added 'a' to group 'g'",
		"group already contains 'a'",
		"Animus 'nobody' not found! Use `list-all`",
	)
	members, err := f.groups.Members("g")
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(members, []string{"a"}) {
		t.Errorf("members = %v, want [a]", members)
	}
}

func TestGroupCreationDeclined(t *testing.T) {
	f := newFixture(t)
	out := f.run(t, "group g\nn\nquit\n")
	mustNotContain(t, out, "Selected group")
	if f.groups.Exists("g") {
		t.Error("group was created after declining")
	}
}

func TestGroupInvalidName(t *testing.T) {
	f := newFixture(t)
	out := f.run(t, "group ../etc\nquit\n")
	mustContain(t, out, "WARN: An error occurred while executing 'group' command")
}

func TestGroupRemove(t *testing.T) {
	f := newFixture(t)
	if err := f.groups.WriteMembers("g", []string{"a", "b"}); err != nil {
		t.Fatal(err)
	}
	out := f.run(t, "group g\nremove a\nremove a\nback\nquit\n")
	mustContain(t, out, "Removed 'a' from group 'g'", "animus 'a' not found in group")

	members, _ := f.groups.Members("g")
	if !slices.Equal(members, []string{"b"}) {
		t.Errorf("members = %v, want [b]", members)
	}
}

func TestGroupBroadcast(t *testing.T) {
	a := &animustest.Animus{Name: "a", Active: true}
	b := &animustest.Animus{Name: "b", Active: true}
	c := &animustest.Animus{Name: "c"}
	f := newFixture(t, a, b, c)
	if err := f.groups.WriteMembers("g", []string{"a", "c", "b"}); err != nil {
		t.Fatal(err)
	}

	out := f.run(t, "group g\nwake\nback\nquit\n")
	if !a.Awake || !b.Awake {
		t.Errorf("awake a=%v b=%v, want both", a.Awake, b.Awake)
	}
	mustContain(t, out, "No response from animus 'c' to Wake", "1 of the group's animi did not complete Wake")
}

func TestGroupAutoLinkAndHistory(t *testing.T) {
	a := &animustest.Animus{Name: "a", Active: true, Outputs: []string{"t", "motor"}}
	b := &animustest.Animus{Name: "b", Active: true, Inputs: []protocol.ReceiverInfo{
		{TractName: "t", Addr: "127.0.0.1:9000"},
	}}
	f := newFixture(t, a, b)
	if err := f.groups.WriteMembers("g", []string{"a", "b"}); err != nil {
		t.Fatal(err)
	}

	out := f.run(t, "group g\nlink-history\nauto-link\nlink-history\nback\nquit\n")
	mustContain(t, out,
		"No auto-link runs recorded for group 'g'",
		"NOTE -- Some Outputs were not linked (these may go to Motors):\na: motor\n",
		"Linked 1 tract(s) in group 'g'\n",
		"  t: a -> b (127.0.0.1:9000) [attempted]\n",
	)
	if len(a.Links) != 1 || a.Links[0].TractName != "t" {
		t.Errorf("a.Links = %+v, want the t receiver", a.Links)
	}
}

func TestGroupAutoLinkAbort(t *testing.T) {
	f := newFixture(t,
		&animustest.Animus{Name: "a", Active: true},
		&animustest.Animus{Name: "c"},
	)
	if err := f.groups.WriteMembers("g", []string{"a", "c"}); err != nil {
		t.Fatal(err)
	}
	out := f.run(t, "group g\nauto-link\nback\nquit\n")
	mustContain(t, out, "Animus 'c' is not active. Please activate all animi in the group 'g' before linking tracts.")
	mustNotContain(t, out, "Linked")
}

func TestLinkHistoryDisabled(t *testing.T) {
	f := newFixture(t)
	f.opts.History = nil
	if err := f.groups.Create("g"); err != nil {
		t.Fatal(err)
	}
	out := f.run(t, "group g\nlink-history\nback\nquit\n")
	mustContain(t, out, "The link ledger is disabled")
}

func TestAnimateMissingNetwork(t *testing.T) {
	f := newFixture(t)
	out := f.run(t, "animate nope.nn\nquit\n")
	mustContain(t, out, "Network 'nope.nn' not found! Use `list-networks`")
}

func TestAnimateAsksForValidName(t *testing.T) {
	f := newFixture(t)
	if err := os.WriteFile(f.paths.NetworkPath("bad-name.nn"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	out := f.run(t, "animate bad-name.nn\n\nquit\n")
	mustContain(t, out,
		"Invalid character(s) in string. Use a-Z, 0-9, or underscores.",
		"Type a new name or submit an empty line to cancel.",
		"No name chosen.",
	)
	if _, err := os.Stat(f.paths.AnimusDir("bad-name")); !os.IsNotExist(err) {
		t.Error("animus directory created for a cancelled animate")
	}
}

func TestAnimateRejectsActiveName(t *testing.T) {
	f := newFixture(t, &animustest.Animus{Name: "cortex", Active: true})
	if err := os.WriteFile(f.paths.NetworkPath("cortex.nn"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	out := f.run(t, "animate cortex.nn\nbad name\n\nquit\n")
	mustContain(t, out,
		"Animus 'cortex' is already active!",
		"Invalid character(s) in string.",
		"No name chosen.",
	)
}

func TestAddRemote(t *testing.T) {
	f := newFixture(t)
	out := f.run(t, "add-remote r 10.1.2.3\nadd-remote r 10.1.2.4\nadd-remote s nope\nquit\n")
	mustContain(t, out,
		"Registered remote animus 'r' at 10.1.2.3",
		"WARN: 'r' is not answering yet",
		"animus 'r' already exists",
		`invalid IP address: "nope"`,
	)
	ip, err := f.paths.ReadRemote("r")
	if err != nil {
		t.Fatal(err)
	}
	if !ip.Equal(net.ParseIP("10.1.2.3")) {
		t.Errorf("remote ip = %s", ip)
	}
}

func TestLoad(t *testing.T) {
	f := newFixture(t, &animustest.Animus{Name: "a", Active: true})
	f.local(t, "a")
	if err := f.paths.WriteRemote("r", net.ParseIP("10.0.0.1")); err != nil {
		t.Fatal(err)
	}
	out := f.run(t, "load ghost\nload a\nload r\nquit\n")
	mustContain(t, out,
		"Animus 'ghost' not found! Use `list-all`",
		"Animus 'a' is already active!",
		"Animus 'r' is remote",
	)
}

func TestLoadLaunchesBinary(t *testing.T) {
	f := newFixture(t)
	f.local(t, "a")
	bin := f.paths.Binary("a")
	if err := os.MkdirAll(filepath.Dir(bin), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(bin, []byte("#!/bin/sh\ntouch started\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	out := f.run(t, "load a\nquit\n")
	mustContain(t, out, "Animus 'a' is loaded! (pid ")

	started := filepath.Join(f.paths.AnimusDir("a"), "started")
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(started); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("animusd was not started")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
