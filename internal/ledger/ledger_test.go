package ledger

import (
	"context"
	"testing"
	"time"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestLastRunEmpty(t *testing.T) {
	l := newTestLedger(t)

	run, err := l.LastRun(context.Background(), "retina")
	if err != nil {
		t.Fatal(err)
	}
	if run != nil {
		t.Fatalf("expected no run, got %+v", run)
	}
}

func TestRecordAndConfirm(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	id, err := l.BeginRun(ctx, "retina")
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	if len(id) != 36 {
		t.Errorf("run id %q is not a uuid", id)
	}

	for _, a := range []Attempt{
		{Tract: "optic", Sender: "eye", Receiver: "lgn", Addr: "127.0.0.1:5001"},
		{Tract: "blink", Sender: "lgn", Receiver: "eye", Addr: "127.0.0.1:5002"},
	} {
		if err := l.RecordAttempt(ctx, id, a); err != nil {
			t.Fatalf("RecordAttempt: %v", err)
		}
	}
	if err := l.SetState(ctx, id, "optic", StateConfirmed); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	if err := l.SetState(ctx, id, "missing", StateFailed); err == nil {
		t.Error("SetState on unknown tract should fail")
	}

	run, err := l.LastRun(ctx, "retina")
	if err != nil {
		t.Fatal(err)
	}
	if run == nil || run.ID != id || run.Group != "retina" {
		t.Fatalf("LastRun = %+v", run)
	}
	if len(run.Attempts) != 2 {
		t.Fatalf("attempts = %d, want 2", len(run.Attempts))
	}
	// Ordered by tract name.
	if run.Attempts[0].Tract != "blink" || run.Attempts[0].State != StateAttempted {
		t.Errorf("attempt[0] = %+v", run.Attempts[0])
	}
	if run.Attempts[1].Tract != "optic" || run.Attempts[1].State != StateConfirmed {
		t.Errorf("attempt[1] = %+v", run.Attempts[1])
	}
}

func TestLastRunPicksNewest(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	first, err := l.BeginRun(ctx, "retina")
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)
	second, err := l.BeginRun(ctx, "retina")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.BeginRun(ctx, "cochlea"); err != nil {
		t.Fatal(err)
	}

	run, err := l.LastRun(ctx, "retina")
	if err != nil {
		t.Fatal(err)
	}
	if run.ID != second || run.ID == first {
		t.Errorf("LastRun = %s, want %s", run.ID, second)
	}
	if len(run.Attempts) != 0 {
		t.Errorf("attempts = %d, want 0", len(run.Attempts))
	}
}

func TestReopenKeepsHistory(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	l, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	id, err := l.BeginRun(ctx, "retina")
	if err != nil {
		t.Fatal(err)
	}
	if err := l.RecordAttempt(ctx, id, Attempt{Tract: "optic", Sender: "eye", Receiver: "lgn", Addr: "a"}); err != nil {
		t.Fatal(err)
	}
	l.Close()

	l, err = Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer l.Close()

	run, err := l.LastRun(ctx, "retina")
	if err != nil || run == nil || len(run.Attempts) != 1 {
		t.Fatalf("after reopen: run=%+v err=%v", run, err)
	}
}
