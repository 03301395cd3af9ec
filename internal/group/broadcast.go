package group

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cajal/brainstorm/internal/protocol"
)

// Dispatcher is the subset of dispatch.Dispatcher the group operations use.
type Dispatcher interface {
	HandleCommand(ctx context.Context, name string, action protocol.Action) error
	SendCommand(ctx context.Context, name string, action protocol.Action) error
	ReadReport(ctx context.Context) (*protocol.Report, error)
	IsActive(ctx context.Context, name string) (bool, error)
	IsAwake(ctx context.Context, name string) (bool, error)
}

// MemberError is a failure attributed to one member of a group.
type MemberError struct {
	Animus string
	Err    error
}

func (e *MemberError) Error() string {
	return fmt.Sprintf("animus '%s': %v", e.Animus, e.Err)
}

func (e *MemberError) Unwrap() error { return e.Err }

// Broadcaster sends one action to every member of a group.
type Broadcaster struct {
	store *Store
	d     Dispatcher
}

// NewBroadcaster creates a broadcaster over the given store and dispatcher.
func NewBroadcaster(store *Store, d Dispatcher) *Broadcaster {
	return &Broadcaster{store: store, d: d}
}

// GroupAction reads the member list once and issues action to each member in
// order. A failing member is reported by the dispatcher and does not stop
// the loop; the per-member failures are returned for the caller's benefit.
// The error is non-nil only when the member list itself cannot be read.
func (b *Broadcaster) GroupAction(ctx context.Context, group string, action protocol.Action) ([]*MemberError, error) {
	members, err := b.store.Members(group)
	if err != nil {
		return nil, err
	}

	var failed []*MemberError
	for _, m := range members {
		if err := ctx.Err(); err != nil {
			return failed, err
		}
		if err := b.d.HandleCommand(ctx, m, action); err != nil {
			slog.Debug("group member failed", "group", group, "animus", m, "action", action.String(), "err", err)
			failed = append(failed, &MemberError{Animus: m, Err: err})
		}
	}
	return failed, nil
}
