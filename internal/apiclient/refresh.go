package apiclient

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

const refreshKey = "refresh"

// ErrSlotCleared is returned by Renew when the credential slot is empty,
// typically because a concurrent refresh failed and cleared it.
var ErrSlotCleared = errors.New("credential slot was cleared")

// RefreshFunc obtains, persists and returns a new credential. The
// coordinator runs at most one at a time.
type RefreshFunc func(ctx context.Context) (string, error)

// RefreshCoordinator makes concurrent callers share one in-flight refresh.
// It is Idle until a caller needs a refresh, InFlight while that refresh
// runs, and Idle again once it settles, whatever the outcome; the next
// caller then starts a new one.
type RefreshCoordinator struct {
	refresh RefreshFunc
	// current reads the stored credential. Nil disables supersede checks.
	current func(ctx context.Context) (string, error)
	group   singleflight.Group

	// generation counts settled refreshes. It is bumped after the refresh
	// has written the slot and before the flight is released, so a caller
	// that read the slot under an older generation can tell its view is stale.
	generation atomic.Uint64
	inFlight   atomic.Bool
	started    atomic.Int64
}

// NewRefreshCoordinator returns an idle coordinator. current may be nil.
func NewRefreshCoordinator(fn RefreshFunc, current func(ctx context.Context) (string, error)) *RefreshCoordinator {
	return &RefreshCoordinator{refresh: fn, current: current}
}

// Renew returns a credential to use in place of sent. If the slot already
// holds a different credential it is returned without refreshing; if the
// slot is empty ErrSlotCleared is returned. Otherwise, including when the
// slot cannot be read, the caller starts or joins the in-flight refresh.
func (rc *RefreshCoordinator) Renew(ctx context.Context, sent string) (token string, shared bool, err error) {
	gen := rc.generation.Load()
	if rc.current == nil {
		return rc.join(ctx, gen, false)
	}
	cur, err := rc.current(ctx)
	switch {
	case err != nil:
		return rc.join(ctx, gen, false)
	case cur == "":
		return "", false, ErrSlotCleared
	case cur != sent:
		return cur, false, nil
	}
	return rc.join(ctx, gen, true)
}

// Do starts a refresh or joins the one in flight, without consulting the slot.
func (rc *RefreshCoordinator) Do(ctx context.Context) (token string, shared bool, err error) {
	return rc.join(ctx, 0, false)
}

// join waits for the shared refresh. The refresh runs detached from the
// cancellation of the caller that started it: a caller whose ctx ends stops
// waiting but does not abort the refresh others are waiting on.
func (rc *RefreshCoordinator) join(ctx context.Context, gen uint64, checkGen bool) (string, bool, error) {
	detached := context.WithoutCancel(ctx)

	ch := rc.group.DoChan(refreshKey, func() (any, error) {
		if checkGen && rc.generation.Load() != gen {
			// A refresh settled between this caller reading the slot and
			// starting a flight; its outcome is already in the slot. An
			// unreadable slot falls through to a fresh refresh.
			if cur, err := rc.current(detached); err == nil {
				if cur == "" {
					return "", ErrSlotCleared
				}
				return cur, nil
			}
		}

		rc.started.Add(1)
		rc.inFlight.Store(true)
		defer func() {
			rc.generation.Add(1)
			rc.inFlight.Store(false)
		}()
		return rc.refresh(detached)
	})

	select {
	case <-ctx.Done():
		return "", false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Shared, res.Err
		}
		return res.Val.(string), res.Shared, nil
	}
}

// InFlight reports whether a refresh is currently running.
func (rc *RefreshCoordinator) InFlight() bool {
	return rc.inFlight.Load()
}

// Started returns how many refresh operations have been started.
func (rc *RefreshCoordinator) Started() int64 {
	return rc.started.Load()
}
