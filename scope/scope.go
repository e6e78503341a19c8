// Package scope carries the active branch of a logical execution on the
// context.Context so that downstream data-access layers can filter every
// query to it.
//
// A scope is entered once per branch iteration and released in a deferred
// call. Scopes never nest: entering an already-scoped context is a
// programmer error (branchrun.ErrScopeActive). Releasing through the
// returned function rather than a matching clear call means cleanup cannot
// be forgotten at a call site.
package scope

import (
	"context"
	"sync/atomic"

	"github.com/oryxerp/branchrun"
	"github.com/oryxerp/branchrun/id"
)

type ctxKey struct{}

// state is mutable so a release is visible through every context derived
// from the scoped one.
type state struct {
	branchID id.BranchID
	released atomic.Bool
}

// Enter scopes ctx to the given branch. It returns the scoped context and a
// release function; call release with defer. The release function is
// idempotent.
//
// Entering a context whose scope is still active fails with
// branchrun.ErrScopeActive; callers must release before entering again.
func Enter(ctx context.Context, branchID id.BranchID) (context.Context, func(), error) {
	if _, active := BranchFrom(ctx); active {
		return ctx, func() {}, branchrun.ErrScopeActive
	}

	s := &state{branchID: branchID}
	release := func() { s.released.Store(true) }
	return context.WithValue(ctx, ctxKey{}, s), release, nil
}

// BranchFrom returns the active branch for the context. It returns false if
// the context is unscoped or the scope has already been released.
func BranchFrom(ctx context.Context) (id.BranchID, bool) {
	s, ok := ctx.Value(ctxKey{}).(*state)
	if !ok || s.released.Load() {
		return id.Nil, false
	}
	return s.branchID, true
}
