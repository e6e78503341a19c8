// Package branch defines the branch model and the read-only directory used
// to resolve orchestration targets.
//
// Branches are owned by the admin CRUD layer; this core only reads them.
package branch

import (
	"context"
	"errors"
	"fmt"

	"github.com/oryxerp/branchrun"
	"github.com/oryxerp/branchrun/id"
)

// Branch is an organizational or physical unit of the business that
// periodic operations are scoped to.
type Branch struct {
	branchrun.Entity

	ID     id.BranchID `json:"id"`
	Code   string      `json:"code"`
	Name   string      `json:"name"`
	Active bool        `json:"active"`
}

// Directory is the read-only branch lookup contract. Implementations return
// branchrun.ErrBranchNotFound for unknown identifiers.
type Directory interface {
	// ListActive returns all active branches.
	ListActive(ctx context.Context) ([]*Branch, error)

	// GetBranch retrieves a branch by ID, active or not.
	GetBranch(ctx context.Context, branchID id.BranchID) (*Branch, error)

	// GetBranchByCode retrieves a branch by its human-readable code.
	GetBranchByCode(ctx context.Context, code string) (*Branch, error)
}

// Filter selects a subset of branches by ID or code.
// A zero Filter selects all active branches.
type Filter struct {
	IDs   []id.BranchID `json:"ids,omitempty"`
	Codes []string      `json:"codes,omitempty"`
}

// IsZero reports whether the filter selects all active branches.
func (f Filter) IsZero() bool {
	return len(f.IDs) == 0 && len(f.Codes) == 0
}

// Resolve expands a filter into the target branch set. Any unknown explicit
// identifier fails the whole resolution with branchrun.ErrBranchNotFound
// before a single branch is processed. Duplicate identifiers resolve to the
// branch once.
func Resolve(ctx context.Context, dir Directory, f Filter) ([]*Branch, error) {
	if f.IsZero() {
		branches, err := dir.ListActive(ctx)
		if err != nil {
			return nil, fmt.Errorf("branch: list active: %w", err)
		}
		return branches, nil
	}

	seen := make(map[string]struct{}, len(f.IDs)+len(f.Codes))
	result := make([]*Branch, 0, len(f.IDs)+len(f.Codes))

	add := func(b *Branch) {
		key := b.ID.String()
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		result = append(result, b)
	}

	for _, branchID := range f.IDs {
		b, err := dir.GetBranch(ctx, branchID)
		if err != nil {
			if errors.Is(err, branchrun.ErrBranchNotFound) {
				return nil, fmt.Errorf("branch: resolve id %q: %w", branchID.String(), branchrun.ErrBranchNotFound)
			}
			return nil, fmt.Errorf("branch: resolve id %q: %w", branchID.String(), err)
		}
		add(b)
	}

	for _, code := range f.Codes {
		b, err := dir.GetBranchByCode(ctx, code)
		if err != nil {
			if errors.Is(err, branchrun.ErrBranchNotFound) {
				return nil, fmt.Errorf("branch: resolve code %q: %w", code, branchrun.ErrBranchNotFound)
			}
			return nil, fmt.Errorf("branch: resolve code %q: %w", code, err)
		}
		add(b)
	}

	return result, nil
}
