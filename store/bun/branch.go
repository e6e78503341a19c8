package bunstore

import (
	"context"
	"fmt"

	"github.com/oryxerp/branchrun"
	"github.com/oryxerp/branchrun/branch"
	"github.com/oryxerp/branchrun/id"
)

// PutBranch upserts a branch. Branch ownership lives in the admin layer;
// this is the sync point it writes through.
func (s *Store) PutBranch(ctx context.Context, b *branch.Branch) error {
	m := toBranchModel(b)
	_, err := s.db.NewInsert().Model(m).
		On("CONFLICT (id) DO UPDATE").
		Set("code = EXCLUDED.code").
		Set("name = EXCLUDED.name").
		Set("active = EXCLUDED.active").
		Set("updated_at = NOW()").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("branchrun/bun: put branch: %w", err)
	}
	return nil
}

// ListActive returns all active branches sorted by code.
func (s *Store) ListActive(ctx context.Context) ([]*branch.Branch, error) {
	var models []branchModel
	err := s.db.NewSelect().Model(&models).
		Where("active = TRUE").
		Order("code ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("branchrun/bun: list active branches: %w", err)
	}

	branches := make([]*branch.Branch, 0, len(models))
	for i := range models {
		b, convErr := fromBranchModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("branchrun/bun: list branches convert: %w", convErr)
		}
		branches = append(branches, b)
	}
	return branches, nil
}

// GetBranch retrieves a branch by ID.
func (s *Store) GetBranch(ctx context.Context, branchID id.BranchID) (*branch.Branch, error) {
	m := new(branchModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", branchID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, branchrun.ErrBranchNotFound
		}
		return nil, fmt.Errorf("branchrun/bun: get branch: %w", err)
	}
	return fromBranchModel(m)
}

// GetBranchByCode retrieves a branch by its code.
func (s *Store) GetBranchByCode(ctx context.Context, code string) (*branch.Branch, error) {
	m := new(branchModel)
	err := s.db.NewSelect().Model(m).
		Where("code = ?", code).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, branchrun.ErrBranchNotFound
		}
		return nil, fmt.Errorf("branchrun/bun: get branch by code: %w", err)
	}
	return fromBranchModel(m)
}
