package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/oryxerp/branchrun"
	"github.com/oryxerp/branchrun/branch"
	"github.com/oryxerp/branchrun/id"
)

// PutBranch upserts a branch. Branch ownership lives in the admin layer;
// this is the sync point it writes through.
func (s *Store) PutBranch(ctx context.Context, b *branch.Branch) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO branchrun_branches (id, code, name, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (id) DO UPDATE
		SET code = EXCLUDED.code, name = EXCLUDED.name,
		    active = EXCLUDED.active, updated_at = NOW()`,
		b.ID.String(), b.Code, b.Name, b.Active, b.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("branchrun/postgres: put branch: %w", err)
	}
	return nil
}

// ListActive returns all active branches sorted by code.
func (s *Store) ListActive(ctx context.Context) ([]*branch.Branch, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, code, name, active, created_at, updated_at
		FROM branchrun_branches
		WHERE active = TRUE
		ORDER BY code ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("branchrun/postgres: list active branches: %w", err)
	}
	defer rows.Close()

	var branches []*branch.Branch
	for rows.Next() {
		b, scanErr := scanBranch(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("branchrun/postgres: scan branch row: %w", scanErr)
		}
		branches = append(branches, b)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("branchrun/postgres: iterate branch rows: %w", err)
	}
	return branches, nil
}

// GetBranch retrieves a branch by ID.
func (s *Store) GetBranch(ctx context.Context, branchID id.BranchID) (*branch.Branch, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, code, name, active, created_at, updated_at
		FROM branchrun_branches
		WHERE id = $1`,
		branchID.String(),
	)

	b, err := scanBranch(row)
	if err != nil {
		if isNoRows(err) {
			return nil, branchrun.ErrBranchNotFound
		}
		return nil, fmt.Errorf("branchrun/postgres: get branch: %w", err)
	}
	return b, nil
}

// GetBranchByCode retrieves a branch by its code.
func (s *Store) GetBranchByCode(ctx context.Context, code string) (*branch.Branch, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, code, name, active, created_at, updated_at
		FROM branchrun_branches
		WHERE code = $1`,
		code,
	)

	b, err := scanBranch(row)
	if err != nil {
		if isNoRows(err) {
			return nil, branchrun.ErrBranchNotFound
		}
		return nil, fmt.Errorf("branchrun/postgres: get branch by code: %w", err)
	}
	return b, nil
}

// scanBranch scans a single branch row.
func scanBranch(row pgx.Row) (*branch.Branch, error) {
	var (
		b     branch.Branch
		idStr string
	)
	err := row.Scan(&idStr, &b.Code, &b.Name, &b.Active, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}

	parsedID, parseErr := id.ParseBranchID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("branchrun/postgres: parse branch id %q: %w", idStr, parseErr)
	}
	b.ID = parsedID

	return &b, nil
}
