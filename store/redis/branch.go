package redis

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/oryxerp/branchrun"
	"github.com/oryxerp/branchrun/branch"
	"github.com/oryxerp/branchrun/id"
)

// ── JSON model for KV storage ──

type branchEntity struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toBranchEntity(b *branch.Branch) *branchEntity {
	return &branchEntity{
		ID:        b.ID.String(),
		Code:      b.Code,
		Name:      b.Name,
		Active:    b.Active,
		CreatedAt: b.CreatedAt,
		UpdatedAt: b.UpdatedAt,
	}
}

func fromBranchEntity(e *branchEntity) (*branch.Branch, error) {
	bID, err := id.ParseBranchID(e.ID)
	if err != nil {
		return nil, fmt.Errorf("branchrun/redis: parse branch id: %w", err)
	}

	return &branch.Branch{
		Entity: branchrun.Entity{
			CreatedAt: e.CreatedAt,
			UpdatedAt: e.UpdatedAt,
		},
		ID:     bID,
		Code:   e.Code,
		Name:   e.Name,
		Active: e.Active,
	}, nil
}

// PutBranch upserts a branch. Branch ownership lives in the admin layer;
// this is the sync point it writes through.
func (s *Store) PutBranch(ctx context.Context, b *branch.Branch) error {
	bID := b.ID.String()

	e := toBranchEntity(b)
	e.UpdatedAt = now()
	if err := s.setEntity(ctx, branchKey(bID), e); err != nil {
		return fmt.Errorf("branchrun/redis: put branch set: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, branchIDsKey, bID)
	pipe.HSet(ctx, branchCodesKey, b.Code, bID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("branchrun/redis: put branch indexes: %w", err)
	}
	return nil
}

// ListActive returns all active branches sorted by code.
func (s *Store) ListActive(ctx context.Context) ([]*branch.Branch, error) {
	ids, err := s.client.SMembers(ctx, branchIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("branchrun/redis: list branches: %w", err)
	}

	branches := make([]*branch.Branch, 0, len(ids))
	for _, bID := range ids {
		var e branchEntity
		if getErr := s.getEntity(ctx, branchKey(bID), &e); getErr != nil {
			continue
		}
		if !e.Active {
			continue
		}
		b, convErr := fromBranchEntity(&e)
		if convErr != nil {
			continue
		}
		branches = append(branches, b)
	}

	sort.Slice(branches, func(i, k int) bool {
		return branches[i].Code < branches[k].Code
	})

	return branches, nil
}

// GetBranch retrieves a branch by ID.
func (s *Store) GetBranch(ctx context.Context, branchID id.BranchID) (*branch.Branch, error) {
	var e branchEntity
	if err := s.getEntity(ctx, branchKey(branchID.String()), &e); err != nil {
		if isNotFound(err) {
			return nil, branchrun.ErrBranchNotFound
		}
		return nil, fmt.Errorf("branchrun/redis: get branch: %w", err)
	}
	return fromBranchEntity(&e)
}

// GetBranchByCode retrieves a branch by its code.
func (s *Store) GetBranchByCode(ctx context.Context, code string) (*branch.Branch, error) {
	bID, err := s.client.HGet(ctx, branchCodesKey, code).Result()
	if err != nil {
		if isRedisNil(err) {
			return nil, branchrun.ErrBranchNotFound
		}
		return nil, fmt.Errorf("branchrun/redis: get branch by code: %w", err)
	}
	parsed, parseErr := id.ParseBranchID(bID)
	if parseErr != nil {
		return nil, fmt.Errorf("branchrun/redis: get branch by code: %w", parseErr)
	}
	return s.GetBranch(ctx, parsed)
}
