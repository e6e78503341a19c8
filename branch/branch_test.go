package branch_test

import (
	"context"
	"errors"
	"testing"

	"github.com/oryxerp/branchrun"
	"github.com/oryxerp/branchrun/branch"
	"github.com/oryxerp/branchrun/id"
	"github.com/oryxerp/branchrun/store/memory"
)

func seed(s *memory.Store, code string, active bool) *branch.Branch {
	b := &branch.Branch{
		Entity: branchrun.NewEntity(),
		ID:     id.NewBranchID(),
		Code:   code,
		Name:   code + " Branch",
		Active: active,
	}
	s.PutBranch(b)
	return b
}

func TestResolveZeroFilterListsActive(t *testing.T) {
	t.Parallel()

	s := memory.New()
	seed(s, "MAIN", true)
	seed(s, "WEST", true)
	seed(s, "OLD", false)

	got, err := branch.Resolve(context.Background(), s, branch.Filter{})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Resolve() returned %d branches, want 2", len(got))
	}
	for _, b := range got {
		if !b.Active {
			t.Errorf("Resolve() returned inactive branch %q", b.Code)
		}
	}
}

func TestResolveExplicitIdentifiers(t *testing.T) {
	t.Parallel()

	s := memory.New()
	main := seed(s, "MAIN", true)
	seed(s, "WEST", true)
	east := seed(s, "EAST", true)

	got, err := branch.Resolve(context.Background(), s, branch.Filter{
		IDs:   []id.BranchID{main.ID},
		Codes: []string{"EAST"},
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Resolve() returned %d branches, want 2", len(got))
	}
	if got[0].ID.String() != main.ID.String() || got[1].ID.String() != east.ID.String() {
		t.Errorf("Resolve() order = %q, %q", got[0].Code, got[1].Code)
	}
}

func TestResolveDeduplicates(t *testing.T) {
	t.Parallel()

	s := memory.New()
	main := seed(s, "MAIN", true)

	got, err := branch.Resolve(context.Background(), s, branch.Filter{
		IDs:   []id.BranchID{main.ID, main.ID},
		Codes: []string{"MAIN"},
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(got) != 1 {
		t.Errorf("Resolve() returned %d branches for duplicated identifiers, want 1", len(got))
	}
}

func TestResolveUnknownIdentifierAborts(t *testing.T) {
	t.Parallel()

	s := memory.New()
	main := seed(s, "MAIN", true)

	_, err := branch.Resolve(context.Background(), s, branch.Filter{
		IDs:   []id.BranchID{main.ID},
		Codes: []string{"NOPE"},
	})
	if !errors.Is(err, branchrun.ErrBranchNotFound) {
		t.Fatalf("Resolve() error = %v, want ErrBranchNotFound", err)
	}

	_, err = branch.Resolve(context.Background(), s, branch.Filter{
		IDs: []id.BranchID{id.NewBranchID()},
	})
	if !errors.Is(err, branchrun.ErrBranchNotFound) {
		t.Fatalf("Resolve() error = %v, want ErrBranchNotFound", err)
	}
}
