package scope_test

import (
	"context"
	"errors"
	"testing"

	"github.com/oryxerp/branchrun"
	"github.com/oryxerp/branchrun/id"
	"github.com/oryxerp/branchrun/scope"
)

func TestEnterAndBranchFrom(t *testing.T) {
	t.Parallel()

	branchID := id.NewBranchID()
	scoped, release, err := scope.Enter(context.Background(), branchID)
	if err != nil {
		t.Fatalf("Enter() error = %v", err)
	}
	defer release()

	got, ok := scope.BranchFrom(scoped)
	if !ok {
		t.Fatal("BranchFrom() = not active, want active")
	}
	if got.String() != branchID.String() {
		t.Errorf("BranchFrom() = %s, want %s", got, branchID)
	}
}

func TestUnscopedContext(t *testing.T) {
	t.Parallel()

	if _, ok := scope.BranchFrom(context.Background()); ok {
		t.Error("BranchFrom() active on unscoped context")
	}
}

func TestReleaseClearsScope(t *testing.T) {
	t.Parallel()

	scoped, release, err := scope.Enter(context.Background(), id.NewBranchID())
	if err != nil {
		t.Fatalf("Enter() error = %v", err)
	}

	release()

	if _, ok := scope.BranchFrom(scoped); ok {
		t.Error("BranchFrom() still active after release")
	}

	// Idempotent release.
	release()
	if _, ok := scope.BranchFrom(scoped); ok {
		t.Error("BranchFrom() active after double release")
	}
}

func TestReleaseVisibleThroughDerivedContext(t *testing.T) {
	t.Parallel()

	scoped, release, err := scope.Enter(context.Background(), id.NewBranchID())
	if err != nil {
		t.Fatalf("Enter() error = %v", err)
	}

	derived, cancel := context.WithCancel(scoped)
	defer cancel()

	if _, ok := scope.BranchFrom(derived); !ok {
		t.Fatal("scope not visible through derived context")
	}

	release()

	if _, ok := scope.BranchFrom(derived); ok {
		t.Error("release not visible through derived context")
	}
}

func TestEnterRejectsNesting(t *testing.T) {
	t.Parallel()

	scoped, release, err := scope.Enter(context.Background(), id.NewBranchID())
	if err != nil {
		t.Fatalf("Enter() error = %v", err)
	}
	defer release()

	_, _, err = scope.Enter(scoped, id.NewBranchID())
	if !errors.Is(err, branchrun.ErrScopeActive) {
		t.Fatalf("nested Enter() error = %v, want ErrScopeActive", err)
	}
}

func TestEnterAfterRelease(t *testing.T) {
	t.Parallel()

	scoped, release, err := scope.Enter(context.Background(), id.NewBranchID())
	if err != nil {
		t.Fatalf("Enter() error = %v", err)
	}
	release()

	// A released scope no longer blocks a new one.
	next := id.NewBranchID()
	rescoped, release2, err := scope.Enter(scoped, next)
	if err != nil {
		t.Fatalf("Enter() after release error = %v", err)
	}
	defer release2()

	got, ok := scope.BranchFrom(rescoped)
	if !ok || got.String() != next.String() {
		t.Errorf("BranchFrom() = %s, %v, want %s", got, ok, next)
	}
}
