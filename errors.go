package branchrun

import "errors"

var (
	// Store errors.
	ErrStoreClosed          = errors.New("branchrun: store closed")
	ErrLockStoreUnavailable = errors.New("branchrun: lock store unavailable")

	// Not found errors.
	ErrBranchNotFound = errors.New("branchrun: branch not found")
	ErrRecordNotFound = errors.New("branchrun: run record not found")
	ErrEntryNotFound  = errors.New("branchrun: schedule entry not found")
	ErrUnknownJobKind = errors.New("branchrun: unknown job kind")

	// Conflict errors.
	ErrDuplicateEntry = errors.New("branchrun: duplicate schedule entry")

	// Scope errors.
	ErrScopeActive = errors.New("branchrun: branch scope already active")
)
