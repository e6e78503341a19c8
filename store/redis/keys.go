package redis

// Redis key naming conventions for branchrun data.
// All keys are prefixed with "branchrun:" to avoid collisions.

const keyPrefix = "branchrun:"

// ── Run ledger keys ──

// recordKey returns the key for a run record: branchrun:record:{runKey}
func recordKey(runKey string) string { return keyPrefix + "record:" + runKey }

// ── Distributed lock keys ──

// lockKey returns the key for a run lock: branchrun:lock:{runKey}
func lockKey(runKey string) string { return keyPrefix + "lock:" + runKey }

// ── Branch keys ──

// branchKey returns the key for a branch entity: branchrun:branch:{id}
func branchKey(id string) string { return keyPrefix + "branch:" + id }

// branchIDsKey is the Set tracking all branch IDs for enumeration.
const branchIDsKey = keyPrefix + "branch_ids"

// branchCodesKey maps branch codes to IDs for lookup by code.
const branchCodesKey = keyPrefix + "branch_codes"

// ── Schedule entry keys ──

// entryKey returns the key for a schedule entry: branchrun:entry:{id}
func entryKey(id string) string { return keyPrefix + "entry:" + id }

// entryIDsKey is the Set tracking all entry IDs for enumeration.
const entryIDsKey = keyPrefix + "entry_ids"

// entryNamesKey maps entry names to IDs for duplicate detection.
const entryNamesKey = keyPrefix + "entry_names"
