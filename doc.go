// Package branchrun provides the periodic job orchestration core for a
// multi-branch ERP: it runs a business operation exactly once per
// (job kind, branch, period) combination, safely under overlapping
// scheduler invocations and horizontally scaled worker processes.
//
// branchrun is a library, not a service. Import it, wire a store, register
// operations for your job kinds, and invoke the orchestrator from a
// scheduler tick, a CLI, or an admin action.
//
// # Quick Start
//
//	reg := operation.NewRegistry()
//	reg.Register(branchrun.CloseDay, closeDayOp)
//
//	orc := orchestrator.New(store, store, store, reg)
//	summary, err := orc.Run(ctx, branchrun.CloseDay, orchestrator.RunOptions{
//	    Anchor: time.Now().UTC(),
//	})
//
// # Architecture
//
// Two independent layers guard every run. A distributed lock (lock.Locker)
// prevents concurrent execution of the same (kind, branch, period) tuple
// across processes; the run ledger (ledger.Store) prevents re-execution
// after a completed success. Both must pass before the operation is invoked.
// Each backend in store/ implements all subsystem store interfaces.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package branchrun
