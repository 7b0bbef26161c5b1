// Package lockmgr implements the process-wide record lock table used by the
// collection engines to serialize mutations of the same logical key.
//
// The table is an xsync.MapOf from key to a small entry (a mutex plus a
// reference count). Entries are created on demand and removed again when the
// last holder or waiter releases them, so the table only ever holds keys that
// are currently contended or locked:
//
//	Lock(key):    Compute(key) { create if missing; refs++ }  -> entry.mu.Lock()
//	unlock():     entry.mu.Unlock() -> Compute(key) { refs--; delete if refs == 0 }
//
// The reference count is only modified inside Compute, which xsync runs under
// the bucket lock of the key. A goroutine that registered itself before the
// count dropped to zero therefore always keeps the entry alive, and a
// goroutine that arrives after the deletion creates a fresh entry.
//
// Core Functionality:
//   - Lock: blocking acquisition, returns an idempotent unlock function
//   - TryLock: non-blocking acquisition
//   - Len / Stats: size of the table and usage metrics
//
// Metrics:
//
//	The lock table records its usage with github.com/rcrowley/go-metrics:
//	"lockmgr.wait" (timer), "lockmgr.acquired" and "lockmgr.contended"
//	(counters) and "lockmgr.entries" (gauge). Pass a registry to
//	NewLockManager to export them, otherwise a private registry is used.
//
// Usage Example:
//
//	locks := lockmgr.NewLockManager(nil)
//
//	unlock := locks.Lock([]byte("user:42"))
//	defer unlock()
//	// read-modify-write of user:42
//
// Locks are not reentrant: locking the same key twice from one goroutine
// without unlocking in between deadlocks.
package lockmgr
