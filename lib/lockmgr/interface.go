package lockmgr

// ILockManager serializes work on individual records.
// Locks are keyed by arbitrary byte strings and are not reentrant.
type ILockManager interface {
	// Lock blocks until the lock for key is held and returns the function that releases it.
	// Calling the returned function more than once has no effect.
	Lock(key []byte) (unlock func())

	// TryLock acquires the lock for key only if it is free.
	// ok reports whether the lock was acquired, unlock is nil otherwise.
	TryLock(key []byte) (unlock func(), ok bool)

	// Len returns the number of keys that are currently locked or waited for.
	Len() int

	// Stats returns statistics about the lock table.
	Stats() Stats
}

// Stats describes the usage of a lock table
type Stats struct {
	Entries    int     `json:"entries"`      // live entries of the table
	Acquired   int64   `json:"acquired"`     // locks acquired so far
	Contended  int64   `json:"contended"`    // acquisitions that had to wait (or TryLock failures)
	WaitMeanNs float64 `json:"wait_mean_ns"` // mean time spent waiting in Lock
	WaitP99Ns  float64 `json:"wait_p99_ns"`  // 99th percentile of the time spent waiting in Lock
	MaxEntries int64   `json:"max_entries"`  // highest number of live entries seen
}
