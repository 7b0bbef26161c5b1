// Package testing provides standardised tests and benchmarks for
// database implementations that satisfy the db.KVDB interface.
//
// The package contains:
//   - testing: A conformance suite for the KVDB contract (batches, expiration,
//     snapshots, iterators, persistence)
//   - benchmark: Performance tests for common database operations
//   - clock: A ManualClock so expiration can be tested without sleeping
//
// Example usage:
//
//	factory := func(tb testing.TB, clock func() time.Time) db.KVDB {
//		return NewMyDatabase(clock)
//	}
//
//	dbtesting.RunKVDBTests(t, "MyDatabase", factory)
//	dbtesting.RunKVDBBenchmarks(b, "MyDatabase", factory)
package testing
