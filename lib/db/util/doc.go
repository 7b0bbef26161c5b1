// Package util provides building blocks shared by the db.KVDB implementations.
//
// The package contains:
//   - envelope: The value envelope (deadline + value) used by engines without native expiration
//   - resolve: ResolveBatch, which turns the relative expiration semantics of a db.Batch into absolute deadlines
//   - dump: The engine independent Save/Load format
//   - mapheap: A priority queue with key-based access, used as expiration queue
//   - statistics: A SizeHistogram for cheap size estimates and Stats to summarize samples
//   - prefix: Prefix bounds for engine iterators (IterOptions.Prefix)
//   - functions: Deadline arithmetic and small helpers
package util
