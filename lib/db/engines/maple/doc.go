// Package maple implements an in-memory db.KVDB on top of a copy-on-write
// b-tree (github.com/google/btree).
//
// All entries live in one BTreeG sorted bytewise by key, guarded by a
// read-write mutex. Snapshots are O(1) clones of the tree: the clone shares
// all nodes with the live tree and nodes are copied lazily when the live tree
// is modified. Iterators always walk such a clone in chunks, so they are never
// invalidated by concurrent writes.
//
// Expiration:
//   - Every entry with a deadline is registered in a util.MapHeap keyed by the
//     entry key. Overwriting or deleting an entry updates the heap, the heap
//     therefore always holds the current deadline of every key.
//   - Reads compare the deadline with the configured clock and hide expired
//     entries immediately.
//   - A background goroutine calls GarbageCollect every GCInterval and pops all
//     due entries from the heap. A negative GCInterval disables it, which is
//     what tests with a manual clock want.
//
// The database is volatile. Save and Load use the shared dump format of
// lib/db/util and can be used to persist it or to move data to another engine.
package maple
