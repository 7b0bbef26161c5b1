// Package volume merges the keyspaces of all collection types into one sorted
// stream and implements range operations on top of it.
//
// Each collection type (hash, list, set, plain key-value) keeps its entities
// in its own tagged keyspace and exposes them through Collection.VolumeScan.
// The Iterator performs a k-way merge over these sources with a binary
// min-heap:
//
//	seed:   one head (key, volume, type) per non-empty source
//	Valid:  heap not empty, fewer than limit entities emitted, root key <= end
//	Next:   pop the root, advance its source, push the new head back
//
// Equal keys of different types are emitted in the order of store.DataTypes
// (hash, list, set, kv).
//
// Volume is the size estimate of an entity: the volume counter of the meta
// record for collections, len(key)+len(value) for plain entries.
//
// RangeDelete collects the range in chunks, each from its own snapshot, and
// removes the collected entities through their collections once the snapshot
// is released. It is not transactional across entities:
// on failure it stops, keeps what was already deleted and reports the failing
// entity in a *RangeError.
package volume
