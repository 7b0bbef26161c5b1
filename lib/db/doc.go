// Package db defines the ordered key-value substrate the hKV collection engines
// are built on, together with the identifiers and capability flags of the
// available implementations.
//
// Key Components:
//
//   - KVDB Interface: A sorted, byte-keyed store. Besides point operations
//     (Get, Put, Delete) it offers atomic batches (Write), native per-key
//     expiration (TTL, GarbageCollect), point-in-time snapshots
//     (NewSnapshot) and forward iterators (NewIterator). Save and Load move
//     the live entries between engines in one shared dump format.
//
//   - Batch: An ordered list of write operations that is applied atomically.
//     Puts carry their expiration semantics explicitly: Put clears it,
//     PutKeepTTL keeps the current one, PutWithTTL and PutWithExpireAt set a
//     relative or absolute deadline and PutInheritTTL copies the deadline of a
//     reference key. The last variant lets collection engines write field
//     entries that expire together with their meta record.
//
//   - Snapshot and Iterator: Read-only views. An iterator is created unpositioned
//     and must be positioned with Seek. The byte slices returned by Key and Value
//     are only valid until the iterator moves, callers copy what they keep.
//
//   - Feature Flags: Implementations announce their capabilities through
//     SupportsFeature. FeatureAll is the set the collection engines require.
//
// Expiration contract:
//   - Expired entries are invisible to Get, TTL, snapshots and iterators as soon
//     as their deadline passes, even if they are still stored physically.
//   - GarbageCollect (and the background collector of each engine) removes them.
//   - TTL reports the remaining seconds rounded up, NoTTL for entries without a
//     deadline and ErrNotFound for missing or expired keys.
//
// Implementations live in the engines sub packages (maple, pebbledb, boltdb),
// the shared conformance suite in the testing sub package.
package db
