// Package pebbledb implements db.KVDB on top of the cockroachdb/pebble LSM tree.
//
// pebble has no native per-key expiration, every value is therefore stored in
// the envelope of util.EncodeEntry (8 byte deadline + value). Reads and
// iterators decode the envelope and skip expired entries, a periodic sweep
// deletes them physically.
//
// Batches with keep or inherit semantics need the current deadline of a key
// before they can be committed. All writes are serialized by one mutex so the
// looked up deadlines can not change before the pebble batch is committed.
//
// With an empty Options.Dir the database runs on pebble's in-memory file
// system (vfs.NewMem), which is used by the tests.
package pebbledb
