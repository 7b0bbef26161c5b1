// Package boltdb implements db.KVDB on a single bucket of a go.etcd.io/bbolt file.
//
// Values are wrapped in the envelope of util.EncodeEntry. Batches run in one
// read-write transaction, snapshots and iterators hold a read transaction
// until they are released or closed.
package boltdb
