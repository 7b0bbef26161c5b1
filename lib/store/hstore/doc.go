// Package hstore implements hash collections on top of an ordered db.KVDB.
//
// A hash collection maps a collection key to a set of field/value pairs. Every
// field is stored as its own substrate entry, the per collection counters
// (number of fields and byte volume) live in a separate meta record so that
// Length is a single point lookup:
//
//	'H' | key                               -> length | volume | index blob
//	'h' | escape(key) | 0x00 0x01 | field   -> value
//
// The field keyspace sorts by (collection key, field), so all fields of a
// collection form one contiguous block that is read with a single seek.
//
// Core Functionality:
//   - Point operations: Get, Set, SetIfAbsent, Delete, DeleteMany, MultiGet, MultiSet
//   - Whole collection operations: DeleteCollection, Length, GetAll, Keys, Values
//   - Numbers: IncrementInteger, IncrementFloat
//   - Expiration: Expire, ExpireAt, TimeToLive, Persist
//   - Scans: ScanFields, ScanMeta (optionally pinned to a snapshot)
//   - Audit: Check and CheckAndRepair recount a collection from its fields
//
// Atomicity:
//
//	Every mutation reads the meta record, computes the new counters and commits
//	the field changes and the meta record in one db.Batch while holding the
//	record lock of the collection key. Concurrent mutations of the same key are
//	serialized, mutations of different keys never contend.
//
// Expiration:
//
//	The ttl of a collection is the substrate ttl of its meta record. Field
//	entries are written with PutInheritTTL so they expire at the same instant
//	and the substrate reaps them together. Expire clears the collection and
//	leaves an empty meta record with the deadline behind, later writes join it.
//
// Deletion:
//
//	DeleteCollection and Expire remove the field entries in the same batch
//	that removes or zeroes the meta record. A deleted collection never shows
//	orphaned fields in GetAll or ScanFields.
package hstore
