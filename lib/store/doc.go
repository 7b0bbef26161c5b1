// Package store holds the vocabulary shared by all collection engines: the
// typed error system, the data type tags of the keyspaces and key validation.
//
// Key Components:
//
//   - Error System: every engine operation returns either nil or a *Error
//     carrying a RetCode. Callers branch on the code with IsNotFound,
//     IsCorruption, IsInvalidArgument or Code instead of comparing messages.
//     Substrate errors are translated with FromDB: db.ErrNotFound becomes
//     RetCNotFound, anything unexpected is passed through as RetCIOError with
//     the cause attached (errors.Is and errors.As see through it).
//
//   - Data Types: each collection type owns a disjoint keyspace identified by
//     a one byte tag ('H' hash meta, 'L' list meta, 'S' set meta, 'k' plain
//     key-value). The order of DataTypes is also the tie-break order when two
//     keyspaces report the same logical key.
//
//   - DBFactory: abstracts the creation of the underlying db.KVDB.
//
// Implementations:
//
//	- hstore: the hash collection engine (fields, meta counters, check/repair)
//	- kvstore: plain key-value entries
//	- volume: the cross-type merge iterator and range bulk delete
//	- lstore: a facade that opens all of the above on one substrate
//
// Validation errors are always returned before anything is written.
package store
