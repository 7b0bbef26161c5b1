// Package kvstore stores plain key-value entries under the 'k' tag of the
// shared substrate. It has no meta record: the volume of an entry is the
// length of its key plus the length of its value.
//
// The engine takes part in cross-type range operations through
// volume.Collection.
package kvstore
