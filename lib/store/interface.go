package store

import (
	"errors"
	"fmt"

	"github.com/ValentinKolb/hkv/lib/db"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// DBFactory is a function type that creates a new db used by the store.
// This is used to abstract the creation of the db from the store implementation.
type DBFactory func() (db.KVDB, error)

// DataType is the one byte tag that prefixes the keyspace of a collection type
type DataType byte

const (
	TypeHash DataType = 'H' // hash meta records
	TypeList DataType = 'L' // list meta records
	TypeSet  DataType = 'S' // set meta records
	TypeKV   DataType = 'k' // plain key-value entries
)

// DataTypes lists all collection types in the order used to break ties between equal keys
var DataTypes = []DataType{TypeHash, TypeList, TypeSet, TypeKV}

func (t DataType) String() string {
	switch t {
	case TypeHash:
		return "hash"
	case TypeList:
		return "list"
	case TypeSet:
		return "set"
	case TypeKV:
		return "kv"
	default:
		return fmt.Sprintf("unknown(%q)", byte(t))
	}
}

// ParseDataType is the inverse of DataType.String
func ParseDataType(s string) (DataType, error) {
	for _, t := range DataTypes {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, NewError(RetCInvalidArgument, fmt.Sprintf("unknown data type %q", s))
}

// Rank returns the position of t in DataTypes, unknown types sort last
func (t DataType) Rank() int {
	for i, other := range DataTypes {
		if other == t {
			return i
		}
	}
	return len(DataTypes)
}

// DefaultMaxKeyLength is the exclusive upper bound for collection key lengths
const DefaultMaxKeyLength = 256

// ValidateKey checks that 1 <= len(key) < maxLen.
// A maxLen <= 0 selects DefaultMaxKeyLength.
func ValidateKey(key []byte, maxLen int) error {
	if maxLen <= 0 {
		maxLen = DefaultMaxKeyLength
	}
	if len(key) == 0 {
		return NewError(RetCInvalidArgument, "key must not be empty")
	}
	if len(key) >= maxLen {
		return NewError(RetCInvalidArgument, fmt.Sprintf("key length %d exceeds limit %d", len(key), maxLen-1))
	}
	return nil
}

// FieldValue is one field of a collection together with its value
type FieldValue struct {
	Field []byte
	Value []byte
}

// FieldResult is one slot of a multi-get. Err is nil if the field was found.
type FieldResult struct {
	Value []byte
	Err   error
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode),
// an error message and optionally the underlying cause.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
	Err  error   // The cause, may be nil
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("StoreError (code %s): %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("StoreError (code %s): %s", e.Code, e.Msg)
}

// Unwrap returns the cause
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors with the same code, so errors.Is(err, &Error{Code: RetCNotFound}) works
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && t.Msg == "" && t.Err == nil
}

// NewError creates a new Error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// WrapError creates a new Error with the given code, message and cause.
func WrapError(code RetCode, msg string, err error) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
		Err:  err,
	}
}

// FromDB translates a substrate error into an Error.
// db.ErrNotFound becomes RetCNotFound, db.ErrUnsupported RetCUnsupportedOperation,
// everything else is passed through as RetCIOError.
func FromDB(msg string, err error) error {
	if err == nil {
		return nil
	}
	var storeErr *Error
	if errors.As(err, &storeErr) {
		return err
	}
	switch {
	case errors.Is(err, db.ErrNotFound):
		return WrapError(RetCNotFound, msg, err)
	case errors.Is(err, db.ErrUnsupported):
		return WrapError(RetCUnsupportedOperation, msg, err)
	default:
		return WrapError(RetCIOError, msg, err)
	}
}

// Code returns the RetCode of err, RetCSuccess for nil and RetCInternalError for foreign errors
func Code(err error) RetCode {
	if err == nil {
		return RetCSuccess
	}
	var storeErr *Error
	if errors.As(err, &storeErr) {
		return storeErr.Code
	}
	return RetCInternalError
}

// IsNotFound reports whether err carries RetCNotFound
func IsNotFound(err error) bool { return Code(err) == RetCNotFound }

// IsCorruption reports whether err carries RetCCorruption
func IsCorruption(err error) bool { return Code(err) == RetCCorruption }

// IsInvalidArgument reports whether err carries RetCInvalidArgument
func IsInvalidArgument(err error) bool { return Code(err) == RetCInvalidArgument }

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess              RetCode = iota // 0: Command executed successfully.
	RetCInternalError                       // 1: Command failed due to an internal error.
	RetCUnsupportedOperation                // 2: Operation is not supported by underlying database.
	RetCInvalidArgument                     // 3: Argument rejected before any mutation.
	RetCNotFound                            // 4: No such field, collection or ttl.
	RetCCorruption                          // 5: Stored data is malformed or counters drifted.
	RetCIOError                             // 6: Substrate failure passed through.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCUnsupportedOperation:
		return "UnsupportedOperation"
	case RetCInvalidArgument:
		return "InvalidArgument"
	case RetCNotFound:
		return "NotFound"
	case RetCCorruption:
		return "Corruption"
	case RetCIOError:
		return "IOError"
	default:
		return "Unknown"
	}
}
