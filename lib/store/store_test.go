package store

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/ValentinKolb/hkv/lib/db"
)

func TestValidateKey(t *testing.T) {
	if err := ValidateKey(nil, 0); !IsInvalidArgument(err) {
		t.Errorf("Expected InvalidArgument for empty key, got %v", err)
	}
	if err := ValidateKey([]byte("a"), 0); err != nil {
		t.Errorf("Expected no error for a one byte key, got %v", err)
	}
	if err := ValidateKey([]byte(strings.Repeat("x", DefaultMaxKeyLength-1)), 0); err != nil {
		t.Errorf("Expected no error for the longest allowed key, got %v", err)
	}
	if err := ValidateKey([]byte(strings.Repeat("x", DefaultMaxKeyLength)), 0); !IsInvalidArgument(err) {
		t.Errorf("Expected InvalidArgument at the limit, got %v", err)
	}
	if err := ValidateKey([]byte("abcd"), 4); !IsInvalidArgument(err) {
		t.Errorf("Expected InvalidArgument with custom limit, got %v", err)
	}
}

func TestFromDB(t *testing.T) {
	if FromDB("get", nil) != nil {
		t.Errorf("Expected nil for nil error")
	}

	err := FromDB("get", db.ErrNotFound)
	if !IsNotFound(err) {
		t.Errorf("Expected NotFound, got %v", err)
	}
	if !errors.Is(err, db.ErrNotFound) {
		t.Errorf("Expected the cause to be preserved")
	}

	ioErr := fmt.Errorf("disk on fire")
	err = FromDB("write", ioErr)
	if Code(err) != RetCIOError {
		t.Errorf("Expected IOError, got %s", Code(err))
	}
	if !errors.Is(err, ioErr) {
		t.Errorf("Expected errors.Is to find the cause")
	}

	if Code(FromDB("x", db.ErrUnsupported)) != RetCUnsupportedOperation {
		t.Errorf("Expected UnsupportedOperation for db.ErrUnsupported")
	}

	// already translated errors pass through unchanged
	orig := NewError(RetCCorruption, "bad")
	if FromDB("x", orig) != error(orig) {
		t.Errorf("Expected store errors to pass through")
	}
}

func TestErrorMatching(t *testing.T) {
	err := fmt.Errorf("context: %w", NewError(RetCCorruption, "meta too short"))
	if !IsCorruption(err) {
		t.Errorf("Expected wrapped error to be detected as corruption")
	}
	if !errors.Is(err, &Error{Code: RetCCorruption}) {
		t.Errorf("Expected errors.Is to match by code")
	}
	if errors.Is(err, &Error{Code: RetCNotFound}) {
		t.Errorf("Expected errors.Is not to match a different code")
	}
	if Code(errors.New("foreign")) != RetCInternalError {
		t.Errorf("Expected foreign errors to map to InternalError")
	}
	if !strings.Contains(err.Error(), "Corruption") {
		t.Errorf("Expected the code name in the message, got %q", err.Error())
	}
}

func TestDataTypes(t *testing.T) {
	for i, dt := range DataTypes {
		if dt.Rank() != i {
			t.Errorf("Expected rank %d for %s, got %d", i, dt, dt.Rank())
		}
		parsed, err := ParseDataType(dt.String())
		if err != nil || parsed != dt {
			t.Errorf("Expected %s to parse back, got %v (%v)", dt, parsed, err)
		}
	}
	if _, err := ParseDataType("zset"); !IsInvalidArgument(err) {
		t.Errorf("Expected InvalidArgument for unknown type, got %v", err)
	}
}
