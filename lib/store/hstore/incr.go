package hstore

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/hkv/lib/store"
)

// IncrementInteger adds delta to the base 10 integer stored in field and returns the result.
// A missing field counts as 0. Values that are not integers fail with Corruption,
// results outside the int64 range fail with InvalidArgument and leave the field untouched.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (e *Engine) IncrementInteger(key, field []byte, delta int64) (result int64, err error) {
	defer e.metrics.Observe("incrby", time.Now(), &err)

	if err := e.validate(key); err != nil {
		return 0, err
	}
	unlock := e.lock(key)
	defer unlock()

	raw, found, err := readField(e.db, key, field)
	if err != nil {
		return 0, err
	}

	var current int64
	if found {
		current, err = strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return 0, store.NewError(store.RetCCorruption, fmt.Sprintf("value of field %q is not an integer", field))
		}
	}

	if (delta >= 0 && math.MaxInt64-delta < current) || (delta < 0 && math.MinInt64-delta > current) {
		return 0, store.NewError(store.RetCInvalidArgument, fmt.Sprintf("increment of %d by %d overflows", current, delta))
	}

	result = current + delta
	if _, _, err := e.setLocked(key, field, []byte(strconv.FormatInt(result, 10))); err != nil {
		return 0, err
	}
	return result, nil
}

// IncrementFloat adds delta to the floating point number stored in field and returns the
// result as it was stored. The result keeps at most 6 fractional digits, trailing zeros
// are dropped ("3.500000" is stored as "3.5", "4.000000" as "4").
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (e *Engine) IncrementFloat(key, field []byte, delta float64) (result string, err error) {
	defer e.metrics.Observe("incrbyfloat", time.Now(), &err)

	if err := e.validate(key); err != nil {
		return "", err
	}
	if math.IsNaN(delta) || math.IsInf(delta, 0) {
		return "", store.NewError(store.RetCInvalidArgument, "increment must be a finite number")
	}
	unlock := e.lock(key)
	defer unlock()

	raw, found, err := readField(e.db, key, field)
	if err != nil {
		return "", err
	}

	var current float64
	if found {
		current, err = strconv.ParseFloat(string(raw), 64)
		if err != nil {
			return "", store.NewError(store.RetCCorruption, fmt.Sprintf("value of field %q is not a number", field))
		}
	}

	sum := current + delta
	if math.IsNaN(sum) || math.IsInf(sum, 0) {
		return "", store.NewError(store.RetCInvalidArgument, "increment would produce NaN or Infinity")
	}

	result = formatFloat(sum)
	if _, _, err := e.setLocked(key, field, []byte(result)); err != nil {
		return "", err
	}
	return result, nil
}

// formatFloat prints v with 6 fractional digits and trims trailing zeros and a dangling point
func formatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', 6, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	if s == "-0" {
		return "0"
	}
	return s
}
