package util

import (
	"math"
	"time"
)

// --------------------------------------------------------------------------
// Expiration Helpers
// --------------------------------------------------------------------------

// IsExpired reports whether an entry with the expiration expireAt (unix nanoseconds, 0 = never) is expired at now
func IsExpired(expireAt int64, now time.Time) bool {
	return expireAt != 0 && expireAt <= now.UnixNano()
}

// DeadlineFromTTL converts a relative ttl in seconds into an absolute deadline in unix nanoseconds.
// Deadlines beyond the int64 range saturate at math.MaxInt64.
func DeadlineFromTTL(now time.Time, seconds int64) int64 {
	nowNs := now.UnixNano()
	if seconds > 0 && seconds > (math.MaxInt64-nowNs)/int64(time.Second) {
		return math.MaxInt64
	}
	return nowNs + seconds*int64(time.Second)
}

// DeadlineFromUnix converts a unix timestamp in seconds into a deadline in unix nanoseconds.
// Timestamps past the int64 range saturate at math.MaxInt64, timestamps at or before
// the epoch map to 1 so they never read as "no expiration".
func DeadlineFromUnix(unix int64) int64 {
	switch {
	case unix <= 0:
		return 1
	case unix > math.MaxInt64/int64(time.Second):
		return math.MaxInt64
	}
	return unix * int64(time.Second)
}

// RemainingSeconds returns the seconds until expireAt, rounded up.
// The result is at least 1 for entries that are not expired yet.
func RemainingSeconds(expireAt int64, now time.Time) int64 {
	remaining := expireAt - now.UnixNano()
	if remaining <= 0 {
		return 0
	}
	seconds := remaining / int64(time.Second)
	if remaining%int64(time.Second) != 0 {
		seconds++
	}
	return seconds
}

// --------------------------------------------------------------------------
// General Utility Functions
// --------------------------------------------------------------------------

// CopyBytes returns a copy of b (nil stays nil)
func CopyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
