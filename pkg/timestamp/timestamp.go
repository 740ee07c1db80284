// Package timestamp handles message timestamps as int64 Unix milliseconds.
//
// A value of 0 means "not set". Functions treat it as unknown rather than
// as the epoch.
package timestamp

import (
	"strconv"
	"strings"
	"time"
)

// Now returns the current time as Unix milliseconds.
func Now() int64 {
	return time.Now().UnixMilli()
}

// ToUnixMs converts a time.Time to Unix milliseconds.
func ToUnixMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromUnixMs converts Unix milliseconds to time.Time.
// Returns zero time if ms is 0.
func FromUnixMs(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// Parse converts a header or payload timestamp to Unix milliseconds.
// Integers above 1e12 are taken as milliseconds, smaller ones as seconds.
// Strings may be RFC3339 or numeric. Anything else yields 0.
func Parse(input any) int64 {
	switch v := input.(type) {
	case int64:
		if v > 1e12 {
			return v
		}
		return v * 1000
	case int:
		return Parse(int64(v))
	case float64:
		return Parse(int64(v))
	case time.Time:
		return ToUnixMs(v)
	case []byte:
		return Parse(string(v))
	case string:
		v = strings.TrimSpace(v)
		if v == "" {
			return 0
		}
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return ToUnixMs(t)
		}
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return Parse(n)
		}
		return 0
	default:
		return 0
	}
}

// SinceAt returns now minus ms, or 0 when ms is unset.
func SinceAt(ms int64, now time.Time) time.Duration {
	if ms == 0 {
		return 0
	}
	return now.Sub(time.UnixMilli(ms))
}

// Max returns the later of two timestamps. Zero counts as earliest.
func Max(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
