package util

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ParseTimeframe parses a duration string such as "30m", "4h", "2d" or "1w".
// Plain Go durations ("90m", "1h30m") are accepted too.
func ParseTimeframe(s string) (time.Duration, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty timeframe")
	}
	unit := s[len(s)-1]
	if unit == 'd' || unit == 'w' {
		n, err := strconv.ParseFloat(s[:len(s)-1], 64)
		if err != nil || !IsFinite(n) || n < 0 {
			return 0, fmt.Errorf("invalid timeframe %q", s)
		}
		day := 24 * time.Hour
		if unit == 'w' {
			day *= 7
		}
		ns := n * float64(day)
		if ns >= math.MaxInt64 {
			return 0, fmt.Errorf("timeframe %q out of range", s)
		}
		return time.Duration(ns), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid timeframe %q", s)
	}
	return d, nil
}

// DaysBetween returns the non-negative number of days from then to now.
// A zero then is treated as infinitely old.
func DaysBetween(then, now time.Time) float64 {
	if then.IsZero() {
		return 1e9
	}
	d := now.Sub(then).Hours() / 24
	if d < 0 {
		return 0
	}
	return d
}
