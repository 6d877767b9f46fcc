package config

import (
	"fmt"
	"strings"
	"time"
)

// Durations are Go duration strings. Empty means unset.

// ParseDurationField parses an optional, non-negative duration. Unset is 0.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %q is not a duration: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: %s is negative", path, d)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def for unset or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	return ParseDurationRange(path, raw, def, 0, 0)
}

// ParseDurationRange is ParseDurationOrDefault bounded to [lo, hi].
// A bound <= 0 is open. def is not checked.
func ParseDurationRange(path, raw string, def, lo, hi time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d == 0 {
		return def, nil
	}
	if lo > 0 && d < lo {
		return 0, fmt.Errorf("%s: %s is below the minimum %s", path, d, lo)
	}
	if hi > 0 && d > hi {
		return 0, fmt.Errorf("%s: %s is above the maximum %s", path, d, hi)
	}
	return d, nil
}
