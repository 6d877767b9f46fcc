package ticksource

import "errors"

var (
	ErrNotConfigured = errors.New("tick source not configured")
	ErrBadPeriod     = errors.New("tick period must be > 0")
	ErrNilHandler    = errors.New("tick handler is nil")
	ErrRunning       = errors.New("tick source is running")
)
