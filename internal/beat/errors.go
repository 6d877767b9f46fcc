package beat

import "errors"

var (
	ErrCapacityExceeded   = errors.New("hook registry full")
	ErrInvalidPeriod      = errors.New("looped hook needs a positive period")
	ErrNilCallback        = errors.New("hook callback is nil")
	ErrDuplicateName      = errors.New("hook name already registered")
	ErrUnknownHook        = errors.New("unknown or stale hook handle")
	ErrNotInitialized     = errors.New("scheduler not initialized")
	ErrAlreadyInitialized = errors.New("scheduler already initialized")
)
