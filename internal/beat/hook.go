package beat

import (
	"fmt"
	"math"
	"sync/atomic"
)

// Handle identifies a registered hook. It stays valid until the hook is
// unregistered; afterwards every call using it returns ErrUnknownHook, even if
// the slot has been reused.
type Handle struct {
	slot uint8
	gen  uint32
}

// IsZero reports whether h was never returned by Register.
func (h Handle) IsZero() bool { return h.gen == 0 }

func (h Handle) String() string { return fmt.Sprintf("hook#%d.%d", h.slot, h.gen) }

// hook is one arena slot.
//
// name, callback and inUse are only touched with the gate held. The atomic
// fields may be read anywhere; period and count are written together only
// inside the gate.
type hook struct {
	name     string
	callback func()
	inUse    bool

	period atomic.Int32
	count  atomic.Int32
	flags  atomic.Uint32
	gen    atomic.Uint32 // bumped on register and on unregister
	fired  atomic.Uint64
}

func (h *hook) load() Flags     { return Flags(h.flags.Load()) }
func (h *hook) set(f Flags)     { h.flags.Or(uint32(f)) }
func (h *hook) clear(f Flags)   { h.flags.And(^uint32(f)) }
func (h *hook) take(f Flags) bool {
	return Flags(h.flags.And(^uint32(f)))&f != 0
}

// assign replaces the bits selected by mask with the matching bits of f.
func (h *hook) assign(mask, f Flags) {
	for {
		old := h.flags.Load()
		next := (old &^ uint32(mask)) | uint32(f&mask)
		if h.flags.CompareAndSwap(old, next) {
			return
		}
	}
}

func (h *hook) due() bool { return h.count.Load() <= 0 }

// countDown decrements the countdown, saturating at math.MinInt32 so an
// undispatched hook stays due. Must be called with the gate held.
func (h *hook) countDown() {
	if c := h.count.Load(); c > math.MinInt32 {
		h.count.Store(c - 1)
	}
}

// fire performs the dispatch bookkeeping of a due hook and returns the
// callback to run. Must be called with the gate held.
func (h *hook) fire() func() {
	if !h.load().Has(FlagLooped) {
		h.clear(FlagEnabled)
	}
	if h.count.Load() < 0 {
		h.set(flagWarning)
	}
	if h.count.Add(h.period.Load()) < 0 {
		h.set(flagError)
	}
	h.fired.Add(1)
	return h.callback
}

// HookOption configures a hook at registration.
type HookOption func(*hookOptions)

type hookOptions struct {
	count    int32
	countSet bool
	flags    Flags
}

// WithInitialCount sets the first countdown. By default it equals the period.
func WithInitialCount(n int32) HookOption {
	return func(o *hookOptions) {
		o.count = n
		o.countSet = true
	}
}

// OneShot registers a hook that disables itself after its first firing.
func OneShot() HookOption { return func(o *hookOptions) { o.flags &^= FlagLooped } }

// InInterrupt registers a hook dispatched from the tick handler.
func InInterrupt() HookOption { return func(o *hookOptions) { o.flags |= FlagInterrupt } }

// Disabled registers a hook that does not count down until enabled.
func Disabled() HookOption { return func(o *hookOptions) { o.flags &^= FlagEnabled } }

// WithUserFlags sets application-defined flags. Bits outside FlagUser1..3 are ignored.
func WithUserFlags(f Flags) HookOption {
	return func(o *hookOptions) { o.flags = (o.flags &^ userFlags) | (f & userFlags) }
}

// PeriodOption configures SetPeriod.
type PeriodOption func(*periodOptions)

type periodOptions struct {
	count    int32
	countSet bool
}

// WithCount sets the countdown applied together with the new period.
// By default the countdown restarts at the new period.
func WithCount(n int32) PeriodOption {
	return func(o *periodOptions) {
		o.count = n
		o.countSet = true
	}
}

// HookInfo is a point-in-time view of one hook.
type HookInfo struct {
	Handle  Handle
	Name    string
	Period  int32
	Count   int32
	Flags   Flags
	Warning bool // pending, not cleared by the snapshot
	Error   bool // pending, not cleared by the snapshot
	Fired   uint64
}
