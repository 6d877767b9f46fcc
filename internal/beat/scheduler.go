package beat

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	logx "heartbeat/pkg/logx"
)

const (
	DefaultCapacity   = 8
	MaxCapacity       = 64
	DefaultTickPeriod = time.Millisecond
)

// TickSource is the periodic interrupt driving a Scheduler.
//
// Configure must leave the source stopped. Enable and Disable gate delivery;
// neither may reset the configured period. A tick that cannot be delivered
// because the previous handler call is still running is dropped.
type TickSource interface {
	Configure(period time.Duration, handler func()) error
	Enable() error
	Disable() error
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithCapacity sets the number of hook slots (clamped to 1..MaxCapacity).
func WithCapacity(n int) Option { return func(s *Scheduler) { s.capacity = n } }

// WithTickPeriod sets the period the tick source is configured with.
func WithTickPeriod(d time.Duration) Option { return func(s *Scheduler) { s.period = d } }

func WithLogger(log logx.Logger) Option { return func(s *Scheduler) { s.log = log } }

// Scheduler dispatches periodic hooks from a tick source.
type Scheduler struct {
	log      logx.Logger
	src      TickSource
	period   time.Duration
	capacity int

	gate sync.Mutex

	// guarded by gate
	slots []hook
	order []uint8 // slot indices, ascending period

	// timer control
	mu          sync.Mutex
	initialized bool
	running     bool

	pumping     atomic.Bool
	globalCount atomic.Uint32
	isrNanos    atomic.Int64
}

func New(src TickSource, opts ...Option) *Scheduler {
	s := &Scheduler{src: src, period: DefaultTickPeriod, capacity: DefaultCapacity}
	for _, o := range opts {
		o(s)
	}
	if s.capacity <= 0 {
		s.capacity = DefaultCapacity
	}
	if s.capacity > MaxCapacity {
		s.capacity = MaxCapacity
	}
	if s.period <= 0 {
		s.period = DefaultTickPeriod
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	s.slots = make([]hook, s.capacity)
	s.order = make([]uint8, 0, s.capacity)
	return s
}

// Critical runs fn with the tick gated off. fn must not call other gated
// Scheduler methods.
func (s *Scheduler) Critical(fn func()) {
	s.gate.Lock()
	defer s.gate.Unlock()
	fn()
}

// ---- timer control ----

// Init configures the tick source and leaves it stopped.
func (s *Scheduler) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return ErrAlreadyInitialized
	}
	var err error
	s.Critical(func() { err = s.src.Configure(s.period, s.Tick) })
	if err != nil {
		return fmt.Errorf("configure tick source: %w", err)
	}
	s.initialized = true
	s.log.Debug("tick source configured", logx.Duration("period", s.period), logx.Int("capacity", s.capacity))
	return nil
}

// Start enables the tick source. Counts continue from where Pause left them.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return ErrNotInitialized
	}
	if s.running {
		return nil
	}
	if err := s.src.Enable(); err != nil {
		return fmt.Errorf("enable tick source: %w", err)
	}
	s.running = true
	s.log.Info("scheduler started", logx.Duration("tick", s.period), logx.Int("hooks", s.Len()))
	return nil
}

// Pause disables the tick source without resetting any countdown.
func (s *Scheduler) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	if err := s.src.Disable(); err != nil {
		return fmt.Errorf("disable tick source: %w", err)
	}
	s.running = false
	s.log.Info("scheduler paused", logx.Uint64("global_count", uint64(s.globalCount.Load())))
	return nil
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) TickPeriod() time.Duration { return s.period }

// ---- tick handler and pump ----

// Tick is the tick handler. Each enabled hook counts down by one; a due
// tick-context hook is dispatched before the next hook is looked at.
func (s *Scheduler) Tick() {
	start := time.Now()
	s.gate.Lock()
	defer func() {
		s.globalCount.Add(1)
		s.isrNanos.Store(int64(time.Since(start)))
		s.gate.Unlock()
	}()

	for _, idx := range s.order {
		h := &s.slots[idx]
		f := h.load()
		if !f.Has(FlagEnabled) {
			continue
		}
		h.countDown()
		if f.Has(FlagInterrupt) && h.due() {
			h.fire()()
		}
	}
}

// Exec dispatches every due, enabled main-loop hook and returns how many ran.
// Callbacks run outside the gate. A nested or concurrent call returns 0.
func (s *Scheduler) Exec() int {
	if !s.pumping.CompareAndSwap(false, true) {
		return 0
	}
	defer s.pumping.Store(false)

	var pending [MaxCapacity]Handle
	n := 0
	s.gate.Lock()
	for _, idx := range s.order {
		pending[n] = Handle{slot: idx, gen: s.slots[idx].gen.Load()}
		n++
	}
	s.gate.Unlock()

	fired := 0
	for _, h := range pending[:n] {
		if cb := s.claim(h); cb != nil {
			cb()
			fired++
		}
	}
	return fired
}

// claim runs the dispatch bookkeeping of h if it is a due main-loop hook.
func (s *Scheduler) claim(h Handle) func() {
	s.gate.Lock()
	defer s.gate.Unlock()
	hk, err := s.resolve(h)
	if err != nil {
		return nil
	}
	f := hk.load()
	if !f.Has(FlagEnabled) || f.Has(FlagInterrupt) || !hk.due() {
		return nil
	}
	return hk.fire()
}

// ---- registry ----

// Register adds a hook and returns its handle. The registry is kept in
// ascending period order; a hook goes after existing hooks of equal period.
func (s *Scheduler) Register(name string, period int32, callback func(), opts ...HookOption) (Handle, error) {
	if callback == nil {
		return Handle{}, fmt.Errorf("register %q: %w", name, ErrNilCallback)
	}
	o := hookOptions{flags: defaultFlags}
	for _, opt := range opts {
		opt(&o)
	}
	if !o.countSet {
		o.count = period
	}
	if o.flags.Has(FlagLooped) && period <= 0 {
		return Handle{}, fmt.Errorf("register %q: %w (got %d)", name, ErrInvalidPeriod, period)
	}

	s.gate.Lock()
	defer s.gate.Unlock()
	if len(s.order) == cap(s.order) {
		return Handle{}, fmt.Errorf("register %q: %w (capacity %d)", name, ErrCapacityExceeded, cap(s.order))
	}
	if name != "" && s.findLocked(name) >= 0 {
		return Handle{}, fmt.Errorf("register %q: %w", name, ErrDuplicateName)
	}

	slot := 0
	for s.slots[slot].inUse {
		slot++
	}
	hk := &s.slots[slot]
	hk.inUse = true
	hk.name = name
	hk.callback = callback
	hk.period.Store(period)
	hk.count.Store(o.count)
	hk.flags.Store(uint32(o.flags))
	hk.fired.Store(0)
	h := Handle{slot: uint8(slot), gen: hk.gen.Add(1)}
	s.insertLocked(uint8(slot))

	s.log.Debug("hook registered",
		logx.String("hook", name),
		logx.String("handle", h.String()),
		logx.Int("period", int(period)),
		logx.Int("count", int(o.count)),
		logx.String("flags", o.flags.String()),
	)
	return h, nil
}

// Unregister removes a hook. The registry stays ordered and the handle
// becomes stale.
func (s *Scheduler) Unregister(h Handle) error {
	s.gate.Lock()
	defer s.gate.Unlock()
	hk, err := s.resolve(h)
	if err != nil {
		return err
	}
	s.removeLocked(h.slot)
	name := hk.name
	hk.inUse = false
	hk.name = ""
	hk.callback = nil
	hk.flags.Store(0)
	hk.gen.Add(1)
	s.log.Debug("hook unregistered", logx.String("hook", name), logx.String("handle", h.String()))
	return nil
}

// Lookup returns the handle of the hook registered under name.
func (s *Scheduler) Lookup(name string) (Handle, bool) {
	s.gate.Lock()
	defer s.gate.Unlock()
	slot := s.findLocked(name)
	if slot < 0 {
		return Handle{}, false
	}
	return Handle{slot: uint8(slot), gen: s.slots[slot].gen.Load()}, true
}

func (s *Scheduler) Len() int {
	s.gate.Lock()
	defer s.gate.Unlock()
	return len(s.order)
}

func (s *Scheduler) Capacity() int { return s.capacity }

// SetPeriod replaces period and countdown as one unit with respect to the
// tick handler, then moves the hook to keep the registry ordered.
func (s *Scheduler) SetPeriod(h Handle, period int32, opts ...PeriodOption) error {
	o := periodOptions{count: period}
	for _, opt := range opts {
		opt(&o)
	}
	s.gate.Lock()
	defer s.gate.Unlock()
	hk, err := s.resolve(h)
	if err != nil {
		return err
	}
	if hk.load().Has(FlagLooped) && period <= 0 {
		return fmt.Errorf("set period of %q: %w (got %d)", hk.name, ErrInvalidPeriod, period)
	}
	hk.period.Store(period)
	hk.count.Store(o.count)
	s.removeLocked(h.slot)
	s.insertLocked(h.slot)
	s.log.Debug("hook period changed", logx.String("hook", hk.name), logx.Int("period", int(period)), logx.Int("count", int(o.count)))
	return nil
}

func (s *Scheduler) insertLocked(slot uint8) {
	p := s.slots[slot].period.Load()
	i := len(s.order)
	s.order = s.order[:i+1]
	for ; i > 0 && s.slots[s.order[i-1]].period.Load() > p; i-- {
		s.order[i] = s.order[i-1]
	}
	s.order[i] = slot
}

func (s *Scheduler) removeLocked(slot uint8) {
	for i, idx := range s.order {
		if idx == slot {
			copy(s.order[i:], s.order[i+1:])
			s.order = s.order[:len(s.order)-1]
			return
		}
	}
}

func (s *Scheduler) findLocked(name string) int {
	for _, idx := range s.order {
		if s.slots[idx].name == name {
			return int(idx)
		}
	}
	return -1
}

// resolve maps a handle to its slot. Safe without the gate: only atomics
// are read.
func (s *Scheduler) resolve(h Handle) (*hook, error) {
	if h.gen == 0 || int(h.slot) >= len(s.slots) {
		return nil, ErrUnknownHook
	}
	hk := &s.slots[h.slot]
	if hk.gen.Load() != h.gen {
		return nil, ErrUnknownHook
	}
	return hk, nil
}

// ---- per-hook flags (lock-free) ----

func (s *Scheduler) Enable(h Handle) error {
	hk, err := s.resolve(h)
	if err != nil {
		return err
	}
	hk.set(FlagEnabled)
	return nil
}

func (s *Scheduler) Disable(h Handle) error {
	hk, err := s.resolve(h)
	if err != nil {
		return err
	}
	hk.clear(FlagEnabled)
	return nil
}

// SetLooped switches between periodic and one-shot firing.
func (s *Scheduler) SetLooped(h Handle, looped bool) error {
	hk, err := s.resolve(h)
	if err != nil {
		return err
	}
	if !looped {
		hk.clear(FlagLooped)
		return nil
	}
	if hk.period.Load() <= 0 {
		return ErrInvalidPeriod
	}
	hk.set(FlagLooped)
	return nil
}

// SetInterrupt moves a hook between tick context and the pump.
func (s *Scheduler) SetInterrupt(h Handle, on bool) error {
	hk, err := s.resolve(h)
	if err != nil {
		return err
	}
	if on {
		hk.set(FlagInterrupt)
	} else {
		hk.clear(FlagInterrupt)
	}
	return nil
}

// SetUserFlags replaces the application-defined flags of a hook.
func (s *Scheduler) SetUserFlags(h Handle, f Flags) error {
	hk, err := s.resolve(h)
	if err != nil {
		return err
	}
	hk.assign(userFlags, f)
	return nil
}

// Flags returns the read/write flags of a hook. Warning and error are not
// included; use Warning and Error.
func (s *Scheduler) Flags(h Handle) (Flags, error) {
	hk, err := s.resolve(h)
	if err != nil {
		return 0, err
	}
	return hk.load() &^ diagnosticFlags, nil
}

// Warning reports and clears the missed-tick flag.
func (s *Scheduler) Warning(h Handle) bool {
	hk, err := s.resolve(h)
	if err != nil {
		return false
	}
	return hk.take(flagWarning)
}

// Error reports and clears the overload flag.
func (s *Scheduler) Error(h Handle) bool {
	hk, err := s.resolve(h)
	if err != nil {
		return false
	}
	return hk.take(flagError)
}

func (s *Scheduler) Count(h Handle) (int32, error) {
	hk, err := s.resolve(h)
	if err != nil {
		return 0, err
	}
	return hk.count.Load(), nil
}

func (s *Scheduler) Period(h Handle) (int32, error) {
	hk, err := s.resolve(h)
	if err != nil {
		return 0, err
	}
	return hk.period.Load(), nil
}

// ---- diagnostics ----

// GlobalCount is the number of ticks handled so far, modulo 2^32.
func (s *Scheduler) GlobalCount() uint32 { return s.globalCount.Load() }

// InterruptServiceDuration is how long the last Tick call took.
func (s *Scheduler) InterruptServiceDuration() time.Duration {
	return time.Duration(s.isrNanos.Load())
}

// Snapshot is a point-in-time view of the scheduler.
type Snapshot struct {
	GlobalCount              uint32
	InterruptServiceDuration time.Duration
	TickPeriod               time.Duration
	Running                  bool
	Capacity                 int
	Hooks                    []HookInfo // registry order
}

// Snapshot never clears the warning or error flags.
func (s *Scheduler) Snapshot() Snapshot {
	snap := Snapshot{
		GlobalCount:              s.GlobalCount(),
		InterruptServiceDuration: s.InterruptServiceDuration(),
		TickPeriod:               s.period,
		Running:                  s.Running(),
		Capacity:                 s.capacity,
	}
	s.gate.Lock()
	snap.Hooks = make([]HookInfo, 0, len(s.order))
	for _, idx := range s.order {
		hk := &s.slots[idx]
		f := hk.load()
		snap.Hooks = append(snap.Hooks, HookInfo{
			Handle:  Handle{slot: idx, gen: hk.gen.Load()},
			Name:    hk.name,
			Period:  hk.period.Load(),
			Count:   hk.count.Load(),
			Flags:   f &^ diagnosticFlags,
			Warning: f.Has(flagWarning),
			Error:   f.Has(flagError),
			Fired:   hk.fired.Load(),
		})
	}
	s.gate.Unlock()
	return snap
}
