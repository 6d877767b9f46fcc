package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	DefaultTickPeriod     = time.Millisecond
	MinTickPeriod         = 100 * time.Microsecond
	MaxTickPeriod         = time.Minute
	DefaultCapacity       = 8
	MaxCapacity           = 64
	DefaultDiagPeriod     = 1000
	DefaultWarnRatePerSec = 2
	DefaultMetricsAddr    = "127.0.0.1:9464"
)

// Names of the hooks the daemon registers itself. User hooks may not use them.
const (
	HookMonitor  = "diag.monitor"
	HookWatchdog = "systemd.watchdog"
)

var ErrInvalid = errors.New("invalid config")

// cronParser accepts the standard 5-field syntax plus descriptors.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseCron parses a spec the way the daemon's cron runner does.
func ParseCron(spec string) (cron.Schedule, error) { return cronParser.Parse(spec) }

// CronParser returns the parser used for cron specs.
func CronParser() cron.Parser { return cronParser }

// TickPeriodOrDefault returns tick_period or the default.
func (s SchedulerConfig) TickPeriodOrDefault() (time.Duration, error) {
	return ParseDurationRange("scheduler.tick_period", s.TickPeriod, DefaultTickPeriod, MinTickPeriod, MaxTickPeriod)
}

// PumpIntervalOrDefault returns pump_interval, defaulting to the tick period.
func (s SchedulerConfig) PumpIntervalOrDefault() (time.Duration, error) {
	tick, err := s.TickPeriodOrDefault()
	if err != nil {
		return 0, err
	}
	return ParseDurationRange("scheduler.pump_interval", s.PumpInterval, tick, MinTickPeriod, 0)
}

func (s SchedulerConfig) CapacityOrDefault() int {
	if s.Capacity <= 0 {
		return DefaultCapacity
	}
	return s.Capacity
}

func (d DiagnosticsConfig) PeriodOrDefault() int32 {
	if d.Period <= 0 {
		return DefaultDiagPeriod
	}
	return d.Period
}

func (d DiagnosticsConfig) WarnRateOrDefault() int {
	if d.WarnRatePerSec <= 0 {
		return DefaultWarnRatePerSec
	}
	return d.WarnRatePerSec
}

// MaxISROrDefault returns max_isr or half of tick.
func (d DiagnosticsConfig) MaxISROrDefault(tick time.Duration) (time.Duration, error) {
	return ParseDurationOrDefault("diagnostics.max_isr", d.MaxISR, tick/2)
}

func (m MetricsConfig) AddrOrDefault() string {
	if a := strings.TrimSpace(m.Addr); a != "" {
		return a
	}
	return DefaultMetricsAddr
}

// InitialCountOrPeriod returns initial_count, defaulting to period.
func (h HookConfig) InitialCountOrPeriod() int32 {
	if h.InitialCount != nil {
		return *h.InitialCount
	}
	return h.Period
}

// reservedHooks is the number of slots the daemon keeps for its own hooks.
func (c *Config) reservedHooks() int {
	n := 0
	if c.Diagnostics.Enabled {
		n++
	}
	if c.Systemd.Watchdog {
		n++
	}
	return n
}

// Validate reports every problem found in cfg, joined. The returned error
// wraps ErrInvalid.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalid)
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	addf := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	tick, err := cfg.Scheduler.TickPeriodOrDefault()
	add(err)
	_, err = cfg.Scheduler.PumpIntervalOrDefault()
	add(err)
	if cfg.Scheduler.Capacity < 0 || cfg.Scheduler.Capacity > MaxCapacity {
		addf("scheduler.capacity: must be within 0..%d (got %d)", MaxCapacity, cfg.Scheduler.Capacity)
	}

	capacity := cfg.Scheduler.CapacityOrDefault()
	if total := len(cfg.Hooks) + cfg.reservedHooks(); total > capacity {
		addf("hooks: %d hooks (including %d built-in) exceed scheduler.capacity %d", total, cfg.reservedHooks(), capacity)
	}
	seen := make(map[string]struct{}, len(cfg.Hooks))
	for i, h := range cfg.Hooks {
		path := fmt.Sprintf("hooks[%d]", i)
		name := strings.TrimSpace(h.Name)
		switch {
		case name == "":
			addf("%s.name: required", path)
		case name == HookMonitor || name == HookWatchdog:
			addf("%s.name: %q is reserved", path, name)
		default:
			if _, dup := seen[name]; dup {
				addf("%s.name: duplicate %q", path, name)
			}
			seen[name] = struct{}{}
		}
		if strings.TrimSpace(h.Action) == "" {
			addf("%s.action: required", path)
		}
		if !h.OneShot && h.Period <= 0 {
			addf("%s.period: must be > 0 for a looped hook (got %d)", path, h.Period)
		}
		if h.InitialCount != nil && *h.InitialCount < 0 {
			addf("%s.initial_count: must be >= 0 (got %d)", path, *h.InitialCount)
		}
		for _, f := range h.UserFlags {
			if f < 1 || f > 3 {
				addf("%s.user_flags: %d out of range 1..3", path, f)
			}
		}
	}

	if cfg.Diagnostics.Period < 0 {
		addf("diagnostics.period: must be >= 0 (got %d)", cfg.Diagnostics.Period)
	}
	if cfg.Diagnostics.WarnRatePerSec < 0 {
		addf("diagnostics.warn_rate_per_sec: must be >= 0 (got %d)", cfg.Diagnostics.WarnRatePerSec)
	}
	_, err = cfg.Diagnostics.MaxISROrDefault(tick)
	add(err)

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "file", "sqlite":
		default:
			addf("storage.driver: unknown driver %q (want file or sqlite)", s.Driver)
		}
		if strings.TrimSpace(s.Path) == "" {
			addf("storage.path: required")
		}
		_, err = ParseDurationField("storage.busy_timeout", s.BusyTimeout)
		add(err)
		_, err = ParseDurationField("storage.retention", s.Retention)
		add(err)
	}

	if tz := strings.TrimSpace(cfg.Cron.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			addf("cron.timezone: %v", err)
		}
	}
	for _, c := range []struct{ path, spec string }{{"cron.summary", cfg.Cron.Summary}, {"cron.prune", cfg.Cron.Prune}} {
		if strings.TrimSpace(c.spec) == "" {
			continue
		}
		if _, err := ParseCron(c.spec); err != nil {
			addf("%s: invalid spec %q: %v", c.path, c.spec, err)
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}
