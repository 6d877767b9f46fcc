package config

import "encoding/json"

// Config is the daemon configuration. JSON and YAML are both accepted; YAML is
// coerced to JSON and decoded strictly, so unknown keys are rejected.
//
// All durations are Go duration strings (e.g. "1ms", "250ms", "10s").
type Config struct {
	Logging     LoggingConfig     `json:"logging"`
	Scheduler   SchedulerConfig   `json:"scheduler"`
	Hooks       []HookConfig      `json:"hooks"`
	Diagnostics DiagnosticsConfig `json:"diagnostics"`
	Storage     *StorageConfig    `json:"storage,omitempty"`
	Metrics     MetricsConfig     `json:"metrics"`
	Systemd     SystemdConfig     `json:"systemd"`
	Cron        CronConfig        `json:"cron"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the tick source and the pump.
//
// tick_period and capacity are fixed for the life of the process; a reload
// that changes them is logged and ignored.
//
// Defaults:
//   - tick_period: "1ms"
//   - capacity: 8 (max 64)
//   - pump_interval: tick_period
type SchedulerConfig struct {
	TickPeriod   string `json:"tick_period,omitempty"`
	Capacity     int    `json:"capacity,omitempty"`
	PumpInterval string `json:"pump_interval,omitempty"`
}

// HookConfig declares one hook bound to a named action.
//
// Period and InitialCount are in ticks. InitialCount defaults to Period.
// Name is the identity used to reconcile hooks on reload.
type HookConfig struct {
	Name         string          `json:"name"`
	Action       string          `json:"action"`
	Period       int32           `json:"period"`
	InitialCount *int32          `json:"initial_count,omitempty"`
	OneShot      bool            `json:"one_shot,omitempty"`
	Interrupt    bool            `json:"interrupt,omitempty"`
	Disabled     bool            `json:"disabled,omitempty"`
	UserFlags    []int           `json:"user_flags,omitempty"` // 1..3
	Args         json.RawMessage `json:"args,omitempty"`
}

// DiagnosticsConfig controls the built-in monitor hook.
//
// Period is in ticks (default 1000). WarnRatePerSec throttles warning logs
// (default 2). MaxISR flags tick handler runs longer than this duration; "0s"
// or empty means half the tick period.
type DiagnosticsConfig struct {
	Enabled        bool   `json:"enabled"`
	Period         int32  `json:"period,omitempty"`
	WarnRatePerSec int    `json:"warn_rate_per_sec,omitempty"`
	MaxISR         string `json:"max_isr,omitempty"`
}

// StorageConfig controls persistence of diagnostic samples and events.
// Nil means disabled.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./heartbeat.db", "retention": "168h" }
type StorageConfig struct {
	Driver      string `json:"driver"` // "file" or "sqlite"
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
	Retention   string `json:"retention,omitempty"`    // "0s" keeps everything
}

// MetricsConfig controls the optional HTTP server exposing /metrics and,
// when Pprof is set, /debug/pprof/.
//
// Prefer binding to localhost (e.g. "127.0.0.1:9464").
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:9464"
	Pprof   bool   `json:"pprof,omitempty"`
}

type SystemdConfig struct {
	Notify bool `json:"notify"`
	// Watchdog registers a hook pinging the systemd watchdog at half of
	// WATCHDOG_USEC when the unit has WatchdogSec set.
	Watchdog bool `json:"watchdog"`
}

// CronConfig schedules wall-clock jobs next to the tick-driven hooks.
// Specs use the standard 5-field cron syntax or descriptors like "@every 1m".
// An empty spec disables the job.
type CronConfig struct {
	Timezone string `json:"timezone,omitempty"`
	Summary  string `json:"summary,omitempty"`
	Prune    string `json:"prune,omitempty"`
}
