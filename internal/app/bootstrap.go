package app

import (
	"io"
	"time"

	"heartbeat/internal/actions"
	"heartbeat/internal/beat"
	"heartbeat/internal/config"
	"heartbeat/internal/cronjobs"
	"heartbeat/internal/observability/httpd"
	logx "heartbeat/pkg/logx"
)

// Option customizes NewApp. The zero set of options is the production setup.
type Option func(*options)

type options struct {
	src      beat.TickSource
	actions  []actions.Action
	console  io.Writer
	watchdog func() (time.Duration, error)
}

// WithTickSource replaces the time.Ticker based tick source.
func WithTickSource(src beat.TickSource) Option { return func(o *options) { o.src = src } }

// WithActions adds actions next to the built-in ones.
func WithActions(a ...actions.Action) Option {
	return func(o *options) { o.actions = append(o.actions, a...) }
}

// WithConsoleOutput redirects console logging.
func WithConsoleOutput(w io.Writer) Option { return func(o *options) { o.console = w } }

// WithWatchdogInterval replaces the WATCHDOG_USEC lookup.
func WithWatchdogInterval(fn func() (time.Duration, error)) Option {
	return func(o *options) { o.watchdog = fn }
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapHTTPConfig(cfg *config.Config) httpd.Config {
	return httpd.Config{
		Enabled: cfg.Metrics.Enabled,
		Addr:    cfg.Metrics.AddrOrDefault(),
		Pprof:   cfg.Metrics.Pprof,
	}
}

func mapCronConfig(cfg *config.Config) cronjobs.Config {
	return cronjobs.Config{Timezone: cfg.Cron.Timezone}
}

// diagSettings returns the monitor threshold and log rate for cfg.
func diagSettings(cfg *config.Config, tick time.Duration) (time.Duration, int) {
	maxISR, err := cfg.Diagnostics.MaxISROrDefault(tick)
	if err != nil {
		maxISR = tick / 2
	}
	return maxISR, cfg.Diagnostics.WarnRateOrDefault()
}
