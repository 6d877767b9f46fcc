// Package sdnotify reports readiness and liveness to systemd.
//
// Outside systemd (no NOTIFY_SOCKET) every call is a no-op.
package sdnotify

import (
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "heartbeat/pkg/logx"
)

// Notifier sends sd_notify messages when enabled.
type Notifier struct {
	enabled atomic.Bool
	log     logx.Logger

	sent   atomic.Uint64
	failed atomic.Uint64

	notify func(state string) (bool, error)
}

func New(enabled bool, log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	n := &Notifier{log: log, notify: func(state string) (bool, error) { return daemon.SdNotify(false, state) }}
	n.enabled.Store(enabled)
	return n
}

func (n *Notifier) SetEnabled(on bool) { n.enabled.Store(on) }

func (n *Notifier) Ready() { n.send(daemon.SdNotifyReady) }

func (n *Notifier) Stopping() { n.send(daemon.SdNotifyStopping) }

func (n *Notifier) Reloading() { n.send(daemon.SdNotifyReloading) }

// Watchdog pings the systemd watchdog. Safe to call from a hook callback.
func (n *Notifier) Watchdog() { n.send(daemon.SdNotifyWatchdog) }

func (n *Notifier) Status(msg string) { n.send("STATUS=" + msg) }

// Sent is the number of messages delivered to systemd.
func (n *Notifier) Sent() uint64 { return n.sent.Load() }

func (n *Notifier) send(state string) {
	if !n.enabled.Load() {
		return
	}
	ok, err := n.notify(state)
	switch {
	case err != nil:
		n.failed.Add(1)
		// Only the first few failures are worth a line.
		if n.failed.Load() <= 3 {
			n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		}
	case ok:
		n.sent.Add(1)
	}
}

// WatchdogInterval returns how often the watchdog must be pinged: half of
// WATCHDOG_USEC. It returns 0 when the unit has no watchdog configured.
func WatchdogInterval() (time.Duration, error) {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil || d <= 0 {
		return 0, err
	}
	return d / 2, nil
}

// TicksFor converts a wall-clock interval into a hook period, at least 1.
func TicksFor(interval, tick time.Duration) int32 {
	if tick <= 0 || interval <= 0 {
		return 1
	}
	n := interval / tick
	if n < 1 {
		return 1
	}
	if n > 1<<30 {
		return 1 << 30
	}
	return int32(n)
}
