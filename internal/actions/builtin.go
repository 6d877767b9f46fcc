package actions

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	logx "heartbeat/pkg/logx"
)

// Sampler persists one scheduler sample.
type Sampler interface {
	Sample(ctx context.Context) error
}

// Watchdog pings a service manager watchdog.
type Watchdog interface {
	Watchdog()
}

// Builtins returns the built-in actions:
//   - noop: does nothing (placeholder / load testing)
//   - log: logs a line with the hook name and tick count
//   - sample: persists a scheduler sample
//   - watchdog: pings the systemd watchdog
func Builtins() []Action {
	return []Action{
		{Name: "noop", TickSafe: true, New: newNoop},
		{Name: "log", New: newLog},
		{Name: "sample", New: newSample},
		{Name: "watchdog", New: newWatchdog},
	}
}

func newNoop(_ Env, _ string, args json.RawMessage) (func(), error) {
	if err := decodeArgs(args, &struct{}{}); err != nil {
		return nil, err
	}
	return func() {}, nil
}

type logArgs struct {
	Message string `json:"message"`
	Level   string `json:"level"`
	// Every logs only every n-th firing (default 1).
	Every uint64 `json:"every"`
}

func newLog(env Env, hook string, raw json.RawMessage) (func(), error) {
	a := logArgs{Message: "beat", Level: "info", Every: 1}
	if err := decodeArgs(raw, &a); err != nil {
		return nil, err
	}
	if a.Every == 0 {
		a.Every = 1
	}
	lvl := logx.ParseLevel(a.Level, logx.LevelInfo)
	log := env.Log.With(logx.String("hook", hook))
	var n atomic.Uint64
	return func() {
		i := n.Add(1)
		if i%a.Every != 0 {
			return
		}
		fields := []logx.Field{logx.Uint64("firing", i)}
		if env.Scheduler != nil {
			fields = append(fields, logx.Uint64("global_count", uint64(env.Scheduler.GlobalCount())))
		}
		switch lvl {
		case logx.LevelTrace:
			log.Trace(a.Message, fields...)
		case logx.LevelDebug:
			log.Debug(a.Message, fields...)
		case logx.LevelWarn:
			log.Warn(a.Message, fields...)
		case logx.LevelError:
			log.Error(a.Message, fields...)
		default:
			log.Info(a.Message, fields...)
		}
	}, nil
}

type sampleArgs struct {
	Timeout string `json:"timeout"`
}

func newSample(env Env, hook string, raw json.RawMessage) (func(), error) {
	a := sampleArgs{}
	if err := decodeArgs(raw, &a); err != nil {
		return nil, err
	}
	timeout := time.Second
	if a.Timeout != "" {
		d, err := time.ParseDuration(a.Timeout)
		if err != nil || d <= 0 {
			return nil, errors.New("args.timeout: invalid duration")
		}
		timeout = d
	}
	if env.Sampler == nil {
		return nil, errors.New("storage is not configured")
	}
	log := env.Log.With(logx.String("hook", hook))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := env.Sampler.Sample(ctx); err != nil {
			log.Warn("sample failed", logx.Err(err))
		}
	}, nil
}

func newWatchdog(env Env, _ string, raw json.RawMessage) (func(), error) {
	if err := decodeArgs(raw, &struct{}{}); err != nil {
		return nil, err
	}
	if env.Watchdog == nil {
		return nil, errors.New("systemd notify is not configured")
	}
	return env.Watchdog.Watchdog, nil
}
