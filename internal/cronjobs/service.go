// Package cronjobs runs wall-clock jobs (summaries, retention) next to the
// tick-driven hooks.
package cronjobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "heartbeat/pkg/logx"
)

var ErrUnknownJob = errors.New("unknown cron job")

// Config controls the cron service.
type Config struct {
	Timezone string // IANA TZ, e.g. "Europe/Berlin"; empty means Local
}

// Job is one named cron definition. An empty Spec disables the job.
type Job struct {
	Name    string
	Spec    string
	Timeout time.Duration // 0 means no timeout
	Run     func(ctx context.Context) error
}

// EntryInfo describes a scheduled job.
type EntryInfo struct {
	Name string
	Spec string
	Next time.Time
	Prev time.Time
}

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	cfg    Config
	loc    *time.Location
	parser cron.Parser

	c       *cron.Cron
	ctx     context.Context
	defs    []Job
	entries map[string]cron.EntryID
}

func New(cfg Config, parser cron.Parser, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, parser: parser, log: log, entries: map[string]cron.EntryID{}}
}

// Apply swaps the config. A timezone change restarts a running cron.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	if s.c != nil && oldTZ != strings.TrimSpace(cfg.Timezone) {
		s.restartLocked()
	}
}

// Set replaces every job definition. Specs are checked before anything is
// replaced.
func (s *Service) Set(jobs []Job) error {
	defs := make([]Job, 0, len(jobs))
	for _, j := range jobs {
		if strings.TrimSpace(j.Spec) == "" {
			continue
		}
		if j.Run == nil {
			return fmt.Errorf("cron job %q: nil func", j.Name)
		}
		if _, err := s.parser.Parse(j.Spec); err != nil {
			return fmt.Errorf("cron job %q: %w", j.Name, err)
		}
		defs = append(defs, j)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.defs = defs
	if s.c != nil {
		s.restartLocked()
	}
	return nil
}

// Start starts triggering. Jobs get contexts derived from ctx.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.ctx = ctx
	s.startLocked()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.defs)))
}

// Stop stops triggering and waits for running jobs or ctx, whichever is first.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.entries = map[string]cron.EntryID{}
	s.mu.Unlock()

	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("service stopped")
}

// Run executes the named job now, on the caller's goroutine.
func (s *Service) Run(ctx context.Context, name string) error {
	s.mu.Lock()
	var job *Job
	for i := range s.defs {
		if s.defs[i].Name == name {
			job = &s.defs[i]
			break
		}
	}
	s.mu.Unlock()
	if job == nil {
		return fmt.Errorf("%w: %q", ErrUnknownJob, name)
	}
	return s.exec(ctx, *job)
}

// Entries lists scheduled jobs sorted by name. Empty when stopped.
func (s *Service) Entries() []EntryInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return nil
	}
	out := make([]EntryInfo, 0, len(s.defs))
	for _, d := range s.defs {
		id, ok := s.entries[d.Name]
		if !ok {
			continue
		}
		e := s.c.Entry(id)
		out = append(out, EntryInfo{Name: d.Name, Spec: d.Spec, Next: e.Next, Prev: e.Prev})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Service) startLocked() {
	s.loc = s.loadLocationLocked()
	cl := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(s.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	s.entries = make(map[string]cron.EntryID, len(s.defs))
	for _, d := range s.defs {
		d := d
		id, err := s.c.AddFunc(d.Spec, func() {
			if err := s.exec(s.ctx, d); err != nil {
				s.log.Warn("cron job failed", logx.String("job", d.Name), logx.Err(err))
			}
		})
		if err != nil {
			s.log.Warn("cron job rejected", logx.String("job", d.Name), logx.String("spec", d.Spec), logx.Err(err))
			continue
		}
		s.entries[d.Name] = id
	}
	s.c.Start()
}

func (s *Service) restartLocked() {
	<-s.c.Stop().Done()
	s.startLocked()
	s.log.Info("service restarted", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.defs)))
}

func (s *Service) exec(ctx context.Context, j Job) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if j.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.Timeout)
		defer cancel()
	}
	start := time.Now()
	err := j.Run(ctx)
	s.log.Debug("cron job done", logx.String("job", j.Name), logx.Duration("took", time.Since(start)), logx.Bool("ok", err == nil))
	return err
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			k = fmt.Sprint(kv[i])
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
