package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "heartbeat/pkg/logx"
)

// fileStore keeps records as JSON Lines:
//   - <prefix>.samples.jsonl
//   - <prefix>.events.jsonl
//
// Prune rewrites a file through a temp file and rename.
type fileStore struct {
	log logx.Logger

	mu      sync.Mutex
	samples *jsonlFile
	events  *jsonlFile
}

type jsonlFile struct {
	path string
	f    *os.File
}

func openJSONL(path string) (*jsonlFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &jsonlFile{path: path, f: f}, nil
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	samples, err := openJSONL(prefix + ".samples.jsonl")
	if err != nil {
		return nil, err
	}
	events, err := openJSONL(prefix + ".events.jsonl")
	if err != nil {
		_ = samples.f.Close()
		return nil, err
	}
	log.Debug("file store opened", logx.String("prefix", prefix))
	return &fileStore{log: log, samples: samples, events: events}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.samples == nil {
		return nil
	}
	err := errors.Join(s.samples.f.Close(), s.events.f.Close())
	s.samples, s.events = nil, nil
	return err
}

func (s *fileStore) AppendSample(_ context.Context, sm Sample) error {
	if sm.At.IsZero() {
		sm.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.samples == nil {
		return ErrClosed
	}
	return json.NewEncoder(s.samples.f).Encode(sm)
}

func (s *fileStore) AppendEvent(_ context.Context, e Event) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.events == nil {
		return ErrClosed
	}
	return json.NewEncoder(s.events.f).Encode(e)
}

func (s *fileStore) CountEvents(ctx context.Context, since time.Time) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.events == nil {
		return nil, ErrClosed
	}
	out := map[string]int{}
	err := scanJSONL(ctx, s.events.path, func(line []byte) bool {
		var e Event
		if json.Unmarshal(line, &e) == nil && !e.At.Before(since) {
			out[e.Type]++
		}
		return true
	})
	return out, err
}

func (s *fileStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.samples == nil {
		return 0, ErrClosed
	}
	var total int64
	for _, jf := range []*jsonlFile{s.samples, s.events} {
		n, err := jf.prune(ctx, before)
		total += n
		if err != nil {
			return total, err
		}
	}
	if total > 0 {
		s.log.Debug("file store pruned", logx.Int64("removed", total))
	}
	return total, nil
}

// prune keeps lines whose "at" is not before cutoff. Lines that do not
// decode are dropped.
func (jf *jsonlFile) prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tmp := jf.path + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, err
	}
	w := bufio.NewWriter(out)
	var removed int64
	err = scanJSONL(ctx, jf.path, func(line []byte) bool {
		var rec struct {
			At time.Time `json:"at"`
		}
		if json.Unmarshal(line, &rec) != nil || rec.At.Before(cutoff) {
			removed++
			return true
		}
		_, _ = w.Write(line)
		_ = w.WriteByte('\n')
		return true
	})
	if err == nil {
		err = w.Flush()
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil || removed == 0 {
		_ = os.Remove(tmp)
		return 0, err
	}

	if err := jf.f.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp, jf.path); err != nil {
		return 0, err
	}
	f, err := os.OpenFile(jf.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, err
	}
	jf.f = f
	return removed, nil
}

func scanJSONL(ctx context.Context, path string, fn func(line []byte) bool) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(sc.Bytes()) == 0 {
			continue
		}
		if !fn(sc.Bytes()) {
			break
		}
	}
	return sc.Err()
}
