package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"

	logx "pewsched/pkg/logx"
)

// compactEvery is how many appends pass between compaction checks.
const compactEvery = 1000

// fileStore keeps the journal in <prefix>.journal.jsonl (append-only JSON
// Lines). Every compactEvery appends, the file is rewritten with only the
// newest retain records.
type fileStore struct {
	log logx.Logger

	mu     sync.Mutex
	path   string
	f      *os.File
	retain int
	writes int
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create %s", dir)
	}
	journal := filepath.Join(dir, base+".journal.jsonl")

	f, err := os.OpenFile(journal, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", journal)
	}
	return &fileStore{log: log, path: journal, f: f, retain: cfg.retain()}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *fileStore) AppendJournal(ctx context.Context, e JournalEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return errors.New("journal file closed")
	}
	if err := json.NewEncoder(s.f).Encode(e); err != nil {
		return errors.Wrap(err, "append journal")
	}
	s.writes++
	if s.writes%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) RecentJournal(ctx context.Context, limit int) ([]JournalEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil, errors.New("journal file closed")
	}
	return tailJournal(s.path, limit)
}

func (s *fileStore) compactLocked() error {
	keep, err := tailJournal(s.path, s.retain)
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, e := range keep {
		if err := enc.Encode(e); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}

	// Reopen: the old descriptor points at the replaced inode.
	nf, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return err
	}
	_ = s.f.Close()
	s.f = nf
	return nil
}

// tailJournal reads path and keeps the last limit valid records.
// Unparseable lines (for example a torn final write) are skipped.
func tailJournal(path string, limit int) ([]JournalEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return tail(f, limit)
}

func tail(r io.Reader, limit int) ([]JournalEntry, error) {
	ring := make([]JournalEntry, 0, min(limit, 1024))
	start := 0
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var e JournalEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		if len(ring) < limit {
			ring = append(ring, e)
			continue
		}
		ring[start] = e
		start = (start + 1) % limit
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	out := make([]JournalEntry, 0, len(ring))
	out = append(out, ring[start:]...)
	out = append(out, ring[:start]...)
	return out, nil
}
