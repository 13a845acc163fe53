package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"

	logx "pewsched/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	retain     int
	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.Wrapf(err, "create %s", filepath.Dir(path))
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, retain: cfg.retain(), pruneEvery: 500}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "migrate sqlite")
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendJournal(ctx context.Context, e JournalEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO journal(at, run_id, event, entry_id, name, policy, retries, took_ms, cont, panicked)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		e.At.UTC().Format(time.RFC3339Nano), e.RunID, e.Event, e.EntryID, nullStr(e.Name), nullStr(e.Policy),
		e.Retries, e.TookMS, boolInt(e.Continue), boolInt(e.Panicked),
	)
	if err != nil {
		return errors.Wrap(err, "append journal")
	}
	if s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
		if err := s.prune(pctx); err != nil {
			s.log.Debug("journal prune failed", logx.Err(err))
		}
		cancel()
	}
	return nil
}

func (s *sqliteStore) RecentJournal(ctx context.Context, limit int) ([]JournalEntry, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, run_id, event, entry_id, COALESCE(name, ''), COALESCE(policy, ''), retries, took_ms, cont, panicked
		 FROM (SELECT * FROM journal ORDER BY id DESC LIMIT ?) ORDER BY id ASC`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query journal")
	}
	defer rows.Close()

	var out []JournalEntry
	for rows.Next() {
		var (
			e         JournalEntry
			at        string
			cont, pan int
		)
		if err := rows.Scan(&at, &e.RunID, &e.Event, &e.EntryID, &e.Name, &e.Policy, &e.Retries, &e.TookMS, &cont, &pan); err != nil {
			return nil, errors.Wrap(err, "scan journal")
		}
		e.At, _ = time.Parse(time.RFC3339Nano, at)
		e.Continue = cont != 0
		e.Panicked = pan != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

// prune drops everything older than the newest retain records.
func (s *sqliteStore) prune(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM journal WHERE id <= (SELECT COALESCE(MAX(id), 0) FROM journal) - ?`, s.retain)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
