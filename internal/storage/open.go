package storage

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"

	logx "pewsched/pkg/logx"
)

// Store is the persistence API used by the journal recorder and the debug server.
type Store interface {
	AppendJournal(ctx context.Context, e JournalEntry) error
	// RecentJournal returns up to limit records, oldest first.
	RecentJournal(ctx context.Context, limit int) ([]JournalEntry, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.Newf("unknown storage driver: %s", driver)
	}
}
