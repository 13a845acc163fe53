package storage

import (
	"time"

	"github.com/cockroachdb/errors"
)

var ErrDisabled = errors.New("storage disabled")

// DefaultRetain is the number of journal records kept when Config.Retain is 0.
const DefaultRetain = 10000

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free JSON Lines backend
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	Retain      int           // newest records kept; 0 means DefaultRetain
}

// JournalEntry records one scheduler lifecycle event.
// Keep it compact and schema-stable.
type JournalEntry struct {
	At       time.Time `json:"at"`
	RunID    string    `json:"run_id"`
	Event    string    `json:"event"`
	EntryID  int64     `json:"entry_id"`
	Name     string    `json:"name,omitempty"`
	Policy   string    `json:"policy,omitempty"`
	Retries  int       `json:"retries"`
	TookMS   int64     `json:"took_ms,omitempty"`
	Continue bool      `json:"continue,omitempty"`
	Panicked bool      `json:"panicked,omitempty"`
}

func (c Config) retain() int {
	if c.Retain <= 0 {
		return DefaultRetain
	}
	return c.Retain
}
