package history

import (
	"database/sql"
	"time"

	_ "modernc.org/sqlite"

	"keepalive/internal/pinger"
)

// Store persists ping outcomes to a SQLite database. It is an optional,
// append-only log; the engine never reads it back for its own decisions.
type Store struct {
	db *sql.DB
}

// Entry is one persisted ping outcome.
type Entry struct {
	TakenAt    time.Time `json:"taken_at"`
	OK         bool      `json:"ok"`
	HTTPStatus int       `json:"http_status,omitempty"`
	LatencyMS  int64     `json:"latency_ms"`
	Attempts   int       `json:"attempts"`
	Reason     string    `json:"reason,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Open opens (or creates) the database at path and ensures the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS pings (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  taken_at TEXT NOT NULL,
  ok INTEGER NOT NULL,
  http_status INTEGER,
  latency_ms INTEGER NOT NULL,
  attempts INTEGER NOT NULL,
  reason TEXT,
  error TEXT
);
CREATE INDEX IF NOT EXISTS idx_pings_taken ON pings(taken_at);
`)
	return err
}

// Record appends one outcome.
func (s *Store) Record(o pinger.Outcome) error {
	okInt := 0
	if o.Success {
		okInt = 1
	}
	_, err := s.db.Exec(`INSERT INTO pings (taken_at,ok,http_status,latency_ms,attempts,reason,error)
		VALUES (?,?,?,?,?,?,?)`,
		o.Timestamp.UTC().Format(time.RFC3339), okInt, o.StatusCode,
		o.Latency.Milliseconds(), o.Attempt, o.Reason, o.Err)
	return err
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(limit int) ([]Entry, error) {
	rows, err := s.db.Query(`SELECT taken_at, ok, http_status, latency_ms, attempts, reason, error
		FROM pings ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var takenAt string
		var okInt int
		if err := rows.Scan(&takenAt, &okInt, &e.HTTPStatus, &e.LatencyMS, &e.Attempts, &e.Reason, &e.Error); err != nil {
			return nil, err
		}
		e.OK = okInt != 0
		e.TakenAt, _ = time.Parse(time.RFC3339, takenAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune keeps only the newest keep entries.
func (s *Store) Prune(keep int) error {
	_, err := s.db.Exec(`DELETE FROM pings WHERE id NOT IN
		(SELECT id FROM pings ORDER BY id DESC LIMIT ?)`, keep)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
