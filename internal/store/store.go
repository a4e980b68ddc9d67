package store

import (
	"database/sql"

	_ "modernc.org/sqlite"
)

// Store keeps a history of signal evaluations in SQLite. It is an analytics
// sink only; nothing here is read back into the book or the ledger.
type Store struct {
	db *sql.DB
}

// New opens dbPath and initializes the schema. ":memory:" is supported.
func New(dbPath string) (*Store, error) {
	if dbPath == ":memory:" {
		dbPath = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Configure SQLite
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, err
		}
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS signal_samples (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		evaluated_at INTEGER NOT NULL,  -- unix ms
		last_update INTEGER NOT NULL,   -- exchange ms
		best_bid REAL NOT NULL,
		best_bid_size REAL NOT NULL,
		best_ask REAL NOT NULL,
		best_ask_size REAL NOT NULL,
		mid REAL NOT NULL,
		spread REAL NOT NULL,
		crossed INTEGER NOT NULL,
		spread_ok INTEGER NOT NULL,
		skew REAL,        -- NULL when not finite
		range_skew REAL,  -- NULL when not finite
		inventory REAL NOT NULL,
		size_to_target REAL NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_signal_samples_symbol ON signal_samples(symbol, id);
	`
	_, err := s.db.Exec(schema)
	return err
}
