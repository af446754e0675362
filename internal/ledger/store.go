package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	. "github.com/roelfdiedericks/voxledger/internal/logging"
)

const schema = `
CREATE TABLE IF NOT EXISTS ledger_transactions (
	seq              INTEGER PRIMARY KEY AUTOINCREMENT,
	id               TEXT NOT NULL UNIQUE,
	ts               INTEGER NOT NULL,
	month            TEXT NOT NULL,
	day              TEXT NOT NULL,
	provider         TEXT NOT NULL,
	kind             TEXT NOT NULL,
	units            REAL NOT NULL DEFAULT 0,
	input_units      INTEGER NOT NULL DEFAULT 0,
	output_units     INTEGER NOT NULL DEFAULT 0,
	cost             REAL NOT NULL DEFAULT 0,
	within_free_tier INTEGER NOT NULL DEFAULT 0,
	metadata         TEXT
);
CREATE INDEX IF NOT EXISTS idx_ledger_month ON ledger_transactions(month);
CREATE INDEX IF NOT EXISTS idx_ledger_provider ON ledger_transactions(provider);
`

// SQLiteStore keeps ledger transactions in a SQLite table.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the ledger database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("ledger: failed to open database: %w", err)
	}
	// One writer keeps appends ordered.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: failed to create schema: %w", err)
	}

	L_debug("ledger: database opened", "path", path)
	return &SQLiteStore{db: db}, nil
}

// Load returns every transaction in insertion order.
func (s *SQLiteStore) Load() ([]Transaction, error) {
	rows, err := s.db.Query(`
		SELECT id, ts, provider, kind, units, input_units, output_units, cost, within_free_tier, metadata
		FROM ledger_transactions ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var (
			tx   Transaction
			ts   int64
			kind string
			free int
			meta sql.NullString
		)
		if err := rows.Scan(&tx.ID, &ts, &tx.Provider, &kind, &tx.Units, &tx.InputUnits, &tx.OutputUnits, &tx.Cost, &free, &meta); err != nil {
			return nil, err
		}
		tx.Timestamp = time.Unix(0, ts).UTC()
		tx.Kind = UnitKind(kind)
		tx.WithinFreeTier = free != 0
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &tx.Metadata); err != nil {
				L_warn("ledger: bad metadata on transaction", "id", tx.ID, "error", err)
			}
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// Append inserts one transaction.
func (s *SQLiteStore) Append(tx Transaction) error {
	var meta sql.NullString
	if len(tx.Metadata) > 0 {
		b, err := json.Marshal(tx.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		meta = sql.NullString{String: string(b), Valid: true}
	}

	free := 0
	if tx.WithinFreeTier {
		free = 1
	}

	_, err := s.db.Exec(`
		INSERT INTO ledger_transactions
			(id, ts, month, day, provider, kind, units, input_units, output_units, cost, within_free_tier, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.Timestamp.UnixNano(), tx.Month(), tx.Day(), tx.Provider, string(tx.Kind),
		tx.Units, tx.InputUnits, tx.OutputUnits, tx.Cost, free, meta)
	return err
}

// DeleteMonth removes every transaction of month (YYYY-MM) and reports how many.
func (s *SQLiteStore) DeleteMonth(month string) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM ledger_transactions WHERE month = ?`, month)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
