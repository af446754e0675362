// Package entities stores the reminders, tasks, meetings, interests and
// voice notes that finished dialogue flows produce.
package entities

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	. "github.com/roelfdiedericks/voxledger/internal/logging"
	"github.com/roelfdiedericks/voxledger/internal/session"
)

// ErrPersistence wraps every storage failure.
var ErrPersistence = errors.New("entity store failure")

const currentSchemaVersion = 2

// Store is a SQLite entity store. It implements session.Persister and
// session.Lister.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the entity database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("entities: failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("entities: failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("entities: migration failed: %w", err)
	}

	L_info("entities: store opened", "path", path)
	return s, nil
}

func (s *Store) migrate() error {
	var version int
	if err := s.db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version); err != nil {
		version = 0
	}
	if version >= currentSchemaVersion {
		L_debug("entities: schema up to date", "version", version)
		return nil
	}

	migrations := []func(*sql.DB) error{migrateV1, migrateV2}
	for i := version; i < len(migrations); i++ {
		if err := migrations[i](s.db); err != nil {
			return fmt.Errorf("migration v%d failed: %w", i+1, err)
		}
		L_debug("entities: applied migration", "version", i+1)
	}
	return nil
}

func migrateV1(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS entities (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		target TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		file_ref TEXT NOT NULL DEFAULT '',
		fields TEXT,
		sender TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	INSERT INTO schema_version (version, applied_at) VALUES (1, ?);
	`, time.Now().Unix())
	return err
}

// migrateV2 adds transcription metadata and the listing index.
func migrateV2(db *sql.DB) error {
	_, err := db.Exec(`
	ALTER TABLE entities ADD COLUMN transcription TEXT;
	CREATE INDEX IF NOT EXISTS idx_entities_session_target ON entities(session_id, target, created_at);
	INSERT INTO schema_version (version, applied_at) VALUES (2, ?);
	`, time.Now().Unix())
	return err
}

// Save inserts e, assigning an ID when it has none.
func (s *Store) Save(ctx context.Context, e *session.Entity) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	fields, err := marshalOptional(e.Fields, len(e.Fields) > 0)
	if err != nil {
		return fmt.Errorf("%w: encode fields: %v", ErrPersistence, err)
	}
	meta, err := marshalOptional(e.Transcription, e.Transcription != nil)
	if err != nil {
		return fmt.Errorf("%w: encode transcription: %v", ErrPersistence, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entities (id, session_id, target, title, content, file_ref, fields, sender, created_at, transcription)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SessionID, string(e.Target), e.Title, e.Content, e.FileRef, fields, e.Sender, e.CreatedAt.UnixNano(), meta)
	if err != nil {
		return fmt.Errorf("%w: insert: %v", ErrPersistence, err)
	}

	L_debug("entities: saved", "id", e.ID, "target", e.Target, "session", e.SessionID)
	return nil
}

// List returns a session's newest entities of the given targets. An empty
// sessionID lists every session; empty targets match all.
func (s *Store) List(ctx context.Context, sessionID string, targets []session.Target, limit int) ([]session.Entity, error) {
	var where []string
	var args []interface{}
	if sessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, sessionID)
	}
	if len(targets) > 0 {
		marks := make([]string, len(targets))
		for i, t := range targets {
			marks[i] = "?"
			args = append(args, string(t))
		}
		where = append(where, "target IN ("+strings.Join(marks, ",")+")")
	}
	if limit <= 0 {
		limit = 10
	}

	query := "SELECT id, session_id, target, title, content, file_ref, fields, sender, created_at, transcription FROM entities"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", ErrPersistence, err)
	}
	defer rows.Close()

	var out []session.Entity
	for rows.Next() {
		var (
			e             session.Entity
			target        string
			fields, trans sql.NullString
			created       int64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &target, &e.Title, &e.Content, &e.FileRef, &fields, &e.Sender, &created, &trans); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", ErrPersistence, err)
		}
		e.Target = session.Target(target)
		e.CreatedAt = time.Unix(0, created).UTC()
		if fields.Valid && fields.String != "" {
			if err := json.Unmarshal([]byte(fields.String), &e.Fields); err != nil {
				L_warn("entities: bad fields json", "id", e.ID, "error", err)
			}
		}
		if trans.Valid && trans.String != "" {
			var meta session.TranscriptionMeta
			if err := json.Unmarshal([]byte(trans.String), &meta); err != nil {
				L_warn("entities: bad transcription json", "id", e.ID, "error", err)
			} else {
				e.Transcription = &meta
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return out, nil
}

// Counts returns the number of stored entities per target.
func (s *Store) Counts(ctx context.Context) (map[session.Target]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT target, COUNT(*) FROM entities GROUP BY target")
	if err != nil {
		return nil, fmt.Errorf("%w: count: %v", ErrPersistence, err)
	}
	defer rows.Close()

	counts := make(map[session.Target]int)
	for rows.Next() {
		var target string
		var n int
		if err := rows.Scan(&target, &n); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", ErrPersistence, err)
		}
		counts[session.Target(target)] = n
	}
	return counts, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func marshalOptional(v interface{}, present bool) (sql.NullString, error) {
	if !present {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
