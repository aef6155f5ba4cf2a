package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/user/bankdesk/internal/types"
)

// SQLiteStore implements types.SessionStore using SQLite. The full session
// record is kept as JSON; the columns beside it exist for lookups and listing.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) the database at dsn.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps writes serialized and makes :memory: usable
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			session_key TEXT UNIQUE,
			category TEXT NOT NULL DEFAULT '',
			stage TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			last_active_at DATETIME NOT NULL,
			record TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_last_active ON sessions(last_active_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullableKey(key types.SessionKey) sql.NullString {
	return sql.NullString{String: string(key), Valid: key != ""}
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

// Create inserts a new session.
func (s *SQLiteStore) Create(ctx context.Context, session *types.Session) error {
	record, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, session_key, category, stage, created_at, last_active_at, record)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(session.ID), nullableKey(session.Key), session.Category, string(session.Stage),
		session.CreatedAt.UTC(), session.LastActiveAt.UTC(), string(record))
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrKeyInUse, session.Key)
	}
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) scanOne(row *sql.Row, what string) (*types.Session, error) {
	var record string
	err := row.Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", types.ErrSessionNotFound, what)
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	return decodeSession([]byte(record))
}

func decodeSession(record []byte) (*types.Session, error) {
	var session types.Session
	if err := json.Unmarshal(record, &session); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	if session.ExtractedData == nil {
		session.ExtractedData = make(map[string]string)
	}
	return &session, nil
}

// Get returns the session with the given ID.
func (s *SQLiteStore) Get(ctx context.Context, id types.SessionID) (*types.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT record FROM sessions WHERE session_id = ?`, string(id))
	return s.scanOne(row, string(id))
}

// FindByKey returns the session owning the given channel key.
func (s *SQLiteStore) FindByKey(ctx context.Context, key types.SessionKey) (*types.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT record FROM sessions WHERE session_key = ?`, string(key))
	return s.scanOne(row, "key "+string(key))
}

// Update replaces the stored record of an existing session.
func (s *SQLiteStore) Update(ctx context.Context, session *types.Session) error {
	record, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET session_key = ?, category = ?, stage = ?, last_active_at = ?, record = ?
		 WHERE session_id = ?`,
		nullableKey(session.Key), session.Category, string(session.Stage),
		session.LastActiveAt.UTC(), string(record), string(session.ID))
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrKeyInUse, session.Key)
	}
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return expectOneRow(res, session.ID)
}

// Delete removes the session.
func (s *SQLiteStore) Delete(ctx context.Context, id types.SessionID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, string(id))
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return expectOneRow(res, id)
}

func expectOneRow(res sql.Result, id types.SessionID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", types.ErrSessionNotFound, id)
	}
	return nil
}

// List returns all sessions, most recently active first.
func (s *SQLiteStore) List(ctx context.Context) ([]*types.Session, error) {
	return s.query(ctx, `SELECT record FROM sessions ORDER BY last_active_at DESC`)
}

func (s *SQLiteStore) query(ctx context.Context, query string, args ...any) ([]*types.Session, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*types.Session
	for rows.Next() {
		var record string
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		session, err := decodeSession([]byte(record))
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}
