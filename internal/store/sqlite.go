package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/rcliao/symbol-predict/internal/fingerprint"
	"github.com/rcliao/symbol-predict/internal/model"
)

// SQLiteStore implements Backend using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{db: db}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func newID() string {
	return ulid.Make().String()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sequences (
		id           TEXT NOT NULL,
		scope        TEXT NOT NULL,
		fingerprint  TEXT NOT NULL,
		length       INTEGER NOT NULL,
		frequency    INTEGER NOT NULL DEFAULT 1,
		created_at   TEXT NOT NULL,
		last_seen_at TEXT NOT NULL,
		PRIMARY KEY (scope, fingerprint)
	);
	CREATE INDEX IF NOT EXISTS idx_sequences_last_seen ON sequences(scope, last_seen_at DESC);

	CREATE TABLE IF NOT EXISTS tokens (
		scope      TEXT NOT NULL,
		id         TEXT NOT NULL,
		label      TEXT NOT NULL,
		meta       TEXT,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (scope, id)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, scope, fp string) (*model.SequenceRecord, error) {
	if err := ValidateScope(scope); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, scope, fingerprint, frequency, created_at, last_seen_at
		 FROM sequences WHERE scope = ? AND fingerprint = ?`, scope, fp)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get sequence: %w", err)
	}
	return &rec, nil
}

func (s *SQLiteStore) Put(ctx context.Context, rec *model.SequenceRecord) error {
	if err := ValidateScope(rec.Scope); err != nil {
		return err
	}
	if rec.ID == "" {
		rec.ID = newID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = rec.LastSeenAt
	}

	// id and created_at belong to the first observation and survive updates.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sequences (id, scope, fingerprint, length, frequency, created_at, last_seen_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(scope, fingerprint) DO UPDATE SET
		   frequency = excluded.frequency,
		   last_seen_at = excluded.last_seen_at`,
		rec.ID, rec.Scope, rec.Fingerprint, len(rec.Sequence), rec.Frequency,
		formatTime(rec.CreatedAt), formatTime(rec.LastSeenAt))
	if err != nil {
		return fmt.Errorf("upsert sequence: %w", err)
	}
	return nil
}

// CompareAndPut inserts when prev is 0 and otherwise updates only the row
// whose frequency is still prev. Either statement runs under SQLite's write
// lock, so writers on other connections or processes cannot interleave.
func (s *SQLiteStore) CompareAndPut(ctx context.Context, rec *model.SequenceRecord, prev int) error {
	if err := ValidateScope(rec.Scope); err != nil {
		return err
	}

	var res sql.Result
	var err error
	if prev == 0 {
		if rec.ID == "" {
			rec.ID = newID()
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = rec.LastSeenAt
		}
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO sequences (id, scope, fingerprint, length, frequency, created_at, last_seen_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(scope, fingerprint) DO NOTHING`,
			rec.ID, rec.Scope, rec.Fingerprint, len(rec.Sequence), rec.Frequency,
			formatTime(rec.CreatedAt), formatTime(rec.LastSeenAt))
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE sequences SET frequency = ?, last_seen_at = ?
			 WHERE scope = ? AND fingerprint = ? AND frequency = ?`,
			rec.Frequency, formatTime(rec.LastSeenAt), rec.Scope, rec.Fingerprint, prev)
	}
	if err != nil {
		return fmt.Errorf("compare and put sequence: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("compare and put sequence: %w", err)
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

func (s *SQLiteStore) RangeQuery(ctx context.Context, scope, prefix string) ([]model.SequenceRecord, error) {
	if err := ValidateScope(scope); err != nil {
		return nil, err
	}
	query := `SELECT id, scope, fingerprint, frequency, created_at, last_seen_at
	          FROM sequences WHERE scope = ? AND fingerprint >= ?`
	args := []interface{}{scope, prefix}
	if end := fingerprint.PrefixEnd(prefix); end != "" {
		query += ` AND fingerprint < ?`
		args = append(args, end)
	}
	query += ` ORDER BY fingerprint`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("range query: %w", err)
	}
	defer rows.Close()

	var records []model.SequenceRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("range query: %w", err)
	}
	return records, nil
}

func (s *SQLiteStore) PutToken(ctx context.Context, scope string, tok model.Token) error {
	if err := ValidateScope(scope); err != nil {
		return err
	}
	if err := fingerprint.ValidateID(tok.ID); err != nil {
		return err
	}

	var metaPtr *string
	if tok.Meta != "" {
		metaPtr = &tok.Meta
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tokens (scope, id, label, meta, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(scope, id) DO UPDATE SET label = excluded.label, meta = excluded.meta, updated_at = excluded.updated_at`,
		scope, tok.ID, tok.Label, metaPtr, formatTime(time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("upsert token: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadTokens(ctx context.Context, scope string) (map[string]model.Token, error) {
	if err := ValidateScope(scope); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, label, meta FROM tokens WHERE scope = ?`, scope)
	if err != nil {
		return nil, fmt.Errorf("load tokens: %w", err)
	}
	defer rows.Close()

	tokens := make(map[string]model.Token)
	for rows.Next() {
		var tok model.Token
		var meta sql.NullString
		if err := rows.Scan(&tok.ID, &tok.Label, &meta); err != nil {
			return nil, err
		}
		if meta.Valid {
			tok.Meta = meta.String
		}
		tokens[tok.ID] = tok
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load tokens: %w", err)
	}
	return tokens, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (model.SequenceRecord, error) {
	var rec model.SequenceRecord
	var createdAt, lastSeenAt string

	err := row.Scan(&rec.ID, &rec.Scope, &rec.Fingerprint, &rec.Frequency, &createdAt, &lastSeenAt)
	if err != nil {
		return rec, err
	}

	rec.Sequence, err = fingerprint.Decode(rec.Fingerprint)
	if err != nil {
		return rec, err
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	rec.LastSeenAt, _ = time.Parse(time.RFC3339Nano, lastSeenAt)
	return rec, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
