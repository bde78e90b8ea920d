package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// maxInsertAttempts bounds the read-max-then-insert loop when another writer
// takes the version first.
const maxInsertAttempts = 5

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath. Write transactions
// take the lock immediately so separate processes sharing the file serialize
// on version assignment.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	createGenerationsTable := `
	CREATE TABLE IF NOT EXISTS generations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		person_key TEXT NOT NULL,
		version INTEGER NOT NULL CHECK (version > 0),
		prompt TEXT NOT NULL,
		image_ref TEXT NOT NULL,
		model_version TEXT NOT NULL DEFAULT '',
		response_id TEXT,
		used_base INTEGER NOT NULL DEFAULT 0,
		note TEXT,
		reset_reason TEXT,
		created_at INTEGER NOT NULL,
		UNIQUE (person_key, version)
	);
	`

	createIndexes := `
	CREATE INDEX IF NOT EXISTS idx_generations_person_created ON generations(person_key, created_at);
	`

	if _, err := s.db.Exec(createGenerationsTable); err != nil {
		return fmt.Errorf("failed to create generations table: %w", err)
	}
	if _, err := s.db.Exec(createIndexes); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

const selectColumns = `id, person_key, version, prompt, image_ref, model_version, response_id, used_base, note, reset_reason, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*GenerationRecord, error) {
	var (
		r           GenerationRecord
		responseID  sql.NullString
		note        sql.NullString
		resetReason sql.NullString
		usedBase    int
		createdAt   int64
	)
	if err := row.Scan(&r.ID, &r.PersonKey, &r.Version, &r.Prompt, &r.ImageRef, &r.ModelVersion,
		&responseID, &usedBase, &note, &resetReason, &createdAt); err != nil {
		return nil, err
	}
	r.ResponseID = responseID.String
	r.Note = note.String
	r.ResetReason = resetReason.String
	r.UsedBase = usedBase != 0
	r.CreatedAt = time.Unix(0, createdAt).UTC()
	return &r, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *SQLiteStore) queryOne(ctx context.Context, query string, args ...any) (*GenerationRecord, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query generation: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) LatestRecord(ctx context.Context, person string) (*GenerationRecord, error) {
	return s.queryOne(ctx, `SELECT `+selectColumns+` FROM generations
		WHERE person_key = ? ORDER BY version DESC LIMIT 1`, person)
}

func (s *SQLiteStore) LatestRecordSince(ctx context.Context, person string, since time.Time) (*GenerationRecord, error) {
	return s.queryOne(ctx, `SELECT `+selectColumns+` FROM generations
		WHERE person_key = ? AND created_at >= ? ORDER BY version DESC LIMIT 1`, person, since.UnixNano())
}

func (s *SQLiteStore) GetByVersion(ctx context.Context, person string, version int) (*GenerationRecord, error) {
	return s.queryOne(ctx, `SELECT `+selectColumns+` FROM generations
		WHERE person_key = ? AND version = ?`, person, version)
}

// CountInWindow counts records with start <= created_at <= end.
func (s *SQLiteStore) CountInWindow(ctx context.Context, person string, start, end time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM generations
		WHERE person_key = ? AND created_at >= ? AND created_at <= ?`,
		person, start.UnixNano(), end.UnixNano()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count generations: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) NextVersion(ctx context.Context, person string) (int, error) {
	var max int
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM generations WHERE person_key = ?`, person).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("failed to read max version: %w", err)
	}
	return max + 1, nil
}

// InsertNext assigns MAX(version)+1 inside a write transaction. A losing
// writer sees ErrVersionConflict and retries with a fresh read.
func (s *SQLiteStore) InsertNext(ctx context.Context, rec *GenerationRecord) (*GenerationRecord, error) {
	var lastErr error
	for attempt := 0; attempt < maxInsertAttempts; attempt++ {
		out, err := s.insertNextOnce(ctx, rec)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("insert generation for %s after %d attempts: %w", rec.PersonKey, maxInsertAttempts, lastErr)
}

func (s *SQLiteStore) insertNextOnce(ctx context.Context, rec *GenerationRecord) (*GenerationRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", classify(err))
	}
	defer tx.Rollback()

	var max int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM generations WHERE person_key = ?`,
		rec.PersonKey).Scan(&max); err != nil {
		return nil, fmt.Errorf("failed to read max version: %w", classify(err))
	}

	out := *rec
	out.Version = max + 1
	if err := insertTx(ctx, tx, &out); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit generation: %w", classify(err))
	}
	return &out, nil
}

// InsertAtVersion inserts rec with its own Version, failing with
// ErrVersionConflict when that version is taken.
func (s *SQLiteStore) InsertAtVersion(ctx context.Context, rec *GenerationRecord) (*GenerationRecord, error) {
	if rec.Version <= 0 {
		return nil, fmt.Errorf("invalid version %d", rec.Version)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", classify(err))
	}
	defer tx.Rollback()

	out := *rec
	if err := insertTx(ctx, tx, &out); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit generation: %w", classify(err))
	}
	return &out, nil
}

// ReplaceVersion deletes the existing record at rec.Version and inserts rec in
// its place in one transaction.
func (s *SQLiteStore) ReplaceVersion(ctx context.Context, rec *GenerationRecord) (*GenerationRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", classify(err))
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM generations WHERE person_key = ? AND version = ?`, rec.PersonKey, rec.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to delete generation: %w", classify(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}

	out := *rec
	if err := insertTx(ctx, tx, &out); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit generation: %w", classify(err))
	}
	return &out, nil
}

func insertTx(ctx context.Context, tx *sql.Tx, rec *GenerationRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO generations
		(person_key, version, prompt, image_ref, model_version, response_id, used_base, note, reset_reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.PersonKey, rec.Version, rec.Prompt, rec.ImageRef, rec.ModelVersion,
		nullable(rec.ResponseID), boolInt(rec.UsedBase), nullable(rec.Note), nullable(rec.ResetReason),
		rec.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert generation %s v%d: %w", rec.PersonKey, rec.Version, classify(err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read generation id: %w", err)
	}
	rec.ID = id
	return nil
}

// classify maps unique-constraint and busy errors to ErrVersionConflict.
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") {
		return fmt.Errorf("%w: %v", ErrVersionConflict, err)
	}
	return err
}

// History lists records newest first. limit <= 0 returns everything.
func (s *SQLiteStore) History(ctx context.Context, person string, limit int) ([]*GenerationRecord, error) {
	query := `SELECT ` + selectColumns + ` FROM generations WHERE person_key = ? ORDER BY version DESC`
	args := []any{person}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var records []*GenerationRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan generation: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// RecentPrompts returns the last n prompts for person, oldest first.
func (s *SQLiteStore) RecentPrompts(ctx context.Context, person string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT prompt FROM generations
		WHERE person_key = ? ORDER BY version DESC LIMIT ?`, person, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query prompts: %w", err)
	}
	defer rows.Close()

	var prompts []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan prompt: %w", err)
		}
		prompts = append(prompts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(prompts)-1; i < j; i, j = i+1, j-1 {
		prompts[i], prompts[j] = prompts[j], prompts[i]
	}
	return prompts, nil
}

func (s *SQLiteStore) People(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT person_key FROM generations ORDER BY person_key`)
	if err != nil {
		return nil, fmt.Errorf("failed to query people: %w", err)
	}
	defer rows.Close()

	var people []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		people = append(people, p)
	}
	return people, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
