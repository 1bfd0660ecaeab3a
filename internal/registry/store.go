package registry

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

// Record is the persisted proof that a transcript content was uploaded.
type Record struct {
	SessionID      string
	FileHash       string
	UploadedAt     time.Time
	TranscriptPath string
}

// Store manages upload records backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// timestampLayout has fixed width so uploaded_at sorts chronologically as text.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

// Open initializes or connects to the registry database at path, creating the
// file and its parent directory when absent.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("registry path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure registry directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path, now: time.Now}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// IsUploaded reports whether sessionID was uploaded with exactly this content
// hash. A stored record with a different hash means the transcript changed
// and must be uploaded again.
func (s *Store) IsUploaded(ctx context.Context, sessionID, hash string) (bool, error) {
	ctx = ensureContext(ctx)
	var stored string
	err := retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx,
			"SELECT file_hash FROM uploads WHERE session_id = ?", sessionID,
		).Scan(&stored)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query upload record: %w", err)
	}
	return stored == hash, nil
}

// MarkUploaded records a successful upload, replacing any previous record for
// the same session.
func (s *Store) MarkUploaded(ctx context.Context, sessionID, hash, transcriptPath string) error {
	ctx = ensureContext(ctx)
	if strings.TrimSpace(sessionID) == "" {
		return errors.New("session id is required")
	}
	uploadedAt := s.now().UTC().Format(timestampLayout)
	err := retryOnBusy(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx, `
INSERT INTO uploads (session_id, file_hash, uploaded_at, transcript_path)
VALUES (?, ?, ?, ?)
ON CONFLICT(session_id) DO UPDATE SET
    file_hash = excluded.file_hash,
    uploaded_at = excluded.uploaded_at,
    transcript_path = excluded.transcript_path`,
			sessionID, hash, uploadedAt, transcriptPath)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("record upload: %w", err)
	}
	return nil
}

// Get returns the record for sessionID, or nil when none exists.
func (s *Store) Get(ctx context.Context, sessionID string) (*Record, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx,
		"SELECT session_id, file_hash, uploaded_at, transcript_path FROM uploads WHERE session_id = ?", sessionID)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get upload record: %w", err)
	}
	return record, nil
}

// List returns the most recent upload records, newest first. A limit <= 0
// returns every record.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	ctx = ensureContext(ctx)
	query := "SELECT session_id, file_hash, uploaded_at, transcript_path FROM uploads ORDER BY uploaded_at DESC"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list upload records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan upload record: %w", err)
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

// Count returns the number of sessions with an upload record.
func (s *Store) Count(ctx context.Context) (int, error) {
	ctx = ensureContext(ctx)
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM uploads").Scan(&count); err != nil {
		return 0, fmt.Errorf("count upload records: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		record     Record
		uploadedAt string
	)
	if err := row.Scan(&record.SessionID, &record.FileHash, &uploadedAt, &record.TranscriptPath); err != nil {
		return nil, err
	}
	if parsed, err := time.Parse(timestampLayout, uploadedAt); err == nil {
		record.UploadedAt = parsed
	}
	return &record, nil
}
