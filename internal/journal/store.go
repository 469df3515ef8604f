package journal

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
	_ "modernc.org/sqlite"
)

// ErrInvalidTransition is returned when a saga is not in the state an update
// requires.
var ErrInvalidTransition = errors.New("invalid saga transition")

// Store persists check-in sagas in SQLite.
type Store struct {
	db   *sql.DB
	path string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// timeLayout is fixed-width so lexical order matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const sagaColumns = `id, asset, holder, version, filename, metadata_json, version_map_json,
    status, last_error, attempts, created_at, updated_at`

// Open initializes or connects to the journal database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("journal path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure journal directory: %w", err)
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

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Create inserts a new saga in pending state. An empty ID is assigned.
func (s *Store) Create(ctx context.Context, saga Saga) (*Saga, error) {
	if saga.ID == "" {
		saga.ID = uuid.NewString()
	}
	if strings.TrimSpace(saga.Asset) == "" {
		return nil, errors.New("saga asset required")
	}
	if len(saga.Metadata) == 0 {
		saga.Metadata = json.RawMessage("{}")
	}
	now := time.Now().UTC().Format(timeLayout)

	_, err := s.execWithRetry(ctx,
		`INSERT INTO checkin_sagas (
            id, asset, holder, version, filename, metadata_json, version_map_json,
            status, last_error, attempts, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, NULL, ?, NULL, 0, ?, ?)`,
		saga.ID, saga.Asset, saga.Holder, saga.Version, saga.Filename, string(saga.Metadata),
		StatusPending, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert saga: %w", err)
	}
	return s.Get(ctx, saga.ID)
}

// Get fetches a saga by identifier. A missing saga returns nil, nil.
func (s *Store) Get(ctx context.Context, id string) (*Saga, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sagaColumns+` FROM checkin_sagas WHERE id = ?`, id)
	saga, err := scanSaga(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get saga: %w", err)
	}
	return saga, nil
}

// List returns sagas newest first, optionally filtered by status.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]Saga, error) {
	query := `SELECT ` + sagaColumns + ` FROM checkin_sagas`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, status := range statuses {
			placeholders[i] = "?"
			args = append(args, status)
		}
		query += ` WHERE status IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sagas: %w", err)
	}
	defer rows.Close()

	var out []Saga
	for rows.Next() {
		saga, err := scanSaga(rows)
		if err != nil {
			return nil, fmt.Errorf("scan saga: %w", err)
		}
		out = append(out, *saga)
	}
	return out, rows.Err()
}

// MarkContentCommitted records a successful content upload.
func (s *Store) MarkContentCommitted(ctx context.Context, id string, versionMap map[string]string) error {
	encoded, err := json.Marshal(versionMap)
	if err != nil {
		return fmt.Errorf("encode version map: %w", err)
	}
	return s.transition(ctx, id, StatusPending, StatusContentCommitted,
		`version_map_json = ?, last_error = NULL`, string(encoded))
}

// MarkMetadataCommitted completes a saga.
func (s *Store) MarkMetadataCommitted(ctx context.Context, id string) error {
	return s.transition(ctx, id, StatusContentCommitted, StatusMetadataCommitted,
		`last_error = NULL, attempts = attempts + 1`)
}

// MarkFailed records a content-phase failure; nothing reached the registry.
func (s *Store) MarkFailed(ctx context.Context, id, reason string) error {
	return s.transition(ctx, id, StatusPending, StatusFailed, `last_error = ?`, reason)
}

// RecordMetadataFailure notes a failed metadata attempt while leaving the saga
// resumable.
func (s *Store) RecordMetadataFailure(ctx context.Context, id, reason string) error {
	return s.transition(ctx, id, StatusContentCommitted, StatusContentCommitted,
		`last_error = ?, attempts = attempts + 1`, reason)
}

func (s *Store) transition(ctx context.Context, id string, from, to Status, set string, args ...any) error {
	now := time.Now().UTC().Format(timeLayout)
	query := `UPDATE checkin_sagas SET status = ?, updated_at = ?, ` + set + ` WHERE id = ? AND status = ?`
	params := append([]any{to, now}, args...)
	params = append(params, id, from)

	res, err := s.execWithRetry(ctx, query, params...)
	if err != nil {
		return fmt.Errorf("update saga %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		current, getErr := s.Get(ctx, id)
		if getErr != nil {
			return getErr
		}
		if current == nil {
			return fmt.Errorf("%w: saga %s does not exist", ErrInvalidTransition, id)
		}
		return fmt.Errorf("%w: saga %s is %s, expected %s", ErrInvalidTransition, id, current.Status, from)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSaga(row scanner) (*Saga, error) {
	var (
		saga       Saga
		metadata   string
		versionMap sql.NullString
		lastError  sql.NullString
		status     string
		createdAt  string
		updatedAt  string
	)
	if err := row.Scan(
		&saga.ID, &saga.Asset, &saga.Holder, &saga.Version, &saga.Filename,
		&metadata, &versionMap, &status, &lastError, &saga.Attempts, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	saga.Metadata = json.RawMessage(metadata)
	saga.Status = Status(status)
	saga.LastError = lastError.String
	if versionMap.Valid && versionMap.String != "" {
		if err := json.Unmarshal([]byte(versionMap.String), &saga.VersionMap); err != nil {
			return nil, fmt.Errorf("decode version map: %w", err)
		}
	}
	saga.CreatedAt = parseTime(createdAt)
	saga.UpdatedAt = parseTime(updatedAt)
	return &saga, nil
}

func parseTime(value string) time.Time {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}
	}
	return t
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

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}
