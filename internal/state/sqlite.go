package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS message_states (
	message_id   TEXT PRIMARY KEY,
	status       TEXT NOT NULL,
	content_type TEXT NOT NULL DEFAULT '',
	created_at   INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL,
	processed_at INTEGER,
	error        TEXT,
	output_paths TEXT,
	retry_count  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_message_states_status ON message_states(status);
CREATE TABLE IF NOT EXISTS cursors (
	name       TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// SQLiteStore is the default single-host ledger backend. It keeps one
// writer connection open; SQLite serializes writers anyway and a single
// connection avoids SQLITE_BUSY churn under concurrent handlers.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteStore opens (creating if needed) the ledger database at path.
func NewSQLiteStore(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logger.Warn("sqlite pragma failed", zap.String("pragma", pragma), zap.Error(err))
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize state schema: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	var status Status
	err := s.db.QueryRowContext(ctx,
		"SELECT status FROM message_states WHERE message_id = ?", messageID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query message state: %w", err)
	}
	return status == StatusCompleted, nil
}

func (s *SQLiteStore) Get(ctx context.Context, messageID string) (*MessageState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT message_id, status, content_type, created_at, updated_at,
		       processed_at, error, output_paths, retry_count
		FROM message_states WHERE message_id = ?`, messageID)
	ms, err := scanSQLiteState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query message state: %w", err)
	}
	return ms, nil
}

func (s *SQLiteStore) MarkProcessing(ctx context.Context, messageID, contentType string) error {
	now := time.Now().UTC().Unix()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO message_states (message_id, status, content_type, created_at, updated_at, retry_count)
		VALUES (?, ?, ?, ?, ?, 0)
		ON CONFLICT(message_id) DO UPDATE SET
			status = excluded.status,
			content_type = excluded.content_type,
			updated_at = excluded.updated_at,
			error = NULL
		WHERE message_states.status != ?`,
		messageID, StatusProcessing, contentType, now, now, StatusCompleted)
	if err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	return nil
}

func (s *SQLiteStore) MarkCompleted(ctx context.Context, messageID string, outputPaths []string) error {
	if outputPaths == nil {
		outputPaths = []string{}
	}
	paths, err := json.Marshal(outputPaths)
	if err != nil {
		return fmt.Errorf("encode output paths: %w", err)
	}
	now := time.Now().UTC().Unix()
	res, err := s.db.ExecContext(ctx, `
		UPDATE message_states
		SET status = ?, updated_at = ?, processed_at = ?, error = NULL, output_paths = ?
		WHERE message_id = ?`,
		StatusCompleted, now, now, string(paths), messageID)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return requireRow(res, messageID)
}

func (s *SQLiteStore) MarkFailed(ctx context.Context, messageID string, procErr error) error {
	now := time.Now().UTC().Unix()
	res, err := s.db.ExecContext(ctx, `
		UPDATE message_states
		SET status = ?, updated_at = ?, error = ?, retry_count = retry_count + 1
		WHERE message_id = ? AND status != ?`,
		StatusFailed, now, errText(procErr), messageID, StatusCompleted)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return requireRow(res, messageID)
}

func (s *SQLiteStore) ResetForRetry(ctx context.Context, messageID string) error {
	now := time.Now().UTC().Unix()
	res, err := s.db.ExecContext(ctx, `
		UPDATE message_states
		SET status = ?, updated_at = ?, error = NULL
		WHERE message_id = ? AND status = ?`,
		StatusPending, now, messageID, StatusFailed)
	if err != nil {
		return fmt.Errorf("reset for retry: %w", err)
	}
	return requireRow(res, messageID)
}

func (s *SQLiteStore) ResetAllFailed(ctx context.Context) (int, error) {
	now := time.Now().UTC().Unix()
	res, err := s.db.ExecContext(ctx, `
		UPDATE message_states
		SET status = ?, updated_at = ?, error = NULL
		WHERE status = ?`,
		StatusPending, now, StatusFailed)
	if err != nil {
		return 0, fmt.Errorf("reset failed messages: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset failed messages: %w", err)
	}
	return int(n), nil
}

func (s *SQLiteStore) GetByStatus(ctx context.Context, status Status, limit int) ([]*MessageState, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, status, content_type, created_at, updated_at,
		       processed_at, error, output_paths, retry_count
		FROM message_states
		WHERE status = ?
		ORDER BY created_at ASC
		LIMIT ?`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list message states: %w", err)
	}
	defer rows.Close()

	var states []*MessageState
	for rows.Next() {
		ms, err := scanSQLiteState(rows)
		if err != nil {
			return nil, fmt.Errorf("list message states: %w", err)
		}
		states = append(states, ms)
	}
	return states, rows.Err()
}

func (s *SQLiteStore) StatusCounts(ctx context.Context) (map[Status]int, error) {
	counts := map[Status]int{
		StatusPending:    0,
		StatusProcessing: 0,
		StatusCompleted:  0,
		StatusFailed:     0,
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM message_states GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count message states: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("count message states: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (s *SQLiteStore) RequeueStuck(ctx context.Context, olderThan time.Duration) (int, error) {
	now := time.Now().UTC()
	cutoff := now.Add(-olderThan).Unix()
	res, err := s.db.ExecContext(ctx, `
		UPDATE message_states
		SET status = ?, updated_at = ?
		WHERE status = ? AND updated_at < ?`,
		StatusPending, now.Unix(), StatusProcessing, cutoff)
	if err != nil {
		return 0, fmt.Errorf("requeue stuck messages: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("requeue stuck messages: %w", err)
	}
	return int(n), nil
}

func (s *SQLiteStore) GetCursor(ctx context.Context, name string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM cursors WHERE name = ?", name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("cursor %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("query cursor: %w", err)
	}
	return value, nil
}

func (s *SQLiteStore) SetCursor(ctx context.Context, name, value string) error {
	now := time.Now().UTC().Unix()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cursors (name, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`,
		name, value, now)
	if err != nil {
		return fmt.Errorf("set cursor: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteState(row rowScanner) (*MessageState, error) {
	var (
		ms        MessageState
		created   int64
		updated   int64
		processed sql.NullInt64
		errMsg    sql.NullString
		paths     sql.NullString
	)
	err := row.Scan(&ms.MessageID, &ms.Status, &ms.ContentType, &created, &updated,
		&processed, &errMsg, &paths, &ms.RetryCount)
	if err != nil {
		return nil, err
	}
	ms.CreatedAt = time.Unix(created, 0).UTC()
	ms.UpdatedAt = time.Unix(updated, 0).UTC()
	if processed.Valid {
		t := time.Unix(processed.Int64, 0).UTC()
		ms.ProcessedAt = &t
	}
	if errMsg.Valid {
		ms.Error = errMsg.String
	}
	if paths.Valid && paths.String != "" {
		if err := json.Unmarshal([]byte(paths.String), &ms.OutputPaths); err != nil {
			return nil, fmt.Errorf("decode output paths: %w", err)
		}
	}
	return &ms, nil
}

func requireRow(res sql.Result, messageID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}
	return nil
}
