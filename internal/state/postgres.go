package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS message_states (
	message_id   TEXT PRIMARY KEY,
	status       TEXT NOT NULL,
	content_type TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL,
	processed_at TIMESTAMPTZ,
	error        TEXT,
	output_paths JSONB,
	retry_count  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_message_states_status ON message_states(status);
CREATE TABLE IF NOT EXISTS cursors (
	name       TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

// PostgresStore is the shared-database ledger backend for deployments
// where several hosts ingest against the same ledger.
type PostgresStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresStore connects to the ledger database and ensures the schema
// exists.
func NewPostgresStore(ctx context.Context, dsn string, logger *zap.Logger) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres database: %w", err)
	}

	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize state schema: %w", err)
	}

	return &PostgresStore{db: db, logger: logger}, nil
}

func (s *PostgresStore) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	var status Status
	err := s.db.QueryRowContext(ctx,
		"SELECT status FROM message_states WHERE message_id = $1", messageID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query message state: %w", err)
	}
	return status == StatusCompleted, nil
}

func (s *PostgresStore) Get(ctx context.Context, messageID string) (*MessageState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT message_id, status, content_type, created_at, updated_at,
		       processed_at, error, output_paths, retry_count
		FROM message_states WHERE message_id = $1`, messageID)
	ms, err := scanPostgresState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query message state: %w", err)
	}
	return ms, nil
}

func (s *PostgresStore) MarkProcessing(ctx context.Context, messageID, contentType string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO message_states (message_id, status, content_type, created_at, updated_at, retry_count)
		VALUES ($1, $2, $3, $4, $4, 0)
		ON CONFLICT (message_id) DO UPDATE SET
			status = excluded.status,
			content_type = excluded.content_type,
			updated_at = excluded.updated_at,
			error = NULL
		WHERE message_states.status != $5`,
		messageID, StatusProcessing, contentType, now, StatusCompleted)
	if err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkCompleted(ctx context.Context, messageID string, outputPaths []string) error {
	if outputPaths == nil {
		outputPaths = []string{}
	}
	paths, err := json.Marshal(outputPaths)
	if err != nil {
		return fmt.Errorf("encode output paths: %w", err)
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE message_states
		SET status = $1, updated_at = $2, processed_at = $2, error = NULL, output_paths = $3
		WHERE message_id = $4`,
		StatusCompleted, now, string(paths), messageID)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return requireRow(res, messageID)
}

func (s *PostgresStore) MarkFailed(ctx context.Context, messageID string, procErr error) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE message_states
		SET status = $1, updated_at = $2, error = $3, retry_count = retry_count + 1
		WHERE message_id = $4 AND status != $5`,
		StatusFailed, now, errText(procErr), messageID, StatusCompleted)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return requireRow(res, messageID)
}

func (s *PostgresStore) ResetForRetry(ctx context.Context, messageID string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE message_states
		SET status = $1, updated_at = $2, error = NULL
		WHERE message_id = $3 AND status = $4`,
		StatusPending, now, messageID, StatusFailed)
	if err != nil {
		return fmt.Errorf("reset for retry: %w", err)
	}
	return requireRow(res, messageID)
}

func (s *PostgresStore) ResetAllFailed(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE message_states
		SET status = $1, updated_at = $2, error = NULL
		WHERE status = $3`,
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

func (s *PostgresStore) GetByStatus(ctx context.Context, status Status, limit int) ([]*MessageState, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, status, content_type, created_at, updated_at,
		       processed_at, error, output_paths, retry_count
		FROM message_states
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list message states: %w", err)
	}
	defer rows.Close()

	var states []*MessageState
	for rows.Next() {
		ms, err := scanPostgresState(rows)
		if err != nil {
			return nil, fmt.Errorf("list message states: %w", err)
		}
		states = append(states, ms)
	}
	return states, rows.Err()
}

func (s *PostgresStore) StatusCounts(ctx context.Context) (map[Status]int, error) {
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

func (s *PostgresStore) RequeueStuck(ctx context.Context, olderThan time.Duration) (int, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE message_states
		SET status = $1, updated_at = $2
		WHERE status = $3 AND updated_at < $4`,
		StatusPending, now, StatusProcessing, now.Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("requeue stuck messages: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("requeue stuck messages: %w", err)
	}
	return int(n), nil
}

func (s *PostgresStore) GetCursor(ctx context.Context, name string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM cursors WHERE name = $1", name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("cursor %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("query cursor: %w", err)
	}
	return value, nil
}

func (s *PostgresStore) SetCursor(ctx context.Context, name, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cursors (name, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`,
		name, value, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set cursor: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func scanPostgresState(row rowScanner) (*MessageState, error) {
	var (
		ms        MessageState
		processed sql.NullTime
		errMsg    sql.NullString
		paths     []byte
	)
	err := row.Scan(&ms.MessageID, &ms.Status, &ms.ContentType, &ms.CreatedAt, &ms.UpdatedAt,
		&processed, &errMsg, &paths, &ms.RetryCount)
	if err != nil {
		return nil, err
	}
	ms.CreatedAt = ms.CreatedAt.UTC()
	ms.UpdatedAt = ms.UpdatedAt.UTC()
	if processed.Valid {
		t := processed.Time.UTC()
		ms.ProcessedAt = &t
	}
	if errMsg.Valid {
		ms.Error = errMsg.String
	}
	if len(paths) > 0 {
		if err := json.Unmarshal(paths, &ms.OutputPaths); err != nil {
			return nil, fmt.Errorf("decode output paths: %w", err)
		}
	}
	return &ms, nil
}
