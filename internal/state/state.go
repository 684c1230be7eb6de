// Package state tracks per-message processing status so a redelivered
// message is processed at most once and a failed one can be retried
// deliberately. Completed is terminal: no operation moves a message out
// of it.
package state

import (
	"context"
	"errors"
	"time"
)

// Status is the lifecycle position of a message.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// ErrNotFound is returned when no row matches the message id (or the row
// is not in a state the operation applies to).
var ErrNotFound = errors.New("message state not found")

// MessageState is one row of the idempotency ledger.
type MessageState struct {
	MessageID   string     `json:"message_id"`
	Status      Status     `json:"status"`
	ContentType string     `json:"content_type,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	OutputPaths []string   `json:"output_paths,omitempty"`
	RetryCount  int        `json:"retry_count"`
}

// Store is the idempotency ledger. Implementations must make
// MarkProcessing an atomic upsert: concurrent duplicate deliveries of the
// same message id must not race into two fresh rows.
type Store interface {
	// IsProcessed reports whether the message reached completed.
	// Unknown ids are simply not processed.
	IsProcessed(ctx context.Context, messageID string) (bool, error)

	// Get returns the full state row, or ErrNotFound.
	Get(ctx context.Context, messageID string) (*MessageState, error)

	// MarkProcessing upserts the row to processing, preserving any
	// existing retry count. A completed row is left untouched.
	MarkProcessing(ctx context.Context, messageID, contentType string) error

	// MarkCompleted moves the row to completed, stamps processed_at,
	// clears the error, and stores the output paths.
	MarkCompleted(ctx context.Context, messageID string, outputPaths []string) error

	// MarkFailed moves the row to failed, records the error text, and
	// increments the retry count. A completed row is left untouched and
	// reported as ErrNotFound, as is a missing one.
	MarkFailed(ctx context.Context, messageID string, procErr error) error

	// ResetForRetry moves one failed row back to pending and clears its
	// error. The retry count is preserved. Rows in any other status are
	// not retryable and reported as ErrNotFound.
	ResetForRetry(ctx context.Context, messageID string) error

	// ResetAllFailed moves every failed row back to pending and returns
	// how many rows changed.
	ResetAllFailed(ctx context.Context) (int, error)

	// GetByStatus lists rows in one status, oldest first.
	GetByStatus(ctx context.Context, status Status, limit int) ([]*MessageState, error)

	// StatusCounts returns a count per status, with zeroes for empty ones.
	StatusCounts(ctx context.Context) (map[Status]int, error)

	// RequeueStuck moves processing rows not touched for olderThan back
	// to pending and returns how many rows changed. This is an explicit
	// operator action: nothing requeues automatically.
	RequeueStuck(ctx context.Context, olderThan time.Duration) (int, error)

	// GetCursor returns the saved value of a named transport cursor, or
	// ErrNotFound for a cursor never set.
	GetCursor(ctx context.Context, name string) (string, error)

	// SetCursor upserts a named transport cursor. The transport client
	// persists its poll offset here so it can resume after a restart.
	SetCursor(ctx context.Context, name, value string) error

	Close() error
}

// ValidStatus reports whether s names a known lifecycle status.
func ValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
