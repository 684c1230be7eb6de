package audit

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

// Reader provides read access to the gate_audit table. It exists only when
// the ClickHouse sink is configured; the JSONL file has no query surface.
type Reader struct {
	conn   driver.Conn
	logger *zap.Logger
}

// NewReader opens a ClickHouse connection for read queries.
func NewReader(dsn string, logger *zap.Logger) (*Reader, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}
	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}

	return &Reader{conn: conn, logger: logger}, nil
}

// Close closes the ClickHouse connection.
func (r *Reader) Close() error {
	return r.conn.Close()
}

// ListParams holds filters for entry listing.
type ListParams struct {
	Action   string // empty means all actions
	SenderID string
	Limit    int
}

// ListRecent returns the most recent audit entries, newest first.
func (r *Reader) ListRecent(ctx context.Context, params ListParams) ([]Entry, error) {
	conditions := []string{"1 = 1"}
	args := []any{}

	if params.Action != "" {
		conditions = append(conditions, "action = @action")
		args = append(args, clickhouse.Named("action", params.Action))
	}
	if params.SenderID != "" {
		conditions = append(conditions, "sender_id = @sender_id")
		args = append(args, clickhouse.Named("sender_id", params.SenderID))
	}

	where := strings.Join(conditions, " AND ")
	args = append(args, clickhouse.Named("limit", uint32(params.Limit)))

	query := fmt.Sprintf(
		"SELECT id, timestamp, message_id, sender_id, channel_id, "+
			"content_type, action, reason, signatures "+
			"FROM gate_audit WHERE %s "+
			"ORDER BY timestamp DESC "+
			"LIMIT @limit",
		where,
	)

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ListRecent query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var action string
		if err := rows.Scan(
			&e.ID, &e.Timestamp, &e.MessageID, &e.SenderID, &e.ChannelID,
			&e.ContentType, &action, &e.Reason, &e.Signatures,
		); err != nil {
			return nil, fmt.Errorf("ListRecent scan: %w", err)
		}
		e.Action = Action(action)
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// ActionCount holds an action and how many entries recorded it.
type ActionCount struct {
	Action Action `json:"action"`
	Count  int    `json:"count"`
}

// ActionCounts returns per-action entry counts over the given number of days.
func (r *Reader) ActionCounts(ctx context.Context, days int) ([]ActionCount, error) {
	rangeStart := time.Now().UTC().Add(-time.Duration(days) * 24 * time.Hour)

	rows, err := r.conn.Query(ctx,
		"SELECT action, count() as count "+
			"FROM gate_audit "+
			"WHERE timestamp >= @range_start "+
			"GROUP BY action ORDER BY count DESC",
		clickhouse.Named("range_start", rangeStart),
	)
	if err != nil {
		return nil, fmt.Errorf("ActionCounts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var counts []ActionCount
	for rows.Next() {
		var action string
		var count uint64
		if err := rows.Scan(&action, &count); err != nil {
			return nil, fmt.Errorf("ActionCounts scan: %w", err)
		}
		counts = append(counts, ActionCount{Action: Action(action), Count: int(count)})
	}
	if counts == nil {
		counts = []ActionCount{}
	}

	return counts, rows.Err()
}
