package audit

import (
	"time"

	"go.uber.org/zap"
)

// Action classifies the gate decision an entry records.
type Action string

const (
	ActionProcessed   Action = "processed"
	ActionBlocked     Action = "blocked"
	ActionRateLimited Action = "rate_limited"
	ActionSanitized   Action = "sanitized"
)

// Entry is a single append-only audit record. Exactly one entry is written
// per gate decision; entries are never mutated after the fact.
type Entry struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	MessageID   string    `json:"message_id"`
	SenderID    string    `json:"sender_id,omitempty"`
	ChannelID   string    `json:"channel_id,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	Action      Action    `json:"action"`
	Reason      string    `json:"reason,omitempty"`
	Signatures  []string  `json:"signatures,omitempty"`
}

// Writer is the interface for audit sinks.
// Write() must NEVER block or fail the caller.
type Writer interface {
	Write(e *Entry)
	Close()
}

// LogWriter is a fallback Writer for local development.
// It logs entries as structured JSON to stdout via zap.
type LogWriter struct {
	logger *zap.Logger
}

// NewLogWriter creates a LogWriter that outputs entries to the given logger.
func NewLogWriter(logger *zap.Logger) *LogWriter {
	return &LogWriter{logger: logger}
}

func (w *LogWriter) Write(e *Entry) {
	w.logger.Info("audit_entry",
		zap.String("id", e.ID),
		zap.String("message_id", e.MessageID),
		zap.String("sender_id", e.SenderID),
		zap.String("channel_id", e.ChannelID),
		zap.String("content_type", e.ContentType),
		zap.String("action", string(e.Action)),
		zap.String("reason", e.Reason),
		zap.Strings("signatures", e.Signatures),
	)
}

func (w *LogWriter) Close() {}
