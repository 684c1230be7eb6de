package audit

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileConfig controls the JSONL audit file and its rotation.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// FileWriter appends entries as JSON lines to a rotating local file.
// This is the default sink: a single-user deployment does not need a
// database to keep its decision trail inspectable.
type FileWriter struct {
	mu     sync.Mutex
	out    *lumberjack.Logger
	enc    *json.Encoder
	logger *zap.Logger
}

// NewFileWriter creates a FileWriter. The file (and its directory) is
// created lazily on first write; rotation is size-based with age pruning.
func NewFileWriter(cfg FileConfig, logger *zap.Logger) *FileWriter {
	out := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}
	return &FileWriter{
		out:    out,
		enc:    json.NewEncoder(out),
		logger: logger,
	}
}

// Write appends one JSON line. Failures are logged and swallowed: a broken
// audit sink must never fail message processing.
func (w *FileWriter) Write(e *Entry) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(e); err != nil {
		w.logger.Warn("audit file write failed",
			zap.String("message_id", e.MessageID),
			zap.Error(err),
		)
	}
}

func (w *FileWriter) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.out.Close(); err != nil {
		w.logger.Warn("audit file close failed", zap.Error(err))
	}
}
