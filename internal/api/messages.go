package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/notekeep/gatehouse/internal/state"
)

// defaultRequeueAge is how old a processing row must be before
// requeue-stuck touches it when the caller does not say.
const defaultRequeueAge = 30 * time.Minute

func (d *Dependencies) handleListMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := state.Status(q.Get("status"))
	if status == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "status query parameter is required"})
		return
	}
	if !state.ValidStatus(status) {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "status must be pending, processing, completed or failed"})
		return
	}

	limit := queryInt(q, "limit", 50)
	if limit < 1 {
		limit = 1
	}
	if limit > 200 {
		limit = 200
	}

	messages, err := d.Store.GetByStatus(r.Context(), status, limit)
	if err != nil {
		d.Logger.Error("failed to list messages", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to list messages"})
		return
	}

	writeJSON(w, http.StatusOK, MessageListResp{Messages: messages, Count: len(messages)})
}

func (d *Dependencies) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("message_id")

	msg, err := d.Store.Get(r.Context(), id)
	if errors.Is(err, state.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Message not found."})
		return
	}
	if err != nil {
		d.Logger.Error("failed to get message", zap.String("message_id", id), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to get message"})
		return
	}

	writeJSON(w, http.StatusOK, msg)
}

func (d *Dependencies) handleStatusCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := d.Store.StatusCounts(r.Context())
	if err != nil {
		d.Logger.Error("failed to count messages", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to count messages"})
		return
	}

	writeJSON(w, http.StatusOK, StatusCountsResp{Counts: counts})
}

func (d *Dependencies) handleCompleteMessage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("message_id")

	// An empty body means "no output paths", not a malformed request.
	var req CompleteRequest
	if err := readJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}

	if err := d.Pipeline.Complete(r.Context(), id, req.OutputPaths); err != nil {
		if errors.Is(err, state.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Message not found."})
			return
		}
		d.Logger.Error("failed to complete message", zap.String("message_id", id), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to complete message"})
		return
	}

	d.writeMessageRow(w, r, id)
}

func (d *Dependencies) handleFailMessage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("message_id")

	var req FailRequest
	if err := readJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.Error == "" {
		req.Error = "failed via api"
	}

	if err := d.Pipeline.Fail(r.Context(), id, errors.New(req.Error)); err != nil {
		if errors.Is(err, state.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Message not found or already completed."})
			return
		}
		d.Logger.Error("failed to mark message failed", zap.String("message_id", id), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to mark message failed"})
		return
	}

	d.writeMessageRow(w, r, id)
}

func (d *Dependencies) handleRetryMessage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("message_id")

	if err := d.Store.ResetForRetry(r.Context(), id); err != nil {
		if errors.Is(err, state.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Message is not in a retryable state."})
			return
		}
		d.Logger.Error("failed to reset message", zap.String("message_id", id), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to reset message"})
		return
	}

	d.writeMessageRow(w, r, id)
}

func (d *Dependencies) handleRetryAllFailed(w http.ResponseWriter, r *http.Request) {
	n, err := d.Store.ResetAllFailed(r.Context())
	if err != nil {
		d.Logger.Error("failed to reset failed messages", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to reset failed messages"})
		return
	}

	writeJSON(w, http.StatusOK, ResetResp{Reset: n})
}

func (d *Dependencies) handleRequeueStuck(w http.ResponseWriter, r *http.Request) {
	var req RequeueStuckRequest
	if err := readJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}

	olderThan := defaultRequeueAge
	if req.OlderThan != "" {
		v, err := time.ParseDuration(req.OlderThan)
		if err != nil || v <= 0 {
			writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "older_than must be a positive duration like 30m"})
			return
		}
		olderThan = v
	}

	n, err := d.Store.RequeueStuck(r.Context(), olderThan)
	if err != nil {
		d.Logger.Error("failed to requeue stuck messages", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to requeue stuck messages"})
		return
	}

	writeJSON(w, http.StatusOK, RequeueResp{Requeued: n})
}

// writeMessageRow responds with the current state row after a lifecycle
// change so callers see what they did.
func (d *Dependencies) writeMessageRow(w http.ResponseWriter, r *http.Request, id string) {
	msg, err := d.Store.Get(r.Context(), id)
	if err != nil {
		d.Logger.Error("failed to reload message", zap.String("message_id", id), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to reload message"})
		return
	}
	writeJSON(w, http.StatusOK, msg)
}
