package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/notekeep/gatehouse/internal/gate"
	"github.com/notekeep/gatehouse/internal/pipeline"
)

// handleIngest implements POST /v1/ingest. The verdict always comes back
// with status 200; a refused message is not an HTTP error, it is a
// decision the caller asked for.
func (d *Dependencies) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.MessageID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "message_id is required"})
		return
	}
	if req.SenderID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "sender_id is required"})
		return
	}

	msg := &gate.Message{
		ID:             req.MessageID,
		SenderID:       req.SenderID,
		ChannelID:      req.ChannelID,
		ContentType:    req.ContentType,
		Text:           req.Text,
		Commands:       req.Commands,
		Attachments:    req.Attachments,
		TagMentions:    req.TagMentions,
		PersonMentions: req.PersonMentions,
		Timestamp:      time.Now(),
	}
	if msg.ContentType == "" {
		msg.ContentType = "text"
	}
	if req.Timestamp != nil {
		msg.Timestamp = *req.Timestamp
	}

	res, err := d.Pipeline.Admit(r.Context(), msg)
	if err != nil {
		if errors.Is(err, pipeline.ErrNoMessageID) {
			writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "message_id is required"})
			return
		}
		d.Logger.Error("failed to admit message", zap.String("message_id", req.MessageID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to admit message"})
		return
	}

	dec := res.Decision
	writeJSON(w, http.StatusOK, IngestResponse{
		RequestID:       uuid.New().String(),
		MessageID:       req.MessageID,
		Allowed:         dec.Allowed,
		Duplicate:       res.Duplicate,
		Action:          string(dec.Action),
		Reason:          dec.Reason,
		SanitizedText:   dec.SanitizedText,
		Signatures:      dec.Signatures,
		Warnings:        dec.Warnings,
		ValidCommands:   dec.ValidCommands,
		BlockedCommands: dec.BlockedCommands,
		Tags:            res.Tags,
		GoodCoverage:    res.GoodCoverage,
		Mentions:        res.Mentions,
	})
}
