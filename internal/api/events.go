package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/notekeep/gatehouse/internal/audit"
)

func (d *Dependencies) handleListAuditEvents(w http.ResponseWriter, r *http.Request) {
	if d.Reader == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "ClickHouse not configured"})
		return
	}

	q := r.URL.Query()
	params := audit.ListParams{
		Action:   q.Get("action"),
		SenderID: q.Get("sender_id"),
		Limit:    queryInt(q, "limit", 50),
	}
	if params.Limit < 1 {
		params.Limit = 1
	}
	if params.Limit > 200 {
		params.Limit = 200
	}

	entries, err := d.Reader.ListRecent(r.Context(), params)
	if err != nil {
		d.Logger.Error("failed to list audit events", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to list audit events"})
		return
	}

	writeJSON(w, http.StatusOK, AuditListResp{Events: entries, Count: len(entries)})
}

func (d *Dependencies) handleAuditActions(w http.ResponseWriter, r *http.Request) {
	if d.Reader == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "ClickHouse not configured"})
		return
	}

	days := queryInt(r.URL.Query(), "days", 7)
	if days < 1 {
		days = 1
	}
	if days > 90 {
		days = 90
	}

	counts, err := d.Reader.ActionCounts(r.Context(), days)
	if err != nil {
		d.Logger.Error("failed to count audit actions", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to count audit actions"})
		return
	}

	writeJSON(w, http.StatusOK, ActionCountsResp{Days: days, Actions: counts})
}
