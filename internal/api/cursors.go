package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/notekeep/gatehouse/internal/state"
)

func (d *Dependencies) handleGetCursor(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	value, err := d.Store.GetCursor(r.Context(), name)
	if errors.Is(err, state.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Cursor not found."})
		return
	}
	if err != nil {
		d.Logger.Error("failed to get cursor", zap.String("cursor", name), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to get cursor"})
		return
	}

	writeJSON(w, http.StatusOK, CursorResp{Name: name, Value: value})
}

func (d *Dependencies) handleSetCursor(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req SetCursorRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.Value == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "value is required"})
		return
	}

	if err := d.Store.SetCursor(r.Context(), name, req.Value); err != nil {
		d.Logger.Error("failed to set cursor", zap.String("cursor", name), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to set cursor"})
		return
	}

	writeJSON(w, http.StatusOK, CursorResp{Name: name, Value: req.Value})
}
