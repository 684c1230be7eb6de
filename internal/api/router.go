package api

import (
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/notekeep/gatehouse/internal/audit"
	"github.com/notekeep/gatehouse/internal/match"
	"github.com/notekeep/gatehouse/internal/pipeline"
	"github.com/notekeep/gatehouse/internal/state"
	"github.com/notekeep/gatehouse/internal/taxonomy"
)

// Dependencies holds shared state injected into all HTTP handlers.
type Dependencies struct {
	Pipeline   *pipeline.Pipeline
	Store      state.Store
	Taxonomy   *taxonomy.Loader
	Matcher    *match.Matcher
	Reader     *audit.Reader // nil if ClickHouse unavailable
	Logger     *zap.Logger
	APIKeyHash string // empty disables auth

	validKeys sync.Map // bearer keys that already passed the bcrypt check
}

// NewRouter builds the HTTP mux with all routes wired up.
func NewRouter(deps *Dependencies) http.Handler {
	mux := http.NewServeMux()
	auth := deps.authMiddleware

	// Ingestion & reconciliation
	mux.HandleFunc("POST /v1/ingest", auth(deps.handleIngest))
	mux.HandleFunc("POST /v1/reconcile", auth(deps.handleReconcile))
	mux.HandleFunc("GET /v1/taxonomy", auth(deps.handleGetTaxonomy))

	// Message lifecycle
	mux.HandleFunc("GET /v1/messages", auth(deps.handleListMessages))
	mux.HandleFunc("GET /v1/messages/counts", auth(deps.handleStatusCounts))
	mux.HandleFunc("GET /v1/messages/{message_id}", auth(deps.handleGetMessage))
	mux.HandleFunc("POST /v1/messages/{message_id}/complete", auth(deps.handleCompleteMessage))
	mux.HandleFunc("POST /v1/messages/{message_id}/fail", auth(deps.handleFailMessage))
	mux.HandleFunc("POST /v1/messages/{message_id}/retry", auth(deps.handleRetryMessage))
	mux.HandleFunc("POST /v1/messages/retry-failed", auth(deps.handleRetryAllFailed))
	mux.HandleFunc("POST /v1/messages/requeue-stuck", auth(deps.handleRequeueStuck))

	// Transport cursors
	mux.HandleFunc("GET /v1/cursors/{name}", auth(deps.handleGetCursor))
	mux.HandleFunc("PUT /v1/cursors/{name}", auth(deps.handleSetCursor))

	// Audit trail
	mux.HandleFunc("GET /v1/audit/events", auth(deps.handleListAuditEvents))
	mux.HandleFunc("GET /v1/audit/actions", auth(deps.handleAuditActions))

	// Health check
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return requestLogging(mux, deps.Logger)
}
