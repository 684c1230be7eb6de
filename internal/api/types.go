package api

import (
	"time"

	"github.com/notekeep/gatehouse/internal/audit"
	"github.com/notekeep/gatehouse/internal/match"
	"github.com/notekeep/gatehouse/internal/state"
	"github.com/notekeep/gatehouse/internal/taxonomy"
)

// --- POST /v1/ingest request/response ---

// IngestRequest is the JSON body for POST /v1/ingest. The transport
// client has already decoded the raw capture event: commands are the
// leading-slash tokens it extracted, and tag/person mentions are the
// candidates it flagged for reconciliation.
type IngestRequest struct {
	MessageID      string     `json:"message_id"`
	SenderID       string     `json:"sender_id"`
	ChannelID      string     `json:"channel_id,omitempty"`
	ContentType    string     `json:"content_type,omitempty"`
	Text           string     `json:"text"`
	Commands       []string   `json:"commands,omitempty"`
	Attachments    []string   `json:"attachments,omitempty"`
	TagMentions    []string   `json:"tag_mentions,omitempty"`
	PersonMentions []string   `json:"person_mentions,omitempty"`
	Timestamp      *time.Time `json:"timestamp,omitempty"`
}

// IngestResponse reports the admission verdict plus whatever enrichment
// ran before the message was handed to processing.
type IngestResponse struct {
	RequestID       string             `json:"request_id"`
	MessageID       string             `json:"message_id"`
	Allowed         bool               `json:"allowed"`
	Duplicate       bool               `json:"duplicate"`
	Action          string             `json:"action"`
	Reason          string             `json:"reason,omitempty"`
	SanitizedText   string             `json:"sanitized_text,omitempty"`
	Signatures      []string           `json:"signatures,omitempty"`
	Warnings        []string           `json:"warnings,omitempty"`
	ValidCommands   []string           `json:"valid_commands,omitempty"`
	BlockedCommands []string           `json:"blocked_commands,omitempty"`
	Tags            []string           `json:"tags,omitempty"`
	GoodCoverage    bool               `json:"good_keyword_coverage"`
	Mentions        *match.BatchResult `json:"mentions,omitempty"`
}

// --- Message lifecycle ---

// CompleteRequest is the JSON body for POST /v1/messages/{id}/complete.
type CompleteRequest struct {
	OutputPaths []string `json:"output_paths,omitempty"`
}

// FailRequest is the JSON body for POST /v1/messages/{id}/fail.
type FailRequest struct {
	Error string `json:"error,omitempty"`
}

// RequeueStuckRequest is the JSON body for POST /v1/messages/requeue-stuck.
type RequeueStuckRequest struct {
	OlderThan string `json:"older_than,omitempty"` // Go duration, default "30m"
}

// MessageListResp wraps GET /v1/messages results.
type MessageListResp struct {
	Messages []*state.MessageState `json:"messages"`
	Count    int                   `json:"count"`
}

// StatusCountsResp wraps GET /v1/messages/counts results.
type StatusCountsResp struct {
	Counts map[state.Status]int `json:"counts"`
}

// ResetResp reports how many rows a bulk lifecycle operation changed.
type ResetResp struct {
	Reset int `json:"reset"`
}

// RequeueResp reports how many stuck rows were moved back to pending.
type RequeueResp struct {
	Requeued int `json:"requeued"`
}

// --- Reconciliation & taxonomy ---

// ReconcileRequest is the JSON body for POST /v1/reconcile. Both lists
// are optional; the endpoint resolves whatever it is given.
type ReconcileRequest struct {
	Tags   []string `json:"tags,omitempty"`
	People []string `json:"people,omitempty"`
}

// TaxonomyResp is the active vocabulary view for GET /v1/taxonomy.
type TaxonomyResp struct {
	Tags            []taxonomy.Tag `json:"tags"`
	TagNames        []string       `json:"tag_names"`
	KeywordCount    int            `json:"keyword_count"`
	ProjectKeywords int            `json:"project_keyword_count"`
	ModTime         time.Time      `json:"mod_time"`
}

// --- Cursors ---

// CursorResp is one named transport cursor.
type CursorResp struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// SetCursorRequest is the JSON body for PUT /v1/cursors/{name}.
type SetCursorRequest struct {
	Value string `json:"value"`
}

// --- Audit ---

// AuditListResp wraps GET /v1/audit/events results.
type AuditListResp struct {
	Events []audit.Entry `json:"events"`
	Count  int           `json:"count"`
}

// ActionCountsResp wraps GET /v1/audit/actions results.
type ActionCountsResp struct {
	Days    int                 `json:"days"`
	Actions []audit.ActionCount `json:"actions"`
}

// ErrorResp is a standard error response body.
type ErrorResp struct {
	Detail string `json:"detail"`
}
