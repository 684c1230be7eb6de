package api

import (
	"net/http"

	"go.uber.org/zap"
)

// handleReconcile implements POST /v1/reconcile: resolve candidate tag
// and person mentions against the corpus without ingesting anything.
func (d *Dependencies) handleReconcile(w http.ResponseWriter, r *http.Request) {
	var req ReconcileRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}

	result, err := d.Matcher.MatchBatch(r.Context(), req.Tags, req.People)
	if err != nil {
		d.Logger.Error("failed to reconcile mentions", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to reconcile mentions"})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleGetTaxonomy implements GET /v1/taxonomy: the vocabulary the
// keyword matcher is currently running with.
func (d *Dependencies) handleGetTaxonomy(w http.ResponseWriter, _ *http.Request) {
	tax := d.Taxonomy.Load()

	writeJSON(w, http.StatusOK, TaxonomyResp{
		Tags:            tax.Tags,
		TagNames:        tax.TagNames,
		KeywordCount:    len(tax.KeywordTags),
		ProjectKeywords: len(tax.ProjectTags),
		ModTime:         tax.ModTime,
	})
}
