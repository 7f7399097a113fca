package api

import (
	"net/http"
	"strings"

	"github.com/erichli1/acamafia/internal/domain/matching"
	"github.com/erichli1/acamafia/internal/domain/model"
)

// UpdatesHandler serves the announcement feed.
type UpdatesHandler struct {
	deps Dependencies
}

// NewUpdatesHandler creates a new updates handler.
func NewUpdatesHandler(deps Dependencies) *UpdatesHandler {
	return &UpdatesHandler{deps: deps}
}

type updatesResponse struct {
	Updates []model.UpdateEntry `json:"updates"`
}

// HandleList handles GET /api/v1/updates, newest first. ?group= keeps only
// entries for compers who ranked that group.
func (h *UpdatesHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	const op = "api.listUpdateFeed"
	if IdentityFrom(r.Context()) == "" {
		writeError(w, r, Wrap(op, matching.ErrNotAuthenticated))
		return
	}
	entries, err := h.deps.ListUpdateFeed(r.Context(), strings.TrimSpace(r.URL.Query().Get("group")))
	if err != nil {
		writeError(w, r, Wrap(op, err))
		return
	}
	if entries == nil {
		entries = []model.UpdateEntry{}
	}
	writeJSON(w, http.StatusOK, updatesResponse{Updates: entries})
}
