package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/erichli1/acamafia/internal/domain/model"
)

// AdminHandler serves round administration. Routes are guarded by
// Server.adminOnly.
type AdminHandler struct {
	deps Dependencies
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(deps Dependencies) *AdminHandler {
	return &AdminHandler{deps: deps}
}

// Register attaches the routes served under /api/v1/admin.
func (h *AdminHandler) Register(r chi.Router) {
	r.Get("/delay", h.HandleGetDelay)
	r.Put("/delay", h.HandleSetDelay)
	r.Post("/affiliations", h.HandleRegisterAffiliation)
	r.Post("/reset", h.HandleReset)
}

type resetResponse struct {
	Reset int `json:"reset"`
}

// HandleGetDelay handles GET /api/v1/admin/delay.
func (h *AdminHandler) HandleGetDelay(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.deps.GetDelayConfig(r.Context())
	if err != nil {
		writeError(w, r, Wrap("api.getDelayConfig", err))
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// HandleSetDelay handles PUT /api/v1/admin/delay.
func (h *AdminHandler) HandleSetDelay(w http.ResponseWriter, r *http.Request) {
	const op = "api.setDelayConfig"
	var cfg model.DelayConfig
	if err := decodeJSON(r, op, &cfg); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.deps.SetDelayConfig(r.Context(), cfg); err != nil {
		writeError(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// HandleRegisterAffiliation handles POST /api/v1/admin/affiliations.
func (h *AdminHandler) HandleRegisterAffiliation(w http.ResponseWriter, r *http.Request) {
	const op = "api.registerAffiliation"
	var a model.Affiliation
	if err := decodeJSON(r, op, &a); err != nil {
		writeError(w, r, err)
		return
	}
	a.Email = normalizeEmail(a.Email)
	if err := h.deps.RegisterAffiliation(r.Context(), a); err != nil {
		writeError(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// HandleReset handles POST /api/v1/admin/reset.
func (h *AdminHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	n, err := h.deps.ResetRound(r.Context())
	if err != nil {
		writeError(w, r, Wrap("api.resetRound", err))
		return
	}
	writeJSON(w, http.StatusOK, resetResponse{Reset: n})
}
