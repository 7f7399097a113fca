package api

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/erichli1/acamafia/internal/domain/matching"
)

// CompersHandler serves comper submissions, lookups and group decisions.
type CompersHandler struct {
	deps Dependencies
}

// NewCompersHandler creates a new compers handler.
func NewCompersHandler(deps Dependencies) *CompersHandler {
	return &CompersHandler{deps: deps}
}

// Register attaches the routes served under /api/v1/compers.
func (h *CompersHandler) Register(r chi.Router) {
	r.Post("/", h.HandleSubmit)
	r.Get("/", h.HandleGroupView)
	r.Get("/me", h.HandleGetOwn)
	r.Post("/{comperID}/decision", h.HandleDecision)
}

type submitRequest struct {
	PreferredName  string   `json:"preferred_name"`
	RankedGroups   []string `json:"ranked_groups"`
	UnrankedGroups []string `json:"unranked_groups"`
}

type decisionRequest struct {
	Accept *bool  `json:"accept"`
	Group  string `json:"group,omitempty"`
}

type meResponse struct {
	Email      string `json:"email"`
	Affiliated bool   `json:"affiliated"`
	Group      string `json:"group,omitempty"`
	Admin      bool   `json:"admin"`
}

// HandleSubmit handles POST /api/v1/compers.
func (h *CompersHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	const op = "api.submitPreferences"
	identity := IdentityFrom(r.Context())
	if identity == "" {
		writeError(w, r, Wrap(op, matching.ErrNotAuthenticated))
		return
	}
	var req submitRequest
	if err := decodeJSON(r, op, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.deps.SubmitPreferences(r.Context(), identity, req.PreferredName, req.RankedGroups, req.UnrankedGroups)
	if err != nil {
		writeError(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// HandleGetOwn handles GET /api/v1/compers/me.
func (h *CompersHandler) HandleGetOwn(w http.ResponseWriter, r *http.Request) {
	const op = "api.getComper"
	identity := IdentityFrom(r.Context())
	if identity == "" {
		writeError(w, r, Wrap(op, matching.ErrNotAuthenticated))
		return
	}
	c, err := h.deps.GetComper(r.Context(), identity)
	if err != nil {
		writeError(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// HandleGroupView handles GET /api/v1/compers. Representatives see their own
// group; admins may name any group with ?group=.
func (h *CompersHandler) HandleGroupView(w http.ResponseWriter, r *http.Request) {
	const op = "api.listCompersForGroup"
	identity := IdentityFrom(r.Context())
	if identity == "" {
		writeError(w, r, Wrap(op, matching.ErrNotAuthenticated))
		return
	}
	aff, err := h.deps.ResolveAffiliation(r.Context(), identity)
	if err != nil {
		writeError(w, r, Wrap(op, err))
		return
	}
	group := aff.Group
	if q := strings.TrimSpace(r.URL.Query().Get("group")); q != "" && q != group {
		if !aff.Admin {
			writeError(w, r, Wrap(op, matching.ErrNotAuthorized))
			return
		}
		group = q
	}
	view, err := h.deps.ListCompersForGroup(r.Context(), group)
	if err != nil {
		writeError(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// HandleDecision handles POST /api/v1/compers/{comperID}/decision.
func (h *CompersHandler) HandleDecision(w http.ResponseWriter, r *http.Request) {
	const op = "api.recordGroupDecision"
	identity := IdentityFrom(r.Context())
	if identity == "" {
		writeError(w, r, Wrap(op, matching.ErrNotAuthenticated))
		return
	}
	comperID, err := url.PathUnescape(chi.URLParam(r, "comperID"))
	comperID = normalizeEmail(comperID)
	if err != nil || comperID == "" {
		writeError(w, r, WrapKind(op, ErrBadRequest, errors.New("malformed comper id")))
		return
	}
	var req decisionRequest
	if err := decodeJSON(r, op, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Accept == nil {
		writeError(w, r, WrapKind(op, ErrBadRequest, errors.New("accept is required")))
		return
	}
	if err := h.deps.RecordGroupDecision(r.Context(), identity, comperID, req.Group, *req.Accept); err != nil {
		writeError(w, r, Wrap(op, err))
		return
	}
	c, err := h.deps.GetComper(r.Context(), comperID)
	if err != nil {
		writeError(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// HandleMe handles GET /api/v1/me. Callers without an affiliation are
// reported as unaffiliated rather than refused.
func (h *CompersHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	const op = "api.me"
	identity := IdentityFrom(r.Context())
	if identity == "" {
		writeError(w, r, Wrap(op, matching.ErrNotAuthenticated))
		return
	}
	resp := meResponse{Email: identity}
	aff, err := h.deps.ResolveAffiliation(r.Context(), identity)
	switch {
	case err == nil:
		resp.Affiliated = true
		resp.Group = aff.Group
		resp.Admin = aff.Admin
	case !errors.Is(err, matching.ErrNotAuthorized):
		writeError(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

