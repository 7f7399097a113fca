// Package api exposes the matching round over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/erichli1/acamafia/internal/domain/model"
	"github.com/erichli1/acamafia/pkg/logger"
)

const maxBodyBytes = 1 << 20

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	SubmitPreferences(ctx context.Context, identity, name string, ranked, unranked []string) (*model.Comper, error)
	GetComper(ctx context.Context, identity string) (*model.Comper, error)
	RecordGroupDecision(ctx context.Context, callerEmail, comperID, group string, accept bool) error
	ListUpdateFeed(ctx context.Context, group string) ([]model.UpdateEntry, error)
	ListCompersForGroup(ctx context.Context, group string) (model.GroupView, error)

	ResolveAffiliation(ctx context.Context, email string) (model.Affiliation, error)
	RegisterAffiliation(ctx context.Context, a model.Affiliation) error
	GetDelayConfig(ctx context.Context) (model.DelayConfig, error)
	SetDelayConfig(ctx context.Context, cfg model.DelayConfig) error
	ResetRound(ctx context.Context) (int, error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	deps          Dependencies
	adminToken    string
	healthHandler *HealthHandler
	statsHandler  *StatsHandler
	compers       *CompersHandler
	updates       *UpdatesHandler
	admin         *AdminHandler
	log           logger.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithAdminToken lets requests carrying X-Admin-Token: token use admin routes.
// An empty token disables token access.
func WithAdminToken(token string) Option {
	return func(s *Server) { s.adminToken = token }
}

// WithLogger sets the request logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...Option) *Server {
	s := &Server{
		deps:          deps,
		healthHandler: NewHealthHandler(),
		statsHandler:  NewStatsHandler(statsProvider),
		compers:       NewCompersHandler(deps),
		updates:       NewUpdatesHandler(deps),
		admin:         NewAdminHandler(deps),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Get().Named("http")
	}
	return s
}

// Router builds the chi router serving every route.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	s.Register(r)
	return r
}

// Register attaches all HTTP routes to r.
func (s *Server) Register(r chi.Router) {
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(s.log))
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	r.Use(Identity)

	r.Get("/healthz", s.healthHandler.HandleHealth)
	r.Get("/stats", s.statsHandler.HandleStats)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/me", s.compers.HandleMe)
		r.Route("/compers", s.compers.Register)
		r.Get("/updates", s.updates.HandleList)
		r.Route("/admin", func(r chi.Router) {
			r.Use(s.adminOnly)
			s.admin.Register(r)
		})
	})
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err to a status and writes it as JSON.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Get().Named("http").Error(r.Context(), "request failed",
			logger.String("path", r.URL.Path),
			logger.String("request_id", middleware.GetReqID(r.Context())),
			logger.Error(err),
		)
	}
	writeJSON(w, status, errorResponse{Code: code, Message: err.Error()})
}

// decodeJSON reads a single JSON object from the request body into dst.
func decodeJSON(r *http.Request, op string, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return NewKind(op, ErrBadRequest)
		}
		return WrapKind(op, ErrBadRequest, fmt.Errorf("decode body: %w", err))
	}
	return nil
}
