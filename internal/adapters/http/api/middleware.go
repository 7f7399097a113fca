package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/erichli1/acamafia/internal/domain/matching"
	"github.com/erichli1/acamafia/pkg/logger"
	"github.com/erichli1/acamafia/pkg/metrics"
)

// Request headers the API reads.
const (
	HeaderUserEmail  = "X-User-Email"
	HeaderAdminToken = "X-Admin-Token"
)

type ctxKey int

const identityKey ctxKey = iota

// Identity reads the authenticated user's email, as set by the fronting
// auth proxy, into the request context.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		email := normalizeEmail(r.Header.Get(HeaderUserEmail))
		if email != "" {
			r = r.WithContext(context.WithValue(r.Context(), identityKey, email))
		}
		next.ServeHTTP(w, r)
	})
}

// IdentityFrom returns the caller's email, or "" for anonymous requests.
func IdentityFrom(ctx context.Context) string {
	email, _ := ctx.Value(identityKey).(string)
	return email
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// adminOnly admits requests carrying the admin token or coming from an
// identity whose affiliation is flagged admin.
func (s *Server) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		const op = "api.adminOnly"
		if tok := r.Header.Get(HeaderAdminToken); s.adminToken != "" && tok != "" {
			if subtle.ConstantTimeCompare([]byte(tok), []byte(s.adminToken)) == 1 {
				next.ServeHTTP(w, r)
				return
			}
			writeError(w, r, NewKind(op, ErrForbidden))
			return
		}
		email := IdentityFrom(r.Context())
		if email == "" {
			writeError(w, r, Wrap(op, matching.ErrNotAuthenticated))
			return
		}
		aff, err := s.deps.ResolveAffiliation(r.Context(), email)
		if err != nil || !aff.Admin {
			writeError(w, r, NewKind(op, ErrForbidden))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// MetricsMiddleware records Prometheus request metrics labelled by route
// pattern.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		endpoint := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				endpoint = p
			}
		}
		code := strconv.Itoa(status)
		metrics.RecordHTTPRequest(endpoint, r.Method, code)
		metrics.RecordHTTPRequestDuration(endpoint, r.Method, code, float64(time.Since(start).Milliseconds()))
	})
}

// RequestLogger logs one line per request at debug level.
func RequestLogger(l logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			l.Debug(r.Context(), "http request",
				logger.String("method", r.Method),
				logger.String("path", r.URL.Path),
				logger.Int("status", ww.Status()),
				logger.Int("bytes", ww.BytesWritten()),
				logger.Duration("took", time.Since(start)),
				logger.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
