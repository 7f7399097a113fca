package api

import (
	"errors"
	"net/http"

	"github.com/erichli1/acamafia/internal/domain/delay"
	"github.com/erichli1/acamafia/internal/domain/matching"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest = errors.New("bad request")
	ErrForbidden  = errors.New("admin access required")
)

// Error annotates a failure with the handler operation that produced it.
// Kind is the sentinel the status code is chosen from.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Kind != nil && !errors.Is(e.Err, e.Kind):
		return e.Op + ": " + e.Kind.Error() + ": " + e.Err.Error()
	case e.Err != nil:
		return e.Op + ": " + e.Err.Error()
	case e.Kind != nil:
		return e.Op + ": " + e.Kind.Error()
	default:
		return e.Op
	}
}

// Unwrap exposes both the kind and the cause to errors.Is.
func (e *Error) Unwrap() []error {
	var out []error
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// Wrap annotates err with op, keeping its kind.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

// NewKind builds an error of kind for op.
func NewKind(op string, kind error) error {
	return &Error{Op: op, Kind: kind}
}

// WrapKind annotates err with op and classifies it as kind.
func WrapKind(op string, kind, err error) error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// statusFor maps an error onto an HTTP status and a stable error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, matching.ErrNotAuthenticated):
		return http.StatusUnauthorized, "not_authenticated"
	case errors.Is(err, matching.ErrNotAuthorized):
		return http.StatusForbidden, "not_authorized"
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, matching.ErrInvalidReference):
		return http.StatusNotFound, "invalid_reference"
	case errors.Is(err, matching.ErrAlreadyDecided):
		return http.StatusConflict, "already_decided"
	case errors.Is(err, matching.ErrDuplicateSubmission):
		return http.StatusConflict, "duplicate_submission"
	case errors.Is(err, matching.ErrEmptyRanking):
		return http.StatusBadRequest, "empty_ranking"
	case errors.Is(err, matching.ErrInvalidRanking):
		return http.StatusBadRequest, "invalid_ranking"
	case errors.Is(err, delay.ErrInvalidConfig):
		return http.StatusBadRequest, "invalid_delay"
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, delay.ErrNotConfigured):
		return http.StatusServiceUnavailable, "delay_not_configured"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
