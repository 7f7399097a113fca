package matching

import "errors"

// Sentinel kinds for matching errors. Callers branch with errors.Is.
var (
	ErrNotAuthenticated    = errors.New("not authenticated")
	ErrNotAuthorized       = errors.New("not authorized for this group")
	ErrInvalidReference    = errors.New("invalid reference")
	ErrAlreadyDecided      = errors.New("comper already decided by this group")
	ErrDuplicateSubmission = errors.New("preferences already submitted")
	ErrEmptyRanking        = errors.New("ranking must name at least one group")
	ErrInvalidRanking      = errors.New("invalid ranking")
	ErrUnresolved          = errors.New("comper outcome is not resolved")
)
