package filter

import (
	"errors"
	"fmt"
)

// Error kinds returned by Controller.Apply. None of them changes the active
// predicate.
var (
	// ErrInvalidThreshold is returned for NaN or infinite thresholds.
	ErrInvalidThreshold = errors.New("invalid threshold")

	// ErrUnsupportedYear is returned for year tokens outside the configured set.
	ErrUnsupportedYear = errors.New("unsupported year")

	// ErrCollectionUnavailable is returned while the target collection is
	// missing or not yet bound.
	ErrCollectionUnavailable = errors.New("collection unavailable")

	// ErrApplyRejected is matched by every *ApplyRejectedError.
	ErrApplyRejected = errors.New("filter assignment rejected")
)

// ApplyRejectedError reports a collection refusing a filter assignment.
type ApplyRejectedError struct {
	Layer      string
	Expression string
	Err        error
}

func (e *ApplyRejectedError) Error() string {
	return fmt.Sprintf("%s by layer %q (expression %q): %v", ErrApplyRejected, e.Layer, e.Expression, e.Err)
}

// Unwrap exposes both ErrApplyRejected and the underlying cause.
func (e *ApplyRejectedError) Unwrap() []error {
	return []error{ErrApplyRejected, e.Err}
}

// Kind returns a short identifier for an Apply error, or "" for other errors.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidThreshold):
		return "InvalidThreshold"
	case errors.Is(err, ErrUnsupportedYear):
		return "UnsupportedYear"
	case errors.Is(err, ErrCollectionUnavailable):
		return "CollectionUnavailable"
	case errors.Is(err, ErrApplyRejected):
		return "ApplyRejected"
	default:
		return ""
	}
}
