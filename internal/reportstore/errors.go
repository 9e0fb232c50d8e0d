package reportstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tofunori/glacier-albedo-west-canada/internal/errhandling"
)

// saveRetry retries writes that hit a locked database, e.g. a concurrent
// check run appending to the same file.
var saveRetry = errhandling.RetryConfig{
	MaxAttempts:       3,
	DelayMs:           50,
	BackoffMultiplier: 2,
	MaxDelayMs:        1000,
}

var (
	busyIndicators = []string{
		"database is locked",
		"database table is locked",
		"sqlite_busy",
		"(5)",
	}
	constraintIndicators = []string{
		"constraint failed",
		"unique constraint",
		"not null constraint",
	}
	fatalIndicators = []string{
		"file is not a database",
		"database disk image is malformed",
		"attempt to write a readonly database",
		"unable to open database file",
		"disk i/o error",
		"no such table",
	}
)

// classify wraps a driver error for operation with a storage category.
// Busy and locked errors are retryable; everything else is not.
func classify(operation string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return errhandling.ClassifyNetworkError(err)
	}

	msg := strings.ToLower(err.Error())
	ce := &errhandling.ClassifiedError{
		Category:    errhandling.CategoryStorage,
		OriginalErr: err,
	}
	switch {
	case containsAny(msg, busyIndicators):
		ce.Retryable = true
		ce.Message = fmt.Sprintf("%s: database is busy", operation)
	case containsAny(msg, constraintIndicators):
		ce.Category = errhandling.CategoryValidation
		ce.Message = fmt.Sprintf("%s: constraint violation: %v", operation, err)
	case containsAny(msg, fatalIndicators):
		ce.Message = fmt.Sprintf("%s: unusable history database: %v", operation, err)
	default:
		ce.Message = fmt.Sprintf("%s: %v", operation, err)
	}
	return ce
}

func containsAny(s string, indicators []string) bool {
	for _, indicator := range indicators {
		if strings.Contains(s, indicator) {
			return true
		}
	}
	return false
}
