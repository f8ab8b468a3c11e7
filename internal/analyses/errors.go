package analyses

import (
	"errors"

	"placelink-backend/internal/shared/util"
)

// errAbandoned marks a computation that stopped because its job ended before finishing.
// Callers still alive retry the cache lookup instead of failing.
var errAbandoned = errors.New("computation abandoned")

// Error codes in the REST envelope for failures that carry no errs.Kind.
const (
	ErrorCodeValidation  = "VALIDATION_ERROR"
	ErrorCodeRateLimited = "RATE_LIMITED"
)

const maxErrorMessageLen = 500

func sanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return util.SingleLine(err.Error(), maxErrorMessageLen)
}
