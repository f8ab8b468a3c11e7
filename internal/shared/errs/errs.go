package errs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind categorizes pipeline errors for retry decisions and HTTP status mapping.
type Kind int

const (
	// Internal represents an unclassified error.
	Internal Kind = iota
	// InvalidURL indicates the submitted string is not an absolute http(s) URL.
	InvalidURL
	// UnsupportedPlatform indicates no extractor serves the URL's host.
	UnsupportedPlatform
	// Fetch indicates a transient network or rate-limit failure. Retryable.
	Fetch
	// SchemaValidation indicates the AI output did not match the candidate schema.
	SchemaValidation
	// Timeout indicates the job exceeded its end-to-end deadline.
	Timeout
	// Backpressure indicates the worker queue is full.
	Backpressure
	// NotFound indicates an unknown or expired analysis id.
	NotFound
	// Cancelled indicates the analysis was cancelled by its subscribers.
	Cancelled
	// ContentNotFound indicates the source post no longer exists (404/410).
	ContentNotFound
	// Upstream indicates a non-retryable upstream rejection such as an auth failure.
	Upstream
)

var kindNames = map[Kind]string{
	Internal:            "InternalError",
	InvalidURL:          "InvalidUrlError",
	UnsupportedPlatform: "UnsupportedPlatformError",
	Fetch:               "FetchError",
	SchemaValidation:    "SchemaValidationError",
	Timeout:             "TimeoutError",
	Backpressure:        "BackpressureError",
	NotFound:            "NotFoundError",
	Cancelled:           "CancelledError",
	ContentNotFound:     "ContentNotFoundError",
	Upstream:            "UpstreamError",
}

// String returns the machine-readable kind reported to clients as error.kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return kindNames[Internal]
}

// ParseKind returns the kind whose String form is name.
func ParseKind(name string) (Kind, bool) {
	for k, n := range kindNames {
		if n == name {
			return k, true
		}
	}
	return Internal, false
}

// HTTPStatus maps a kind to the response status used by the REST layer.
func (k Kind) HTTPStatus() int {
	switch k {
	case InvalidURL:
		return http.StatusBadRequest
	case UnsupportedPlatform, ContentNotFound:
		return http.StatusUnprocessableEntity
	case Fetch, SchemaValidation, Upstream:
		return http.StatusBadGateway
	case Timeout:
		return http.StatusGatewayTimeout
	case Backpressure:
		return http.StatusServiceUnavailable
	case NotFound:
		return http.StatusNotFound
	case Cancelled:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// AppError carries a category, a client-safe message and the original cause.
type AppError struct {
	Kind           Kind
	UpstreamStatus int // HTTP status returned by the platform or AI endpoint, if any
	Message        string
	Cause          error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New builds an AppError without a cause.
func New(kind Kind, message string) *AppError {
	return &AppError{Kind: kind, Message: message}
}

// Wrap builds an AppError around cause.
func Wrap(kind Kind, message string, cause error) *AppError {
	return &AppError{Kind: kind, Message: message, Cause: cause}
}

// FetchStatus builds a retryable fetch error for an upstream HTTP status.
func FetchStatus(status int, message string) *AppError {
	return &AppError{Kind: Fetch, UpstreamStatus: status, Message: message}
}

// As returns the first AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf classifies err. Context errors map to Timeout and Cancelled.
func KindOf(err error) Kind {
	if err == nil {
		return Internal
	}
	if appErr, ok := As(err); ok {
		return appErr.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Timeout
	case errors.Is(err, context.Canceled):
		return Cancelled
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRetryable reports whether a job-level retry may help.
func IsRetryable(err error) bool {
	return Is(err, Fetch)
}

// Normalize returns err as an AppError, classifying foreign errors.
func Normalize(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := As(err); ok {
		return appErr
	}
	kind := KindOf(err)
	return &AppError{Kind: kind, Message: defaultMessage(kind), Cause: err}
}

func defaultMessage(kind Kind) string {
	switch kind {
	case Timeout:
		return "analysis timed out"
	case Cancelled:
		return "analysis cancelled"
	default:
		return "analysis failed"
	}
}
