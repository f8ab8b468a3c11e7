package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
)

// Client abstracts LLM providers for place extraction.
type Client interface {
	ExtractPlaces(ctx context.Context, input PlaceInput) (json.RawMessage, error)
}

// PlaceInput is the post content sent to the model.
type PlaceInput struct {
	Platform      string
	SourceURL     string
	Title         string
	Description   string
	Author        string
	Text          string
	PromptVersion string
}

var (
	// ErrNotConfigured is returned by the placeholder client.
	ErrNotConfigured = errors.New("LLM provider not configured")
	// ErrInvalidJSON is returned when the model output is not JSON even after a repair round.
	ErrInvalidJSON = errors.New("LLM returned invalid JSON")
)

// StatusError is a provider rejection with its HTTP status.
type StatusError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm http status %d: %s", e.StatusCode, e.Message)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether a failed call may succeed when repeated:
// provider 429 and 5xx responses, network timeouts, dropped connections and per-call deadlines.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// StatusCode returns the provider status carried by err, or 0.
func StatusCode(err error) int {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}

// PlaceholderClient is used when no provider key is configured.
type PlaceholderClient struct{}

// ExtractPlaces returns ErrNotConfigured.
func (PlaceholderClient) ExtractPlaces(ctx context.Context, input PlaceInput) (json.RawMessage, error) {
	_ = ctx
	_ = input
	return nil, ErrNotConfigured
}
