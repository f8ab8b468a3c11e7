package queue

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// MessageVersion is stamped on every payload this service produces.
const MessageVersion = 1

// WarmupMessage asks a worker to analyze a link ahead of user traffic.
type WarmupMessage struct {
	URL          string `json:"url"`
	ForceRefresh bool   `json:"force_refresh,omitempty"`
	RequestID    string `json:"request_id,omitempty"`
	EnqueuedAt   string `json:"enqueued_at,omitempty"`
	Version      int    `json:"version"`
}

// StatusEvent announces that an analysis reached a terminal state.
type StatusEvent struct {
	AnalysisID   string `json:"analysis_id"`
	ContentKey   string `json:"content_key"`
	Platform     string `json:"platform,omitempty"`
	Status       string `json:"status"`
	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	RetryCount   int    `json:"retry_count"`
	OccurredAt   string `json:"occurred_at"`
	Version      int    `json:"version"`
}

// ErrMissingURL indicates a warmup message without a url.
var ErrMissingURL = errors.New("warmup message missing url")

// NewWarmupMessage stamps a message with the current version and enqueue time.
func NewWarmupMessage(url string, forceRefresh bool, requestID string, now time.Time) WarmupMessage {
	return WarmupMessage{
		URL:          strings.TrimSpace(url),
		ForceRefresh: forceRefresh,
		RequestID:    requestID,
		EnqueuedAt:   now.UTC().Format(time.RFC3339),
		Version:      MessageVersion,
	}
}

// EncodeWarmup returns the JSON representation of a warmup message.
func EncodeWarmup(msg WarmupMessage) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeWarmup parses a warmup payload. A message without a url is rejected.
func DecodeWarmup(payload []byte) (WarmupMessage, error) {
	var msg WarmupMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return WarmupMessage{}, err
	}
	msg.URL = strings.TrimSpace(msg.URL)
	if msg.URL == "" {
		return msg, ErrMissingURL
	}
	return msg, nil
}

// EncodeStatusEvent returns the JSON representation of a status event.
func EncodeStatusEvent(event StatusEvent) ([]byte, error) {
	if event.Version == 0 {
		event.Version = MessageVersion
	}
	return json.Marshal(event)
}

// DecodeStatusEvent parses a status event payload.
func DecodeStatusEvent(payload []byte) (StatusEvent, error) {
	var event StatusEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return StatusEvent{}, err
	}
	return event, nil
}
