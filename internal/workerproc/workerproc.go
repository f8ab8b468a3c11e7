// Package workerproc turns warmup queue payloads into analyses.
package workerproc

import (
	"context"
	"errors"
	"strings"

	"placelink-backend/internal/analyses"
	"placelink-backend/internal/queue"
	"placelink-backend/internal/shared/errs"
	"placelink-backend/internal/shared/util"
)

// Analyzer is the part of the analyses service a worker needs.
type Analyzer interface {
	Analyze(ctx context.Context, raw string, forceRefresh bool) (analyses.Submission, error)
	Wait(ctx context.Context, analysisID string) (analyses.StatusView, error)
}

// MessageMeta captures details useful for logging and diagnostics.
type MessageMeta struct {
	BodyLen int
	BodySHA string
}

// ComputeMeta returns the body length and SHA-256 hash.
func ComputeMeta(body string) MessageMeta {
	if body == "" {
		return MessageMeta{BodyLen: 0, BodySHA: ""}
	}
	return MessageMeta{BodyLen: len(body), BodySHA: util.SHA256Hex(body)}
}

// ErrEmptyBody indicates an empty queue payload.
type ErrEmptyBody struct {
	Meta MessageMeta
}

func (e ErrEmptyBody) Error() string { return "empty message body" }

// ErrDecode indicates a JSON decode failure.
type ErrDecode struct {
	Meta MessageMeta
	Err  error
}

func (e ErrDecode) Error() string {
	if e.Err == nil {
		return "decode message"
	}
	return "decode message: " + e.Err.Error()
}

// ErrMissingURL indicates a warmup message without a url.
type ErrMissingURL struct {
	Meta      MessageMeta
	RequestID string
}

func (e ErrMissingURL) Error() string { return "missing url" }

// ErrProcess indicates the analysis failed after the message was parsed.
// Retryable failures leave the message on the queue for redelivery.
type ErrProcess struct {
	URL        string
	AnalysisID string
	RequestID  string
	Kind       errs.Kind
	Retryable  bool
	Err        error
}

func (e ErrProcess) Error() string {
	if e.Err == nil {
		return "process warmup"
	}
	return "process warmup: " + e.Err.Error()
}

func (e ErrProcess) Unwrap() error { return e.Err }

// Outcome reports how a warmup message was served.
type Outcome struct {
	AnalysisID string
	Cached     bool
	Joined     bool
	Status     analyses.Status
}

// ParseWarmup validates and decodes the queue payload.
func ParseWarmup(body string) (queue.WarmupMessage, MessageMeta, error) {
	meta := ComputeMeta(body)
	if strings.TrimSpace(body) == "" {
		return queue.WarmupMessage{}, meta, ErrEmptyBody{Meta: meta}
	}

	msg, err := queue.DecodeWarmup([]byte(body))
	if errors.Is(err, queue.ErrMissingURL) {
		return msg, meta, ErrMissingURL{Meta: meta, RequestID: msg.RequestID}
	}
	if err != nil {
		return queue.WarmupMessage{}, meta, ErrDecode{Meta: meta, Err: err}
	}
	return msg, meta, nil
}

type parsedMessageKey struct{}

// WithParsedMessage stores a decoded message in the context for reuse.
func WithParsedMessage(ctx context.Context, msg queue.WarmupMessage) context.Context {
	return context.WithValue(ctx, parsedMessageKey{}, msg)
}

func parsedMessageFromContext(ctx context.Context) (queue.WarmupMessage, bool) {
	if ctx == nil {
		return queue.WarmupMessage{}, false
	}
	msg, ok := ctx.Value(parsedMessageKey{}).(queue.WarmupMessage)
	return msg, ok
}

// HandleWarmup parses body, submits the link and waits for the analysis to settle.
// A cache hit returns immediately.
func HandleWarmup(ctx context.Context, svc Analyzer, body string) (Outcome, error) {
	if svc == nil {
		return Outcome{}, errors.New("analysis service not configured")
	}

	msg, ok := parsedMessageFromContext(ctx)
	if !ok {
		var err error
		msg, _, err = ParseWarmup(body)
		if err != nil {
			return Outcome{}, err
		}
	}
	if strings.TrimSpace(msg.URL) == "" {
		return Outcome{}, ErrMissingURL{Meta: ComputeMeta(body), RequestID: msg.RequestID}
	}

	ctx = analyses.WithRequestID(ctx, msg.RequestID)
	sub, err := svc.Analyze(ctx, msg.URL, msg.ForceRefresh)
	if err != nil {
		return Outcome{}, processError(msg, "", err)
	}
	out := Outcome{AnalysisID: sub.AnalysisID, Cached: sub.Cached, Joined: sub.Joined, Status: sub.Status}
	if sub.Cached {
		return out, nil
	}

	view, err := svc.Wait(ctx, sub.AnalysisID)
	if err != nil {
		return out, processError(msg, sub.AnalysisID, err)
	}
	out.Status = view.Status
	if view.Status == analyses.StatusCompleted {
		return out, nil
	}
	cause := errs.New(errs.Internal, "analysis "+string(view.Status))
	if view.Error != nil {
		kind, _ := errs.ParseKind(view.Error.Kind)
		cause = errs.New(kind, view.Error.Message)
	}
	return out, processError(msg, sub.AnalysisID, cause)
}

func processError(msg queue.WarmupMessage, analysisID string, err error) ErrProcess {
	kind := errs.KindOf(err)
	// The worker stopping mid-wait is not a verdict on the link.
	_, classified := errs.As(err)
	shutdown := !classified && errors.Is(err, context.Canceled)
	return ErrProcess{
		URL:        msg.URL,
		AnalysisID: analysisID,
		RequestID:  msg.RequestID,
		Kind:       kind,
		Retryable:  shutdown || redeliverable(kind),
		Err:        err,
	}
}

// redeliverable reports whether a later delivery of the same message could succeed.
func redeliverable(kind errs.Kind) bool {
	switch kind {
	case errs.Fetch, errs.Timeout, errs.Backpressure, errs.Internal:
		return true
	}
	return false
}
