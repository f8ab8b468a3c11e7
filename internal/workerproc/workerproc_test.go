package workerproc

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"placelink-backend/internal/analyses"
	"placelink-backend/internal/queue"
	"placelink-backend/internal/shared/errs"
)

type fakeAnalyzer struct {
	sub       analyses.Submission
	submitErr error
	view      analyses.StatusView
	waitErr   error

	gotURL   string
	gotForce bool
	waited   string
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, raw string, forceRefresh bool) (analyses.Submission, error) {
	_ = ctx
	f.gotURL = raw
	f.gotForce = forceRefresh
	return f.sub, f.submitErr
}

func (f *fakeAnalyzer) Wait(ctx context.Context, analysisID string) (analyses.StatusView, error) {
	_ = ctx
	f.waited = analysisID
	return f.view, f.waitErr
}

func warmupBody(t *testing.T, url string, force bool) string {
	t.Helper()
	payload, err := queue.EncodeWarmup(queue.WarmupMessage{URL: url, ForceRefresh: force, RequestID: "req-1", Version: queue.MessageVersion})
	require.NoError(t, err)
	return string(payload)
}

func TestParseWarmupErrors(t *testing.T) {
	_, _, err := ParseWarmup("  ")
	assert.IsType(t, ErrEmptyBody{}, err)

	_, meta, err := ParseWarmup("{bad")
	var decodeErr ErrDecode
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, 4, meta.BodyLen)
	assert.Len(t, meta.BodySHA, 64)

	_, _, err = ParseWarmup(`{"request_id":"req-9","version":1}`)
	var missing ErrMissingURL
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "req-9", missing.RequestID)
}

func TestHandleWarmupWaitsForCompletion(t *testing.T) {
	svc := &fakeAnalyzer{
		sub:  analyses.Submission{AnalysisID: "a-1", Status: analyses.StatusPending},
		view: analyses.StatusView{AnalysisID: "a-1", Status: analyses.StatusCompleted},
	}
	out, err := HandleWarmup(context.Background(), svc, warmupBody(t, "https://instagram.com/p/x", true))
	require.NoError(t, err)
	assert.Equal(t, analyses.StatusCompleted, out.Status)
	assert.Equal(t, "https://instagram.com/p/x", svc.gotURL)
	assert.True(t, svc.gotForce)
	assert.Equal(t, "a-1", svc.waited)
}

func TestHandleWarmupCacheHitSkipsWait(t *testing.T) {
	svc := &fakeAnalyzer{sub: analyses.Submission{Cached: true, Status: analyses.StatusCompleted}}
	out, err := HandleWarmup(context.Background(), svc, warmupBody(t, "https://youtu.be/abc", false))
	require.NoError(t, err)
	assert.True(t, out.Cached)
	assert.Empty(t, svc.waited)
}

func TestHandleWarmupUsesParsedMessageFromContext(t *testing.T) {
	svc := &fakeAnalyzer{sub: analyses.Submission{Cached: true}}
	ctx := WithParsedMessage(context.Background(), queue.WarmupMessage{URL: "https://blog.naver.com/a/1"})
	_, err := HandleWarmup(ctx, svc, "")
	require.NoError(t, err)
	assert.Equal(t, "https://blog.naver.com/a/1", svc.gotURL)
}

func TestHandleWarmupClassifiesFailures(t *testing.T) {
	cases := []struct {
		name      string
		svc       *fakeAnalyzer
		kind      errs.Kind
		retryable bool
	}{
		{
			name:      "backpressure",
			svc:       &fakeAnalyzer{submitErr: errs.New(errs.Backpressure, "full")},
			kind:      errs.Backpressure,
			retryable: true,
		},
		{
			name:      "invalid url",
			svc:       &fakeAnalyzer{submitErr: errs.New(errs.InvalidURL, "bad")},
			kind:      errs.InvalidURL,
			retryable: false,
		},
		{
			name: "unsupported platform",
			svc: &fakeAnalyzer{sub: analyses.Submission{
				AnalysisID: "a-2",
				Status:     analyses.StatusFailed,
			}, view: analyses.StatusView{Status: analyses.StatusFailed, Error: &analyses.ErrorView{Kind: "UnsupportedPlatformError", Message: "nope"}}},
			kind:      errs.UnsupportedPlatform,
			retryable: false,
		},
		{
			name: "fetch failure",
			svc: &fakeAnalyzer{sub: analyses.Submission{AnalysisID: "a-3", Status: analyses.StatusPending},
				view: analyses.StatusView{Status: analyses.StatusFailed, Error: &analyses.ErrorView{Kind: "FetchError", Message: "429"}}},
			kind:      errs.Fetch,
			retryable: true,
		},
		{
			name: "worker shutdown",
			svc: &fakeAnalyzer{sub: analyses.Submission{AnalysisID: "a-4", Status: analyses.StatusPending},
				waitErr: context.Canceled},
			kind:      errs.Cancelled,
			retryable: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := HandleWarmup(context.Background(), tc.svc, warmupBody(t, "https://instagram.com/p/y", false))
			var procErr ErrProcess
			require.True(t, errors.As(err, &procErr), "expected ErrProcess, got %v", err)
			assert.Equal(t, tc.kind, procErr.Kind)
			assert.Equal(t, tc.retryable, procErr.Retryable)
			assert.Equal(t, "req-1", procErr.RequestID)
		})
	}
}
