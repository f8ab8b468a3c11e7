// Package analyses drives link analyses end to end: cache lookup, job scheduling, extraction,
// the AI call, the cache write and status tracking.
package analyses

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"placelink-backend/internal/extract"
	"placelink-backend/internal/model"
	"placelink-backend/internal/platform"
	"placelink-backend/internal/queue"
	"placelink-backend/internal/resultcache"
	"placelink-backend/internal/shared/errs"
	"placelink-backend/internal/shared/metrics"
	"placelink-backend/internal/shared/retry"
	"placelink-backend/internal/shared/telemetry"
	"placelink-backend/internal/urlnorm"
)

// Extractors resolves the extractor for a platform.
type Extractors interface {
	For(p platform.Platform) (extract.Extractor, error)
}

// ContentAnalyzer turns extracted content into a result.
type ContentAnalyzer interface {
	Analyze(ctx context.Context, content model.ExtractedContent) (model.AnalysisResult, error)
}

// Scheduler runs jobs. Submit must not block.
type Scheduler interface {
	Submit(task func()) error
}

// EventPublisher receives terminal status events.
type EventPublisher interface {
	PublishStatus(ctx context.Context, event queue.StatusEvent) error
}

// Config tunes job execution. Zero values fall back to defaults.
type Config struct {
	// JobTimeout bounds one job end to end (default 60s).
	JobTimeout time.Duration
	// Retention keeps terminal analysis ids pollable (default 10m).
	Retention time.Duration
	// Retry is the job-level policy (default 3 attempts, 1s base, 30s cap, 20% jitter).
	Retry retry.Policy
	// RetryAfter is the hint returned with BackpressureError (default 5s).
	RetryAfter time.Duration
}

// Deps are the collaborators of a Service. Events is optional.
type Deps struct {
	Cache      *resultcache.Cache
	Detector   *platform.Detector
	Extractors Extractors
	Analyzer   ContentAnalyzer
	Pool       Scheduler
	Events     EventPublisher
}

// Option customizes a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides analysis and job id generation.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// Submission is the immediate answer to Analyze.
type Submission struct {
	AnalysisID     string
	Status         Status
	Cached         bool
	Joined         bool
	ContentKey     string
	NormalizedURL  string
	Platform       platform.Platform
	Result         *model.AnalysisResult
	Error          *ErrorView
	ProcessingTime time.Duration
}

// Service is the analysis orchestrator. GetStatus, Cancel and Wait come from StatusTracker.
type Service struct {
	*StatusTracker

	cache      *resultcache.Cache
	detector   *platform.Detector
	extractors Extractors
	analyzer   ContentAnalyzer
	pool       Scheduler
	events     EventPublisher
	cfg        Config
	now        func() time.Time
	newID      func() string
	table      *jobTable
}

// NewService wires the orchestrator.
func NewService(deps Deps, cfg Config, opts ...Option) *Service {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 60 * time.Second
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 10 * time.Minute
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.Default(errs.IsRetryable)
	}
	if cfg.Retry.Retryable == nil {
		cfg.Retry.Retryable = errs.IsRetryable
	}
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = 5 * time.Second
	}
	detector := deps.Detector
	if detector == nil {
		detector = platform.NewDetector(nil)
	}
	s := &Service{
		cache:      deps.Cache,
		detector:   detector,
		extractors: deps.Extractors,
		analyzer:   deps.Analyzer,
		pool:       deps.Pool,
		events:     deps.Events,
		cfg:        cfg,
		now:        time.Now,
		newID:      uuid.NewString,
		table:      newJobTable(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.StatusTracker = &StatusTracker{
		table:     s.table,
		now:       s.now,
		retention: cfg.Retention,
		cancelJob: s.cancelJob,
	}
	return s
}

// RetryAfter is the back-off hint for rejected submissions.
func (s *Service) RetryAfter() time.Duration {
	return s.cfg.RetryAfter
}

// Analyze submits raw for analysis. A valid cache entry answers immediately with Cached set
// and no analysis id; otherwise the caller gets a new analysis id attached to the live job
// for the content key, or to a newly scheduled one.
func (s *Service) Analyze(ctx context.Context, raw string, forceRefresh bool) (Submission, error) {
	start := s.now()
	norm, err := urlnorm.Normalize(raw)
	if err != nil {
		return Submission{}, err
	}
	req := AnalysisRequest{
		RawURL:        raw,
		NormalizedURL: norm.URL,
		ContentKey:    norm.ContentKey,
		ForceRefresh:  forceRefresh,
	}

	plat := s.detector.Detect(norm)
	if !plat.Supported() {
		return s.rejectUnsupported(ctx, req, start), nil
	}

	if !forceRefresh {
		entry, found, err := s.cache.Get(ctx, req.ContentKey)
		if err != nil {
			telemetry.Warn("cache.read_failed", map[string]any{
				"request_id":  requestIDFromContext(ctx),
				"content_key": req.ContentKey,
				"error":       sanitizeError(err),
			})
		} else if found {
			metrics.IncCacheHit()
			telemetry.Info("cache.hit", map[string]any{
				"request_id":  requestIDFromContext(ctx),
				"content_key": req.ContentKey,
				"platform":    plat.String(),
			})
			result := entry.Result
			return Submission{
				Status:         StatusCompleted,
				Cached:         true,
				ContentKey:     req.ContentKey,
				NormalizedURL:  req.NormalizedURL,
				Platform:       plat,
				Result:         &result,
				ProcessingTime: s.now().Sub(start),
			}, nil
		}
	}

	requestID := requestIDFromContext(ctx)
	now := s.now()
	sub := newSubscription(s.newID(), now)
	job, created, err := s.table.joinOrCreate(req.ContentKey, sub,
		func() *Job { return newJob(sub.id, req, plat, requestID, now, s.cfg.JobTimeout) },
		s.schedule,
	)
	if err != nil {
		metrics.IncBackpressure()
		s.finish(job, StatusFailed, errs.Wrap(errs.Backpressure, "worker queue is full", err), nil)
		telemetry.Warn("analysis.rejected", map[string]any{
			"request_id":  requestID,
			"content_key": req.ContentKey,
			"error":       err.Error(),
		})
		return Submission{}, errs.Wrap(errs.Backpressure, "analysis queue is full, retry later", err)
	}
	sub.joined = !created
	s.table.addSub(sub)

	if !created {
		metrics.IncJobJoined()
		telemetry.Info("analysis.joined", map[string]any{
			"request_id":  requestID,
			"analysis_id": sub.id,
			"job_id":      job.id,
			"content_key": req.ContentKey,
		})
		return s.submission(sub, req, start), nil
	}

	telemetry.Info("analysis.status", map[string]any{
		"request_id":        requestID,
		"analysis_id":       sub.id,
		"job_id":            job.id,
		"content_key":       req.ContentKey,
		"platform":          plat.String(),
		"force_refresh":     forceRefresh,
		"status":            StatusPending,
		"status_transition": "->pending",
	})
	return s.submission(sub, req, start), nil
}

// Invalidate removes the cached result for a content key.
func (s *Service) Invalidate(ctx context.Context, contentKey string) error {
	contentKey = strings.TrimSpace(contentKey)
	if contentKey == "" {
		return errs.New(errs.InvalidURL, "content key is required")
	}
	if err := s.cache.Invalidate(ctx, contentKey); err != nil {
		return errs.Wrap(errs.Internal, "cache invalidation failed", err)
	}
	return nil
}

// LiveJobs returns the number of pending or processing jobs.
func (s *Service) LiveJobs() int {
	return s.table.liveCount()
}

// RunJanitor drops expired analysis ids and purges expired cache entries every interval
// until ctx ends.
func (s *Service) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			swept := s.Sweep()
			purged, err := s.cache.Purge(ctx)
			if err != nil {
				telemetry.Warn("janitor.purge_failed", map[string]any{"error": err.Error()})
			}
			if swept > 0 || purged > 0 {
				telemetry.Debug("janitor.run", map[string]any{"analyses_removed": swept, "cache_purged": purged})
			}
		}
	}
}

func (s *Service) submission(sub *subscription, req AnalysisRequest, start time.Time) Submission {
	view := sub.view()
	return Submission{
		AnalysisID:     sub.id,
		Status:         view.Status,
		Joined:         sub.joined,
		ContentKey:     req.ContentKey,
		NormalizedURL:  req.NormalizedURL,
		Platform:       view.Platform,
		Error:          view.Error,
		ProcessingTime: s.now().Sub(start),
	}
}

func (s *Service) rejectUnsupported(ctx context.Context, req AnalysisRequest, start time.Time) Submission {
	now := s.now()
	sub := newSubscription(s.newID(), now)
	job := newJob(sub.id, req, platform.Unsupported, requestIDFromContext(ctx), now, s.cfg.JobTimeout)
	job.attach(sub)
	s.table.addSub(sub)
	s.finish(job, StatusFailed, errs.New(errs.UnsupportedPlatform, "links from this site are not supported"), nil)
	return s.submission(sub, req, start)
}

// schedule arms the job's timeout and hands it to the pool. The timeout runs from creation,
// so a job that waits out its budget in the queue fails without ever reaching a worker.
func (s *Service) schedule(j *Job) error {
	context.AfterFunc(j.budget, func() {
		if j.timedOut() && !j.isCommitted() {
			s.finish(j, StatusFailed, s.timeoutError(), nil)
		}
	})
	return s.pool.Submit(func() { s.runJob(j) })
}

func (s *Service) timeoutError() *errs.AppError {
	return errs.Wrap(errs.Timeout, fmt.Sprintf("analysis exceeded %s", s.cfg.JobTimeout), context.DeadlineExceeded)
}

func (s *Service) runJob(j *Job) {
	ctx := j.budget
	defer func() {
		if r := recover(); r != nil {
			telemetry.Error("analysis.panic", map[string]any{
				"request_id":  j.requestID,
				"analysis_id": j.id,
				"panic":       fmt.Sprint(r),
			})
			s.finish(j, StatusFailed, errs.New(errs.Internal, fmt.Sprintf("panic: %v", r)), nil)
		}
	}()
	if j.terminal() {
		return
	}
	if j.timedOut() {
		s.finish(j, StatusFailed, s.timeoutError(), nil)
		return
	}

	opts := resultcache.Options{
		ForceRefresh:  j.request.ForceRefresh,
		Platform:      j.platform,
		NormalizedURL: j.request.NormalizedURL,
		BeforeStore:   j.commit,
	}
	var (
		entry resultcache.Entry
		err   error
	)
	for {
		entry, _, err = s.cache.GetOrCompute(ctx, j.request.ContentKey, opts, func() (model.AnalysisResult, error) {
			return s.compute(ctx, j)
		})
		// A flight started by a job that has since died ends abandoned; start our own.
		if errors.Is(err, errAbandoned) && ctx.Err() == nil && !j.terminal() {
			telemetry.Debug("analysis.flight_abandoned", map[string]any{"analysis_id": j.id, "content_key": j.request.ContentKey})
			continue
		}
		break
	}

	if err == nil {
		result := entry.Result
		s.markProcessing(j)
		s.finish(j, StatusCompleted, nil, &result)
		return
	}

	switch {
	case j.timedOut():
		s.finish(j, StatusFailed, s.timeoutError(), nil)
	case ctx.Err() != nil:
		s.finish(j, StatusCancelled, errs.New(errs.Cancelled, "analysis cancelled"), nil)
	default:
		s.finish(j, StatusFailed, errs.Normalize(err), nil)
	}
}

// compute runs inside the cache's singleflight for the job that owns the computation.
func (s *Service) compute(ctx context.Context, j *Job) (model.AnalysisResult, error) {
	if !s.markProcessing(j) {
		return model.AnalysisResult{}, errAbandoned
	}
	extractor, err := s.extractors.For(j.platform)
	if err != nil {
		return model.AnalysisResult{}, err
	}

	var result model.AnalysisResult
	err = s.cfg.Retry.Do(ctx, func(ctx context.Context, attempt int) error {
		content, err := awaitCall(ctx, func(callCtx context.Context) (model.ExtractedContent, error) {
			return extractor.Extract(callCtx, j.request.NormalizedURL)
		})
		if err != nil {
			return err
		}
		j.advance(0.5, s.now())

		analyzed, err := awaitCall(ctx, func(callCtx context.Context) (model.AnalysisResult, error) {
			return s.analyzer.Analyze(callCtx, content)
		})
		if err != nil {
			return err
		}
		j.advance(0.9, s.now())
		result = analyzed
		return nil
	}, func(err error, attempt int, delay time.Duration) {
		retries := j.addRetry(s.now())
		metrics.IncJobRetry()
		telemetry.Warn("analysis.retry", map[string]any{
			"request_id":  j.requestID,
			"analysis_id": j.id,
			"content_key": j.request.ContentKey,
			"attempt":     attempt,
			"retry_count": retries,
			"delay_ms":    delay.Milliseconds(),
			"error_kind":  errs.KindOf(err).String(),
			"error":       sanitizeError(err),
		})
	})
	if err != nil {
		if ctx.Err() != nil {
			return model.AnalysisResult{}, fmt.Errorf("%w: %w", errAbandoned, ctx.Err())
		}
		return model.AnalysisResult{}, err
	}
	return result, nil
}

// awaitCall runs call on a context detached from ctx's cancellation and stops waiting when
// ctx ends. A late result is dropped.
func awaitCall[T any](ctx context.Context, call func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	type outcome struct {
		val T
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: errs.New(errs.Internal, fmt.Sprintf("panic: %v", r))}
			}
		}()
		val, err := call(context.WithoutCancel(ctx))
		ch <- outcome{val: val, err: err}
	}()
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case out := <-ch:
		return out.val, out.err
	}
}

func (s *Service) markProcessing(j *Job) bool {
	j.mu.Lock()
	if j.status != StatusPending || j.cancelRequested {
		ok := j.status == StatusProcessing && !j.cancelRequested
		j.mu.Unlock()
		return ok
	}
	now := s.now()
	j.status = StatusProcessing
	j.progress = 0.1
	j.startedAt = now
	j.updatedAt = now
	j.mu.Unlock()

	metrics.IncJobStarted()
	telemetry.Info("analysis.status", map[string]any{
		"request_id":        j.requestID,
		"analysis_id":       j.id,
		"content_key":       j.request.ContentKey,
		"platform":          j.platform.String(),
		"status":            StatusProcessing,
		"status_transition": "pending->processing",
	})
	return true
}

func (s *Service) cancelJob(j *Job) {
	j.cancel()
	s.finish(j, StatusCancelled, errs.New(errs.Cancelled, "analysis cancelled"), nil)
}

// finish moves j to a terminal state. It returns false when j was already terminal.
func (s *Service) finish(j *Job, to Status, cause *errs.AppError, result *model.AnalysisResult) bool {
	j.mu.Lock()
	if j.status.Terminal() {
		j.mu.Unlock()
		return false
	}
	from := j.status
	now := s.now()
	j.status = to
	j.updatedAt = now
	j.finishedAt = now
	switch to {
	case StatusCompleted:
		j.progress = 1
		j.result = result
	default:
		j.err = cause
	}
	started := j.startedAt
	retries := j.retryCount
	j.mu.Unlock()

	close(j.done)
	j.cancel()
	j.stopBudget()
	s.table.dropLive(j)

	fields := map[string]any{
		"request_id":        j.requestID,
		"analysis_id":       j.id,
		"content_key":       j.request.ContentKey,
		"platform":          j.platform.String(),
		"status":            to,
		"status_transition": string(from) + "->" + string(to),
		"retry_count":       retries,
	}
	if !started.IsZero() {
		fields["duration_ms"] = durationMs(started, now)
	}
	switch to {
	case StatusCompleted:
		metrics.IncJobCompleted()
		if !started.IsZero() {
			metrics.ObserveAnalysisDurationMs(durationMs(started, now))
		}
		if result != nil {
			fields["candidates"] = len(result.Candidates)
		}
		telemetry.Info("analysis.status", fields)
	case StatusCancelled:
		metrics.IncJobCancelled()
		telemetry.Info("analysis.status", fields)
	default:
		metrics.IncJobFailed(cause.Kind.String())
		if !started.IsZero() {
			metrics.ObserveAnalysisDurationMs(durationMs(started, now))
		}
		fields["error_kind"] = cause.Kind.String()
		fields["error"] = sanitizeError(cause)
		telemetry.Info("analysis.status", fields)
	}

	s.publish(j, to, cause, retries, now)
	return true
}

func (s *Service) publish(j *Job, status Status, cause *errs.AppError, retries int, at time.Time) {
	if s.events == nil {
		return
	}
	event := queue.StatusEvent{
		AnalysisID: j.id,
		ContentKey: j.request.ContentKey,
		Platform:   j.platform.String(),
		Status:     string(status),
		RetryCount: retries,
		OccurredAt: at.UTC().Format(time.RFC3339Nano),
		Version:    queue.MessageVersion,
	}
	if cause != nil {
		event.ErrorKind = cause.Kind.String()
		event.ErrorMessage = sanitizeError(cause)
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.events.PublishStatus(ctx, event); err != nil {
			telemetry.Warn("analysis.event_publish_failed", map[string]any{
				"analysis_id": j.id,
				"status":      status,
				"error":       err.Error(),
			})
		}
	}()
}

func durationMs(startedAt, completedAt time.Time) float64 {
	return float64(completedAt.Sub(startedAt).Microseconds()) / 1000.0
}
