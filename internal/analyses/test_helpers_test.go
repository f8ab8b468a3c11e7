package analyses

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"placelink-backend/internal/extract"
	"placelink-backend/internal/model"
	"placelink-backend/internal/platform"
	"placelink-backend/internal/queue"
	"placelink-backend/internal/resultcache"
	"placelink-backend/internal/shared/errs"
	"placelink-backend/internal/shared/retry"
	"placelink-backend/internal/workerpool"
)

type stubExtractor struct {
	calls   atomic.Int32
	started chan string
	gate    chan struct{}
	err     error
}

func newStubExtractor() *stubExtractor {
	return &stubExtractor{started: make(chan string, 64)}
}

func (s *stubExtractor) Extract(ctx context.Context, normalizedURL string) (model.ExtractedContent, error) {
	_ = ctx
	s.calls.Add(1)
	select {
	case s.started <- normalizedURL:
	default:
	}
	if s.gate != nil {
		<-s.gate
	}
	if s.err != nil {
		return model.ExtractedContent{}, s.err
	}
	return model.ExtractedContent{
		Platform:      platform.Instagram,
		SourceURL:     normalizedURL,
		Title:         "Cafe Onion Seongsu",
		Description:   "brunch spot",
		ExtractedText: "We loved Cafe Onion in Seongsu.",
	}, nil
}

type stubExtractors struct {
	ext extract.Extractor
}

func (s stubExtractors) For(p platform.Platform) (extract.Extractor, error) {
	if !p.Supported() {
		return nil, errs.New(errs.UnsupportedPlatform, "unsupported")
	}
	return s.ext, nil
}

type stubAnalyzer struct {
	calls atomic.Int32
	fn    func(ctx context.Context, content model.ExtractedContent) (model.AnalysisResult, error)
}

func (s *stubAnalyzer) Analyze(ctx context.Context, content model.ExtractedContent) (model.AnalysisResult, error) {
	s.calls.Add(1)
	if s.fn != nil {
		return s.fn(ctx, content)
	}
	return model.AnalysisResult{
		Candidates:      []model.PlaceCandidate{{Name: content.Title, Confidence: 0.8, Tags: []string{"cafe"}}},
		Confidence:      0.8,
		ContentMetadata: model.MetadataFrom(content),
	}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []queue.StatusEvent
}

func (r *recordingPublisher) PublishStatus(ctx context.Context, event queue.StatusEvent) error {
	_ = ctx
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	return nil
}

func (r *recordingPublisher) snapshot() []queue.StatusEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]queue.StatusEvent(nil), r.events...)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, time.April, 2, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type envOptions struct {
	poolSize   int
	queueDepth int
	jobTimeout time.Duration
	clock      *testClock
	scheduler  Scheduler
	wrapStore  func(*resultcache.MemoryStore) resultcache.Store
}

type testEnv struct {
	svc    *Service
	pool   *workerpool.Pool
	store  *resultcache.MemoryStore
	ext    *stubExtractor
	ai     *stubAnalyzer
	events *recordingPublisher
}

func fastRetry() retry.Policy {
	return retry.Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
		Jitter:      0.2,
		Retryable:   errs.IsRetryable,
	}
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	if opts.poolSize == 0 {
		opts.poolSize = 4
	}
	if opts.queueDepth == 0 {
		opts.queueDepth = 16
	}
	if opts.jobTimeout == 0 {
		opts.jobTimeout = 3 * time.Second
	}

	pool := workerpool.New(workerpool.Config{Size: opts.poolSize, QueueDepth: opts.queueDepth})
	pool.Start()

	var scheduler Scheduler = pool
	if opts.scheduler != nil {
		scheduler = opts.scheduler
	}

	env := &testEnv{
		pool:   pool,
		store:  resultcache.NewMemoryStore(),
		ext:    newStubExtractor(),
		ai:     &stubAnalyzer{},
		events: &recordingPublisher{},
	}
	var cacheOpts []resultcache.Option
	var svcOpts []Option
	if opts.clock != nil {
		cacheOpts = append(cacheOpts, resultcache.WithClock(opts.clock.Now))
		svcOpts = append(svcOpts, WithClock(opts.clock.Now))
	}
	var store resultcache.Store = env.store
	if opts.wrapStore != nil {
		store = opts.wrapStore(env.store)
	}
	cache := resultcache.New(store, resultcache.TTLPolicy{Default: time.Hour}, cacheOpts...)
	env.svc = NewService(Deps{
		Cache:      cache,
		Detector:   platform.NewDetector([]string{"example-food.kr"}),
		Extractors: stubExtractors{ext: env.ext},
		Analyzer:   env.ai,
		Pool:       scheduler,
		Events:     env.events,
	}, Config{
		JobTimeout: opts.jobTimeout,
		Retention:  time.Minute,
		Retry:      fastRetry(),
	}, svcOpts...)

	t.Cleanup(func() {
		if env.ext.gate != nil {
			select {
			case <-env.ext.gate:
			default:
				close(env.ext.gate)
			}
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = pool.Shutdown(ctx)
	})
	return env
}

func waitTerminal(t *testing.T, svc *Service, analysisID string) StatusView {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	view, err := svc.Wait(ctx, analysisID)
	if err != nil {
		t.Fatalf("wait for %s: %v", analysisID, err)
	}
	return view
}

func waitStarted(t *testing.T, ext *stubExtractor) {
	t.Helper()
	select {
	case <-ext.started:
	case <-time.After(3 * time.Second):
		t.Fatalf("extractor was not called")
	}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}
