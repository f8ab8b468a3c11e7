// Package bootstrap assembles the pipeline from configuration. The API server, the warmup
// worker and the CLI all build their dependencies here.
package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"placelink-backend/internal/analyses"
	"placelink-backend/internal/extract"
	"placelink-backend/internal/llm"
	openai "placelink-backend/internal/llm/openai"
	"placelink-backend/internal/platform"
	"placelink-backend/internal/queue"
	"placelink-backend/internal/resultcache"
	"placelink-backend/internal/services/health"
	"placelink-backend/internal/shared/config"
	"placelink-backend/internal/shared/errs"
	"placelink-backend/internal/shared/retry"
	"placelink-backend/internal/shared/server"
	"placelink-backend/internal/shared/storage/db"
	localstore "placelink-backend/internal/shared/storage/object/local"
	s3store "placelink-backend/internal/shared/storage/object/s3"
	"placelink-backend/internal/shared/telemetry"
	"placelink-backend/internal/workerpool"
)

// App holds shared dependencies.
type App struct {
	Config          config.Config
	Router          *gin.Engine
	DB              *sql.DB
	CacheStore      resultcache.Store
	Cache           *resultcache.Cache
	Detector        *platform.Detector
	Extractors      *extract.Registry
	Browser         *extract.BrowserFetcher
	Analyzer        *analyses.AIAnalyzer
	Pool            *workerpool.Pool
	Events          *queue.Publisher
	Warmups         *queue.Publisher
	AnalysesService *analyses.Service
	AnalysisHandler *analyses.Handler
	Health          *health.Service
}

// Option adjusts how Build assembles the app.
type Option func(*buildOptions)

type buildOptions struct {
	llmClient llm.Client
	store     resultcache.Store
	noRouter  bool
}

// WithLLMClient replaces the provider client, for tests and dry runs.
func WithLLMClient(client llm.Client) Option {
	return func(o *buildOptions) { o.llmClient = client }
}

// WithCacheStore replaces the configured cache backend.
func WithCacheStore(store resultcache.Store) Option {
	return func(o *buildOptions) { o.store = store }
}

// WithoutRouter skips HTTP wiring for processes that serve no requests.
func WithoutRouter() Option {
	return func(o *buildOptions) { o.noRouter = true }
}

// Build prepares shared dependencies and starts the worker pool.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	var bo buildOptions
	for _, opt := range opts {
		opt(&bo)
	}
	telemetry.Configure(cfg.LogLevel)

	app := &App{Config: cfg, Health: health.NewService()}

	store := bo.store
	if store == nil {
		var err error
		store, err = buildCacheStore(ctx, app)
		if err != nil {
			return nil, err
		}
	}
	app.CacheStore = store
	app.Cache = resultcache.New(store, ttlPolicy(cfg))

	if err := buildExtractors(app); err != nil {
		app.closeResources()
		return nil, err
	}

	client := bo.llmClient
	if client == nil {
		var err error
		client, err = buildLLM(cfg)
		if err != nil {
			app.closeResources()
			return nil, err
		}
	}
	app.Analyzer = analyses.NewAIAnalyzer(client, analyses.AIAnalyzerConfig{
		Timeout:           cfg.AITimeout,
		Retry:             analyses.AIRetryPolicy(cfg.AIMaxAttempts),
		RequestsPerSecond: cfg.AIRequestsPerSec,
		Burst:             cfg.AIBurst,
		PromptVersion:     cfg.PromptVersion,
	})

	if err := buildQueues(ctx, app); err != nil {
		app.closeResources()
		return nil, err
	}

	app.Pool = workerpool.New(workerpool.Config{Size: cfg.WorkerPoolSize, QueueDepth: cfg.WorkerQueueSize})
	app.Pool.Start()

	deps := analyses.Deps{
		Cache:      app.Cache,
		Detector:   app.Detector,
		Extractors: app.Extractors,
		Analyzer:   app.Analyzer,
		Pool:       app.Pool,
	}
	// A nil *queue.Publisher in the interface would not read as absent.
	if app.Events != nil {
		deps.Events = app.Events
	}
	app.AnalysesService = analyses.NewService(deps, analyses.Config{
		JobTimeout: cfg.JobTimeout,
		Retention:  cfg.JobRetention,
		Retry: retry.Policy{
			MaxAttempts: cfg.JobMaxAttempts,
			BaseDelay:   cfg.JobRetryBase,
			MaxDelay:    cfg.JobRetryMax,
			Jitter:      0.2,
			Retryable:   errs.IsRetryable,
		},
	})

	app.Health.AddGauge("live_jobs", app.AnalysesService.LiveJobs)
	app.Health.AddGauge("queued_tasks", app.Pool.Pending)
	if app.DB != nil {
		app.Health.AddCheck("database", app.DB.PingContext)
	}

	if !bo.noRouter {
		app.AnalysisHandler = analyses.NewHandler(app.AnalysesService)
		app.Router = server.NewRouter(server.RouterDeps{
			Config:          cfg,
			AnalysisHandler: app.AnalysisHandler,
			Health:          app.Health,
		})
	}

	telemetry.Info("bootstrap.ready", map[string]any{
		"env":          cfg.Env,
		"cache_store":  cfg.CacheStore,
		"llm_provider": cfg.LLMProvider,
		"pool_size":    app.Pool.Size(),
		"queue_depth":  app.Pool.QueueDepth(),
		"browser":      app.Browser != nil,
		"events":       app.Events != nil,
	})
	return app, nil
}

// Close drains the worker pool and releases the browser and database.
func (a *App) Close(ctx context.Context) error {
	var errList []error
	if a.Pool != nil {
		if err := a.Pool.Shutdown(ctx); err != nil {
			errList = append(errList, fmt.Errorf("worker pool: %w", err))
		}
	}
	if err := a.closeResources(); err != nil {
		errList = append(errList, err)
	}
	return errors.Join(errList...)
}

func (a *App) closeResources() error {
	var errList []error
	if a.Browser != nil {
		if err := a.Browser.Close(); err != nil {
			errList = append(errList, fmt.Errorf("browser: %w", err))
		}
		a.Browser = nil
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			errList = append(errList, fmt.Errorf("database: %w", err))
		}
		a.DB = nil
	}
	return errors.Join(errList...)
}

func buildCacheStore(ctx context.Context, app *App) (resultcache.Store, error) {
	cfg := app.Config
	switch cfg.CacheStore {
	case "postgres":
		opts := db.OptionsFromEnv(db.DefaultServerOptions())
		sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, opts)
		if err != nil {
			if isDevLike(cfg.Env) {
				log.Printf("bootstrap: database connect failed; using in-memory cache: %v", err)
				return resultcache.NewMemoryStore(), nil
			}
			return nil, err
		}
		app.DB = sqlDB
		return &resultcache.PGStore{DB: sqlDB}, nil
	case "sqlite":
		sqlDB, err := db.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		app.DB = sqlDB
		return &resultcache.SQLiteStore{DB: sqlDB}, nil
	case "local":
		return &resultcache.ObjectStore{Objects: localstore.New(cfg.CacheLocalDir)}, nil
	case "s3":
		if strings.TrimSpace(cfg.S3Bucket) == "" {
			return nil, fmt.Errorf("CACHE_STORE=s3 requires S3_BUCKET")
		}
		objects, err := s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix)
		if err != nil {
			return nil, err
		}
		return &resultcache.ObjectStore{Objects: objects}, nil
	default:
		return resultcache.NewMemoryStore(), nil
	}
}

func ttlPolicy(cfg config.Config) resultcache.TTLPolicy {
	byPlatform := make(map[platform.Platform]time.Duration, len(platform.All))
	for _, p := range platform.All {
		if ttl := cfg.TTLFor(p.String()); ttl > 0 {
			byPlatform[p] = ttl
		}
	}
	return resultcache.TTLPolicy{Default: cfg.CacheTTL, ByPlatform: byPlatform}
}

func buildExtractors(app *App) error {
	cfg := app.Config
	app.Detector = platform.NewDetector(cfg.GenericHosts)

	extractCfg := extract.Config{
		CallTimeout: cfg.FetchTimeout,
		Retry:       extract.CallPolicy(cfg.ExtractMaxAttempts),
	}
	if cfg.BrowserFetch {
		browser, err := extract.NewBrowserFetcher(extract.BrowserOptions{BrowserPath: cfg.BrowserPath, Stealth: true})
		if err != nil {
			if !isDevLike(cfg.Env) {
				return fmt.Errorf("start browser: %w", err)
			}
			log.Printf("bootstrap: browser fetcher unavailable; falling back to HTTP: %v", err)
		} else {
			app.Browser = browser
			extractCfg.Browser = browser
		}
	}
	app.Extractors = extract.NewRegistry(extractCfg)
	return nil
}

func buildLLM(cfg config.Config) (llm.Client, error) {
	if cfg.LLMProvider != "openai" {
		log.Printf("bootstrap: LLM_PROVIDER=%q; analyses will fail with UpstreamError", cfg.LLMProvider)
		return llm.PlaceholderClient{}, nil
	}
	if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: OPENAI_API_KEY empty; using placeholder LLM client")
			return llm.PlaceholderClient{}, nil
		}
		return nil, fmt.Errorf("OPENAI_API_KEY is required when LLM_PROVIDER=openai")
	}
	client, err := openai.NewClient(openai.Config{
		APIKey:  cfg.OpenAIAPIKey,
		Model:   cfg.LLMModel,
		BaseURL: cfg.OpenAIBaseURL,
		Timeout: cfg.AITimeout,
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

func buildQueues(ctx context.Context, app *App) error {
	cfg := app.Config
	if url := strings.TrimSpace(cfg.EventsQueueURL); url != "" {
		sender, err := queue.NewSQSClient(ctx, url, cfg.AWSRegion)
		if err != nil {
			return err
		}
		app.Events = queue.NewPublisher(sender)
	}
	if url := strings.TrimSpace(cfg.WarmupQueueURL); url != "" {
		sender, err := queue.NewSQSClient(ctx, url, cfg.AWSRegion)
		if err != nil {
			return err
		}
		app.Warmups = queue.NewPublisher(sender)
	}
	return nil
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}
