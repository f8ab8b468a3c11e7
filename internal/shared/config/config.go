package config

import (
	"log"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	Port            string
	Env             string
	LogLevel        string
	CORSAllowOrigin []string

	CacheStore     string
	DatabaseURL    string
	SQLitePath     string
	CacheLocalDir  string
	AWSRegion      string
	S3Bucket       string
	S3Prefix       string
	CacheTTL       time.Duration
	CacheTTLByKind map[string]time.Duration

	JobTimeout      time.Duration
	JobRetention    time.Duration
	JobMaxAttempts  int
	JobRetryBase    time.Duration
	JobRetryMax     time.Duration
	WorkerPoolSize  int
	WorkerQueueSize int

	LLMProvider      string
	LLMModel         string
	PromptVersion    string
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	AITimeout        time.Duration
	AIMaxAttempts    int
	AIRequestsPerSec float64
	AIBurst          int

	ExtractMaxAttempts int
	FetchTimeout       time.Duration
	BrowserFetch       bool
	BrowserPath        string
	GenericHosts       []string

	WarmupQueueURL string
	EventsQueueURL string

	AnalyzeRateLimit float64
	AnalyzeBurst     int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	if err := loadEnvFiles(".env", "cmd/.env"); err != nil {
		log.Printf("config: ignoring unreadable env file: %v", err)
	}

	env := normalizeEnv(getEnv("ENV", "dev"))
	store := normalizeStoreType(getEnv("CACHE_STORE", "memory"))
	dbURL := os.Getenv("DATABASE_URL")

	if env == "production" && store == "postgres" && dbURL == "" {
		log.Printf("DATABASE_URL is required when CACHE_STORE=postgres")
	}

	poolSize := getInt("WORKER_POOL_SIZE", runtime.NumCPU()*2)
	if poolSize < 1 {
		poolSize = 1
	}

	return Config{
		Port:            getEnv("PORT", "8080"),
		Env:             env,
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		CORSAllowOrigin: splitAndTrim(getEnv("CORS_ALLOW_ORIGINS", "http://localhost:5173")),

		CacheStore:     store,
		DatabaseURL:    dbURL,
		SQLitePath:     getEnv("SQLITE_PATH", "./data/placelink.db"),
		CacheLocalDir:  getEnv("CACHE_LOCAL_DIR", "./data/cache"),
		AWSRegion:      getEnv("AWS_REGION", "ap-northeast-2"),
		S3Bucket:       getEnv("S3_BUCKET", ""),
		S3Prefix:       getEnv("S3_PREFIX", "analysis-cache"),
		CacheTTL:       getHours("CACHE_TTL_HOURS", 24),
		CacheTTLByKind: platformTTLs("instagram", "naver_blog", "youtube", "generic"),

		JobTimeout:      getSeconds("JOB_TIMEOUT_SECONDS", 60),
		JobRetention:    getSeconds("JOB_RETENTION_SECONDS", 600),
		JobMaxAttempts:  getInt("JOB_MAX_ATTEMPTS", 3),
		JobRetryBase:    getMillis("JOB_RETRY_BASE_MS", 1000),
		JobRetryMax:     getMillis("JOB_RETRY_MAX_MS", 30000),
		WorkerPoolSize:  poolSize,
		WorkerQueueSize: getInt("WORKER_QUEUE_DEPTH", poolSize*16),

		LLMProvider:      strings.ToLower(getEnv("LLM_PROVIDER", "openai")),
		LLMModel:         getEnv("LLM_MODEL", "gpt-4o-mini"),
		PromptVersion:    getEnv("LLM_PROMPT_VERSION", "places_v1"),
		OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:    getEnv("OPENAI_BASE_URL", ""),
		AITimeout:        getSeconds("AI_TIMEOUT_SECONDS", 30),
		AIMaxAttempts:    getInt("AI_MAX_ATTEMPTS", 3),
		AIRequestsPerSec: getFloat("AI_REQUESTS_PER_SECOND", 5),
		AIBurst:          getInt("AI_BURST", 5),

		ExtractMaxAttempts: getInt("EXTRACT_MAX_ATTEMPTS", 2),
		FetchTimeout:       getSeconds("FETCH_TIMEOUT_SECONDS", 10),
		BrowserFetch:       getBool("BROWSER_FETCH", false),
		BrowserPath:        getEnv("BROWSER_PATH", ""),
		GenericHosts:       splitAndTrim(getEnv("GENERIC_HOSTS", "")),

		WarmupQueueURL: getEnv("SQS_WARMUP_QUEUE_URL", ""),
		EventsQueueURL: getEnv("SQS_EVENTS_QUEUE_URL", ""),

		AnalyzeRateLimit: getFloat("RATE_LIMIT_ANALYZE_RPS", 1),
		AnalyzeBurst:     getInt("RATE_LIMIT_ANALYZE_BURST", 10),
	}
}

// TTLFor returns the cache TTL configured for a platform key, falling back to CacheTTL.
func (c Config) TTLFor(platform string) time.Duration {
	if ttl, ok := c.CacheTTLByKind[platform]; ok && ttl > 0 {
		return ttl
	}
	return c.CacheTTL
}

func platformTTLs(names ...string) map[string]time.Duration {
	out := make(map[string]time.Duration, len(names))
	for _, name := range names {
		key := "CACHE_TTL_" + strings.ToUpper(name) + "_HOURS"
		if ttl := getHours(key, 0); ttl > 0 {
			out[name] = ttl
		}
	}
	if _, ok := out["youtube"]; !ok {
		out["youtube"] = 72 * time.Hour
	}
	return out
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using %d", key, raw, def)
		return def
	}
	return val
}

func getFloat(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using %v", key, raw, def)
		return def
	}
	return val
}

func getBool(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return val
}

func getSeconds(key string, def int) time.Duration {
	return time.Duration(getInt(key, def)) * time.Second
}

func getMillis(key string, def int) time.Duration {
	return time.Duration(getInt(key, def)) * time.Millisecond
}

func getHours(key string, def int) time.Duration {
	return time.Duration(getInt(key, def)) * time.Hour
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "postgres", "pg":
		return "postgres"
	case "sqlite":
		return "sqlite"
	case "local", "file":
		return "local"
	case "s3":
		return "s3"
	default:
		return "memory"
	}
}
