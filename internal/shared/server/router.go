package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"placelink-backend/internal/analyses"
	"placelink-backend/internal/services/health"
	"placelink-backend/internal/shared/config"
	"placelink-backend/internal/shared/metrics"
	"placelink-backend/internal/shared/server/middleware"
	"placelink-backend/internal/shared/server/respond"
)

const (
	rateGroupAnalyze = "ANALYZE"
	rateGroupPolling = "POLLING"
)

// RouterDeps are the handlers mounted by NewRouter.
type RouterDeps struct {
	Config          config.Config
	AnalysisHandler *analyses.Handler
	Health          *health.Service
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	if deps.Config.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
		middleware.RateLimit(rateLimitConfig(deps.Config)),
	)

	healthSvc := deps.Health
	if healthSvc == nil {
		healthSvc = health.NewService()
	}

	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api/v1")
	api.GET("/health", func(c *gin.Context) {
		report := healthSvc.Status(c.Request.Context())
		status := http.StatusOK
		if !report.OK {
			status = http.StatusServiceUnavailable
		}
		respond.JSON(c, status, report)
	})
	if deps.AnalysisHandler != nil {
		deps.AnalysisHandler.RegisterRoutes(api)
	}

	return r
}

func rateLimitConfig(cfg config.Config) middleware.RateLimitConfig {
	analyzeRate := cfg.AnalyzeRateLimit
	analyzeBurst := cfg.AnalyzeBurst
	return middleware.RateLimitConfig{
		Rules: map[string]middleware.RateLimitRule{
			rateGroupAnalyze: {Rate: analyzeRate, Burst: analyzeBurst},
			rateGroupPolling: {Rate: analyzeRate * 20, Burst: analyzeBurst * 10},
		},
		GroupFor: func(c *gin.Context) string {
			switch {
			case c.Request.Method == http.MethodPost && c.FullPath() == "/api/v1/analyze":
				return rateGroupAnalyze
			case c.Request.Method == http.MethodGet && c.FullPath() == "/api/v1/analyses/:id":
				return rateGroupPolling
			}
			return ""
		},
	}
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
