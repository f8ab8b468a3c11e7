package analyses

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"placelink-backend/internal/model"
	"placelink-backend/internal/shared/errs"
	"placelink-backend/internal/shared/server/middleware"
	"placelink-backend/internal/shared/server/respond"
	"placelink-backend/internal/shared/util"
)

// Minimum spacing between status polls of one analysis by one client.
const pollLimitWindow = 250 * time.Millisecond

// Handler wires HTTP handlers to the analyses service.
type Handler struct {
	Svc      *Service
	polls    *middleware.RateLimiter
	pollRule middleware.RateLimitRule
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{
		Svc:      svc,
		polls:    middleware.NewRateLimiter(nil),
		pollRule: middleware.PerInterval(pollLimitWindow),
	}
}

// RegisterRoutes attaches analysis routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/analyze", h.analyze)
	rg.GET("/analyses/:id", h.getAnalysis)
	rg.DELETE("/analyses/:id", h.cancelAnalysis)
	rg.DELETE("/cache/:key", h.invalidateCache)
}

type analyzeRequest struct {
	URL          string `json:"url"`
	ForceRefresh bool   `json:"force_refresh"`
}

type analyzeResponse struct {
	AnalysisID     string                `json:"analysis_id"`
	Status         Status                `json:"status"`
	Cached         bool                  `json:"cached"`
	ContentKey     string                `json:"content_key,omitempty"`
	Platform       string                `json:"platform,omitempty"`
	Result         *model.AnalysisResult `json:"result,omitempty"`
	Error          *ErrorView            `json:"error,omitempty"`
	ProcessingTime float64               `json:"processing_time"`
}

func (h *Handler) analyze(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, "request body must be JSON with a url field", nil)
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		respond.Error(c, http.StatusBadRequest, errs.InvalidURL.String(), "url is required", []map[string]string{
			{"field": "url", "issue": "required"},
		})
		return
	}

	sub, err := h.Svc.Analyze(requestContext(c), req.URL, req.ForceRefresh)
	if err != nil {
		h.writeError(c, err)
		return
	}

	respond.TagAnalysis(c, sub.AnalysisID)
	resp := analyzeResponse{
		AnalysisID:     sub.AnalysisID,
		Status:         sub.Status,
		Cached:         sub.Cached,
		ContentKey:     sub.ContentKey,
		Platform:       sub.Platform.String(),
		Result:         sub.Result,
		Error:          sub.Error,
		ProcessingTime: sub.ProcessingTime.Seconds(),
	}
	switch {
	case sub.Cached:
		respond.TagTransition(c, "cache_hit")
		respond.JSON(c, http.StatusOK, resp)
	case sub.Status == StatusFailed:
		respond.TagTransition(c, "->failed")
		status := http.StatusUnprocessableEntity
		if sub.Error != nil {
			status = kindStatus(sub.Error.Kind)
		}
		respond.JSON(c, status, resp)
	default:
		if sub.Joined {
			respond.TagTransition(c, "joined")
		} else {
			respond.TagTransition(c, "->pending")
		}
		respond.Accepted(c, resp)
	}
}

func (h *Handler) getAnalysis(c *gin.Context) {
	analysisID := strings.TrimSpace(c.Param("id"))
	if analysisID == "" {
		respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, "analysis id is required", nil)
		return
	}
	respond.TagAnalysis(c, analysisID)
	if ok, wait := h.polls.Allow(c.ClientIP()+"|poll|"+analysisID, h.pollRule); !ok {
		c.Header("Retry-After", strconv.Itoa(middleware.RetryAfterSeconds(wait)))
		respond.Error(c, http.StatusTooManyRequests, ErrorCodeRateLimited, "status polled too frequently", nil)
		return
	}

	view, err := h.Svc.GetStatus(requestContext(c), analysisID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	respond.OK(c, view)
}

func (h *Handler) cancelAnalysis(c *gin.Context) {
	analysisID := strings.TrimSpace(c.Param("id"))
	if analysisID == "" {
		respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, "analysis id is required", nil)
		return
	}
	respond.TagAnalysis(c, analysisID)

	view, err := h.Svc.Cancel(requestContext(c), analysisID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if view.Status == StatusCancelled {
		respond.TagTransition(c, "->cancelled")
	}
	respond.OK(c, view)
}

func (h *Handler) invalidateCache(c *gin.Context) {
	key := strings.ToLower(strings.TrimSpace(c.Param("key")))
	if !util.IsSHA256Hex(key) {
		respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, "cache key must be a 64 character hex content key", nil)
		return
	}
	if err := h.Svc.Invalidate(requestContext(c), key); err != nil {
		h.writeError(c, err)
		return
	}
	respond.NoContent(c)
}

func (h *Handler) writeError(c *gin.Context, err error) {
	appErr := errs.Normalize(err)
	if appErr.Kind == errs.Backpressure {
		c.Header("Retry-After", strconv.Itoa(middleware.RetryAfterSeconds(h.Svc.RetryAfter())))
	}
	message := appErr.Message
	if appErr.Kind == errs.Internal {
		message = "internal error"
	}
	respond.Error(c, appErr.Kind.HTTPStatus(), appErr.Kind.String(), message, nil)
}

func kindStatus(name string) int {
	kind, ok := errs.ParseKind(name)
	if !ok {
		return http.StatusInternalServerError
	}
	return kind.HTTPStatus()
}
