package http

import (
	"net/http"
	"strconv"

	"skillhub/internal/core/services"
	"skillhub/internal/infrastructure/middleware"
	"skillhub/internal/infrastructure/monitoring"
	apperrors "skillhub/pkg/errors"
	"skillhub/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// SnapshotSource is the read side of a running chat session.
type SnapshotSource interface {
	Snapshot() services.Snapshot
}

// StatusHandler exposes the local session to tooling on a loopback address.
type StatusHandler struct {
	source   SnapshotSource
	health   *monitoring.HealthChecker
	gatherer prometheus.Gatherer
}

func NewStatusHandler(
	source SnapshotSource,
	health *monitoring.HealthChecker,
	gatherer prometheus.Gatherer,
) *StatusHandler {
	return &StatusHandler{
		source:   source,
		health:   health,
		gatherer: gatherer,
	}
}

// NewRouter builds the status server's engine with the standard middleware chain.
func NewRouter(h *StatusHandler, logger *zap.SugaredLogger, rps float64, burst int) *gin.Engine {
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(logger),
		middleware.ErrorHandlerMiddleware(logger),
		middleware.TracingMiddleware(),
		middleware.NewHTTPRateLimitMiddleware(rps, burst),
	)
	h.SetupRoutes(router)
	return router
}

func (h *StatusHandler) SetupRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))

	session := router.Group("/session")
	{
		session.GET("", h.GetSession)
		session.GET("/messages", h.GetMessages)
		session.GET("/call", h.GetCall)
	}
}

func (h *StatusHandler) Health(c *gin.Context) {
	status := h.health.CheckAll(c.Request.Context())
	code := http.StatusOK
	if status.Status != monitoring.StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

func (h *StatusHandler) GetSession(c *gin.Context) {
	snap := h.source.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"session":       snap,
		"message_count": len(snap.Messages),
		"call_duration": utils.FormatCallDuration(snap.Call.ElapsedSeconds),
	})
}

// GetMessages returns the transcript, optionally only its last ?limit entries.
func (h *StatusHandler) GetMessages(c *gin.Context) {
	messages := h.source.Snapshot().Messages

	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			c.Error(apperrors.NewInvalidInputError("limit must be a positive integer").
				WithContext("limit", raw))
			return
		}
		if limit < len(messages) {
			messages = messages[len(messages)-limit:]
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"messages": messages,
		"count":    len(messages),
	})
}

func (h *StatusHandler) GetCall(c *gin.Context) {
	call := h.source.Snapshot().Call
	c.JSON(http.StatusOK, gin.H{
		"call":     call,
		"duration": utils.FormatCallDuration(call.ElapsedSeconds),
	})
}
