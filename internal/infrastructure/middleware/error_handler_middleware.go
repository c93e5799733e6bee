package middleware

import (
	"net/http"

	"skillhub/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// statusFor maps an application error code to the HTTP status reported for it.
func statusFor(code errors.ErrorCode) int {
	switch code {
	case errors.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case errors.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case errors.ErrCodeConnectivity, errors.ErrCodeHistoryFetch:
		return http.StatusServiceUnavailable
	case errors.ErrCodeMediaAcquisition, errors.ErrCodeSignaling:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// ErrorHandlerMiddleware renders errors attached with c.Error as JSON.
func ErrorHandlerMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err

		if !errors.IsAppError(err) {
			logger.Errorw("unhandled error",
				"error", err.Error(),
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
			)
			err = errors.NewInternalError("Internal server error")
		}

		appErr := errors.GetAppError(err)
		status := statusFor(appErr.Code)
		logger.Warnw("request failed",
			"code", appErr.Code,
			"message", appErr.Message,
			"status", status,
			"path", c.Request.URL.Path,
			"context", appErr.Context,
		)
		c.JSON(status, gin.H{
			"error":   string(appErr.Code),
			"message": appErr.Message,
			"details": appErr.Context,
		})
	}
}

// RecoveryMiddleware turns a handler panic into a 500 response
func RecoveryMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Errorw("panic recovered",
					"error", err,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":   string(errors.ErrCodeInternal),
					"message": "Internal server error",
				})
			}
		}()

		c.Next()
	}
}
