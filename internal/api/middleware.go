package api

import (
	"errors"
	"net/http"
	"time"

	"fulfillment-service/internal/apperror"
	"fulfillment-service/internal/util"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

// correlationMiddleware puts the caller's X-Correlation-ID (or a new one)
// into the request context and echoes it back.
func correlationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if id := c.GetHeader(util.CorrelationHeader); id != "" {
			ctx = util.WithCorrelationID(ctx, id)
		}
		ctx, id := util.EnsureCorrelationID(ctx)

		c.Request = c.Request.WithContext(ctx)
		c.Header(util.CorrelationHeader, id)
		c.Next()
	}
}

// tracingMiddleware continues the caller's trace, if any, with a server span
func tracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		ctx, span := util.StartSpan(ctx, c.Request.Method+" "+route)
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", route),
			attribute.Int("http.status_code", status),
			attribute.String("correlation_id", util.CorrelationID(ctx)),
		)
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}

func loggerMiddleware() gin.HandlerFunc {
	logger := util.GetLogger()
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("correlation_id", util.CorrelationID(c.Request.Context())))
	}
}

func statusFor(code apperror.Code) int {
	switch code {
	case apperror.CodeValidation:
		return http.StatusBadRequest
	case apperror.CodeNotFound:
		return http.StatusNotFound
	case apperror.CodeConflict:
		return http.StatusConflict
	case apperror.CodeTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as {code, message}. Internal errors keep their
// detail in the log only.
func respondError(c *gin.Context, err error) {
	code := apperror.CodeOf(err)
	message := apperror.MessageOf(err)

	var appErr *apperror.Error
	if code == apperror.CodeInternal && !errors.As(err, &appErr) {
		message = "internal server error"
	}
	if code == apperror.CodeInternal || code == apperror.CodeTransient {
		util.GetLogger().Error("Request failed",
			zap.String("path", c.Request.URL.Path),
			zap.String("correlation_id", util.CorrelationID(c.Request.Context())),
			zap.Error(err))
	}

	c.AbortWithStatusJSON(statusFor(code), gin.H{
		"code":    code,
		"message": message,
	})
}

// bindJSON decodes the body into obj, answering 400 on failure.
func bindJSON(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		respondError(c, apperror.Validation("invalid request body: %s", err.Error()))
		return false
	}
	return true
}
