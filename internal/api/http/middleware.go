package http

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/immxrtalbeast/checkin/internal/domain"
	"github.com/immxrtalbeast/checkin/internal/service"
	"github.com/immxrtalbeast/checkin/lib/logger/sl"
	"go.opentelemetry.io/otel/trace"
)

const operatorKey = "operator"

// RequestLogger logs one line per request, replacing gin's own logger.
func RequestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()

		status := ctx.Writer.Status()
		level, result := requestLogMeta(status)
		attrs := []any{
			"method", ctx.Request.Method,
			"path", ctx.Request.URL.Path,
			"status", status,
			"result", result,
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", ctx.ClientIP(),
		}
		if op := operatorFrom(ctx); op != nil {
			attrs = append(attrs, "operator", op.Username)
		}
		if sc := trace.SpanContextFromContext(ctx.Request.Context()); sc.HasTraceID() {
			attrs = append(attrs, "trace_id", sc.TraceID().String())
		}
		if len(ctx.Errors) > 0 {
			attrs = append(attrs, "errors", ctx.Errors.String())
		}
		log.Log(ctx.Request.Context(), level, "http.request", attrs...)
	}
}

func requestLogMeta(status int) (slog.Level, string) {
	switch {
	case status >= 500:
		return slog.LevelError, "server_error"
	case status >= 400:
		return slog.LevelWarn, "client_error"
	case status >= 300:
		return slog.LevelInfo, "redirect"
	}
	return slog.LevelInfo, "success"
}

// BasicAuth resolves the operator from HTTP Basic credentials.
func BasicAuth(operators service.OperatorInteractor, log *slog.Logger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		username, password, ok := ctx.Request.BasicAuth()
		if !ok {
			unauthorized(ctx)
			return
		}

		op, err := operators.Authenticate(ctx.Request.Context(), username, password)
		if err != nil {
			if errors.Is(err, service.ErrInvalidCredentials) {
				unauthorized(ctx)
				return
			}
			log.Error("authentication failed", sl.Err(err))
			ctx.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "authentication unavailable"})
			return
		}

		ctx.Set(operatorKey, op)
		ctx.Next()
	}
}

// RequireCapability rejects operators that do not hold c.
func RequireCapability(c domain.Capability) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if !operatorFrom(ctx).Can(c) {
			ctx.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "missing capability " + string(c)})
			return
		}
		ctx.Next()
	}
}

func operatorFrom(ctx *gin.Context) *domain.Operator {
	v, ok := ctx.Get(operatorKey)
	if !ok {
		return nil
	}
	op, _ := v.(*domain.Operator)
	return op
}

func unauthorized(ctx *gin.Context) {
	ctx.Header("WWW-Authenticate", `Basic realm="checkin", charset="UTF-8"`)
	ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
}
