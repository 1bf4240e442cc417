package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zapcore"

	"github.com/yungbote/labreport-backend/internal/pkg/ctxutil"
	"github.com/yungbote/labreport-backend/internal/pkg/logger"
)

// Routes polled by probes and status clients. Successful hits are logged at debug.
var quietRoutes = map[string]bool{
	"/healthz":                    true,
	"/api/lab-reports/:id/status": true,
}

func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	if log == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		fields := []interface{}{
			"method", strings.ToUpper(c.Request.Method),
			"route", route,
			"status", status,
			"bytes", max(c.Writer.Size(), 0),
			"client_ip", c.ClientIP(),
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if id := c.Param("id"); id != "" {
			fields = append(fields, "report_id", id)
		}
		fields = append(fields, ctxutil.RequestFrom(c.Request.Context()).LogFields()...)
		if len(c.Errors) > 0 {
			fields = append(fields, "error", c.Errors.String())
		}

		switch requestLevel(route, status) {
		case zapcore.ErrorLevel:
			log.Error("HTTP request", fields...)
		case zapcore.WarnLevel:
			log.Warn("HTTP request", fields...)
		case zapcore.DebugLevel:
			log.Debug("HTTP request", fields...)
		default:
			log.Info("HTTP request", fields...)
		}
	}
}

func requestLevel(route string, status int) zapcore.Level {
	switch {
	case status >= 500:
		return zapcore.ErrorLevel
	case status >= 400:
		return zapcore.WarnLevel
	case quietRoutes[route]:
		return zapcore.DebugLevel
	}
	return zapcore.InfoLevel
}
