package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/labreport-backend/internal/pkg/ctxutil"
)

const (
	headerTraceID   = "X-Trace-Id"
	headerRequestID = "X-Request-Id"
)

// RequestContext stamps every request with a request id and a trace id. An
// active OpenTelemetry span wins over a client-supplied trace id.
func RequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		req := &ctxutil.Request{RequestID: strings.TrimSpace(c.GetHeader(headerRequestID))}
		if req.RequestID == "" {
			req.RequestID = uuid.NewString()
		}
		if sc := trace.SpanContextFromContext(c.Request.Context()); sc.HasTraceID() {
			req.TraceID = sc.TraceID().String()
		} else if req.TraceID = strings.TrimSpace(c.GetHeader(headerTraceID)); req.TraceID == "" {
			req.TraceID = req.RequestID
		}

		c.Request = c.Request.WithContext(ctxutil.WithRequest(c.Request.Context(), req))
		c.Header(headerTraceID, req.TraceID)
		c.Header(headerRequestID, req.RequestID)
		c.Next()
	}
}
