package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/labreport-backend/internal/http/handlers"
	httpMW "github.com/yungbote/labreport-backend/internal/http/middleware"
	"github.com/yungbote/labreport-backend/internal/pkg/logger"
)

type RouterConfig struct {
	Log         *logger.Logger
	ServiceName string
	CORSOrigins []string

	HealthHandler    *httpH.HealthHandler
	LabReportHandler *httpH.LabReportHandler
	RealtimeHandler  *httpH.RealtimeHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.RequestContext())
	r.Use(httpMW.CORS(cfg.CORSOrigins))
	r.Use(httpMW.RequestLogger(cfg.Log))

	if cfg.HealthHandler != nil {
		r.GET("/healthz", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")
	api.Use(httpMW.Owner())
	{
		if cfg.LabReportHandler != nil {
			api.POST("/lab-reports", cfg.LabReportHandler.Create)
			api.GET("/lab-reports/:id", cfg.LabReportHandler.Get)
			api.GET("/lab-reports/:id/status", cfg.LabReportHandler.GetStatus)
			api.DELETE("/lab-reports/:id", cfg.LabReportHandler.Delete)
		}
		if cfg.RealtimeHandler != nil {
			api.GET("/lab-reports/:id/events", cfg.RealtimeHandler.ReportEvents)
		}
	}

	return r
}
