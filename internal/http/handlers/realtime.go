package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/labreport-backend/internal/http/middleware"
	"github.com/yungbote/labreport-backend/internal/http/response"
	"github.com/yungbote/labreport-backend/internal/pkg/logger"
	"github.com/yungbote/labreport-backend/internal/realtime"
	"github.com/yungbote/labreport-backend/internal/services"
)

type RealtimeHandler struct {
	log    *logger.Logger
	hub    *realtime.Hub
	ingest services.IngestService
}

func NewRealtimeHandler(log *logger.Logger, hub *realtime.Hub, ingest services.IngestService) *RealtimeHandler {
	return &RealtimeHandler{log: log.With("handler", "RealtimeHandler"), hub: hub, ingest: ingest}
}

// GET /api/lab-reports/:id/events
//
// Streams status changes for one run as server-sent events. The current status
// is sent first and the stream ends after a terminal status.
func (h *RealtimeHandler) ReportEvents(c *gin.Context) {
	reportID, ok := reportIDParam(c)
	if !ok {
		return
	}
	// Subscribe before reading so a change between the read and the
	// subscription is not lost.
	client := h.hub.NewClient(realtime.ReportChannel(reportID))
	defer h.hub.CloseClient(client)

	report, err := h.ingest.Get(c.Request.Context(), reportID, middleware.OwnerID(c))
	if err != nil {
		response.RespondServiceError(c, "events_failed", err)
		return
	}
	client.Current(report)
	h.log.Debug("Status stream open", "report_id", reportID, "client_id", client.ID)
	h.hub.Serve(c.Writer, c.Request, client, true)
}
