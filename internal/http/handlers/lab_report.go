package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/labreport-backend/internal/http/middleware"
	"github.com/yungbote/labreport-backend/internal/http/response"
	"github.com/yungbote/labreport-backend/internal/ingestion/status"
	"github.com/yungbote/labreport-backend/internal/services"
)

const maxWaitSeconds = 30

type LabReportHandler struct {
	ingest       services.IngestService
	status       status.Source
	pollInterval time.Duration
}

func NewLabReportHandler(ingest services.IngestService, src status.Source) *LabReportHandler {
	return &LabReportHandler{ingest: ingest, status: src, pollInterval: time.Second}
}

type createLabReportRequest struct {
	ReportID         string `json:"reportId"`
	FilePath         string `json:"filePathInBucket"`
	OriginalFileName string `json:"originalFileName"`
	ContentType      string `json:"contentType"`
	OwnerID          string `json:"ownerId"`
}

// POST /api/lab-reports
func (h *LabReportHandler) Create(c *gin.Context) {
	var body createLabReportRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	reportID := uuid.New()
	if body.ReportID != "" {
		id, err := uuid.Parse(body.ReportID)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_report_id", err)
			return
		}
		reportID = id
	}
	ownerID := middleware.OwnerID(c)
	if body.OwnerID != "" {
		id, err := uuid.Parse(body.OwnerID)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_owner_id", err)
			return
		}
		ownerID = id
	}

	report, created, err := h.ingest.Start(c.Request.Context(), services.StartRequest{
		ReportID:         reportID,
		OwnerID:          ownerID,
		FilePath:         body.FilePath,
		OriginalFileName: body.OriginalFileName,
		ContentType:      body.ContentType,
	})
	if err != nil && report == nil {
		response.RespondServiceError(c, "start_failed", err)
		return
	}
	// A run that was recorded but not dispatched is still accepted; resume
	// dispatches it.
	response.RespondAccepted(c, gin.H{"report": status.ViewOf(report), "created": created})
}

// GET /api/lab-reports/:id/status
//
// ?wait=N blocks for up to N seconds (max 30) until the run is terminal.
func (h *LabReportHandler) GetStatus(c *gin.Context) {
	reportID, ok := reportIDParam(c)
	if !ok {
		return
	}
	ownerID := middleware.OwnerID(c)

	wait, _ := strconv.Atoi(c.Query("wait"))
	if wait <= 0 {
		view, err := h.status.GetStatus(c.Request.Context(), reportID, ownerID)
		if err != nil {
			response.RespondServiceError(c, "status_failed", err)
			return
		}
		response.RespondOK(c, gin.H{"status": view})
		return
	}
	if wait > maxWaitSeconds {
		wait = maxWaitSeconds
	}
	iterations := int(time.Duration(wait) * time.Second / h.pollInterval)
	poller := status.NewPoller(h.status, status.WithInterval(h.pollInterval), status.WithMaxIterations(iterations+1))
	view, err := poller.WaitForTerminal(c.Request.Context(), reportID, ownerID, nil)
	if err != nil && !errors.Is(err, status.ErrPollExhausted) {
		response.RespondServiceError(c, "status_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"status": view})
}

// GET /api/lab-reports/:id
func (h *LabReportHandler) Get(c *gin.Context) {
	reportID, ok := reportIDParam(c)
	if !ok {
		return
	}
	report, err := h.ingest.Get(c.Request.Context(), reportID, middleware.OwnerID(c))
	if err != nil {
		response.RespondServiceError(c, "get_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"report": report})
}

// DELETE /api/lab-reports/:id
func (h *LabReportHandler) Delete(c *gin.Context) {
	reportID, ok := reportIDParam(c)
	if !ok {
		return
	}
	if err := h.ingest.Delete(c.Request.Context(), reportID, middleware.OwnerID(c)); err != nil {
		response.RespondServiceError(c, "delete_failed", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func reportIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_report_id", err)
		return uuid.Nil, false
	}
	return id, true
}
