// Package status is the read model clients poll for ingestion progress.
package status

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/labreport-backend/internal/data/repos"
	"github.com/yungbote/labreport-backend/internal/domain/labs"
	"github.com/yungbote/labreport-backend/internal/pkg/dbctx"
	"github.com/yungbote/labreport-backend/internal/pkg/logger"
)

type View struct {
	ReportID        uuid.UUID   `json:"report_id"`
	Status          labs.Status `json:"status"`
	Stage           labs.Stage  `json:"stage,omitempty"`
	TerminalMessage string      `json:"terminal_message,omitempty"`
	ErrorKind       string      `json:"error_kind,omitempty"`
	UpdatedAt       time.Time   `json:"updated_at"`
	CompletedAt     *time.Time  `json:"completed_at,omitempty"`
	FailedAt        *time.Time  `json:"failed_at,omitempty"`
}

func (v View) Terminal() bool { return v.Status.IsTerminal() }

// Source is anything that can answer a status read.
type Source interface {
	GetStatus(ctx context.Context, reportID, ownerID uuid.UUID) (*View, error)
}

type Projection struct {
	log     *logger.Logger
	reports repos.LabReportRepo
}

func NewProjection(log *logger.Logger, reports repos.LabReportRepo) *Projection {
	return &Projection{
		log:     log.With("service", "StatusProjection"),
		reports: reports,
	}
}

// GetStatus reads the current status of a run. When ownerID is set a run owned
// by someone else is reported as labs.ErrNotFound.
func (p *Projection) GetStatus(ctx context.Context, reportID, ownerID uuid.UUID) (*View, error) {
	report, err := p.reports.GetByID(dbctx.Context{Ctx: ctx}, reportID)
	if err != nil {
		return nil, err
	}
	if ownerID != uuid.Nil && report.OwnerID != ownerID {
		return nil, labs.ErrNotFound
	}
	return ViewOf(report), nil
}

func ViewOf(r *labs.LabReport) *View {
	v := &View{
		ReportID:    r.ID,
		Status:      r.Status,
		Stage:       r.Stage,
		UpdatedAt:   r.UpdatedAt,
		CompletedAt: r.CompletedAt,
		FailedAt:    r.FailedAt,
	}
	if r.Status == labs.StatusError {
		v.TerminalMessage = r.ErrorMessage
		v.ErrorKind = r.ErrorKind
	}
	return v
}
