// Package realtime pushes lab report status changes to connected clients.
package realtime

import (
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/labreport-backend/internal/domain/labs"
)

const EventStatusChanged = "LabReportStatusChanged"

type StatusEvent struct {
	ReportID        uuid.UUID   `json:"report_id"`
	OwnerID         uuid.UUID   `json:"owner_id"`
	Status          labs.Status `json:"status"`
	Stage           labs.Stage  `json:"stage,omitempty"`
	TerminalMessage string      `json:"terminal_message,omitempty"`
	At              time.Time   `json:"at"`
}

func EventFromReport(r *labs.LabReport) StatusEvent {
	ev := StatusEvent{
		ReportID: r.ID,
		OwnerID:  r.OwnerID,
		Status:   r.Status,
		Stage:    r.Stage,
		At:       time.Now().UTC(),
	}
	if r.Status == labs.StatusError {
		ev.TerminalMessage = r.ErrorMessage
	}
	return ev
}

// ReportChannel and OwnerChannel name the hub channels an event is fanned out to.
func ReportChannel(id uuid.UUID) string { return "report:" + id.String() }

func OwnerChannel(id uuid.UUID) string { return "owner:" + id.String() }
