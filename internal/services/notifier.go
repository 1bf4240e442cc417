package services

import (
	"context"

	"github.com/yungbote/labreport-backend/internal/domain/labs"
	"github.com/yungbote/labreport-backend/internal/pkg/logger"
	"github.com/yungbote/labreport-backend/internal/realtime"
	"github.com/yungbote/labreport-backend/internal/realtime/bus"
)

// StatusNotifier publishes every status change on the realtime bus.
type StatusNotifier struct {
	log *logger.Logger
	bus bus.Bus
}

func NewStatusNotifier(baseLog *logger.Logger, b bus.Bus) *StatusNotifier {
	return &StatusNotifier{log: baseLog.With("service", "StatusNotifier"), bus: b}
}

func (n *StatusNotifier) StatusChanged(ctx context.Context, r *labs.LabReport) {
	if n == nil || n.bus == nil || r == nil {
		return
	}
	if err := n.bus.Publish(ctx, realtime.EventFromReport(r)); err != nil {
		n.log.Warn("Failed to publish status change", "report_id", r.ID, "status", r.Status, "error", err)
	}
}
