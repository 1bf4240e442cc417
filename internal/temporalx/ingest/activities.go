package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/yungbote/labreport-backend/internal/domain/labs"
	"github.com/yungbote/labreport-backend/internal/ingestion/ingesterr"
	"github.com/yungbote/labreport-backend/internal/ingestion/pipeline"
	"github.com/yungbote/labreport-backend/internal/pkg/logger"
)

const heartbeatEvery = 10 * time.Second

type Activities struct {
	Log   *logger.Logger
	Steps *pipeline.Steps
}

func (a *Activities) ConfirmUpload(ctx context.Context, reportID string) error {
	id, err := parseID(reportID)
	if err != nil {
		return err
	}
	return toApplicationError(a.Steps.ConfirmUpload(ctx, id))
}

func (a *Activities) Extract(ctx context.Context, reportID string) (pipeline.ExtractOutcome, error) {
	id, err := parseID(reportID)
	if err != nil {
		return pipeline.ExtractOutcome{}, err
	}
	stop := startHeartbeat(ctx)
	defer stop()

	out, err := a.Steps.Extract(ctx, id)
	if err != nil {
		return pipeline.ExtractOutcome{}, toApplicationError(err)
	}
	return *out, nil
}

func (a *Activities) Persist(ctx context.Context, reportID string) (PersistOutcome, error) {
	id, err := parseID(reportID)
	if err != nil {
		return PersistOutcome{}, err
	}
	stop := startHeartbeat(ctx)
	defer stop()

	res, err := a.Steps.Persist(ctx, id)
	if err != nil {
		return PersistOutcome{}, toApplicationError(err)
	}
	out := PersistOutcome{Panels: res.Panels, Results: res.Results, AlreadyPersisted: res.AlreadyPersisted}
	if res.PatientID != nil {
		out.PatientID = res.PatientID.String()
	}
	return out, nil
}

func (a *Activities) Finalize(ctx context.Context, reportID string) error {
	id, err := parseID(reportID)
	if err != nil {
		return err
	}
	return toApplicationError(a.Steps.Finalize(ctx, id))
}

// Fail records the failure and reports the status the run settled in, which
// is completed when the results were already committed.
func (a *Activities) Fail(ctx context.Context, in FailInput) (string, error) {
	id, err := parseID(in.ReportID)
	if err != nil {
		return "", err
	}
	status, err := a.Steps.FailWithMessage(ctx, id, labs.Stage(in.Stage), ingesterr.Kind(in.Kind), in.Message)
	return string(status), err
}

func parseID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("invalid report id %q", raw), string(ingesterr.KindInternal), err)
	}
	return id, nil
}

// toApplicationError tags err with its kind so the workflow retry policy can
// tell retryable failures apart.
func toApplicationError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, labs.ErrTerminal) {
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeTerminal, err)
	}
	kind := ingesterr.Classify(err)
	if kind.Retryable() {
		return temporal.NewApplicationError(err.Error(), string(kind), err)
	}
	return temporal.NewNonRetryableApplicationError(err.Error(), string(kind), err)
}

func startHeartbeat(ctx context.Context) func() {
	if !activity.IsActivity(ctx) {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(heartbeatEvery)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				activity.RecordHeartbeat(ctx)
			}
		}
	}()
	return func() { close(done) }
}
