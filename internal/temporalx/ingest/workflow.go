package ingest

import (
	"errors"
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/yungbote/labreport-backend/internal/domain/labs"
	"github.com/yungbote/labreport-backend/internal/ingestion/ingesterr"
	"github.com/yungbote/labreport-backend/internal/ingestion/pipeline"
)

const (
	defaultExtractAttempts = 3
	defaultStepTimeout     = 10 * time.Minute
	commitAttempts         = 5
)

// Workflow sequences confirm upload, extract, persist and finalize. Activity
// results are recorded in history and on the lab_report row, so a replay or a
// restarted worker never repeats a step that already succeeded.
func Workflow(ctx workflow.Context, in Input) (Result, error) {
	reportID := in.ReportID
	if reportID == "" {
		reportID = workflow.GetInfo(ctx).WorkflowExecution.ID
	}
	res := Result{ReportID: reportID, Status: string(labs.StatusProcessing)}
	log := workflow.GetLogger(ctx)

	attempts := in.ExtractMaxAttempts
	if attempts < 1 {
		attempts = defaultExtractAttempts
	}
	timeout := in.StepTimeout
	if timeout <= 0 {
		timeout = defaultStepTimeout
	}

	nonRetryable := []string{string(ingesterr.KindPersistence), string(ingesterr.KindInternal), ErrTypeTerminal}
	retrying := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		HeartbeatTimeout:    30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        2 * time.Second,
			BackoffCoefficient:     2,
			MaximumInterval:        30 * time.Second,
			MaximumAttempts:        attempts,
			NonRetryableErrorTypes: nonRetryable,
		},
	})
	// Persist is run-once per report and Finalize is idempotent, so a timed-out
	// attempt (worker crash, lost heartbeat) is retried. Persistence errors are not.
	committing := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		HeartbeatTimeout:    30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        time.Second,
			BackoffCoefficient:     2,
			MaximumInterval:        time.Minute,
			MaximumAttempts:        commitAttempts,
			NonRetryableErrorTypes: nonRetryable,
		},
	})

	if err := workflow.ExecuteActivity(retrying, ActivityConfirmUpload, reportID).Get(ctx, nil); err != nil {
		return fail(ctx, res, labs.StageConfirmUpload, err)
	}

	var extracted pipeline.ExtractOutcome
	if err := workflow.ExecuteActivity(retrying, ActivityExtract, reportID).Get(ctx, &extracted); err != nil {
		return fail(ctx, res, labs.StageExtract, err)
	}
	log.Info("Extraction ready", "report_id", reportID, "panels", extracted.Panels, "cached", extracted.Cached)

	var persisted PersistOutcome
	if err := workflow.ExecuteActivity(committing, ActivityPersist, reportID).Get(ctx, &persisted); err != nil {
		return fail(ctx, res, labs.StagePersist, err)
	}
	if err := workflow.ExecuteActivity(committing, ActivityFinalize, reportID).Get(ctx, nil); err != nil {
		return fail(ctx, res, labs.StageFinalize, err)
	}

	res.Status = string(labs.StatusCompleted)
	res.Panels = persisted.Panels
	res.Results = persisted.Results
	return res, nil
}

// fail records an unrecoverable step error on the run. A step that found the
// run already terminal ends the workflow cleanly, as does a run the failure
// activity completed because its results were already committed.
func fail(ctx workflow.Context, res Result, stage labs.Stage, stepErr error) (Result, error) {
	kind, msg := describe(stepErr)
	if kind == ErrTypeTerminal {
		res.Status = "terminal"
		return res, nil
	}

	failCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    10,
		},
	})
	in := FailInput{
		ReportID: res.ReportID,
		Stage:    string(stage),
		Kind:     kind,
		Message:  fmt.Sprintf("%s failed (%s): %s", stage, kind, msg),
	}
	var settled string
	if err := workflow.ExecuteActivity(failCtx, ActivityFail, in).Get(ctx, &settled); err != nil {
		return res, err
	}
	if settled == string(labs.StatusCompleted) {
		workflow.GetLogger(ctx).Warn("Run completed despite step failure", "report_id", res.ReportID, "stage", stage, "error", msg)
		res.Status = settled
		return res, nil
	}
	res.Status = string(labs.StatusError)
	return res, temporal.NewNonRetryableApplicationError(in.Message, kind, nil)
}

// describe recovers the failure kind and text from an activity error.
func describe(err error) (kind, msg string) {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		kind = appErr.Type()
		if kind != ErrTypeTerminal && !knownKind(kind) {
			kind = string(ingesterr.KindInternal)
		}
		return kind, appErr.Message()
	}
	var timeoutErr *temporal.TimeoutError
	if errors.As(err, &timeoutErr) {
		return string(ingesterr.KindTransientIO), "step timed out: " + timeoutErr.Error()
	}
	return string(ingesterr.KindInternal), err.Error()
}

func knownKind(k string) bool {
	switch ingesterr.Kind(k) {
	case ingesterr.KindTransientIO, ingesterr.KindMalformedExtraction, ingesterr.KindPersistence, ingesterr.KindInternal:
		return true
	}
	return false
}
