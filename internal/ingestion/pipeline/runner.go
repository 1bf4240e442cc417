package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	"github.com/yungbote/labreport-backend/internal/domain/labs"
	"github.com/yungbote/labreport-backend/internal/ingestion/ingesterr"
	"github.com/yungbote/labreport-backend/internal/observability"
	"github.com/yungbote/labreport-backend/internal/pkg/httpx"
	"github.com/yungbote/labreport-backend/internal/pkg/logger"
)

type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 2 * time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	return p
}

// Runner drives one run through every step in-process. It is the orchestrator
// used when no Temporal cluster is configured.
type Runner struct {
	steps  *Steps
	log    *logger.Logger
	policy RetryPolicy
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewRunner(steps *Steps, log *logger.Logger, policy RetryPolicy) *Runner {
	return &Runner{
		steps:  steps,
		log:    log.With("component", "IngestionRunner"),
		policy: policy.withDefaults(),
		sleep:  httpx.SleepContext,
	}
}

// Run executes the remaining steps for id. It returns nil once the run is
// terminal, including when it was failed. A non-nil error means the run was
// left non-terminal (context canceled or the failure could not be recorded)
// and may be resumed later.
func (r *Runner) Run(ctx context.Context, id uuid.UUID) (err error) {
	log := r.log.With("report_id", id)
	ctx, span := observability.StartSpan(ctx, "labreport.ingest", id.String())
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := r.retry(ctx, log, labs.StageConfirmUpload, func() error {
		return r.steps.ConfirmUpload(ctx, id)
	}); err != nil {
		return r.finish(ctx, id, labs.StageConfirmUpload, err)
	}
	if err := r.retry(ctx, log, labs.StageExtract, func() error {
		_, err := r.steps.Extract(ctx, id)
		return err
	}); err != nil {
		return r.finish(ctx, id, labs.StageExtract, err)
	}
	// Persistence failures are not retried.
	if _, err := r.steps.Persist(ctx, id); err != nil {
		return r.finish(ctx, id, labs.StagePersist, err)
	}
	if err := r.steps.Finalize(ctx, id); err != nil {
		return r.finish(ctx, id, labs.StageFinalize, err)
	}
	return nil
}

func (r *Runner) retry(ctx context.Context, log *logger.Logger, stage labs.Stage, fn func() error) error {
	var err error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || errors.Is(err, labs.ErrTerminal) || !ingesterr.Classify(err).Retryable() {
			return err
		}
		if attempt == r.policy.MaxAttempts {
			break
		}
		delay := httpx.JitterSleep(httpx.Backoff(r.policy.BaseDelay, r.policy.MaxDelay, attempt))
		log.Warn("Step failed; retrying",
			"stage", stage,
			"attempt", attempt,
			"max_attempts", r.policy.MaxAttempts,
			"delay", delay.String(),
			"error", err.Error(),
		)
		if sleepErr := r.sleep(ctx, delay); sleepErr != nil {
			return sleepErr
		}
	}
	return err
}

func (r *Runner) finish(ctx context.Context, id uuid.UUID, stage labs.Stage, err error) error {
	if errors.Is(err, labs.ErrTerminal) {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if failErr := r.steps.Fail(ctx, id, stage, err); failErr != nil {
		r.log.Error("Could not record run failure", "report_id", id, "stage", stage, "error", failErr.Error())
		return failErr
	}
	return nil
}
