package temporalworker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/activity"
	temporalsdkclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/yungbote/labreport-backend/internal/ingestion/pipeline"
	"github.com/yungbote/labreport-backend/internal/pkg/httpx"
	"github.com/yungbote/labreport-backend/internal/pkg/logger"
	"github.com/yungbote/labreport-backend/internal/temporalx"
	"github.com/yungbote/labreport-backend/internal/temporalx/ingest"
)

const (
	startMaxWait    = 60 * time.Second
	startBackoff    = 250 * time.Millisecond
	startBackoffMax = 5 * time.Second
)

// Registrar is the part of worker.Worker used to register ingestion code.
type Registrar interface {
	RegisterWorkflowWithOptions(w interface{}, options workflow.RegisterOptions)
	RegisterActivityWithOptions(a interface{}, options activity.RegisterOptions)
}

// Register binds the ingestion workflow and its activities to r.
func Register(r Registrar, acts *ingest.Activities) {
	r.RegisterWorkflowWithOptions(ingest.Workflow, workflow.RegisterOptions{Name: ingest.WorkflowName})
	r.RegisterActivityWithOptions(acts.ConfirmUpload, activity.RegisterOptions{Name: ingest.ActivityConfirmUpload})
	r.RegisterActivityWithOptions(acts.Extract, activity.RegisterOptions{Name: ingest.ActivityExtract})
	r.RegisterActivityWithOptions(acts.Persist, activity.RegisterOptions{Name: ingest.ActivityPersist})
	r.RegisterActivityWithOptions(acts.Finalize, activity.RegisterOptions{Name: ingest.ActivityFinalize})
	r.RegisterActivityWithOptions(acts.Fail, activity.RegisterOptions{Name: ingest.ActivityFail})
}

type Runner struct {
	log   *logger.Logger
	tc    temporalsdkclient.Client
	cfg   temporalx.Config
	steps *pipeline.Steps
}

func NewRunner(log *logger.Logger, tc temporalsdkclient.Client, cfg temporalx.Config, steps *pipeline.Steps) (*Runner, error) {
	if tc == nil {
		return nil, fmt.Errorf("temporal client is not configured")
	}
	if steps == nil {
		return nil, fmt.Errorf("temporal worker missing ingestion steps")
	}
	return &Runner{
		log:   log.With("component", "TemporalWorker"),
		tc:    tc,
		cfg:   cfg.WithDefaults(),
		steps: steps,
	}, nil
}

// Start polls the task queue until ctx is done. Startup failures are retried
// for up to a minute so the worker can come up before the cluster does.
func (r *Runner) Start(ctx context.Context) error {
	r.log.Info("Starting Temporal worker", "address", r.cfg.Address, "namespace", r.cfg.Namespace, "task_queue", r.cfg.TaskQueue)

	deadline := time.Now().Add(startMaxWait)
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		w := r.newWorker()
		startErr := w.Start()
		if startErr == nil {
			go func() {
				<-ctx.Done()
				w.Stop()
			}()
			r.log.Info("Temporal worker started", "task_queue", r.cfg.TaskQueue, "attempts", attempt)
			return nil
		}
		w.Stop()

		var nfe *serviceerror.NamespaceNotFound
		notFound := errors.As(startErr, &nfe)
		if notFound && r.cfg.AutoRegister {
			if err := temporalx.EnsureNamespace(ctx, r.log, r.cfg); err != nil {
				r.log.Warn("Temporal namespace ensure failed", "namespace", r.cfg.Namespace, "error", err)
			}
		}
		if time.Now().After(deadline) {
			if notFound {
				return fmt.Errorf("temporal namespace not found (namespace=%s): %w", r.cfg.Namespace, startErr)
			}
			return startErr
		}

		r.log.Warn("Temporal worker failed to start; retrying", "attempt", attempt, "error", startErr)
		if err := httpx.SleepContext(ctx, httpx.Backoff(startBackoff, startBackoffMax, attempt)); err != nil {
			return err
		}
	}
}

func (r *Runner) newWorker() worker.Worker {
	w := worker.New(r.tc, r.cfg.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     r.cfg.WorkerConcurrency,
		MaxConcurrentWorkflowTaskExecutionSize: r.cfg.WorkerConcurrency,
	})
	Register(w, &ingest.Activities{Log: r.log, Steps: r.steps})
	return w
}
