package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/yungbote/labreport-backend/internal/pkg/logger"
)

// Starter dispatches ingestion workflows.
type Starter struct {
	log                *logger.Logger
	client             temporalsdkclient.Client
	taskQueue          string
	extractMaxAttempts int32
	stepTimeout        time.Duration
}

func NewStarter(log *logger.Logger, c temporalsdkclient.Client, taskQueue string, extractMaxAttempts int, stepTimeout time.Duration) *Starter {
	return &Starter{
		log:                log.With("component", "IngestWorkflowStarter"),
		client:             c,
		taskQueue:          taskQueue,
		extractMaxAttempts: int32(extractMaxAttempts),
		stepTimeout:        stepTimeout,
	}
}

// Dispatch starts the workflow for reportID. A workflow already running or
// completed for the same id counts as dispatched, so redelivery is harmless.
func (s *Starter) Dispatch(ctx context.Context, reportID uuid.UUID) error {
	opts := temporalsdkclient.StartWorkflowOptions{
		ID:                    reportID.String(),
		TaskQueue:             s.taskQueue,
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE_FAILED_ONLY,
	}
	in := Input{
		ReportID:           reportID.String(),
		ExtractMaxAttempts: s.extractMaxAttempts,
		StepTimeout:        s.stepTimeout,
	}
	run, err := s.client.ExecuteWorkflow(ctx, opts, WorkflowName, in)
	if err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &started) {
			s.log.Debug("Ingest workflow already started", "report_id", reportID)
			return nil
		}
		return fmt.Errorf("start ingest workflow %s: %w", reportID, err)
	}
	s.log.Info("Ingest workflow started", "report_id", reportID, "run_id", run.GetRunID())
	return nil
}
