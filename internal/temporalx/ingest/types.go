// Package ingest is the Temporal driver for lab report ingestion runs. The
// workflow ID is the report id, so one run maps to one workflow.
package ingest

import "time"

const (
	WorkflowName = "lab_report_ingest"

	ActivityConfirmUpload = "ingest_confirm_upload"
	ActivityExtract       = "ingest_extract"
	ActivityPersist       = "ingest_persist"
	ActivityFinalize      = "ingest_finalize"
	ActivityFail          = "ingest_fail"

	// ErrTypeTerminal marks an activity that found its run already finished.
	ErrTypeTerminal = "terminal"
)

type Input struct {
	ReportID           string        `json:"report_id"`
	ExtractMaxAttempts int32         `json:"extract_max_attempts,omitempty"`
	StepTimeout        time.Duration `json:"step_timeout,omitempty"`
}

type Result struct {
	ReportID string `json:"report_id"`
	Status   string `json:"status"`
	Panels   int    `json:"panels,omitempty"`
	Results  int    `json:"results,omitempty"`
}

type PersistOutcome struct {
	PatientID        string `json:"patient_id,omitempty"`
	Panels           int    `json:"panels"`
	Results          int    `json:"results"`
	AlreadyPersisted bool   `json:"already_persisted"`
}

type FailInput struct {
	ReportID string `json:"report_id"`
	Stage    string `json:"stage"`
	Kind     string `json:"kind"`
	Message  string `json:"message"`
}
