// Package persist writes a validated extraction into the patient, report,
// panel and result tables.
package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/labreport-backend/internal/data/repos"
	"github.com/yungbote/labreport-backend/internal/domain/labs"
	"github.com/yungbote/labreport-backend/internal/ingestion/ingesterr"
	"github.com/yungbote/labreport-backend/internal/pkg/dbctx"
	"github.com/yungbote/labreport-backend/internal/pkg/logger"
)

type Input struct {
	ReportID uuid.UUID
	OwnerID  uuid.UUID
	Report   *labs.ExtractedReport
	// Raw is stored as the audit payload when the run has none yet.
	Raw json.RawMessage
}

type Result struct {
	ReportID       uuid.UUID
	PatientID      *uuid.UUID
	PatientCreated bool
	Panels         int
	Results        int
	// AlreadyPersisted is set when an earlier attempt committed this run.
	AlreadyPersisted bool
}

type Engine struct {
	db    *gorm.DB
	log   *logger.Logger
	repos repos.Set
	now   func() time.Time
}

func NewEngine(db *gorm.DB, log *logger.Logger, set repos.Set) *Engine {
	return &Engine{
		db:    db,
		log:   log.With("service", "PersistenceEngine"),
		repos: set,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Persist commits the entity graph for one run in a single transaction.
// A second call for the same report id returns the stored ids without writing.
// Failures are *ingesterr.PersistenceError and are not retried here.
func (e *Engine) Persist(ctx context.Context, in Input) (*Result, error) {
	if in.ReportID == uuid.Nil || in.Report == nil {
		return nil, ingesterr.Persistence("validate input", errors.New("report id and extraction are required"))
	}

	var out *Result
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}

		report, err := e.lockReport(dbc, in)
		if err != nil {
			return err
		}
		if report.PersistedAt != nil {
			out = &Result{ReportID: report.ID, PatientID: report.PatientID, AlreadyPersisted: true}
			return nil
		}
		if report.Status.IsTerminal() {
			return ingesterr.Persistence("lock report", fmt.Errorf("%w: status %s", labs.ErrTerminal, report.Status))
		}
		if in.OwnerID != uuid.Nil && report.OwnerID != in.OwnerID {
			return ingesterr.Persistence("lock report", fmt.Errorf("owner mismatch for report %s", report.ID))
		}

		patient, created, err := e.resolvePatient(dbc, report.ID, in.Report.Patient)
		if err != nil {
			return ingesterr.Persistence("resolve patient", err)
		}

		panels := buildPanels(report.ID, in.Report)
		if err := e.repos.Panels.CreateWithResults(dbc, panels); err != nil {
			return ingesterr.Persistence("insert panels", err)
		}

		updates, err := e.reportUpdates(report, patient.ID, in)
		if err != nil {
			return ingesterr.Persistence("encode report", err)
		}
		ok, err := e.repos.LabReports.UpdateFieldsUnlessTerminal(dbc, report.ID, updates)
		if err != nil {
			return ingesterr.Persistence("update report", err)
		}
		if !ok {
			return ingesterr.Persistence("update report", labs.ErrTerminal)
		}

		pid := patient.ID
		out = &Result{
			ReportID:       report.ID,
			PatientID:      &pid,
			PatientCreated: created,
			Panels:         len(panels),
			Results:        in.Report.ResultCount(),
		}
		return nil
	})
	if err != nil {
		return nil, ingesterr.Persistence("commit", err)
	}

	if out.AlreadyPersisted {
		e.log.Info("Report already persisted; skipping", "report_id", out.ReportID)
	} else {
		e.log.Info("Report persisted",
			"report_id", out.ReportID,
			"patient_id", out.PatientID,
			"panels", out.Panels,
			"results", out.Results,
		)
	}
	return out, nil
}

// lockReport row-locks the run, creating it in processing when the caller
// never pre-created one.
func (e *Engine) lockReport(dbc dbctx.Context, in Input) (*labs.LabReport, error) {
	report, err := e.repos.LabReports.GetByIDForUpdate(dbc, in.ReportID)
	if err == nil {
		return report, nil
	}
	if !errors.Is(err, labs.ErrNotFound) {
		return nil, ingesterr.Persistence("lock report", err)
	}
	if in.OwnerID == uuid.Nil {
		return nil, ingesterr.Persistence("create report", errors.New("owner id required for a new report"))
	}
	if _, _, err := e.repos.LabReports.CreateIfAbsent(dbc, &labs.LabReport{
		ID:      in.ReportID,
		OwnerID: in.OwnerID,
		Source:  labs.SourceAI,
		Status:  labs.StatusProcessing,
		Stage:   labs.StagePersist,
	}); err != nil {
		return nil, ingesterr.Persistence("create report", err)
	}
	report, err = e.repos.LabReports.GetByIDForUpdate(dbc, in.ReportID)
	if err != nil {
		return nil, ingesterr.Persistence("lock report", err)
	}
	return report, nil
}

func (e *Engine) resolvePatient(dbc dbctx.Context, reportID uuid.UUID, ep labs.ExtractedPatient) (*labs.Patient, bool, error) {
	candidate := &labs.Patient{
		IdentityKey: IdentityKey(ep.Name, ep.DateOfBirth, ep.Sex),
		Name:        normalizeField(ep.Name),
		ExternalID:  normalizeField(ep.PatientID),
		DateOfBirth: normalizeField(ep.DateOfBirth),
		Sex:         normalizeField(ep.Sex),
	}
	if ep.Age != nil {
		candidate.Age = ep.Age.String()
	}

	patient, created, err := e.repos.Patients.FindOrCreate(dbc, candidate)
	if err != nil {
		return nil, false, err
	}

	// Identity ambiguity is logged for review, never fatal.
	switch {
	case candidate.DateOfBirth == "" || candidate.Sex == "":
		e.log.Warn("Patient identity ambiguous: incomplete identity fields",
			"report_id", reportID,
			"patient_id", patient.ID,
			"patient_name", candidate.Name,
			"has_dob", candidate.DateOfBirth != "",
			"has_sex", candidate.Sex != "",
		)
	case created:
		e.log.Warn("Patient identity ambiguous: no existing match, created new patient",
			"report_id", reportID,
			"patient_id", patient.ID,
			"patient_name", candidate.Name,
		)
	}
	return patient, created, nil
}

func buildPanels(reportID uuid.UUID, r *labs.ExtractedReport) []*labs.Panel {
	collected := labs.ParseReportTime(r.ReportMetadata.Collected)
	panels := make([]*labs.Panel, 0, len(r.Panels))
	for i, ep := range r.Panels {
		reportedAt := labs.ParseReportTime(ep.ReportedAt)
		labName := ep.LabName
		if labName == "" {
			labName = r.ReportMetadata.LabName
		}
		effective := collected
		if effective == nil {
			effective = reportedAt
		}

		panel := &labs.Panel{
			ID:         uuid.New(),
			ReportID:   reportID,
			Position:   i,
			Name:       ep.Name,
			ReportedAt: reportedAt,
			LabName:    labName,
			Status:     ep.Status,
			Results:    make([]labs.TestResult, 0, len(ep.Results)),
		}
		for j, er := range ep.Results {
			panel.Results = append(panel.Results, labs.TestResult{
				Position:       j,
				TestName:       er.Test,
				Value:          er.Result,
				Units:          er.Units,
				Flag:           er.Flag,
				ReferenceRange: er.ReferenceRange,
				IsCalculated:   IsCalculated(er.Result),
				Note:           er.Note,
				EffectiveAt:    effective,
			})
		}
		panels = append(panels, panel)
	}
	return panels
}

func (e *Engine) reportUpdates(report *labs.LabReport, patientID uuid.UUID, in Input) (map[string]interface{}, error) {
	meta, err := json.Marshal(in.Report.ReportMetadata)
	if err != nil {
		return nil, err
	}
	updates := map[string]interface{}{
		"patient_id":   patientID,
		"report_date":  labs.ParseReportTime(in.Report.ReportMetadata.Collected),
		"metadata":     datatypes.JSON(meta),
		"persisted_at": e.now(),
		"stage":        string(labs.StagePersist),
	}
	if len(report.RawPayload) == 0 {
		raw := in.Raw
		if len(raw) == 0 {
			if raw, err = json.Marshal(in.Report); err != nil {
				return nil, err
			}
		}
		updates["raw_payload"] = datatypes.JSON(raw)
	}
	return updates, nil
}
