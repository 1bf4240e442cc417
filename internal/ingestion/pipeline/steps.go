// Package pipeline holds the durable ingestion steps shared by the Temporal
// workflow and the local runner. Every step reads its input from the lab_report
// row and records its outcome there, so any step can be re-run after a crash.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/labreport-backend/internal/data/repos"
	"github.com/yungbote/labreport-backend/internal/domain/labs"
	"github.com/yungbote/labreport-backend/internal/ingestion/extractor"
	"github.com/yungbote/labreport-backend/internal/ingestion/ingesterr"
	"github.com/yungbote/labreport-backend/internal/ingestion/persist"
	"github.com/yungbote/labreport-backend/internal/pkg/dbctx"
	"github.com/yungbote/labreport-backend/internal/pkg/logger"
	"github.com/yungbote/labreport-backend/internal/platform/blobstore"
)

const maxErrorMessage = 1000

type Extractor interface {
	Extract(ctx context.Context, ref extractor.FileRef) (*extractor.Result, error)
}

type Persister interface {
	Persist(ctx context.Context, in persist.Input) (*persist.Result, error)
}

// Notifier is told about every status write that landed.
type Notifier interface {
	StatusChanged(ctx context.Context, report *labs.LabReport)
}

type nopNotifier struct{}

func (nopNotifier) StatusChanged(context.Context, *labs.LabReport) {}

// ExtractOutcome describes the extraction a run will persist.
type ExtractOutcome struct {
	Panels  int  `json:"panels"`
	Results int  `json:"results"`
	Cached  bool `json:"cached"`
}

type Steps struct {
	db        *gorm.DB
	log       *logger.Logger
	reports   repos.LabReportRepo
	blobs     blobstore.Store
	extractor Extractor
	persister Persister
	notify    Notifier
	now       func() time.Time
}

func NewSteps(db *gorm.DB, log *logger.Logger, set repos.Set, blobs blobstore.Store, ex Extractor, p Persister, notify Notifier) *Steps {
	if notify == nil {
		notify = nopNotifier{}
	}
	return &Steps{
		db:        db,
		log:       log.With("service", "IngestionSteps"),
		reports:   set.LabReports,
		blobs:     blobs,
		extractor: ex,
		persister: p,
		notify:    notify,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Steps) dbc(ctx context.Context) dbctx.Context {
	return dbctx.Context{Ctx: ctx}
}

// load returns the run, or labs.ErrTerminal when it already finished.
func (s *Steps) load(ctx context.Context, id uuid.UUID) (*labs.LabReport, error) {
	report, err := s.reports.GetByID(s.dbc(ctx), id)
	if err != nil {
		if errors.Is(err, labs.ErrNotFound) {
			return nil, fmt.Errorf("lab report %s: %w", id, err)
		}
		return nil, ingesterr.Persistence("load report", err)
	}
	if report.Status.IsTerminal() {
		return report, fmt.Errorf("lab report %s is %s: %w", id, report.Status, labs.ErrTerminal)
	}
	return report, nil
}

// ConfirmUpload checks the stored file and moves the run from uploading to
// processing. A run already in processing is left as is.
func (s *Steps) ConfirmUpload(ctx context.Context, id uuid.UUID) error {
	report, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if report.Status == labs.StatusProcessing {
		return nil
	}

	attrs, err := s.blobs.Stat(ctx, report.FilePath)
	if err != nil {
		return ingesterr.Transient("stat "+report.FilePath, err)
	}
	if attrs.Size == 0 {
		return ingesterr.Transient("stat "+report.FilePath, errors.New("stored file is empty"))
	}
	if attrs.Size > blobstore.MaxFileSize {
		return fmt.Errorf("stored file %s: %w", report.FilePath, blobstore.ErrFileTooLarge)
	}
	contentType := blobstore.NormalizeContentType(report.ContentType)
	if contentType == "" {
		contentType = blobstore.NormalizeContentType(attrs.ContentType)
	}
	if !blobstore.AllowedContentTypes[contentType] {
		return fmt.Errorf("unsupported content type %q", contentType)
	}

	ok, err := s.reports.TransitionStatus(s.dbc(ctx), id, labs.StatusProcessing, map[string]interface{}{
		"stage":        string(labs.StageExtract),
		"file_size":    attrs.Size,
		"content_type": contentType,
	})
	if err != nil {
		return ingesterr.Persistence("confirm upload", err)
	}
	if !ok {
		// Lost a race with another driver; whatever it wrote wins.
		_, err := s.load(ctx, id)
		return err
	}

	report.Status = labs.StatusProcessing
	report.Stage = labs.StageExtract
	report.FileSize = attrs.Size
	s.log.Info("Upload confirmed", "report_id", id, "file_size", attrs.Size, "content_type", contentType)
	s.notify.StatusChanged(ctx, report)
	return nil
}

// Extract runs the extraction adapter once and stores the payload on the run.
// When a payload is already stored the adapter is not called again.
func (s *Steps) Extract(ctx context.Context, id uuid.UUID) (*ExtractOutcome, error) {
	report, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if stored, ok := storedExtraction(report); ok {
		s.log.Debug("Reusing stored extraction", "report_id", id)
		return &ExtractOutcome{Panels: len(stored.Panels), Results: stored.ResultCount(), Cached: true}, nil
	}
	if report.Status != labs.StatusProcessing {
		return nil, fmt.Errorf("extract: report %s is %s", id, report.Status)
	}

	if _, err := s.reports.UpdateFieldsUnlessTerminal(s.dbc(ctx), id, map[string]interface{}{
		"stage":    string(labs.StageExtract),
		"attempts": gorm.Expr("attempts + 1"),
	}); err != nil {
		return nil, ingesterr.Persistence("record extract attempt", err)
	}

	res, err := s.extractor.Extract(ctx, extractor.FileRef{
		Path:             report.FilePath,
		ContentType:      report.ContentType,
		OriginalFileName: report.OriginalFileName,
	})
	if err != nil {
		s.log.Warn("Extraction attempt failed",
			"report_id", id,
			"kind", ingesterr.Classify(err),
			"error", err.Error(),
		)
		return nil, err
	}

	saved, err := s.reports.SaveExtraction(s.dbc(ctx), id, res.Raw)
	if err != nil {
		return nil, ingesterr.Persistence("save extraction", err)
	}
	if !saved {
		// Another attempt stored its payload first; that one is authoritative.
		report, err = s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if stored, ok := storedExtraction(report); ok {
			return &ExtractOutcome{Panels: len(stored.Panels), Results: stored.ResultCount(), Cached: true}, nil
		}
		return nil, fmt.Errorf("extract: payload for report %s was not stored", id)
	}

	s.log.Info("Extraction stored",
		"report_id", id,
		"panels", len(res.Report.Panels),
		"results", res.Report.ResultCount(),
	)
	return &ExtractOutcome{Panels: len(res.Report.Panels), Results: res.Report.ResultCount()}, nil
}

// Persist hands the stored extraction to the persistence engine.
func (s *Steps) Persist(ctx context.Context, id uuid.UUID) (*persist.Result, error) {
	report, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	extracted, ok := storedExtraction(report)
	if !ok {
		return nil, fmt.Errorf("persist: report %s has no stored extraction", id)
	}
	return s.persister.Persist(ctx, persist.Input{
		ReportID: report.ID,
		OwnerID:  report.OwnerID,
		Report:   extracted,
		Raw:      []byte(report.RawPayload),
	})
}

// Finalize moves a persisted run to completed.
func (s *Steps) Finalize(ctx context.Context, id uuid.UUID) error {
	report, err := s.reports.GetByID(s.dbc(ctx), id)
	if err != nil {
		return ingesterr.Persistence("load report", err)
	}
	switch {
	case report.Status == labs.StatusCompleted:
		return nil
	case report.Status == labs.StatusError:
		return fmt.Errorf("finalize report %s: %w", id, labs.ErrTerminal)
	case report.PersistedAt == nil:
		return fmt.Errorf("finalize: report %s was never persisted", id)
	}

	now := s.now()
	ok, err := s.reports.TransitionStatus(s.dbc(ctx), id, labs.StatusCompleted, map[string]interface{}{
		"stage":         string(labs.StageDone),
		"completed_at":  now,
		"error_kind":    "",
		"error_message": "",
	})
	if err != nil {
		return ingesterr.Persistence("finalize", err)
	}
	if !ok {
		_, err := s.load(ctx, id)
		return err
	}

	report.Status = labs.StatusCompleted
	report.Stage = labs.StageDone
	report.CompletedAt = &now
	s.log.Info("Report completed", "report_id", id, "owner_id", report.OwnerID)
	s.notify.StatusChanged(ctx, report)
	return nil
}

// Fail moves a non-terminal run to error, recording the cause. Failing a run
// that already finished is a no-op. A run whose results were committed is
// completed instead, so it never ends in error with rows on disk.
func (s *Steps) Fail(ctx context.Context, id uuid.UUID, stage labs.Stage, cause error) error {
	if cause == nil {
		cause = errors.New("unknown failure")
	}
	_, err := s.FailWithMessage(ctx, id, stage, ingesterr.Classify(cause), TerminalMessage(stage, cause))
	return err
}

// FailWithMessage is Fail for callers that only have the classified kind and
// text of the failure, such as a workflow reading an activity error. It
// returns the status the run settled in.
func (s *Steps) FailWithMessage(ctx context.Context, id uuid.UUID, stage labs.Stage, kind ingesterr.Kind, msg string) (labs.Status, error) {
	if len(msg) > maxErrorMessage {
		msg = msg[:maxErrorMessage]
	}
	ok, err := s.reports.FailUncommitted(s.dbc(ctx), id, map[string]interface{}{
		"stage":         string(stage),
		"error_kind":    string(kind),
		"error_message": msg,
		"failed_at":     s.now(),
	})
	if err != nil {
		return "", ingesterr.Persistence("fail report", err)
	}
	if !ok {
		return s.settleUnfailed(ctx, id, stage, msg)
	}

	s.log.Warn("Report failed", "report_id", id, "stage", stage, "kind", kind, "error", msg)
	report, err := s.reports.GetByID(s.dbc(ctx), id)
	if err == nil {
		s.notify.StatusChanged(ctx, report)
	}
	return labs.StatusError, nil
}

// settleUnfailed handles a run the error transition skipped: either it is
// already terminal, or its results are committed and it is finalized.
func (s *Steps) settleUnfailed(ctx context.Context, id uuid.UUID, stage labs.Stage, msg string) (labs.Status, error) {
	report, err := s.reports.GetByID(s.dbc(ctx), id)
	if err != nil {
		return "", ingesterr.Persistence("load report", err)
	}
	if report.Status.IsTerminal() || report.PersistedAt == nil {
		return report.Status, nil
	}
	s.log.Warn("Results already committed; completing run instead of failing it",
		"report_id", id,
		"stage", stage,
		"error", msg,
	)
	if err := s.Finalize(ctx, id); err != nil {
		return report.Status, err
	}
	return labs.StatusCompleted, nil
}

// TerminalMessage is the operator-facing text stored on a failed run.
func TerminalMessage(stage labs.Stage, cause error) string {
	msg := fmt.Sprintf("%s failed (%s): %s", stage, ingesterr.Classify(cause), cause.Error())
	if len(msg) > maxErrorMessage {
		msg = msg[:maxErrorMessage]
	}
	return msg
}

func storedExtraction(report *labs.LabReport) (*labs.ExtractedReport, bool) {
	if report.ExtractedAt == nil || len(report.RawPayload) == 0 {
		return nil, false
	}
	extracted, _, err := extractor.Parse(string(report.RawPayload))
	if err != nil {
		return nil, false
	}
	return extracted, true
}
