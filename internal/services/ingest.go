package services

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/labreport-backend/internal/data/repos"
	"github.com/yungbote/labreport-backend/internal/domain/labs"
	"github.com/yungbote/labreport-backend/internal/ingestion/pipeline"
	"github.com/yungbote/labreport-backend/internal/pkg/dbctx"
	apperr "github.com/yungbote/labreport-backend/internal/pkg/errors"
	"github.com/yungbote/labreport-backend/internal/pkg/logger"
	"github.com/yungbote/labreport-backend/internal/platform/blobstore"
)

// Dispatcher hands a run to whichever driver executes the pipeline.
type Dispatcher interface {
	Dispatch(ctx context.Context, reportID uuid.UUID) error
}

type StartRequest struct {
	ReportID         uuid.UUID `json:"reportId"`
	OwnerID          uuid.UUID `json:"ownerId"`
	FilePath         string    `json:"filePathInBucket"`
	OriginalFileName string    `json:"originalFileName"`
	ContentType      string    `json:"contentType"`
	Source           string    `json:"-"`
}

type IngestService interface {
	// Start records a new run in uploading and dispatches it. Starting an
	// existing run again re-dispatches it and reports created=false.
	Start(ctx context.Context, req StartRequest) (report *labs.LabReport, created bool, err error)
	Get(ctx context.Context, reportID, ownerID uuid.UUID) (*labs.LabReport, error)
	Delete(ctx context.Context, reportID, ownerID uuid.UUID) error
	// Resume re-dispatches non-terminal runs whose lease has gone stale.
	Resume(ctx context.Context, limit int) (int, error)
}

type ingestService struct {
	db         *gorm.DB
	log        *logger.Logger
	reports    repos.LabReportRepo
	notify     pipeline.Notifier
	dispatcher Dispatcher
	staleAfter time.Duration
}

func NewIngestService(db *gorm.DB, baseLog *logger.Logger, set repos.Set, notify pipeline.Notifier, dispatcher Dispatcher, staleAfter time.Duration) IngestService {
	if staleAfter <= 0 {
		staleAfter = 5 * time.Minute
	}
	return &ingestService{
		db:         db,
		log:        baseLog.With("service", "IngestService"),
		reports:    set.LabReports,
		notify:     notify,
		dispatcher: dispatcher,
		staleAfter: staleAfter,
	}
}

func (s *ingestService) Start(ctx context.Context, req StartRequest) (*labs.LabReport, bool, error) {
	if err := validateStart(&req); err != nil {
		return nil, false, err
	}
	source := req.Source
	if source == "" {
		source = labs.SourceAI
	}
	report, created, err := s.reports.CreateIfAbsent(dbctx.Context{Ctx: ctx}, &labs.LabReport{
		ID:               req.ReportID,
		OwnerID:          req.OwnerID,
		Source:           source,
		Status:           labs.StatusUploading,
		Stage:            labs.StageCreated,
		OriginalFileName: req.OriginalFileName,
		FilePath:         req.FilePath,
		ContentType:      req.ContentType,
	})
	if err != nil {
		return nil, false, fmt.Errorf("create lab report: %w", err)
	}
	if report.OwnerID != req.OwnerID {
		return nil, false, fmt.Errorf("report %s belongs to another owner: %w", req.ReportID, apperr.ErrConflict)
	}
	if created {
		s.notify.StatusChanged(ctx, report)
	}
	if report.Status.IsTerminal() {
		return report, created, nil
	}
	if err := s.dispatcher.Dispatch(ctx, report.ID); err != nil {
		// The row stays in uploading; Resume picks it up.
		s.log.Ctx(ctx).Warn("Dispatch failed; run left for resume", "report_id", report.ID, "error", err)
		return report, created, fmt.Errorf("dispatch report %s: %w", report.ID, err)
	}
	s.log.Ctx(ctx).Info("Lab report dispatched", "report_id", report.ID, "created", created)
	return report, created, nil
}

func validateStart(req *StartRequest) error {
	req.FilePath = strings.TrimSpace(req.FilePath)
	req.OriginalFileName = strings.TrimSpace(req.OriginalFileName)
	req.ContentType = blobstore.NormalizeContentType(req.ContentType)
	switch {
	case req.ReportID == uuid.Nil:
		return fmt.Errorf("reportId required: %w", apperr.ErrInvalidArgument)
	case req.OwnerID == uuid.Nil:
		return fmt.Errorf("ownerId required: %w", apperr.ErrInvalidArgument)
	case req.FilePath == "":
		return fmt.Errorf("filePathInBucket required: %w", apperr.ErrInvalidArgument)
	}
	if req.OriginalFileName == "" {
		req.OriginalFileName = path.Base(req.FilePath)
	}
	if req.ContentType != "" && !blobstore.AllowedContentTypes[req.ContentType] {
		return fmt.Errorf("content type %q not supported: %w", req.ContentType, apperr.ErrInvalidArgument)
	}
	return nil
}

func (s *ingestService) Get(ctx context.Context, reportID, ownerID uuid.UUID) (*labs.LabReport, error) {
	report, err := s.reports.GetWithResults(dbctx.Context{Ctx: ctx}, reportID)
	if err != nil {
		return nil, err
	}
	if ownerID != uuid.Nil && report.OwnerID != ownerID {
		return nil, labs.ErrNotFound
	}
	return report, nil
}

func (s *ingestService) Delete(ctx context.Context, reportID, ownerID uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		report, err := s.reports.GetByIDForUpdate(dbc, reportID)
		if err != nil {
			return err
		}
		if ownerID != uuid.Nil && report.OwnerID != ownerID {
			return labs.ErrNotFound
		}
		if !report.Status.IsTerminal() {
			return fmt.Errorf("report %s is still %s: %w", reportID, report.Status, apperr.ErrConflict)
		}
		return s.reports.Delete(dbc, reportID)
	})
}

func (s *ingestService) Resume(ctx context.Context, limit int) (int, error) {
	ids, err := s.reports.ListResumable(dbctx.Context{Ctx: ctx}, time.Now().Add(-s.staleAfter), limit)
	if err != nil {
		return 0, fmt.Errorf("list resumable: %w", err)
	}
	var errs []error
	n := 0
	for _, id := range ids {
		if err := s.dispatcher.Dispatch(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("dispatch %s: %w", id, err))
			continue
		}
		n++
	}
	if n > 0 {
		s.log.Info("Resumed lab reports", "count", n)
	}
	return n, errors.Join(errs...)
}
