package labs

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/labreport-backend/internal/domain/labs"
	"github.com/yungbote/labreport-backend/internal/pkg/dbctx"
	"github.com/yungbote/labreport-backend/internal/pkg/logger"
)

type LabReportRepo interface {
	// CreateIfAbsent inserts r keyed by its ID. A redelivered run returns the
	// stored row with created=false.
	CreateIfAbsent(dbc dbctx.Context, r *labs.LabReport) (report *labs.LabReport, created bool, err error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*labs.LabReport, error)
	GetByIDForUpdate(dbc dbctx.Context, id uuid.UUID) (*labs.LabReport, error)
	GetWithResults(dbc dbctx.Context, id uuid.UUID) (*labs.LabReport, error)
	// TransitionStatus moves a run to status `to` only from a legal predecessor.
	TransitionStatus(dbc dbctx.Context, id uuid.UUID, to labs.Status, updates map[string]interface{}) (bool, error)
	// FailUncommitted moves a run to error unless its results were already
	// committed (persisted_at set).
	FailUncommitted(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) (bool, error)
	UpdateFieldsUnlessTerminal(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) (bool, error)
	// SaveExtraction stores the extraction payload once per run.
	SaveExtraction(dbc dbctx.Context, id uuid.UUID, payload []byte) (bool, error)
	ListResumable(dbc dbctx.Context, staleBefore time.Time, limit int) ([]uuid.UUID, error)
	ClaimLease(dbc dbctx.Context, id uuid.UUID, staleBefore time.Time) (bool, error)
	Heartbeat(dbc dbctx.Context, id uuid.UUID) error
	ReleaseLease(dbc dbctx.Context, id uuid.UUID) error
	Delete(dbc dbctx.Context, id uuid.UUID) error
}

type labReportRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewLabReportRepo(db *gorm.DB, baseLog *logger.Logger) LabReportRepo {
	return &labReportRepo{
		db:  db,
		log: baseLog.With("repo", "LabReportRepo"),
	}
}

func statusStrings(in []labs.Status) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, string(s))
	}
	return out
}

func (r *labReportRepo) CreateIfAbsent(dbc dbctx.Context, rep *labs.LabReport) (*labs.LabReport, bool, error) {
	if rep == nil {
		return nil, false, errors.New("lab report required")
	}
	if rep.Status == "" {
		rep.Status = labs.StatusUploading
	}
	if rep.Stage == "" {
		rep.Stage = labs.StageCreated
	}
	res := dbc.Use(r.db).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoNothing: true,
		}).
		Create(rep)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected > 0 {
		return rep, true, nil
	}
	existing, err := r.GetByID(dbc, rep.ID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *labReportRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*labs.LabReport, error) {
	var rep labs.LabReport
	err := dbc.Use(r.db).Where("id = ?", id).First(&rep).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, labs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rep, nil
}

func (r *labReportRepo) GetByIDForUpdate(dbc dbctx.Context, id uuid.UUID) (*labs.LabReport, error) {
	var rep labs.LabReport
	err := dbc.Use(r.db).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&rep).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, labs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rep, nil
}

func (r *labReportRepo) GetWithResults(dbc dbctx.Context, id uuid.UUID) (*labs.LabReport, error) {
	var rep labs.LabReport
	err := dbc.Use(r.db).
		Preload("Patient").
		Preload("Panels", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Preload("Panels.Results", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Where("id = ?", id).
		First(&rep).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, labs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rep, nil
}

func (r *labReportRepo) TransitionStatus(dbc dbctx.Context, id uuid.UUID, to labs.Status, updates map[string]interface{}) (bool, error) {
	return r.transition(dbc.Use(r.db), id, to, updates)
}

func (r *labReportRepo) FailUncommitted(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) (bool, error) {
	return r.transition(dbc.Use(r.db).Where("persisted_at IS NULL"), id, labs.StatusError, updates)
}

func (r *labReportRepo) transition(q *gorm.DB, id uuid.UUID, to labs.Status, updates map[string]interface{}) (bool, error) {
	from := to.Predecessors()
	if len(from) == 0 {
		return false, labs.ErrInvalidTransition
	}
	fields := map[string]interface{}{}
	for k, v := range updates {
		fields[k] = v
	}
	fields["status"] = string(to)
	fields["updated_at"] = time.Now().UTC()

	res := q.
		Model(&labs.LabReport{}).
		Where("id = ? AND status IN ?", id, statusStrings(from)).
		Updates(fields)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *labReportRepo) UpdateFieldsUnlessTerminal(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) (bool, error) {
	if len(updates) == 0 {
		return false, nil
	}
	fields := map[string]interface{}{}
	for k, v := range updates {
		fields[k] = v
	}
	fields["updated_at"] = time.Now().UTC()
	res := dbc.Use(r.db).
		Model(&labs.LabReport{}).
		Where("id = ? AND status IN ?", id, statusStrings(labs.NonTerminalStatuses())).
		Updates(fields)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *labReportRepo) SaveExtraction(dbc dbctx.Context, id uuid.UUID, payload []byte) (bool, error) {
	now := time.Now().UTC()
	res := dbc.Use(r.db).
		Model(&labs.LabReport{}).
		Where("id = ? AND extracted_at IS NULL AND status IN ?", id, statusStrings(labs.NonTerminalStatuses())).
		Updates(map[string]interface{}{
			"raw_payload":  payload,
			"extracted_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *labReportRepo) ListResumable(dbc dbctx.Context, staleBefore time.Time, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 10
	}
	staleBefore = staleBefore.UTC()
	var ids []uuid.UUID
	err := dbc.Use(r.db).
		Model(&labs.LabReport{}).
		Where("status IN ?", statusStrings(labs.NonTerminalStatuses())).
		Where("locked_at IS NULL OR heartbeat_at IS NULL OR heartbeat_at < ?", staleBefore).
		Order("created_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *labReportRepo) ClaimLease(dbc dbctx.Context, id uuid.UUID, staleBefore time.Time) (bool, error) {
	now := time.Now().UTC()
	staleBefore = staleBefore.UTC()
	res := dbc.Use(r.db).
		Model(&labs.LabReport{}).
		Where("id = ? AND status IN ?", id, statusStrings(labs.NonTerminalStatuses())).
		Where("locked_at IS NULL OR heartbeat_at IS NULL OR heartbeat_at < ?", staleBefore).
		Updates(map[string]interface{}{
			"locked_at":    now,
			"heartbeat_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *labReportRepo) Heartbeat(dbc dbctx.Context, id uuid.UUID) error {
	return dbc.Use(r.db).
		Model(&labs.LabReport{}).
		Where("id = ? AND locked_at IS NOT NULL", id).
		UpdateColumn("heartbeat_at", time.Now().UTC()).Error
}

func (r *labReportRepo) ReleaseLease(dbc dbctx.Context, id uuid.UUID) error {
	return dbc.Use(r.db).
		Model(&labs.LabReport{}).
		Where("id = ?", id).
		UpdateColumns(map[string]interface{}{
			"locked_at":    nil,
			"heartbeat_at": nil,
		}).Error
}

// Delete removes a report with its panels and results in one transaction.
func (r *labReportRepo) Delete(dbc dbctx.Context, id uuid.UUID) error {
	return dbc.Use(r.db).Transaction(func(tx *gorm.DB) error {
		panelIDs := tx.Model(&labs.Panel{}).Select("id").Where("report_id = ?", id)
		if err := tx.Where("panel_id IN (?)", panelIDs).Delete(&labs.TestResult{}).Error; err != nil {
			return err
		}
		if err := tx.Where("report_id = ?", id).Delete(&labs.Panel{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&labs.LabReport{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return labs.ErrNotFound
		}
		return nil
	})
}
