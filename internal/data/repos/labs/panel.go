package labs

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/labreport-backend/internal/domain/labs"
	"github.com/yungbote/labreport-backend/internal/pkg/dbctx"
	"github.com/yungbote/labreport-backend/internal/pkg/logger"
)

type PanelRepo interface {
	// CreateWithResults inserts panels in order, then each panel's results in order.
	CreateWithResults(dbc dbctx.Context, panels []*labs.Panel) error
	ListByReport(dbc dbctx.Context, reportID uuid.UUID) ([]*labs.Panel, error)
	CountByReport(dbc dbctx.Context, reportID uuid.UUID) (panels int64, results int64, err error)
}

type panelRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPanelRepo(db *gorm.DB, baseLog *logger.Logger) PanelRepo {
	return &panelRepo{
		db:  db,
		log: baseLog.With("repo", "PanelRepo"),
	}
}

const resultBatchSize = 200

func (r *panelRepo) CreateWithResults(dbc dbctx.Context, panels []*labs.Panel) error {
	transaction := dbc.Use(r.db)
	for _, p := range panels {
		if p == nil {
			continue
		}
		results := p.Results
		if err := transaction.Omit(clause.Associations).Create(p).Error; err != nil {
			return err
		}
		if len(results) == 0 {
			continue
		}
		rows := make([]*labs.TestResult, 0, len(results))
		for i := range results {
			results[i].PanelID = p.ID
			rows = append(rows, &results[i])
		}
		if err := transaction.CreateInBatches(rows, resultBatchSize).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *panelRepo) ListByReport(dbc dbctx.Context, reportID uuid.UUID) ([]*labs.Panel, error) {
	var out []*labs.Panel
	err := dbc.Use(r.db).
		Preload("Results", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Where("report_id = ?", reportID).
		Order("position ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *panelRepo) CountByReport(dbc dbctx.Context, reportID uuid.UUID) (int64, int64, error) {
	transaction := dbc.Use(r.db)
	var panels int64
	if err := transaction.Model(&labs.Panel{}).Where("report_id = ?", reportID).Count(&panels).Error; err != nil {
		return 0, 0, err
	}
	var results int64
	err := transaction.Model(&labs.TestResult{}).
		Where("panel_id IN (?)", transaction.Model(&labs.Panel{}).Select("id").Where("report_id = ?", reportID)).
		Count(&results).Error
	if err != nil {
		return 0, 0, err
	}
	return panels, results, nil
}
