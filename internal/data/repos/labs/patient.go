package labs

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/labreport-backend/internal/domain/labs"
	"github.com/yungbote/labreport-backend/internal/pkg/dbctx"
	"github.com/yungbote/labreport-backend/internal/pkg/logger"
)

type PatientRepo interface {
	GetByID(dbc dbctx.Context, id uuid.UUID) (*labs.Patient, error)
	FindByIdentityKey(dbc dbctx.Context, key string) (*labs.Patient, error)
	// FindOrCreate inserts p unless a patient with the same identity key exists,
	// in which case the existing row is returned and created is false.
	FindOrCreate(dbc dbctx.Context, p *labs.Patient) (patient *labs.Patient, created bool, err error)
}

type patientRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPatientRepo(db *gorm.DB, baseLog *logger.Logger) PatientRepo {
	return &patientRepo{
		db:  db,
		log: baseLog.With("repo", "PatientRepo"),
	}
}

func (r *patientRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*labs.Patient, error) {
	var p labs.Patient
	err := dbc.Use(r.db).Where("id = ?", id).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, labs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *patientRepo) FindByIdentityKey(dbc dbctx.Context, key string) (*labs.Patient, error) {
	if key == "" {
		return nil, nil
	}
	var p labs.Patient
	err := dbc.Use(r.db).
		Where("identity_key = ?", key).
		Limit(1).
		Find(&p).Error
	if err != nil {
		return nil, err
	}
	if p.ID == uuid.Nil {
		return nil, nil
	}
	return &p, nil
}

func (r *patientRepo) FindOrCreate(dbc dbctx.Context, p *labs.Patient) (*labs.Patient, bool, error) {
	if p == nil || p.IdentityKey == "" {
		return nil, false, errors.New("patient identity key required")
	}
	transaction := dbc.Use(r.db)

	res := transaction.
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "identity_key"}},
			DoNothing: true,
		}).
		Create(p)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected > 0 {
		return p, true, nil
	}

	existing, err := r.FindByIdentityKey(dbc, p.IdentityKey)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, errors.New("patient upsert conflicted but no row found")
	}
	return existing, false, nil
}
