package repos

import (
	"gorm.io/gorm"

	"github.com/yungbote/labreport-backend/internal/data/repos/labs"
	"github.com/yungbote/labreport-backend/internal/pkg/logger"
)

type PatientRepo = labs.PatientRepo
type LabReportRepo = labs.LabReportRepo
type PanelRepo = labs.PanelRepo

// Set groups every repository over one database handle.
type Set struct {
	Patients   PatientRepo
	LabReports LabReportRepo
	Panels     PanelRepo
}

func NewSet(db *gorm.DB, log *logger.Logger) Set {
	return Set{
		Patients:   labs.NewPatientRepo(db, log),
		LabReports: labs.NewLabReportRepo(db, log),
		Panels:     labs.NewPanelRepo(db, log),
	}
}
