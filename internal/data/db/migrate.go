package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/labreport-backend/internal/domain/labs"
)

// AutoMigrateAll creates or updates the lab ingestion schema. Foreign keys
// cascade report -> panel -> test_result.
func AutoMigrateAll(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&labs.Patient{},
		&labs.LabReport{},
		&labs.Panel{},
		&labs.TestResult{},
	); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}
	return EnsureLabReportIndexes(db)
}

// EnsureLabReportIndexes adds the indexes the orchestrator's lease scan relies on.
func EnsureLabReportIndexes(db *gorm.DB) error {
	stmts := []string{
		`CREATE INDEX IF NOT EXISTS idx_lab_report_status_heartbeat ON lab_report (status, heartbeat_at)`,
		`CREATE INDEX IF NOT EXISTS idx_panel_report_position ON panel (report_id, position)`,
		`CREATE INDEX IF NOT EXISTS idx_test_result_panel_position ON test_result (panel_id, position)`,
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("ensure index: %w", err)
		}
	}
	return nil
}
