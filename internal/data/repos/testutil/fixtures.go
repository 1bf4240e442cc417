package testutil

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/labreport-backend/internal/domain/labs"
)

func SeedLabReport(tb testing.TB, ctx context.Context, tx *gorm.DB, status labs.Status) *labs.LabReport {
	tb.Helper()
	r := &labs.LabReport{
		ID:               uuid.New(),
		OwnerID:          uuid.New(),
		Source:           labs.SourceAI,
		Status:           status,
		Stage:            labs.StageCreated,
		OriginalFileName: "cmp.pdf",
		FilePath:         "reports/" + uuid.NewString() + ".pdf",
		ContentType:      "application/pdf",
	}
	if err := tx.WithContext(ctx).Create(r).Error; err != nil {
		tb.Fatalf("seed lab report: %v", err)
	}
	return r
}

func SeedPatient(tb testing.TB, ctx context.Context, tx *gorm.DB, key, name string) *labs.Patient {
	tb.Helper()
	p := &labs.Patient{
		ID:          uuid.New(),
		IdentityKey: key,
		Name:        name,
	}
	if err := tx.WithContext(ctx).Create(p).Error; err != nil {
		tb.Fatalf("seed patient: %v", err)
	}
	return p
}

// CMPReport returns a comprehensive metabolic panel extraction with 17 results and no flags.
func CMPReport() *labs.ExtractedReport {
	tests := []struct{ name, value, units, ref string }{
		{"GLUCOSE", "92", "mg/dL", "70-99"},
		{"BUN", "14", "mg/dL", "6-20"},
		{"CREATININE", "0.9", "mg/dL", "0.6-1.2"},
		{"EGFR", "98 (calc)", "mL/min/1.73m2", ">59"},
		{"BUN/CREATININE RATIO", "16", "", "6-22"},
		{"SODIUM", "139", "mmol/L", "135-146"},
		{"POTASSIUM", "4.3", "mmol/L", "3.5-5.3"},
		{"CHLORIDE", "103", "mmol/L", "98-110"},
		{"CARBON DIOXIDE", "26", "mmol/L", "20-32"},
		{"CALCIUM", "9.5", "mg/dL", "8.6-10.3"},
		{"PROTEIN, TOTAL", "7.1", "g/dL", "6.1-8.1"},
		{"ALBUMIN", "4.5", "g/dL", "3.6-5.1"},
		{"GLOBULIN", "2.6 (calc)", "g/dL", "1.9-3.7"},
		{"ALBUMIN/GLOBULIN RATIO", "1.7 (calc)", "", "1.0-2.5"},
		{"BILIRUBIN, TOTAL", "0.6", "mg/dL", "0.2-1.2"},
		{"ALKALINE PHOSPHATASE", "68", "U/L", "36-130"},
		{"AST", "21", "U/L", "10-35"},
	}
	panel := labs.ExtractedPanel{
		Name:       "COMPREHENSIVE METABOLIC PANEL",
		ReportedAt: "2024-03-15 09:12",
		Status:     "FINAL",
	}
	for _, t := range tests {
		panel.Results = append(panel.Results, labs.ExtractedResult{
			Test:           t.name,
			Result:         labs.StringValue(t.value),
			Units:          t.units,
			ReferenceRange: t.ref,
		})
	}
	return &labs.ExtractedReport{
		Patient: labs.ExtractedPatient{
			Name:        "DOE, JANE",
			PatientID:   "MRN-0042",
			DateOfBirth: "1980-02-29",
			Sex:         "F",
		},
		ReportMetadata: labs.ReportMetadata{
			OrderingPhysician: "SMITH, ALEX",
			Collected:         "2024-03-14 08:30",
			Received:          "2024-03-14 12:01",
			SpecimenType:      "SERUM",
			LabName:           "Quest Diagnostics",
		},
		Panels: []labs.ExtractedPanel{panel},
	}
}
