package persist_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/yungbote/labreport-backend/internal/data/repos"
	"github.com/yungbote/labreport-backend/internal/data/repos/testutil"
	"github.com/yungbote/labreport-backend/internal/domain/labs"
	"github.com/yungbote/labreport-backend/internal/ingestion/ingesterr"
	"github.com/yungbote/labreport-backend/internal/ingestion/persist"
)

func newEngine(t *testing.T) (*persist.Engine, *gorm.DB) {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	return persist.NewEngine(db, log, repos.NewSet(db, log)), db
}

func counts(t *testing.T, db *gorm.DB) (patients, reports, panels, results int64) {
	t.Helper()
	require.NoError(t, db.Model(&labs.Patient{}).Count(&patients).Error)
	require.NoError(t, db.Model(&labs.LabReport{}).Count(&reports).Error)
	require.NoError(t, db.Model(&labs.Panel{}).Count(&panels).Error)
	require.NoError(t, db.Model(&labs.TestResult{}).Count(&results).Error)
	return
}

func TestPersistCMPReport(t *testing.T) {
	ctx := context.Background()
	engine, db := newEngine(t)
	run := testutil.SeedLabReport(t, ctx, db, labs.StatusProcessing)

	res, err := engine.Persist(ctx, persist.Input{ReportID: run.ID, OwnerID: run.OwnerID, Report: testutil.CMPReport()})
	require.NoError(t, err)
	assert.False(t, res.AlreadyPersisted)
	assert.True(t, res.PatientCreated)
	assert.Equal(t, 1, res.Panels)
	assert.Equal(t, 17, res.Results)

	patients, reports, panels, results := counts(t, db)
	assert.EqualValues(t, 1, patients)
	assert.EqualValues(t, 1, reports)
	assert.EqualValues(t, 1, panels)
	assert.EqualValues(t, 17, results)

	var stored labs.LabReport
	require.NoError(t, db.Preload("Panels.Results").First(&stored, "id = ?", run.ID).Error)
	require.NotNil(t, stored.PatientID)
	assert.Equal(t, *res.PatientID, *stored.PatientID)
	assert.NotNil(t, stored.PersistedAt)
	assert.NotEmpty(t, stored.RawPayload)
	assert.NotEmpty(t, stored.Metadata)
	assert.Equal(t, labs.StatusProcessing, stored.Status, "persistence never finalizes the run")
	require.NotNil(t, stored.ReportDate)
	assert.True(t, stored.ReportDate.Equal(time.Date(2024, 3, 14, 8, 30, 0, 0, time.UTC)))

	require.Len(t, stored.Panels, 1)
	panel := stored.Panels[0]
	assert.Equal(t, "COMPREHENSIVE METABOLIC PANEL", panel.Name)
	assert.Equal(t, "Quest Diagnostics", panel.LabName)
	require.Len(t, panel.Results, 17)
	calculated := 0
	for _, r := range panel.Results {
		assert.Equal(t, panel.ID, r.PanelID)
		assert.Empty(t, r.Flag)
		if r.IsCalculated {
			calculated++
		}
	}
	assert.Equal(t, 3, calculated)
}

func TestPersistPreservesFlagAndStringValue(t *testing.T) {
	ctx := context.Background()
	engine, db := newEngine(t)
	run := testutil.SeedLabReport(t, ctx, db, labs.StatusProcessing)

	report := &labs.ExtractedReport{
		Patient: labs.ExtractedPatient{Name: "ROE, RICHARD", DateOfBirth: "1975-06-01", Sex: "M"},
		Panels: []labs.ExtractedPanel{{
			Name: "GLUCOSE",
			Results: []labs.ExtractedResult{
				{Test: "GLUCOSE", Result: labs.StringValue("127"), Flag: "H", Units: "mg/dL", ReferenceRange: "65-99"},
				{Test: "A1C", Result: labs.NumberValue("5.70"), ReferenceRange: "<5.7"},
			},
		}},
	}
	_, err := engine.Persist(ctx, persist.Input{ReportID: run.ID, OwnerID: run.OwnerID, Report: report})
	require.NoError(t, err)

	var rows []labs.TestResult
	require.NoError(t, db.Order("position ASC").Find(&rows).Error)
	require.Len(t, rows, 2)
	assert.Equal(t, labs.StringValue("127"), rows[0].Value)
	assert.Equal(t, "H", rows[0].Flag)
	assert.Equal(t, labs.NumberValue("5.70"), rows[1].Value)
	assert.False(t, rows[0].IsCalculated)
}

func TestPersistIsRunOnce(t *testing.T) {
	ctx := context.Background()
	engine, db := newEngine(t)
	run := testutil.SeedLabReport(t, ctx, db, labs.StatusProcessing)
	in := persist.Input{ReportID: run.ID, OwnerID: run.OwnerID, Report: testutil.CMPReport()}

	first, err := engine.Persist(ctx, in)
	require.NoError(t, err)
	second, err := engine.Persist(ctx, in)
	require.NoError(t, err)

	assert.True(t, second.AlreadyPersisted)
	assert.Equal(t, *first.PatientID, *second.PatientID)
	patients, reports, panels, results := counts(t, db)
	assert.EqualValues(t, 1, patients)
	assert.EqualValues(t, 1, reports)
	assert.EqualValues(t, 1, panels)
	assert.EqualValues(t, 17, results)
}

func TestPersistResolvesPatientDeterministically(t *testing.T) {
	ctx := context.Background()
	engine, db := newEngine(t)

	persistFor := func(mutate func(*labs.ExtractedReport)) uuid.UUID {
		run := testutil.SeedLabReport(t, ctx, db, labs.StatusProcessing)
		report := testutil.CMPReport()
		if mutate != nil {
			mutate(report)
		}
		res, err := engine.Persist(ctx, persist.Input{ReportID: run.ID, OwnerID: run.OwnerID, Report: report})
		require.NoError(t, err)
		return *res.PatientID
	}

	a := persistFor(nil)
	b := persistFor(func(r *labs.ExtractedReport) { r.Patient.Name = "  DOE,   JANE " })
	c := persistFor(func(r *labs.ExtractedReport) { r.Patient.Sex = "M" })
	d := persistFor(func(r *labs.ExtractedReport) { r.Patient.DateOfBirth = "1980-03-01" })

	assert.Equal(t, a, b, "whitespace differences resolve to the same patient")
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
	assert.NotEqual(t, c, d)

	patients, reports, _, _ := counts(t, db)
	assert.EqualValues(t, 3, patients)
	assert.EqualValues(t, 4, reports)
}

func TestPersistConcurrentRunsShareNewPatient(t *testing.T) {
	ctx := context.Background()
	engine, db := newEngine(t)

	runs := make([]*labs.LabReport, 4)
	for i := range runs {
		runs[i] = testutil.SeedLabReport(t, ctx, db, labs.StatusProcessing)
	}

	var wg sync.WaitGroup
	ids := make([]uuid.UUID, len(runs))
	errs := make([]error, len(runs))
	for i, run := range runs {
		wg.Add(1)
		go func(i int, run *labs.LabReport) {
			defer wg.Done()
			res, err := engine.Persist(ctx, persist.Input{ReportID: run.ID, OwnerID: run.OwnerID, Report: testutil.CMPReport()})
			errs[i] = err
			if err == nil {
				ids[i] = *res.PatientID
			}
		}(i, run)
	}
	wg.Wait()

	for i := range runs {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	patients, _, panels, results := counts(t, db)
	assert.EqualValues(t, 1, patients)
	assert.EqualValues(t, 4, panels)
	assert.EqualValues(t, 68, results)
}

func TestPersistCreatesMissingRunInProcessing(t *testing.T) {
	ctx := context.Background()
	engine, db := newEngine(t)
	id, owner := uuid.New(), uuid.New()

	_, err := engine.Persist(ctx, persist.Input{ReportID: id, OwnerID: owner, Report: testutil.CMPReport()})
	require.NoError(t, err)

	var stored labs.LabReport
	require.NoError(t, db.First(&stored, "id = ?", id).Error)
	assert.Equal(t, owner, stored.OwnerID)
	assert.Equal(t, labs.StatusProcessing, stored.Status)
	assert.Equal(t, labs.SourceAI, stored.Source)
}

func TestPersistRejectsTerminalRun(t *testing.T) {
	ctx := context.Background()
	engine, db := newEngine(t)
	run := testutil.SeedLabReport(t, ctx, db, labs.StatusError)

	_, err := engine.Persist(ctx, persist.Input{ReportID: run.ID, OwnerID: run.OwnerID, Report: testutil.CMPReport()})
	require.Error(t, err)
	assert.Equal(t, ingesterr.KindPersistence, ingesterr.Classify(err))
	assert.ErrorIs(t, err, labs.ErrTerminal)

	patients, _, panels, _ := counts(t, db)
	assert.Zero(t, patients)
	assert.Zero(t, panels)
}

func TestPersistRejectsOwnerMismatch(t *testing.T) {
	ctx := context.Background()
	engine, db := newEngine(t)
	run := testutil.SeedLabReport(t, ctx, db, labs.StatusProcessing)

	_, err := engine.Persist(ctx, persist.Input{ReportID: run.ID, OwnerID: uuid.New(), Report: testutil.CMPReport()})
	assert.Equal(t, ingesterr.KindPersistence, ingesterr.Classify(err))
}

func TestPersistRollsBackPartialBatch(t *testing.T) {
	ctx := context.Background()
	engine, db := newEngine(t)
	run := testutil.SeedLabReport(t, ctx, db, labs.StatusProcessing)

	require.NoError(t, db.Callback().Create().Before("gorm:create").Register("test:fail_results", func(tx *gorm.DB) {
		if tx.Statement.Table == "test_result" {
			_ = tx.AddError(errors.New("disk full"))
		}
	}))

	_, err := engine.Persist(ctx, persist.Input{ReportID: run.ID, OwnerID: run.OwnerID, Report: testutil.CMPReport()})
	var pe *ingesterr.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "insert panels", pe.Op)

	patients, _, panels, results := counts(t, db)
	assert.Zero(t, patients)
	assert.Zero(t, panels)
	assert.Zero(t, results)

	var stored labs.LabReport
	require.NoError(t, db.First(&stored, "id = ?", run.ID).Error)
	assert.Nil(t, stored.PersistedAt)
	assert.Nil(t, stored.PatientID)
}

func TestPersistValidatesInput(t *testing.T) {
	engine, _ := newEngine(t)
	_, err := engine.Persist(context.Background(), persist.Input{ReportID: uuid.New()})
	assert.Equal(t, ingesterr.KindPersistence, ingesterr.Classify(err))
}
