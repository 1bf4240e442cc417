package persist_test

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/yungbote/labreport-backend/internal/data/repos"
	"github.com/yungbote/labreport-backend/internal/data/repos/testutil"
	"github.com/yungbote/labreport-backend/internal/ingestion/ingesterr"
	"github.com/yungbote/labreport-backend/internal/ingestion/persist"
)

func TestPersistCapturesPostgresSQLState(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormLogger.Default.LogMode(gormLogger.Silent),
	})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "lab_report"`).
		WillReturnError(&pgconn.PgError{Code: "40001", Message: "could not serialize access"})
	mock.ExpectRollback()

	log := testutil.Logger(t)
	engine := persist.NewEngine(db, log, repos.NewSet(db, log))
	_, err = engine.Persist(context.Background(), persist.Input{
		ReportID: uuid.New(),
		OwnerID:  uuid.New(),
		Report:   testutil.CMPReport(),
	})

	var pe *ingesterr.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "40001", pe.Code)
	assert.Equal(t, "lock report", pe.Op)
	assert.False(t, ingesterr.Classify(err).Retryable())
	assert.NoError(t, mock.ExpectationsWereMet())
}
