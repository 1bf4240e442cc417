package worker

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

	repolabs "github.com/yungbote/labreport-backend/internal/data/repos/labs"
	"github.com/yungbote/labreport-backend/internal/data/repos/testutil"
	"github.com/yungbote/labreport-backend/internal/domain/labs"
	"github.com/yungbote/labreport-backend/internal/pkg/dbctx"
)

// completeRun marks a run completed the way the pipeline would.
func completeRun(db *gorm.DB, counts *sync.Map) RunFunc {
	return func(ctx context.Context, id uuid.UUID) error {
		n, _ := counts.LoadOrStore(id, new(int))
		*(n.(*int))++
		return db.WithContext(ctx).Model(&labs.LabReport{}).Where("id = ?", id).
			Update("status", labs.StatusCompleted).Error
	}
}

func newWorker(t *testing.T, db *gorm.DB, run RunFunc) *Worker {
	t.Helper()
	w, err := New(testutil.Logger(t), repolabs.NewLabReportRepo(db, testutil.Logger(t)), run, Config{
		Concurrency:  2,
		PollInterval: 10 * time.Millisecond,
		LeaseTTL:     time.Minute,
	})
	require.NoError(t, err)
	return w
}

func status(t *testing.T, db *gorm.DB, id uuid.UUID) labs.Status {
	t.Helper()
	var r labs.LabReport
	require.NoError(t, db.First(&r, "id = ?", id).Error)
	return r.Status
}

func TestWorkerDrivesOpenRunsOnce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	db := testutil.DB(t)
	var runs []*labs.LabReport
	for i := 0; i < 3; i++ {
		runs = append(runs, testutil.SeedLabReport(t, ctx, db, labs.StatusUploading))
	}
	done := testutil.SeedLabReport(t, ctx, db, labs.StatusCompleted)

	var counts sync.Map
	w := newWorker(t, db, completeRun(db, &counts))
	w.Start(ctx)

	require.Eventually(t, func() bool {
		for _, r := range runs {
			if status(t, db, r.ID) != labs.StatusCompleted {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	w.Close()

	for _, r := range runs {
		n, ok := counts.Load(r.ID)
		require.True(t, ok)
		assert.Equal(t, 1, *(n.(*int)))

		var stored labs.LabReport
		require.NoError(t, db.First(&stored, "id = ?", r.ID).Error)
		assert.Nil(t, stored.LockedAt, "lease released")
	}
	_, touched := counts.Load(done.ID)
	assert.False(t, touched)
}

func TestWorkerSkipsLeasedRuns(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	db := testutil.DB(t)
	run := testutil.SeedLabReport(t, ctx, db, labs.StatusProcessing)
	repo := repolabs.NewLabReportRepo(db, testutil.Logger(t))
	ok, err := repo.ClaimLease(testDBC(ctx), run.ID, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	var counts sync.Map
	w := newWorker(t, db, completeRun(db, &counts))
	w.Start(ctx)
	require.NoError(t, w.Dispatch(ctx, run.ID))

	time.Sleep(100 * time.Millisecond)
	cancel()
	w.Close()
	_, touched := counts.Load(run.ID)
	assert.False(t, touched)
	assert.Equal(t, labs.StatusProcessing, status(t, db, run.ID))
}

func TestWorkerReleasesLeaseOnErrorAndPanic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	db := testutil.DB(t)
	failing := testutil.SeedLabReport(t, ctx, db, labs.StatusProcessing)
	panicking := testutil.SeedLabReport(t, ctx, db, labs.StatusProcessing)

	var mu sync.Mutex
	seen := map[uuid.UUID]bool{}
	w := newWorker(t, db, func(_ context.Context, id uuid.UUID) error {
		mu.Lock()
		first := !seen[id]
		seen[id] = true
		mu.Unlock()
		if !first {
			return nil
		}
		if id == panicking.ID {
			panic("boom")
		}
		return errors.New("db unavailable")
	})
	w.Start(ctx)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen[failing.ID] && seen[panicking.ID]
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	w.Close()

	for _, id := range []uuid.UUID{failing.ID, panicking.ID} {
		var stored labs.LabReport
		require.NoError(t, db.First(&stored, "id = ?", id).Error)
		assert.Nil(t, stored.LockedAt)
	}
}

func testDBC(ctx context.Context) dbctx.Context { return dbctx.Context{Ctx: ctx} }
