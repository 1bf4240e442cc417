package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/yungbote/labreport-backend/internal/data/repos"
	"github.com/yungbote/labreport-backend/internal/data/repos/testutil"
	"github.com/yungbote/labreport-backend/internal/domain/labs"
	"github.com/yungbote/labreport-backend/internal/ingestion/extractor"
	"github.com/yungbote/labreport-backend/internal/ingestion/persist"
	"github.com/yungbote/labreport-backend/internal/platform/blobstore"
)

type fakeExtractor struct {
	mu    sync.Mutex
	calls int
	fn    func(call int) (*extractor.Result, error)
}

func (f *fakeExtractor) Extract(_ context.Context, _ extractor.FileRef) (*extractor.Result, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	return f.fn(call)
}

func (f *fakeExtractor) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingNotifier struct {
	mu       sync.Mutex
	statuses []labs.Status
}

func (n *recordingNotifier) StatusChanged(_ context.Context, r *labs.LabReport) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statuses = append(n.statuses, r.Status)
}

func (n *recordingNotifier) Statuses() []labs.Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]labs.Status(nil), n.statuses...)
}

type harness struct {
	db       *gorm.DB
	blobs    *blobstore.Memory
	ex       *fakeExtractor
	notifier *recordingNotifier
	steps    *Steps
	runner   *Runner
	sleeps   []time.Duration
}

func newHarness(t *testing.T, fn func(call int) (*extractor.Result, error)) *harness {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	set := repos.NewSet(db, log)
	h := &harness{
		db:       db,
		blobs:    blobstore.NewMemory(),
		ex:       &fakeExtractor{fn: fn},
		notifier: &recordingNotifier{},
	}
	h.steps = NewSteps(db, log, set, h.blobs, h.ex, persist.NewEngine(db, log, set), h.notifier)
	h.runner = NewRunner(h.steps, log, RetryPolicy{MaxAttempts: 3})
	h.runner.sleep = func(_ context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return nil
	}
	return h
}

// seed stores a file and creates its run in uploading.
func (h *harness) seed(t *testing.T, contentType string) *labs.LabReport {
	t.Helper()
	ctx := context.Background()
	run := testutil.SeedLabReport(t, ctx, h.db, labs.StatusUploading)
	if contentType != run.ContentType {
		require.NoError(t, h.db.Model(run).Update("content_type", contentType).Error)
		run.ContentType = contentType
	}
	_, err := h.blobs.Upload(ctx, run.FilePath, contentType, bytes.NewReader([]byte("%PDF-1.7 lab report")))
	require.NoError(t, err)
	return run
}

func (h *harness) reload(t *testing.T, id uuid.UUID) *labs.LabReport {
	t.Helper()
	var r labs.LabReport
	require.NoError(t, h.db.First(&r, "id = ?", id).Error)
	return &r
}

func (h *harness) count(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.db.Model(model).Count(&n).Error)
	return n
}

func cmpResult(t *testing.T) *extractor.Result {
	t.Helper()
	raw, err := json.Marshal(testutil.CMPReport())
	require.NoError(t, err)
	report, cleaned, err := extractor.Parse(string(raw))
	require.NoError(t, err)
	return &extractor.Result{Report: report, Raw: cleaned}
}
