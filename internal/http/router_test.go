package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/labreport-backend/internal/data/repos"
	"github.com/yungbote/labreport-backend/internal/data/repos/testutil"
	"github.com/yungbote/labreport-backend/internal/domain/labs"
	httpH "github.com/yungbote/labreport-backend/internal/http/handlers"
	"github.com/yungbote/labreport-backend/internal/ingestion/status"
	"github.com/yungbote/labreport-backend/internal/pkg/dbctx"
	"github.com/yungbote/labreport-backend/internal/realtime"
	"github.com/yungbote/labreport-backend/internal/realtime/bus"
	"github.com/yungbote/labreport-backend/internal/services"
)

type nopDispatcher struct{ ids []uuid.UUID }

func (d *nopDispatcher) Dispatch(_ context.Context, id uuid.UUID) error {
	d.ids = append(d.ids, id)
	return nil
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) PingContext(ctx context.Context) error { return f(ctx) }

type routerHarness struct {
	engine     *gin.Engine
	set        repos.Set
	dispatcher *nopDispatcher
	hub        *realtime.Hub
}

func newRouterHarness(t *testing.T, ping error) *routerHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := testutil.DB(t)
	log := testutil.Logger(t)
	set := repos.NewSet(db, log)
	hub := realtime.NewHub(log)
	b := bus.NewLocalBus()
	require.NoError(t, b.StartForwarder(context.Background(), hub.Broadcast))
	d := &nopDispatcher{}
	ingest := services.NewIngestService(db, log, set, services.NewStatusNotifier(log, b), d, 0)

	engine := NewRouter(RouterConfig{
		Log:              log,
		HealthHandler:    httpH.NewHealthHandler(map[string]httpH.Pinger{"db": pingFunc(func(context.Context) error { return ping })}),
		LabReportHandler: httpH.NewLabReportHandler(ingest, status.NewProjection(log, set.LabReports)),
		RealtimeHandler:  httpH.NewRealtimeHandler(log, hub, ingest),
	})
	return &routerHarness{engine: engine, set: set, dispatcher: d, hub: hub}
}

func (h *routerHarness) do(method, path string, body any, owner uuid.UUID) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if owner != uuid.Nil {
		req.Header.Set("X-Owner-Id", owner.String())
	}
	rec := httptest.NewRecorder()
	h.engine.ServeHTTP(rec, req)
	return rec
}

func (h *routerHarness) advance(t *testing.T, id uuid.UUID, to labs.Status, updates map[string]interface{}) {
	t.Helper()
	ok, err := h.set.LabReports.TransitionStatus(dbctx.Context{Ctx: context.Background()}, id, to, updates)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestHealthz(t *testing.T) {
	h := newRouterHarness(t, nil)
	rec := h.do(nethttp.MethodGet, "/healthz", nil, uuid.Nil)
	assert.Equal(t, nethttp.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	h = newRouterHarness(t, errors.New("connection refused"))
	rec = h.do(nethttp.MethodGet, "/healthz", nil, uuid.Nil)
	assert.Equal(t, nethttp.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestCreateAndPollStatus(t *testing.T) {
	h := newRouterHarness(t, nil)
	owner := uuid.New()
	reportID := uuid.New()

	rec := h.do(nethttp.MethodPost, "/api/lab-reports", map[string]string{
		"reportId":         reportID.String(),
		"filePathInBucket": "reports/cmp.pdf",
		"contentType":      "application/pdf",
	}, owner)
	require.Equal(t, nethttp.StatusAccepted, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"status":"uploading"`)
	assert.Equal(t, []uuid.UUID{reportID}, h.dispatcher.ids)

	path := "/api/lab-reports/" + reportID.String() + "/status"
	rec = h.do(nethttp.MethodGet, path, nil, owner)
	require.Equal(t, nethttp.StatusOK, rec.Code)
	var got struct {
		Status status.View `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, labs.StatusUploading, got.Status.Status)
	assert.Empty(t, got.Status.TerminalMessage)

	h.advance(t, reportID, labs.StatusProcessing, nil)
	h.advance(t, reportID, labs.StatusError, map[string]interface{}{"error_message": "extract failed (transient_io): timeout", "error_kind": "transient_io"})

	rec = h.do(nethttp.MethodGet, path+"?owner_id="+owner.String(), nil, uuid.Nil)
	require.Equal(t, nethttp.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, labs.StatusError, got.Status.Status)
	assert.Equal(t, "extract failed (transient_io): timeout", got.Status.TerminalMessage)

	// Wait returns at once for a terminal run.
	rec = h.do(nethttp.MethodGet, path+"?wait=5", nil, owner)
	require.Equal(t, nethttp.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"error"`)
}

func TestStatusErrors(t *testing.T) {
	h := newRouterHarness(t, nil)
	owner := uuid.New()
	reportID := uuid.New()
	rec := h.do(nethttp.MethodPost, "/api/lab-reports", map[string]string{
		"reportId":         reportID.String(),
		"filePathInBucket": "reports/cmp.pdf",
	}, owner)
	require.Equal(t, nethttp.StatusAccepted, rec.Code)

	rec = h.do(nethttp.MethodGet, "/api/lab-reports/not-a-uuid/status", nil, owner)
	assert.Equal(t, nethttp.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"invalid_report_id"`)

	rec = h.do(nethttp.MethodGet, "/api/lab-reports/"+uuid.NewString()+"/status", nil, owner)
	assert.Equal(t, nethttp.StatusNotFound, rec.Code)

	rec = h.do(nethttp.MethodGet, "/api/lab-reports/"+reportID.String()+"/status", nil, uuid.New())
	assert.Equal(t, nethttp.StatusNotFound, rec.Code, "another owner cannot see the run")

	req := httptest.NewRequest(nethttp.MethodGet, "/api/lab-reports/"+reportID.String()+"/status", nil)
	req.Header.Set("X-Owner-Id", "bogus")
	rr := httptest.NewRecorder()
	h.engine.ServeHTTP(rr, req)
	assert.Equal(t, nethttp.StatusBadRequest, rr.Code)
}

func TestCreateRejectsBadInput(t *testing.T) {
	h := newRouterHarness(t, nil)
	rec := h.do(nethttp.MethodPost, "/api/lab-reports", map[string]string{"filePathInBucket": "x.pdf"}, uuid.Nil)
	assert.Equal(t, nethttp.StatusBadRequest, rec.Code, "owner required")

	rec = h.do(nethttp.MethodPost, "/api/lab-reports", map[string]string{"filePathInBucket": "x.csv", "contentType": "text/csv"}, uuid.New())
	assert.Equal(t, nethttp.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_argument")
	assert.Empty(t, h.dispatcher.ids)
}

func TestGetAndDelete(t *testing.T) {
	h := newRouterHarness(t, nil)
	owner := uuid.New()
	reportID := uuid.New()
	rec := h.do(nethttp.MethodPost, "/api/lab-reports", map[string]string{"reportId": reportID.String(), "filePathInBucket": "r.pdf"}, owner)
	require.Equal(t, nethttp.StatusAccepted, rec.Code)

	rec = h.do(nethttp.MethodGet, "/api/lab-reports/"+reportID.String(), nil, owner)
	require.Equal(t, nethttp.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), reportID.String())

	rec = h.do(nethttp.MethodDelete, "/api/lab-reports/"+reportID.String(), nil, owner)
	assert.Equal(t, nethttp.StatusConflict, rec.Code)

	h.advance(t, reportID, labs.StatusProcessing, nil)
	h.advance(t, reportID, labs.StatusCompleted, nil)
	rec = h.do(nethttp.MethodDelete, "/api/lab-reports/"+reportID.String(), nil, owner)
	assert.Equal(t, nethttp.StatusNoContent, rec.Code)
	rec = h.do(nethttp.MethodGet, "/api/lab-reports/"+reportID.String(), nil, owner)
	assert.Equal(t, nethttp.StatusNotFound, rec.Code)
}

func TestEventsStreamEndsAtTerminal(t *testing.T) {
	h := newRouterHarness(t, nil)
	owner := uuid.New()
	reportID := uuid.New()
	rec := h.do(nethttp.MethodPost, "/api/lab-reports", map[string]string{"reportId": reportID.String(), "filePathInBucket": "r.pdf"}, owner)
	require.Equal(t, nethttp.StatusAccepted, rec.Code)
	h.advance(t, reportID, labs.StatusProcessing, nil)
	h.advance(t, reportID, labs.StatusCompleted, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req := httptest.NewRequest(nethttp.MethodGet, "/api/lab-reports/"+reportID.String()+"/events", nil).WithContext(ctx)
	req.Header.Set("X-Owner-Id", owner.String())
	rr := httptest.NewRecorder()
	h.engine.ServeHTTP(rr, req)

	require.Equal(t, nethttp.StatusOK, rr.Code)
	assert.Equal(t, 1, strings.Count(rr.Body.String(), "event: "+realtime.EventStatusChanged))
	assert.Contains(t, rr.Body.String(), `"status":"completed"`)
}
