package logger

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/yungbote/labreport-backend/internal/pkg/ctxutil"
)

func TestWithCarriesFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	base := &Logger{SugaredLogger: zap.New(core).Sugar()}

	base.With("service", "IngestService").Warn("patient not matched", "report_id", "r-1")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("entries: want=1 got=%d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["service"] != "IngestService" {
		t.Fatalf("service field: got=%v", fields["service"])
	}
	if fields["report_id"] != "r-1" {
		t.Fatalf("report_id field: got=%v", fields["report_id"])
	}
}

func TestNewModes(t *testing.T) {
	for _, mode := range []string{"production", "development", "test", ""} {
		l, err := New(mode)
		if err != nil {
			t.Fatalf("New(%q): %v", mode, err)
		}
		l.Debug("ok")
	}
}

func TestCtxAddsRequestFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	base := &Logger{SugaredLogger: zap.New(core).Sugar()}

	if base.Ctx(context.Background()) != base {
		t.Fatalf("Ctx without request data should return the same logger")
	}
	ctx := ctxutil.WithRequest(context.Background(), &ctxutil.Request{RequestID: "req-9", OwnerID: "o-1"})
	base.Ctx(ctx).Info("dispatched")

	fields := logs.All()[0].ContextMap()
	if fields["request_id"] != "req-9" || fields["owner_id"] != "o-1" {
		t.Fatalf("fields: got=%v", fields)
	}
	if _, ok := fields["trace_id"]; ok {
		t.Fatalf("empty trace id should be omitted")
	}
}
