package app

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	temporalsdkclient "go.temporal.io/sdk/client"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/yungbote/labreport-backend/internal/data/db"
	"github.com/yungbote/labreport-backend/internal/data/repos"
	"github.com/yungbote/labreport-backend/internal/events"
	apphttp "github.com/yungbote/labreport-backend/internal/http"
	httpH "github.com/yungbote/labreport-backend/internal/http/handlers"
	"github.com/yungbote/labreport-backend/internal/ingestion/extractor"
	"github.com/yungbote/labreport-backend/internal/ingestion/persist"
	"github.com/yungbote/labreport-backend/internal/ingestion/pipeline"
	"github.com/yungbote/labreport-backend/internal/ingestion/status"
	"github.com/yungbote/labreport-backend/internal/jobs/worker"
	"github.com/yungbote/labreport-backend/internal/observability"
	"github.com/yungbote/labreport-backend/internal/pkg/logger"
	"github.com/yungbote/labreport-backend/internal/platform/blobstore"
	"github.com/yungbote/labreport-backend/internal/realtime"
	"github.com/yungbote/labreport-backend/internal/realtime/bus"
	"github.com/yungbote/labreport-backend/internal/services"
	"github.com/yungbote/labreport-backend/internal/temporalx"
	"github.com/yungbote/labreport-backend/internal/temporalx/ingest"
	"github.com/yungbote/labreport-backend/internal/temporalx/temporalworker"
)

type App struct {
	Log    *logger.Logger
	Cfg    Config
	DB     *gorm.DB
	Repos  repos.Set
	Blobs  blobstore.Store
	Steps  *pipeline.Steps
	Ingest services.IngestService
	Status *status.Projection
	Hub    *realtime.Hub
	Bus    bus.Bus

	redis    *goredis.Client
	temporal temporalsdkclient.Client
	tworker  *temporalworker.Runner
	local    *worker.Worker
	pg       *db.PostgresService
	closers  []func() error
	shutdown func(context.Context) error
}

func postgresConfig(cfg Config) db.PostgresConfig {
	return db.PostgresConfig{
		DSN:          cfg.PostgresDSN,
		Host:         cfg.PostgresHost,
		Port:         cfg.PostgresPort,
		User:         cfg.PostgresUser,
		Password:     cfg.PostgresPassword,
		Name:         cfg.PostgresName,
		SSLMode:      cfg.PostgresSSLMode,
		MaxOpenConns: cfg.PostgresMaxOpenConns,
	}
}

// Migrate creates or updates the schema without wiring anything else.
func Migrate(log *logger.Logger, cfg Config) error {
	pg, err := db.NewPostgresService(log, postgresConfig(cfg))
	if err != nil {
		return err
	}
	defer pg.Close()
	return pg.AutoMigrateAll()
}

// New wires every component. Nothing runs until Serve or Work.
func New(ctx context.Context, log *logger.Logger, cfg Config) (_ *App, err error) {
	a := &App{Log: log, Cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.shutdown = observability.InitOTel(ctx, log, cfg.Otel)

	a.pg, err = db.NewPostgresService(log, postgresConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := a.pg.AutoMigrateAll(); err != nil {
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}
	a.DB = a.pg.DB()
	a.Repos = repos.NewSet(a.DB, log)

	if a.Blobs, err = resolveBlobStore(log, cfg); err != nil {
		return nil, err
	}
	if closer, ok := a.Blobs.(interface{ Close() error }); ok {
		a.closers = append(a.closers, closer.Close)
	}

	adapter, err := a.buildAdapter(log, cfg)
	if err != nil {
		return nil, err
	}

	if a.redis, err = buildRedis(ctx, log, cfg); err != nil {
		return nil, err
	}
	if a.redis != nil {
		a.closers = append(a.closers, a.redis.Close)
		if a.Bus, err = bus.NewRedisBus(log, a.redis, cfg.RedisStatusChannel); err != nil {
			return nil, err
		}
	} else {
		log.Warn("REDIS_ADDR not set; status events stay in-process and the upload consumer is off")
		a.Bus = bus.NewLocalBus()
	}
	a.closers = append(a.closers, a.Bus.Close)
	a.Hub = realtime.NewHub(log)
	notifier := services.NewStatusNotifier(log, a.Bus)

	a.Steps = pipeline.NewSteps(a.DB, log, a.Repos, a.Blobs, adapter, persist.NewEngine(a.DB, log, a.Repos), notifier)

	dispatcher, err := a.buildDriver(log, cfg)
	if err != nil {
		return nil, err
	}
	a.Ingest = services.NewIngestService(a.DB, log, a.Repos, notifier, dispatcher, cfg.IngestLease)
	a.Status = status.NewProjection(log, a.Repos.LabReports)
	return a, nil
}

func (a *App) buildAdapter(log *logger.Logger, cfg Config) (*extractor.Adapter, error) {
	capability, err := buildCapability(log, cfg)
	if err != nil {
		return nil, err
	}
	var opts []extractor.Option
	ocr, err := buildOCR(log, cfg)
	if err != nil {
		// OCR only sharpens the prompt; run without it.
		log.Warn("Document AI unavailable; extracting without OCR hint", "error", err)
	} else if ocr != nil {
		a.closers = append(a.closers, ocr.Close)
		opts = append(opts, extractor.WithOCR(ocr, cfg.OCRHintMaxChars))
	}
	return extractor.New(log, a.Blobs, capability, opts...)
}

// buildDriver picks Temporal when TEMPORAL_ADDRESS is set, otherwise the local
// lease-based worker.
func (a *App) buildDriver(log *logger.Logger, cfg Config) (services.Dispatcher, error) {
	tcfg := cfg.Temporal.WithDefaults()
	if tcfg.Enabled() {
		tc, err := temporalx.NewClient(log, tcfg)
		if err != nil {
			return nil, fmt.Errorf("init temporal client: %w", err)
		}
		a.temporal = tc
		a.closers = append(a.closers, func() error { tc.Close(); return nil })
		if a.tworker, err = temporalworker.NewRunner(log, tc, tcfg, a.Steps); err != nil {
			return nil, err
		}
		return ingest.NewStarter(log, tc, tcfg.TaskQueue, cfg.IngestExtractMaxAttempts, cfg.IngestStepTimeout), nil
	}

	runner := pipeline.NewRunner(a.Steps, log, pipeline.RetryPolicy{MaxAttempts: cfg.IngestExtractMaxAttempts})
	w, err := worker.New(log, a.Repos.LabReports, runner.Run, worker.Config{
		Concurrency:  cfg.WorkerConcurrency,
		PollInterval: cfg.IngestPollInterval,
		LeaseTTL:     cfg.IngestLease,
	})
	if err != nil {
		return nil, err
	}
	a.local = w
	return w, nil
}

// Work runs the orchestrator driver and the upload consumer until ctx ends.
func (a *App) Work(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	a.startBackground(ctx, g)
	return g.Wait()
}

// Serve runs the HTTP API alongside everything Work runs.
func (a *App) Serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	a.startBackground(ctx, g)

	if err := a.Bus.StartForwarder(ctx, a.Hub.Broadcast); err != nil {
		return fmt.Errorf("start status forwarder: %w", err)
	}

	checks := map[string]httpH.Pinger{}
	if sqlDB, err := a.DB.DB(); err == nil {
		checks["postgres"] = sqlDB
	}
	if a.redis != nil {
		checks["redis"] = redisPinger{rdb: a.redis}
	}
	server := apphttp.NewServer(apphttp.RouterConfig{
		Log:              a.Log,
		ServiceName:      a.serviceName(),
		CORSOrigins:      a.Cfg.CORSOriginList(),
		HealthHandler:    httpH.NewHealthHandler(checks),
		LabReportHandler: httpH.NewLabReportHandler(a.Ingest, a.Status),
		RealtimeHandler:  httpH.NewRealtimeHandler(a.Log, a.Hub, a.Ingest),
	})
	g.Go(func() error {
		a.Log.Info("HTTP server listening", "port", a.Cfg.Port)
		return server.Run(ctx, ":"+a.Cfg.Port)
	})
	return g.Wait()
}

func (a *App) serviceName() string {
	if !a.Cfg.Otel.Enabled {
		return ""
	}
	return a.Cfg.Otel.ServiceName
}

func (a *App) startBackground(ctx context.Context, g *errgroup.Group) {
	if a.tworker != nil {
		g.Go(func() error {
			if err := a.tworker.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("temporal worker: %w", err)
			}
			<-ctx.Done()
			return nil
		})
	}
	if a.local != nil {
		a.local.Start(ctx)
	}
	if a.Cfg.ResumeOnStart && a.local == nil {
		g.Go(func() error {
			if _, err := a.Ingest.Resume(ctx, 100); err != nil {
				a.Log.Warn("Resume on start incomplete", "error", err)
			}
			return nil
		})
	}
	if a.redis != nil {
		consumer := events.NewConsumer(a.Log, a.redis, a.Ingest, a.Cfg.Stream)
		g.Go(func() error { return consumer.Run(ctx) })
	}
}

// Resume re-dispatches up to limit stuck runs.
func (a *App) Resume(ctx context.Context, limit int) (int, error) {
	return a.Ingest.Resume(ctx, limit)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.local != nil {
		a.local.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Log.Warn("Close failed", "error", err)
		}
	}
	if a.pg != nil {
		_ = a.pg.Close()
	}
	if a.shutdown != nil {
		_ = a.shutdown(context.Background())
	}
	a.Log.Sync()
}
