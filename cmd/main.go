package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/yungbote/labreport-backend/internal/app"
	"github.com/yungbote/labreport-backend/internal/pkg/logger"
)

func main() {
	if err := newCLI().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newCLI() *cli.App {
	envFlag := &cli.StringFlag{
		Name:    "env-file",
		Aliases: []string{"e"},
		Usage:   "Optional .env file; environment variables take precedence",
		Value:   ".env",
	}
	return &cli.App{
		Name:  "labreport",
		Usage: "Lab report ingestion service",
		Flags: []cli.Flag{envFlag},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API together with the ingestion driver and upload consumer",
				Action: withApp(func(ctx context.Context, _ *cli.Context, a *app.App) error { return a.Serve(ctx) }),
			},
			{
				Name:   "worker",
				Usage:  "Run only the ingestion driver and upload consumer",
				Action: withApp(func(ctx context.Context, _ *cli.Context, a *app.App) error { return a.Work(ctx) }),
			},
			{
				Name:  "migrate",
				Usage: "Create or update the database schema and exit",
				Action: func(c *cli.Context) error {
					cfg, log, err := bootstrap(c)
					if err != nil {
						return err
					}
					defer log.Sync()
					if err := app.Migrate(log, cfg); err != nil {
						return err
					}
					log.Info("Migrations applied")
					return nil
				},
			},
			{
				Name:  "resume",
				Usage: "Re-dispatch runs that stopped short of a terminal status",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of runs to re-dispatch",
						Value: 100,
					},
				},
				Action: withApp(func(ctx context.Context, c *cli.Context, a *app.App) error {
					n, err := a.Resume(ctx, c.Int("limit"))
					a.Log.Info("Resume finished", "dispatched", n)
					return err
				}),
			},
		},
	}
}

func bootstrap(c *cli.Context) (app.Config, *logger.Logger, error) {
	cfg, err := app.LoadConfig(c.String("env-file"))
	if err != nil {
		return app.Config{}, nil, err
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return app.Config{}, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, log, nil
}

func withApp(run func(ctx context.Context, c *cli.Context, a *app.App) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, log, err := bootstrap(c)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := app.New(ctx, log, cfg)
		if err != nil {
			log.Error("Startup failed", "error", err)
			log.Sync()
			return err
		}
		defer a.Close()
		return run(ctx, c, a)
	}
}
