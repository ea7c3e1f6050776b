package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/tidehq/tideflow/pkg/cmd"
	"github.com/tidehq/tideflow/pkg/log"
	"github.com/tidehq/tideflow/pkg/scheduler"
	trc "github.com/tidehq/tideflow/pkg/tracer"
	"github.com/tidehq/tideflow/pkg/triggers/schedule"
)

func main() {
	command := &cli.Command{
		Name:                  "tideflow-scheduler",
		Usage:                 "Start the Tideflow scheduler service",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "scheduler-id",
				Aliases: []string{"id"},
				Usage:   "Custom scheduler ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("SCHEDULER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "event-bus",
				Usage:    "Event bus type (kafka, memory)",
				Required: true,
				Sources:  cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.DurationFlag{
				Name:    "poll-interval",
				Usage:   "Interval between trigger evaluation rounds",
				Value:   10 * time.Second,
				Sources: cli.EnvVars("SCHEDULER_POLL_INTERVAL"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: run,
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	tracerProvider, err := trc.InitTracer(ctx, "tideflow-scheduler")
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}
	defer func() {
		if err := tracerProvider.Shutdown(ctx); err != nil {
			slog.Error("Failed to shutdown tracer provider", "error", err)
		}
	}()

	schedulerID := command.String("scheduler-id")
	if schedulerID == "" {
		schedulerID = fmt.Sprintf("scheduler-%s", uuid.New().String()[:8])
	}

	logger := log.WithModule("tideflow-scheduler").With("scheduler_id", schedulerID)

	logger.Info("Initializing Tideflow Scheduler", "scheduler_id", schedulerID)

	eventBus, err := cmd.NewEventBus(command.String("event-bus"), "tideflow-scheduler", logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.Error("Failed to close event bus", "error", err)
		}
	}()

	persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}
	defer func() {
		if err := persistence.Close(ctx); err != nil {
			logger.Error("Failed to close persistence", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc := scheduler.NewScheduler(logger, persistence, eventBus,
		command.Duration("poll-interval"), schedule.NewTrigger(logger))

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	<-ctx.Done()

	logger.Info("Shutting down gracefully...")

	return svc.Stop(context.WithoutCancel(ctx))
}
