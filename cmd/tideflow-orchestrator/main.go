package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/tidehq/tideflow/pkg/cmd"
	"github.com/tidehq/tideflow/pkg/concurrency"
	"github.com/tidehq/tideflow/pkg/executions"
	"github.com/tidehq/tideflow/pkg/flowtrigger"
	"github.com/tidehq/tideflow/pkg/log"
	"github.com/tidehq/tideflow/pkg/storage/local"
	trc "github.com/tidehq/tideflow/pkg/tracer"
	flowtrig "github.com/tidehq/tideflow/pkg/triggers/flow"
)

func main() {
	command := &cli.Command{
		Name:                  "tideflow-orchestrator",
		Usage:                 "Start the Tideflow orchestrator service",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "orchestrator-id",
				Aliases: []string{"id"},
				Usage:   "Custom orchestrator ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("ORCHESTRATOR_ID"),
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
			&cli.StringFlag{
				Name:     "redis-url",
				Usage:    "Redis address for concurrency limit accounting",
				Required: true,
				Sources:  cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "storage-path",
				Usage:   "Root path of the execution object storage",
				Value:   "file:///var/lib/tideflow/storage",
				Sources: cli.EnvVars("STORAGE_PATH"),
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

	tracerProvider, err := trc.InitTracer(ctx, "tideflow-orchestrator")
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}
	defer func() {
		if err := tracerProvider.Shutdown(ctx); err != nil {
			slog.Error("Failed to shutdown tracer provider", "error", err)
		}
	}()

	orchestratorID := command.String("orchestrator-id")
	if orchestratorID == "" {
		orchestratorID = fmt.Sprintf("orchestrator-%s", uuid.New().String()[:8])
	}

	logger := log.WithModule("tideflow-orchestrator").With("orchestrator_id", orchestratorID)

	logger.Info("Initializing Tideflow Orchestrator", "orchestrator_id", orchestratorID)

	eventBus, err := cmd.NewEventBus(command.String("event-bus"), "tideflow-orchestrator", logger)
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

	limiter, err := concurrency.NewLimiter(ctx, logger, command.String("redis-url"))
	if err != nil {
		return err
	}
	defer func() {
		if err := limiter.Close(); err != nil {
			logger.Error("Failed to close concurrency limiter", "error", err)
		}
	}()

	store := local.NewStorage(command.String("storage-path"))
	service := executions.NewService(logger, persistence, eventBus, limiter, store)
	evaluator := flowtrigger.NewEvaluator(logger, persistence, eventBus, flowtrig.NewTrigger(logger))

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orchestrator := NewOrchestrator(orchestratorID, persistence, eventBus, service, evaluator, limiter, logger)

	return orchestrator.Start(ctx)
}
