// Package main is the entry point for the fieldtasks service. It serves the
// task API and runs accepted tasks on an in-process worker pool.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"fieldtasks/internal/config"
	"fieldtasks/internal/controller"
	"fieldtasks/internal/controller/handlers"
	"fieldtasks/internal/logger"
	"fieldtasks/internal/observability"
	"fieldtasks/internal/persist"
	"fieldtasks/internal/pipeline"
	"fieldtasks/internal/process"
	"fieldtasks/internal/store"
	"fieldtasks/internal/store/memory"
	"fieldtasks/internal/store/postgres"
	"fieldtasks/internal/tasks"
	"fieldtasks/internal/webhook"
	"fieldtasks/internal/worker"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/sync/errgroup"
)

const serviceName = "fieldtasks"

func main() {
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	configPath := flag.String("config", "", "Path to config file (default: fieldtasks.yaml in current directory)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	if err := run(cfg, *migrateFlag, log); err != nil {
		log.Error("fieldtasks stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, migrate bool, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing
	shutdownTracer, err := observability.InitTracer(ctx, serviceName, cfg.OTELEndpoint)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Warn("failed to shutdown tracer", "error", err)
		}
	}()

	// Metrics
	metricsHandler, shutdownMetrics, err := observability.InitMetrics(ctx, serviceName)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Warn("failed to shutdown metrics", "error", err)
		}
	}()

	// Job history
	history, err := openStore(ctx, cfg, migrate, log)
	if err != nil {
		return err
	}
	defer history.Close()

	// Artifact storage
	sink, err := persist.New(ctx, persist.Config{
		Backend:         cfg.Persist,
		StaticPath:      cfg.StaticPath,
		StaticURIPrefix: cfg.StaticURIPrefix,
		Bucket:          cfg.S3BucketName,
		Region:          cfg.AWSRegion,
		Logger:          log.With("component", "persist"),
	})
	if err != nil {
		return fmt.Errorf("init persistence: %w", err)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}

	supervisor := process.NewSupervisor(process.SupervisorConfig{
		Logger:          log.With("component", "process"),
		DiagnosticLimit: cfg.DiagnosticLimit,
	})
	executor := pipeline.New(supervisor, sink, pipeline.Config{
		Logger:    log.With("component", "pipeline"),
		KillGrace: cfg.KillGrace,
	})
	fetcher := tasks.NewFetcher(
		&http.Client{Timeout: cfg.TaskTimeout},
		s3.NewFromConfig(awsCfg),
		log.With("component", "fetch"),
	)
	runner := tasks.NewRunner(executor, supervisor, fetcher, tasks.Config{
		PaperDir:   cfg.PaperDir,
		DecoderDir: cfg.DecoderDir,
		APIBaseURL: cfg.APIBaseURL,
		Timeout:    cfg.TaskTimeout,
		Logger:     log.With("component", "tasks"),
	})

	notifier := webhook.New(webhook.Config{
		Timeout:    cfg.WebhookTimeout,
		MaxElapsed: cfg.WebhookMaxElapsed,
		Logger:     log.With("component", "webhook"),
	})

	agent := worker.New(runner, notifier, history, worker.AgentConfig{
		Concurrency: cfg.WorkerConcurrency,
		QueueSize:   cfg.QueueSize,
		Logger:      log.With("component", "worker"),
	})

	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	srv := controller.New(addr, handlers.New(history, agent, log.With("component", "http")), controller.Options{
		APIToken:       cfg.APIToken,
		RateLimit:      cfg.RateLimit,
		RateLimitBurst: cfg.RateLimitBurst,
		Metrics:        metricsHandler,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("fieldtasks starting", "addr", addr, "persist", cfg.Persist)
		return srv.Run(gctx)
	})
	g.Go(func() error {
		err := agent.Run(gctx)
		if gctx.Err() != nil {
			return nil
		}
		return err
	})

	// Run returns once queued and in-flight tasks have drained.
	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("fieldtasks exited properly")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, migrate bool, log *slog.Logger) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		log.Info("no database configured, keeping job history in memory")
		return memory.New(), nil
	}

	if migrate {
		log.Info("running database migrations")
	}
	pg, err := postgres.New(ctx, cfg.DatabaseURL, migrate)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return pg, nil
}
