package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/awslabs/aws-codepipeline-custom-job-worker/internal/api/handler"
	"github.com/awslabs/aws-codepipeline-custom-job-worker/internal/api/router"
	"github.com/awslabs/aws-codepipeline-custom-job-worker/internal/config"
	"github.com/awslabs/aws-codepipeline-custom-job-worker/internal/events"
	"github.com/awslabs/aws-codepipeline-custom-job-worker/internal/processor"
	"github.com/awslabs/aws-codepipeline-custom-job-worker/internal/source/codepipeline"
	"github.com/awslabs/aws-codepipeline-custom-job-worker/internal/storage"
	"github.com/awslabs/aws-codepipeline-custom-job-worker/internal/tracing"
	"github.com/awslabs/aws-codepipeline-custom-job-worker/internal/worker"
	"github.com/awslabs/aws-codepipeline-custom-job-worker/internal/worker/domain"
	"github.com/awslabs/aws-codepipeline-custom-job-worker/shared/database"
	"github.com/awslabs/aws-codepipeline-custom-job-worker/shared/logger"
	"github.com/awslabs/aws-codepipeline-custom-job-worker/shared/rabbitmq"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("JOB_WORKER_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/job-worker/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	workerID := newWorkerID()
	appLogger.Info("Starting job worker",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("worker_id", workerID),
		slog.String("source", cfg.Source.Type),
	)

	shutdownTracer, err := tracing.InitTracer(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.App.Name,
		Output:      cfg.Tracing.Output,
		PrettyPrint: cfg.Tracing.PrettyPrint,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			appLogger.Error("Failed to flush traces", slog.String("error", err.Error()))
		}
	}()

	// ctx lives until the process exits; polls in flight use it
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		source    domain.JobSource
		jobStore  *storage.Storage
		resources []func() error
	)
	healthChecks := map[string]handler.HealthChecker{}
	defer func() {
		for i := len(resources) - 1; i >= 0; i-- {
			if err := resources[i](); err != nil {
				appLogger.Error("Failed to release resource", slog.String("error", err.Error()))
			}
		}
	}()

	if cfg.UsesSQL() {
		dbClient, err := initDatabase(cfg, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		resources = append(resources, dbClient.Close)
		healthChecks["database"] = dbClient

		jobStore = storage.NewStorage(dbClient.GetDB(), appLogger.Logger, storage.Options{
			LeaseDuration: cfg.Source.LeaseDuration,
			MaxAttempts:   cfg.Source.MaxAttempts,
		})
		if err := jobStore.Migrate(ctx); err != nil {
			return err
		}
		source = jobStore
	} else {
		source, err = initCodePipelineSource(ctx, cfg, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize job source: %w", err)
		}
	}

	if cfg.Source.Events {
		rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		resources = append(resources, rabbitClient.Close)
		healthChecks["rabbitmq"] = rabbitClient

		source, err = events.NewNotifyingSource(source, rabbitClient, cfg.RabbitMQ.Publish.Timeout, appLogger.Logger)
		if err != nil {
			return err
		}
		appLogger.Info("Publishing job events", slog.String("exchange", cfg.RabbitMQ.Exchange.Name))
	}

	pool, err := worker.NewPool(&worker.PoolConfig{
		Logger: appLogger.Logger,
		Name:   workerID,
		Size:   cfg.Worker.Concurrency,
	})
	if err != nil {
		return err
	}

	dispatcher, err := worker.NewDispatcher(&worker.DispatcherConfig{
		Logger:      appLogger.Logger,
		Source:      source,
		Processor:   processor.NewSampleProcessor(appLogger.Logger),
		Pool:        pool,
		BatchSize:   cfg.Worker.BatchSize,
		TaskTimeout: cfg.Worker.TaskTimeout,
	})
	if err != nil {
		return err
	}

	daemon, err := worker.NewDaemon(&worker.DaemonConfig{
		Logger:       appLogger.Logger,
		Dispatcher:   dispatcher,
		Pool:         pool,
		PollInterval: cfg.Worker.PollInterval,
		Schedule:     cfg.Worker.PollSchedule,
	})
	if err != nil {
		return err
	}

	var srv *http.Server
	if cfg.HTTP.Enabled {
		deps := &handler.Dependencies{
			Logger:       appLogger.Logger,
			Pool:         pool,
			WorkerID:     workerID,
			Source:       cfg.Source.Type,
			ActionType:   cfg.Source.ActionType.String(),
			StartedAt:    time.Now(),
			HealthChecks: healthChecks,
		}
		if jobStore != nil {
			deps.Jobs = jobStore
		}
		srv = startHTTPServer(cfg, deps, appLogger.Logger)
	}

	if err := daemon.Start(ctx); err != nil {
		return err
	}
	appLogger.Info("Job worker is running",
		slog.Int("concurrency", cfg.Worker.Concurrency),
		slog.Int("batch_size", cfg.Worker.BatchSize),
		slog.Duration("poll_interval", cfg.Worker.PollInterval),
	)

	quit := make(chan os.Signal, 2)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	appLogger.Info("Received signal, shutting down gracefully",
		slog.String("signal", sig.String()),
		slog.Duration("grace", cfg.Worker.ShutdownGrace),
	)

	// a second signal interrupts the graceful wait
	stopCtx, stopCancel := context.WithCancel(context.Background())
	defer stopCancel()
	go func() {
		select {
		case sig := <-quit:
			appLogger.Warn("Received second signal, forcing shutdown", slog.String("signal", sig.String()))
			stopCancel()
		case <-stopCtx.Done():
		}
	}()

	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(stopCtx, cfg.HTTP.ShutdownTimeout)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("HTTP server forced to shutdown", slog.String("error", err.Error()))
		}
		shutdownCancel()
	}

	stopErr := daemon.Stop(stopCtx, cfg.Worker.ShutdownGrace)
	cancel()
	if stopErr != nil {
		appLogger.Error("Job worker did not stop cleanly",
			slog.String("error", stopErr.Error()),
			slog.Int("dropped_tasks", pool.Dropped()),
		)
		return stopErr
	}

	appLogger.Info("Job worker shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = time.RFC3339
	}

	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableSource,
		TimeFormat:   timeFormat,
	})
}

// initDatabase opens the job table database for the sql source types
func initDatabase(cfg *config.Config, logger *slog.Logger) (*database.Client, error) {
	dbConfig := &database.Config{
		Driver:          database.DriverPostgres,
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	}
	if cfg.Source.Type == config.SourceSQLite {
		dbConfig.Driver = database.DriverSQLite
		dbConfig.Path = cfg.Source.SQLitePath
	}

	return database.NewClient(dbConfig, logger)
}

// initCodePipelineSource builds the custom action or third-party source
func initCodePipelineSource(ctx context.Context, cfg *config.Config, logger *slog.Logger) (domain.JobSource, error) {
	client, err := codepipeline.NewClient(ctx, cfg.Source.Region)
	if err != nil {
		return nil, err
	}

	if cfg.Source.Type == config.SourceThirdParty {
		tokens := &codepipeline.MapClientTokenProvider{
			Tokens:  cfg.Source.ClientTokens,
			Default: cfg.Source.DefaultClientToken,
		}
		return codepipeline.NewThirdPartySource(client, cfg.Source.ActionType, tokens, logger)
	}
	return codepipeline.NewCustomActionSource(client, cfg.Source.ActionType, logger)
}

// initRabbitMQ initializes the RabbitMQ client used for job events
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		RoutingKeyPrefix:   cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// startHTTPServer serves the admin API in the background
func startHTTPServer(cfg *config.Config, deps *handler.Dependencies, logger *slog.Logger) *http.Server {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router.SetupRouter(deps),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", slog.String("error", err.Error()))
		}
	}()

	logger.Info("Starting HTTP server", slog.String("address", addr))
	return srv
}

// newWorkerID names this process in logs and on /status
func newWorkerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "job-worker"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}
