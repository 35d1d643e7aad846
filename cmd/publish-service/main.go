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
	"github.com/joho/godotenv"

	"github.com/cuongbtq/content-publisher/internal/api/handler"
	"github.com/cuongbtq/content-publisher/internal/api/router"
	"github.com/cuongbtq/content-publisher/internal/config"
	"github.com/cuongbtq/content-publisher/internal/dispatch"
	"github.com/cuongbtq/content-publisher/internal/events"
	"github.com/cuongbtq/content-publisher/internal/feed"
	"github.com/cuongbtq/content-publisher/internal/idempotency"
	"github.com/cuongbtq/content-publisher/internal/registry"
	"github.com/cuongbtq/content-publisher/shared/logger"
	"github.com/cuongbtq/content-publisher/shared/rabbitmq"
	"github.com/cuongbtq/content-publisher/shared/tracing"
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

	defaultConfigPath := os.Getenv("PUBLISH_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/publish-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting publish service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.Int("job_classes", len(cfg.JobClasses)),
	)

	shutdownTracing, err := tracing.Init(&tracing.Config{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    cfg.App.Name,
		ServiceVersion: cfg.App.Version,
		SampleRatio:    cfg.Tracing.SampleRatio,
		Exporter:       cfg.Tracing.Exporter,
		Output:         cfg.Tracing.Output,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startCancel()

	store, err := idempotency.Open(startCtx, &cfg.Idempotency, &cfg.Database, appLogger.Component("idempotency"))
	if err != nil {
		return fmt.Errorf("failed to initialize idempotency store: %w", err)
	}
	appLogger.Info("Idempotency store ready",
		slog.String("driver", cfg.Idempotency.Driver),
	)

	var notifier events.Notifier = events.NopNotifier{}
	var rabbitClient *rabbitmq.Client
	if cfg.RabbitMQ.Enabled {
		rabbitClient, err = initRabbitMQ(startCtx, &cfg.RabbitMQ, appLogger.Component("rabbitmq"))
		if err != nil {
			_ = store.Close()
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		notifier = events.NewRabbitNotifier(rabbitClient, cfg.RabbitMQ.RoutingKeyPrefix, appLogger.Component("events"))
		appLogger.Info("RabbitMQ connection established")
	}

	reg := registry.New()
	dispatcher := dispatch.New(&dispatch.Config{
		Logger:     appLogger.Component("dispatch"),
		Registry:   reg,
		Store:      store,
		Notifier:   notifier,
		JobClasses: cfg.JobClasses,
	})

	poller, err := feed.NewPoller(&feed.Config{
		Logger:    appLogger.Component("feed"),
		Feeds:     cfg.Feeds,
		Submitter: dispatcher,
		Store:     store,
		Registry:  reg,
	})
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("failed to initialize feed poller: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dispatcher.Start(ctx)
	poller.Start()

	r := initRouter(cfg, appLogger.Logger, dispatcher, reg, store)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	appLogger.Info("Publish service is running",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-serverErr:
		appLogger.Error("Server failed",
			slog.String("error", err.Error()),
		)
		runErr = err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// reverse start order: stop intake first, then drain workers, then release backends
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.String("error", err.Error()),
		)
	}
	if err := poller.Stop(shutdownCtx); err != nil {
		appLogger.Warn("Feed poller did not stop in time",
			slog.String("error", err.Error()),
		)
	}
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		// an in-flight publish may still need the store to record its success
		appLogger.Error("Workers did not stop in time, leaving backends open",
			slog.String("error", err.Error()),
		)
		return errors.Join(runErr, err)
	}
	cancel()

	if rabbitClient != nil {
		if err := rabbitClient.Close(); err != nil {
			appLogger.Warn("Failed to close RabbitMQ client",
				slog.String("error", err.Error()),
			)
		}
	}
	if err := store.Close(); err != nil {
		appLogger.Warn("Failed to close idempotency store",
			slog.String("error", err.Error()),
		)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		appLogger.Warn("Failed to flush traces",
			slog.String("error", err.Error()),
		)
	}

	appLogger.Info("Publish service shutdown complete")
	return runErr
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
}

// initRabbitMQ connects the task event publisher
func initRabbitMQ(ctx context.Context, cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
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
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(ctx, rabbitConfig, logger)
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(cfg *config.Config, logger *slog.Logger, dispatcher *dispatch.Dispatcher, reg *registry.Registry, store idempotency.Store) *gin.Engine {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(&handler.Dependencies{
		Logger:      logger,
		ServiceName: cfg.App.Name,
		Dispatcher:  dispatcher,
		Registry:    reg,
		Store:       store,
	}, cfg.Server.RateLimit)
}
