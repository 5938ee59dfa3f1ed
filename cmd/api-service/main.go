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

	"github.com/cuongbtq/soundcron/internal/api/handler"
	"github.com/cuongbtq/soundcron/internal/api/router"
	"github.com/cuongbtq/soundcron/internal/asset"
	"github.com/cuongbtq/soundcron/internal/config"
	"github.com/cuongbtq/soundcron/internal/coordination"
	"github.com/cuongbtq/soundcron/internal/orchestrator"
	"github.com/cuongbtq/soundcron/internal/queue"
	"github.com/cuongbtq/soundcron/internal/repository"
	"github.com/cuongbtq/soundcron/shared/logger"
	"github.com/cuongbtq/soundcron/shared/postgresql"
	"github.com/cuongbtq/soundcron/shared/rabbitmq"
	"github.com/cuongbtq/soundcron/shared/redis"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
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

	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	repo := repository.NewPostgres(dbClient.GetDB(), appLogger.Component("repository").Logger)
	if err := repo.EnsureSchema(context.Background()); err != nil {
		return fmt.Errorf("failed to prepare schema: %w", err)
	}

	redisClient, err := initRedis(&cfg.Redis, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}
	defer redisClient.Close()

	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	appLogger.Info("Backends connected")

	hostname, _ := os.Hostname()
	producer := queue.NewRabbitMQ(rabbitClient, routes(&cfg.RabbitMQ), "orchestrator-"+hostname, appLogger.Component("queue").Logger)
	coord := coordination.NewRedis(redisClient.GetClient(), appLogger.Component("coordination").Logger)
	assets := asset.NewWarehouse(cfg.Asset.Endpoint, cfg.Asset.Timeout, appLogger.Component("asset").Logger)

	svc := orchestrator.New(orchestrator.Config{
		PollInterval:             cfg.Orchestrator.PollInterval,
		MissedHeartbeatTolerance: cfg.Orchestrator.MissedHeartbeatTolerance,
		MasterHeartbeatInterval:  cfg.Orchestrator.MasterHeartbeatInterval,
		MasterHeartbeatTTL:       cfg.Orchestrator.MasterHeartbeatTTL,
		ResurrectConcurrency:     cfg.Orchestrator.ResurrectConcurrency,
		ResurrectRate:            cfg.Orchestrator.ResurrectRate,
		ResurrectBurst:           cfg.Orchestrator.ResurrectBurst,
	}, repo, producer, coord, assets, appLogger.Logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 2)
	go func() {
		if err := svc.Run(ctx); err != nil {
			errChan <- fmt.Errorf("orchestrator stopped: %w", err)
		}
	}()

	r := initRouter(cfg.App.Environment, appLogger.Logger, svc, map[string]handler.HealthChecker{
		"postgres": dbClient,
		"redis":    redisClient,
		"rabbitmq": rabbitClient,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server failed: %w", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case runErr = <-errChan:
		appLogger.Error("API service failed", slog.Any("error", runErr))
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return errors.Join(runErr, err)
	}

	appLogger.Info("Server shutdown complete")
	return runErr
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:      cfg.Level,
		Format:     cfg.Format,
		TimeFormat: cfg.TimeFormat,
	})
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	return postgresql.NewClient(&postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		RetryAttempts:   5,
		RetryInterval:   2 * time.Second,
	}, logger)
}

// initRedis initializes the coordination store client
func initRedis(cfg *config.RedisConfig, logger *slog.Logger) (*redis.Client, error) {
	return redis.NewClient(&redis.Config{
		Addr:          cfg.Addr,
		Username:      cfg.Username,
		Password:      cfg.Password,
		DB:            cfg.DB,
		PoolSize:      cfg.PoolSize,
		DialTimeout:   cfg.DialTimeout,
		ReadTimeout:   cfg.ReadTimeout,
		WriteTimeout:  cfg.WriteTimeout,
		RetryAttempts: cfg.RetryAttempts,
		RetryInterval: cfg.RetryInterval,
	}, logger)
}

// initRabbitMQ initializes the RabbitMQ client with both message flows
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(&rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		Queues: []rabbitmq.QueueBinding{
			binding(cfg.EstablishQueue),
			binding(cfg.EstablishedQueue),
		},
		PrefetchCount:      cfg.Consumer.PrefetchCount,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}, logger)
}

func binding(q config.QueueConfig) rabbitmq.QueueBinding {
	return rabbitmq.QueueBinding{
		Name:       q.Name,
		RoutingKey: q.RoutingKey,
		Durable:    q.Durable,
		AutoDelete: q.AutoDelete,
		Exclusive:  q.Exclusive,
	}
}

func routes(cfg *config.RabbitMQConfig) queue.Routes {
	return queue.Routes{
		EstablishQueue:        cfg.EstablishQueue.Name,
		EstablishRoutingKey:   cfg.EstablishQueue.RoutingKey,
		EstablishedQueue:      cfg.EstablishedQueue.Name,
		EstablishedRoutingKey: cfg.EstablishedQueue.RoutingKey,
	}
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(environment string, logger *slog.Logger, svc handler.Orchestrator, checks map[string]handler.HealthChecker) *gin.Engine {
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(&handler.Dependencies{
		Logger:       logger,
		Orchestrator: svc,
		Checks:       checks,
	})
}
