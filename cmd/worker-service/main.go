package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuongbtq/soundcron/internal/config"
	"github.com/cuongbtq/soundcron/internal/coordination"
	"github.com/cuongbtq/soundcron/internal/player"
	"github.com/cuongbtq/soundcron/internal/queue"
	"github.com/cuongbtq/soundcron/internal/worker"
	"github.com/cuongbtq/soundcron/shared/logger"
	"github.com/cuongbtq/soundcron/shared/rabbitmq"
	"github.com/cuongbtq/soundcron/shared/redis"
	"github.com/google/uuid"
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

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	workerID := uuid.NewString()
	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("worker_id", workerID),
	)

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

	consumer := queue.NewRabbitMQ(rabbitClient, routes(&cfg.RabbitMQ), workerID, appLogger.Component("queue").Logger)
	store := coordination.NewRedis(redisClient.GetClient(), appLogger.Component("coordination").Logger)
	p := player.NewLogPlayer(
		player.StaticResolver(cfg.Player.Channels),
		cfg.Player.PlaybackDuration,
		appLogger.Component("player").Logger,
	)

	workerInstance := worker.NewWorker(worker.Config{
		ID:                workerID,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		HeartbeatTTL:      cfg.Worker.HeartbeatTTL,
		StatusTTL:         cfg.Worker.StatusTTL,
		PlayerTimeout:     cfg.Worker.PlayerTimeout,
		ShutdownTimeout:   cfg.Worker.ShutdownTimeout,
	}, consumer, store, p, appLogger.Component("worker").Logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appLogger.Info("Worker service started successfully")

	// Start returns on a signal, or when the worker has been written off.
	// The supervisor restarts a terminated worker under a new identity.
	err = workerInstance.Start(ctx)
	if errors.Is(err, worker.ErrTerminated) {
		appLogger.Error("Worker terminated", slog.Any("error", err))
		return err
	}
	if err != nil {
		return fmt.Errorf("worker failed: %w", err)
	}

	appLogger.Info("Worker service shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:      cfg.Level,
		Format:     cfg.Format,
		TimeFormat: cfg.TimeFormat,
	})
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
