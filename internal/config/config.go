package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	RabbitMQ     RabbitMQConfig     `yaml:"rabbitmq"`
	Redis        RedisConfig        `yaml:"redis"`
	Logging      LoggingConfig      `yaml:"logging"`
	App          AppConfig          `yaml:"app"`
	Worker       WorkerConfig       `yaml:"worker"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Asset        AssetConfig        `yaml:"asset"`
	Player       PlayerConfig       `yaml:"player"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration.
// The establish queue carries establishment messages to the workers, the
// established queue carries their confirmations back to the orchestrator.
type RabbitMQConfig struct {
	Host             string           `yaml:"host"`
	Port             int              `yaml:"port"`
	User             string           `yaml:"user"`
	Password         string           `yaml:"password"`
	VHost            string           `yaml:"vhost"`
	Exchange         ExchangeConfig   `yaml:"exchange"`
	EstablishQueue   QueueConfig      `yaml:"establish_queue"`
	EstablishedQueue QueueConfig      `yaml:"established_queue"`
	Connection       ConnectionConfig `yaml:"connection"`
	Publish          PublishConfig    `yaml:"publish"`
	Consumer         ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	RoutingKey string `yaml:"routing_key"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// RedisConfig holds the coordination store connection settings
type RedisConfig struct {
	Addr          string        `yaml:"addr"`
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`
	DB            int           `yaml:"db"`
	PoolSize      int           `yaml:"pool_size"`
	DialTimeout   time.Duration `yaml:"dial_timeout"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	TimeFormat string `yaml:"time_format"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	HeartbeatTTL      time.Duration `yaml:"heartbeat_ttl"`
	StatusTTL         time.Duration `yaml:"status_ttl"`
	PlayerTimeout     time.Duration `yaml:"player_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// OrchestratorConfig holds liveness polling and resurrection settings
type OrchestratorConfig struct {
	PollInterval             time.Duration `yaml:"poll_interval"`
	MissedHeartbeatTolerance time.Duration `yaml:"missed_heartbeat_tolerance"`
	MasterHeartbeatInterval  time.Duration `yaml:"master_heartbeat_interval"`
	MasterHeartbeatTTL       time.Duration `yaml:"master_heartbeat_ttl"`
	ResurrectConcurrency     int           `yaml:"resurrect_concurrency"`
	ResurrectRate            float64       `yaml:"resurrect_rate"`
	ResurrectBurst           int           `yaml:"resurrect_burst"`
}

// AssetConfig holds the asset warehouse client settings
type AssetConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

// PlayerConfig holds the playback settings of the worker. Channels lists the
// voice channels of each server in priority order.
type PlayerConfig struct {
	PlaybackDuration time.Duration       `yaml:"playback_duration"`
	Channels         map[string][]string `yaml:"channels"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// ValidateAPIConfig checks the settings the orchestration service needs
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if err := c.validateBrokers(); err != nil {
		return err
	}

	if c.Asset.Endpoint == "" {
		return fmt.Errorf("asset endpoint is required")
	}

	o := c.Orchestrator
	if o.PollInterval <= 0 {
		return fmt.Errorf("orchestrator poll_interval must be greater than 0")
	}

	if o.MissedHeartbeatTolerance < o.PollInterval {
		return fmt.Errorf("orchestrator missed_heartbeat_tolerance (%s) must be at least poll_interval (%s)",
			o.MissedHeartbeatTolerance, o.PollInterval)
	}

	if o.MasterHeartbeatInterval <= 0 {
		return fmt.Errorf("orchestrator master_heartbeat_interval must be greater than 0")
	}

	if o.MasterHeartbeatTTL <= o.MasterHeartbeatInterval {
		return fmt.Errorf("orchestrator master_heartbeat_ttl (%s) must exceed master_heartbeat_interval (%s)",
			o.MasterHeartbeatTTL, o.MasterHeartbeatInterval)
	}

	if o.ResurrectConcurrency < 0 || o.ResurrectRate < 0 || o.ResurrectBurst < 0 {
		return fmt.Errorf("orchestrator resurrection limits must not be negative")
	}

	return nil
}

// ValidateWorkerConfig checks the settings the worker service needs
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateBrokers(); err != nil {
		return err
	}

	if c.Worker.HeartbeatInterval <= 0 {
		return fmt.Errorf("worker heartbeat_interval must be greater than 0")
	}

	if c.Worker.HeartbeatTTL <= c.Worker.HeartbeatInterval {
		return fmt.Errorf("worker heartbeat_ttl (%s) must exceed heartbeat_interval (%s)",
			c.Worker.HeartbeatTTL, c.Worker.HeartbeatInterval)
	}

	if c.Worker.StatusTTL < 0 {
		return fmt.Errorf("worker status_ttl must not be negative")
	}

	if c.Worker.PlayerTimeout <= 0 {
		return fmt.Errorf("worker player_timeout must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	return nil
}

func (c *Config) validateBrokers() error {
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.EstablishQueue.Name == "" {
		return fmt.Errorf("rabbitmq establish queue name is required")
	}

	if c.RabbitMQ.EstablishedQueue.Name == "" {
		return fmt.Errorf("rabbitmq established queue name is required")
	}

	if c.RabbitMQ.EstablishQueue.Name == c.RabbitMQ.EstablishedQueue.Name {
		return fmt.Errorf("rabbitmq establish and established queues must differ")
	}

	if c.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required")
	}

	return nil
}
