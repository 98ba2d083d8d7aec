package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Storage drivers
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Payment providers
const (
	PaymentHTTP    = "http"
	PaymentSandbox = "sandbox"
)

// Idempotency backends
const (
	IdempotencyRedis  = "redis"
	IdempotencyMemory = "memory"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	RabbitMQ      RabbitMQConfig      `yaml:"rabbitmq"`
	Redis         RedisConfig         `yaml:"redis"`
	Logging       LoggingConfig       `yaml:"logging"`
	App           AppConfig           `yaml:"app"`
	Worker        WorkerConfig        `yaml:"worker"`
	Dispatch      DispatchConfig      `yaml:"dispatch"`
	Storage       StorageConfig       `yaml:"storage"`
	Payment       PaymentConfig       `yaml:"payment"`
	Broadcast     BroadcastConfig     `yaml:"broadcast"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Idempotency   IdempotencyConfig   `yaml:"idempotency"`
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

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host        string           `yaml:"host"`
	Port        int              `yaml:"port"`
	User        string           `yaml:"user"`
	Password    string           `yaml:"password"`
	VHost       string           `yaml:"vhost"`
	Exchange    ExchangeConfig   `yaml:"exchange"`
	Queue       QueueConfig      `yaml:"queue"`
	BindingKeys []string         `yaml:"binding_keys"`
	Connection  ConnectionConfig `yaml:"connection"`
	Publish     PublishConfig    `yaml:"publish"`
	Consumer    ConsumerConfig   `yaml:"consumer"`
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

// RedisConfig holds Redis connection settings. Redis backs the
// cross-instance event relay and idempotency keys.
type RedisConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	ID              string        `yaml:"id"`
	Concurrency     int           `yaml:"concurrency"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DispatchConfig holds the lifecycle and matching constants. Zero values
// fall back to the built-in defaults.
type DispatchConfig struct {
	MatchingWindow      time.Duration      `yaml:"matching_window"`
	ContactWindow       time.Duration      `yaml:"contact_window"`
	PenaltyAmountCents  int64              `yaml:"penalty_amount_cents"`
	PenaltyReason       string             `yaml:"penalty_reason"`
	NoShowReason        string             `yaml:"no_show_reason"`
	GeofenceMiles       float64            `yaml:"geofence_miles"`
	MaxCandidates       int                `yaml:"max_candidates"`
	RadiusMiles         float64            `yaml:"radius_miles"`
	ExpandedRadiusMiles float64            `yaml:"expanded_radius_miles"`
	OfferTTL            time.Duration      `yaml:"offer_ttl"`
	ProximityWeight     float64            `yaml:"proximity_weight"`
	RatingWeight        float64            `yaml:"rating_weight"`
	FeePercent          map[string]float64 `yaml:"fee_percent"`
	TierMultipliers     map[string]float64 `yaml:"tier_multipliers"`
}

// StorageConfig selects the repository backend
type StorageConfig struct {
	Driver  string `yaml:"driver"`
	Migrate bool   `yaml:"migrate"`
}

// PaymentConfig selects and configures the payment gateway
type PaymentConfig struct {
	Provider string        `yaml:"provider"`
	BaseURL  string        `yaml:"base_url"`
	APIKey   string        `yaml:"api_key"`
	Currency string        `yaml:"currency"`
	Timeout  time.Duration `yaml:"timeout"`
}

// BroadcastConfig holds live event fan-out settings
type BroadcastConfig struct {
	BufferSize           int    `yaml:"buffer_size"`
	InstanceID           string `yaml:"instance_id"`
	RelayEnabled         bool   `yaml:"relay_enabled"`
	RelayChannel         string `yaml:"relay_channel"`
	RelayQueueSize       int    `yaml:"relay_queue_size"`
	PublishNotifications bool   `yaml:"publish_notifications"`
	NotifyQueueSize      int    `yaml:"notify_queue_size"`
}

// NotificationsConfig holds webhook delivery settings for the worker
type NotificationsConfig struct {
	WebhookURL   string        `yaml:"webhook_url"`
	WebhookToken string        `yaml:"webhook_token"`
	MaxAttempts  int           `yaml:"max_attempts"`
	Timeout      time.Duration `yaml:"timeout"`
	ClaimLease   time.Duration `yaml:"claim_lease"`
}

// IdempotencyConfig holds Idempotency-Key handling settings
type IdempotencyConfig struct {
	Enabled bool          `yaml:"enabled"`
	Backend string        `yaml:"backend"`
	TTL     time.Duration `yaml:"ttl"`
}

// envOverrides are the settings that may come from the environment
// instead of the config file. Unset variables leave the file value alone.
type envOverrides struct {
	DBHost           string `env:"DB_HOST"`
	DBPassword       string `env:"DB_PASSWORD"`
	RabbitMQHost     string `env:"RABBITMQ_HOST"`
	RabbitMQPassword string `env:"RABBITMQ_PASSWORD"`
	RedisAddr        string `env:"REDIS_ADDR"`
	RedisPassword    string `env:"REDIS_PASSWORD"`
	PaymentBaseURL   string `env:"PAYMENT_BASE_URL"`
	PaymentAPIKey    string `env:"PAYMENT_API_KEY"`
	NotifyWebhookURL string `env:"NOTIFY_WEBHOOK_URL"`
}

// Load reads and parses the configuration file, then applies environment overrides
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.applyEnv(); err != nil {
		return nil, fmt.Errorf("failed to read environment overrides: %w", err)
	}

	return &config, nil
}

func (c *Config) applyEnv() error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return err
	}

	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.Database.Host, o.DBHost)
	set(&c.Database.Password, o.DBPassword)
	set(&c.RabbitMQ.Host, o.RabbitMQHost)
	set(&c.RabbitMQ.Password, o.RabbitMQPassword)
	set(&c.Redis.Addr, o.RedisAddr)
	set(&c.Redis.Password, o.RedisPassword)
	set(&c.Payment.BaseURL, o.PaymentBaseURL)
	set(&c.Payment.APIKey, o.PaymentAPIKey)
	set(&c.Notifications.WebhookURL, o.NotifyWebhookURL)
	return nil
}

// StorageDriver returns the configured driver, postgres when unset
func (c *Config) StorageDriver() string {
	if c.Storage.Driver == "" {
		return StoragePostgres
	}
	return c.Storage.Driver
}

// PaymentProvider returns the configured gateway, sandbox when unset
func (c *Config) PaymentProvider() string {
	if c.Payment.Provider == "" {
		return PaymentSandbox
	}
	return c.Payment.Provider
}

// IdempotencyBackend returns the configured key store, redis when Redis is
// enabled and memory otherwise
func (c *Config) IdempotencyBackend() string {
	if c.Idempotency.Backend != "" {
		return c.Idempotency.Backend
	}
	if c.Redis.Enabled {
		return IdempotencyRedis
	}
	return IdempotencyMemory
}

// ValidateAPIConfig checks the settings the API service needs
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.ValidateDispatchConfig(); err != nil {
		return err
	}

	if c.Broadcast.PublishNotifications {
		if err := c.validateRabbitMQ(false); err != nil {
			return err
		}
	}

	if c.Broadcast.RelayEnabled && !c.Redis.Enabled {
		return fmt.Errorf("broadcast relay requires redis to be enabled")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required")
	}

	if c.Idempotency.Enabled {
		switch c.IdempotencyBackend() {
		case IdempotencyMemory:
		case IdempotencyRedis:
			if !c.Redis.Enabled {
				return fmt.Errorf("redis idempotency backend requires redis to be enabled")
			}
		default:
			return fmt.Errorf("invalid idempotency backend: %q", c.Idempotency.Backend)
		}
		if c.Idempotency.TTL < 0 {
			return fmt.Errorf("idempotency ttl must not be negative")
		}
	}

	return nil
}

// ValidateWorkerConfig checks the settings the notification worker needs
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}

	if err := c.validateRabbitMQ(true); err != nil {
		return err
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	if c.Notifications.WebhookURL == "" {
		return fmt.Errorf("notifications webhook_url is required")
	}

	if c.Notifications.MaxAttempts <= 0 {
		return fmt.Errorf("notifications max_attempts must be greater than 0")
	}

	return nil
}

// ValidateDispatchConfig checks storage, payment and the lifecycle
// constants. Anything that runs the dispatch service needs these.
func (c *Config) ValidateDispatchConfig() error {
	switch c.StorageDriver() {
	case StoragePostgres:
		if err := c.validateDatabase(); err != nil {
			return err
		}
	case StorageMemory:
	default:
		return fmt.Errorf("invalid storage driver: %q", c.Storage.Driver)
	}

	switch c.PaymentProvider() {
	case PaymentSandbox:
	case PaymentHTTP:
		if c.Payment.BaseURL == "" {
			return fmt.Errorf("payment base_url is required for the http provider")
		}
	default:
		return fmt.Errorf("invalid payment provider: %q", c.Payment.Provider)
	}

	d := c.Dispatch
	if d.MatchingWindow < 0 || d.ContactWindow < 0 || d.OfferTTL < 0 {
		return fmt.Errorf("dispatch windows must not be negative")
	}
	if d.PenaltyAmountCents < 0 {
		return fmt.Errorf("dispatch penalty_amount_cents must not be negative")
	}
	if d.GeofenceMiles < 0 {
		return fmt.Errorf("dispatch geofence_miles must not be negative")
	}
	if d.MaxCandidates < 0 {
		return fmt.Errorf("dispatch max_candidates must not be negative")
	}
	if d.RadiusMiles < 0 || d.ExpandedRadiusMiles < 0 {
		return fmt.Errorf("dispatch radius must not be negative")
	}
	if d.ExpandedRadiusMiles > 0 && d.ExpandedRadiusMiles < d.RadiusMiles {
		return fmt.Errorf("dispatch expanded_radius_miles (%.1f) must be at least radius_miles (%.1f)", d.ExpandedRadiusMiles, d.RadiusMiles)
	}
	if d.ProximityWeight < 0 || d.RatingWeight < 0 {
		return fmt.Errorf("dispatch ranking weights must not be negative")
	}
	for tier, pct := range d.FeePercent {
		if pct < 0 || pct > 100 {
			return fmt.Errorf("dispatch fee_percent for %s must be between 0 and 100, got %.2f", tier, pct)
		}
	}
	for tier, m := range d.TierMultipliers {
		if m <= 0 {
			return fmt.Errorf("dispatch tier_multipliers for %s must be positive", tier)
		}
	}

	return nil
}

func (c *Config) validateDatabase() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	return nil
}

func (c *Config) validateRabbitMQ(needQueue bool) error {
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if needQueue && c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	return nil
}
