// Package bootstrap turns a loaded config into the clients and services
// the binaries run.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cuongbtq/dispatch-be/internal/config"
	"github.com/cuongbtq/dispatch-be/internal/dispatch/domain"
	"github.com/cuongbtq/dispatch-be/internal/dispatch/matching"
	"github.com/cuongbtq/dispatch-be/internal/dispatch/payment"
	"github.com/cuongbtq/dispatch-be/internal/dispatch/service"
	"github.com/cuongbtq/dispatch-be/internal/dispatch/store"
	"github.com/cuongbtq/dispatch-be/shared/logger"
	"github.com/cuongbtq/dispatch-be/shared/postgresql"
	"github.com/cuongbtq/dispatch-be/shared/rabbitmq"
	"github.com/cuongbtq/dispatch-be/shared/redisclient"
)

// Logger initializes and configures the application logger
func Logger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
}

// PostgreSQL initializes the PostgreSQL database client
func PostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
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
	}, logger)
}

// RabbitMQ initializes the RabbitMQ client. The API only publishes, so it
// passes withQueue=false and no queue is declared.
func RabbitMQ(cfg *config.RabbitMQConfig, withQueue bool, logger *slog.Logger) (*rabbitmq.Client, error) {
	rc := &rabbitmq.Config{
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
	if withQueue {
		rc.QueueName = cfg.Queue.Name
		rc.QueueDurable = cfg.Queue.Durable
		rc.QueueAutoDelete = cfg.Queue.AutoDelete
		rc.QueueExclusive = cfg.Queue.Exclusive
		rc.BindingKeys = cfg.BindingKeys
	}
	return rabbitmq.NewClient(rc, logger)
}

// Redis initializes the Redis client
func Redis(ctx context.Context, cfg *config.RedisConfig, logger *slog.Logger) (*redis.Client, error) {
	return redisclient.NewClient(ctx, &redisclient.Config{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}, logger)
}

func parseTiers(field string, in map[string]float64) (map[domain.PayoutTier]float64, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make(map[domain.PayoutTier]float64, len(in))
	for name, v := range in {
		tier := domain.PayoutTier(name)
		if !tier.Valid() {
			return nil, fmt.Errorf("dispatch %s: unknown payout tier %q", field, name)
		}
		out[tier] = v
	}
	return out, nil
}

// Policy builds the lifecycle policy, keeping defaults for unset fields
func Policy(cfg config.DispatchConfig) (service.Policy, error) {
	p := service.DefaultPolicy()
	if cfg.MatchingWindow > 0 {
		p.MatchingWindow = cfg.MatchingWindow
	}
	if cfg.ContactWindow > 0 {
		p.ContactWindow = cfg.ContactWindow
	}
	if cfg.PenaltyAmountCents > 0 {
		p.PenaltyAmount = domain.Money(cfg.PenaltyAmountCents)
	}
	if cfg.PenaltyReason != "" {
		p.PenaltyReason = cfg.PenaltyReason
	}
	if cfg.NoShowReason != "" {
		p.NoShowReason = cfg.NoShowReason
	}
	if cfg.GeofenceMiles > 0 {
		p.GeofenceMiles = cfg.GeofenceMiles
	}

	fees, err := parseTiers("fee_percent", cfg.FeePercent)
	if err != nil {
		return service.Policy{}, err
	}
	for tier, pct := range fees {
		p.Fees[tier] = pct
	}
	return p, nil
}

// MatchingConfig maps the ranking settings onto the engine's config
func MatchingConfig(cfg config.DispatchConfig) matching.Config {
	return matching.Config{
		MaxCandidates:       cfg.MaxCandidates,
		RadiusMiles:         cfg.RadiusMiles,
		ExpandedRadiusMiles: cfg.ExpandedRadiusMiles,
		OfferTTL:            cfg.OfferTTL,
		ProximityWeight:     cfg.ProximityWeight,
		RatingWeight:        cfg.RatingWeight,
	}
}

// Gateway selects the payment gateway
func Gateway(cfg *config.Config, fees payment.FeeSchedule, logger *slog.Logger) (payment.Gateway, error) {
	switch cfg.PaymentProvider() {
	case config.PaymentHTTP:
		return payment.NewHTTPGateway(payment.HTTPConfig{
			BaseURL:  cfg.Payment.BaseURL,
			APIKey:   cfg.Payment.APIKey,
			Currency: cfg.Payment.Currency,
			Timeout:  cfg.Payment.Timeout,
		}, logger)
	case config.PaymentSandbox:
		logger.Warn("Using sandbox payment gateway, no real money moves")
		return payment.NewSandbox(fees, logger), nil
	default:
		return nil, fmt.Errorf("invalid payment provider: %q", cfg.Payment.Provider)
	}
}

// Dispatch is a running dispatch service with the resources it owns
type Dispatch struct {
	Service *service.Service
	Store   store.Store
	db      *postgresql.Client
}

// NewDispatch opens the configured store, migrating it when asked, and
// builds the service on top of it.
func NewDispatch(ctx context.Context, cfg *config.Config, publisher service.Publisher, logger *slog.Logger) (*Dispatch, error) {
	policy, err := Policy(cfg.Dispatch)
	if err != nil {
		return nil, err
	}
	multipliers, err := parseTiers("tier_multipliers", cfg.Dispatch.TierMultipliers)
	if err != nil {
		return nil, err
	}

	d := &Dispatch{}
	switch cfg.StorageDriver() {
	case config.StorageMemory:
		logger.Warn("Using in-memory storage, data is lost on restart")
		d.Store = store.NewMemory()
	case config.StoragePostgres:
		db, err := PostgreSQL(&cfg.Database, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		if cfg.Storage.Migrate {
			if err := store.Migrate(ctx, db.GetDB(), logger); err != nil {
				db.Close()
				return nil, fmt.Errorf("failed to migrate database: %w", err)
			}
		}
		d.db = db
		d.Store = store.NewPostgres(db, logger)
	default:
		return nil, fmt.Errorf("invalid storage driver: %q", cfg.Storage.Driver)
	}

	gateway, err := Gateway(cfg, policy.Fees, logger)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to initialize payment gateway: %w", err)
	}

	matcher := matching.NewEngine(MatchingConfig(cfg.Dispatch), matching.NewTierQuoter(multipliers), logger)

	svc, err := service.New(service.Options{
		Store:     d.Store,
		Gateway:   gateway,
		Matcher:   matcher,
		Publisher: publisher,
		Logger:    logger,
		Policy:    policy,
	})
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to initialize dispatch service: %w", err)
	}
	d.Service = svc
	return d, nil
}

// Close releases the database connection, if any
func (d *Dispatch) Close() {
	if d.db != nil {
		d.db.Close()
	}
}
