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
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/cuongbtq/dispatch-be/internal/api/handler"
	"github.com/cuongbtq/dispatch-be/internal/api/idempotency"
	"github.com/cuongbtq/dispatch-be/internal/api/router"
	"github.com/cuongbtq/dispatch-be/internal/bootstrap"
	"github.com/cuongbtq/dispatch-be/internal/config"
	"github.com/cuongbtq/dispatch-be/internal/dispatch/broadcast"
	"github.com/cuongbtq/dispatch-be/shared/rabbitmq"
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

	appLogger, err := bootstrap.Logger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := broadcast.NewHub(broadcast.HubOptions{
		BufferSize: cfg.Broadcast.BufferSize,
		Logger:     appLogger.Logger,
	})

	dispatch, err := bootstrap.NewDispatch(ctx, cfg, hub, appLogger.Logger)
	if err != nil {
		return err
	}
	defer dispatch.Close()

	appLogger.Info("Dispatch service initialized",
		slog.String("storage", cfg.StorageDriver()),
		slog.String("payment", cfg.PaymentProvider()),
	)

	group, groupCtx := errgroup.WithContext(ctx)

	// Notifications go to RabbitMQ for the worker service
	var rabbitClient *rabbitmq.Client
	if cfg.Broadcast.PublishNotifications {
		rabbitClient, err = bootstrap.RabbitMQ(&cfg.RabbitMQ, false, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		defer rabbitClient.Close()
		appLogger.Info("RabbitMQ connection established")

		notifier := broadcast.NewNotificationPublisher(rabbitClient, cfg.Broadcast.NotifyQueueSize, appLogger.Logger)
		hub.AddSink(notifier)
		group.Go(func() error {
			notifier.Run(groupCtx)
			return nil
		})
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = bootstrap.Redis(ctx, &cfg.Redis, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize Redis: %w", err)
		}
		defer redisClient.Close()
	}

	if cfg.Broadcast.RelayEnabled {
		instanceID := cfg.Broadcast.InstanceID
		if instanceID == "" {
			instanceID = uuid.NewString()
		}
		relay := broadcast.NewRedisRelay(redisClient, hub, broadcast.RelayOptions{
			Channel:    cfg.Broadcast.RelayChannel,
			InstanceID: instanceID,
			QueueSize:  cfg.Broadcast.RelayQueueSize,
			Logger:     appLogger.Logger,
		})
		hub.AddSink(relay)
		group.Go(func() error {
			return relay.Run(groupCtx)
		})
	}

	opts := router.Options{IdempotencyTTL: cfg.Idempotency.TTL}
	if cfg.Idempotency.Enabled {
		switch cfg.IdempotencyBackend() {
		case config.IdempotencyRedis:
			opts.Idempotency = idempotency.NewRedisStore(redisClient, "")
		default:
			opts.Idempotency = idempotency.NewMemoryStore()
		}
	}

	r := initRouter(cfg.App.Environment, &handler.Dependencies{
		Logger:  appLogger.Logger,
		Service: dispatch.Service,
		Hub:     hub,
	}, opts)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	group.Go(func() error {
		appLogger.Info("Starting HTTP server",
			slog.String("address", addr),
			slog.Duration("read_timeout", cfg.Server.ReadTimeout),
			slog.Duration("write_timeout", cfg.Server.WriteTimeout),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		appLogger.Info("Shutting down server...")

		timeout := cfg.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		// websocket handlers exit once their subscriptions close
		hub.CloseAll()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("Server forced to shutdown", slog.Any("error", err))
			return err
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(environment string, deps *handler.Dependencies, opts router.Options) *gin.Engine {
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(deps, opts)
}
