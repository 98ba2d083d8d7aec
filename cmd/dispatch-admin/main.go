package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/cuongbtq/dispatch-be/cmd/dispatch-admin/commands"
	"github.com/cuongbtq/dispatch-be/internal/bootstrap"
	"github.com/cuongbtq/dispatch-be/internal/config"
	"github.com/cuongbtq/dispatch-be/internal/dispatch/broadcast"
	"github.com/cuongbtq/dispatch-be/internal/dispatch/domain"
	"github.com/cuongbtq/dispatch-be/internal/dispatch/service"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := commands.New(open).Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

// open wires the dispatch service the same way the API does, acting as an
// admin. Events from admin actions still reach the notification exchange.
func open(ctx context.Context, cmd *cli.Command) (*commands.AppContext, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ValidateDispatchConfig(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// logs go to stderr so stdout stays parseable
	cfg.Logging.Output = "stderr"
	appLogger, err := bootstrap.Logger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var publisher service.Publisher
	if cfg.Broadcast.PublishNotifications {
		rabbitClient, err := bootstrap.RabbitMQ(&cfg.RabbitMQ, false, appLogger.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		closers = append(closers, func() { rabbitClient.Close() })

		notifier := broadcast.NewNotificationPublisher(rabbitClient, cfg.Broadcast.NotifyQueueSize, appLogger.Logger)
		runCtx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			notifier.Run(runCtx)
			close(done)
		}()
		// cancel flushes whatever the command queued
		closers = append(closers, func() {
			cancel()
			<-done
		})
		publisher = service.PublisherFunc(notifier.Forward)
	}

	dispatch, err := bootstrap.NewDispatch(ctx, cfg, publisher, appLogger.Logger)
	if err != nil {
		closeAll()
		return nil, err
	}
	closers = append([]func(){dispatch.Close}, closers...)

	actor := domain.Actor{ID: cmd.String("admin-id"), Role: domain.RoleAdmin}
	return commands.NewAppContext(dispatch.Service, actor, cmd.Root().Writer, func() {
		closeAll()
		_ = appLogger.Close()
	}), nil
}
