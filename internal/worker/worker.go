package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cuongbtq/dispatch-be/internal/worker/domain"
	"github.com/cuongbtq/dispatch-be/internal/worker/storage"
	"github.com/cuongbtq/dispatch-be/shared/postgresql"
	"github.com/cuongbtq/dispatch-be/shared/rabbitmq"
)

// DeliveryStore tracks delivery attempts per event
type DeliveryStore interface {
	ClaimDelivery(ctx context.Context, eventID, eventType, jobID, workerID string, maxAttempts int) (*domain.Delivery, error)
	MarkDelivered(ctx context.Context, eventID, workerID string) error
	MarkFailed(ctx context.Context, eventID, workerID, reason string) error
}

// Config holds worker configuration
type Config struct {
	Logger        *slog.Logger
	DBClient      *postgresql.Client
	RabbitClient  *rabbitmq.Client
	Store         DeliveryStore
	HTTPClient    *http.Client
	WorkerID      string
	QueueName     string
	WebhookURL    string
	WebhookToken  string
	Concurrency   int
	PrefetchCount int
	MaxAttempts   int
	Timeout       time.Duration
	ClaimLease    time.Duration
}

// Worker delivers lifecycle notifications from the queue to the webhook
type Worker struct {
	logger            *slog.Logger
	rabbitClient      *rabbitmq.Client
	storage           DeliveryStore
	httpClient        *http.Client
	workerID          string
	rabbitMQQueueName string
	webhookURL        string
	webhookToken      string
	concurrency       int
	prefetchCount     int
	maxAttempts       int
	timeout           time.Duration
	jobsChan          chan *domain.DeliveryMessage
	wg                sync.WaitGroup
	stopChan          chan struct{}
	stopOnce          sync.Once
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) (*Worker, error) {
	if cfg.WebhookURL == "" {
		return nil, errors.New("webhook url is required")
	}

	store := cfg.Store
	if store == nil {
		if cfg.DBClient == nil {
			return nil, errors.New("either a delivery store or a database client is required")
		}
		store = storage.NewStorage(cfg.DBClient.GetDB(), cfg.ClaimLease, cfg.Logger)
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = concurrency
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = "notify-worker"
	}

	return &Worker{
		logger:            cfg.Logger,
		rabbitClient:      cfg.RabbitClient,
		storage:           store,
		httpClient:        hc,
		workerID:          workerID,
		rabbitMQQueueName: cfg.QueueName,
		webhookURL:        cfg.WebhookURL,
		webhookToken:      cfg.WebhookToken,
		concurrency:       concurrency,
		prefetchCount:     prefetch,
		maxAttempts:       maxAttempts,
		timeout:           timeout,
		jobsChan:          make(chan *domain.DeliveryMessage, concurrency),
		stopChan:          make(chan struct{}),
	}, nil
}

// Start consumes the notification queue until ctx is canceled
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Int("max_attempts", w.maxAttempts),
		slog.Duration("timeout", w.timeout),
	)

	if w.rabbitClient == nil {
		return errors.New("rabbitmq client is required to start the worker")
	}

	deliveries, err := w.setupConsumer(ctx)
	if err != nil {
		return fmt.Errorf("failed to set up consumer: %w", err)
	}

	w.spawnWorkerPool(ctx)
	w.startMessageDispatcher(ctx, deliveries)

	w.logger.Info("Worker dispatcher exited, stopping...")
	return nil
}

// Stop gracefully stops the worker
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
