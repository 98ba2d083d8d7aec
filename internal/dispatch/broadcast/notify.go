package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/cuongbtq/dispatch-be/internal/dispatch/domain"
	"github.com/cuongbtq/dispatch-be/shared/rabbitmq"
)

// MessagePublisher is the outbound half of the RabbitMQ client.
type MessagePublisher interface {
	PublishWithRetry(ctx context.Context, msg rabbitmq.Message) error
}

// RoutingKey is the topic key an event is published under.
func RoutingKey(t domain.EventType) string {
	return "job." + string(t)
}

// NotificationPublisher mirrors every event onto the notification exchange
// for the worker service.
type NotificationPublisher struct {
	client MessagePublisher
	queue  chan domain.Event
	logger *slog.Logger
}

// NewNotificationPublisher creates a new NotificationPublisher instance
func NewNotificationPublisher(client MessagePublisher, queueSize int, logger *slog.Logger) *NotificationPublisher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NotificationPublisher{
		client: client,
		queue:  make(chan domain.Event, queueSize),
		logger: logger,
	}
}

// Forward queues evt. A full queue drops it.
func (p *NotificationPublisher) Forward(evt domain.Event) {
	select {
	case p.queue <- evt:
	default:
		p.logger.Warn("Notification queue full, event dropped",
			slog.String("job_id", evt.JobID),
			slog.String("event_type", string(evt.Type)),
		)
	}
}

// Run publishes queued events until ctx ends, then flushes what is left.
func (p *NotificationPublisher) Run(ctx context.Context) {
	p.logger.Info("Notification publisher started")
	for {
		select {
		case <-ctx.Done():
			p.flush()
			p.logger.Info("Notification publisher stopped")
			return
		case evt := <-p.queue:
			p.publish(ctx, evt)
		}
	}
}

func (p *NotificationPublisher) flush() {
	for {
		select {
		case evt := <-p.queue:
			p.publish(context.Background(), evt)
		default:
			return
		}
	}
}

func (p *NotificationPublisher) publish(ctx context.Context, evt domain.Event) {
	body, err := json.Marshal(evt)
	if err != nil {
		p.logger.Error("Failed to marshal event", slog.String("event_id", evt.ID), slog.Any("error", err))
		return
	}

	msg := rabbitmq.Message{
		RoutingKey:  RoutingKey(evt.Type),
		MessageID:   evt.ID,
		ContentType: "application/json",
		Body:        body,
	}
	if err := p.client.PublishWithRetry(ctx, msg); err != nil {
		p.logger.Error("Failed to publish notification",
			slog.String("job_id", evt.JobID),
			slog.String("event_id", evt.ID),
			slog.String("routing_key", msg.RoutingKey),
			slog.Any("error", err),
		)
	}
}
