package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cuongbtq/dispatch-be/internal/dispatch/domain"
)

// DefaultRelayChannel is the Redis pub/sub channel events travel on.
const DefaultRelayChannel = "dispatch:events"

// relayEnvelope tags an event with the instance that published it.
type relayEnvelope struct {
	Origin string       `json:"origin"`
	Event  domain.Event `json:"event"`
}

// RelayOptions configures a RedisRelay.
type RelayOptions struct {
	Channel    string
	InstanceID string
	QueueSize  int
	Logger     *slog.Logger
}

// RedisRelay carries events between API instances so a subscriber sees
// every event for its job whichever instance handled the transition.
type RedisRelay struct {
	client     *redis.Client
	hub        *Hub
	channel    string
	instanceID string
	queue      chan domain.Event
	logger     *slog.Logger
}

// NewRedisRelay creates a new RedisRelay instance
func NewRedisRelay(client *redis.Client, hub *Hub, opts RelayOptions) *RedisRelay {
	if opts.Channel == "" {
		opts.Channel = DefaultRelayChannel
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &RedisRelay{
		client:     client,
		hub:        hub,
		channel:    opts.Channel,
		instanceID: opts.InstanceID,
		queue:      make(chan domain.Event, opts.QueueSize),
		logger:     opts.Logger,
	}
}

// Forward queues evt for publication. A full queue drops it.
func (r *RedisRelay) Forward(evt domain.Event) {
	select {
	case r.queue <- evt:
	default:
		r.logger.Warn("Relay queue full, event not relayed",
			slog.String("job_id", evt.JobID),
			slog.String("event_type", string(evt.Type)),
		)
	}
}

// Run publishes queued events and delivers remote ones until ctx ends.
func (r *RedisRelay) Run(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to %s: %w", r.channel, err)
	}
	r.logger.Info("Event relay started",
		slog.String("channel", r.channel),
		slog.String("instance_id", r.instanceID),
	)

	incoming := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt := <-r.queue:
			r.publish(ctx, evt)
		case msg, ok := <-incoming:
			if !ok {
				return fmt.Errorf("relay subscription to %s closed", r.channel)
			}
			r.handleMessage(msg.Payload)
		}
	}
}

func (r *RedisRelay) publish(ctx context.Context, evt domain.Event) {
	payload, err := r.encode(evt)
	if err != nil {
		r.logger.Error("Failed to encode relay event", slog.String("event_id", evt.ID), slog.Any("error", err))
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := r.client.Publish(pubCtx, r.channel, payload).Err(); err != nil {
		r.logger.Warn("Failed to relay event",
			slog.String("job_id", evt.JobID),
			slog.String("event_id", evt.ID),
			slog.Any("error", err),
		)
	}
}

func (r *RedisRelay) encode(evt domain.Event) ([]byte, error) {
	return json.Marshal(relayEnvelope{Origin: r.instanceID, Event: evt})
}

// handleMessage delivers a relayed event unless this instance sent it.
// It reports whether the event was delivered.
func (r *RedisRelay) handleMessage(payload string) bool {
	var env relayEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		r.logger.Warn("Dropping malformed relay message", slog.Any("error", err))
		return false
	}
	if env.Origin == r.instanceID {
		return false
	}
	r.hub.DeliverLocal(env.Event)
	return true
}
