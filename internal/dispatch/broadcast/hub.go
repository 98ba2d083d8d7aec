// Package broadcast fans job events out to live subscribers and to the
// notification and cross-instance relay sinks.
package broadcast

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/cuongbtq/dispatch-be/internal/dispatch/domain"
)

const defaultBufferSize = 32

// Sink receives every event published on this instance. Forward must not block.
type Sink interface {
	Forward(evt domain.Event)
}

// Subscription is one live connection's interest in a job.
type Subscription struct {
	JobID string
	Actor domain.Actor

	ch      chan domain.Event
	dropped atomic.Int64
	hub     *Hub
	once    sync.Once

	// mu guards ch against a send racing its close.
	mu     sync.Mutex
	closed bool
}

// Events delivers the job's events until Close. A full buffer drops events
// for this subscription only.
func (s *Subscription) Events() <-chan domain.Event {
	return s.ch
}

// Dropped counts events lost to a full buffer.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Close unregisters the subscription and closes its channel. Safe to call twice.
func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.remove(s) })
}

// offer sends evt without blocking and reports false when the buffer is
// full. A closed subscription takes nothing.
func (s *Subscription) offer(evt domain.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- evt:
		return true
	default:
		return false
	}
}

func (s *Subscription) shut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	drainAndClose(s.ch)
}

// HubOptions configures a Hub.
type HubOptions struct {
	BufferSize int
	Sinks      []Sink
	Logger     *slog.Logger
}

// Hub is the registry of live subscriptions keyed by job id.
type Hub struct {
	bufferSize int
	sinks      []Sink
	logger     *slog.Logger

	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{}
}

// NewHub creates a new Hub instance
func NewHub(opts HubOptions) *Hub {
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Hub{
		bufferSize: opts.BufferSize,
		sinks:      opts.Sinks,
		logger:     opts.Logger,
		subs:       make(map[string]map[*Subscription]struct{}),
	}
}

// AddSink registers a sink. Call before publishing starts.
func (h *Hub) AddSink(s Sink) {
	h.mu.Lock()
	h.sinks = append(h.sinks, s)
	h.mu.Unlock()
}

// Subscribe registers interest in jobID. Authorization is the caller's job.
func (h *Hub) Subscribe(jobID string, actor domain.Actor) *Subscription {
	sub := &Subscription{
		JobID: jobID,
		Actor: actor,
		ch:    make(chan domain.Event, h.bufferSize),
		hub:   h,
	}

	h.mu.Lock()
	if h.subs[jobID] == nil {
		h.subs[jobID] = make(map[*Subscription]struct{})
	}
	h.subs[jobID][sub] = struct{}{}
	h.mu.Unlock()

	h.logger.Debug("Subscriber added",
		slog.String("job_id", jobID),
		slog.String("role", string(actor.Role)),
		slog.String("actor_id", actor.ID),
	)
	return sub
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.subs[sub.JobID]
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, sub.JobID)
	}
	sub.shut()
}

// Publish delivers evt to local subscribers and forwards it to every sink.
func (h *Hub) Publish(evt domain.Event) {
	h.DeliverLocal(evt)

	h.mu.RLock()
	sinks := h.sinks
	h.mu.RUnlock()
	for _, s := range sinks {
		s.Forward(evt)
	}
}

// DeliverLocal delivers evt to this instance's subscribers only. Relays
// use it for events that originated elsewhere. The registry lock is held
// only while the job's subscribers are copied out.
func (h *Hub) DeliverLocal(evt domain.Event) {
	h.mu.RLock()
	set := h.subs[evt.JobID]
	subs := make([]*Subscription, 0, len(set))
	for sub := range set {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	for _, sub := range subs {
		if sub.offer(evt) {
			continue
		}
		sub.dropped.Add(1)
		h.logger.Warn("Subscriber buffer full, event dropped",
			slog.String("job_id", evt.JobID),
			slog.String("event_type", string(evt.Type)),
			slog.String("actor_id", sub.Actor.ID),
		)
	}
}

// Count returns the number of live subscriptions on jobID.
func (h *Hub) Count(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[jobID])
}

// CloseAll closes every subscription, e.g. on shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for jobID, set := range h.subs {
		for sub := range set {
			sub.once.Do(func() {})
			sub.shut()
		}
		delete(h.subs, jobID)
	}
}

// drainAndClose empties buffered events so readers see the close at once.
func drainAndClose(ch chan domain.Event) {
	for {
		select {
		case <-ch:
		default:
			close(ch)
			return
		}
	}
}
