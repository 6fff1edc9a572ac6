package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// BusPublisher publishes scoring events onto the event bus.
type BusPublisher struct {
	bus   domain.EventBus
	topic string
}

// NewBusPublisher creates a publisher for the scoring events topic.
func NewBusPublisher(bus domain.EventBus) *BusPublisher {
	return &BusPublisher{bus: bus, topic: domain.TopicScoringEvents}
}

// Publish encodes the event and sends it to the bus.
func (p *BusPublisher) Publish(ctx context.Context, event *domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return p.bus.Publish(ctx, p.topic, payload)
}

// Relay forwards events from the bus into the hub, so every instance
// sharing a bus streams every other instance's results.
type Relay struct {
	bus domain.EventBus
	hub *Hub

	mu  sync.Mutex
	sub domain.Subscription
}

// NewRelay creates a relay from bus to hub.
func NewRelay(bus domain.EventBus, hub *Hub) *Relay {
	return &Relay{bus: bus, hub: hub}
}

// Start subscribes to the scoring events topic. Calling Start on a
// running relay is a no-op.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sub != nil {
		return nil
	}

	sub, err := r.bus.Subscribe(ctx, domain.TopicScoringEvents, r.forward)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", domain.TopicScoringEvents, err)
	}
	r.sub = sub

	slog.Info("stream relay started", "topic", domain.TopicScoringEvents)
	return nil
}

func (r *Relay) forward(_ context.Context, msg *domain.Message) error {
	delivered := r.hub.Publish(msg.Payload)
	slog.Debug("stream event relayed",
		"message_id", msg.ID,
		"subscribers", delivered,
	)
	return nil
}

// Stop unsubscribes from the bus.
func (r *Relay) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sub == nil {
		return nil
	}
	err := r.sub.Unsubscribe()
	r.sub = nil

	slog.Info("stream relay stopped")
	return err
}

// Stats describes the relay state.
type Stats struct {
	Running     bool   `json:"running"`
	Topic       string `json:"topic"`
	Subscribers int    `json:"subscribers"`
}

// GetStats returns current relay statistics.
func (r *Relay) GetStats() Stats {
	r.mu.Lock()
	running := r.sub != nil
	r.mu.Unlock()

	return Stats{
		Running:     running,
		Topic:       domain.TopicScoringEvents,
		Subscribers: r.hub.Count(),
	}
}
