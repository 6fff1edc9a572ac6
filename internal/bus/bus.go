package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrTopicRequired = errors.New("topic is required")
	ErrClosed        = errors.New("bus is closed")
)

// New creates a new event bus based on configuration.
// For Community tier: returns ChannelBus.
// For Pro tier: returns NATSBus.
// When Kafka brokers are configured the bus is wrapped so every published
// payload is also mirrored to the Kafka topic.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	var b domain.EventBus
	var err error

	switch cfg.Type {
	case "channel":
		b = NewChannelBus(cfg.ChannelBufferSize)

	case "nats":
		b, err = NewNATSBus(cfg)
		if err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}

	if cfg.KafkaBrokers == "" {
		return b, nil
	}

	sink, err := NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("failed to create kafka sink: %w", err)
	}
	slog.Info("kafka sink enabled", "topic", cfg.KafkaTopic)

	return NewMirroredBus(b, sink), nil
}

// newMessage builds the envelope for payload, carrying the trace context of
// ctx in its metadata.
func newMessage(ctx context.Context, topic string, payload []byte) *domain.Message {
	md := make(map[string]string)
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(md))
	return &domain.Message{
		ID:        uuid.New().String(),
		Topic:     topic,
		Payload:   payload,
		Metadata:  md,
		Timestamp: time.Now().UnixNano(),
	}
}

// messageContext restores the publisher's trace context onto ctx.
func messageContext(ctx context.Context, msg *domain.Message) context.Context {
	if len(msg.Metadata) == 0 {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(msg.Metadata))
}
