package bus

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

// defaultSinkQueue bounds the events waiting for the Kafka producer.
const defaultSinkQueue = 1024

// KafkaSink forwards payloads to a single Kafka topic. Send only enqueues;
// one goroutine drains the queue into the producer, so a slow or dead
// broker never stalls the caller. Events arriving while the queue is full
// are dropped and counted.
type KafkaSink struct {
	topic    string
	producer sarama.SyncProducer

	mu     sync.RWMutex
	queue  chan kafkaRecord
	closed bool
	done   chan struct{}
}

type kafkaRecord struct {
	key     string
	payload []byte
}

// NewKafkaSink connects a synchronous producer to a comma-separated broker
// list.
func NewKafkaSink(brokersCSV, topic string) (*KafkaSink, error) {
	if topic == "" {
		return nil, errors.New("kafka topic is empty")
	}
	brokers := splitCSV(brokersCSV)
	if len(brokers) == 0 {
		return nil, errors.New("no kafka brokers")
	}

	cfg := sarama.NewConfig()
	cfg.ClientID = "kestrel"
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Retry.Backoff = 200 * time.Millisecond
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return NewKafkaSinkWithProducer(producer, topic, defaultSinkQueue), nil
}

// NewKafkaSinkWithProducer wraps an existing producer and starts draining.
// A non-positive queue size uses the default.
func NewKafkaSinkWithProducer(producer sarama.SyncProducer, topic string, queue int) *KafkaSink {
	if queue <= 0 {
		queue = defaultSinkQueue
	}
	s := &KafkaSink{
		topic:    topic,
		producer: producer,
		queue:    make(chan kafkaRecord, queue),
		done:     make(chan struct{}),
	}
	go s.run()
	return s
}

// Send enqueues one message keyed by the bus topic it was published on.
// It never blocks and reports false when the event was dropped.
func (s *KafkaSink) Send(key string, payload []byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		metrics.KafkaMirrored.WithLabelValues("dropped").Inc()
		return false
	}
	select {
	case s.queue <- kafkaRecord{key: key, payload: payload}:
		return true
	default:
		metrics.KafkaMirrored.WithLabelValues("dropped").Inc()
		slog.Warn("kafka mirror queue full, event dropped", "key", key)
		return false
	}
}

func (s *KafkaSink) run() {
	defer close(s.done)
	for rec := range s.queue {
		_, _, err := s.producer.SendMessage(&sarama.ProducerMessage{
			Topic: s.topic,
			Key:   sarama.StringEncoder(rec.key),
			Value: sarama.ByteEncoder(rec.payload),
		})
		if err != nil {
			metrics.KafkaMirrored.WithLabelValues("failed").Inc()
			slog.Warn("kafka mirror failed", "topic", s.topic, "key", rec.key, "error", err)
			continue
		}
		metrics.KafkaMirrored.WithLabelValues("sent").Inc()
	}
}

// Close stops accepting events, drains the queue and closes the producer.
func (s *KafkaSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	<-s.done
	if s.producer != nil {
		return s.producer.Close()
	}
	return nil
}

// MirroredBus publishes to a primary bus and mirrors every payload to a
// Kafka sink. Sink failures are logged and never fail the publish.
type MirroredBus struct {
	domain.EventBus
	sink *KafkaSink
}

// NewMirroredBus wraps primary with a Kafka mirror.
func NewMirroredBus(primary domain.EventBus, sink *KafkaSink) *MirroredBus {
	return &MirroredBus{EventBus: primary, sink: sink}
}

// Publish sends to the primary bus, then queues the payload for Kafka.
func (b *MirroredBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := b.EventBus.Publish(ctx, topic, payload); err != nil {
		return err
	}
	b.sink.Send(topic, payload)
	return nil
}

// Close closes the sink and the primary bus.
func (b *MirroredBus) Close() error {
	sinkErr := b.sink.Close()
	if err := b.EventBus.Close(); err != nil {
		return err
	}
	return sinkErr
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
