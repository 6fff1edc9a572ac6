package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func waitFor(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestChannelBus(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()

	t.Run("PublishAndSubscribe", func(t *testing.T) {
		var mu sync.Mutex
		var receivedMsg *domain.Message

		var wg sync.WaitGroup
		wg.Add(1)

		_, err := bus.Subscribe(ctx, domain.TopicScoringEvents, func(ctx context.Context, msg *domain.Message) error {
			mu.Lock()
			receivedMsg = msg
			mu.Unlock()
			wg.Done()
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		if err := bus.Publish(ctx, domain.TopicScoringEvents, []byte("hello")); err != nil {
			t.Fatalf("publish failed: %v", err)
		}
		waitFor(t, &wg)

		mu.Lock()
		defer mu.Unlock()
		if string(receivedMsg.Payload) != "hello" {
			t.Errorf("expected payload 'hello', got '%s'", string(receivedMsg.Payload))
		}
		if receivedMsg.Topic != domain.TopicScoringEvents || receivedMsg.ID == "" {
			t.Errorf("unexpected envelope: %+v", receivedMsg)
		}
	})

	t.Run("TopicIsolation", func(t *testing.T) {
		var a, b atomic.Int32
		var wg sync.WaitGroup
		wg.Add(1)

		bus.Subscribe(ctx, "isolation.a", func(ctx context.Context, msg *domain.Message) error {
			a.Add(1)
			wg.Done()
			return nil
		})
		bus.Subscribe(ctx, "isolation.b", func(ctx context.Context, msg *domain.Message) error {
			b.Add(1)
			return nil
		})

		bus.Publish(ctx, "isolation.a", []byte("msg1"))
		waitFor(t, &wg)
		time.Sleep(20 * time.Millisecond)

		if a.Load() != 1 {
			t.Errorf("topic a should receive 1 message, got %d", a.Load())
		}
		if b.Load() != 0 {
			t.Errorf("topic b should receive 0 messages, got %d", b.Load())
		}
	})

	t.Run("RequiresTopic", func(t *testing.T) {
		if err := bus.Publish(ctx, "", []byte("data")); !errors.Is(err, ErrTopicRequired) {
			t.Errorf("expected ErrTopicRequired, got %v", err)
		}

		_, err := bus.Subscribe(ctx, "", func(ctx context.Context, msg *domain.Message) error {
			return nil
		})
		if !errors.Is(err, ErrTopicRequired) {
			t.Errorf("expected ErrTopicRequired, got %v", err)
		}
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		var count atomic.Int32

		sub, _ := bus.Subscribe(ctx, "unsub.topic", func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			return nil
		})
		if bus.SubscriberCount("unsub.topic") != 1 {
			t.Fatalf("expected 1 subscriber")
		}

		if err := sub.Unsubscribe(); err != nil {
			t.Fatalf("unsubscribe failed: %v", err)
		}
		if err := sub.Unsubscribe(); err != nil {
			t.Fatalf("second unsubscribe failed: %v", err)
		}
		if bus.SubscriberCount("unsub.topic") != 0 {
			t.Errorf("unsubscribe must remove the subscription")
		}

		bus.Publish(ctx, "unsub.topic", []byte("after"))
		time.Sleep(20 * time.Millisecond)

		if count.Load() != 0 {
			t.Errorf("expected no messages after unsubscribe, got %d", count.Load())
		}
	})

	t.Run("MultipleSubscribers", func(t *testing.T) {
		var count atomic.Int32
		var wg sync.WaitGroup
		wg.Add(3)

		for i := 0; i < 3; i++ {
			bus.Subscribe(ctx, "multi.topic", func(ctx context.Context, msg *domain.Message) error {
				count.Add(1)
				wg.Done()
				return nil
			})
		}

		bus.Publish(ctx, "multi.topic", []byte("broadcast"))
		waitFor(t, &wg)

		if count.Load() != 3 {
			t.Errorf("expected 3 deliveries, got %d", count.Load())
		}
	})

	t.Run("SlowSubscriberDoesNotBlock", func(t *testing.T) {
		small := NewChannelBus(1)
		defer small.Close()

		release := make(chan struct{})
		small.Subscribe(ctx, "slow.topic", func(ctx context.Context, msg *domain.Message) error {
			<-release
			return nil
		})

		done := make(chan struct{})
		go func() {
			for i := 0; i < 50; i++ {
				small.Publish(ctx, "slow.topic", []byte("x"))
			}
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("publish blocked on a slow subscriber")
		}
		close(release)
	})

	t.Run("Ping", func(t *testing.T) {
		if err := bus.Ping(ctx); err != nil {
			t.Errorf("ping failed: %v", err)
		}
	})

	t.Run("SubscriptionTopic", func(t *testing.T) {
		sub, _ := bus.Subscribe(ctx, "named.topic", func(ctx context.Context, msg *domain.Message) error {
			return nil
		})
		defer sub.Unsubscribe()

		if sub.Topic() != "named.topic" {
			t.Errorf("expected topic 'named.topic', got '%s'", sub.Topic())
		}
	})
}

func TestChannelBusClose(t *testing.T) {
	bus := NewChannelBus(100)
	ctx := context.Background()

	sub, _ := bus.Subscribe(ctx, "close.topic", func(ctx context.Context, msg *domain.Message) error {
		return nil
	})

	if err := bus.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}

	if err := bus.Publish(ctx, "close.topic", []byte("data")); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after close, got %v", err)
	}
	if err := bus.Ping(ctx); err == nil {
		t.Error("expected ping error after close")
	}
	if err := sub.Unsubscribe(); err != nil {
		t.Errorf("unsubscribe after close failed: %v", err)
	}
}

func TestNewBus(t *testing.T) {
	t.Run("ChannelType", func(t *testing.T) {
		bus, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 50})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer bus.Close()

		if _, ok := bus.(*ChannelBus); !ok {
			t.Error("expected ChannelBus for channel type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.EventBusConfig{Type: "rabbitmq"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}

func TestSubjectFor(t *testing.T) {
	cases := map[string]string{
		"kestrel.events": "kestrel.events",
		"events":         "kestrel.events",
	}
	for topic, want := range cases {
		if got := subjectFor(topic); got != want {
			t.Errorf("subjectFor(%q) = %q, want %q", topic, got, want)
		}
	}
}

func TestTraceContextPropagation(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	defer otel.SetTextMapPropagator(prev)

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x4b, 0x65, 0x73, 0x74, 0x72, 0x65, 0x6c, 1, 2, 3, 4, 5, 6, 7, 8, 9},
		SpanID:     trace.SpanID{1, 2, 3, 4, 5, 6, 7, 8},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	msg := newMessage(ctx, "events", []byte("{}"))
	if msg.Metadata["traceparent"] == "" {
		t.Fatalf("expected traceparent in metadata, got %v", msg.Metadata)
	}

	b := NewChannelBus(10)
	defer b.Close()

	got := make(chan trace.TraceID, 1)
	_, err := b.Subscribe(context.Background(), "events", func(ctx context.Context, _ *domain.Message) error {
		got <- trace.SpanContextFromContext(ctx).TraceID()
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := b.Publish(ctx, "events", []byte("{}")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case id := <-got:
		if id != sc.TraceID() {
			t.Errorf("trace id = %s, want %s", id, sc.TraceID())
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}

	t.Run("NoTraceContext", func(t *testing.T) {
		msg := newMessage(context.Background(), "events", nil)
		if len(msg.Metadata) != 0 {
			t.Errorf("expected empty metadata, got %v", msg.Metadata)
		}
		base := context.Background()
		if messageContext(base, msg) != base {
			t.Error("expected context unchanged without metadata")
		}
	})
}

func TestMirroredBus(t *testing.T) {
	ctx := context.Background()

	t.Run("MirrorsToKafka", func(t *testing.T) {
		producer := mocks.NewSyncProducer(t, nil)
		producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
			key, _ := msg.Key.Encode()
			val, _ := msg.Value.Encode()
			if msg.Topic != "kestrel.scoring-events" || string(key) != domain.TopicScoringEvents || string(val) != "payload" {
				return errors.New("unexpected kafka message")
			}
			return nil
		})

		primary := NewChannelBus(10)
		mirrored := NewMirroredBus(primary, NewKafkaSinkWithProducer(producer, "kestrel.scoring-events", 0))

		var wg sync.WaitGroup
		wg.Add(1)
		mirrored.Subscribe(ctx, domain.TopicScoringEvents, func(ctx context.Context, msg *domain.Message) error {
			wg.Done()
			return nil
		})

		if err := mirrored.Publish(ctx, domain.TopicScoringEvents, []byte("payload")); err != nil {
			t.Fatalf("publish failed: %v", err)
		}
		waitFor(t, &wg)

		if err := mirrored.Close(); err != nil {
			t.Errorf("close failed: %v", err)
		}
	})

	t.Run("SinkFailureIsNotFatal", func(t *testing.T) {
		producer := mocks.NewSyncProducer(t, nil)
		producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

		mirrored := NewMirroredBus(NewChannelBus(10), NewKafkaSinkWithProducer(producer, "events", 0))
		defer mirrored.Close()

		if err := mirrored.Publish(ctx, domain.TopicScoringEvents, []byte("payload")); err != nil {
			t.Errorf("sink failure must not fail publish, got %v", err)
		}
	})

	t.Run("SlowBrokerDoesNotBlockPublish", func(t *testing.T) {
		producer := newSlowProducer(2 * time.Second)
		mirrored := NewMirroredBus(NewChannelBus(10), NewKafkaSinkWithProducer(producer, "events", 4))

		start := time.Now()
		for i := 0; i < 3; i++ {
			if err := mirrored.Publish(ctx, domain.TopicScoringEvents, []byte("payload")); err != nil {
				t.Fatalf("publish failed: %v", err)
			}
		}
		if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
			t.Errorf("publish blocked %v on the kafka sink", elapsed)
		}

		close(producer.release)
		if err := mirrored.Close(); err != nil {
			t.Errorf("close failed: %v", err)
		}
		if got := producer.sent.Load(); got != 3 {
			t.Errorf("expected 3 queued events delivered on close, got %d", got)
		}
	})

	t.Run("FullQueueDrops", func(t *testing.T) {
		producer := newSlowProducer(time.Hour)
		sink := NewKafkaSinkWithProducer(producer, "events", 1)

		accepted := 0
		for i := 0; i < 5; i++ {
			if sink.Send("k", []byte("v")) {
				accepted++
			}
		}
		// One event is held by the producer and one waits in the queue.
		if accepted < 1 || accepted > 2 {
			t.Errorf("expected 1 or 2 accepted events, got %d", accepted)
		}

		close(producer.release)
		if err := sink.Close(); err != nil {
			t.Errorf("close failed: %v", err)
		}
		if sink.Send("k", []byte("v")) {
			t.Error("expected send after close to be dropped")
		}
		if int(producer.sent.Load()) != accepted {
			t.Errorf("delivered %d, accepted %d", producer.sent.Load(), accepted)
		}
	})

	t.Run("SinkRejectsEmptyConfig", func(t *testing.T) {
		if _, err := NewKafkaSink("", "topic"); err == nil {
			t.Error("expected error without brokers")
		}
		if _, err := NewKafkaSink("localhost:9092", ""); err == nil {
			t.Error("expected error without topic")
		}
	})
}

// slowProducer blocks each send until delay elapses or release is closed.
type slowProducer struct {
	sarama.SyncProducer
	delay   time.Duration
	release chan struct{}
	sent    atomic.Int64
}

func newSlowProducer(delay time.Duration) *slowProducer {
	return &slowProducer{delay: delay, release: make(chan struct{})}
}

func (p *slowProducer) SendMessage(*sarama.ProducerMessage) (int32, int64, error) {
	select {
	case <-time.After(p.delay):
	case <-p.release:
	}
	p.sent.Add(1)
	return 0, 0, nil
}

func (p *slowProducer) Close() error { return nil }

func TestSplitCSV(t *testing.T) {
	got := splitCSV(" a:1, ,b:2 ,")
	if len(got) != 2 || got[0] != "a:1" || got[1] != "b:2" {
		t.Errorf("unexpected split: %v", got)
	}
}

func TestChannelBusHighLoad(t *testing.T) {
	bus := NewChannelBus(1000)
	defer bus.Close()

	ctx := context.Background()

	var received atomic.Int32
	const messageCount = 100

	var wg sync.WaitGroup
	wg.Add(messageCount)

	bus.Subscribe(ctx, "load.topic", func(ctx context.Context, msg *domain.Message) error {
		received.Add(1)
		wg.Done()
		return nil
	})

	for i := 0; i < messageCount; i++ {
		bus.Publish(ctx, "load.topic", []byte("msg"))
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if received.Load() != messageCount {
			t.Errorf("expected %d messages, got %d", messageCount, received.Load())
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout: received %d/%d messages", received.Load(), messageCount)
	}
}
