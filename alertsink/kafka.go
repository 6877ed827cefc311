package alertsink

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/segmentio/kafka-go"

	"github.com/jonwraymond/hashops/monitor"
	"github.com/jonwraymond/hashops/observe"
)

// messageWriter is the subset of *kafka.Writer used by KafkaPublisher.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config configures a KafkaPublisher.
type Config struct {
	Brokers []string `yaml:"brokers"`

	// Topic receives alert events.
	Topic string `yaml:"topic"`

	// Logger receives write failures.
	// Default: no-op logger
	Logger observe.Logger `yaml:"-"`
}

// KafkaPublisher writes alert events to a Kafka topic.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	logger observe.Logger

	published atomic.Int64
	failed    atomic.Int64
}

// NewKafkaPublisher creates a publisher backed by a kafka.Writer.
func NewKafkaPublisher(config Config) (*KafkaPublisher, error) {
	if len(config.Brokers) == 0 {
		return nil, ErrNoBrokers
	}
	if config.Topic == "" {
		return nil, ErrNoTopic
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		RequiredAcks: kafka.RequireAll,
		Balancer:     &kafka.Hash{},
	}
	return newPublisher(w, config.Topic, config.Logger), nil
}

func newPublisher(w messageWriter, topic string, logger observe.Logger) *KafkaPublisher {
	if logger == nil {
		logger = observe.NopLogger()
	}
	return &KafkaPublisher{writer: w, topic: topic, logger: logger}
}

// Publish writes one event.
func (p *KafkaPublisher) Publish(ctx context.Context, ev monitor.AlertEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode alert event: %w", err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic: p.topic,
		Key:   []byte(ev.Alert.Metric),
		Value: payload,
		Time:  ev.At.UTC(),
	})
	if err != nil {
		p.failed.Add(1)
		return fmt.Errorf("write alert event: %w", err)
	}
	p.published.Add(1)
	return nil
}

// Forward publishes every event from sub until the subscription closes or
// ctx ends. Write failures are logged and do not stop forwarding.
func (p *KafkaPublisher) Forward(ctx context.Context, sub *monitor.Subscription) error {
	if sub == nil {
		return ErrNilSubscription
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.C:
			if !ok {
				return nil
			}
			if err := p.Publish(ctx, ev); err != nil {
				p.logger.Warn(ctx, "alert event not published",
					observe.Field{Key: "metric", Value: string(ev.Alert.Metric)},
					observe.Field{Key: "type", Value: string(ev.Type)},
					observe.Field{Key: "error", Value: err.Error()},
				)
			}
		}
	}
}

// Published returns the number of events written.
func (p *KafkaPublisher) Published() int64 { return p.published.Load() }

// Failed returns the number of events that could not be written.
func (p *KafkaPublisher) Failed() int64 { return p.failed.Load() }

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
