package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	queueSize    = 256
	writeTimeout = 5 * time.Second
)

// ErrQueueFull is returned when events arrive faster than the broker takes
// them.
var ErrQueueFull = errors.New("event queue full")

// KafkaPublisher writes events as JSON messages keyed by aggregate id. Writes
// happen on a background goroutine so callers never wait for the broker.
type KafkaPublisher struct {
	writer *kafka.Writer
	queue   chan kafka.Message
	done    chan struct{}
	stopped chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// NewKafkaPublisher creates a publisher for topic. The writer connects
// lazily on the first delivery.
func NewKafkaPublisher(brokers []string, topic, clientID string) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: writeTimeout,
		MaxAttempts:  3,
		RequiredAcks: kafka.RequireOne,
		Compression:  kafka.Snappy,
		Transport:    &kafka.Transport{ClientID: clientID},
	}

	p := &KafkaPublisher{
		writer:  writer,
		queue:   make(chan kafka.Message, queueSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go p.deliver()
	return p
}

// Message converts an event to a Kafka message.
func Message(event Event) (kafka.Message, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshaling event: %w", err)
	}

	return kafka.Message{
		Key:   []byte(event.AggregateID),
		Value: value,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.Type)},
			{Key: "event-id", Value: []byte(event.ID)},
		},
	}, nil
}

// Publish queues one event and returns without waiting for the broker.
// Delivery failures are logged by the background writer.
func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	msg, err := Message(event)
	if err != nil {
		return err
	}

	select {
	case <-p.done:
		return errors.New("publisher closed")
	default:
	}

	select {
	case p.queue <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

func (p *KafkaPublisher) deliver() {
	defer close(p.stopped)
	for {
		select {
		case msg := <-p.queue:
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			p.write(ctx, msg)
			cancel()
		case <-p.done:
			p.drain()
			return
		}
	}
}

// drain writes what was queued before Close, all within one write timeout.
func (p *KafkaPublisher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	for {
		select {
		case msg := <-p.queue:
			p.write(ctx, msg)
		default:
			return
		}
	}
}

func (p *KafkaPublisher) write(ctx context.Context, msg kafka.Message) {
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		slog.Warn("event delivery failed",
			"topic", p.writer.Topic,
			"event_type", string(msg.Headers[0].Value),
			"key", string(msg.Key),
			"error", err,
		)
	}
}

// Close stops accepting events, flushes the queue and closes the writer.
func (p *KafkaPublisher) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
		<-p.stopped
		p.closeErr = p.writer.Close()
	})
	return p.closeErr
}
