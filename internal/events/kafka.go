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
	writeTimeout = 5 * time.Second
	bufferSize   = 256
)

var (
	ErrBufferFull      = errors.New("kafka: event buffer full")
	ErrPublisherClosed = errors.New("kafka: publisher closed")
)

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher queues events in memory and writes them from a single
// goroutine, so Publish never waits on the broker.
type KafkaPublisher struct {
	w     MessageWriter
	log   *slog.Logger
	queue chan kafka.Message
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
	}
}

func NewKafkaPublisher(brokers []string, topic string, l *slog.Logger) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	return NewPublisher(NewKafkaWriter(brokers, topic), l), nil
}

func NewPublisher(w MessageWriter, l *slog.Logger) *KafkaPublisher {
	if l == nil {
		l = slog.Default()
	}
	p := &KafkaPublisher{
		w:     w,
		log:   l.With("svc", "events.kafka"),
		queue: make(chan kafka.Message, bufferSize),
		done:  make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *KafkaPublisher) run() {
	defer close(p.done)
	for msg := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := p.w.WriteMessages(ctx, msg)
		cancel()
		if err != nil {
			p.log.Warn("kafka_write_error", "type", eventType(msg), "error", err)
		}
	}
}

// Publish keys messages by terminal so one terminal's events stay ordered.
// It drops the event when the buffer is full.
func (p *KafkaPublisher) Publish(_ context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("kafka: json.Marshal failed: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(ev.TerminalID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
		},
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}
	select {
	case p.queue <- msg:
		return nil
	default:
		return ErrBufferFull
	}
}

// Close flushes buffered events and closes the writer.
func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	<-p.done
	return p.w.Close()
}

func eventType(msg kafka.Message) string {
	for _, h := range msg.Headers {
		if h.Key == "event_type" {
			return string(h.Value)
		}
	}
	return ""
}
