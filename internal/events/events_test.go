package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skotchmaster/pos_terminal/pkg/logging"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// stalledWriter behaves like a writer whose brokers never answer.
type stalledWriter struct {
	started chan struct{}
	once    sync.Once
}

func (s *stalledWriter) WriteMessages(ctx context.Context, _ ...kafka.Message) error {
	s.once.Do(func() { close(s.started) })
	<-ctx.Done()
	return ctx.Err()
}

func (s *stalledWriter) Close() error { return nil }

func TestKafkaPublisherPublish(t *testing.T) {
	w := &fakeWriter{}
	p := NewPublisher(w, logging.Discard())

	ev := New(TransactionDropped, "lane-3", map[string]any{"id": "sale_1"})
	require.NoError(t, p.Publish(context.Background(), ev))
	require.NoError(t, p.Close())
	assert.True(t, w.closed)

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "lane-3", string(msg.Key))
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, string(TransactionDropped), string(msg.Headers[0].Value))

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, ev.ID, decoded.ID)
	assert.Equal(t, TransactionDropped, decoded.Type)

	assert.ErrorIs(t, p.Publish(context.Background(), ev), ErrPublisherClosed)
	require.NoError(t, p.Close())
}

func TestKafkaPublisherLogsWriteError(t *testing.T) {
	var buf bytes.Buffer
	p := NewPublisher(&fakeWriter{err: errors.New("broker down")}, logging.NewWithWriter(&buf, "debug"))

	require.NoError(t, p.Publish(context.Background(), New(OrderHeld, "t", nil)))
	require.NoError(t, p.Close())

	assert.Contains(t, buf.String(), "kafka_write_error")
	assert.Contains(t, buf.String(), "broker down")
	assert.Contains(t, buf.String(), string(OrderHeld))
}

func TestKafkaPublisherDoesNotWaitForBroker(t *testing.T) {
	w := &stalledWriter{started: make(chan struct{})}
	p := NewPublisher(w, logging.Discard())

	require.NoError(t, p.Publish(context.Background(), New(CheckoutCompleted, "t", nil)))
	<-w.started

	start := time.Now()
	for i := 0; i < bufferSize; i++ {
		require.NoError(t, p.Publish(context.Background(), New(CheckoutCompleted, "t", nil)))
	}
	assert.ErrorIs(t, p.Publish(context.Background(), New(CheckoutCompleted, "t", nil)), ErrBufferFull)
	assert.Less(t, time.Since(start), time.Second)

	Emit(context.Background(), p, New(CheckoutCompleted, "t", nil))
	assert.Less(t, time.Since(start), time.Second)
}

func TestEmitIgnoresMissingPublisher(t *testing.T) {
	Emit(context.Background(), nil, New(OrderHeld, "t", nil))
}

func TestNewKafkaPublisherNeedsBrokers(t *testing.T) {
	_, err := NewKafkaPublisher(nil, "pos_events", logging.Discard())
	assert.Error(t, err)
}
