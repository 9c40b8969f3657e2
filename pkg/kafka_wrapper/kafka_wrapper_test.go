package kafkawrapper

import (
	"context"
	"testing"
	"time"

	kafka "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsumerDefaults(t *testing.T) {
	cfg := consumerDefaults(ConsumerConfig{MaxRetries: -1})
	assert.Equal(t, 1, cfg.WorkerCount)
	assert.Equal(t, 0, cfg.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.BackoffMin)
	assert.Equal(t, 10*time.Second, cfg.BackoffMax)
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, 200*time.Millisecond, cfg.BatchTimeout)

	cfg = consumerDefaults(ConsumerConfig{WorkerCount: 3, BatchSize: 7})
	assert.Equal(t, 3, cfg.WorkerCount)
	assert.Equal(t, 7, cfg.BatchSize)
}

func TestNewConsumerGroupRequiresTopic(t *testing.T) {
	_, err := NewConsumerGroup(ConsumerConfig{Brokers: []string{"localhost:9092"}, GroupID: "g"}, nil)
	assert.Error(t, err)
}

func TestWrapMessage(t *testing.T) {
	now := time.Now()
	m := wrapMessage(kafka.Message{
		Topic:     "trades",
		Partition: 2,
		Offset:    41,
		Key:       []byte("k"),
		Value:     []byte(`{}`),
		Time:      now,
		Headers:   []kafka.Header{{Key: "type", Value: []byte("trade")}},
	})
	assert.Equal(t, "trades", m.Topic)
	assert.Equal(t, 2, m.Partition)
	assert.Equal(t, int64(41), m.Offset)
	assert.Equal(t, map[string]string{"type": "trade"}, m.Headers)
	assert.Equal(t, now, m.Time)
}

func TestBackOffStaysWithinBounds(t *testing.T) {
	b := newBackOff(10*time.Millisecond, 80*time.Millisecond)
	for i := 0; i < 20; i++ {
		d := b.NextBackOff()
		require.Positive(t, d)
		// randomization can push an interval up to 1.5x the cap
		assert.LessOrEqual(t, d, 120*time.Millisecond)
	}
}

func TestNilProducer(t *testing.T) {
	var p *Producer
	assert.ErrorIs(t, p.Publish(context.Background(), "t", nil, nil, nil), errNotInitialized)
	assert.NoError(t, p.Close(context.Background()))
}
