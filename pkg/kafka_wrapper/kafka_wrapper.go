// Package kafkawrapper publishes JSON messages to Kafka and runs a pool of
// workers that consume a topic in batches.
package kafkawrapper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	kafka "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Time      time.Time
	Headers   map[string]string
}

type ProducerConfig struct {
	Brokers      []string
	Balancer     kafka.Balancer
	BatchSize    int
	BatchBytes   int64
	BatchTimeout time.Duration
	RequiredAcks kafka.RequiredAcks
	Async        bool
}

type Producer struct {
	w *kafka.Writer
}

var errNotInitialized = errors.New("kafka client not initialized")

func NewProducer(cfg ProducerConfig) *Producer {
	if cfg.Balancer == nil {
		cfg.Balancer = &kafka.Hash{}
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchBytes == 0 {
		cfg.BatchBytes = 1 << 20
	}
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = 10 * time.Millisecond
	}
	wr := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               cfg.Balancer,
		BatchSize:              cfg.BatchSize,
		BatchBytes:             cfg.BatchBytes,
		BatchTimeout:           cfg.BatchTimeout,
		AllowAutoTopicCreation: true,
		RequiredAcks:           cfg.RequiredAcks,
		Async:                  cfg.Async,
	}
	return &Producer{w: wr}
}

func (p *Producer) Publish(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error {
	if p == nil || p.w == nil {
		return errNotInitialized
	}
	kh := make([]kafka.Header, 0, len(headers))
	for k, v := range headers {
		kh = append(kh, kafka.Header{Key: k, Value: []byte(v)})
	}
	return p.w.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     key,
		Value:   value,
		Headers: kh,
		Time:    time.Now(),
	})
}

// PublishJSON marshals v and publishes it under key. Messages with the same
// key land on the same partition, so their order is kept.
func (p *Producer) PublishJSON(ctx context.Context, topic string, key string, v any, headers map[string]string) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", topic, err)
	}
	return p.Publish(ctx, topic, []byte(key), b, headers)
}

func (p *Producer) Close(ctx context.Context) error {
	if p == nil || p.w == nil {
		return nil
	}
	return p.w.Close()
}

type ConsumerConfig struct {
	Brokers     []string
	GroupID     string
	Topic       string
	WorkerCount int
	MaxRetries  int
	BackoffMin  time.Duration
	BackoffMax  time.Duration
	DLQTopic    string
	// batch options
	BatchSize    int
	BatchTimeout time.Duration
}

// BatchHandler processes one batch. The batch is committed when it returns
// nil, and retried with backoff otherwise. After MaxRetries failures the
// batch goes to the DLQ topic, if any, and is committed anyway.
type BatchHandler func(ctx context.Context, msgs []Message) error

type ConsumerGroup struct {
	r          *kafka.Reader
	cfg        ConsumerConfig
	prodForDLQ *Producer
	logger     *zap.Logger
}

func NewConsumerGroup(cfg ConsumerConfig, logger *zap.Logger) (*ConsumerGroup, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" || cfg.GroupID == "" {
		return nil, errors.New("kafka consumer needs brokers, topic and group id")
	}
	cfg = consumerDefaults(cfg)
	if logger == nil {
		logger = zap.NewNop()
	}

	rd := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topic,
		StartOffset: kafka.FirstOffset,
		MaxWait:     500 * time.Millisecond,
		MinBytes:    1,
		MaxBytes:    10 << 20,
	})

	var prod *Producer
	if cfg.DLQTopic != "" {
		prod = NewProducer(ProducerConfig{Brokers: cfg.Brokers, RequiredAcks: kafka.RequireOne})
	}

	return &ConsumerGroup{
		r:          rd,
		cfg:        cfg,
		prodForDLQ: prod,
		logger:     logger.With(zap.String("topic", cfg.Topic), zap.String("group", cfg.GroupID)),
	}, nil
}

func consumerDefaults(cfg ConsumerConfig) ConsumerConfig {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BackoffMin == 0 {
		cfg.BackoffMin = 100 * time.Millisecond
	}
	if cfg.BackoffMax == 0 {
		cfg.BackoffMax = 10 * time.Second
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 50
	}
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = 200 * time.Millisecond
	}
	return cfg
}

func (cg *ConsumerGroup) Close() error {
	if cg == nil {
		return nil
	}
	if cg.prodForDLQ != nil {
		_ = cg.prodForDLQ.Close(context.Background())
	}
	if cg.r != nil {
		return cg.r.Close()
	}
	return nil
}

// Run consumes until ctx is cancelled.
func (cg *ConsumerGroup) Run(ctx context.Context, handler BatchHandler) error {
	if cg == nil || cg.r == nil {
		return errNotInitialized
	}

	batches := make(chan []kafka.Message, cg.cfg.WorkerCount)

	go func() {
		defer close(batches)
		for {
			batch, err := cg.fetchBatch(ctx)
			if len(batch) > 0 {
				select {
				case batches <- batch:
				case <-ctx.Done():
					return
				}
			}
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				cg.logger.Warn("fetch failed", zap.Error(err))
				select {
				case <-time.After(cg.cfg.BackoffMin):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	done := make(chan struct{}, cg.cfg.WorkerCount)
	for i := 0; i < cg.cfg.WorkerCount; i++ {
		go func(workerID int) {
			defer func() { done <- struct{}{} }()
			for ms := range batches {
				if !cg.handle(ctx, workerID, ms, handler) {
					return
				}
			}
		}(i)
	}

	for i := 0; i < cg.cfg.WorkerCount; i++ {
		<-done
	}
	return ctx.Err()
}

// fetchBatch blocks for the first message, then collects more until the
// batch is full or BatchTimeout has passed.
func (cg *ConsumerGroup) fetchBatch(ctx context.Context) ([]kafka.Message, error) {
	m, err := cg.r.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}
	buf := []kafka.Message{m}

	bctx, cancel := context.WithTimeout(ctx, cg.cfg.BatchTimeout)
	defer cancel()
	for len(buf) < cg.cfg.BatchSize {
		m, err := cg.r.FetchMessage(bctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return buf, nil
			}
			return buf, err
		}
		buf = append(buf, m)
	}
	return buf, nil
}

// handle runs handler on one batch and reports false when ctx ended first.
func (cg *ConsumerGroup) handle(ctx context.Context, workerID int, ms []kafka.Message, handler BatchHandler) bool {
	wrapped := make([]Message, len(ms))
	for i, m := range ms {
		wrapped[i] = wrapMessage(m)
	}

	boff := newBackOff(cg.cfg.BackoffMin, cg.cfg.BackoffMax)
	for attempt := 0; ; attempt++ {
		err := handler(ctx, wrapped)
		if err == nil {
			break
		}
		if attempt >= cg.cfg.MaxRetries {
			cg.logger.Error("batch failed, giving up",
				zap.Int("worker", workerID),
				zap.Int("size", len(ms)),
				zap.Int64("first_offset", ms[0].Offset),
				zap.Error(err))
			cg.deadLetter(ctx, ms)
			break
		}
		select {
		case <-time.After(boff.NextBackOff()):
		case <-ctx.Done():
			return false
		}
	}

	if err := cg.r.CommitMessages(ctx, ms...); err != nil {
		cg.logger.Warn("commit failed", zap.Int("worker", workerID), zap.Error(err))
	}
	return true
}

func (cg *ConsumerGroup) deadLetter(ctx context.Context, ms []kafka.Message) {
	if cg.prodForDLQ == nil {
		return
	}
	for _, m := range ms {
		if err := cg.prodForDLQ.Publish(ctx, cg.cfg.DLQTopic, m.Key, m.Value, headersToMap(m.Headers)); err != nil {
			cg.logger.Error("dlq publish failed", zap.Int64("offset", m.Offset), zap.Error(err))
		}
	}
}

func newBackOff(min, max time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = min
	b.MaxInterval = max
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func wrapMessage(m kafka.Message) Message {
	return Message{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
		Value:     m.Value,
		Time:      m.Time,
		Headers:   headersToMap(m.Headers),
	}
}

func headersToMap(hs []kafka.Header) map[string]string {
	out := make(map[string]string, len(hs))
	for _, h := range hs {
		out[h.Key] = string(h.Value)
	}
	return out
}
