package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
)

// Writer is the subset of kafka.Writer the producer needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Message is one record to publish. Value is sent as is when it is []byte
// or string and JSON encoded otherwise.
type Message struct {
	Key     []byte
	Value   interface{}
	Headers map[string]string
}

type ProducerOption func(*producerConfig)

type producerConfig struct {
	brokers      []string
	acks         kafka.RequiredAcks
	compression  string
	maxAttempts  int
	batchTimeout time.Duration
	async        bool
}

func WithBrokers(brokers []string) ProducerOption {
	return func(c *producerConfig) { c.brokers = brokers }
}

// WithCompression picks gzip, snappy, lz4 or zstd. Unknown names mean gzip.
func WithCompression(name string) ProducerOption {
	return func(c *producerConfig) {
		if name != "" {
			c.compression = name
		}
	}
}

// WithRequiredAcks sets -1 for all replicas, 1 for the leader, 0 for none.
func WithRequiredAcks(acks int) ProducerOption {
	return func(c *producerConfig) { c.acks = kafka.RequiredAcks(acks) }
}

func WithMaxAttempts(n int) ProducerOption {
	return func(c *producerConfig) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithBatchTimeout is how long the writer lingers to fill a batch.
func WithBatchTimeout(d time.Duration) ProducerOption {
	return func(c *producerConfig) {
		if d > 0 {
			c.batchTimeout = d
		}
	}
}

// WithAsync makes writes fire and forget. Delivery errors are then lost.
func WithAsync(async bool) ProducerOption {
	return func(c *producerConfig) { c.async = async }
}

// Producer publishes encoded records through a Writer.
type Producer struct {
	writer      Writer
	compression string
	metrics     *producerMetrics
	now         func() time.Time
}

// NewProducer builds a key-hashing kafka.Writer for the given brokers.
func NewProducer(opts ...ProducerOption) (*Producer, error) {
	cfg := producerConfig{
		acks:         kafka.RequireAll,
		compression:  "gzip",
		maxAttempts:  3,
		batchTimeout: time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(cfg.brokers) == 0 {
		return nil, errors.New("kafka producer: brokers are required")
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: cfg.acks,
		Compression:  compressionCodec(cfg.compression),
		MaxAttempts:  cfg.maxAttempts,
		BatchTimeout: cfg.batchTimeout,
		WriteTimeout: 10 * time.Second,
		Async:        cfg.async,
	}
	return NewProducerFromWriter(w, cfg.compression), nil
}

// NewProducerFromWriter wraps w. compression only labels metrics.
func NewProducerFromWriter(w Writer, compression string) *Producer {
	return &Producer{writer: w, compression: compression, metrics: sharedProducerMetrics(), now: time.Now}
}

func (p *Producer) Publish(ctx context.Context, topic string, key []byte, value interface{}) error {
	return p.PublishBatch(ctx, topic, []Message{{Key: key, Value: value}})
}

// PublishBatch writes messages to topic in a single call.
func (p *Producer) PublishBatch(ctx context.Context, topic string, messages []Message) error {
	if len(messages) == 0 {
		return nil
	}
	start := p.now()
	out := make([]kafka.Message, len(messages))
	var size int
	for i, m := range messages {
		value, err := encodeValue(m.Value)
		if err != nil {
			return fmt.Errorf("encode message %d: %w", i, err)
		}
		out[i] = kafka.Message{Topic: topic, Key: m.Key, Value: value, Headers: toHeaders(m.Headers), Time: start}
		size += len(value)
	}

	err := p.writer.WriteMessages(ctx, out...)
	p.metrics.observe(topic, p.compression, len(out), size, p.now().Sub(start), err)
	if err != nil {
		return fmt.Errorf("write %d messages to %s: %w", len(out), topic, err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

func encodeValue(v interface{}) ([]byte, error) {
	switch t := v.(type) {
	case []byte:
		return t, nil
	case string:
		return []byte(t), nil
	}
	return json.Marshal(v)
}

func toHeaders(h map[string]string) []kafka.Header {
	if len(h) == 0 {
		return nil
	}
	out := make([]kafka.Header, 0, len(h))
	for k, v := range h {
		out = append(out, kafka.Header{Key: k, Value: []byte(v)})
	}
	return out
}

func compressionCodec(name string) kafka.Compression {
	switch name {
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	}
	return kafka.Gzip
}

type producerMetrics struct {
	messages *prometheus.CounterVec
	bytes    *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

var (
	producerMetricsOnce sync.Once
	producerMetricsInst *producerMetrics
)

// sharedProducerMetrics registers the collectors on first use.
func sharedProducerMetrics() *producerMetrics {
	producerMetricsOnce.Do(func() {
		producerMetricsInst = &producerMetrics{
			messages: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "pattern_engine_kafka_producer_messages_total",
				Help: "Messages handed to the Kafka writer, by result.",
			}, []string{"topic", "compression", "result"}),
			bytes: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "pattern_engine_kafka_producer_bytes_total",
				Help: "Encoded payload bytes handed to the Kafka writer.",
			}, []string{"topic"}),
			latency: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "pattern_engine_kafka_producer_publish_seconds",
				Help:    "Time spent in WriteMessages.",
				Buckets: prometheus.DefBuckets,
			}, []string{"topic"}),
		}
	})
	return producerMetricsInst
}

func (m *producerMetrics) observe(topic, compression string, count, size int, took time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.messages.WithLabelValues(topic, compression, result).Add(float64(count))
	m.bytes.WithLabelValues(topic).Add(float64(size))
	m.latency.WithLabelValues(topic).Observe(took.Seconds())
}
