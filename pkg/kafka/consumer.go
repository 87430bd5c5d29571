package kafka

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"

	applogger "PatternEngine/pkg/logger"
)

// MessageHandler handles the payloads of one topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

// Reader is the subset of kafka.Reader the consumer uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type ConsumerOption func(*consumerConfig)

type consumerConfig struct {
	brokers    []string
	groupID    string
	workers    int
	buffer     int
	retryMax   int
	backoffMin time.Duration
	backoffMax time.Duration
	dlqTopic   string
}

func WithConsumerBrokers(brokers []string) ConsumerOption {
	return func(c *consumerConfig) { c.brokers = brokers }
}

func WithConsumerGroupID(id string) ConsumerOption {
	return func(c *consumerConfig) {
		if id != "" {
			c.groupID = id
		}
	}
}

func WithConsumerWorkers(n int) ConsumerOption {
	return func(c *consumerConfig) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithConsumerBufferSize is the total queue length shared by all workers.
func WithConsumerBufferSize(n int) ConsumerOption {
	return func(c *consumerConfig) {
		if n > 0 {
			c.buffer = n
		}
	}
}

// WithConsumerRetry sets how many times a failed message is retried and the
// backoff range between attempts.
func WithConsumerRetry(max int, backoffMin, backoffMax time.Duration) ConsumerOption {
	return func(c *consumerConfig) {
		c.retryMax = max
		c.backoffMin = backoffMin
		c.backoffMax = backoffMax
	}
}

// WithConsumerDLQ parks messages that exhausted their retries on topic.
func WithConsumerDLQ(topic string) ConsumerOption {
	return func(c *consumerConfig) { c.dlqTopic = topic }
}

// Consumer reads one reader per registered topic and hands messages to a
// fixed set of workers. A partition always maps to the same worker, so
// records of one partition are handled in offset order.
type Consumer struct {
	cfg        consumerConfig
	log        *applogger.Logger
	newReader  func(topic string) Reader
	readers    map[string]Reader
	handlers   map[string]MessageHandler
	middleware []Middleware
	dlq        *Producer
	metrics    *consumerMetrics

	shards   []chan kafka.Message
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewConsumer(log *applogger.Logger, opts ...ConsumerOption) (*Consumer, error) {
	cfg := consumerConfig{
		groupID:    "pattern-engine",
		workers:    2,
		buffer:     64,
		retryMax:   3,
		backoffMin: 50 * time.Millisecond,
		backoffMax: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(cfg.brokers) == 0 {
		return nil, errors.New("kafka consumer: brokers are required")
	}
	if log == nil {
		log = applogger.Nop()
	}

	c := &Consumer{
		cfg:      cfg,
		log:      log,
		readers:  make(map[string]Reader),
		handlers: make(map[string]MessageHandler),
		metrics:  sharedConsumerMetrics(),
		stop:     make(chan struct{}),
	}
	c.newReader = func(topic string) Reader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.brokers,
			Topic:    topic,
			GroupID:  cfg.groupID,
			MinBytes: 10e3,
			MaxBytes: 10e6,
		})
	}
	if cfg.dlqTopic != "" {
		c.dlq = NewProducerFromWriter(&kafka.Writer{Addr: kafka.TCP(cfg.brokers...), Balancer: &kafka.Hash{}}, "none")
	}
	return c, nil
}

// RegisterHandler binds h to its topic. A second handler for a topic is ignored.
func (c *Consumer) RegisterHandler(h MessageHandler) {
	topic := h.Topic()
	if _, dup := c.handlers[topic]; dup {
		c.log.Warn("kafka handler already registered", applogger.String("topic", topic))
		return
	}
	c.handlers[topic] = h
}

// Use appends middleware. The first one added is the outermost.
func (c *Consumer) Use(mw ...Middleware) {
	c.middleware = append(c.middleware, mw...)
}

// Start opens the readers and launches the workers.
func (c *Consumer) Start() error {
	if len(c.handlers) == 0 {
		return errors.New("kafka consumer: no handlers registered")
	}
	for topic := range c.handlers {
		c.readers[topic] = c.newReader(topic)
	}

	per := max(1, c.cfg.buffer/c.cfg.workers)
	c.shards = make([]chan kafka.Message, c.cfg.workers)
	for i := range c.shards {
		c.shards[i] = make(chan kafka.Message, per)
		c.wg.Add(1)
		go c.work(c.shards[i])
	}
	for topic, r := range c.readers {
		c.wg.Add(1)
		go c.consume(topic, r)
	}

	c.log.Info("kafka consumer started",
		applogger.Int("workers", c.cfg.workers),
		applogger.Int("topics", len(c.readers)),
		applogger.String("group_id", c.cfg.groupID))
	return nil
}

// Stop signals every goroutine, waits for them within ctx and closes the
// readers. In-flight messages finish their current attempt.
func (c *Consumer) Stop(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		close(c.stop)

		done := make(chan struct{})
		go func() {
			c.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = fmt.Errorf("kafka consumer stop: %w", ctx.Err())
		}

		for topic, r := range c.readers {
			if cerr := r.Close(); cerr != nil {
				c.log.Error("close kafka reader", applogger.String("topic", topic), applogger.Error(cerr))
			}
		}
		if c.dlq != nil {
			if cerr := c.dlq.Close(); cerr != nil {
				c.log.Error("close dlq writer", applogger.Error(cerr))
			}
		}
	})
	return err
}

func (c *Consumer) consume(topic string, r Reader) {
	defer c.wg.Done()
	for {
		select {
		case <-c.stop:
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		msg, err := r.FetchMessage(ctx)
		cancel()
		if errors.Is(err, context.DeadlineExceeded) {
			continue
		}
		if err != nil {
			c.log.Error("fetch kafka message", applogger.String("topic", topic), applogger.Error(err))
			continue
		}
		if msg.Topic == "" {
			msg.Topic = topic
		}

		select {
		case c.shards[shardFor(msg.Topic, msg.Partition, len(c.shards))] <- msg:
		case <-c.stop:
			return
		}
	}
}

func (c *Consumer) work(in <-chan kafka.Message) {
	defer c.wg.Done()
	for {
		select {
		case <-c.stop:
			return
		case msg := <-in:
			c.process(msg)
		}
	}
}

// shardFor maps a topic partition onto one of n workers.
func shardFor(topic string, partition, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(topic))
	_, _ = h.Write([]byte(strconv.Itoa(partition)))
	return int(h.Sum32() % uint32(n))
}

// process handles msg with retries. The offset is committed when handling
// succeeded or the message reached the DLQ. A dropped message stays
// uncommitted and is fetched again after a restart or rebalance, unless a
// later offset on its partition is committed first.
func (c *Consumer) process(msg kafka.Message) {
	h, ok := c.handlers[msg.Topic]
	if !ok {
		return
	}
	start := time.Now()
	err := c.handleWithRetry(c.chain(h), msg)

	outcome := "ok"
	if err != nil {
		outcome = "dropped"
		c.log.Error("kafka message failed",
			applogger.String("topic", msg.Topic),
			applogger.Int("partition", msg.Partition),
			applogger.Int64("offset", msg.Offset),
			applogger.Error(err))
		if c.park(msg, err) {
			outcome = "dlq"
		}
	}
	c.metrics.observe(msg.Topic, outcome, time.Since(start))

	if outcome != "dropped" {
		c.commit(msg)
	}
}

func (c *Consumer) chain(h MessageHandler) HandleFunc {
	next := HandleFunc(func(ctx context.Context, m kafka.Message) error {
		return h.Handle(ctx, m.Value)
	})
	for i := len(c.middleware) - 1; i >= 0; i-- {
		next = c.middleware[i](next)
	}
	return recoverPanics(next)
}

func (c *Consumer) handleWithRetry(handle HandleFunc, msg kafka.Message) error {
	for attempt := 1; ; attempt++ {
		err := handle(context.Background(), msg)
		if err == nil || attempt > c.cfg.retryMax {
			return err
		}
		select {
		case <-time.After(backoff(c.cfg.backoffMin, c.cfg.backoffMax, attempt)):
		case <-c.stop:
			return err
		}
	}
}

func (c *Consumer) park(msg kafka.Message, cause error) bool {
	if c.dlq == nil {
		return false
	}
	err := c.dlq.PublishBatch(context.Background(), c.cfg.dlqTopic, []Message{{
		Key:   msg.Key,
		Value: msg.Value,
		Headers: map[string]string{
			"source_topic": msg.Topic,
			"error":        cause.Error(),
		},
	}})
	if err != nil {
		c.log.Error("write dlq", applogger.String("topic", c.cfg.dlqTopic), applogger.Error(err))
		return false
	}
	return true
}

func (c *Consumer) commit(msg kafka.Message) {
	r := c.readers[msg.Topic]
	if r == nil {
		return
	}
	const attempts = 3
	var err error
	for i := 1; i <= attempts; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = r.CommitMessages(ctx, msg)
		cancel()
		if err == nil {
			return
		}
		time.Sleep(backoff(50*time.Millisecond, 500*time.Millisecond, i))
	}
	c.log.Error("commit kafka offset",
		applogger.String("topic", msg.Topic),
		applogger.Int64("offset", msg.Offset),
		applogger.Error(err))
}

// backoff doubles from lo per attempt up to hi and subtracts up to half as jitter.
func backoff(lo, hi time.Duration, attempt int) time.Duration {
	if lo <= 0 {
		lo = 50 * time.Millisecond
	}
	hi = max(hi, lo)
	d := hi
	if attempt < 32 {
		d = min(lo<<uint(attempt-1), hi)
	}
	if d <= 0 {
		d = hi
	}
	if half := int64(d / 2); half > 0 {
		d -= time.Duration(rand.Int63n(half))
	}
	return d
}

type consumerMetrics struct {
	messages *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

var (
	consumerMetricsOnce sync.Once
	consumerMetricsInst *consumerMetrics
)

func sharedConsumerMetrics() *consumerMetrics {
	consumerMetricsOnce.Do(func() {
		consumerMetricsInst = &consumerMetrics{
			messages: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "pattern_engine_kafka_consumer_messages_total",
				Help: "Consumed messages by outcome (ok, dlq, dropped).",
			}, []string{"topic", "outcome"}),
			latency: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name: "pattern_engine_kafka_consumer_handle_seconds",
				Help: "Handling time per message including retries.",
			}, []string{"topic"}),
		}
	})
	return consumerMetricsInst
}

func (m *consumerMetrics) observe(topic, outcome string, took time.Duration) {
	m.messages.WithLabelValues(topic, outcome).Inc()
	m.latency.WithLabelValues(topic).Observe(took.Seconds())
}
