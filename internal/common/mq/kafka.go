package mq

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/cosc121od/pycode/pkg/utils/logger"
)

const headerAttempts = "x-attempts"

// KafkaConfig configures the shared writer and the topic readers.
type KafkaConfig struct {
	Brokers  []string
	ClientID string

	RequiredAcks kafka.RequiredAcks
	BatchSize    int
	BatchTimeout time.Duration
	Compression  kafka.Compression

	MinBytes    int
	MaxBytes    int
	MaxWait     time.Duration
	DialTimeout time.Duration
}

// Kafka publishes through one writer and runs a reader per consumed topic.
type Kafka struct {
	config KafkaConfig
	writer *kafka.Writer
	dialer *kafka.Dialer

	mu        sync.Mutex
	consumers []*consumer
	closed    bool
}

var _ Publisher = (*Kafka)(nil)

// NewKafka creates the client. Readers are only created by Consume.
func NewKafka(cfg KafkaConfig) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("brokers are required")
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 1
	}
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = 10 * time.Millisecond
	}
	if cfg.MinBytes == 0 {
		cfg.MinBytes = 1
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = 1 << 20
	}
	if cfg.MaxWait == 0 {
		cfg.MaxWait = 500 * time.Millisecond
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.RequiredAcks == 0 {
		cfg.RequiredAcks = kafka.RequireAll
	}

	dialer := &kafka.Dialer{ClientID: cfg.ClientID, Timeout: cfg.DialTimeout, DualStack: true}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: cfg.RequiredAcks,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		Compression:  cfg.Compression,
		Transport: &kafka.Transport{
			Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
				return dialer.DialContext(ctx, network, address)
			},
			ClientID: cfg.ClientID,
		},
	}
	return &Kafka{config: cfg, writer: writer, dialer: dialer}, nil
}

// Publish writes message to topic, keyed by message.ID.
func (k *Kafka) Publish(ctx context.Context, topic string, message *Message) error {
	if message == nil {
		return errors.New("message is nil")
	}
	if topic == "" {
		return errors.New("topic is required")
	}
	return k.writer.WriteMessages(ctx, toKafkaMessage(topic, message))
}

// Consume starts reading topic in the background until ctx ends or Close.
func (k *Kafka) Consume(ctx context.Context, topic string, handler Handler, opts ConsumeOptions) error {
	if topic == "" {
		return errors.New("topic is required")
	}
	if handler == nil {
		return errors.New("handler is required")
	}
	opts = opts.withDefaults()
	if opts.Group == "" {
		return errors.New("consumer group is required")
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return errors.New("kafka client is closed")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     k.config.Brokers,
		Topic:       topic,
		GroupID:     opts.Group,
		Dialer:      k.dialer,
		MinBytes:    k.config.MinBytes,
		MaxBytes:    k.config.MaxBytes,
		MaxWait:     k.config.MaxWait,
		StartOffset: kafka.FirstOffset,
	})
	c := &consumer{topic: topic, handler: handler, opts: opts, reader: reader, publish: k.Publish}
	c.start(ctx)
	k.consumers = append(k.consumers, c)
	return nil
}

// Ping dials the first broker.
func (k *Kafka) Ping(ctx context.Context) error {
	conn, err := k.dialer.DialContext(ctx, "tcp", k.config.Brokers[0])
	if err != nil {
		return err
	}
	return conn.Close()
}

// Close stops every consumer, waiting for in-flight handlers, then flushes the writer.
func (k *Kafka) Close() error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.closed = true
	consumers := k.consumers
	k.consumers = nil
	k.mu.Unlock()

	for _, c := range consumers {
		c.stop()
	}
	return k.writer.Close()
}

// fetcher is the part of *kafka.Reader a consumer needs.
type fetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type consumer struct {
	topic   string
	handler Handler
	opts    ConsumeOptions
	reader  fetcher
	publish func(ctx context.Context, topic string, message *Message) error
	now     func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (c *consumer) start(parent context.Context) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	c.cancel = cancel

	msgCh := make(chan kafka.Message, c.opts.Workers)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(msgCh)
		for {
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Warn(ctx, "fetch message failed", zap.String("topic", c.topic), zap.Error(err))
				select {
				case <-time.After(200 * time.Millisecond):
					continue
				case <-ctx.Done():
					return
				}
			}
			select {
			case msgCh <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	for i := 0; i < c.opts.Workers; i++ {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			for msg := range msgCh {
				c.process(ctx, msg)
			}
		}()
	}
}

func (c *consumer) stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	if err := c.reader.Close(); err != nil {
		logger.Warn(context.Background(), "close kafka reader failed", zap.String("topic", c.topic), zap.Error(err))
	}
}

// process runs the handler until it succeeds, the attempts are used up or
// the message is too old. The offset is committed in each of those cases and
// left uncommitted only when ctx ends mid-retry.
func (c *consumer) process(ctx context.Context, km kafka.Message) {
	m := fromKafkaMessage(km)
	now := time.Now
	if c.now != nil {
		now = c.now
	}
	if c.opts.MaxAge > 0 && !m.Timestamp.IsZero() && now().Sub(m.Timestamp) > c.opts.MaxAge {
		logger.Warn(ctx, "dropping expired message", zap.String("topic", c.topic), zap.String("message_id", m.ID))
		c.commit(ctx, km)
		return
	}

	for {
		err := c.handler(ctx, m)
		if err == nil {
			c.commit(ctx, km)
			return
		}
		m.Attempt++
		if m.Attempt >= c.opts.MaxAttempts {
			logger.Error(ctx, "message handling failed",
				zap.String("topic", c.topic),
				zap.String("message_id", m.ID),
				zap.Int("attempts", m.Attempt),
				zap.Error(err),
			)
			if c.opts.DeadLetterTopic != "" {
				if pubErr := c.publish(ctx, c.opts.DeadLetterTopic, m); pubErr != nil {
					logger.Error(ctx, "dead letter publish failed", zap.String("message_id", m.ID), zap.Error(pubErr))
				}
			}
			c.commit(ctx, km)
			return
		}
		select {
		case <-time.After(c.opts.RetryDelay):
		case <-ctx.Done():
			return
		}
	}
}

func (c *consumer) commit(ctx context.Context, km kafka.Message) {
	if err := c.reader.CommitMessages(ctx, km); err != nil {
		logger.Warn(ctx, "commit message failed", zap.String("topic", c.topic), zap.Error(err))
	}
}

func toKafkaMessage(topic string, message *Message) kafka.Message {
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}
	headers := make([]kafka.Header, 0, len(message.Headers)+1)
	for k, v := range message.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	if message.Attempt > 0 {
		headers = append(headers, kafka.Header{Key: headerAttempts, Value: []byte(strconv.Itoa(message.Attempt))})
	}
	return kafka.Message{
		Topic:   topic,
		Key:     []byte(message.ID),
		Value:   message.Body,
		Headers: headers,
		Time:    message.Timestamp,
	}
}

// fromKafkaMessage restores a message. The attempt count is not carried over:
// a message read back from a dead letter or retry topic starts fresh.
func fromKafkaMessage(km kafka.Message) *Message {
	m := &Message{
		ID:        string(km.Key),
		Body:      km.Value,
		Headers:   make(map[string]string, len(km.Headers)),
		Timestamp: km.Time,
	}
	for _, h := range km.Headers {
		if h.Key == headerAttempts {
			continue
		}
		m.Headers[h.Key] = string(h.Value)
	}
	return m
}
