// Package kafka implements a completion publisher on top of a Kafka
// producer.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// Config contains settings for connecting to the Kafka brokers.
type Config struct {
	// Brokers is a list of Kafka broker addresses to connect to.
	Brokers []string
	// Topic receives every completion message.
	Topic string
	// ClientID identifies this producer to the cluster.
	ClientID string
	// ConnectTimeout bounds how long ConnectWithRetry keeps trying. Zero
	// means one minute.
	ConnectTimeout time.Duration
}

// Publisher sends JSON payloads to a single Kafka topic.
type Publisher struct {
	producer sarama.SyncProducer
	topic    string
}

// New wraps an existing producer. The Publisher takes ownership of it.
func New(producer sarama.SyncProducer, topic string) *Publisher {
	return &Publisher{producer: producer, topic: topic}
}

// Dial creates a synchronous producer that waits for all in-sync replicas.
func Dial(cfg Config) (*Publisher, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, errors.New("kafka brokers and topic are required")
	}
	producerConfig := sarama.NewConfig()
	producerConfig.Producer.RequiredAcks = sarama.WaitForAll
	producerConfig.Producer.Return.Successes = true
	producerConfig.Producer.Partitioner = sarama.NewHashPartitioner
	if cfg.ClientID != "" {
		producerConfig.ClientID = cfg.ClientID
	}

	producer, err := sarama.NewSyncProducer(cfg.Brokers, producerConfig)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return New(producer, cfg.Topic), nil
}

// ConnectWithRetry dials with exponential backoff so a harvest can start
// while the brokers are still coming up.
func ConnectWithRetry(ctx context.Context, cfg Config, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = time.Second
	expBackoff.MaxElapsedTime = cfg.ConnectTimeout
	if expBackoff.MaxElapsedTime <= 0 {
		expBackoff.MaxElapsedTime = time.Minute
	}

	var pub *Publisher
	operation := func() error {
		var err error
		pub, err = Dial(cfg)
		if err != nil {
			logger.Warn("kafka connect failed, will retry", zap.Strings("brokers", cfg.Brokers), zap.Error(err))
		}
		return err
	}
	if err := backoff.Retry(operation, backoff.WithContext(expBackoff, ctx)); err != nil {
		return nil, fmt.Errorf("connect to kafka after retries: %w", err)
	}
	return pub, nil
}

// Publish marshals payload to JSON and sends it to topic, or to the bound
// topic when topic is empty. The returned id is "<topic>/<partition>/<offset>".
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p == nil || p.producer == nil {
		return "", errors.New("kafka publisher is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	if topic == "" {
		topic = p.topic
	}
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("content-type"), Value: []byte("application/json")},
		},
	}
	carrier := &headerCarrier{headers: msg.Headers}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	msg.Headers = carrier.headers

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return fmt.Sprintf("%s/%d/%d", topic, partition, offset), nil
}

// Close flushes and releases the producer.
func (p *Publisher) Close() error {
	if p == nil || p.producer == nil {
		return nil
	}
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}

// headerCarrier implements propagation.TextMapCarrier for record headers.
type headerCarrier struct {
	headers []sarama.RecordHeader
}

func (c *headerCarrier) Get(key string) string {
	for _, h := range c.headers {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *headerCarrier) Set(key, value string) {
	c.headers = append(c.headers, sarama.RecordHeader{Key: []byte(key), Value: []byte(value)})
}

func (c *headerCarrier) Keys() []string {
	out := make([]string, len(c.headers))
	for i, h := range c.headers {
		out[i] = string(h.Key)
	}
	return out
}
