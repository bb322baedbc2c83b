package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"
)

type KafkaConfig struct {
	Brokers     []string
	TopicPrefix string
	ClientID    string
}

// KafkaPublisher sends events to "<prefix>.<type>" topics through an async producer.
type KafkaPublisher struct {
	producer sarama.AsyncProducer
	prefix   string
	done     chan struct{}
	wg       sync.WaitGroup
}

func NewKafkaPublisher(cfg KafkaConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}

	saramaConfig := sarama.NewConfig()
	if cfg.ClientID != "" {
		saramaConfig.ClientID = cfg.ClientID
	}
	saramaConfig.Producer.RequiredAcks = sarama.WaitForLocal
	saramaConfig.Producer.Flush.Frequency = 100 * time.Millisecond
	saramaConfig.Producer.Retry.Max = 3
	saramaConfig.Producer.Return.Successes = false
	saramaConfig.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	slog.Info("Kafka publisher initialized", "brokers", cfg.Brokers, "topic_prefix", cfg.TopicPrefix)
	return NewKafkaPublisherWithProducer(producer, cfg.TopicPrefix), nil
}

// NewKafkaPublisherWithProducer wraps an existing producer.
func NewKafkaPublisherWithProducer(producer sarama.AsyncProducer, topicPrefix string) *KafkaPublisher {
	p := &KafkaPublisher{
		producer: producer,
		prefix:   strings.TrimSuffix(strings.TrimSpace(topicPrefix), "."),
		done:     make(chan struct{}),
	}
	p.wg.Add(1)
	go p.handleErrors()
	return p
}

func (p *KafkaPublisher) handleErrors() {
	defer p.wg.Done()
	for {
		select {
		case perr, ok := <-p.producer.Errors():
			if !ok {
				return
			}
			if perr != nil {
				topic := ""
				if perr.Msg != nil {
					topic = perr.Msg.Topic
				}
				slog.Error("Kafka producer error", "err", perr.Err, "topic", topic)
			}
		case <-p.done:
			return
		}
	}
}

func (p *KafkaPublisher) TopicName(t Type) string {
	if p.prefix == "" {
		return string(t)
	}
	return p.prefix + "." + string(t)
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		slog.Error("Failed to encode event", "type", e.Type, "err", err)
		return
	}

	msg := &sarama.ProducerMessage{
		Topic: p.TopicName(e.Type),
		Value: sarama.ByteEncoder(data),
	}
	if e.UserID != "" {
		msg.Key = sarama.StringEncoder(e.UserID)
	}

	select {
	case p.producer.Input() <- msg:
	case <-ctx.Done():
		slog.Warn("Dropped event, context done", "type", e.Type, "err", ctx.Err())
	}
}

// Close flushes pending messages and stops the error handler.
func (p *KafkaPublisher) Close() error {
	err := p.producer.Close()
	close(p.done)
	p.wg.Wait()
	if err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}
