package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/atvirokodosprendimai/keyledger/internal/core/domain"
)

type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// KafkaPublisher produces events to one Kafka topic per event type. Records
// are keyed by aggregate id so every key's custody events land on the same
// partition in order.
type KafkaPublisher struct {
	client      producer
	topicPrefix string
}

type KafkaOptions struct {
	Brokers     []string
	TopicPrefix string
	ClientID    string
}

func NewKafkaPublisher(opts KafkaOptions) (*KafkaPublisher, error) {
	if len(opts.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no seed brokers")
	}
	clientID := opts.ClientID
	if clientID == "" {
		clientID = "keyledger"
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(opts.Brokers...),
		kgo.ClientID(clientID),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	return newKafkaPublisher(client, opts.TopicPrefix), nil
}

func newKafkaPublisher(client producer, topicPrefix string) *KafkaPublisher {
	if topicPrefix == "" {
		topicPrefix = "keyledger"
	}
	return &KafkaPublisher{client: client, topicPrefix: strings.TrimSuffix(topicPrefix, ".")}
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic string, event domain.EventEnvelope) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	record := &kgo.Record{
		Topic: p.topicPrefix + "." + event.EventType,
		Key:   []byte(event.Organization + "/" + event.AggregateID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "outbox-topic", Value: []byte(topic)},
			{Key: "event-id", Value: []byte(event.EventID)},
			{Key: "organization", Value: []byte(event.Organization)},
		},
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("kafka produce %s: %w", record.Topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	p.client.Close()
	return nil
}
