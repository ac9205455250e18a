package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaSink publishes ledger events to a Kafka topic as JSON, keyed by token
// id so per-record event order is preserved within a partition.
type KafkaSink struct {
	client *kgo.Client
	topic  string
}

// NewKafkaSink connects to the brokers and ensures the topic exists.
func NewKafkaSink(ctx context.Context, brokers []string, topic string) (*KafkaSink, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}

	admin := kadm.NewClient(client)
	topics, err := admin.ListTopics(ctx, topic)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("list topics: %w", err)
	}
	if !topics.Has(topic) {
		if _, err := admin.CreateTopic(ctx, 1, 1, nil, topic); err != nil {
			client.Close()
			return nil, fmt.Errorf("create topic %s: %w", topic, err)
		}
	}

	return &KafkaSink{client: client, topic: topic}, nil
}

// Deliver produces the event synchronously so the publisher's drain-on-close
// guarantee extends to the broker.
func (s *KafkaSink) Deliver(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(event.TokenID.String()),
		Value: payload,
	}
	if err := s.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce event: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying client.
func (s *KafkaSink) Close() {
	s.client.Close()
}
