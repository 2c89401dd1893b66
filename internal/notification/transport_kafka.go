package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaTransport publishes notifications to a topic keyed by event id, so
// all notices of one event land on one partition in order. The bearer
// token is not published.
type KafkaTransport struct {
	client *kgo.Client
	topic  string
}

func NewKafkaTransport(brokers []string, topic string, opts ...kgo.Opt) (*KafkaTransport, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	opts = append([]kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}, opts...)
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &KafkaTransport{client: client, topic: topic}, nil
}

// EnsureTopic creates the topic if it does not exist yet.
func (t *KafkaTransport) EnsureTopic(ctx context.Context, partitions int32, replication int16) error {
	admin := kadm.NewClient(t.client)
	resp, err := admin.CreateTopics(ctx, partitions, replication, nil, t.topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", t.topic, err)
	}
	for _, r := range resp {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}

func (t *KafkaTransport) Send(ctx context.Context, n Notification) error {
	value, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("%w: encode notification: %v", ErrPermanent, err)
	}
	record := &kgo.Record{
		Key:   []byte(n.EventID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "action-type", Value: []byte(n.ActionType)},
			{Key: "transaction-id", Value: []byte(n.TransactionID)},
		},
	}
	if err := t.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce notification: %w", err)
	}
	return nil
}

func (t *KafkaTransport) Close() {
	t.client.Close()
}
