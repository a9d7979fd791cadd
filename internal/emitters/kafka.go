package emitters

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"chainpay/internal/interfaces"
	"chainpay/internal/models"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

var _ interfaces.Notifier = (*KafkaNotifier)(nil)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// confirmationEvent is the message body published for each confirmation.
type confirmationEvent struct {
	Owner string `json:"owner"`
	models.Notification
}

// KafkaNotifier publishes confirmations to a Kafka topic, keyed by txid so
// repeats for one transaction land on the same partition.
type KafkaNotifier struct {
	writer messageWriter
	logger *zerolog.Logger
	mu     sync.Mutex
}

func NewKafkaNotifier(brokers []string, topic string, logger *zerolog.Logger) *KafkaNotifier {
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		},
		logger: logger,
	}
}

func (k *KafkaNotifier) Notify(ctx context.Context, owner string, n models.Notification) error {
	value, err := json.Marshal(confirmationEvent{Owner: owner, Notification: n})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.writer == nil {
		return fmt.Errorf("kafka notifier closed")
	}

	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(n.TxID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "chain", Value: []byte(n.Chain)},
			{Key: "owner", Value: []byte(owner)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to write message to Kafka: %w", err)
	}

	k.logger.Info().
		Str("chain", n.Chain).
		Str("txid", n.TxID).
		Msg("Confirmation published to Kafka")
	return nil
}

func (k *KafkaNotifier) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.writer != nil {
		err := k.writer.Close()
		k.writer = nil
		return err
	}
	return nil
}
