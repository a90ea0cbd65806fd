package propagation

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
)

// EventPrincipalCreated is the event name carried in every message.
const EventPrincipalCreated = "principal.created"

// messageWriter is the part of *kafka.Writer the notifier uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// principalCreated is the JSON payload consumers read.
type principalCreated struct {
	Event       string            `json:"event"`
	PrincipalID string            `json:"principal_id"`
	Profile     map[string]string `json:"profile,omitempty"`
	OccurredAt  time.Time         `json:"occurred_at"`
}

// KafkaNotifier publishes principal-created events with segmentio/kafka-go. Messages are keyed by
// principal id so one principal's events stay ordered on one partition.
type KafkaNotifier struct {
	writer messageWriter
	now    func() time.Time
}

// NewKafkaNotifier creates a notifier writing to topic. Returns nil when brokers or topic are
// missing so callers can fall back to Noop. Call Close when shutting down.
func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	return newKafkaNotifier(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	})
}

func newKafkaNotifier(w messageWriter) *KafkaNotifier {
	return &KafkaNotifier{writer: w, now: time.Now}
}

// NotifyPrincipalCreated writes one message. It honours ctx's deadline.
func (n *KafkaNotifier) NotifyPrincipalCreated(ctx context.Context, principalID string, profile map[string]string) error {
	if principalID == "" {
		return errors.New("propagation: empty principal id")
	}
	payload, err := json.Marshal(principalCreated{
		Event:       EventPrincipalCreated,
		PrincipalID: principalID,
		Profile:     profile,
		OccurredAt:  n.now().UTC(),
	})
	if err != nil {
		return err
	}
	return n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(principalID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(EventPrincipalCreated)},
		},
	})
}

// Close closes the Kafka writer. Safe to call on a nil notifier.
func (n *KafkaNotifier) Close() error {
	if n == nil || n.writer == nil {
		return nil
	}
	return n.writer.Close()
}
