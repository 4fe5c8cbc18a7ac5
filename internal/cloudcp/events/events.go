// Package events publishes tenant lifecycle events for downstream services.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// Type names a lifecycle event.
type Type string

const (
	TypeTenantCreated       Type = "tenant.created"
	TypeTenantActivated     Type = "tenant.activated"
	TypeSignupBillingFailed Type = "signup.billing_failed"
	TypeTenantReactivated   Type = "tenant.reactivated"
)

// Event is one lifecycle event. Events are keyed by tenant so a consumer sees
// one tenant's events in order.
type Event struct {
	ID              string            `json:"id"`
	Type            Type              `json:"type"`
	TenantID        string            `json:"tenant_id,omitempty"`
	SignupSessionID string            `json:"signup_session_id,omitempty"`
	OccurredAt      time.Time         `json:"occurred_at"`
	Data            map[string]string `json:"data,omitempty"`
}

// New returns an event with a fresh ID and timestamp.
func New(t Type, tenantID, sessionID string, data map[string]string) Event {
	return Event{
		ID:              uuid.NewString(),
		Type:            t,
		TenantID:        tenantID,
		SignupSessionID: sessionID,
		OccurredAt:      time.Now().UTC(),
		Data:            data,
	}
}

// Publisher publishes lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Writer is the subset of kafka.Writer the publisher uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events as JSON to one Kafka topic.
type KafkaPublisher struct {
	writer Writer
}

// NewKafkaPublisher creates a publisher writing to topic on brokers.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		WriteTimeout:           10 * time.Second,
	}
	return &KafkaPublisher{writer: w}
}

// NewKafkaPublisherWithWriter allows injecting a test writer.
func NewKafkaPublisherWithWriter(w Writer) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

// Publish implements Publisher.
func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", e.Type, err)
	}
	key := e.TenantID
	if key == "" {
		key = e.SignupSessionID
	}
	msg := kafka.Message{
		Key:   []byte(key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish event %s: %w", e.Type, err)
	}
	return nil
}

// Close implements Publisher.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher logs events instead of publishing them. Used when no broker is configured.
type LogPublisher struct{}

// Publish implements Publisher.
func (LogPublisher) Publish(_ context.Context, e Event) error {
	log.Info().
		Str("event_id", e.ID).
		Str("event_type", string(e.Type)).
		Str("tenant_id", e.TenantID).
		Str("signup_session_id", e.SignupSessionID).
		Msg("Lifecycle event (log-only, no broker configured)")
	return nil
}

// Close implements Publisher.
func (LogPublisher) Close() error { return nil }

// ParseBrokers splits a comma-separated broker list.
func ParseBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
