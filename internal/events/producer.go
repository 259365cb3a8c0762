package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

const (
	TypeUserRegistered = "user_registered"
	TypeUserLoggedIn   = "user_logged_in"
	TypeTokenRotated   = "token_rotated"
	TypeFederatedLogin = "federated_login"
)

type Event struct {
	ID     string    `json:"id"`
	Type   string    `json:"type"`
	UserID string    `json:"user_id,omitempty"`
	Email  string    `json:"email,omitempty"`
	At     time.Time `json:"at"`
}

// Emitter is the producer surface consumed by middleware and handlers.
type Emitter interface {
	Emit(ctx context.Context, eventType, userID, email string) error
}

// Producer fans auth events out to the messaging fabric. A nil Producer is a
// no-op so wiring stays optional in environments without a broker.
type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return &Producer{writer: w}
}

func (p *Producer) Emit(ctx context.Context, eventType, userID, email string) error {
	if p == nil || p.writer == nil {
		return nil
	}
	evt := Event{
		ID:     uuid.NewString(),
		Type:   eventType,
		UserID: userID,
		Email:  email,
		At:     time.Now().UTC(),
	}
	value, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(userID),
		Value: value,
	})
}

func (p *Producer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
