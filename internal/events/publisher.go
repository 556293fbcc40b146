package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"libcirc-backend/internal/domain"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

type EventType string

const (
	TypeReservationCreated   EventType = "reservation.created"
	TypeReservationConfirmed EventType = "reservation.confirmed"
	TypeReservationLoaned    EventType = "reservation.loaned"
	TypeReservationReturned  EventType = "reservation.returned"
	TypeReservationCancelled EventType = "reservation.cancelled"
	TypeReservationExpired   EventType = "reservation.expired"
	TypeLoanOverdue          EventType = "reservation.overdue"
)

// ReservationEvent is the lifecycle record emitted after each committed
// mutation. Downstream consumers (notifications, reporting) subscribe;
// the engine itself never reads these back.
type ReservationEvent struct {
	EventID       string        `json:"event_id"`
	Type          EventType     `json:"type"`
	ReservationID int32         `json:"reservation_id"`
	UserID        int32         `json:"user_id"`
	BookID        int32         `json:"book_id"`
	Status        domain.Status `json:"status"`
	OccurredAt    time.Time     `json:"occurred_at"`
}

func NewReservationEvent(t EventType, r *domain.Reservation) ReservationEvent {
	return ReservationEvent{
		EventID:       uuid.NewString(),
		Type:          t,
		ReservationID: r.ID,
		UserID:        r.UserID,
		BookID:        r.BookID,
		Status:        r.Status,
		OccurredAt:    time.Now(),
	}
}

type Publisher interface {
	Publish(ctx context.Context, event ReservationEvent) error
	Close() error
}

type kafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) Publisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
	}
	return &kafkaPublisher{writer: writer}
}

// Publish keys messages by book id so all events for one title land in
// the same partition, in order.
func (p *kafkaPublisher) Publish(ctx context.Context, event ReservationEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(fmt.Sprintf("%d", event.BookID)),
		Value: data,
		Time:  event.OccurredAt,
	})
}

func (p *kafkaPublisher) Close() error {
	return p.writer.Close()
}

type nopPublisher struct{}

// NewNopPublisher returns a publisher that drops every event. Used when
// no brokers are configured.
func NewNopPublisher() Publisher {
	return nopPublisher{}
}

func (nopPublisher) Publish(ctx context.Context, event ReservationEvent) error { return nil }

func (nopPublisher) Close() error { return nil }
