// Package events publishes reminder timeline events to downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/reancirl/car-erp-sub006/internal/metrics"
	"github.com/reancirl/car-erp-sub006/internal/model"
	"github.com/reancirl/car-erp-sub006/internal/websocket"
	"github.com/segmentio/kafka-go"
)

// Publisher receives events after they are committed. Publishing is best
// effort: the database timeline stays the source of truth.
type Publisher interface {
	Publish(ctx context.Context, events ...model.ReminderEvent) error
}

// Envelope is the wire form of a published event.
type Envelope struct {
	EventID     int64                `json:"event_id"`
	ReminderID  int64                `json:"reminder_id"`
	EventType   string               `json:"event_type"`
	Status      model.ReminderStatus `json:"status"`
	Channel     model.Channel        `json:"channel,omitempty"`
	Message     string               `json:"message,omitempty"`
	ProcessedAt time.Time            `json:"processed_at"`
}

func envelope(e model.ReminderEvent) Envelope {
	return Envelope{
		EventID:     e.ID,
		ReminderID:  e.ReminderID,
		EventType:   e.EventType,
		Status:      e.Status,
		Channel:     e.Channel,
		Message:     e.Message,
		ProcessedAt: e.ProcessedAt.UTC(),
	}
}

// Noop discards events.
type Noop struct{}

func (Noop) Publish(ctx context.Context, events ...model.ReminderEvent) error { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka writes events to a topic keyed by reminder id, so one reminder's
// events stay ordered within a partition.
type Kafka struct {
	writer messageWriter
	topic  string
}

func NewKafka(brokers []string, topic string) *Kafka {
	return &Kafka{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
		topic: topic,
	}
}

func (k *Kafka) Publish(ctx context.Context, events ...model.ReminderEvent) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, len(events))
	for i, e := range events {
		value, err := json.Marshal(envelope(e))
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		msgs[i] = kafka.Message{
			Key:   []byte(strconv.FormatInt(e.ReminderID, 10)),
			Value: value,
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(e.EventType)},
			},
		}
	}
	if err := k.writer.WriteMessages(ctx, msgs...); err != nil {
		metrics.EventPublishFailuresTotal.WithLabelValues("kafka").Inc()
		return fmt.Errorf("write %d events to %s: %w", len(msgs), k.topic, err)
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}

type broadcaster interface {
	Broadcast(msg websocket.Message)
}

// Hub broadcasts events to connected dashboards so reminder lists refresh.
type Hub struct {
	hub broadcaster
}

func NewHub(hub broadcaster) *Hub {
	return &Hub{hub: hub}
}

func (h *Hub) Publish(ctx context.Context, events ...model.ReminderEvent) error {
	for _, e := range events {
		h.hub.Broadcast(websocket.NewMessage("reminder", e.EventType, e.ReminderID, map[string]any{
			"status":  string(e.Status),
			"channel": string(e.Channel),
		}))
	}
	return nil
}

// Multi fans events out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, events ...model.ReminderEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, events...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Logged wraps p so failures are logged instead of returned.
func Logged(p Publisher, logger *slog.Logger) Publisher {
	return logged{p: p, logger: logger}
}

type logged struct {
	p      Publisher
	logger *slog.Logger
}

func (l logged) Publish(ctx context.Context, events ...model.ReminderEvent) error {
	if err := l.p.Publish(ctx, events...); err != nil {
		l.logger.Warn("publish reminder events", "count", len(events), "error", err)
	}
	return nil
}
