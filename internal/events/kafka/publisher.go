// Package kafka exports records and feedback results to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ragscope/backend/internal/metrics"
	"github.com/ragscope/backend/internal/storage/models"
	"github.com/ragscope/backend/pkg/logger"
)

const (
	EventRecord   = "record"
	EventFeedback = "feedback"
)

type Event struct {
	Type      string    `json:"type"`
	RecordID  string    `json:"record_id"`
	AppID     string    `json:"app_id"`
	EmittedAt time.Time `json:"emitted_at"`
	Payload   any       `json:"payload"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes events keyed by record ID. Without brokers it is a no-op.
type Publisher struct {
	writer messageWriter
	topic  string
}

func NewPublisher(brokers []string, topic string) *Publisher {
	if len(brokers) == 0 {
		logger.Info("Kafka brokers not configured, event export disabled")
		return &Publisher{topic: topic}
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           50 * time.Millisecond,
		WriteTimeout:           5 * time.Second,
		AllowAutoTopicCreation: true,
	}

	logger.Info("Kafka writer ready",
		zap.Strings("brokers", brokers),
		zap.String("topic", topic),
	)

	return &Publisher{writer: w, topic: topic}
}

func (p *Publisher) Enabled() bool {
	return p != nil && p.writer != nil
}

func (p *Publisher) PublishRecord(ctx context.Context, rec *models.Record) error {
	return p.publish(ctx, Event{
		Type:     EventRecord,
		RecordID: rec.ID,
		AppID:    rec.AppID,
		Payload:  rec,
	})
}

func (p *Publisher) PublishFeedback(ctx context.Context, result *models.FeedbackResult) error {
	return p.publish(ctx, Event{
		Type:     EventFeedback,
		RecordID: result.RecordID,
		AppID:    result.AppID,
		Payload:  result,
	})
}

func (p *Publisher) publish(ctx context.Context, ev Event) error {
	if !p.Enabled() {
		return nil
	}

	ev.EmittedAt = time.Now().UTC()
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", ev.Type, err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.RecordID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(ev.Type)},
		},
	})
	if err != nil {
		metrics.EventsPublished.WithLabelValues(ev.Type, "error").Inc()
		return fmt.Errorf("failed to write %s event: %w", ev.Type, err)
	}

	metrics.EventsPublished.WithLabelValues(ev.Type, "ok").Inc()
	logger.Debug("Event published",
		zap.String("type", ev.Type),
		zap.String("record_id", ev.RecordID),
		zap.String("topic", p.topic),
	)
	return nil
}

func (p *Publisher) Close() error {
	if !p.Enabled() {
		return nil
	}
	return p.writer.Close()
}
