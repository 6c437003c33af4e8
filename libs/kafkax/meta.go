package kafkax

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// EventMeta is the metadata carried in Kafka headers on every event.
type EventMeta struct {
	EventID   string
	EventType string
}

func ExtractEventMeta(msg kafka.Message) EventMeta {
	meta := EventMeta{
		EventID:   HeaderValue(msg.Headers, "event_id"),
		EventType: HeaderValue(msg.Headers, "event_type"),
	}
	if meta.EventID == "" {
		meta.EventID = string(msg.Key)
	}
	if meta.EventType == "" {
		meta.EventType = msg.Topic
	}
	return meta
}

// Headers builds the event headers plus the trace context of ctx.
func (m EventMeta) Headers(ctx context.Context) []kafka.Header {
	headers := []kafka.Header{
		{Key: "event_id", Value: []byte(m.EventID)},
		{Key: "event_type", Value: []byte(m.EventType)},
	}
	return InjectTraceHeaders(ctx, headers)
}

func HeaderValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// NewWriter returns a writer that routes by message key, so all events of one
// appointment stay ordered on a single partition.
func NewWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
		// Topic is set per message.
		AllowAutoTopicCreation: true,
	}
}
