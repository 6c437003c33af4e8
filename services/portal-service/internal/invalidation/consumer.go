// Package invalidation drops cached appointment views when booking-service
// publishes an appointment event, so changes made elsewhere show up promptly.
package invalidation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/md-rashed-zaman/carebook/libs/domain"
	"github.com/md-rashed-zaman/carebook/libs/kafkax"
	"github.com/md-rashed-zaman/carebook/services/portal-service/internal/querycache"
)

type Reader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type Consumer struct {
	reader Reader
	cache  querycache.Invalidator
	logger *slog.Logger
}

type Config struct {
	Brokers []string
	GroupID string
}

// NewReader subscribes a consumer group to every appointment topic.
func NewReader(cfg Config) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		GroupTopics: domain.AppointmentTopics(),
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.LastOffset,
	})
}

func New(reader Reader, cache querycache.Invalidator, logger *slog.Logger) *Consumer {
	return &Consumer{reader: reader, cache: cache, logger: logger}
}

func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka read error", "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		ctxMsg := kafkax.ExtractTraceContext(ctx, msg)
		ctxSpan, span := otel.Tracer("kafka").Start(ctxMsg, "kafka.consume",
			trace.WithAttributes(
				attribute.String("messaging.system", "kafka"),
				attribute.String("messaging.destination", msg.Topic),
			),
		)
		meta := kafkax.ExtractEventMeta(msg)
		if err := c.Handle(ctxSpan, msg); err != nil {
			c.logger.Error("invalidation failed", "err", err, "event_id", meta.EventID, "event_type", meta.EventType)
			span.RecordError(err)
		}
		span.End()
	}
}

// Handle invalidates the provider's appointment views and the slot lists of
// the event's date.
func (c *Consumer) Handle(ctx context.Context, msg kafka.Message) error {
	var evt domain.AppointmentEvent
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		return fmt.Errorf("decode %s: %w", msg.Topic, err)
	}
	if evt.ProviderID == "" {
		return fmt.Errorf("%s event %s has no provider", msg.Topic, evt.AppointmentID)
	}
	prefixes := querycache.AppointmentPrefixes(evt.ProviderID)
	if evt.Date != "" {
		prefixes = append(prefixes, querycache.SlotPrefix(evt.ProviderID, evt.Date))
	}
	if err := c.cache.Invalidate(ctx, prefixes...); err != nil {
		return err
	}
	c.logger.Debug("cache invalidated", "topic", msg.Topic, "provider_id", evt.ProviderID, "appointment_id", evt.AppointmentID)
	return nil
}
