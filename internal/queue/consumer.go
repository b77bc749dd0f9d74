package queue

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Handler processes one decoded event. A returned error is logged and the
// message is still committed.
type Handler func(ctx context.Context, ev OrderEvent) error

type Consumer struct {
	r      *kafka.Reader
	handle Handler
	logger *zap.Logger
}

func NewConsumer(brokers []string, topic, groupID string, handle Handler, logger *zap.Logger) *Consumer {
	return &Consumer{
		r: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1e3,
			MaxBytes: 1e6,
		}),
		handle: handle,
		logger: logger,
	}
}

func (c *Consumer) Close() error { return c.r.Close() }

// Run reads until ctx is cancelled or the reader fails.
func (c *Consumer) Run(ctx context.Context) {
	for {
		m, err := c.r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Error("consumer read", zap.Error(err))
			}
			return
		}
		ev, err := decodeMessage(m.Value)
		if err != nil {
			c.logger.Warn("consumer dropped message", zap.Int64("offset", m.Offset), zap.Error(err))
			continue
		}
		if err := c.handle(ctx, ev); err != nil {
			c.logger.Error("consumer handle",
				zap.String("event_id", ev.EventID),
				zap.String("event_type", ev.EventType),
				zap.Error(err))
		}
	}
}

func decodeMessage(b []byte) (OrderEvent, error) {
	var ev OrderEvent
	if err := json.Unmarshal(b, &ev); err != nil {
		return OrderEvent{}, err
	}
	if err := ev.Validate(); err != nil {
		return OrderEvent{}, err
	}
	return ev, nil
}
