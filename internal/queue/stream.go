package queue

import (
	"context"

	rd "github.com/redis/go-redis/v9"
)

// StreamPublisher appends order events to a Redis stream. The relay drains
// the stream into Kafka, so request handlers never block on the broker.
type StreamPublisher struct {
	rdb    rd.Cmdable
	stream string
	maxLen int64
}

func NewStreamPublisher(rdb rd.Cmdable, stream string) *StreamPublisher {
	return &StreamPublisher{rdb: rdb, stream: stream, maxLen: 100000}
}

func (p *StreamPublisher) Publish(ctx context.Context, ev OrderEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	return p.rdb.XAdd(ctx, &rd.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: ev.streamValues(),
	}).Err()
}
