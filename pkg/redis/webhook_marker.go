package redis

import (
	"context"
	"time"

	rd "github.com/redis/go-redis/v9"
)

const webhookMarkerTTL = 7 * 24 * time.Hour

// WebhookMarker remembers which gateway deliveries were already received.
type WebhookMarker struct {
	rdb rd.Cmdable
}

func NewWebhookMarker(rdb rd.Cmdable) *WebhookMarker {
	return &WebhookMarker{rdb: rdb}
}

// MarkDelivered reports first=true the first time event/paymentID is seen.
func (m *WebhookMarker) MarkDelivered(ctx context.Context, event, paymentID string) (first bool, err error) {
	return m.rdb.SetNX(ctx, WebhookDeliveryKey(event, paymentID), time.Now().Unix(), webhookMarkerTTL).Result()
}
