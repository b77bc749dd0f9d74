package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	rd "github.com/redis/go-redis/v9"

	"pharmacy_checkout/internal/model"
)

// PaymentStateCache stores PaymentState in a hash per order.
type PaymentStateCache struct {
	rdb rd.Cmdable
	ttl time.Duration
}

func NewPaymentStateCache(rdb rd.Cmdable, ttl time.Duration) *PaymentStateCache {
	return &PaymentStateCache{rdb: rdb, ttl: ttl}
}

// PutPaymentState overwrites the cached state and refreshes the TTL.
func (c *PaymentStateCache) PutPaymentState(ctx context.Context, st model.PaymentState) error {
	key := PaymentStateKey(st.OrderNumber)
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key,
		"user_id", st.UserID,
		"status", string(st.Status),
		"payment_status", string(st.PaymentStatus),
		"updated_at", time.Now().UTC().Format(time.RFC3339),
	)
	if c.ttl > 0 {
		pipe.Expire(ctx, key, c.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// GetPaymentState returns found=false when nothing is cached.
func (c *PaymentStateCache) GetPaymentState(ctx context.Context, orderNumber string) (model.PaymentState, bool, error) {
	m, err := c.rdb.HGetAll(ctx, PaymentStateKey(orderNumber)).Result()
	if err != nil {
		return model.PaymentState{}, false, err
	}
	if len(m) == 0 {
		return model.PaymentState{}, false, nil
	}
	userID, err := strconv.ParseUint(m["user_id"], 10, 64)
	if err != nil {
		return model.PaymentState{}, false, fmt.Errorf("cached payment state %s: bad user_id", orderNumber)
	}
	return model.PaymentState{
		OrderNumber:   orderNumber,
		UserID:        uint(userID),
		Status:        model.OrderStatus(m["status"]),
		PaymentStatus: model.PaymentStatus(m["payment_status"]),
	}, true, nil
}
