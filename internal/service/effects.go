package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"pharmacy_checkout/internal/model"
	"pharmacy_checkout/internal/queue"
)

// EventPublisher emits order domain events. Delivery is best-effort.
type EventPublisher interface {
	Publish(ctx context.Context, ev queue.OrderEvent) error
}

// PaymentStateCache mirrors an order's payment state for fast status reads.
type PaymentStateCache interface {
	PutPaymentState(ctx context.Context, st model.PaymentState) error
	GetPaymentState(ctx context.Context, orderNumber string) (model.PaymentState, bool, error)
}

// CheckoutLocker serializes checkouts of one user.
type CheckoutLocker interface {
	Acquire(ctx context.Context, userID uint) (release func(), ok bool, err error)
}

// DeliveryMarker records webhook deliveries; first=false means a redelivery.
type DeliveryMarker interface {
	MarkDelivered(ctx context.Context, event, paymentID string) (first bool, err error)
}

// bestEffort runs fn and logs, rather than returns, its failure. Used for side
// effects that must never undo the primary state change.
func bestEffort(logger *zap.Logger, op string, fn func() error, fields ...zap.Field) {
	if err := fn(); err != nil {
		logger.Warn("side effect failed", append(fields, zap.String("op", op), zap.Error(err))...)
	}
}

// notifier fans an order change out to the optional publisher and cache.
type notifier struct {
	logger    *zap.Logger
	publisher EventPublisher
	cache     PaymentStateCache
}

func (n notifier) emit(ctx context.Context, eventType string, o *model.Order) {
	if n.publisher != nil {
		ev := queue.NewOrderEvent(eventType, queue.OrderSnapshot{
			OrderNumber:   o.OrderNumber,
			UserID:        o.UserID,
			Status:        string(o.Status),
			PaymentStatus: string(o.PaymentStatus),
			Total:         o.Total.StringFixed(2),
		})
		bestEffort(n.logger, "publish "+eventType, func() error {
			pubCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			return n.publisher.Publish(pubCtx, ev)
		}, zap.String("order_number", o.OrderNumber))
	}
	n.remember(ctx, o)
}

func (n notifier) remember(ctx context.Context, o *model.Order) {
	if n.cache == nil {
		return
	}
	bestEffort(n.logger, "cache payment state", func() error {
		return n.cache.PutPaymentState(ctx, paymentState(o))
	}, zap.String("order_number", o.OrderNumber))
}

func paymentState(o *model.Order) model.PaymentState {
	return model.PaymentState{
		OrderNumber:   o.OrderNumber,
		UserID:        o.UserID,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
	}
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	s := err.Error()
	return strings.Contains(s, "UNIQUE") || strings.Contains(s, "unique")
}
