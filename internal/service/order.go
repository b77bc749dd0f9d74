package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pharmacy_checkout/internal/model"
	"pharmacy_checkout/internal/queue"
)

// OrderService owns the order aggregate and its audit log.
type OrderService struct {
	db     *gorm.DB
	logger *zap.Logger
	notify notifier
}

// NewOrderService wires the order aggregate. publisher and cache may be nil.
func NewOrderService(db *gorm.DB, logger *zap.Logger, publisher EventPublisher, cache PaymentStateCache) *OrderService {
	return &OrderService{
		db:     db,
		logger: logger,
		notify: notifier{logger: logger, publisher: publisher, cache: cache},
	}
}

// RecalcTotals recomputes the order's totals from its items inside tx.
func (s *OrderService) RecalcTotals(tx *gorm.DB, order *model.Order) error {
	var items []model.OrderItem
	if err := tx.Where("order_id = ?", order.ID).Order("id ASC").Find(&items).Error; err != nil {
		return err
	}
	order.Recalculate(items)
	return tx.Model(order).Updates(map[string]any{
		"subtotal":        order.Subtotal,
		"total_mrp":       order.TotalMRP,
		"delivery_fee":    order.DeliveryFee,
		"discount_amount": order.DiscountAmount,
		"total":           order.Total,
	}).Error
}

// SaveItem persists an order line, filling a zero unit price or MRP from the
// catalog, then recalculates the parent order. The recalculation runs in a
// savepoint and its failure is only logged.
func (s *OrderService) SaveItem(tx *gorm.DB, item *model.OrderItem) error {
	if item.Quantity < 1 {
		return invalidArgf("quantity must be >= 1")
	}
	if item.UnitPrice.IsZero() || item.MRP.IsZero() {
		var med model.Medicine
		if err := tx.Unscoped().First(&med, item.MedicineID).Error; err != nil {
			return translate(err, "medicine")
		}
		if item.UnitPrice.IsZero() {
			item.UnitPrice = med.Price
		}
		if item.MRP.IsZero() {
			item.MRP = med.MRP
		}
	}
	if err := tx.Omit(clause.Associations).Save(item).Error; err != nil {
		return err
	}

	bestEffort(s.logger, "recalculate order", func() error {
		return tx.Transaction(func(inner *gorm.DB) error {
			var order model.Order
			if err := inner.First(&order, item.OrderID).Error; err != nil {
				return err
			}
			return s.RecalcTotals(inner, &order)
		})
	}, zap.Uint("order_id", item.OrderID))
	return nil
}

// UpdateStatus moves the order to status. Any known status is accepted; an
// unknown one leaves the order untouched. notes are appended on a new line.
func (s *OrderService) UpdateStatus(ctx context.Context, orderNumber string, status model.OrderStatus, notes string) (*model.Order, error) {
	if !status.Valid() {
		return nil, invalidArgf("unknown order status %q", status)
	}

	var (
		order model.Order
		from  model.OrderStatus
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("order_number = ?", orderNumber).First(&order).Error; err != nil {
			return translate(err, "order "+orderNumber)
		}
		from = order.Status
		order.Status = status
		if status == model.OrderDelivered && order.DeliveredAt == nil {
			now := time.Now()
			order.DeliveredAt = &now
		}
		if n := strings.TrimSpace(notes); n != "" {
			order.Notes = joinNotes(order.Notes, n)
		}
		return tx.Model(&order).Updates(map[string]any{
			"status":       order.Status,
			"delivered_at": order.DeliveredAt,
			"notes":        order.Notes,
		}).Error
	})
	if err != nil {
		return nil, err
	}

	s.appendLog(ctx, order.ID, fmt.Sprintf("status changed from %s to %s", from, status),
		map[string]any{"from": from, "to": status})
	s.notify.emit(ctx, queue.EventOrderStatusChanged, &order)
	return &order, nil
}

// Get returns one of the user's orders with items.
func (s *OrderService) Get(ctx context.Context, userID uint, orderNumber string) (*model.Order, error) {
	var order model.Order
	err := s.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Where("user_id = ? AND order_number = ?", userID, orderNumber).
		First(&order).Error
	if err != nil {
		return nil, translate(err, "order "+orderNumber)
	}
	return &order, nil
}

// List returns the user's orders, newest first.
func (s *OrderService) List(ctx context.Context, userID uint) ([]model.Order, error) {
	var orders []model.Order
	err := s.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Where("user_id = ?", userID).
		Order("placed_at DESC, id DESC").
		Find(&orders).Error
	return orders, err
}

// Logs returns the audit trail of an order, oldest first.
func (s *OrderService) Logs(ctx context.Context, orderNumber string) ([]model.OrderLog, error) {
	var order model.Order
	if err := s.db.WithContext(ctx).Select("id").
		Where("order_number = ?", orderNumber).First(&order).Error; err != nil {
		return nil, translate(err, "order "+orderNumber)
	}
	var logs []model.OrderLog
	err := s.db.WithContext(ctx).Where("order_id = ?", order.ID).Order("id ASC").Find(&logs).Error
	return logs, err
}

// PaymentState reports the order's status pair, served from the cache when it
// holds an entry for this user.
func (s *OrderService) PaymentState(ctx context.Context, userID uint, orderNumber string) (model.PaymentState, error) {
	if s.notify.cache != nil {
		st, ok, err := s.notify.cache.GetPaymentState(ctx, orderNumber)
		if err != nil {
			s.logger.Warn("payment state cache read", zap.String("order_number", orderNumber), zap.Error(err))
		} else if ok && st.UserID == userID {
			return st, nil
		}
	}

	var order model.Order
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND order_number = ?", userID, orderNumber).
		First(&order).Error
	if err != nil {
		return model.PaymentState{}, translate(err, "order "+orderNumber)
	}
	s.notify.remember(ctx, &order)
	return paymentState(&order), nil
}

// markPaid records a collected payment inside tx. Only a placed order moves to
// confirmed: a payment that settles after fulfilment has moved on (processing,
// delivered, cancelled and so on) does not rewind the status to confirmed.
// changed=false when it was already paid.
func markPaid(tx *gorm.DB, order *model.Order) (changed bool, err error) {
	if order.PaymentStatus == model.PaymentPaid && order.Status != model.OrderPlaced {
		return false, nil
	}
	changed = order.PaymentStatus != model.PaymentPaid
	order.PaymentStatus = model.PaymentPaid
	if order.Status == model.OrderPlaced {
		order.Status = model.OrderConfirmed
		changed = true
	}
	return changed, tx.Model(order).Updates(map[string]any{
		"payment_status": order.PaymentStatus,
		"status":         order.Status,
	}).Error
}

// markFailed records a failed payment attempt. A paid order is never downgraded.
func markFailed(tx *gorm.DB, order *model.Order) (changed bool, err error) {
	if order.PaymentStatus == model.PaymentPaid || order.PaymentStatus == model.PaymentFailed {
		return false, nil
	}
	order.PaymentStatus = model.PaymentFailed
	return true, tx.Model(order).Update("payment_status", order.PaymentStatus).Error
}

func lockOrder(tx *gorm.DB, orderID uint) (*model.Order, error) {
	var order model.Order
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&order, orderID).Error; err != nil {
		return nil, translate(err, "order")
	}
	return &order, nil
}

// appendLog writes an audit entry outside any request transaction.
func (s *OrderService) appendLog(ctx context.Context, orderID uint, message string, meta map[string]any) {
	bestEffort(s.logger, "append order log", func() error {
		return s.db.WithContext(ctx).Create(&model.OrderLog{
			OrderID: orderID,
			Message: message,
			Meta:    model.MustJSON(meta),
		}).Error
	}, zap.Uint("order_id", orderID))
}

func joinNotes(existing, add string) string {
	if existing == "" {
		return add
	}
	return existing + "\n" + add
}
