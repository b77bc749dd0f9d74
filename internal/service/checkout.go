package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pharmacy_checkout/internal/model"
	"pharmacy_checkout/internal/money"
	"pharmacy_checkout/internal/pricing"
	"pharmacy_checkout/internal/queue"
)

const orderNumberAttempts = 3

// CheckoutRequest carries the caller's checkout options. A nil ClearCart
// falls back to the service default.
type CheckoutRequest struct {
	AddressID *uint
	Notes     string
	ClearCart *bool
}

// CheckoutResult is returned even when the gateway step fails, since the order
// is already committed by then.
type CheckoutResult struct {
	Order        *model.Order
	Transaction  *model.Transaction
	GatewayOrder json.RawMessage
}

// CheckoutConfig tunes the orchestrator.
type CheckoutConfig struct {
	Policy             pricing.Policy
	ClearCartByDefault bool
}

// CheckoutService turns a cart into an order and opens a gateway payment for it.
type CheckoutService struct {
	db       *gorm.DB
	logger   *zap.Logger
	carts    *CartService
	orders   *OrderService
	payments *PaymentService
	locker   CheckoutLocker
	cfg      CheckoutConfig

	newOrderNumber func() string
}

// NewCheckoutService wires checkout. locker may be nil; a nil policy grants
// the default checkout percentage.
func NewCheckoutService(db *gorm.DB, logger *zap.Logger, carts *CartService, orders *OrderService, payments *PaymentService, locker CheckoutLocker, cfg CheckoutConfig) *CheckoutService {
	if cfg.Policy == nil {
		cfg.Policy = pricing.NewPercentOfSubtotal(pricing.DefaultCheckoutPercent)
	}
	return &CheckoutService{
		db:             db,
		logger:         logger,
		carts:          carts,
		orders:         orders,
		payments:       payments,
		locker:         locker,
		cfg:            cfg,
		newOrderNumber: NewOrderNumber,
	}
}

// NewOrderNumber returns "ORD" followed by 12 upper-case hex characters.
func NewOrderNumber() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "ORD" + strings.ToUpper(id[:12])
}

// Checkout snapshots the user's cart into an order, applies the checkout
// discount and creates the gateway order. Order and items commit before the
// gateway is called; a gateway failure returns the committed order together
// with an ErrGateway error.
func (s *CheckoutService) Checkout(ctx context.Context, userID uint, req CheckoutRequest) (*CheckoutResult, error) {
	if s.locker != nil {
		release, ok, err := s.locker.Acquire(ctx, userID)
		switch {
		case err != nil:
			s.logger.Warn("checkout lock unavailable", zap.Uint("user_id", userID), zap.Error(err))
		case !ok:
			return nil, fmt.Errorf("%w: checkout already in progress", ErrConflict)
		default:
			defer release()
		}
	}

	var order model.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cart model.Cart
		if err := tx.Where("user_id = ?", userID).Limit(1).Find(&cart).Error; err != nil {
			return err
		}
		if cart.ID == 0 {
			return ErrEmptyCart
		}
		var lines []model.CartItem
		if err := tx.Preload("Medicine", func(db *gorm.DB) *gorm.DB { return db.Unscoped() }).
			Where("cart_id = ?", cart.ID).Order("id ASC").Find(&lines).Error; err != nil {
			return err
		}
		if len(lines) == 0 {
			return ErrEmptyCart
		}

		addressID := cart.AddressID
		if req.AddressID != nil {
			if err := ownAddress(tx, userID, *req.AddressID); err != nil {
				return err
			}
			addressID = req.AddressID
		}

		order = model.Order{
			UserID:         userID,
			AddressID:      addressID,
			Status:         model.OrderPlaced,
			PaymentStatus:  model.PaymentPending,
			DeliveryFee:    money.Zero,
			DiscountAmount: money.Zero,
			PlacedAt:       time.Now(),
			Notes:          strings.TrimSpace(req.Notes),
		}
		if err := s.createWithNumber(tx, &order); err != nil {
			return err
		}

		for i := range lines {
			item := model.OrderItem{
				OrderID:              order.ID,
				MedicineID:           lines[i].MedicineID,
				Quantity:             lines[i].Quantity,
				UnitPrice:            lines[i].UnitPrice,
				MRP:                  lines[i].MRP,
				PrescriptionRequired: lines[i].Medicine.PrescriptionRequired,
			}
			if err := s.orders.SaveItem(tx, &item); err != nil {
				return fmt.Errorf("copy cart line %d: %w", lines[i].MedicineID, err)
			}
		}
		if err := s.orders.RecalcTotals(tx, &order); err != nil {
			return err
		}

		order.DeliveryFee = money.Zero
		order.DiscountAmount = money.Round(money.Clamp(s.cfg.Policy.ComputeDiscount(order.Subtotal), order.Subtotal))
		return s.orders.RecalcTotals(tx, &order)
	})
	if err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		First(&order, order.ID).Error; err != nil {
		return nil, err
	}
	s.orders.appendLog(ctx, order.ID, "order placed", map[string]any{
		"total":    order.Total.StringFixed(money.Places),
		"discount": order.DiscountAmount.StringFixed(money.Places),
	})
	s.orders.notify.emit(ctx, queue.EventOrderPlaced, &order)

	res := &CheckoutResult{Order: &order}
	txn, remote, err := s.payments.CreateIntent(ctx, &order)
	if err != nil {
		s.logger.Error("gateway order creation failed",
			zap.String("order_number", order.OrderNumber), zap.Error(err))
		return res, fmt.Errorf("%w: %v", ErrGateway, err)
	}
	res.Transaction = txn
	res.GatewayOrder = remote.Raw

	bestEffort(s.logger, "touch cart", func() error {
		return s.db.WithContext(ctx).Model(&model.Cart{}).
			Where("user_id = ?", userID).
			Update("updated_at", time.Now()).Error
	}, zap.Uint("user_id", userID))

	clearCart := s.cfg.ClearCartByDefault
	if req.ClearCart != nil {
		clearCart = *req.ClearCart
	}
	if clearCart {
		bestEffort(s.logger, "clear cart", func() error {
			return s.carts.Clear(ctx, userID)
		}, zap.Uint("user_id", userID))
	}
	return res, nil
}

// createWithNumber inserts order under a fresh order number, retrying on a
// unique-index collision. Each attempt runs in a savepoint.
func (s *CheckoutService) createWithNumber(tx *gorm.DB, order *model.Order) error {
	var err error
	for attempt := 0; attempt < orderNumberAttempts; attempt++ {
		order.ID = 0
		order.OrderNumber = s.newOrderNumber()
		err = tx.Transaction(func(inner *gorm.DB) error {
			return inner.Omit(clause.Associations).Create(order).Error
		})
		if err == nil {
			return nil
		}
		if !isUniqueViolation(err) {
			return err
		}
		s.logger.Warn("order number collision", zap.String("order_number", order.OrderNumber), zap.Int("attempt", attempt+1))
	}
	return fmt.Errorf("allocate order number: %w", err)
}
