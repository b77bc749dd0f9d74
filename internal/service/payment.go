package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pharmacy_checkout/internal/gateway"
	"pharmacy_checkout/internal/model"
	"pharmacy_checkout/internal/money"
	"pharmacy_checkout/internal/queue"
)

// GatewayClient creates remote orders. *gateway.Client satisfies it.
type GatewayClient interface {
	CreateOrder(ctx context.Context, req gateway.CreateOrderRequest) (*gateway.RemoteOrder, error)
}

// PaymentConfig holds the secrets signatures are checked against.
type PaymentConfig struct {
	KeySecret     string
	WebhookSecret string
}

// PaymentService records gateway transactions and settles orders from the
// client callback and the gateway webhook. Both paths lock the transaction row
// so concurrent deliveries for one gateway order serialize.
type PaymentService struct {
	db     *gorm.DB
	logger *zap.Logger
	gw     GatewayClient
	cfg    PaymentConfig
	orders *OrderService
	marker DeliveryMarker
}

// NewPaymentService wires payment settlement. gw and marker may be nil.
func NewPaymentService(db *gorm.DB, logger *zap.Logger, gw GatewayClient, cfg PaymentConfig, orders *OrderService, marker DeliveryMarker) *PaymentService {
	return &PaymentService{db: db, logger: logger, gw: gw, cfg: cfg, orders: orders, marker: marker}
}

// CreateIntent creates the remote order for order.Total and records an
// unsettled transaction for it.
func (s *PaymentService) CreateIntent(ctx context.Context, order *model.Order) (*model.Transaction, *gateway.RemoteOrder, error) {
	if s.gw == nil {
		return nil, nil, gateway.ErrNotConfigured
	}
	remote, err := s.gw.CreateOrder(ctx, gateway.CreateOrderRequest{
		Amount:  order.Total,
		Receipt: order.OrderNumber,
		Notes: map[string]string{
			"order_id":     strconv.FormatUint(uint64(order.ID), 10),
			"user_id":      strconv.FormatUint(uint64(order.UserID), 10),
			"order_number": order.OrderNumber,
		},
	})
	if err != nil {
		return nil, nil, err
	}

	orderID := order.ID
	txn := model.Transaction{
		OrderID:        &orderID,
		Provider:       model.ProviderRazorpay,
		GatewayOrderID: remote.ID,
		Amount:         money.Round(order.Total),
		RawResponse:    model.JSON(remote.Raw),
	}
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(&txn).Error; err != nil {
		return nil, remote, fmt.Errorf("record transaction for %s: %w", remote.ID, err)
	}
	return &txn, remote, nil
}

// ConfirmPayment settles the transaction of gatewayOrderID from the client
// callback of userID. A transaction whose order belongs to someone else is
// reported as not found. A non-empty signature must match "{order}|{payment}"
// under the key secret; on mismatch the failed attempt is committed and
// ErrInvalidSignature returned without touching the order. A rejected attempt
// against an already succeeded transaction is only noted in its raw response.
func (s *PaymentService) ConfirmPayment(ctx context.Context, userID uint, gatewayOrderID, gatewayPaymentID, signature string, raw map[string]any) (*model.Transaction, error) {
	if gatewayOrderID == "" {
		return nil, invalidArgf("gateway_order_id is required")
	}

	var (
		txn       model.Transaction
		order     *model.Order
		paid      bool
		sigFailed bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockTransaction(tx, "gateway_order_id = ?", gatewayOrderID, &txn); err != nil {
			return err
		}
		if txn.ID == 0 || txn.OrderID == nil {
			return notFoundf("transaction for gateway order %s", gatewayOrderID)
		}
		o, err := lockOrder(tx, *txn.OrderID)
		if err != nil {
			return err
		}
		if o.UserID != userID {
			return notFoundf("transaction for gateway order %s", gatewayOrderID)
		}

		if signature != "" && !gateway.VerifySignature(gateway.PaymentMessage(gatewayOrderID, gatewayPaymentID), signature, s.cfg.KeySecret) {
			sigFailed = true
			doc := txn.RawResponse.Map()
			if txn.Succeeded {
				doc["rejected_attempt"] = map[string]any{
					"gateway_payment_id": gatewayPaymentID,
					"signature_verified": false,
					"at":                 time.Now().UTC().Format(time.RFC3339),
				}
			} else {
				for k, v := range raw {
					doc[k] = v
				}
				doc["signature_verified"] = false
				txn.GatewayPaymentID = gatewayPaymentID
				txn.GatewaySignature = signature
			}
			txn.RawResponse = model.MustJSON(doc)
			return tx.Omit(clause.Associations).Save(&txn).Error
		}

		txn.GatewayPaymentID = gatewayPaymentID
		txn.GatewaySignature = signature
		txn.Succeeded = true
		if txn.PaidAt == nil {
			now := time.Now()
			txn.PaidAt = &now
		}
		if raw != nil {
			txn.RawResponse = model.MustJSON(raw)
		}
		if err := tx.Omit(clause.Associations).Save(&txn).Error; err != nil {
			return err
		}

		order = o
		paid, err = markPaid(tx, order)
		return err
	})
	if err != nil {
		return nil, err
	}
	if sigFailed {
		s.logger.Warn("payment signature mismatch",
			zap.String("gateway_order_id", gatewayOrderID),
			zap.String("gateway_payment_id", gatewayPaymentID))
		return nil, fmt.Errorf("%w: gateway order %s", ErrInvalidSignature, gatewayOrderID)
	}

	if order != nil && paid {
		s.afterPaid(ctx, order, "payment confirmed", gatewayPaymentID)
	}
	return &txn, nil
}

// HandleWebhook verifies and reconciles one gateway webhook delivery. Once the
// signature checks out the delivery is acknowledged: reconciliation problems
// are logged, never returned. The returned transaction is nil when nothing was
// reconciled.
func (s *PaymentService) HandleWebhook(ctx context.Context, body []byte, signature string) (*model.Transaction, error) {
	if s.cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("%w: webhook secret", ErrNotConfigured)
	}
	if signature == "" || !gateway.VerifySignature(string(body), signature, s.cfg.WebhookSecret) {
		return nil, fmt.Errorf("%w: webhook", ErrInvalidSignature)
	}
	ev, err := gateway.ParseWebhook(body)
	if err != nil {
		return nil, invalidArgf("%v", err)
	}
	if !gateway.IsPaymentEvent(ev.Event) {
		s.logger.Info("webhook event ignored", zap.String("event", ev.Event))
		return nil, nil
	}
	entity, err := ev.Payment()
	if err != nil {
		s.logger.Warn("webhook without payment entity", zap.String("event", ev.Event), zap.Error(err))
		return nil, nil
	}

	log := s.logger.With(
		zap.String("event", ev.Event),
		zap.String("gateway_order_id", entity.OrderID),
		zap.String("gateway_payment_id", entity.ID))

	if s.marker != nil && entity.ID != "" {
		first, err := s.marker.MarkDelivered(ctx, ev.Event, entity.ID)
		switch {
		case err != nil:
			log.Warn("webhook delivery marker", zap.Error(err))
		case !first:
			if txn, ok := s.settledCapture(ctx, ev.Event, entity); ok {
				log.Info("webhook redelivery already settled")
				return txn, nil
			}
			log.Info("webhook redelivery")
		}
	}

	txn, err := s.reconcile(ctx, ev.Event, entity, ev.Payload.Payment.Entity)
	if err != nil {
		log.Error("webhook reconciliation failed", zap.Error(err))
		return nil, nil
	}
	return txn, nil
}

// settledCapture finds the transaction a redelivered capture already settled.
// Anything short of a succeeded row for the same payment is reconciled again.
func (s *PaymentService) settledCapture(ctx context.Context, event string, p gateway.PaymentEntity) (*model.Transaction, bool) {
	if event != gateway.EventPaymentCaptured || p.OrderID == "" {
		return nil, false
	}
	var txn model.Transaction
	err := s.db.WithContext(ctx).
		Where("gateway_order_id = ? AND gateway_payment_id = ? AND succeeded = ?", p.OrderID, p.ID, true).
		Limit(1).Find(&txn).Error
	if err != nil || txn.ID == 0 {
		return nil, false
	}
	return &txn, true
}

type reconcileOutcome struct {
	order   *model.Order
	changed bool
}

func (s *PaymentService) reconcile(ctx context.Context, event string, p gateway.PaymentEntity, rawEntity json.RawMessage) (*model.Transaction, error) {
	var (
		txn model.Transaction
		out reconcileOutcome
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if p.OrderID != "" {
			if err := lockTransaction(tx, "gateway_order_id = ?", p.OrderID, &txn); err != nil {
				return err
			}
		}
		if txn.ID == 0 && p.ID != "" {
			if err := lockTransaction(tx, "gateway_payment_id = ?", p.ID, &txn); err != nil {
				return err
			}
		}
		if txn.ID == 0 {
			if p.OrderID == "" {
				return errNothingToReconcile
			}
			txn = model.Transaction{
				Provider:       model.ProviderRazorpay,
				GatewayOrderID: p.OrderID,
				OrderID:        resolveOrderID(tx, p),
			}
		}

		applyPaymentEntity(&txn, event, p, rawEntity)
		if err := tx.Omit(clause.Associations).Save(&txn).Error; err != nil {
			return err
		}

		if txn.OrderID == nil {
			return nil
		}
		o, err := lockOrder(tx, *txn.OrderID)
		if err != nil {
			return err
		}
		out.order = o
		switch event {
		case gateway.EventPaymentCaptured:
			out.changed, err = markPaid(tx, o)
		case gateway.EventPaymentFailed:
			out.changed, err = markFailed(tx, o)
		}
		return err
	})
	if errors.Is(err, errNothingToReconcile) {
		s.logger.Info("webhook has no gateway order to reconcile", zap.String("gateway_payment_id", p.ID))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if out.order != nil && out.changed {
		switch event {
		case gateway.EventPaymentCaptured:
			s.afterPaid(ctx, out.order, "payment captured", p.ID)
		case gateway.EventPaymentFailed:
			s.orders.appendLog(ctx, out.order.ID, "payment failed", map[string]any{"gateway_payment_id": p.ID})
			s.orders.notify.emit(ctx, queue.EventOrderPaymentFailed, out.order)
		}
	}
	return &txn, nil
}

var errNothingToReconcile = errors.New("nothing to reconcile")

// applyPaymentEntity folds a webhook payment entity into txn. The raw entity
// always replaces the stored response; a succeeded transaction is never
// downgraded by a later authorized or failed delivery.
func applyPaymentEntity(txn *model.Transaction, event string, p gateway.PaymentEntity, rawEntity json.RawMessage) {
	txn.RawResponse = model.JSON(rawEntity)
	if p.Method != "" {
		txn.PaymentMethod = p.Method
	}
	if p.Amount > 0 {
		txn.Amount = money.FromMinor(p.Amount)
	}

	if event == gateway.EventPaymentCaptured {
		if p.ID != "" {
			txn.GatewayPaymentID = p.ID
		}
		txn.Succeeded = true
		if txn.PaidAt == nil {
			now := time.Now()
			txn.PaidAt = &now
		}
		return
	}
	if txn.Succeeded {
		return
	}
	if p.ID != "" {
		txn.GatewayPaymentID = p.ID
	}
	txn.Succeeded = false
}

// resolveOrderID ties a webhook-created transaction to a local order through
// the notes set at intent creation, falling back to the gateway order id used
// as an order number. nil when nothing matches.
func resolveOrderID(tx *gorm.DB, p gateway.PaymentEntity) *uint {
	var order model.Order
	find := func(query string, arg any) *uint {
		order = model.Order{}
		if err := tx.Select("id").Where(query, arg).Limit(1).Find(&order).Error; err != nil || order.ID == 0 {
			return nil
		}
		id := order.ID
		return &id
	}

	if n := p.Notes["order_number"]; n != "" {
		if id := find("order_number = ?", n); id != nil {
			return id
		}
	}
	if n := p.Notes["order_id"]; n != "" {
		if v, err := strconv.ParseUint(n, 10, 64); err == nil {
			if id := find("id = ?", v); id != nil {
				return id
			}
		}
	}
	return find("order_number = ?", p.OrderID)
}

func lockTransaction(tx *gorm.DB, query string, arg any, dst *model.Transaction) error {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where(query, arg).
		Order("id ASC").
		Limit(1).
		Find(dst).Error
}

func (s *PaymentService) afterPaid(ctx context.Context, order *model.Order, message, paymentID string) {
	s.orders.appendLog(ctx, order.ID, message, map[string]any{
		"gateway_payment_id": paymentID,
		"status":             order.Status,
		"payment_status":     order.PaymentStatus,
	})
	s.orders.notify.emit(ctx, queue.EventOrderPaid, order)
}
