package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"pharmacy_checkout/internal/database"
	"pharmacy_checkout/internal/gateway"
	"pharmacy_checkout/internal/model"
	"pharmacy_checkout/internal/queue"
)

const (
	testKeySecret     = "key_secret"
	testWebhookSecret = "webhook_secret"
)

type fakeGateway struct {
	mu    sync.Mutex
	err   error
	calls []gateway.CreateOrderRequest
}

func (g *fakeGateway) CreateOrder(_ context.Context, req gateway.CreateOrderRequest) (*gateway.RemoteOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	g.calls = append(g.calls, req)
	id := fmt.Sprintf("order_test_%d", len(g.calls))
	raw, _ := json.Marshal(map[string]any{"id": id, "amount": req.Amount.Mul(decimal.NewFromInt(100)).IntPart(), "currency": "INR", "receipt": req.Receipt})
	return &gateway.RemoteOrder{ID: id, Currency: "INR", Receipt: req.Receipt, Raw: raw}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []queue.OrderEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev queue.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.EventType)
	}
	return out
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, queue.OrderEvent) error {
	return errors.New("broker down")
}

type stubLocker struct{ held bool }

func (l *stubLocker) Acquire(context.Context, uint) (func(), bool, error) {
	if l.held {
		return nil, false, nil
	}
	return func() {}, true, nil
}

type testEnv struct {
	db        *gorm.DB
	gw        *fakeGateway
	events    *recordingPublisher
	carts     *CartService
	orders    *OrderService
	payments  *PaymentService
	checkout  *CheckoutService
	catalog   *CatalogService
	addresses *AddressService
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(database.Options{
		Driver: "sqlite",
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := newTestDB(t)
	logger := zap.NewNop()
	env := &testEnv{db: db, gw: &fakeGateway{}, events: &recordingPublisher{}}
	env.carts = NewCartService(db, logger)
	env.orders = NewOrderService(db, logger, env.events, nil)
	env.payments = NewPaymentService(db, logger, env.gw, PaymentConfig{
		KeySecret:     testKeySecret,
		WebhookSecret: testWebhookSecret,
	}, env.orders, nil)
	env.checkout = NewCheckoutService(db, logger, env.carts, env.orders, env.payments, nil, CheckoutConfig{})
	env.catalog = NewCatalogService(db)
	env.addresses = NewAddressService(db)
	return env
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func seedMedicine(t *testing.T, db *gorm.DB, price, mrp string, stock *int64) *model.Medicine {
	t.Helper()
	med := &model.Medicine{Name: "med-" + uuid.NewString()[:8], Price: dec(price), MRP: dec(mrp), Stock: stock}
	require.NoError(t, db.Create(med).Error)
	return med
}

func seedAddress(t *testing.T, db *gorm.DB, userID uint) *model.Address {
	t.Helper()
	addr := &model.Address{UserID: userID, AddressLine1: "12 MG Road", City: "Pune", PostalCode: "411001", Country: "India"}
	require.NoError(t, db.Create(addr).Error)
	return addr
}

func int64p(v int64) *int64 { return &v }

func reloadOrder(t *testing.T, db *gorm.DB, number string) model.Order {
	t.Helper()
	var o model.Order
	require.NoError(t, db.Preload("Items").Where("order_number = ?", number).First(&o).Error)
	return o
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "want %s got %s", want, got.String())
}
