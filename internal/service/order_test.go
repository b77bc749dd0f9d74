package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"

	"pharmacy_checkout/internal/model"
	"pharmacy_checkout/internal/queue"
)

// seedOrder creates an order with one line per medicine, quantity 1.
func seedOrder(t *testing.T, env *testEnv, userID uint, meds ...*model.Medicine) *model.Order {
	t.Helper()
	order := &model.Order{
		OrderNumber:   NewOrderNumber(),
		UserID:        userID,
		Status:        model.OrderPlaced,
		PaymentStatus: model.PaymentPending,
		PlacedAt:      time.Now(),
	}
	require.NoError(t, env.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(order).Error; err != nil {
			return err
		}
		for _, m := range meds {
			if err := env.orders.SaveItem(tx, &model.OrderItem{OrderID: order.ID, MedicineID: m.ID, Quantity: 1}); err != nil {
				return err
			}
		}
		return nil
	}))
	o := reloadOrder(t, env.db, order.OrderNumber)
	return &o
}

func assertOrderInvariant(t *testing.T, o model.Order) {
	t.Helper()
	want := o.Subtotal.Add(o.DeliveryFee).Sub(o.DiscountAmount)
	assert.Truef(t, o.Total.Equal(want), "total %s != %s", o.Total, want)
	assert.False(t, o.DiscountAmount.IsNegative())
	assert.True(t, o.DiscountAmount.LessThanOrEqual(o.Subtotal))
}

func TestSaveItemFillsFromCatalogAndRecalculates(t *testing.T) {
	env := newTestEnv(t)
	a := seedMedicine(t, env.db, "40.00", "45.00", nil)
	b := seedMedicine(t, env.db, "10.10", "0", nil)

	o := seedOrder(t, env, 1, a, b)
	require.Len(t, o.Items, 2)
	assertDecimal(t, "40.00", o.Items[0].UnitPrice)
	assertDecimal(t, "45.00", o.Items[0].MRP)
	assertDecimal(t, "50.10", o.Subtotal)
	assertDecimal(t, "55.10", o.TotalMRP) // b has no MRP: unit price counts
	assertDecimal(t, "50.10", o.Total)
	assertOrderInvariant(t, *o)
}

func TestSaveItemRejectsZeroQuantity(t *testing.T) {
	env := newTestEnv(t)
	a := seedMedicine(t, env.db, "1.00", "1.00", nil)
	o := seedOrder(t, env, 1)

	err := env.orders.SaveItem(env.db, &model.OrderItem{OrderID: o.ID, MedicineID: a.ID})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestRecalcTotalsClampsDiscount(t *testing.T) {
	env := newTestEnv(t)
	a := seedMedicine(t, env.db, "30.00", "30.00", nil)
	o := seedOrder(t, env, 1, a)

	o.DeliveryFee = dec("5.00")
	o.DiscountAmount = dec("99.00")
	require.NoError(t, env.orders.RecalcTotals(env.db, o))

	got := reloadOrder(t, env.db, o.OrderNumber)
	assertDecimal(t, "30.00", got.DiscountAmount)
	assertDecimal(t, "5.00", got.Total)
	assertOrderInvariant(t, got)
}

func TestUpdateStatusRejectsUnknownStatus(t *testing.T) {
	env := newTestEnv(t)
	o := seedOrder(t, env, 1)

	_, err := env.orders.UpdateStatus(context.Background(), o.OrderNumber, "teleported", "")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	got := reloadOrder(t, env.db, o.OrderNumber)
	assert.Equal(t, model.OrderPlaced, got.Status)
	assert.True(t, got.UpdatedAt.Equal(o.UpdatedAt))
}

func TestUpdateStatusUnknownOrder(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.orders.UpdateStatus(context.Background(), "ORD000000000000", model.OrderConfirmed, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeliveredAtIsStampedOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	o := seedOrder(t, env, 1)

	first, err := env.orders.UpdateStatus(ctx, o.OrderNumber, model.OrderDelivered, "")
	require.NoError(t, err)
	require.NotNil(t, first.DeliveredAt)
	stamped := reloadOrder(t, env.db, o.OrderNumber).DeliveredAt

	_, err = env.orders.UpdateStatus(ctx, o.OrderNumber, model.OrderReturned, "")
	require.NoError(t, err)
	_, err = env.orders.UpdateStatus(ctx, o.OrderNumber, model.OrderDelivered, "")
	require.NoError(t, err)

	got := reloadOrder(t, env.db, o.OrderNumber)
	require.NotNil(t, got.DeliveredAt)
	assert.True(t, stamped.Equal(*got.DeliveredAt))
}

func TestUpdateStatusNotesLogsAndEvents(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	o := seedOrder(t, env, 1)

	_, err := env.orders.UpdateStatus(ctx, o.OrderNumber, model.OrderProcessing, "packed")
	require.NoError(t, err)
	_, err = env.orders.UpdateStatus(ctx, o.OrderNumber, model.OrderOutForDelivery, "  handed to courier ")
	require.NoError(t, err)

	got := reloadOrder(t, env.db, o.OrderNumber)
	assert.Equal(t, "packed\nhanded to courier", got.Notes)

	logs, err := env.orders.Logs(ctx, o.OrderNumber)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "status changed from placed to processing", logs[0].Message)
	assert.Equal(t, map[string]any{"from": "placed", "to": "processing"}, logs[0].Meta.Map())
	assert.Equal(t, "status changed from processing to out_for_delivery", logs[1].Message)

	assert.Equal(t, []string{queue.EventOrderStatusChanged, queue.EventOrderStatusChanged}, env.events.types())
}

func TestUpdateStatusSurvivesPublisherFailure(t *testing.T) {
	env := newTestEnv(t)
	orders := NewOrderService(env.db, zap.NewNop(), failingPublisher{}, nil)
	o := seedOrder(t, env, 1)

	got, err := orders.UpdateStatus(context.Background(), o.OrderNumber, model.OrderCancelled, "")
	require.NoError(t, err)
	assert.Equal(t, model.OrderCancelled, got.Status)
}

func TestUpdateStatusSurvivesAuditLogFailure(t *testing.T) {
	env := newTestEnv(t)
	core, logs := observer.New(zap.WarnLevel)
	orders := NewOrderService(env.db, zap.New(core), nil, nil)
	o := seedOrder(t, env, 1)
	require.NoError(t, env.db.Migrator().DropTable(&model.OrderLog{}))

	got, err := orders.UpdateStatus(context.Background(), o.OrderNumber, model.OrderProcessing, "packed")
	require.NoError(t, err)
	assert.Equal(t, model.OrderProcessing, got.Status)

	stored := reloadOrder(t, env.db, o.OrderNumber)
	assert.Equal(t, model.OrderProcessing, stored.Status)
	assert.Equal(t, "packed", stored.Notes)
	assert.Equal(t, 1, logs.FilterField(zap.String("op", "append order log")).Len())
}

func TestSaveItemSwallowsRecalculationFailure(t *testing.T) {
	env := newTestEnv(t)
	core, logs := observer.New(zap.WarnLevel)
	orders := NewOrderService(env.db, zap.New(core), nil, nil)
	a := seedMedicine(t, env.db, "12.00", "15.00", nil)
	o := seedOrder(t, env, 1)

	require.NoError(t, env.db.Callback().Update().Before("gorm:update").Register("test:fail_order_totals", func(d *gorm.DB) {
		if d.Statement.Table == "orders" {
			_ = d.AddError(errors.New("totals unavailable"))
		}
	}))

	require.NoError(t, env.db.Transaction(func(tx *gorm.DB) error {
		return orders.SaveItem(tx, &model.OrderItem{OrderID: o.ID, MedicineID: a.ID, Quantity: 2})
	}))

	got := reloadOrder(t, env.db, o.OrderNumber)
	require.Len(t, got.Items, 1)
	assertDecimal(t, "12.00", got.Items[0].UnitPrice)
	assertDecimal(t, "0", got.Total)
	assert.Equal(t, 1, logs.FilterField(zap.String("op", "recalculate order")).Len())
}

func TestGetAndListAreScopedToUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := seedMedicine(t, env.db, "5.00", "5.00", nil)
	mine := seedOrder(t, env, 1, a)
	seedOrder(t, env, 1)
	theirs := seedOrder(t, env, 2, a)

	got, err := env.orders.Get(ctx, 1, mine.OrderNumber)
	require.NoError(t, err)
	assert.Len(t, got.Items, 1)

	_, err = env.orders.Get(ctx, 1, theirs.OrderNumber)
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := env.orders.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = env.orders.Logs(ctx, "ORDMISSING")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPaymentStateFromDatabase(t *testing.T) {
	env := newTestEnv(t)
	o := seedOrder(t, env, 1)

	st, err := env.orders.PaymentState(context.Background(), 1, o.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, model.OrderPlaced, st.Status)
	assert.Equal(t, model.PaymentPending, st.PaymentStatus)

	_, err = env.orders.PaymentState(context.Background(), 2, o.OrderNumber)
	assert.ErrorIs(t, err, ErrNotFound)
}

type mapCache struct{ m map[string]model.PaymentState }

func (c *mapCache) PutPaymentState(_ context.Context, st model.PaymentState) error {
	c.m[st.OrderNumber] = st
	return nil
}

func (c *mapCache) GetPaymentState(_ context.Context, n string) (model.PaymentState, bool, error) {
	st, ok := c.m[n]
	return st, ok, nil
}

func TestPaymentStateUsesCacheForOwner(t *testing.T) {
	env := newTestEnv(t)
	cache := &mapCache{m: map[string]model.PaymentState{}}
	orders := NewOrderService(env.db, zap.NewNop(), nil, cache)
	o := seedOrder(t, env, 1)

	_, err := orders.PaymentState(context.Background(), 1, o.OrderNumber)
	require.NoError(t, err)
	require.Contains(t, cache.m, o.OrderNumber)

	cache.m[o.OrderNumber] = model.PaymentState{OrderNumber: o.OrderNumber, UserID: 1, Status: model.OrderConfirmed, PaymentStatus: model.PaymentPaid}
	st, err := orders.PaymentState(context.Background(), 1, o.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentPaid, st.PaymentStatus)

	_, err = orders.PaymentState(context.Background(), 2, o.OrderNumber)
	assert.ErrorIs(t, err, ErrNotFound)
}
