package service

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pharmacy_checkout/internal/model"
	"pharmacy_checkout/internal/pricing"
	"pharmacy_checkout/internal/queue"
)

func countOrders(t *testing.T, env *testEnv) int64 {
	t.Helper()
	var n int64
	require.NoError(t, env.db.Model(&model.Order{}).Count(&n).Error)
	return n
}

func fillCart(t *testing.T, env *testEnv, userID uint) *model.Medicine {
	t.Helper()
	med := seedMedicine(t, env.db, "50.00", "55.00", nil)
	_, err := env.carts.AddItem(context.Background(), userID, med.ID, 2)
	require.NoError(t, err)
	return med
}

func TestNewOrderNumberFormat(t *testing.T) {
	re := regexp.MustCompile(`^ORD[0-9A-F]{12}$`)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		n := NewOrderNumber()
		assert.Regexp(t, re, n)
		assert.False(t, seen[n])
		seen[n] = true
	}
}

func TestCheckoutEmptyCartCreatesNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.checkout.Checkout(ctx, 1, CheckoutRequest{})
	assert.ErrorIs(t, err, ErrEmptyCart)

	_, err = env.carts.Get(ctx, 1)
	require.NoError(t, err)
	_, err = env.checkout.Checkout(ctx, 1, CheckoutRequest{})
	assert.ErrorIs(t, err, ErrEmptyCart)

	assert.Zero(t, countOrders(t, env))
	assert.Empty(t, env.gw.calls)
}

func TestCheckoutAppliesDefaultDiscount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	med := fillCart(t, env, 1)

	res, err := env.checkout.Checkout(ctx, 1, CheckoutRequest{Notes: " leave at door "})
	require.NoError(t, err)

	o := reloadOrder(t, env.db, res.Order.OrderNumber)
	assert.Equal(t, model.OrderPlaced, o.Status)
	assert.Equal(t, model.PaymentPending, o.PaymentStatus)
	assert.Equal(t, "leave at door", o.Notes)
	assertDecimal(t, "100.00", o.Subtotal)
	assertDecimal(t, "110.00", o.TotalMRP)
	assertDecimal(t, "0", o.DeliveryFee)
	assertDecimal(t, "15.00", o.DiscountAmount)
	assertDecimal(t, "85.00", o.Total)
	assertOrderInvariant(t, o)

	require.Len(t, o.Items, 1)
	assert.Equal(t, med.ID, o.Items[0].MedicineID)
	assert.Equal(t, 2, o.Items[0].Quantity)
	assertDecimal(t, "50.00", o.Items[0].UnitPrice)
	assertDecimal(t, "55.00", o.Items[0].MRP)

	require.Len(t, env.gw.calls, 1)
	assertDecimal(t, "85.00", env.gw.calls[0].Amount)
	assert.Equal(t, o.OrderNumber, env.gw.calls[0].Receipt)
	assert.Equal(t, o.OrderNumber, env.gw.calls[0].Notes["order_number"])

	require.NotNil(t, res.Transaction)
	assert.Equal(t, "order_test_1", res.Transaction.GatewayOrderID)
	assert.False(t, res.Transaction.Succeeded)
	assertDecimal(t, "85.00", res.Transaction.Amount)
	assert.Contains(t, string(res.GatewayOrder), `"id":"order_test_1"`)

	// Cart is left intact by default.
	cart, err := env.carts.Get(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, cart.Items, 1)

	assert.Equal(t, []string{queue.EventOrderPlaced}, env.events.types())
}

func TestCheckoutPriceFreezesOrderItems(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	med := fillCart(t, env, 1)

	res, err := env.checkout.Checkout(ctx, 1, CheckoutRequest{})
	require.NoError(t, err)

	require.NoError(t, env.db.Model(med).Update("price", "80.00").Error)
	_, err = env.carts.AddItem(ctx, 1, med.ID, 1)
	require.NoError(t, err)

	o := reloadOrder(t, env.db, res.Order.OrderNumber)
	assertDecimal(t, "50.00", o.Items[0].UnitPrice)
	assertDecimal(t, "85.00", o.Total)
}

func TestCheckoutWithInjectedPolicyAndClearCart(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	fillCart(t, env, 1)

	svc := NewCheckoutService(env.db, zap.NewNop(), env.carts, env.orders, env.payments, nil, CheckoutConfig{
		Policy:             pricing.NoDiscount{},
		ClearCartByDefault: true,
	})
	res, err := svc.Checkout(ctx, 1, CheckoutRequest{})
	require.NoError(t, err)
	assertDecimal(t, "100.00", res.Order.Total)

	cart, err := env.carts.Get(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
	assertDecimal(t, "0", cart.Total)
}

func TestCheckoutClearCartRequestOverridesDefault(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	fillCart(t, env, 1)

	yes := true
	_, err := env.checkout.Checkout(ctx, 1, CheckoutRequest{ClearCart: &yes})
	require.NoError(t, err)

	cart, err := env.carts.Get(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
}

func TestCheckoutGatewayFailureKeepsOrder(t *testing.T) {
	env := newTestEnv(t)
	env.gw.err = errors.New("connection refused")
	fillCart(t, env, 1)

	res, err := env.checkout.Checkout(context.Background(), 1, CheckoutRequest{})
	assert.ErrorIs(t, err, ErrGateway)
	require.NotNil(t, res)
	require.NotNil(t, res.Order)
	assert.Nil(t, res.Transaction)

	o := reloadOrder(t, env.db, res.Order.OrderNumber)
	assert.Len(t, o.Items, 1)
	assertDecimal(t, "85.00", o.Total)

	var txns int64
	require.NoError(t, env.db.Model(&model.Transaction{}).Count(&txns).Error)
	assert.Zero(t, txns)
}

func TestCheckoutAddressSelection(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	fillCart(t, env, 1)
	cartAddr := seedAddress(t, env.db, 1)
	other := seedAddress(t, env.db, 1)
	foreign := seedAddress(t, env.db, 2)

	_, err := env.checkout.Checkout(ctx, 1, CheckoutRequest{AddressID: &foreign.ID})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, countOrders(t, env))

	_, err = env.carts.SetAddress(ctx, 1, &cartAddr.ID)
	require.NoError(t, err)
	res, err := env.checkout.Checkout(ctx, 1, CheckoutRequest{})
	require.NoError(t, err)
	require.NotNil(t, res.Order.AddressID)
	assert.Equal(t, cartAddr.ID, *res.Order.AddressID)

	res, err = env.checkout.Checkout(ctx, 1, CheckoutRequest{AddressID: &other.ID})
	require.NoError(t, err)
	assert.Equal(t, other.ID, *res.Order.AddressID)
}

func TestCheckoutRetriesOrderNumberCollision(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	fillCart(t, env, 1)

	first, err := env.checkout.Checkout(ctx, 1, CheckoutRequest{})
	require.NoError(t, err)

	numbers := []string{first.Order.OrderNumber, first.Order.OrderNumber, "ORDAAAAAAAAAAAA"}
	env.checkout.newOrderNumber = func() string {
		n := numbers[0]
		numbers = numbers[1:]
		return n
	}
	res, err := env.checkout.Checkout(ctx, 1, CheckoutRequest{})
	require.NoError(t, err)
	assert.Equal(t, "ORDAAAAAAAAAAAA", res.Order.OrderNumber)

	env.checkout.newOrderNumber = func() string { return first.Order.OrderNumber }
	_, err = env.checkout.Checkout(ctx, 1, CheckoutRequest{})
	assert.Error(t, err)
	assert.EqualValues(t, 2, countOrders(t, env))
}

func TestCheckoutHeldLockIsConflict(t *testing.T) {
	env := newTestEnv(t)
	fillCart(t, env, 1)
	svc := NewCheckoutService(env.db, zap.NewNop(), env.carts, env.orders, env.payments, &stubLocker{held: true}, CheckoutConfig{})

	_, err := svc.Checkout(context.Background(), 1, CheckoutRequest{})
	assert.ErrorIs(t, err, ErrConflict)
	assert.Zero(t, countOrders(t, env))
}
