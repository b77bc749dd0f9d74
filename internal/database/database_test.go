package database

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmacy_checkout/internal/model"
)

func TestOpenSQLiteMigrates(t *testing.T) {
	db, err := Open(Options{
		Driver: "sqlite",
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
	})
	require.NoError(t, err)

	for _, m := range []any{&model.Medicine{}, &model.Cart{}, &model.CartItem{}, &model.Order{}, &model.OrderItem{}, &model.OrderLog{}, &model.Transaction{}, &model.Address{}} {
		assert.True(t, db.Migrator().HasTable(m), "%T", m)
	}
	assert.True(t, db.Migrator().HasIndex(&model.CartItem{}, "idx_cart_medicine"))
	assert.True(t, db.Migrator().HasIndex(&model.OrderItem{}, "idx_order_medicine"))
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(Options{Driver: "oracle"})
	assert.Error(t, err)
}
