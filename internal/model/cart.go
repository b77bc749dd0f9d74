package model

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"pharmacy_checkout/internal/money"
	"pharmacy_checkout/internal/pricing"
)

// ErrQuantityTooLow is returned when a cart line would be written with quantity < 1.
var ErrQuantityTooLow = errors.New("quantity must be >= 1")

// Cart is the single open cart of a user. Monetary fields are written only by
// recalculation; DiscountType/DiscountValue carry the configured discount and
// DiscountAmount the computed one.
type Cart struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UserID    uint  `gorm:"not null;uniqueIndex" json:"user_id"`
	AddressID *uint `json:"address_id"`

	TotalMRP       decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"total_mrp"`
	Subtotal       decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"subtotal"`
	DiscountType   string          `gorm:"size:16;not null;default:fixed" json:"discount_type"`
	DiscountValue  decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"discount_value"`
	DiscountAmount decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"discount_amount"`
	Total          decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"total"`
	Notes          string          `gorm:"type:text" json:"notes"`

	Items []CartItem `gorm:"foreignKey:CartID;constraint:OnDelete:CASCADE" json:"items"`
}

func (Cart) TableName() string { return "carts" }

// Discount returns the configured discount as a tagged value.
func (c *Cart) Discount() pricing.Discount {
	return pricing.Parse(c.DiscountType, c.DiscountValue)
}

// Recalculate derives every monetary field from items.
func (c *Cart) Recalculate(items []CartItem) {
	subtotal, totalMRP := decimal.Zero, decimal.Zero
	for i := range items {
		subtotal = subtotal.Add(items[i].LineTotal())
		totalMRP = totalMRP.Add(items[i].MRPTotal())
	}
	c.Subtotal = money.Round(subtotal)
	c.TotalMRP = money.Round(totalMRP)
	c.DiscountAmount = c.Discount().Amount(c.Subtotal)
	c.Total = money.Round(c.Subtotal.Sub(c.DiscountAmount))
}

// CartItem is one medicine line. UnitPrice and MRP are snapshots taken when the
// line was last added to, not live catalog values.
type CartItem struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	CartID     uint     `gorm:"not null;uniqueIndex:idx_cart_medicine" json:"-"`
	MedicineID uint     `gorm:"not null;uniqueIndex:idx_cart_medicine" json:"medicine_id"`
	Medicine   Medicine `gorm:"constraint:OnDelete:RESTRICT" json:"medicine"`

	Quantity  int             `gorm:"not null;default:1" json:"quantity"`
	UnitPrice decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"unit_price"`
	MRP       decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"mrp"`
}

func (CartItem) TableName() string { return "cart_items" }

func (it *CartItem) BeforeSave(*gorm.DB) error {
	if it.Quantity < 1 {
		return ErrQuantityTooLow
	}
	return nil
}

// LineTotal is unit_price * quantity.
func (it *CartItem) LineTotal() decimal.Decimal {
	return money.Line(it.UnitPrice, it.Quantity)
}

// MRPTotal is (mrp or unit_price) * quantity.
func (it *CartItem) MRPTotal() decimal.Decimal {
	return money.Line(mrpOr(it.MRP, it.UnitPrice), it.Quantity)
}

// IsOutOfStock compares the line quantity with live stock; unknown stock counts as available.
func (it *CartItem) IsOutOfStock() bool {
	if it.Medicine.Stock == nil {
		return false
	}
	return *it.Medicine.Stock < int64(it.Quantity)
}

func mrpOr(mrp, fallback decimal.Decimal) decimal.Decimal {
	if mrp.IsZero() {
		return fallback
	}
	return mrp
}
