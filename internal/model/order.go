package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"pharmacy_checkout/internal/money"
)

// Order is the price-frozen snapshot of a cart at checkout.
type Order struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	OrderNumber   string        `gorm:"size:64;uniqueIndex;not null" json:"order_number"`
	UserID        uint          `gorm:"not null;index" json:"user_id"`
	AddressID     *uint         `json:"address_id"`
	Status        OrderStatus   `gorm:"size:32;not null;default:placed;index" json:"status"`
	PaymentStatus PaymentStatus `gorm:"size:32;not null;default:pending" json:"payment_status"`

	TotalMRP       decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"total_mrp"`
	Subtotal       decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"subtotal"`
	DeliveryFee    decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"delivery_fee"`
	DiscountAmount decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"discount_amount"`
	Total          decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"total"`

	EstimatedDeliveryStart *time.Time `json:"estimated_delivery_start"`
	EstimatedDeliveryEnd   *time.Time `json:"estimated_delivery_end"`
	PlacedAt               time.Time  `gorm:"not null;index" json:"placed_at"`
	DeliveredAt            *time.Time `json:"delivered_at"`
	Notes                  string     `gorm:"type:text" json:"notes"`

	Items []OrderItem `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"items"`
}

func (Order) TableName() string { return "orders" }

// Recalculate derives subtotal, MRP total and total from items. The stored
// discount is clamped to the new subtotal.
func (o *Order) Recalculate(items []OrderItem) {
	subtotal, totalMRP := decimal.Zero, decimal.Zero
	for i := range items {
		subtotal = subtotal.Add(items[i].LineTotal())
		totalMRP = totalMRP.Add(money.Line(mrpOr(items[i].MRP, items[i].UnitPrice), items[i].Quantity))
	}
	o.Subtotal = money.Round(subtotal)
	o.TotalMRP = money.Round(totalMRP)
	o.DiscountAmount = money.Round(money.Clamp(o.DiscountAmount, o.Subtotal))
	o.Total = money.Round(o.Subtotal.Add(o.DeliveryFee).Sub(o.DiscountAmount))
}

// OrderItem is a price-frozen order line. The medicine it references cannot be
// hard-deleted while the line exists.
type OrderItem struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	OrderID    uint     `gorm:"not null;uniqueIndex:idx_order_medicine" json:"-"`
	MedicineID uint     `gorm:"not null;uniqueIndex:idx_order_medicine" json:"medicine_id"`
	Medicine   Medicine `gorm:"constraint:OnDelete:RESTRICT" json:"-"`

	Quantity             int             `gorm:"not null;default:1" json:"quantity"`
	UnitPrice            decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"unit_price"`
	MRP                  decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"mrp"`
	PrescriptionRequired bool            `gorm:"not null;default:false" json:"prescription_required"`
}

func (OrderItem) TableName() string { return "order_items" }

func (it *OrderItem) LineTotal() decimal.Decimal {
	return money.Line(it.UnitPrice, it.Quantity)
}

// OrderLog is an append-only audit entry.
type OrderLog struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`

	OrderID uint   `gorm:"not null;index" json:"order_id"`
	Message string `gorm:"type:text;not null" json:"message"`
	Meta    JSON   `gorm:"type:text" json:"meta"`
}

func (OrderLog) TableName() string { return "order_logs" }
