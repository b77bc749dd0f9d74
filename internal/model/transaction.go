package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProviderRazorpay is the only payment provider.
const ProviderRazorpay = "razorpay"

// Transaction records one payment-gateway attempt. OrderID is nil only for
// rows created from a webhook that could not be tied to a local order.
type Transaction struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	OrderID *uint  `gorm:"index" json:"order_id"`
	Order   *Order `gorm:"constraint:OnDelete:CASCADE" json:"-"`

	Provider         string          `gorm:"size:100;not null;default:razorpay" json:"provider"`
	PaymentMethod    string          `gorm:"size:50" json:"payment_method,omitempty"`
	GatewayOrderID   string          `gorm:"size:255;index" json:"gateway_order_id"`
	GatewayPaymentID string          `gorm:"size:255;index" json:"gateway_payment_id"`
	GatewaySignature string          `gorm:"size:255" json:"-"`
	Amount           decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"amount"`
	Succeeded        bool            `gorm:"not null;default:false" json:"succeeded"`
	PaidAt           *time.Time      `json:"paid_at"`
	// RawResponse is kept for audit only; business logic never reads it back.
	RawResponse JSON `gorm:"type:text" json:"-"`
}

func (Transaction) TableName() string { return "transactions" }
