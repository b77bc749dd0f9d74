package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Medicine is a catalog entry: price and MRP are snapshotted into carts and
// orders, stock is compared live. A nil Stock means stock is not tracked.
type Medicine struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Name         string          `gorm:"size:255;not null" json:"name"`
	Manufacturer string          `gorm:"size:255" json:"manufacturer,omitempty"`
	ImageURL     string          `gorm:"size:512" json:"image_url,omitempty"`
	Price        decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0" json:"price"`
	MRP          decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0" json:"mrp"`
	Stock        *int64          `json:"stock"`

	PrescriptionRequired bool `gorm:"not null;default:false" json:"prescription_required"`
}

func (Medicine) TableName() string { return "medicines" }
