package model

import "time"

// Address is a user's delivery address.
type Address struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UserID       uint   `gorm:"not null;index" json:"user_id"`
	AddressLine1 string `gorm:"size:255;not null" json:"address_line1"`
	AddressLine2 string `gorm:"size:255" json:"address_line2"`
	Landmark     string `gorm:"size:255" json:"landmark"`
	City         string `gorm:"size:128;not null" json:"city"`
	PostalCode   string `gorm:"size:16;not null" json:"postal_code"`
	State        string `gorm:"size:128" json:"state"`
	Country      string `gorm:"size:64;not null;default:India" json:"country"`
}

func (Address) TableName() string { return "addresses" }
