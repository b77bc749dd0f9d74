package service

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"pharmacy_checkout/internal/model"
)

type AddressService struct {
	db *gorm.DB
}

func NewAddressService(db *gorm.DB) *AddressService {
	return &AddressService{db: db}
}

func (s *AddressService) List(ctx context.Context, userID uint) ([]model.Address, error) {
	var out []model.Address
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("id ASC").Find(&out).Error
	return out, err
}

// Create stores a new address owned by userID.
func (s *AddressService) Create(ctx context.Context, userID uint, addr *model.Address) error {
	addr.AddressLine1 = strings.TrimSpace(addr.AddressLine1)
	addr.City = strings.TrimSpace(addr.City)
	addr.PostalCode = strings.TrimSpace(addr.PostalCode)
	switch {
	case addr.AddressLine1 == "":
		return invalidArgf("address_line1 is required")
	case addr.City == "":
		return invalidArgf("city is required")
	case addr.PostalCode == "":
		return invalidArgf("postal_code is required")
	}
	if addr.Country == "" {
		addr.Country = "India"
	}
	addr.ID = 0
	addr.UserID = userID
	return s.db.WithContext(ctx).Create(addr).Error
}
