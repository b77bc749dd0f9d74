package service

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"pharmacy_checkout/internal/model"
	"pharmacy_checkout/internal/money"
)

// CatalogService is the price and stock oracle.
type CatalogService struct {
	db *gorm.DB
}

func NewCatalogService(db *gorm.DB) *CatalogService {
	return &CatalogService{db: db}
}

func (s *CatalogService) List(ctx context.Context) ([]model.Medicine, error) {
	var meds []model.Medicine
	err := s.db.WithContext(ctx).Order("name ASC, id ASC").Find(&meds).Error
	return meds, err
}

func (s *CatalogService) Get(ctx context.Context, id uint) (*model.Medicine, error) {
	var med model.Medicine
	if err := s.db.WithContext(ctx).First(&med, id).Error; err != nil {
		return nil, translate(err, fmt.Sprintf("medicine %d", id))
	}
	return &med, nil
}

func (s *CatalogService) Create(ctx context.Context, med *model.Medicine) error {
	med.Name = strings.TrimSpace(med.Name)
	if med.Name == "" {
		return invalidArgf("name is required")
	}
	if med.Price.IsNegative() || med.MRP.IsNegative() {
		return invalidArgf("price and mrp must be >= 0")
	}
	if med.Stock != nil && *med.Stock < 0 {
		return invalidArgf("stock must be >= 0")
	}
	med.ID = 0
	med.Price = money.Round(med.Price)
	med.MRP = money.Round(med.MRP)
	return s.db.WithContext(ctx).Create(med).Error
}

// Archive hides the medicine from the catalog. Carts and orders keep their
// snapshots.
func (s *CatalogService) Archive(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&model.Medicine{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return notFoundf("medicine %d", id)
	}
	return nil
}

// Delete removes the medicine for good. It is refused with ErrConflict while
// any order line references it; cart lines are dropped with it.
func (s *CatalogService) Delete(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var med model.Medicine
		if err := tx.Unscoped().First(&med, id).Error; err != nil {
			return translate(err, fmt.Sprintf("medicine %d", id))
		}
		var refs int64
		if err := tx.Model(&model.OrderItem{}).Where("medicine_id = ?", id).Count(&refs).Error; err != nil {
			return err
		}
		if refs > 0 {
			return fmt.Errorf("%w: medicine %d is referenced by %d order item(s)", ErrConflict, id, refs)
		}

		var cartIDs []uint
		if err := tx.Model(&model.CartItem{}).Where("medicine_id = ?", id).
			Distinct().Pluck("cart_id", &cartIDs).Error; err != nil {
			return err
		}
		if err := tx.Where("medicine_id = ?", id).Delete(&model.CartItem{}).Error; err != nil {
			return err
		}
		for _, cartID := range cartIDs {
			var cart model.Cart
			if err := tx.First(&cart, cartID).Error; err != nil {
				return err
			}
			if err := recalculateCart(tx, &cart); err != nil {
				return err
			}
		}
		return tx.Unscoped().Delete(&med).Error
	})
}
