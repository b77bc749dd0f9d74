package service

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pharmacy_checkout/internal/model"
	"pharmacy_checkout/internal/money"
	"pharmacy_checkout/internal/pricing"
)

// CartService owns the cart aggregate. Every mutation runs in one transaction
// and finishes with a recalculation, so stored totals always match the lines.
type CartService struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewCartService(db *gorm.DB, logger *zap.Logger) *CartService {
	return &CartService{db: db, logger: logger}
}

// Get returns the user's cart with items, creating an empty one on first access.
func (s *CartService) Get(ctx context.Context, userID uint) (*model.Cart, error) {
	var cart *model.Cart
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := getOrCreateCart(tx, userID)
		if err != nil {
			return err
		}
		cart, err = loadCart(tx, c.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cart, nil
}

// Count returns the number of lines and the summed quantity.
func (s *CartService) Count(ctx context.Context, userID uint) (lines, quantity int, err error) {
	var row struct {
		Lines    int
		Quantity int
	}
	err = s.db.WithContext(ctx).
		Table("cart_items").
		Select("COUNT(cart_items.id) AS lines, COALESCE(SUM(cart_items.quantity), 0) AS quantity").
		Joins("JOIN carts ON carts.id = cart_items.cart_id").
		Where("carts.user_id = ?", userID).
		Scan(&row).Error
	return row.Lines, row.Quantity, err
}

// AddItem adds quantity to the medicine's line, creating it if needed. Price
// and MRP snapshots are refreshed from the catalog.
func (s *CartService) AddItem(ctx context.Context, userID, medicineID uint, quantity int) (*model.CartItem, error) {
	if quantity < 1 {
		return nil, invalidArgf("quantity must be >= 1")
	}

	var item model.CartItem
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cart, err := getOrCreateCart(tx, userID)
		if err != nil {
			return err
		}
		var med model.Medicine
		if err := tx.First(&med, medicineID).Error; err != nil {
			return translate(err, "medicine")
		}

		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("cart_id = ? AND medicine_id = ?", cart.ID, medicineID).
			Limit(1).Find(&item).Error; err != nil {
			return err
		}
		if item.ID == 0 {
			item = model.CartItem{CartID: cart.ID, MedicineID: medicineID}
		}
		item.Quantity += quantity
		refreshSnapshot(&item, &med)

		if err := tx.Omit(clause.Associations).Save(&item).Error; err != nil {
			return err
		}
		item.Medicine = med
		return recalculateCart(tx, cart)
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// UpdateItemQuantity sets the line's quantity; quantity <= 0 removes it.
// found=false means the cart has no line for the medicine.
func (s *CartService) UpdateItemQuantity(ctx context.Context, userID, medicineID uint, quantity int) (*model.CartItem, bool, error) {
	var (
		out   *model.CartItem
		found bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cart, err := getOrCreateCart(tx, userID)
		if err != nil {
			return err
		}
		var item model.CartItem
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("cart_id = ? AND medicine_id = ?", cart.ID, medicineID).
			Limit(1).Find(&item).Error; err != nil {
			return err
		}
		if item.ID == 0 {
			return nil
		}
		found = true

		if quantity <= 0 {
			if err := tx.Delete(&item).Error; err != nil {
				return err
			}
		} else {
			item.Quantity = quantity
			if err := tx.Omit(clause.Associations).Save(&item).Error; err != nil {
				return err
			}
			out = &item
		}
		return recalculateCart(tx, cart)
	})
	if err != nil {
		return nil, false, err
	}
	return out, found, nil
}

// RemoveItem deletes the medicine's line if present.
func (s *CartService) RemoveItem(ctx context.Context, userID, medicineID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cart, err := getOrCreateCart(tx, userID)
		if err != nil {
			return err
		}
		if err := tx.Where("cart_id = ? AND medicine_id = ?", cart.ID, medicineID).
			Delete(&model.CartItem{}).Error; err != nil {
			return err
		}
		return recalculateCart(tx, cart)
	})
}

// Clear removes every line.
func (s *CartService) Clear(ctx context.Context, userID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cart, err := getOrCreateCart(tx, userID)
		if err != nil {
			return err
		}
		if err := tx.Where("cart_id = ?", cart.ID).Delete(&model.CartItem{}).Error; err != nil {
			return err
		}
		return recalculateCart(tx, cart)
	})
}

// SetAddress selects the delivery address; nil clears it. The address must
// belong to the user.
func (s *CartService) SetAddress(ctx context.Context, userID uint, addressID *uint) (*model.Cart, error) {
	var cart *model.Cart
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := getOrCreateCart(tx, userID)
		if err != nil {
			return err
		}
		if addressID != nil {
			if err := ownAddress(tx, userID, *addressID); err != nil {
				return err
			}
		}
		if err := tx.Model(c).Update("address_id", addressID).Error; err != nil {
			return err
		}
		cart, err = loadCart(tx, c.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cart, nil
}

// SetDiscount stores the cart discount and recalculates.
func (s *CartService) SetDiscount(ctx context.Context, userID uint, d pricing.Discount) (*model.Cart, error) {
	if d.Value.IsNegative() {
		return nil, invalidArgf("discount value must be >= 0")
	}
	var cart *model.Cart
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := getOrCreateCart(tx, userID)
		if err != nil {
			return err
		}
		c.DiscountType = string(d.Kind)
		c.DiscountValue = money.Round(d.Value)
		if err := tx.Model(c).Updates(map[string]any{
			"discount_type":  c.DiscountType,
			"discount_value": c.DiscountValue,
		}).Error; err != nil {
			return err
		}
		if err := recalculateCart(tx, c); err != nil {
			return err
		}
		cart, err = loadCart(tx, c.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cart, nil
}

func getOrCreateCart(tx *gorm.DB, userID uint) (*model.Cart, error) {
	var cart model.Cart
	if err := tx.Where("user_id = ?", userID).Limit(1).Find(&cart).Error; err != nil {
		return nil, err
	}
	if cart.ID != 0 {
		return &cart, nil
	}
	cart = model.Cart{UserID: userID, DiscountType: string(pricing.KindFixed)}
	err := tx.Transaction(func(inner *gorm.DB) error { return inner.Create(&cart).Error })
	if err != nil {
		if !isUniqueViolation(err) {
			return nil, err
		}
		// Lost a creation race; the other cart is the user's cart.
		if err := tx.Where("user_id = ?", userID).First(&cart).Error; err != nil {
			return nil, err
		}
	}
	return &cart, nil
}

func loadCart(tx *gorm.DB, cartID uint) (*model.Cart, error) {
	var cart model.Cart
	err := tx.
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Preload("Items.Medicine", func(db *gorm.DB) *gorm.DB { return db.Unscoped() }).
		First(&cart, cartID).Error
	if err != nil {
		return nil, translate(err, "cart")
	}
	return &cart, nil
}

// recalculateCart recomputes the four monetary fields and persists them together.
func recalculateCart(tx *gorm.DB, cart *model.Cart) error {
	var items []model.CartItem
	if err := tx.Where("cart_id = ?", cart.ID).Find(&items).Error; err != nil {
		return err
	}
	cart.Recalculate(items)
	return tx.Model(cart).Updates(map[string]any{
		"subtotal":        cart.Subtotal,
		"total_mrp":       cart.TotalMRP,
		"discount_amount": cart.DiscountAmount,
		"total":           cart.Total,
	}).Error
}

// refreshSnapshot copies catalog price and MRP onto the line. A zero catalog
// price keeps the previous unit price; MRP falls back to the previous MRP and
// then to the unit price.
func refreshSnapshot(item *model.CartItem, med *model.Medicine) {
	if med.Price.IsPositive() {
		item.UnitPrice = money.Round(med.Price)
	}
	switch {
	case med.MRP.IsPositive():
		item.MRP = money.Round(med.MRP)
	case item.MRP.IsPositive():
	default:
		item.MRP = item.UnitPrice
	}
}

func ownAddress(tx *gorm.DB, userID, addressID uint) error {
	var addr model.Address
	err := tx.Where("id = ? AND user_id = ?", addressID, userID).First(&addr).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFoundf("address %d", addressID)
	}
	return err
}
