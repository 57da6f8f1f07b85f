package repository

import (
	"context"
	"time"

	"abandonment-service/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CartRepository reads carts, users and orders owned by other services.
type CartRepository interface {
	// IdleCustomers returns users with a non-empty cart whose last activity is at
	// or before threshold and who have placed no order after it.
	IdleCustomers(ctx context.Context, threshold time.Time) ([]models.Customer, error)
	CartItems(ctx context.Context, userID uuid.UUID) ([]models.CartItem, error)
}

type cartRepository struct {
	db *gorm.DB
}

func NewCartRepository(db *gorm.DB) CartRepository {
	return &cartRepository{db: db}
}

const idleCustomersQuery = `
SELECT u.id, u.name, u.email, u.last_activity
FROM users u
WHERE u.last_activity IS NOT NULL
  AND u.last_activity <= ?
  AND EXISTS (SELECT 1 FROM cart_items c WHERE c.user_id = u.id)
  AND u.id NOT IN (SELECT DISTINCT o.user_id FROM orders o WHERE o.created_at > ?)
ORDER BY u.last_activity ASC`

const cartItemsQuery = `
SELECT c.product_id, c.quantity, p.name,
       COALESCE(p.category, '') AS category,
       COALESCE(p.description, '') AS description,
       p.price, c.quantity * p.price AS line_total
FROM cart_items c
JOIN products p ON p.id = c.product_id
WHERE c.user_id = ?
ORDER BY c.created_at ASC`

func (r *cartRepository) IdleCustomers(ctx context.Context, threshold time.Time) ([]models.Customer, error) {
	var customers []models.Customer
	err := r.db.WithContext(ctx).Raw(idleCustomersQuery, threshold, threshold).Scan(&customers).Error
	return customers, err
}

func (r *cartRepository) CartItems(ctx context.Context, userID uuid.UUID) ([]models.CartItem, error) {
	var items []models.CartItem
	err := r.db.WithContext(ctx).Raw(cartItemsQuery, userID).Scan(&items).Error
	return items, err
}
