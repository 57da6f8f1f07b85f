package repository

import (
	"context"

	"abandonment-service/models"

	"gorm.io/gorm"
)

type CatalogRepository interface {
	InStockProducts(ctx context.Context) ([]models.Product, error)
}

type catalogRepository struct {
	db *gorm.DB
}

func NewCatalogRepository(db *gorm.DB) CatalogRepository {
	return &catalogRepository{db: db}
}

// InStockProducts returns products with stock, newest first.
func (r *catalogRepository) InStockProducts(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	err := r.db.WithContext(ctx).
		Where("stock > ?", 0).
		Order("created_at DESC").
		Order("id").
		Find(&products).Error
	return products, err
}
