package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultCategory is used in index documents for products without a category.
const DefaultCategory = "general"

// Product is a read-only row of the catalog.
type Product struct {
	ID          uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	Name        string    `json:"name" gorm:"not null"`
	Category    *string   `json:"category,omitempty"`
	Description *string   `json:"description,omitempty"`
	Price       float64   `json:"price" gorm:"type:numeric(10,2);not null"`
	Stock       int       `json:"stock" gorm:"not null"`
	CreatedAt   time.Time `json:"created_at"`
}

func (Product) TableName() string { return "products" }

// CategoryOrDefault returns the category, or DefaultCategory when it is missing.
func (p Product) CategoryOrDefault() string {
	if p.Category == nil || strings.TrimSpace(*p.Category) == "" {
		return DefaultCategory
	}
	return *p.Category
}

// CategoryKey is the case and space normalized category, empty when unset.
func (p Product) CategoryKey() string {
	if p.Category == nil {
		return ""
	}
	return NormalizeCategory(*p.Category)
}

// DescriptionText returns the description or an empty string.
func (p Product) DescriptionText() string {
	if p.Description == nil {
		return ""
	}
	return *p.Description
}

// NormalizeCategory lower-cases and trims a category for comparisons.
func NormalizeCategory(c string) string {
	return strings.ToLower(strings.TrimSpace(c))
}
