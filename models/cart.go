package models

import (
	"time"

	"github.com/google/uuid"
)

// CartItem is a cart line joined with its catalog row.
type CartItem struct {
	ProductID   uuid.UUID `json:"product_id"`
	Quantity    int       `json:"quantity"`
	Name        string    `json:"name"`
	Category    string    `json:"category"`
	Description string    `json:"description"`
	Price       float64   `json:"price"`
	LineTotal   float64   `json:"line_total"`
}

// Customer is the owner of a cart as seen by the idle scan.
type Customer struct {
	ID           uuid.UUID  `json:"id"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	LastActivity *time.Time `json:"last_activity,omitempty"`
}

// CartTotal sums the line totals of items.
func CartTotal(items []CartItem) float64 {
	var total float64
	for _, it := range items {
		total += it.LineTotal
	}
	return total
}
