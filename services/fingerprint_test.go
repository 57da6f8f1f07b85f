package services_test

import (
	"testing"

	"abandonment-service/models"
	"abandonment-service/services"

	"github.com/stretchr/testify/assert"
)

func TestFingerprint_OrderIndependent(t *testing.T) {
	a := line("Shoes", 1, 60)
	b := line("Socks", 2, 5)
	c := line("Hat", 1, 15)

	fp := services.Fingerprint([]models.CartItem{a, b, c})
	assert.Equal(t, fp, services.Fingerprint([]models.CartItem{c, a, b}))
	assert.Equal(t, fp, services.Fingerprint([]models.CartItem{b, c, a}))
	assert.Len(t, fp, 64)
}

func TestFingerprint_ChangesWithContents(t *testing.T) {
	a := line("Shoes", 1, 60)
	b := line("Socks", 2, 5)
	fp := services.Fingerprint([]models.CartItem{a, b})

	more := b
	more.Quantity = 3
	assert.NotEqual(t, fp, services.Fingerprint([]models.CartItem{a, more}))
	assert.NotEqual(t, fp, services.Fingerprint([]models.CartItem{a}))
	assert.NotEqual(t, fp, services.Fingerprint([]models.CartItem{a, b, line("Hat", 1, 15)}))
}

func TestFingerprint_IgnoresPrice(t *testing.T) {
	a := line("Shoes", 1, 60)
	cheaper := a
	cheaper.Price = 40
	cheaper.LineTotal = 40
	assert.Equal(t, services.Fingerprint([]models.CartItem{a}), services.Fingerprint([]models.CartItem{cheaper}))
}

func TestDiscountPolicy_Boundaries(t *testing.T) {
	p := services.DefaultDiscountPolicy()
	tests := []struct {
		total float64
		want  float64
	}{
		{0, 0},
		{99.99, 0},
		{100, 10},
		{110, 10},
		{499.99, 10},
		{500, 20},
		{1200, 20},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Percent(tt.total), "total %.2f", tt.total)
	}
}

func TestDiscountPolicy_UnsortedTiers(t *testing.T) {
	p := services.DiscountPolicy{Tiers: []services.DiscountTier{{Threshold: 500, Percent: 20}, {Threshold: 100, Percent: 10}}}
	assert.Equal(t, 20.0, p.Percent(700))
	assert.Equal(t, 10.0, p.Percent(300))
}
