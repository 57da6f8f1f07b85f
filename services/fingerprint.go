package services

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"abandonment-service/models"
)

// Fingerprint digests the (product id, quantity) multiset of a cart. Line
// order does not matter; any change in contents yields a new value.
func Fingerprint(items []models.CartItem) string {
	lines := make([]models.CartItem, len(items))
	copy(lines, items)
	sort.Slice(lines, func(i, j int) bool {
		a, b := lines[i].ProductID.String(), lines[j].ProductID.String()
		if a != b {
			return a < b
		}
		return lines[i].Quantity < lines[j].Quantity
	})

	parts := make([]string, len(lines))
	for i, it := range lines {
		parts[i] = it.ProductID.String() + ":" + strconv.Itoa(it.Quantity)
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
