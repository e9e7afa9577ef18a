package services

import (
	"fmt"
	"math"
	"strings"

	"github.com/kioskflow/api/internal/domain"
)

// ValidateItemList checks the shape of a submitted item list. Empty lists and repeated ids are
// accepted; entries must carry an id and a finite, non-negative, whole quantity.
func ValidateItemList(items []ItemInput) error {
	for i, item := range items {
		if strings.TrimSpace(item.ItemID) == "" {
			return fmt.Errorf("entry %d: id is required", i)
		}
		if item.Quantity == nil {
			return fmt.Errorf("entry %d: quantity is required", i)
		}
		q := *item.Quantity
		switch {
		case math.IsNaN(q) || math.IsInf(q, 0):
			return fmt.Errorf("entry %d: quantity must be finite", i)
		case q < 0:
			return fmt.Errorf("entry %d: quantity must not be negative", i)
		case q != math.Trunc(q):
			return fmt.Errorf("entry %d: quantity must be a whole number", i)
		case q > math.MaxInt32:
			return fmt.Errorf("entry %d: quantity is too large", i)
		}
	}
	return nil
}

// toOrderItems converts validated inputs. Callers must run ValidateItemList first.
func toOrderItems(items []ItemInput) []domain.OrderItem {
	out := make([]domain.OrderItem, 0, len(items))
	for _, item := range items {
		out = append(out, domain.OrderItem{ItemID: strings.TrimSpace(item.ItemID), Quantity: int(*item.Quantity)})
	}
	return out
}

// CombineItems merges entries sharing an id by summing their quantities. The first occurrence
// determines the position of each id.
func CombineItems(items []domain.OrderItem) []domain.OrderItem {
	out := make([]domain.OrderItem, 0, len(items))
	index := make(map[string]int, len(items))
	for _, item := range items {
		if pos, ok := index[item.ItemID]; ok {
			out[pos].Quantity += item.Quantity
			continue
		}
		index[item.ItemID] = len(out)
		out = append(out, item)
	}
	return out
}

// RemoveZeroItems drops entries whose quantity is not positive, keeping relative order.
func RemoveZeroItems(items []domain.OrderItem) []domain.OrderItem {
	out := make([]domain.OrderItem, 0, len(items))
	for _, item := range items {
		if item.Quantity > 0 {
			out = append(out, item)
		}
	}
	return out
}
