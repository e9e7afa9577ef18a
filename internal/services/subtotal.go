package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/kioskflow/api/internal/domain"
	"github.com/kioskflow/api/internal/repositories"
)

// SubtotalCalculator prices item lists against the catalog.
type SubtotalCalculator struct {
	catalog repositories.CatalogRepository
}

// NewSubtotalCalculator returns a calculator reading prices from catalog.
func NewSubtotalCalculator(catalog repositories.CatalogRepository) (*SubtotalCalculator, error) {
	if catalog == nil {
		return nil, errors.New("subtotal calculator: catalog repository is required")
	}
	return &SubtotalCalculator{catalog: catalog}, nil
}

// Compute returns the sum of price times quantity over products and options in minor units.
// Items whose id does not resolve contribute nothing; any other lookup error is returned.
func (c *SubtotalCalculator) Compute(ctx context.Context, products, options []domain.OrderItem) (int64, error) {
	productTotal, err := c.sum(ctx, products, c.catalog.FindProduct)
	if err != nil {
		return 0, err
	}
	optionTotal, err := c.sum(ctx, options, c.catalog.FindOption)
	if err != nil {
		return 0, err
	}
	return productTotal + optionTotal, nil
}

type priceLookup func(ctx context.Context, id string) (domain.CatalogItem, error)

func (c *SubtotalCalculator) sum(ctx context.Context, items []domain.OrderItem, lookup priceLookup) (int64, error) {
	var total int64
	for _, item := range items {
		qty := max(item.Quantity, 0)
		if qty == 0 {
			continue
		}
		entry, err := lookup(ctx, item.ItemID)
		if err != nil {
			if isRepositoryNotFound(err) {
				continue
			}
			return 0, fmt.Errorf("order: catalog lookup %s: %w", item.ItemID, err)
		}
		total += entry.Price * int64(qty)
	}
	return total, nil
}

func isRepositoryNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
