package firestore

import (
	"context"
	"errors"

	"github.com/kioskflow/api/internal/domain"
	pfirestore "github.com/kioskflow/api/internal/platform/firestore"
	"github.com/kioskflow/api/internal/repositories"
)

// CatalogRepository reads product and option prices.
type CatalogRepository struct {
	products *pfirestore.Collection[catalogDocument]
	options  *pfirestore.Collection[catalogDocument]
}

var _ repositories.CatalogRepository = (*CatalogRepository)(nil)

func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	return &CatalogRepository{
		products: pfirestore.NewCollection[catalogDocument](provider, productsCollection),
		options:  pfirestore.NewCollection[catalogDocument](provider, optionsCollection),
	}, nil
}

func (r *CatalogRepository) FindProduct(ctx context.Context, productID string) (domain.CatalogItem, error) {
	return findCatalogItem(ctx, r.products, productID)
}

func (r *CatalogRepository) FindOption(ctx context.Context, optionID string) (domain.CatalogItem, error) {
	return findCatalogItem(ctx, r.options, optionID)
}

func findCatalogItem(ctx context.Context, col *pfirestore.Collection[catalogDocument], id string) (domain.CatalogItem, error) {
	doc, err := col.Get(ctx, id)
	if err != nil {
		return domain.CatalogItem{}, err
	}
	return domain.CatalogItem{ID: id, Price: doc.Price}, nil
}
