package cache

import (
	"context"
	"time"

	"tokoretur/backend/internal/domain"
)

// CatalogCache holds the read-only item catalog that the refund edit form
// fetches on every load. The catalog is maintained outside this service, so
// a short TTL is the only invalidation needed.
type CatalogCache interface {
	GetItems(ctx context.Context) ([]domain.CatalogItem, bool, error)
	SetItems(ctx context.Context, items []domain.CatalogItem, ttl time.Duration) error
}

type NoopCatalogCache struct{}

func (NoopCatalogCache) GetItems(_ context.Context) ([]domain.CatalogItem, bool, error) {
	return nil, false, nil
}

func (NoopCatalogCache) SetItems(_ context.Context, _ []domain.CatalogItem, _ time.Duration) error {
	return nil
}
