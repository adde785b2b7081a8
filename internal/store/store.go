package store

import (
	"context"
	"errors"

	"tokoretur/backend/internal/domain"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
)

// Repository persists refunds and their line items. Every mutating operation
// is atomic: either the refund header and its full item set are committed
// together or nothing is written. Implementations compute the derived totals
// inside the same unit of work as the item writes.
type Repository interface {
	// CreateRefund validates the item set against the catalog, computes the
	// derived totals and inserts the refund with all of its items. Returns
	// the new refund id.
	CreateRefund(ctx context.Context, refund domain.Refund) (int64, error)
	// UpdateRefund replaces the stored item set wholesale: old line items are
	// hard-deleted, totals are recomputed from the supplied set, the header
	// is updated and the new items inserted, all in one transaction.
	UpdateRefund(ctx context.Context, id int64, refund domain.Refund) error
	// DeleteRefund soft-deletes the refund and cascades the soft delete to
	// its line items in the same operation.
	DeleteRefund(ctx context.Context, id int64) error
	// GetRefund returns the refund hydrated with its non-deleted line items,
	// each joined with its catalog item and unit.
	GetRefund(ctx context.Context, id int64) (*domain.Refund, error)
	// ListRefunds matches q as a substring of the date, description, id or
	// title (OR across all four; empty q matches everything), newest first.
	ListRefunds(ctx context.Context, q string, page int, limit int) ([]domain.Refund, int64, error)

	ListItems(ctx context.Context) ([]domain.CatalogItem, error)

	GetUserByEmail(ctx context.Context, email string) (*domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, email string, passwordHash string) error
}
