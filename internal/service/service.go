package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-playground/validator/v10"

	"tokoretur/backend/internal/cache"
	"tokoretur/backend/internal/domain"
	"tokoretur/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

const (
	defaultPage  = 1
	defaultLimit = 10
	maxLimit     = 100
)

// Service orchestrates refund writes: it validates payload shape before the
// repository ever sees the request, and after a committed write it re-reads
// the persisted aggregate so callers observe exactly what was stored.
type Service struct {
	repo       store.Repository
	catalog    cache.CatalogCache
	catalogTTL time.Duration
	validate   *validator.Validate
}

func New(repo store.Repository, catalogCache cache.CatalogCache, catalogTTL time.Duration) *Service {
	if catalogCache == nil {
		catalogCache = cache.NoopCatalogCache{}
	}
	if catalogTTL <= 0 {
		catalogTTL = 5 * time.Minute
	}

	return &Service{
		repo:       repo,
		catalog:    catalogCache,
		catalogTTL: catalogTTL,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (s *Service) ListRefunds(ctx context.Context, q string, page int, limit int) (domain.RefundListResponse, error) {
	if page < 1 {
		page = defaultPage
	}
	if limit < 1 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	items, total, err := s.repo.ListRefunds(ctx, q, page, limit)
	if err != nil {
		return domain.RefundListResponse{}, err
	}

	return domain.RefundListResponse{
		Items: items,
		Total: total,
		Page:  page,
		Limit: limit,
	}, nil
}

func (s *Service) GetRefund(ctx context.Context, id int64) (*domain.Refund, error) {
	return s.repo.GetRefund(ctx, id)
}

func (s *Service) CreateRefund(ctx context.Context, req domain.RefundWriteRequest) (*domain.Refund, error) {
	if err := s.validateWrite(req); err != nil {
		return nil, err
	}

	id, err := s.repo.CreateRefund(ctx, buildRefund(req))
	if err != nil {
		return nil, err
	}

	// Re-read so the caller sees the persisted aggregate, derived fields
	// and hydration included, not the pre-write payload.
	return s.repo.GetRefund(ctx, id)
}

func (s *Service) UpdateRefund(ctx context.Context, id int64, req domain.RefundWriteRequest) (*domain.Refund, error) {
	if err := s.validateWrite(req); err != nil {
		return nil, err
	}

	if err := s.repo.UpdateRefund(ctx, id, buildRefund(req)); err != nil {
		return nil, err
	}

	return s.repo.GetRefund(ctx, id)
}

// DeleteRefund soft-deletes the refund and returns the pre-deletion snapshot.
func (s *Service) DeleteRefund(ctx context.Context, id int64) (*domain.Refund, error) {
	snapshot, err := s.repo.GetRefund(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.repo.DeleteRefund(ctx, id); err != nil {
		return nil, err
	}

	return snapshot, nil
}

func (s *Service) ListItems(ctx context.Context) ([]domain.CatalogItem, error) {
	if items, found, err := s.catalog.GetItems(ctx); err == nil && found {
		return items, nil
	} else if err != nil {
		log.Printf("[service] WARN: catalog cache read failed: %v", err)
	}

	items, err := s.repo.ListItems(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.catalog.SetItems(ctx, items, s.catalogTTL); err != nil {
		log.Printf("[service] WARN: catalog cache write failed: %v", err)
	}

	return items, nil
}

// validateWrite enforces the payload contract before any storage work:
// required fields, at least one item, parseable date, non-negative price and
// positive quantity. Discount percentages are deliberately not clamped.
func (s *Service) validateWrite(req domain.RefundWriteRequest) error {
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", store.ErrValidation, err)
	}
	if _, err := time.Parse("2006-01-02", req.Date); err != nil {
		return fmt.Errorf("%w: date must be YYYY-MM-DD", store.ErrValidation)
	}
	for _, item := range req.Items {
		if item.Quantity.Sign() <= 0 {
			return fmt.Errorf("%w: item quantity must be positive", store.ErrValidation)
		}
		if item.Price.Sign() < 0 {
			return fmt.Errorf("%w: item price must not be negative", store.ErrValidation)
		}
	}
	return nil
}

func buildRefund(req domain.RefundWriteRequest) domain.Refund {
	description := ""
	if req.Description != nil {
		description = *req.Description
	}

	refund := domain.Refund{
		Date:        req.Date,
		Title:       req.Title,
		Description: description,
		Discount:    *req.Discount,
		AccountID:   req.AccountID,
	}
	for _, item := range req.Items {
		refund.RefundItems = append(refund.RefundItems, domain.RefundItem{
			ItemID:   item.ItemID,
			Price:    *item.Price,
			Quantity: *item.Quantity,
			Discount: *item.Discount,
		})
	}
	return refund
}
