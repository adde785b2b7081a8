package memory

import (
	"context"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"tokoretur/backend/internal/domain"
	"tokoretur/backend/internal/store"
)

// Store is the in-memory repository used for dev mode and unit tests. A
// single mutex serializes every operation, which gives the same all-or-
// nothing visibility the postgres transactions provide.
type Store struct {
	mu           sync.RWMutex
	refundsByID  map[int64]domain.Refund
	itemsByID    map[int64]domain.CatalogItem
	unitsByID    map[int64]domain.Unit
	usersByEmail map[string]domain.UserAccount
	nextRefundID int64
	nextLineID   int64
}

// seedUsers builds the initial back-office account for dev/demo mode. The
// password is read from SEED_ADMIN_PASSWORD; if unset, a hardcoded dev
// default is used with a warning. Production deployments use PostgreSQL
// (DATABASE_URL set) and never reach this path.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD to override.")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(adminPwd), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("[memory-store] failed to hash seed password: %v", err)
	}

	return map[string]domain.UserAccount{
		"admin@tokoretur.id": {
			ID:        1,
			Email:     "admin@tokoretur.id",
			Password:  string(hash),
			CreatedAt: time.Now().UTC(),
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	units := []domain.Unit{
		{ID: 1, Name: "Pcs"},
		{ID: 2, Name: "Box"},
		{ID: 3, Name: "Kg"},
		{ID: 4, Name: "Liter"},
	}

	items := []domain.CatalogItem{
		{ID: 1, Name: "Mie Goreng Instan", UnitID: 2},
		{ID: 2, Name: "Telur Ayam", UnitID: 3},
		{ID: 3, Name: "Susu UHT", UnitID: 4},
		{ID: 4, Name: "Roti Tawar", UnitID: 1},
		{ID: 5, Name: "Kopi Sachet", UnitID: 2},
		{ID: 6, Name: "Gula Pasir", UnitID: 3},
		{ID: 7, Name: "Teh Celup", UnitID: 2},
		{ID: 8, Name: "Air Mineral 600ml", UnitID: 1},
		{ID: 9, Name: "Keripik Singkong", UnitID: 1},
		{ID: 10, Name: "Sabun Mandi", UnitID: 1},
	}

	unitMap := make(map[int64]domain.Unit, len(units))
	for _, u := range units {
		unitMap[u.ID] = u
	}
	itemMap := make(map[int64]domain.CatalogItem, len(items))
	for _, item := range items {
		itemMap[item.ID] = item
	}

	return &Store{
		refundsByID:  make(map[int64]domain.Refund),
		itemsByID:    itemMap,
		unitsByID:    unitMap,
		usersByEmail: seedUsers(),
	}
}

func (s *Store) CreateRefund(_ context.Context, refund domain.Refund) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.verifyCatalogRefs(refund.RefundItems); err != nil {
		return 0, err
	}

	refund.RecomputeTotals()

	now := time.Now().UTC()
	s.nextRefundID++
	refund.ID = s.nextRefundID
	refund.CreatedAt = now
	refund.UpdatedAt = now
	refund.DeletedAt = nil
	for i := range refund.RefundItems {
		s.nextLineID++
		refund.RefundItems[i].ID = s.nextLineID
		refund.RefundItems[i].RefundID = refund.ID
		refund.RefundItems[i].DeletedAt = nil
		refund.RefundItems[i].Item = nil
	}

	s.refundsByID[refund.ID] = refund
	return refund.ID, nil
}

func (s *Store) UpdateRefund(_ context.Context, id int64, refund domain.Refund) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.refundsByID[id]
	if !ok || existing.DeletedAt != nil {
		return store.ErrNotFound
	}

	if err := s.verifyCatalogRefs(refund.RefundItems); err != nil {
		return err
	}

	refund.RecomputeTotals()

	existing.Date = refund.Date
	existing.Title = refund.Title
	existing.Description = refund.Description
	existing.Discount = refund.Discount
	existing.Total = refund.Total
	existing.GrandTotal = refund.GrandTotal
	existing.AccountID = refund.AccountID
	existing.UpdatedAt = time.Now().UTC()

	// Full replace: the previous item set is dropped outright.
	existing.RefundItems = make([]domain.RefundItem, 0, len(refund.RefundItems))
	for _, item := range refund.RefundItems {
		s.nextLineID++
		item.ID = s.nextLineID
		item.RefundID = id
		item.DeletedAt = nil
		item.Item = nil
		existing.RefundItems = append(existing.RefundItems, item)
	}

	s.refundsByID[id] = existing
	return nil
}

func (s *Store) DeleteRefund(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.refundsByID[id]
	if !ok || existing.DeletedAt != nil {
		return store.ErrNotFound
	}

	now := time.Now().UTC()
	existing.DeletedAt = &now
	existing.UpdatedAt = now
	for i := range existing.RefundItems {
		existing.RefundItems[i].DeletedAt = &now
	}

	s.refundsByID[id] = existing
	return nil
}

func (s *Store) GetRefund(_ context.Context, id int64) (*domain.Refund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	existing, ok := s.refundsByID[id]
	if !ok || existing.DeletedAt != nil {
		return nil, store.ErrNotFound
	}

	hydrated := s.hydrate(existing)
	return &hydrated, nil
}

func (s *Store) ListRefunds(_ context.Context, q string, page int, limit int) ([]domain.Refund, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(q)
	matched := make([]domain.Refund, 0, len(s.refundsByID))
	for _, refund := range s.refundsByID {
		if refund.DeletedAt != nil {
			continue
		}
		if needle != "" && !matchesRefund(refund, needle) {
			continue
		}
		matched = append(matched, refund)
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	total := int64(len(matched))
	start := (page - 1) * limit
	if start >= len(matched) {
		return []domain.Refund{}, total, nil
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}

	result := make([]domain.Refund, 0, end-start)
	for _, refund := range matched[start:end] {
		result = append(result, s.hydrate(refund))
	}
	return result, total, nil
}

// matchesRefund applies the OR-combined substring match across date,
// description, id and title.
func matchesRefund(refund domain.Refund, needle string) bool {
	if strings.Contains(strings.ToLower(refund.Date), needle) {
		return true
	}
	if strings.Contains(strings.ToLower(refund.Description), needle) {
		return true
	}
	if strings.Contains(strconv.FormatInt(refund.ID, 10), needle) {
		return true
	}
	if refund.Title != nil && strings.Contains(strings.ToLower(*refund.Title), needle) {
		return true
	}
	return false
}

func (s *Store) ListItems(_ context.Context) ([]domain.CatalogItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.CatalogItem, 0, len(s.itemsByID))
	for _, item := range s.itemsByID {
		if unit, ok := s.unitsByID[item.UnitID]; ok {
			u := unit
			item.Unit = &u
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Name != items[j].Name {
			return items[i].Name < items[j].Name
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.usersByEmail[email]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &user, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, email string, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByEmail[email]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = passwordHash
	s.usersByEmail[email] = user
	return nil
}

// verifyCatalogRefs requires every referenced item to resolve in the
// catalog; callers hold the write lock.
func (s *Store) verifyCatalogRefs(items []domain.RefundItem) error {
	if len(items) == 0 {
		return store.ErrValidation
	}
	for _, item := range items {
		if _, ok := s.itemsByID[item.ItemID]; !ok {
			return store.ErrValidation
		}
	}
	return nil
}

// hydrate returns a deep copy of the refund carrying only its non-deleted
// items, each joined with its catalog item and unit.
func (s *Store) hydrate(refund domain.Refund) domain.Refund {
	items := make([]domain.RefundItem, 0, len(refund.RefundItems))
	for _, item := range refund.RefundItems {
		if item.DeletedAt != nil {
			continue
		}
		if catalog, ok := s.itemsByID[item.ItemID]; ok {
			if unit, ok := s.unitsByID[catalog.UnitID]; ok {
				u := unit
				catalog.Unit = &u
			}
			c := catalog
			item.Item = &c
		}
		items = append(items, item)
	}
	refund.RefundItems = items
	return refund
}
