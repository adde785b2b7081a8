package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"tokoretur/backend/internal/money"
)

// Refund is the aggregate root of a sales return: a dated header plus the
// line items that were brought back. Total and GrandTotal are derived on
// every write and never accepted from the caller.
type Refund struct {
	ID          int64           `json:"id"`
	Date        string          `json:"date"`
	Title       *string         `json:"title"`
	Description string          `json:"description"`
	Discount    decimal.Decimal `json:"discount"`
	Total       decimal.Decimal `json:"total"`
	GrandTotal  decimal.Decimal `json:"grand_total"`
	AccountID   int64           `json:"account_id"`
	RefundItems []RefundItem    `json:"refund_items"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	DeletedAt   *time.Time      `json:"deleted_at,omitempty"`
}

// RefundItem belongs to exactly one Refund for its entire lifetime. Price is
// the unit price snapshot taken at write time; Discount is a percentage
// applied to quantity*price. Total is computed and stored at write time.
type RefundItem struct {
	ID        int64           `json:"id"`
	RefundID  int64           `json:"refund_id"`
	ItemID    int64           `json:"item_id"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Discount  decimal.Decimal `json:"discount"`
	Total     decimal.Decimal `json:"total"`
	DeletedAt *time.Time      `json:"deleted_at,omitempty"`
	Item      *CatalogItem    `json:"item,omitempty"`
}

// RecomputeTotals derives every line item's total and the header's total and
// grand total from the current item set. Repositories call this inside the
// same transaction as the item writes so the stored aggregates can never
// drift from the stored lines.
func (r *Refund) RecomputeTotals() {
	lineTotals := make([]decimal.Decimal, 0, len(r.RefundItems))
	for i := range r.RefundItems {
		item := &r.RefundItems[i]
		item.Total = money.LineTotal(item.Quantity, item.Price, item.Discount)
		lineTotals = append(lineTotals, item.Total)
	}
	r.Total, r.GrandTotal = money.Aggregate(lineTotals, r.Discount)
}

// CatalogItem is a read-only catalog entry; refund writes only reference it.
type CatalogItem struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	UnitID int64  `json:"unit_id"`
	Unit   *Unit  `json:"unit,omitempty"`
}

type Unit struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// RefundItemInput is one caller-supplied line. Numeric fields are pointers so
// an absent field fails `required` while an explicit zero passes.
type RefundItemInput struct {
	ItemID   int64            `json:"item_id" validate:"required"`
	Price    *decimal.Decimal `json:"price" validate:"required"`
	Quantity *decimal.Decimal `json:"quantity" validate:"required"`
	Discount *decimal.Decimal `json:"discount" validate:"required"`
}

// RefundWriteRequest is the shared payload for create and full-replace update.
type RefundWriteRequest struct {
	Date        string            `json:"date" validate:"required"`
	Title       *string           `json:"title"`
	Description *string           `json:"description"`
	Discount    *decimal.Decimal  `json:"discount" validate:"required"`
	AccountID   int64             `json:"account_id" validate:"required"`
	Items       []RefundItemInput `json:"items" validate:"required,min=1,dive"`
}

type RefundListResponse struct {
	Items []Refund `json:"items"`
	Total int64    `json:"total"`
	Page  int      `json:"page"`
	Limit int      `json:"limit"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresAt   string `json:"expires_at"`
}

type ChangePasswordRequest struct {
	Email           string `json:"email"`
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type Actor struct {
	Email string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	ID        int64
	Email     string
	Password  string
	CreatedAt time.Time
}
