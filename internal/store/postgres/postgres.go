package postgres

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"tokoretur/backend/internal/domain"
	"tokoretur/backend/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateRefund(ctx context.Context, refund domain.Refund) (int64, error) {
	if len(refund.RefundItems) == 0 {
		return 0, store.ErrValidation
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := verifyCatalogRefs(ctx, tx, refund.RefundItems); err != nil {
		return 0, err
	}

	refund.RecomputeTotals()

	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO refunds (date, title, description, discount, total, grand_total, account_id, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now(),now())
		RETURNING id
	`, refund.Date, refund.Title, refund.Description, refund.Discount, refund.Total, refund.GrandTotal, refund.AccountID).Scan(&id)
	if err != nil {
		return 0, mapWriteError(err)
	}

	if err := insertRefundItems(ctx, tx, id, refund.RefundItems); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}

	return id, nil
}

func (s *Store) UpdateRefund(ctx context.Context, id int64, refund domain.Refund) error {
	if len(refund.RefundItems) == 0 {
		return store.ErrValidation
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var existingID int64
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM refunds
		WHERE id = $1 AND deleted_at IS NULL
		FOR UPDATE
	`, id).Scan(&existingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}

	if err := verifyCatalogRefs(ctx, tx, refund.RefundItems); err != nil {
		return err
	}

	refund.RecomputeTotals()

	// Full replace: the old item set is hard-deleted, never diffed.
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM refund_items WHERE refund_id = $1
	`, id); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE refunds
		SET date = $2, title = $3, description = $4, discount = $5,
			total = $6, grand_total = $7, account_id = $8, updated_at = now()
		WHERE id = $1
	`, id, refund.Date, refund.Title, refund.Description, refund.Discount, refund.Total, refund.GrandTotal, refund.AccountID); err != nil {
		return mapWriteError(err)
	}

	if err := insertRefundItems(ctx, tx, id, refund.RefundItems); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) DeleteRefund(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE refunds
		SET deleted_at = now(), updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
	`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE refund_items
		SET deleted_at = now()
		WHERE refund_id = $1 AND deleted_at IS NULL
	`, id); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) GetRefund(ctx context.Context, id int64) (*domain.Refund, error) {
	var refund domain.Refund
	var title sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, date::text, title, COALESCE(description,''), discount, total, grand_total,
			account_id, created_at, updated_at
		FROM refunds
		WHERE id = $1 AND deleted_at IS NULL
	`, id).Scan(
		&refund.ID,
		&refund.Date,
		&title,
		&refund.Description,
		&refund.Discount,
		&refund.Total,
		&refund.GrandTotal,
		&refund.AccountID,
		&refund.CreatedAt,
		&refund.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if title.Valid {
		refund.Title = &title.String
	}
	refund.CreatedAt = refund.CreatedAt.UTC()
	refund.UpdatedAt = refund.UpdatedAt.UTC()

	itemsByRefund, err := s.loadRefundItems(ctx, []int64{refund.ID})
	if err != nil {
		return nil, err
	}
	refund.RefundItems = itemsByRefund[refund.ID]
	if refund.RefundItems == nil {
		refund.RefundItems = []domain.RefundItem{}
	}

	return &refund, nil
}

func (s *Store) ListRefunds(ctx context.Context, q string, page int, limit int) ([]domain.Refund, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}

	// One predicate group so the q match stays an OR across all four fields
	// and never narrows the deleted_at filter.
	pattern := "%" + q + "%"
	where := `
		deleted_at IS NULL
		AND (date::text ILIKE $1 OR description ILIKE $1 OR id::text ILIKE $1 OR title ILIKE $1)
	`

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM refunds WHERE `+where, pattern).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, date::text, title, COALESCE(description,''), discount, total, grand_total,
			account_id, created_at, updated_at
		FROM refunds
		WHERE `+where+`
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, pattern, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	refunds := make([]domain.Refund, 0, limit)
	ids := make([]int64, 0, limit)
	for rows.Next() {
		var refund domain.Refund
		var title sql.NullString
		if err := rows.Scan(
			&refund.ID,
			&refund.Date,
			&title,
			&refund.Description,
			&refund.Discount,
			&refund.Total,
			&refund.GrandTotal,
			&refund.AccountID,
			&refund.CreatedAt,
			&refund.UpdatedAt,
		); err != nil {
			return nil, 0, err
		}
		if title.Valid {
			refund.Title = &title.String
		}
		refund.CreatedAt = refund.CreatedAt.UTC()
		refund.UpdatedAt = refund.UpdatedAt.UTC()
		refund.RefundItems = []domain.RefundItem{}
		refunds = append(refunds, refund)
		ids = append(ids, refund.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	if len(ids) > 0 {
		itemsByRefund, err := s.loadRefundItems(ctx, ids)
		if err != nil {
			return nil, 0, err
		}
		for i := range refunds {
			if items, ok := itemsByRefund[refunds[i].ID]; ok {
				refunds[i].RefundItems = items
			}
		}
	}

	return refunds, total, nil
}

// loadRefundItems hydrates the non-deleted line items for the given refund
// ids, each joined with its catalog item and that item's unit.
func (s *Store) loadRefundItems(ctx context.Context, refundIDs []int64) (map[int64][]domain.RefundItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ri.id, ri.refund_id, ri.item_id, ri.price, ri.quantity, ri.discount, ri.total,
			i.name, i.unit_id, u.name
		FROM refund_items ri
		JOIN items i ON i.id = ri.item_id
		JOIN units u ON u.id = i.unit_id
		WHERE ri.refund_id = ANY($1) AND ri.deleted_at IS NULL
		ORDER BY ri.refund_id, ri.id
	`, refundIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[int64][]domain.RefundItem, len(refundIDs))
	for rows.Next() {
		var item domain.RefundItem
		var catalog domain.CatalogItem
		var unit domain.Unit
		if err := rows.Scan(
			&item.ID,
			&item.RefundID,
			&item.ItemID,
			&item.Price,
			&item.Quantity,
			&item.Discount,
			&item.Total,
			&catalog.Name,
			&catalog.UnitID,
			&unit.Name,
		); err != nil {
			return nil, err
		}
		catalog.ID = item.ItemID
		unit.ID = catalog.UnitID
		catalog.Unit = &unit
		item.Item = &catalog
		result[item.RefundID] = append(result[item.RefundID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Store) ListItems(ctx context.Context) ([]domain.CatalogItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.id, i.name, i.unit_id, u.name
		FROM items i
		JOIN units u ON u.id = i.unit_id
		ORDER BY i.name, i.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.CatalogItem, 0, 128)
	for rows.Next() {
		var item domain.CatalogItem
		var unit domain.Unit
		if err := rows.Scan(&item.ID, &item.Name, &item.UnitID, &unit.Name); err != nil {
			return nil, err
		}
		unit.ID = item.UnitID
		item.Unit = &unit
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, password, created_at
		FROM users
		WHERE email = $1
	`, email).Scan(&user.ID, &user.Email, &user.Password, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, email string, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2, updated_at = now() WHERE email = $1
	`, email, passwordHash)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// verifyCatalogRefs checks inside the transaction that every referenced
// item_id resolves in the catalog, so the check is snapshot-consistent with
// the item inserts that follow.
func verifyCatalogRefs(ctx context.Context, tx *sql.Tx, items []domain.RefundItem) error {
	ids := uniqueItemIDs(items)
	if len(ids) == 0 {
		return store.ErrValidation
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM items WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	found := make(map[int64]struct{}, len(ids))
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return err
		}
		found[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, id := range ids {
		if _, ok := found[id]; !ok {
			return store.ErrValidation
		}
	}
	return nil
}

func insertRefundItems(ctx context.Context, tx *sql.Tx, refundID int64, items []domain.RefundItem) error {
	for _, item := range items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO refund_items (refund_id, item_id, price, quantity, discount, total, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,now(),now())
		`, refundID, item.ItemID, item.Price, item.Quantity, item.Discount, item.Total); err != nil {
			return mapWriteError(err)
		}
	}
	return nil
}

func uniqueItemIDs(items []domain.RefundItem) []int64 {
	if len(items) == 0 {
		return nil
	}

	set := make(map[int64]struct{}, len(items))
	for _, item := range items {
		if item.ItemID == 0 {
			continue
		}
		set[item.ItemID] = struct{}{}
	}

	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// mapWriteError turns a foreign-key violation on item_id into a validation
// error; anything else stays a transaction failure for the caller.
func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return store.ErrValidation
	}
	return err
}
