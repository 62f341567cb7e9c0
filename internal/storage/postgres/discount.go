package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-commerce/internal/domain/discount"
)

const (
	discountColumns = `id, code, description, discount_type, amount, starts_at, ends_at,
		min_purchase, max_discount, usage_limit, times_used, active`

	getDiscountByCodeSQL = `SELECT ` + discountColumns + `
		FROM discounts WHERE code = UPPER($1)`

	incrementDiscountUsageSQL = `UPDATE discounts SET times_used = times_used + 1
		WHERE id = $1 AND (usage_limit = 0 OR times_used < usage_limit)`
)

var _ discount.Repository = (*DiscountRepository)(nil)

// DiscountRepository implements discount.Repository backed by PostgreSQL.
type DiscountRepository struct {
	pool *pgxpool.Pool
}

// NewDiscountRepository returns a DiscountRepository that uses the given pool.
func NewDiscountRepository(pool *pgxpool.Pool) *DiscountRepository {
	return &DiscountRepository{pool: pool}
}

// FindByCode looks up a discount by its code (case-insensitive).
// Returns discount.ErrInvalidCode when no matching discount exists.
func (r *DiscountRepository) FindByCode(ctx context.Context, code string) (*discount.Discount, error) {
	return discountByCode(ctx, r.pool, code)
}

func discountByCode(ctx context.Context, q querier, code string) (*discount.Discount, error) {
	rows, err := q.Query(ctx, getDiscountByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding discount by code %q: %w", code, err)
	}

	d, err := pgx.CollectExactlyOneRow(rows, scanDiscount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, discount.ErrInvalidCode
		}
		return nil, fmt.Errorf("finding discount by code %q: %w", code, err)
	}
	return &d, nil
}

func scanDiscount(row pgx.CollectableRow) (discount.Discount, error) {
	var (
		d   discount.Discount
		typ string
	)
	err := row.Scan(
		&d.ID, &d.Code, &d.Description, &typ, &d.Amount, &d.StartsAt, &d.EndsAt,
		&d.MinPurchase, &d.MaxDiscount, &d.UsageLimit, &d.TimesUsed, &d.Active,
	)
	d.Type = discount.Type(typ)
	return d, err
}
