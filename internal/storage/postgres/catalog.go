package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-commerce/internal/domain/auth"
	"github.com/xenking/kart-commerce/internal/domain/discount"
	"github.com/xenking/kart-commerce/internal/domain/product"
)

const (
	upsertProductSQL = `INSERT INTO products (id, name, description, category, price, stock, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			category = EXCLUDED.category,
			price = EXCLUDED.price,
			stock = EXCLUDED.stock,
			active = EXCLUDED.active,
			updated_at = now()`

	// times_used is owned by checkout and is never overwritten.
	upsertDiscountSQL = `INSERT INTO discounts (
			id, code, description, discount_type, amount, starts_at, ends_at,
			min_purchase, max_discount, usage_limit, active
		) VALUES ($1, UPPER($2), $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (code) DO UPDATE SET
			description = EXCLUDED.description,
			discount_type = EXCLUDED.discount_type,
			amount = EXCLUDED.amount,
			starts_at = EXCLUDED.starts_at,
			ends_at = EXCLUDED.ends_at,
			min_purchase = EXCLUDED.min_purchase,
			max_discount = EXCLUDED.max_discount,
			usage_limit = EXCLUDED.usage_limit,
			active = EXCLUDED.active`

	upsertAPIKeySQL = `INSERT INTO api_keys (id, key_hash, name, user_id, scopes, active)
		VALUES ($1, $2, $3, $4, $5, TRUE)
		ON CONFLICT (id) DO UPDATE SET
			key_hash = EXCLUDED.key_hash,
			name = EXCLUDED.name,
			user_id = EXCLUDED.user_id,
			scopes = EXCLUDED.scopes,
			active = TRUE`
)

// Catalog writes products, discounts and API keys for seeding and bulk
// imports. The request path never uses it.
type Catalog struct {
	pool *pgxpool.Pool
}

// NewCatalog returns a Catalog that uses the given pool.
func NewCatalog(pool *pgxpool.Pool) *Catalog {
	return &Catalog{pool: pool}
}

// UpsertProduct inserts p or replaces every field of the existing product,
// including its stock level.
func (c *Catalog) UpsertProduct(ctx context.Context, p product.Product) error {
	_, err := c.pool.Exec(ctx, upsertProductSQL,
		p.ID, p.Name, p.Description, p.Category, p.Price, p.Stock, p.Active,
	)
	if err != nil {
		return fmt.Errorf("upserting product %q: %w", p.ID, err)
	}
	return nil
}

// UpsertDiscount inserts d or updates the rules of the discount with the
// same code. A missing ID is generated.
func (c *Catalog) UpsertDiscount(ctx context.Context, d discount.Discount) error {
	return c.UpsertDiscounts(ctx, []discount.Discount{d})
}

// UpsertDiscounts upserts ds in a single round trip.
func (c *Catalog) UpsertDiscounts(ctx context.Context, ds []discount.Discount) error {
	if len(ds) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, d := range ds {
		if d.ID == "" {
			d.ID = uuid.NewString()
		}
		batch.Queue(upsertDiscountSQL,
			d.ID, d.Code, d.Description, string(d.Type), d.Amount, d.StartsAt, d.EndsAt,
			d.MinPurchase, d.MaxDiscount, d.UsageLimit, d.Active,
		)
	}

	if err := c.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upserting %d discounts: %w", len(ds), err)
	}
	return nil
}

// UpsertAPIKey stores an API key record and activates it.
func (c *Catalog) UpsertAPIKey(ctx context.Context, k auth.APIKeyInfo) error {
	scopes := k.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	_, err := c.pool.Exec(ctx, upsertAPIKeySQL, k.ID, k.KeyHash, k.Name, k.UserID, scopes)
	if err != nil {
		return fmt.Errorf("upserting api key %q: %w", k.ID, err)
	}
	return nil
}
