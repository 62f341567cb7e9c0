package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/kart-commerce/internal/domain/auth"
	"github.com/xenking/kart-commerce/internal/domain/discount"
	"github.com/xenking/kart-commerce/internal/domain/product"
	"github.com/xenking/kart-commerce/internal/storage/postgres"
)

type productJSON struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
}

type options struct {
	databaseURL   string
	productsFile  string
	apiKey        string
	staffAPIKey   string
	apiKeyPepper  string
	discountYears int
}

func main() {
	_ = godotenv.Load()

	var opts options
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.StringVar(&opts.apiKey, "api-key", "", "customer API key to seed (or KART_SEED_API_KEY env)")
	flag.StringVar(&opts.staffAPIKey, "staff-api-key", "", "staff API key to seed (or KART_SEED_STAFF_API_KEY env)")
	flag.StringVar(&opts.apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or KART_API_KEY_PEPPER env)")
	flag.IntVar(&opts.discountYears, "discount-years", 1, "validity of seeded discounts in years")
	flag.Parse()

	lg, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	opts.databaseURL = orEnv(opts.databaseURL, "DATABASE_URL")
	opts.apiKey = orEnv(opts.apiKey, "KART_SEED_API_KEY")
	opts.staffAPIKey = orEnv(opts.staffAPIKey, "KART_SEED_STAFF_API_KEY")
	opts.apiKeyPepper = orEnv(opts.apiKeyPepper, "KART_API_KEY_PEPPER")

	if opts.databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}
	if opts.apiKey == "" {
		lg.Fatal("API key is required: set --api-key or KART_SEED_API_KEY")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, opts); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed successfully")
}

func orEnv(v, key string) string {
	if v != "" {
		return v
	}
	return os.Getenv(key)
}

func run(ctx context.Context, lg *zap.Logger, opts options) error {
	lg.Info("Connecting to database")

	pool, err := postgres.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	lg.Info("Running migrations")
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	catalog := postgres.NewCatalog(pool)

	if err := seedProducts(ctx, lg, catalog, opts.productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}
	if err := seedDiscounts(ctx, lg, catalog, time.Now(), opts.discountYears); err != nil {
		return errors.Wrap(err, "seed discounts")
	}

	keys := []auth.APIKeyInfo{{
		ID:     "default",
		Name:   "Default customer key",
		UserID: "customer",
		Scopes: []string{},
	}}
	if opts.staffAPIKey != "" {
		keys = append(keys, auth.APIKeyInfo{
			ID:     "staff",
			Name:   "Default staff key",
			UserID: "staff",
			Scopes: []string{auth.ScopeManageOrders},
		})
	}
	secrets := map[string]string{"default": opts.apiKey, "staff": opts.staffAPIKey}
	for _, k := range keys {
		k.KeyHash = auth.HashKey(secrets[k.ID], []byte(opts.apiKeyPepper))
		if err := catalog.UpsertAPIKey(ctx, k); err != nil {
			return errors.Wrap(err, "seed api key")
		}
		lg.Info("Upserted API key",
			zap.String("id", k.ID),
			zap.String("user_id", k.UserID),
			zap.Strings("scopes", k.Scopes),
		)
	}
	return nil
}

func seedProducts(ctx context.Context, lg *zap.Logger, catalog *postgres.Catalog, path string) error {
	lg.Info("Reading products file", zap.String("path", path))

	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read products file")
	}

	var products []productJSON
	if err := json.Unmarshal(data, &products); err != nil {
		return errors.Wrap(err, "parse products JSON")
	}

	lg.Info("Upserting products", zap.Int("count", len(products)))
	for _, p := range products {
		if err := catalog.UpsertProduct(ctx, product.Product{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			Category:    p.Category,
			Price:       p.Price,
			Stock:       p.Stock,
			Active:      true,
		}); err != nil {
			return err
		}
		lg.Debug("Upserted product",
			zap.String("id", p.ID),
			zap.String("name", p.Name),
			zap.Int("stock", p.Stock),
		)
	}
	return nil
}

func seedDiscounts(ctx context.Context, lg *zap.Logger, catalog *postgres.Catalog, now time.Time, years int) error {
	start := now.Add(-time.Hour)
	end := now.AddDate(max(years, 1), 0, 0)

	discounts := []discount.Discount{
		{
			Code:        "SAVE10",
			Description: "10% off orders over 20.00",
			Type:        discount.TypePercentage,
			Amount:      decimal.NewFromInt(10),
			MinPurchase: decimal.NewFromInt(20),
			MaxDiscount: decimal.NewNullDecimal(decimal.NewFromInt(50)),
		},
		{
			Code:        "WELCOME5",
			Description: "5.00 off the first order",
			Type:        discount.TypeFixed,
			Amount:      decimal.NewFromInt(5),
			UsageLimit:  1000,
		},
		{
			Code:        "HAPPYHOURS",
			Description: "Happy Hours: 18% off entire order",
			Type:        discount.TypePercentage,
			Amount:      decimal.NewFromInt(18),
		},
	}

	for i := range discounts {
		discounts[i].StartsAt = start
		discounts[i].EndsAt = end
		discounts[i].Active = true
	}
	if err := catalog.UpsertDiscounts(ctx, discounts); err != nil {
		return err
	}
	for _, d := range discounts {
		lg.Info("Upserted discount",
			zap.String("code", d.Code),
			zap.String("description", d.Description),
			zap.Time("ends_at", d.EndsAt),
		)
	}
	return nil
}
