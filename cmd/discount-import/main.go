// Command discount-import bulk loads discount codes from gzip compressed CSV
// files.
//
// Every file starts with a header row naming its columns:
//
//	code,type,amount,starts_at,ends_at[,min_purchase,max_discount,usage_limit,description,active]
//
// Timestamps are RFC 3339. A code defined in more than one file is ambiguous
// and skipped; inside one file the last row wins.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"slices"

	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/xenking/kart-commerce/internal/domain/discount"
	"github.com/xenking/kart-commerce/internal/storage/postgres"
)

func main() {
	_ = godotenv.Load()

	var (
		dataDir     string
		pattern     string
		databaseURL string
		batchSize   int
		dryRun      bool
	)
	flag.StringVar(&dataDir, "data-dir", "data", "directory containing discount files")
	flag.StringVar(&pattern, "pattern", "*.csv.gz", "glob of discount files inside data-dir")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&batchSize, "batch-size", 500, "discounts per database round trip")
	flag.BoolVar(&dryRun, "dry-run", false, "parse and validate only")
	flag.Parse()

	lg, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" && !dryRun {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	files, err := filepath.Glob(filepath.Join(dataDir, pattern))
	if err != nil {
		lg.Fatal("Invalid pattern", zap.Error(err))
	}
	slices.Sort(files)

	if err := run(ctx, lg, files, databaseURL, batchSize, dryRun); err != nil {
		lg.Fatal("Discount import failed", zap.Error(err))
	}
	lg.Info("Discount import completed successfully")
}

func run(ctx context.Context, lg *zap.Logger, files []string, databaseURL string, batchSize int, dryRun bool) error {
	if len(files) == 0 {
		return errors.New("no discount files found")
	}

	lg.Info("Parsing files", zap.Int("files", len(files)))
	parsed, err := parseFiles(ctx, lg, files)
	if err != nil {
		return errors.Wrap(err, "parse files")
	}

	discounts, duplicates := resolve(parsed)
	for _, code := range duplicates {
		lg.Warn("Skipping code defined in several files", zap.String("code", code))
	}
	lg.Info("Discounts resolved",
		zap.Int("valid", len(discounts)),
		zap.Int("duplicates", len(duplicates)),
	)

	if dryRun || len(discounts) == 0 {
		return nil
	}

	lg.Info("Connecting to database")
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	return write(ctx, lg, postgres.NewCatalog(pool), discounts, batchSize)
}

// discountWriter is implemented by *postgres.Catalog.
type discountWriter interface {
	UpsertDiscounts(ctx context.Context, ds []discount.Discount) error
}

func write(ctx context.Context, lg *zap.Logger, w discountWriter, ds []discount.Discount, batchSize int) error {
	batchSize = max(batchSize, 1)
	written := 0
	for batch := range slices.Chunk(ds, batchSize) {
		if err := w.UpsertDiscounts(ctx, batch); err != nil {
			return errors.Wrapf(err, "write discounts %d..%d", written, written+len(batch))
		}
		written += len(batch)
		lg.Info("Write progress", zap.Int("written", written), zap.Int("total", len(ds)))
	}
	return nil
}
