package main

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-commerce/internal/domain/discount"
)

const (
	bloomCapacity = 1_000_000
	bloomFPR      = 0.001
	progressEvery = 100_000
)

var requiredColumns = []string{"code", "type", "amount", "starts_at", "ends_at"}

// parsedFile holds the discounts of one file keyed by upper-case code, and a
// bloom filter over the same codes.
type parsedFile struct {
	path      string
	discounts map[string]discount.Discount
	order     []string
	filter    *bloom.BloomFilter
}

// parseFiles parses every file concurrently.
func parseFiles(ctx context.Context, lg *zap.Logger, files []string) ([]*parsedFile, error) {
	parsed := make([]*parsedFile, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			f, err := parseFile(ctx, lg, path)
			if err != nil {
				return errors.Wrapf(err, "parse %s", path)
			}
			parsed[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return parsed, nil
}

func parseFile(ctx context.Context, lg *zap.Logger, path string) (*parsedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open")
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return nil, errors.Wrap(err, "create gzip reader")
	}
	defer func() { _ = gz.Close() }()

	out, err := parseCSV(ctx, gz)
	if err != nil {
		return nil, err
	}
	out.path = path
	lg.Info("File parsed", zap.String("path", path), zap.Int("codes", len(out.discounts)))
	return out, nil
}

func parseCSV(ctx context.Context, r io.Reader) (*parsedFile, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			return nil, errors.Errorf("missing column %q", name)
		}
	}

	out := &parsedFile{
		discounts: make(map[string]discount.Discount),
		filter:    bloom.NewWithEstimates(bloomCapacity, bloomFPR),
	}
	for line := 2; ; line++ {
		if line%progressEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}

		d, err := parseRecord(cols, rec)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		if _, seen := out.discounts[d.Code]; !seen {
			out.order = append(out.order, d.Code)
		}
		out.discounts[d.Code] = d
		out.filter.AddString(d.Code)
	}
	return out, nil
}

func parseRecord(cols map[string]int, rec []string) (discount.Discount, error) {
	get := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	d := discount.Discount{
		Code:        strings.ToUpper(get("code")),
		Description: get("description"),
		Type:        discount.Type(strings.ToLower(get("type"))),
		Active:      true,
	}
	if d.Code == "" {
		return d, errors.New("empty code")
	}
	if !d.Type.Valid() {
		return d, errors.Errorf("%s: unknown type %q", d.Code, d.Type)
	}

	var err error
	if d.Amount, err = decimal.NewFromString(get("amount")); err != nil {
		return d, errors.Wrapf(err, "%s: amount", d.Code)
	}
	if d.Amount.IsNegative() {
		return d, errors.Errorf("%s: negative amount", d.Code)
	}
	if d.StartsAt, err = time.Parse(time.RFC3339, get("starts_at")); err != nil {
		return d, errors.Wrapf(err, "%s: starts_at", d.Code)
	}
	if d.EndsAt, err = time.Parse(time.RFC3339, get("ends_at")); err != nil {
		return d, errors.Wrapf(err, "%s: ends_at", d.Code)
	}
	if d.EndsAt.Before(d.StartsAt) {
		return d, errors.Errorf("%s: ends before it starts", d.Code)
	}
	if v := get("min_purchase"); v != "" {
		if d.MinPurchase, err = decimal.NewFromString(v); err != nil {
			return d, errors.Wrapf(err, "%s: min_purchase", d.Code)
		}
	}
	if v := get("max_discount"); v != "" {
		limit, err := decimal.NewFromString(v)
		if err != nil {
			return d, errors.Wrapf(err, "%s: max_discount", d.Code)
		}
		d.MaxDiscount = decimal.NewNullDecimal(limit)
	}
	if v := get("usage_limit"); v != "" {
		if d.UsageLimit, err = strconv.Atoi(v); err != nil || d.UsageLimit < 0 {
			return d, errors.Errorf("%s: invalid usage_limit %q", d.Code, v)
		}
	}
	if v := get("active"); v != "" {
		if d.Active, err = strconv.ParseBool(v); err != nil {
			return d, errors.Wrapf(err, "%s: active", d.Code)
		}
	}
	return d, nil
}

// resolve merges the files. Codes that another file's bloom filter may
// contain are checked exactly; confirmed cross-file duplicates are returned
// separately, sorted by first appearance.
func resolve(files []*parsedFile) ([]discount.Discount, []string) {
	var (
		out        []discount.Discount
		duplicates []string
		dup        = make(map[string]bool)
	)
	for i, f := range files {
		for _, code := range f.order {
			for j, other := range files {
				if i == j || !other.filter.TestString(code) {
					continue
				}
				if _, ok := other.discounts[code]; ok {
					if !dup[code] {
						duplicates = append(duplicates, code)
					}
					dup[code] = true
					break
				}
			}
		}
	}
	for _, f := range files {
		for _, code := range f.order {
			if !dup[code] {
				out = append(out, f.discounts[code])
			}
		}
	}
	return out, duplicates
}
