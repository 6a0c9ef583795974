package main

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/martok-store/internal/domain/coupon"
)

const (
	filterCapacity = 1_000_000
	filterFPR      = 0.001
	maxLineBytes   = 64 << 10
)

// store is the part of the coupon repository the importer uses.
type store interface {
	FindByCode(ctx context.Context, code string) (*coupon.Coupon, error)
	ListCodes(ctx context.Context) ([]string, error)
	Upsert(ctx context.Context, coupons []coupon.Coupon) error
}

type importOptions struct {
	// Update replaces rules of existing codes instead of skipping them.
	Update    bool
	BatchSize int
}

type importStats struct {
	Read       int
	Written    int
	Duplicates int
	Existing   int
	Invalid    int
}

type record struct {
	Code               string          `json:"code"`
	Description        string          `json:"description"`
	Type               string          `json:"type"`
	Value              decimal.Decimal `json:"value"`
	MinimumOrderAmount decimal.Decimal `json:"minimumOrderAmount"`
	MaximumDiscount    decimal.Decimal `json:"maximumDiscount"`
	StartDate          time.Time       `json:"startDate"`
	EndDate            time.Time       `json:"endDate"`
	UsageLimit         int             `json:"usageLimit"`
	UserUsageLimit     int             `json:"userUsageLimit"`
	Active             *bool           `json:"active"`
}

func (r record) toCoupon() (coupon.Coupon, error) {
	c := coupon.Coupon{
		Code:               coupon.NormalizeCode(r.Code),
		Description:        r.Description,
		Type:               coupon.DiscountType(r.Type),
		Value:              r.Value,
		MinimumOrderAmount: r.MinimumOrderAmount,
		MaximumDiscount:    r.MaximumDiscount,
		StartDate:          r.StartDate,
		EndDate:            r.EndDate,
		UsageLimit:         r.UsageLimit,
		UserUsageLimit:     r.UserUsageLimit,
		Active:             r.Active == nil || *r.Active,
	}
	switch {
	case c.Code == "":
		return c, errors.New("empty code")
	case c.Type != coupon.DiscountPercentage && c.Type != coupon.DiscountFixed:
		return c, errors.Errorf("unknown type %q", r.Type)
	case !c.Value.IsPositive():
		return c, errors.New("value must be positive")
	case c.Type == coupon.DiscountPercentage && c.Value.GreaterThan(decimal.NewFromInt(100)):
		return c, errors.New("percentage above 100")
	case c.EndDate.IsZero() || !c.EndDate.After(c.StartDate):
		return c, errors.New("end date must be after start date")
	case c.UsageLimit < 0 || c.UserUsageLimit < 0:
		return c, errors.New("negative usage limit")
	}
	return c, nil
}

type importer struct {
	store store
	lg    *zap.Logger
	opts  importOptions
}

func newImporter(s store, lg *zap.Logger, opts importOptions) *importer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	return &importer{store: s, lg: lg, opts: opts}
}

// Import reads every file concurrently and writes valid coupons in batches.
// A code repeated across files is imported once. Existing codes are found
// through a bloom filter of the stored codes, confirmed by a lookup.
func (im *importer) Import(ctx context.Context, files []string) (importStats, error) {
	var stats importStats

	existing := coupon.NewCodeFilter(filterCapacity, filterFPR)
	if !im.opts.Update {
		codes, err := im.store.ListCodes(ctx)
		if err != nil {
			return stats, errors.Wrap(err, "list coupon codes")
		}
		existing.Rebuild(codes)
	}

	g, ctx := errgroup.WithContext(ctx)
	records := make(chan coupon.Coupon, im.opts.BatchSize)

	readers, rctx := errgroup.WithContext(ctx)
	invalid := make([]int, len(files))
	read := make([]int, len(files))
	for i, path := range files {
		readers.Go(func() error {
			return im.readFile(rctx, path, records, &read[i], &invalid[i])
		})
	}
	g.Go(func() error {
		defer close(records)
		return readers.Wait()
	})

	g.Go(func() error {
		seen := make(map[string]struct{})
		batch := make([]coupon.Coupon, 0, im.opts.BatchSize)
		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			if err := im.store.Upsert(ctx, batch); err != nil {
				return errors.Wrap(err, "upsert batch")
			}
			stats.Written += len(batch)
			im.lg.Debug("Batch written", zap.Int("size", len(batch)), zap.Int("written", stats.Written))
			batch = batch[:0]
			return nil
		}

		for c := range records {
			if _, dup := seen[c.Code]; dup {
				stats.Duplicates++
				continue
			}
			seen[c.Code] = struct{}{}

			if !im.opts.Update && existing.MayContain(c.Code) {
				_, err := im.store.FindByCode(ctx, c.Code)
				switch {
				case err == nil:
					stats.Existing++
					continue
				case !errors.Is(err, coupon.ErrNotFound):
					return errors.Wrapf(err, "check coupon %s", c.Code)
				}
			}

			batch = append(batch, c)
			if len(batch) == cap(batch) {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		return flush()
	})

	if err := g.Wait(); err != nil {
		return stats, err
	}
	for i := range files {
		stats.Read += read[i]
		stats.Invalid += invalid[i]
	}
	return stats, nil
}

// readFile streams one gzip JSON lines file into out.
func (im *importer) readFile(ctx context.Context, path string, out chan<- coupon.Coupon, read, invalid *int) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	lg := im.lg.With(zap.String("file", path))
	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 4096), maxLineBytes)
	for line := 1; scanner.Scan(); line++ {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		*read++

		var r record
		if err := json.Unmarshal(raw, &r); err != nil {
			*invalid++
			lg.Warn("Skipping malformed line", zap.Int("line", line), zap.Error(err))
			continue
		}
		c, err := r.toCoupon()
		if err != nil {
			*invalid++
			lg.Warn("Skipping invalid coupon", zap.Int("line", line), zap.String("code", r.Code), zap.Error(err))
			continue
		}

		select {
		case out <- c:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	lg.Info("File read", zap.Int("lines", *read), zap.Int("invalid", *invalid))
	return nil
}
