// Command seed-db loads the demo catalog, coupons and API keys.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/martok-store/internal/domain/auth"
	"github.com/xenking/martok-store/internal/domain/coupon"
	"github.com/xenking/martok-store/internal/domain/product"
	"github.com/xenking/martok-store/internal/storage/postgres"
)

type catalog struct {
	Products []productJSON `json:"products"`
	Coupons  []couponJSON  `json:"coupons"`
}

type productJSON struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Image    string          `json:"image"`
	Price    decimal.Decimal `json:"price"`
	Discount struct {
		Active     bool            `json:"active"`
		Percentage decimal.Decimal `json:"percentage"`
		Amount     decimal.Decimal `json:"amount"`
	} `json:"discount"`
	Stock int `json:"stock"`
}

type couponJSON struct {
	Code               string          `json:"code"`
	Description        string          `json:"description"`
	Type               string          `json:"type"`
	Value              decimal.Decimal `json:"value"`
	MinimumOrderAmount decimal.Decimal `json:"minimumOrderAmount"`
	MaximumDiscount    decimal.Decimal `json:"maximumDiscount"`
	UsageLimit         int             `json:"usageLimit"`
	UserUsageLimit     int             `json:"userUsageLimit"`
	ValidDays          int             `json:"validDays"`
}

type options struct {
	databaseURL string
	catalogFile string
	pepper      string
	customerKey string
	adminKey    string
}

func main() {
	var opts options
	flag.StringVar(&opts.databaseURL, "database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection URL")
	flag.StringVar(&opts.catalogFile, "catalog", "db/seed/catalog.json", "path to the catalog JSON file")
	flag.StringVar(&opts.pepper, "api-key-pepper", os.Getenv("MARTOK_API_KEY_PEPPER"), "HMAC pepper for API key hashing")
	flag.StringVar(&opts.customerKey, "customer-key", os.Getenv("MARTOK_SEED_CUSTOMER_KEY"), "demo customer API key to seed")
	flag.StringVar(&opts.adminKey, "admin-key", os.Getenv("MARTOK_SEED_ADMIN_KEY"), "operator API key to seed")
	flag.Parse()

	lg, _ := zap.NewDevelopment()
	defer func() { _ = lg.Sync() }()

	if opts.databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}
	if opts.pepper == "" {
		lg.Fatal("API key pepper is required: set --api-key-pepper or MARTOK_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, opts); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed")
}

func run(ctx context.Context, lg *zap.Logger, opts options) error {
	data, err := os.ReadFile(opts.catalogFile)
	if err != nil {
		return errors.Wrap(err, "read catalog")
	}
	var c catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return errors.Wrap(err, "parse catalog")
	}

	pool, err := postgres.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := postgres.NewProductRepository(pool).Upsert(ctx, toProducts(c.Products)); err != nil {
		return errors.Wrap(err, "seed products")
	}
	lg.Info("Upserted products", zap.Int("count", len(c.Products)))

	coupons, err := toCoupons(c.Coupons, time.Now())
	if err != nil {
		return err
	}
	if err := postgres.NewCouponRepository(pool).Upsert(ctx, coupons); err != nil {
		return errors.Wrap(err, "seed coupons")
	}
	lg.Info("Upserted coupons", zap.Int("count", len(coupons)))

	return seedKeys(ctx, lg, pool, opts)
}

func toProducts(in []productJSON) []product.Product {
	out := make([]product.Product, len(in))
	for i, p := range in {
		out[i] = product.Product{
			ID:    p.ID,
			Name:  p.Name,
			Image: p.Image,
			Price: p.Price,
			Discount: product.Discount{
				Active:     p.Discount.Active,
				Percentage: p.Discount.Percentage,
				Amount:     p.Discount.Amount,
			},
			Stock:  p.Stock,
			Active: true,
		}
	}
	return out
}

func toCoupons(in []couponJSON, now time.Time) ([]coupon.Coupon, error) {
	out := make([]coupon.Coupon, len(in))
	for i, c := range in {
		t := coupon.DiscountType(c.Type)
		if t != coupon.DiscountPercentage && t != coupon.DiscountFixed {
			return nil, errors.Errorf("coupon %s: unknown type %q", c.Code, c.Type)
		}
		out[i] = coupon.Coupon{
			Code:               c.Code,
			Description:        c.Description,
			Type:               t,
			Value:              c.Value,
			MinimumOrderAmount: c.MinimumOrderAmount,
			MaximumDiscount:    c.MaximumDiscount,
			StartDate:          now.Add(-time.Hour),
			EndDate:            now.AddDate(0, 0, c.ValidDays),
			UsageLimit:         c.UsageLimit,
			UserUsageLimit:     c.UserUsageLimit,
			Active:             true,
		}
	}
	return out, nil
}

func seedKeys(ctx context.Context, lg *zap.Logger, pool *pgxpool.Pool, opts options) error {
	repo := postgres.NewAPIKeyRepository(pool)
	keys := []struct {
		key  string
		info auth.APIKeyInfo
	}{
		{opts.customerKey, auth.APIKeyInfo{
			ID:            "demo-customer",
			Name:          "Demo customer",
			CustomerID:    "cust-demo",
			CustomerName:  "Demo Customer",
			CustomerEmail: "demo@martok.example",
			CustomerPhone: "+919800000000",
		}},
		{opts.adminKey, auth.APIKeyInfo{
			ID:           "operator",
			Name:         "Store operator",
			Scopes:       []string{auth.ScopeAdmin},
			CustomerID:   "operator",
			CustomerName: "Store Operator",
		}},
	}
	for _, k := range keys {
		if k.key == "" {
			lg.Info("Skipping API key without a value", zap.String("id", k.info.ID))
			continue
		}
		k.info.KeyHash = auth.HashKey([]byte(opts.pepper), k.key)
		if err := repo.Upsert(ctx, k.info); err != nil {
			return errors.Wrapf(err, "seed api key %s", k.info.ID)
		}
		lg.Info("Upserted API key", zap.String("id", k.info.ID), zap.Strings("scopes", k.info.Scopes))
	}
	return nil
}
