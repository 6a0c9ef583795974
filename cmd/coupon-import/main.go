// Command coupon-import loads coupon campaigns from gzip-compressed JSON
// lines files, one coupon per line.
//
//	coupon-import -database-url=... campaigns/*.jsonl.gz
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/martok-store/internal/storage/postgres"
)

func main() {
	var (
		databaseURL string
		opts        importOptions
	)
	flag.StringVar(&databaseURL, "database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection URL")
	flag.BoolVar(&opts.Update, "update", false, "replace rules of codes that already exist")
	flag.IntVar(&opts.BatchSize, "batch-size", 500, "coupons per database batch")
	flag.Parse()

	lg, _ := zap.NewDevelopment()
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}
	if flag.NArg() == 0 {
		lg.Fatal("No input files")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, flag.Args(), opts); err != nil {
		lg.Fatal("Coupon import failed", zap.Error(err))
	}
}

func run(ctx context.Context, lg *zap.Logger, databaseURL string, files []string, opts importOptions) error {
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	stats, err := newImporter(postgres.NewCouponRepository(pool), lg, opts).Import(ctx, files)
	if err != nil {
		return err
	}
	lg.Info("Coupon import completed",
		zap.Int("read", stats.Read),
		zap.Int("written", stats.Written),
		zap.Int("duplicates", stats.Duplicates),
		zap.Int("existing", stats.Existing),
		zap.Int("invalid", stats.Invalid),
	)
	return nil
}
