package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"slices"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/storage/postgres"
)

func main() {
	var (
		dataDir     string
		pattern     string
		databaseURL string
		opts        ingestOptions
	)
	flag.StringVar(&dataDir, "data-dir", "data", "directory containing coupon files")
	flag.StringVar(&pattern, "pattern", "*.csv.gz", "glob of coupon files inside data-dir; earlier names win on duplicate codes")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.UintVar(&opts.expectedCodes, "expected-codes", 1_000_000, "expected codes per file, sizes the bloom filters")
	flag.Float64Var(&opts.falsePositiveRate, "fpr", 0.001, "bloom filter false positive rate")
	flag.IntVar(&opts.batchSize, "batch", 500, "coupons upserted per transaction")
	flag.IntVar(&opts.workers, "workers", 4, "files written concurrently")
	flag.Parse()

	lg, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, filepath.Join(dataDir, pattern), databaseURL, opts); err != nil {
		lg.Fatal("Coupon ingest failed", zap.Error(err))
	}
	lg.Info("Coupon ingest completed")
}

func run(ctx context.Context, lg *zap.Logger, glob, databaseURL string, opts ingestOptions) error {
	files, err := filepath.Glob(glob)
	if err != nil {
		return errors.Wrap(err, "glob coupon files")
	}
	if len(files) == 0 {
		return errors.Errorf("no files match %s", glob)
	}
	slices.Sort(files)

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()
	db := postgres.NewDB(pool)

	stats, err := ingest(ctx, lg, files, db, postgres.NewCouponRepository(db), opts)
	if err != nil {
		return err
	}
	lg.Info("Ingest summary",
		zap.Int("files", len(files)),
		zap.Int("written", stats.written),
		zap.Int("shadowed", stats.shadowed),
		zap.Int("invalid", stats.invalid),
	)
	return nil
}
