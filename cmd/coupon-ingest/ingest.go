package main

import (
	"context"
	"encoding/csv"
	"io"
	"math/bits"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/pricing"
)

// maxFiles bounds the per-code file bitmask.
const maxFiles = bits.UintSize

// columns of a coupon file. The header row is required; unknown columns are
// ignored.
const (
	colCode           = "code"
	colType           = "type"
	colValue          = "value"
	colDescription    = "description"
	colMinSubtotal    = "min_subtotal"
	colMaxUses        = "max_uses"
	colMaxUsesPerUser = "max_uses_per_user"
	colStartsAt       = "starts_at"
	colEndsAt         = "ends_at"
)

type ingestOptions struct {
	expectedCodes     uint
	falsePositiveRate float64
	batchSize         int
	workers           int
}

type transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type upserter interface {
	Upsert(ctx context.Context, c *coupon.Coupon) error
}

type ingestStats struct {
	written  int
	shadowed int
	invalid  int
}

// ingest imports coupon files in three passes:
//  1. build one bloom filter of codes per file, concurrently;
//  2. re-scan every file and record, for each code that may also exist in
//     another file, the exact set of files containing it;
//  3. upsert every valid row unless an earlier file owns the same code.
//
// Codes compare case-insensitively. Within a file the last row wins.
func ingest(ctx context.Context, lg *zap.Logger, files []string, tx transactor, repo upserter, opts ingestOptions) (ingestStats, error) {
	if len(files) > maxFiles {
		return ingestStats{}, errors.Errorf("at most %d files per run, got %d", maxFiles, len(files))
	}

	lg.Info("Pass 1: building bloom filters", zap.Int("files", len(files)))
	filters, err := buildFilters(ctx, lg, files, opts)
	if err != nil {
		return ingestStats{}, errors.Wrap(err, "build bloom filters")
	}

	lg.Info("Pass 2: locating codes shared between files")
	shared, err := findShared(ctx, files, filters)
	if err != nil {
		return ingestStats{}, errors.Wrap(err, "find shared codes")
	}
	lg.Info("Shared codes found", zap.Int("count", len(shared)))

	lg.Info("Pass 3: writing coupons")
	return writeFiles(ctx, lg, files, shared, tx, repo, opts)
}

func buildFilters(ctx context.Context, lg *zap.Logger, files []string, opts ingestOptions) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(opts.expectedCodes, opts.falsePositiveRate)
			var count int
			err := scanCodes(ctx, path, func(code string) {
				filter.AddString(code)
				count++
			})
			if err != nil {
				return err
			}
			lg.Info("Filter built", zap.String("file", path), zap.Int("codes", count))
			filters[i] = filter
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// findShared returns a bitmask of containing files for every code that may
// appear in more than one file. Bloom filters have no false negatives, so
// every file holding a shared code reports it and the masks are exact.
func findShared(ctx context.Context, files []string, filters []*bloom.BloomFilter) (map[string]uint, error) {
	var (
		mu     sync.Mutex
		shared = make(map[string]uint)
	)

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			local := make(map[string]uint)
			bit := uint(1) << uint(i)
			err := scanCodes(ctx, path, func(code string) {
				for j, f := range filters {
					if j != i && f.TestString(code) {
						local[code] |= bit
						return
					}
				}
			})
			if err != nil {
				return err
			}

			mu.Lock()
			for code, mask := range local {
				shared[code] |= mask
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for code, mask := range shared {
		if bits.OnesCount(mask) < 2 {
			delete(shared, code)
		}
	}
	return shared, nil
}

// owner returns the index of the earliest file holding code, or -1 when the
// code is unique to one file.
func owner(shared map[string]uint, code string) int {
	mask, ok := shared[code]
	if !ok {
		return -1
	}
	return bits.TrailingZeros(mask)
}

func writeFiles(ctx context.Context, lg *zap.Logger, files []string, shared map[string]uint, tx transactor, repo upserter, opts ingestOptions) (ingestStats, error) {
	var (
		mu    sync.Mutex
		total ingestStats
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.workers, 1))
	for i, path := range files {
		g.Go(func() error {
			stats, err := writeFile(ctx, lg, i, path, shared, tx, repo, max(opts.batchSize, 1))
			if err != nil {
				return errors.Wrapf(err, "write %s", path)
			}
			lg.Info("File written",
				zap.String("file", path),
				zap.Int("written", stats.written),
				zap.Int("shadowed", stats.shadowed),
				zap.Int("invalid", stats.invalid),
			)

			mu.Lock()
			total.written += stats.written
			total.shadowed += stats.shadowed
			total.invalid += stats.invalid
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	return total, err
}

func writeFile(ctx context.Context, lg *zap.Logger, idx int, path string, shared map[string]uint, tx transactor, repo upserter, batchSize int) (ingestStats, error) {
	var (
		stats ingestStats
		batch = make([]*coupon.Coupon, 0, batchSize)
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := tx.InTx(ctx, func(ctx context.Context) error {
			for _, c := range batch {
				if err := repo.Upsert(ctx, c); err != nil {
					return errors.Wrapf(err, "upsert %s", c.Code)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		stats.written += len(batch)
		batch = batch[:0]
		return nil
	}

	err := scanRows(ctx, path, func(line int, row *rowReader) error {
		c, err := row.coupon()
		if err != nil {
			stats.invalid++
			lg.Warn("Skipping invalid row", zap.String("file", path), zap.Int("line", line), zap.Error(err))
			return nil
		}
		if o := owner(shared, c.Code); o >= 0 && o != idx {
			stats.shadowed++
			return nil
		}
		batch = append(batch, c)
		if len(batch) == batchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return stats, err
	}
	if err := flush(); err != nil {
		return stats, err
	}
	return stats, nil
}

// openCSV opens a gzip-compressed CSV file and reads its header.
func openCSV(path string) (*csv.Reader, map[string]int, func(), error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, nil, errors.Wrapf(err, "open %s", path)
	}
	gz, err := pgzip.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, nil, nil, errors.Wrapf(err, "create gzip reader for %s", path)
	}
	closeFn := func() {
		_ = gz.Close()
		_ = f.Close()
	}

	r := csv.NewReader(gz)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	r.ReuseRecord = true

	header, err := r.Read()
	if err != nil {
		closeFn()
		return nil, nil, nil, errors.Wrapf(err, "read header of %s", path)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := cols[colCode]; !ok {
		closeFn()
		return nil, nil, nil, errors.Errorf("%s: header has no %q column", path, colCode)
	}
	return r, cols, closeFn, nil
}

func scanRows(ctx context.Context, path string, fn func(line int, row *rowReader) error) error {
	r, cols, closeFn, err := openCSV(path)
	if err != nil {
		return err
	}
	defer closeFn()

	row := &rowReader{cols: cols}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "read %s", path)
		}
		row.rec = rec
		line, _ := r.FieldPos(0)
		if err := fn(line, row); err != nil {
			return err
		}
	}
}

// scanCodes calls fn with the normalized code of every row.
func scanCodes(ctx context.Context, path string, fn func(code string)) error {
	return scanRows(ctx, path, func(_ int, row *rowReader) error {
		if code := row.code(); code != "" {
			fn(code)
		}
		return nil
	})
}

type rowReader struct {
	cols map[string]int
	rec  []string
}

func (r *rowReader) get(col string) string {
	i, ok := r.cols[col]
	if !ok || i >= len(r.rec) {
		return ""
	}
	return strings.TrimSpace(r.rec[i])
}

func (r *rowReader) code() string {
	return strings.ToUpper(r.get(colCode))
}

// coupon parses the row. Type defaults to percent; an empty value is an
// error.
func (r *rowReader) coupon() (*coupon.Coupon, error) {
	c := &coupon.Coupon{
		Code:        r.code(),
		Type:        pricing.DiscountType(strings.ToLower(r.get(colType))),
		Description: r.get(colDescription),
		IsActive:    true,
	}
	if c.Code == "" {
		return nil, errors.New("empty code")
	}
	if c.Type == "" {
		c.Type = pricing.DiscountPercent
	}
	if !c.Type.Valid() {
		return nil, errors.Errorf("unknown discount type %q", c.Type)
	}

	var err error
	if c.Value, err = decimal.NewFromString(r.get(colValue)); err != nil {
		return nil, errors.Wrap(err, colValue)
	}
	if !c.Value.IsPositive() {
		return nil, errors.New("value must be positive")
	}
	if c.Type == pricing.DiscountPercent && c.Value.GreaterThan(decimal.NewFromInt(100)) {
		return nil, errors.New("percent value exceeds 100")
	}

	if v := r.get(colMinSubtotal); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, errors.Wrap(err, colMinSubtotal)
		}
		c.MinSubtotal = decimal.NewNullDecimal(d)
	}
	if c.MaxUses, err = optionalInt(r.get(colMaxUses)); err != nil {
		return nil, errors.Wrap(err, colMaxUses)
	}
	if c.MaxUsesPerUser, err = optionalInt(r.get(colMaxUsesPerUser)); err != nil {
		return nil, errors.Wrap(err, colMaxUsesPerUser)
	}
	if c.StartsAt, err = optionalTime(r.get(colStartsAt)); err != nil {
		return nil, errors.Wrap(err, colStartsAt)
	}
	if c.EndsAt, err = optionalTime(r.get(colEndsAt)); err != nil {
		return nil, errors.Wrap(err, colEndsAt)
	}
	if c.StartsAt != nil && c.EndsAt != nil && !c.EndsAt.After(*c.StartsAt) {
		return nil, errors.New("ends_at must be after starts_at")
	}
	return c, nil
}

func optionalInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, errors.New("must not be negative")
	}
	return n, nil
}

func optionalTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
