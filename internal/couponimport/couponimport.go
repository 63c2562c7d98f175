// Package couponimport loads coupon codes from gzip batch files.
//
// Every batch file holds one code per line. A code printed in more than one
// batch cannot be traced to a single campaign and is rejected. Batches are
// too large to hold in memory, so duplicates are found in two streaming
// passes: the first builds a bloom filter per file, the second tests every
// code against the other files' filters and keeps exact bitmasks only for
// the few codes that hit. A third pass writes the surviving codes.
package couponimport

import (
	"bufio"
	"context"
	"math/bits"
	"os"
	"strings"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/pos-settlement/internal/domain/coupon"
)

// MaxFiles is the number of batch files one run can compare.
const MaxFiles = 64

// Sink stores imported coupons.
type Sink interface {
	UpsertBatch(ctx context.Context, coupons []coupon.Coupon) error
}

// Config controls an import run.
type Config struct {
	// Template is copied for every imported code.
	Template coupon.Coupon
	// ExpectedCodes sizes the per-file bloom filters.
	ExpectedCodes uint
	// FalsePositiveRate of the bloom filters.
	FalsePositiveRate float64
	// BatchSize is the number of coupons per UpsertBatch call.
	BatchSize int
	// MinCodeLen and MaxCodeLen bound accepted code lengths.
	MinCodeLen int
	MaxCodeLen int
	// ProgressEvery logs progress after that many lines per file.
	ProgressEvery uint64
}

func (c *Config) setDefaults() {
	if c.ExpectedCodes == 0 {
		c.ExpectedCodes = 10_000_000
	}
	if c.FalsePositiveRate <= 0 {
		c.FalsePositiveRate = 0.001
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 1000
	}
	if c.MinCodeLen <= 0 {
		c.MinCodeLen = 6
	}
	if c.MaxCodeLen <= 0 {
		c.MaxCodeLen = 32
	}
	if c.ProgressEvery == 0 {
		c.ProgressEvery = 10_000_000
	}
}

// Stats summarizes a run.
type Stats struct {
	Scanned    uint64
	Malformed  uint64
	Duplicates int
	Written    uint64
}

// Importer runs imports against a Sink.
type Importer struct {
	cfg  Config
	sink Sink
	lg   *zap.Logger
}

// New validates the coupon template and returns an Importer.
func New(sink Sink, cfg Config, lg *zap.Logger) (*Importer, error) {
	cfg.setDefaults()
	probe := cfg.Template
	probe.Code = "TEMPLATE"
	if err := probe.Check(); err != nil {
		return nil, errors.Wrap(err, "coupon template")
	}
	if cfg.MinCodeLen > cfg.MaxCodeLen {
		return nil, errors.Errorf("min code length %d exceeds max %d", cfg.MinCodeLen, cfg.MaxCodeLen)
	}
	return &Importer{cfg: cfg, sink: sink, lg: lg}, nil
}

// Run imports every code that appears in exactly one of files.
func (im *Importer) Run(ctx context.Context, files []string) (Stats, error) {
	var stats Stats
	if len(files) == 0 {
		return stats, errors.New("no batch files")
	}
	if len(files) > MaxFiles {
		return stats, errors.Errorf("%d batch files, at most %d supported", len(files), MaxFiles)
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return stats, errors.Wrapf(err, "check file %s", f)
		}
	}

	im.lg.Info("Pass 1: building bloom filters", zap.Int("files", len(files)))
	filters, err := im.buildFilters(ctx, files)
	if err != nil {
		return stats, errors.Wrap(err, "build bloom filters")
	}

	im.lg.Info("Pass 2: finding codes issued in several batches")
	dups, err := im.findDuplicates(ctx, files, filters)
	if err != nil {
		return stats, errors.Wrap(err, "find duplicates")
	}
	stats.Duplicates = len(dups)
	im.lg.Info("Duplicates found", zap.Int("count", len(dups)))

	im.lg.Info("Pass 3: writing coupons")
	if err := im.write(ctx, files, dups, &stats); err != nil {
		return stats, errors.Wrap(err, "write coupons")
	}
	return stats, nil
}

func (im *Importer) buildFilters(ctx context.Context, files []string) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))
	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(im.cfg.ExpectedCodes, im.cfg.FalsePositiveRate)
			n, err := im.stream(ctx, path, func(code string) { filter.AddString(code) })
			if err != nil {
				return errors.Wrapf(err, "file %d", i+1)
			}
			im.lg.Info("Pass 1 complete", zap.String("file", path), zap.Uint64("codes", n))
			filters[i] = filter
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// findDuplicates marks, per file, the codes that test positive against any
// other file's filter. A real duplicate is marked by each file holding it,
// while a false positive is marked only by its own file.
func (im *Importer) findDuplicates(ctx context.Context, files []string, filters []*bloom.BloomFilter) (map[string]struct{}, error) {
	marks := make([]map[string]uint64, len(files))
	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			bit := uint64(1) << uint(i)
			candidates := make(map[string]uint64)
			_, err := im.stream(ctx, path, func(code string) {
				for j, f := range filters {
					if j != i && f.TestString(code) {
						candidates[code] |= bit
						return
					}
				}
			})
			if err != nil {
				return errors.Wrapf(err, "file %d", i+1)
			}
			marks[i] = candidates
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]uint64)
	for _, m := range marks {
		for code, bit := range m {
			merged[code] |= bit
		}
	}
	dups := make(map[string]struct{})
	for code, mask := range merged {
		if bits.OnesCount64(mask) >= 2 {
			dups[code] = struct{}{}
		}
	}
	return dups, nil
}

func (im *Importer) write(ctx context.Context, files []string, dups map[string]struct{}, stats *Stats) error {
	var scanned, malformed, written atomic.Uint64
	g, ctx := errgroup.WithContext(ctx)
	for _, path := range files {
		g.Go(func() error {
			batch := make([]coupon.Coupon, 0, im.cfg.BatchSize)
			flush := func() error {
				if len(batch) == 0 {
					return nil
				}
				if err := im.sink.UpsertBatch(ctx, batch); err != nil {
					return err
				}
				written.Add(uint64(len(batch)))
				batch = make([]coupon.Coupon, 0, im.cfg.BatchSize)
				return nil
			}

			var flushErr error
			n, bad, err := im.streamCounting(ctx, path, func(code string) bool {
				if _, dup := dups[code]; dup {
					return true
				}
				c := im.cfg.Template
				c.Code = code
				batch = append(batch, c)
				if len(batch) == im.cfg.BatchSize {
					flushErr = flush()
				}
				return flushErr == nil
			})
			scanned.Add(n)
			malformed.Add(bad)
			if err != nil {
				return err
			}
			if flushErr != nil {
				return flushErr
			}
			return flush()
		})
	}
	err := g.Wait()
	stats.Scanned = scanned.Load()
	stats.Malformed = malformed.Load()
	stats.Written = written.Load()
	return err
}

func (im *Importer) stream(ctx context.Context, path string, fn func(code string)) (uint64, error) {
	n, _, err := im.streamCounting(ctx, path, func(code string) bool {
		fn(code)
		return true
	})
	return n, err
}

// streamCounting calls fn for every well-formed code in the gzip file at
// path until fn returns false. It returns the well-formed and malformed line
// counts.
func (im *Importer) streamCounting(ctx context.Context, path string, fn func(code string) bool) (n, malformed uint64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return n, malformed, err
		}
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		code, ok := im.normalize(line)
		if !ok {
			malformed++
			continue
		}
		n++
		if n%im.cfg.ProgressEvery == 0 {
			im.lg.Info("Progress", zap.String("file", path), zap.Uint64("codes", n))
		}
		if !fn(code) {
			return n, malformed, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return n, malformed, errors.Wrapf(err, "scan %s", path)
	}
	return n, malformed, nil
}

func (im *Importer) normalize(line string) (string, bool) {
	code := strings.ToUpper(strings.TrimSpace(line))
	if len(code) < im.cfg.MinCodeLen || len(code) > im.cfg.MaxCodeLen {
		return "", false
	}
	for i := range len(code) {
		c := code[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') && c != '-' {
			return "", false
		}
	}
	return code, true
}
