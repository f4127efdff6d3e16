// Command code-import bulk-loads catalog percentage codes from gzipped
// files holding one `CODE[,percent]` per line.
//
// Files are read in parallel. A bloom filter spots codes that may have been
// seen already; those are held back and written after the bulk load only if
// the database does not have them yet, so the first occurrence wins.
package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/promo-engine/internal/domain/discount"
	"github.com/xenking/promo-engine/internal/storage/postgres"
)

const progressEvery = 100_000

type options struct {
	pattern     string
	databaseURL string
	capacity    uint
	fpr         float64
	writers     int
}

func main() {
	var opt options
	flag.StringVar(&opt.pattern, "files", "data/*.gz", "glob of gzipped code files")
	flag.StringVar(&opt.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.UintVar(&opt.capacity, "expected-codes", 10_000_000, "expected number of distinct codes")
	flag.Float64Var(&opt.fpr, "false-positive-rate", 0.001, "bloom filter false positive rate")
	flag.IntVar(&opt.writers, "writers", 8, "parallel database writers")
	flag.Parse()

	if opt.databaseURL == "" {
		opt.databaseURL = os.Getenv("DATABASE_URL")
	}
	if opt.databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, opt); err != nil {
		slog.Error("code import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("code import completed successfully")
}

// seenFilter is a concurrency-safe bloom filter.
type seenFilter struct {
	mu sync.Mutex
	bf *bloom.BloomFilter
}

// firstSighting adds code and reports whether it was definitely new.
func (f *seenFilter) firstSighting(code string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.bf.TestOrAddString(code)
}

type importer struct {
	store *postgres.DiscountStore
	seen  *seenFilter

	mu      sync.Mutex
	suspect []postgres.CodeSeed

	written, skipped, invalid atomic.Int64
}

func run(ctx context.Context, opt options) error {
	files, err := filepath.Glob(opt.pattern)
	if err != nil {
		return errors.Wrap(err, "glob")
	}
	if len(files) == 0 {
		return errors.Errorf("no files match %q", opt.pattern)
	}

	slog.Info("connecting to database")
	pool, err := postgres.NewPool(ctx, opt.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	imp := &importer{
		store: postgres.NewDiscountStore(pool, postgres.DefaultRetry),
		seen:  &seenFilter{bf: bloom.NewWithEstimates(opt.capacity, opt.fpr)},
	}

	seeds := make(chan postgres.CodeSeed, 1024)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(seeds)
		readers, rctx := errgroup.WithContext(gctx)
		for _, path := range files {
			readers.Go(func() error { return imp.read(rctx, path, seeds) })
		}
		return readers.Wait()
	})
	for range max(1, opt.writers) {
		g.Go(func() error { return imp.write(gctx, seeds) })
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := imp.resolveSuspects(ctx); err != nil {
		return errors.Wrap(err, "resolve repeated codes")
	}

	slog.Info("import summary",
		slog.Int64("written", imp.written.Load()),
		slog.Int64("duplicates", imp.skipped.Load()),
		slog.Int64("invalid", imp.invalid.Load()),
	)
	return nil
}

func (imp *importer) read(ctx context.Context, path string, out chan<- postgres.CodeSeed) error {
	var lines int
	err := streamGzFile(ctx, path, func(line string) error {
		lines++
		if lines%progressEvery == 0 {
			slog.Info("read progress", slog.String("file", path), slog.Int("lines", lines))
		}
		seed, ok, err := parseLine(line)
		if err != nil {
			imp.invalid.Add(1)
			slog.Warn("skipping line", slog.String("file", path), slog.Int("line", lines), slog.String("error", err.Error()))
			return nil
		}
		if !ok {
			return nil
		}
		if !imp.seen.firstSighting(seed.Code) {
			imp.mu.Lock()
			imp.suspect = append(imp.suspect, seed)
			imp.mu.Unlock()
			return nil
		}
		select {
		case out <- seed:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if err != nil {
		return errors.Wrapf(err, "read %s", path)
	}
	slog.Info("file complete", slog.String("file", path), slog.Int("lines", lines))
	return nil
}

func (imp *importer) write(ctx context.Context, in <-chan postgres.CodeSeed) error {
	for seed := range in {
		if err := imp.store.UpsertCode(ctx, seed); err != nil {
			return errors.Wrapf(err, "upsert %s", seed.Code)
		}
		if n := imp.written.Add(1); n%progressEvery == 0 {
			slog.Info("write progress", slog.Int64("written", n))
		}
	}
	return nil
}

// resolveSuspects writes held-back codes the bulk load did not create.
// Most are true repeats; the rest are bloom false positives.
func (imp *importer) resolveSuspects(ctx context.Context) error {
	slog.Info("checking repeated codes", slog.Int("count", len(imp.suspect)))
	for _, seed := range imp.suspect {
		_, err := imp.store.GetCode(ctx, seed.Code, false)
		switch {
		case err == nil:
			imp.skipped.Add(1)
			continue
		case !errors.Is(err, discount.ErrCodeNotFound):
			return errors.Wrapf(err, "look up %s", seed.Code)
		}
		if err := imp.store.UpsertCode(ctx, seed); err != nil {
			return errors.Wrapf(err, "upsert %s", seed.Code)
		}
		imp.written.Add(1)
	}
	return nil
}

// streamGzFile calls fn for each line of the gzip file at path.
func streamGzFile(ctx context.Context, path string, fn func(line string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open")
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrap(err, "gzip reader")
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(scanner.Text()); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "scan")
	}
	return nil
}
