package main

import (
	"bufio"
	"context"
	"log/slog"
	"math/bits"
	"os"
	"slices"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"
)

const (
	bloomCapacity = 10_000_000
	bloomFPR      = 0.001
	progressEvery = 1_000_000
	minCodeLen    = 4
	maxCodeLen    = 32
)

// normalizeCode upper-cases a feed line and reports whether it is a usable
// promotion code: ASCII letters, digits, '-' and '_'.
func normalizeCode(line string) (string, bool) {
	code := strings.ToUpper(strings.TrimSpace(line))
	if len(code) < minCodeLen || len(code) > maxCodeLen {
		return "", false
	}
	for i := 0; i < len(code); i++ {
		switch c := code[i]; {
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return "", false
		}
	}
	return code, true
}

// buildBloomFilters creates one bloom filter per file, concurrently.
func buildBloomFilters(ctx context.Context, files []string) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
			var count uint64

			if err := streamGzFile(ctx, f, func(code string) {
				filter.AddString(code)
				count++
				if count%progressEvery == 0 {
					slog.Info("pass 1 progress", slog.Int("file", i+1), slog.Uint64("codes", count))
				}
			}); err != nil {
				return errors.Wrapf(err, "build filter for file %d", i+1)
			}

			slog.Info("pass 1 complete", slog.Int("file", i+1), slog.Uint64("total_codes", count))
			filters[i] = filter
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// findValidCodes re-streams each file and keeps codes that other files'
// bloom filters probably contain. Candidates are then confirmed exactly by
// merging per-file bitmasks: a code is valid when minSources files list it.
func findValidCodes(ctx context.Context, files []string, filters []*bloom.BloomFilter, minSources int) ([]string, error) {
	results := make([]map[string]uint64, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			candidates := make(map[string]uint64)
			fileBit := uint64(1) << uint(i)

			if err := streamGzFile(ctx, f, func(code string) {
				others := 0
				for j, filter := range filters {
					if j != i && filter.TestString(code) {
						others++
					}
				}
				if others+1 >= minSources {
					candidates[code] |= fileBit
				}
			}); err != nil {
				return errors.Wrapf(err, "scan file %d for candidates", i+1)
			}

			slog.Info("pass 2 complete", slog.Int("file", i+1), slog.Int("candidates", len(candidates)))
			results[i] = candidates
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]uint64)
	for _, r := range results {
		for code, mask := range r {
			merged[code] |= mask
		}
	}

	var valid []string
	for code, mask := range merged {
		if bits.OnesCount64(mask) >= minSources {
			valid = append(valid, code)
		}
	}
	slices.Sort(valid)
	return valid, nil
}

// streamGzFile opens a gzip-compressed file and calls fn for each valid code.
func streamGzFile(ctx context.Context, path string, fn func(code string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if code, ok := normalizeCode(scanner.Text()); ok {
			fn(code)
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}
