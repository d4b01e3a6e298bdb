// Command promo-import bulk-loads promotion codes from gzip-compressed
// partner feeds. A code is imported when it appears in at least
// --min-sources feeds; every imported code gets the discount rule given by
// flags.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/bazaar/internal/domain/promotion"
	"github.com/xenking/bazaar/internal/storage/postgres"
)

const (
	writeBatch = 1000
	// maxFeeds is bounded by the per-code source bitmask.
	maxFeeds = 64
)

type options struct {
	databaseURL string
	minSources  int
	rule        promotion.Promotion
	files       []string
}

func main() {
	var (
		opts        options
		kind        string
		value       string
		minOrder    string
		maxDiscount string
		expires     string
		usageLimit  int
		description string
	)

	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&opts.minSources, "min-sources", 2, "number of feeds a code must appear in")
	flag.StringVar(&kind, "type", string(promotion.DiscountPercentage), "discount type: percentage or fixed")
	flag.StringVar(&value, "value", "10", "discount value (percent or amount)")
	flag.StringVar(&minOrder, "min-order", "0", "minimum order subtotal")
	flag.StringVar(&maxDiscount, "max-discount", "0", "discount cap, 0 for none")
	flag.IntVar(&usageLimit, "usage-limit", 0, "redemptions per code, 0 for unlimited")
	flag.StringVar(&expires, "expires", "", "expiry as RFC 3339 time or duration from now (e.g. 720h)")
	flag.StringVar(&description, "description", "Partner promotion", "description stored with every code")
	flag.Parse()

	opts.files = flag.Args()
	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}
	if opts.databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	rule, err := parseRule(kind, value, minOrder, maxDiscount, expires, time.Now())
	if err != nil {
		slog.Error("invalid discount rule", slog.String("error", err.Error()))
		os.Exit(1)
	}
	rule.UsageLimit = max(usageLimit, 0)
	rule.Description = description
	opts.rule = rule

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		slog.Error("promotion import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("promotion import completed successfully")
}

func parseRule(kind, value, minOrder, maxDiscount, expires string, now time.Time) (promotion.Promotion, error) {
	rule := promotion.Promotion{DiscountType: promotion.DiscountType(kind), Active: true}
	switch rule.DiscountType {
	case promotion.DiscountPercentage, promotion.DiscountFixed:
	default:
		return rule, errors.Errorf("unknown discount type %q", kind)
	}

	for _, f := range []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"value", value, &rule.Value},
		{"min-order", minOrder, &rule.MinOrderAmount},
		{"max-discount", maxDiscount, &rule.MaxDiscount},
	} {
		d, err := decimal.NewFromString(f.raw)
		if err != nil {
			return rule, errors.Wrapf(err, "parse %s", f.name)
		}
		if d.IsNegative() {
			return rule, errors.Errorf("%s must not be negative", f.name)
		}
		*f.dst = d
	}
	if rule.DiscountType == promotion.DiscountPercentage && rule.Value.GreaterThan(decimal.NewFromInt(100)) {
		return rule, errors.New("percentage value must not exceed 100")
	}

	if expires = strings.TrimSpace(expires); expires != "" {
		at, err := time.Parse(time.RFC3339, expires)
		if err != nil {
			d, derr := time.ParseDuration(expires)
			if derr != nil {
				return rule, errors.Errorf("parse expires %q: want RFC 3339 time or duration", expires)
			}
			at = now.Add(d)
		}
		rule.ExpiresAt = &at
	}
	return rule, nil
}

func run(ctx context.Context, opts options) error {
	if opts.minSources < 1 {
		return errors.New("min-sources must be at least 1")
	}
	if len(opts.files) > maxFeeds {
		return errors.Errorf("at most %d feed files are supported, got %d", maxFeeds, len(opts.files))
	}
	if len(opts.files) < opts.minSources {
		return errors.Errorf("need at least %d feed files, got %d", opts.minSources, len(opts.files))
	}
	for _, f := range opts.files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}

	// Pass 1: Build bloom filters concurrently.
	slog.Info("pass 1: building bloom filters", slog.Int("files", len(opts.files)))

	filters, err := buildBloomFilters(ctx, opts.files)
	if err != nil {
		return errors.Wrap(err, "build bloom filters")
	}

	// Pass 2: Find candidate codes appearing in enough feeds.
	slog.Info("pass 2: finding candidate codes", slog.Int("min_sources", opts.minSources))

	codes, err := findValidCodes(ctx, opts.files, filters, opts.minSources)
	if err != nil {
		return errors.Wrap(err, "find valid codes")
	}

	slog.Info("valid codes found", slog.Int("count", len(codes)))

	if len(codes) == 0 {
		slog.Info("no valid codes to import")
		return nil
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	promos := buildPromotions(codes, opts.rule)
	for start := 0; start < len(promos); start += writeBatch {
		end := min(start+writeBatch, len(promos))
		if err := postgres.UpsertPromotions(ctx, pool, promos[start:end]); err != nil {
			return errors.Wrap(err, "write promotions")
		}
		slog.Info("write progress", slog.Int("written", end), slog.Int("total", len(promos)))
	}

	return nil
}

func buildPromotions(codes []string, rule promotion.Promotion) []promotion.Promotion {
	out := make([]promotion.Promotion, len(codes))
	for i, code := range codes {
		p := rule
		p.Code = code
		out[i] = p
	}
	return out
}
