package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/bazaar/internal/domain/catalog"
	"github.com/xenking/bazaar/internal/domain/promotion"
	"github.com/xenking/bazaar/internal/storage/postgres"
)

type shopJSON struct {
	ID             int64   `json:"id"`
	Name           string  `json:"name"`
	AvgRating      float64 `json:"avg_rating"`
	ReviewCount    int     `json:"review_count"`
	OrderCount     int     `json:"order_count"`
	CommissionRate float64 `json:"commission_rate"`
	Verified       bool    `json:"verified"`
}

type productJSON struct {
	ID          int64              `json:"id"`
	ShopID      int64              `json:"shop_id"`
	Name        string             `json:"name"`
	Rating      float64            `json:"rating"`
	ReviewCount int                `json:"review_count"`
	SalesCount  int                `json:"sales_count"`
	ViewCount   int                `json:"view_count"`
	ListPrice   decimal.Decimal    `json:"list_price"`
	SalePrice   *decimal.Decimal   `json:"sale_price"`
	Stock       int                `json:"stock"`
	Inactive    bool               `json:"inactive"`
	AgeDays     int                `json:"age_days"`
	Attributes  catalog.Attributes `json:"attributes"`
}

type promotionJSON struct {
	Code           string          `json:"code"`
	Description    string          `json:"description"`
	DiscountType   string          `json:"discount_type"`
	Value          decimal.Decimal `json:"value"`
	MinOrderAmount decimal.Decimal `json:"min_order_amount"`
	MaxDiscount    decimal.Decimal `json:"max_discount"`
	ExpiresInDays  int             `json:"expires_in_days"`
	UsageLimit     int             `json:"usage_limit"`
}

type seedFile struct {
	Shops      []shopJSON      `json:"shops"`
	Products   []productJSON   `json:"products"`
	Promotions []promotionJSON `json:"promotions"`
}

func main() {
	var (
		databaseURL string
		catalogFile string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogFile, "catalog-file", "db/seed/catalog.json", "path to the catalog JSON file")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, catalogFile); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, catalogFile string) error {
	slog.Info("reading catalog file", slog.String("path", catalogFile))

	data, err := os.ReadFile(catalogFile)
	if err != nil {
		return errors.Wrap(err, "read catalog file")
	}
	seed, err := parseSeed(data)
	if err != nil {
		return err
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	return write(ctx, pool, seed, time.Now())
}

func parseSeed(data []byte) (*seedFile, error) {
	var seed seedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, errors.Wrap(err, "parse catalog JSON")
	}
	shops := make(map[int64]bool, len(seed.Shops))
	for _, s := range seed.Shops {
		shops[s.ID] = true
	}
	for _, p := range seed.Products {
		if !shops[p.ShopID] {
			return nil, errors.Errorf("product %d references unknown shop %d", p.ID, p.ShopID)
		}
	}
	for _, p := range seed.Promotions {
		switch promotion.DiscountType(p.DiscountType) {
		case promotion.DiscountPercentage, promotion.DiscountFixed:
		default:
			return nil, errors.Errorf("promotion %s: unknown discount type %q", p.Code, p.DiscountType)
		}
	}
	return &seed, nil
}

func write(ctx context.Context, pool *pgxpool.Pool, seed *seedFile, now time.Time) error {
	shops := make([]catalog.Shop, len(seed.Shops))
	for i, s := range seed.Shops {
		shops[i] = catalog.Shop{
			ID:             s.ID,
			Name:           s.Name,
			AvgRating:      s.AvgRating,
			ReviewCount:    s.ReviewCount,
			OrderCount:     s.OrderCount,
			CommissionRate: s.CommissionRate,
			Verified:       s.Verified,
		}
	}
	if err := postgres.UpsertShops(ctx, pool, shops); err != nil {
		return err
	}
	slog.Info("upserted shops", slog.Int("count", len(shops)))

	if err := postgres.UpsertProducts(ctx, pool, toProducts(seed.Products, now)); err != nil {
		return err
	}
	slog.Info("upserted products", slog.Int("count", len(seed.Products)))

	if err := postgres.UpsertPromotions(ctx, pool, toPromotions(seed.Promotions, now)); err != nil {
		return err
	}
	slog.Info("upserted promotions", slog.Int("count", len(seed.Promotions)))

	return postgres.SyncSequences(ctx, pool)
}

// toProducts dates products relative to now so new-arrival and seasonal
// pools have content on a fresh seed.
func toProducts(in []productJSON, now time.Time) []catalog.Product {
	out := make([]catalog.Product, len(in))
	for i, p := range in {
		out[i] = catalog.Product{
			ID:          p.ID,
			ShopID:      p.ShopID,
			Name:        p.Name,
			Rating:      p.Rating,
			ReviewCount: p.ReviewCount,
			SalesCount:  p.SalesCount,
			ViewCount:   p.ViewCount,
			CreatedAt:   now.AddDate(0, 0, -p.AgeDays),
			ListPrice:   p.ListPrice,
			SalePrice:   p.SalePrice,
			Stock:       p.Stock,
			Active:      !p.Inactive,
			Attributes:  p.Attributes,
		}
	}
	return out
}

func toPromotions(in []promotionJSON, now time.Time) []promotion.Promotion {
	out := make([]promotion.Promotion, len(in))
	for i, p := range in {
		out[i] = promotion.Promotion{
			Code:           p.Code,
			Description:    p.Description,
			DiscountType:   promotion.DiscountType(p.DiscountType),
			Value:          p.Value,
			MinOrderAmount: p.MinOrderAmount,
			MaxDiscount:    p.MaxDiscount,
			Active:         true,
			UsageLimit:     p.UsageLimit,
		}
		if p.ExpiresInDays > 0 {
			at := now.AddDate(0, 0, p.ExpiresInDays)
			out[i].ExpiresAt = &at
		}
	}
	return out
}
