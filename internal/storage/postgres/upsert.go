package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/bazaar/internal/domain/catalog"
	"github.com/xenking/bazaar/internal/domain/promotion"
)

// Bulk writes used by the operator CLIs. They upsert by primary key and
// never touch usage counters.

const (
	upsertShopSQL = `INSERT INTO shops (id, name, avg_rating, review_count, order_count, commission_rate, verified, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, avg_rating = EXCLUDED.avg_rating,
			review_count = EXCLUDED.review_count, order_count = EXCLUDED.order_count,
			commission_rate = EXCLUDED.commission_rate, verified = EXCLUDED.verified`

	upsertProductSQL = `INSERT INTO products (id, shop_id, name, rating, review_count, sales_count, view_count,
			list_price, sale_price, stock, active, attributes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET shop_id = EXCLUDED.shop_id, name = EXCLUDED.name,
			rating = EXCLUDED.rating, review_count = EXCLUDED.review_count,
			sales_count = EXCLUDED.sales_count, view_count = EXCLUDED.view_count,
			list_price = EXCLUDED.list_price, sale_price = EXCLUDED.sale_price,
			stock = EXCLUDED.stock, active = EXCLUDED.active, attributes = EXCLUDED.attributes`

	upsertPromotionSQL = `INSERT INTO promotions (code, description, discount_type, value, min_order_amount,
			max_discount, active, expires_at, usage_limit)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (code) DO UPDATE SET description = EXCLUDED.description,
			discount_type = EXCLUDED.discount_type, value = EXCLUDED.value,
			min_order_amount = EXCLUDED.min_order_amount, max_discount = EXCLUDED.max_discount,
			active = EXCLUDED.active, expires_at = EXCLUDED.expires_at, usage_limit = EXCLUDED.usage_limit`

	syncSequencesSQL = `SELECT setval('shops_id_seq', GREATEST((SELECT MAX(id) FROM shops), 1)),
		setval('products_id_seq', GREATEST((SELECT MAX(id) FROM products), 1))`
)

// UpsertShops writes shops with their given ids.
func UpsertShops(ctx context.Context, pool *pgxpool.Pool, shops []catalog.Shop) error {
	b := &pgx.Batch{}
	for _, s := range shops {
		b.Queue(upsertShopSQL, s.ID, s.Name, s.AvgRating, s.ReviewCount, s.OrderCount, s.CommissionRate, s.Verified)
	}
	return errors.Wrap(sendBatch(ctx, pool, b), "upsert shops")
}

// UpsertProducts writes products with their given ids.
func UpsertProducts(ctx context.Context, pool *pgxpool.Pool, products []catalog.Product) error {
	b := &pgx.Batch{}
	for _, p := range products {
		attrs, err := p.Attributes.MarshalJSON()
		if err != nil {
			return errors.Wrapf(err, "encode attributes of product %d", p.ID)
		}
		b.Queue(upsertProductSQL,
			p.ID, p.ShopID, p.Name, p.Rating, p.ReviewCount, p.SalesCount, p.ViewCount,
			p.ListPrice, p.SalePrice, p.Stock, p.Active, attrs, p.CreatedAt,
		)
	}
	return errors.Wrap(sendBatch(ctx, pool, b), "upsert products")
}

// UpsertPromotions writes promotions by code, keeping their used counts.
func UpsertPromotions(ctx context.Context, pool *pgxpool.Pool, promos []promotion.Promotion) error {
	b := &pgx.Batch{}
	for _, p := range promos {
		b.Queue(upsertPromotionSQL,
			p.Code, p.Description, string(p.DiscountType), p.Value, p.MinOrderAmount,
			p.MaxDiscount, p.Active, p.ExpiresAt, p.UsageLimit,
		)
	}
	return errors.Wrap(sendBatch(ctx, pool, b), "upsert promotions")
}

// SyncSequences moves the id sequences past explicitly inserted ids.
func SyncSequences(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, syncSequencesSQL); err != nil {
		return errors.Wrap(err, "sync sequences")
	}
	return nil
}

func sendBatch(ctx context.Context, pool *pgxpool.Pool, b *pgx.Batch) error {
	if b.Len() == 0 {
		return nil
	}
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, b).Close()
	})
}
