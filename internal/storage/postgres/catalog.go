package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/bazaar/internal/domain/catalog"
)

const productColumns = `id, shop_id, name, rating, review_count, sales_count, view_count,
	created_at, list_price, sale_price, stock, active, attributes`

const (
	getProductByIDSQL = `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	getProductsByIDsSQL = `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1) ORDER BY id`

	listRankableProductsSQL = `SELECT ` + productColumns + `
		FROM products WHERE active = TRUE AND stock > 0 ORDER BY id`
)

const shopSelectSQL = `SELECT s.id, s.name, s.avg_rating, s.review_count,
		COUNT(p.id) FILTER (WHERE p.active AND p.stock > 0),
		s.order_count, s.commission_rate, s.verified
	FROM shops s LEFT JOIN products p ON p.shop_id = s.id`

const (
	getShopsByIDsSQL = shopSelectSQL + ` WHERE s.id = ANY($1) GROUP BY s.id ORDER BY s.id`

	listRankableShopsSQL = shopSelectSQL + ` WHERE s.active = TRUE GROUP BY s.id ORDER BY s.id`
)

var (
	_ catalog.Repository     = (*ProductRepository)(nil)
	_ catalog.ShopRepository = (*ShopRepository)(nil)
)

// ProductRepository implements catalog.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// GetByID returns a single product by its identifier.
func (r *ProductRepository) GetByID(ctx context.Context, id int64) (*catalog.Product, error) {
	rows, err := r.pool.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get product %d", id)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get product %d", id)
	}
	return &p, nil
}

// GetByIDs returns products matching any of the given IDs ordered by ID.
// Unknown IDs are skipped.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []int64) ([]catalog.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products by ids")
	}
	return pgx.CollectRows(rows, scanProduct)
}

// ListRankable returns all active products with stock.
func (r *ProductRepository) ListRankable(ctx context.Context) ([]catalog.Product, error) {
	rows, err := r.pool.Query(ctx, listRankableProductsSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list rankable products")
	}
	return pgx.CollectRows(rows, scanProduct)
}

func scanProduct(row pgx.CollectableRow) (catalog.Product, error) {
	var (
		p                     catalog.Product
		reviews, sales, views int32
		stock                 int32
		attrs                 []byte
	)
	if err := row.Scan(
		&p.ID, &p.ShopID, &p.Name, &p.Rating, &reviews, &sales, &views,
		&p.CreatedAt, &p.ListPrice, &p.SalePrice, &stock, &p.Active, &attrs,
	); err != nil {
		return p, err
	}
	p.ReviewCount = int(reviews)
	p.SalesCount = int(sales)
	p.ViewCount = int(views)
	p.Stock = int(stock)

	a, err := catalog.ParseAttributes(attrs)
	if err != nil {
		return p, errors.Wrapf(err, "product %d", p.ID)
	}
	p.Attributes = a
	return p, nil
}

// ShopRepository implements catalog.ShopRepository backed by PostgreSQL.
type ShopRepository struct {
	pool *pgxpool.Pool
}

// NewShopRepository returns a ShopRepository that uses the given pool.
func NewShopRepository(pool *pgxpool.Pool) *ShopRepository {
	return &ShopRepository{pool: pool}
}

// GetByIDs returns shops matching any of the given IDs ordered by ID.
func (r *ShopRepository) GetByIDs(ctx context.Context, ids []int64) ([]catalog.Shop, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, getShopsByIDsSQL, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get shops by ids")
	}
	return pgx.CollectRows(rows, scanShop)
}

// ListRankable returns active shops with their active product counts.
func (r *ShopRepository) ListRankable(ctx context.Context) ([]catalog.Shop, error) {
	rows, err := r.pool.Query(ctx, listRankableShopsSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list rankable shops")
	}
	return pgx.CollectRows(rows, scanShop)
}

func scanShop(row pgx.CollectableRow) (catalog.Shop, error) {
	var (
		s               catalog.Shop
		reviews, orders int32
		products        int64
	)
	err := row.Scan(
		&s.ID, &s.Name, &s.AvgRating, &reviews, &products,
		&orders, &s.CommissionRate, &s.Verified,
	)
	s.ReviewCount = int(reviews)
	s.ActiveProductCount = int(products)
	s.OrderCount = int(orders)
	return s, err
}
