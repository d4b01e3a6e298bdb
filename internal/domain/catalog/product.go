// Package catalog holds the read-only product and shop snapshots that the
// ranking and pricing engines consume.
package catalog

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product or shop does not exist.
var ErrNotFound = errors.New("not found")

// LowStockThreshold is the stock level at or below which a product is
// reported as running low.
const LowStockThreshold = 5

// StockStatus describes product availability for display.
type StockStatus string

const (
	StockOut StockStatus = "out_of_stock"
	StockLow StockStatus = "low_stock"
	StockIn  StockStatus = "in_stock"
)

// Product is an attribute snapshot of a catalog item, loaded by the caller
// before ranking or pricing. It carries no ranking state.
type Product struct {
	ID          int64
	ShopID      int64
	Name        string
	Rating      float64
	ReviewCount int
	SalesCount  int
	ViewCount   int
	CreatedAt   time.Time
	ListPrice   decimal.Decimal
	SalePrice   *decimal.Decimal
	Stock       int
	Active      bool
	Attributes  Attributes
}

// OnSale reports whether the product has a sale price strictly below its
// list price.
func (p *Product) OnSale() bool {
	return p.SalePrice != nil && p.SalePrice.LessThan(p.ListPrice)
}

// FinalPrice returns the price a buyer pays today.
func (p *Product) FinalPrice() decimal.Decimal {
	if p.OnSale() {
		return *p.SalePrice
	}
	return p.ListPrice
}

// DiscountFraction returns (list - sale) / list for products on sale with a
// positive list price, and zero otherwise.
func (p *Product) DiscountFraction() float64 {
	if !p.OnSale() || !p.ListPrice.IsPositive() {
		return 0
	}
	return p.ListPrice.Sub(*p.SalePrice).Div(p.ListPrice).InexactFloat64()
}

// DiscountPercentage returns the truncated whole-number discount percentage,
// or zero when the product is not on sale.
func (p *Product) DiscountPercentage() int {
	if !p.OnSale() || !p.ListPrice.IsPositive() {
		return 0
	}
	pct := decimal.NewFromInt(100).Sub(p.SalePrice.Div(p.ListPrice).Mul(decimal.NewFromInt(100)))
	return int(pct.IntPart())
}

// Available reports whether qty units can be sold right now.
func (p *Product) Available(qty int) bool {
	return p.Active && p.Stock >= qty
}

// StockStatus classifies the current stock level.
func (p *Product) StockStatus() StockStatus {
	switch {
	case p.Stock <= 0:
		return StockOut
	case p.Stock <= LowStockThreshold:
		return StockLow
	default:
		return StockIn
	}
}

// Shop is an aggregate snapshot of a seller used for shop ranking.
type Shop struct {
	ID                 int64
	Name               string
	AvgRating          float64
	ReviewCount        int
	ActiveProductCount int
	OrderCount         int
	CommissionRate     float64
	Verified           bool
}

// Repository defines read operations for the catalog.
type Repository interface {
	GetByID(ctx context.Context, id int64) (*Product, error)
	GetByIDs(ctx context.Context, ids []int64) ([]Product, error)
	// ListRankable returns active, in-stock products. Ranking strategies
	// apply their own filters on top.
	ListRankable(ctx context.Context) ([]Product, error)
}

// ShopRepository defines read operations for shop ranking snapshots.
type ShopRepository interface {
	GetByIDs(ctx context.Context, ids []int64) ([]Shop, error)
	ListRankable(ctx context.Context) ([]Shop, error)
}
