// Package ranking computes composite relevance scores for products and shops
// and orders candidate pools for the storefront.
//
// Scores are a fixed weighted formula over the entity snapshot and are
// recomputed on every call; nothing here is cached or stateful.
package ranking

import (
	"fmt"
	"iter"
	"strings"

	"github.com/go-faster/errors"

	"github.com/xenking/bazaar/internal/domain/catalog"
)

// Strategy selects the eligibility filter, ordering key and cap of a pool.
type Strategy string

const (
	StrategyComposite     Strategy = "composite"
	StrategyTrending      Strategy = "trending"
	StrategyNewArrivals   Strategy = "new_arrivals"
	StrategyBestSellers   Strategy = "best_sellers"
	StrategySeasonalDeals Strategy = "seasonal_deals"
	StrategyFlashDeals    Strategy = "flash_deals"
)

// Strategies lists every supported strategy.
var Strategies = []Strategy{
	StrategyComposite,
	StrategyTrending,
	StrategyNewArrivals,
	StrategyBestSellers,
	StrategySeasonalDeals,
	StrategyFlashDeals,
}

// ParseStrategy maps a transport value (case-insensitive, dashes allowed)
// to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	norm := Strategy(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	if norm == "" {
		return StrategyComposite, nil
	}
	for _, st := range Strategies {
		if st == norm {
			return st, nil
		}
	}
	return "", &ValidationError{Field: "strategy", Reason: fmt.Sprintf("unknown strategy %q", s)}
}

// ValidationError reports malformed ranking input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// DataInvariantError reports an entity whose stored attributes violate the
// data model (non-positive list price, sale price not below list price).
// The entity stays rankable but is excluded from sale-dependent terms.
type DataInvariantError struct {
	Entity   string
	EntityID int64
	Reason   string
}

func (e *DataInvariantError) Error() string {
	return fmt.Sprintf("%s %d: %s", e.Entity, e.EntityID, e.Reason)
}

// ErrInvariant matches any *DataInvariantError via errors.Is.
var ErrInvariant = errors.New("data invariant violated")

// Is lets errors.Is(err, ErrInvariant) match.
func (e *DataInvariantError) Is(target error) bool {
	return target == ErrInvariant
}

// CheckProduct validates the price fields the scoring formula divides by.
func CheckProduct(p *catalog.Product) error {
	if !p.ListPrice.IsPositive() {
		return &DataInvariantError{Entity: "product", EntityID: p.ID, Reason: "list price must be positive"}
	}
	if p.SalePrice != nil && !p.SalePrice.LessThan(p.ListPrice) {
		return &DataInvariantError{Entity: "product", EntityID: p.ID, Reason: "sale price must be below list price"}
	}
	return nil
}

// Result is one ranked entity. Score is the strategy's ordering key for
// composite, trending and deal pools, and the composite score for pools
// ordered by a raw attribute (new arrivals, best sellers).
type Result struct {
	ID      int64
	Score   float64
	Product *catalog.Product `json:",omitempty"`
	Shop    *catalog.Shop    `json:",omitempty"`
}

// Results is a finite, ordered ranking.
type Results []Result

// All iterates the ranking in order. Each call starts from the top.
func (r Results) All() iter.Seq2[int, Result] {
	return func(yield func(int, Result) bool) {
		for i, res := range r {
			if !yield(i, res) {
				return
			}
		}
	}
}

// IDs returns the ranked entity identifiers in order.
func (r Results) IDs() []int64 {
	ids := make([]int64, len(r))
	for i, res := range r {
		ids[i] = res.ID
	}
	return ids
}

// Products returns the ranked product snapshots in order, skipping shop
// results.
func (r Results) Products() []catalog.Product {
	out := make([]catalog.Product, 0, len(r))
	for _, res := range r {
		if res.Product != nil {
			out = append(out, *res.Product)
		}
	}
	return out
}
