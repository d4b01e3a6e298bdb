package ranking

import (
	"cmp"
	"math"
	"slices"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/xenking/bazaar/internal/domain/catalog"
)

// Product score weights.
const (
	weightRating  = 0.40
	weightReviews = 0.20
	weightSales   = 0.25
	weightViews   = 0.15

	noveltyBonus  = 0.5
	noveltyWindow = 30 // days

	trendingRating  = 0.4
	trendingReviews = 0.3
	trendingSales   = 0.3
)

// Shop score weights.
const (
	shopWeightRating     = 0.30
	shopWeightReviews    = 0.20
	shopWeightProducts   = 0.15
	shopWeightOrders     = 0.20
	shopWeightCommission = 0.15
	verifiedBonus        = 0.5
)

// Pool caps applied by strategies that have one.
const (
	capNewArrivals   = 8
	capBestSellers   = 8
	capSeasonalDeals = 8
	capFlashDeals    = 4

	flashWindow = 24 * time.Hour
)

// Engine scores and orders entity pools. It is safe for concurrent use.
type Engine struct {
	lg  *zap.Logger
	now func() time.Time
}

// NewEngine creates an Engine that logs data invariant violations to lg.
func NewEngine(lg *zap.Logger) *Engine {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Engine{lg: lg, now: time.Now}
}

// ProductScore returns the composite product score rounded to two decimals.
func (e *Engine) ProductScore(p *catalog.Product) float64 {
	return round2(e.productScore(p, e.now(), e.saleValid(p)))
}

func (e *Engine) productScore(p *catalog.Product, now time.Time, saleValid bool) float64 {
	score := weightRating*p.Rating +
		weightReviews*ln1p(p.ReviewCount) +
		weightSales*ln1p(p.SalesCount) +
		weightViews*ln1p(p.ViewCount)

	if daysSince(p.CreatedAt, now) <= noveltyWindow {
		score += noveltyBonus
	}
	if saleValid && p.SalePrice != nil {
		score += p.DiscountFraction()
	}
	return score
}

// TrendingScore returns the unrounded trending ordering key.
func TrendingScore(p *catalog.Product) float64 {
	return trendingRating*p.Rating +
		trendingReviews*ln1p(p.ReviewCount) +
		trendingSales*ln1p(p.SalesCount)
}

// ShopScore returns the composite shop score rounded to two decimals.
func (e *Engine) ShopScore(s *catalog.Shop) float64 {
	rate := s.CommissionRate
	if rate < 0 || rate > 100 {
		e.lg.Warn("Shop commission rate out of range, clamping",
			zap.Int64("shop_id", s.ID),
			zap.Float64("commission_rate", rate),
		)
		rate = min(max(rate, 0), 100)
	}

	score := shopWeightRating*s.AvgRating +
		shopWeightReviews*ln1p(s.ReviewCount) +
		shopWeightProducts*ln1p(s.ActiveProductCount) +
		shopWeightOrders*ln1p(s.OrderCount) +
		shopWeightCommission*(1-rate/100)

	if s.Verified {
		score += verifiedBonus
	}
	return round2(score)
}

// Rank filters pool by the strategy's eligibility rule, orders it, applies
// the strategy cap and then limit (when positive). The pool is not modified.
func (e *Engine) Rank(pool []catalog.Product, s Strategy, limit int) (Results, error) {
	now := e.now()

	var (
		key      func(p *catalog.Product, saleValid bool) float64
		eligible = func(p *catalog.Product, _ bool) bool { return p.Active && p.Stock > 0 }
		capN     int
	)

	switch s {
	case StrategyComposite:
		key = func(p *catalog.Product, saleValid bool) float64 {
			return round2(e.productScore(p, now, saleValid))
		}
	case StrategyTrending:
		key = func(p *catalog.Product, _ bool) float64 { return TrendingScore(p) }
	case StrategyNewArrivals:
		key = func(p *catalog.Product, _ bool) float64 { return float64(p.CreatedAt.UnixMicro()) }
		capN = capNewArrivals
	case StrategyBestSellers:
		key = func(p *catalog.Product, _ bool) float64 { return float64(p.SalesCount) }
		capN = capBestSellers
	case StrategySeasonalDeals, StrategyFlashDeals:
		flash := s == StrategyFlashDeals
		eligible = func(p *catalog.Product, saleValid bool) bool {
			if !p.Active || p.Stock <= 0 || !saleValid || !p.OnSale() {
				return false
			}
			return !flash || now.Sub(p.CreatedAt) <= flashWindow
		}
		key = func(p *catalog.Product, _ bool) float64 { return p.DiscountFraction() }
		capN = capSeasonalDeals
		if flash {
			capN = capFlashDeals
		}
	default:
		return nil, &ValidationError{Field: "strategy", Reason: "unknown strategy " + strconv.Quote(string(s))}
	}

	type scored struct {
		Result
		key float64
	}
	candidates := make([]scored, 0, len(pool))
	for i := range pool {
		p := &pool[i]
		saleValid := e.saleValid(p)
		if !eligible(p, saleValid) {
			continue
		}
		k := key(p, saleValid)
		score := k
		if s == StrategyNewArrivals || s == StrategyBestSellers {
			score = round2(e.productScore(p, now, saleValid))
		}
		candidates = append(candidates, scored{
			Result: Result{ID: p.ID, Score: score, Product: p},
			key:    k,
		})
	}

	slices.SortFunc(candidates, func(a, b scored) int {
		if c := cmp.Compare(b.key, a.key); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	n := truncation(len(candidates), capN, limit)
	out := make(Results, n)
	for i := range n {
		out[i] = candidates[i].Result
	}
	return out, nil
}

// RankShops orders shops by composite shop score, descending, ties by ID.
func (e *Engine) RankShops(shops []catalog.Shop, limit int) Results {
	out := make(Results, 0, len(shops))
	for i := range shops {
		sh := &shops[i]
		out = append(out, Result{ID: sh.ID, Score: e.ShopScore(sh), Shop: sh})
	}
	slices.SortFunc(out, func(a, b Result) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out[:truncation(len(out), 0, limit)]
}

// saleValid reports whether the product's price fields may be used in
// sale-dependent terms, logging violations.
func (e *Engine) saleValid(p *catalog.Product) bool {
	if err := CheckProduct(p); err != nil {
		e.lg.Warn("Excluding product from sale-dependent scoring",
			zap.Int64("product_id", p.ID),
			zap.Error(err),
		)
		return false
	}
	return true
}

// truncation returns how many of n ordered results to keep given a strategy
// cap and a caller limit (zero means none).
func truncation(n, capN, limit int) int {
	if capN > 0 {
		n = min(n, capN)
	}
	if limit > 0 {
		n = min(n, limit)
	}
	return n
}

// ln1p returns ln(n+1) for a non-negative count; negative counts are
// treated as zero.
func ln1p(n int) float64 {
	if n <= 0 {
		return 0
	}
	return math.Log(float64(n) + 1)
}

// daysSince returns whole days elapsed from t to now. Future timestamps
// yield a negative value.
func daysSince(t, now time.Time) int {
	return int(now.Sub(t) / (24 * time.Hour))
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
