package storefront

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/xenking/bazaar/internal/domain/catalog"
	"github.com/xenking/bazaar/internal/domain/ranking"
)

// Service builds ranked pools for the storefront.
type Service struct {
	products catalog.Repository
	shops    catalog.ShopRepository
	engine   *ranking.Engine
	cache    Cache
	ttl      TTLs

	group       singleflight.Group
	loadTimeout time.Duration
	hits        metric.Int64Counter
	misses      metric.Int64Counter
}

// DefaultLoadTimeout bounds one shared catalog load or pool computation.
const DefaultLoadTimeout = 30 * time.Second

// NewService creates a storefront Service. A nil cache disables memoisation.
func NewService(
	products catalog.Repository,
	shops catalog.ShopRepository,
	engine *ranking.Engine,
	cache Cache,
	ttl TTLs,
	mp metric.MeterProvider,
) (*Service, error) {
	meter := mp.Meter("github.com/xenking/bazaar/internal/domain/storefront")
	hits, err := meter.Int64Counter("storefront.cache.hits",
		metric.WithDescription("Ranked pools served from cache"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create hits counter")
	}
	misses, err := meter.Int64Counter("storefront.cache.misses",
		metric.WithDescription("Ranked pools computed from the catalog"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create misses counter")
	}
	return &Service{
		products:    products,
		shops:       shops,
		engine:      engine,
		cache:       cache,
		ttl:         ttl,
		loadTimeout: DefaultLoadTimeout,
		hits:        hits,
		misses:      misses,
	}, nil
}

// Home assembles every home page pool concurrently.
func (s *Service) Home(ctx context.Context) (*Home, error) {
	var home Home
	g, ctx := errgroup.WithContext(ctx)

	productPools := []struct {
		name     string
		strategy ranking.Strategy
		limit    int
		ttl      time.Duration
		dst      *ranking.Results
	}{
		{PoolNewArrivals, ranking.StrategyNewArrivals, 0, s.ttl.NewArrivals, &home.NewArrivals},
		{PoolBestSellers, ranking.StrategyBestSellers, 0, s.ttl.BestSellers, &home.BestSellers},
		{PoolSeasonalDeals, ranking.StrategySeasonalDeals, 0, s.ttl.SeasonalDeals, &home.SeasonalDeals},
		{PoolFlashDeals, ranking.StrategyFlashDeals, 0, s.ttl.FlashDeals, &home.FlashDeals},
		{PoolTrending, ranking.StrategyTrending, TrendingLimit, s.ttl.Trending, &home.Trending},
		{PoolFeatured, ranking.StrategyComposite, FeaturedLimit, s.ttl.Featured, &home.Featured},
	}
	for _, p := range productPools {
		g.Go(func() error {
			res, err := s.remember(ctx, p.name, p.ttl, s.hydrateProducts, func(ctx context.Context) (ranking.Results, error) {
				return s.Ranked(ctx, p.strategy, p.limit)
			})
			if err != nil {
				return errors.Wrapf(err, "pool %s", p.name)
			}
			*p.dst = res
			return nil
		})
	}
	g.Go(func() error {
		res, err := s.remember(ctx, PoolTopShops, s.ttl.TopShops, s.hydrateShops, func(ctx context.Context) (ranking.Results, error) {
			return s.TopShops(ctx, TopShopsLimit)
		})
		if err != nil {
			return errors.Wrapf(err, "pool %s", PoolTopShops)
		}
		home.TopShops = res
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &home, nil
}

// Ranked ranks the current catalog snapshot by strategy. It is not cached.
func (s *Service) Ranked(ctx context.Context, strategy ranking.Strategy, limit int) (ranking.Results, error) {
	pool, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return s.engine.Rank(pool, strategy, limit)
}

// TopShops ranks the current shop snapshot. It is not cached.
func (s *Service) TopShops(ctx context.Context, limit int) (ranking.Results, error) {
	v, err := s.shared(ctx, "snapshot:shops", func(ctx context.Context) (any, error) {
		return s.shops.ListRankable(ctx)
	})
	if err != nil {
		return nil, errors.Wrap(err, "list shops")
	}
	return s.engine.RankShops(v.([]catalog.Shop), limit), nil
}

// ProductScore returns the composite score of one product.
func (s *Service) ProductScore(ctx context.Context, id int64) (*catalog.Product, float64, error) {
	p, err := s.products.GetByID(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	return p, s.engine.ProductScore(p), nil
}

// snapshot loads the rankable catalog once per concurrent burst of callers.
// Callers must not modify the returned slice.
func (s *Service) snapshot(ctx context.Context) ([]catalog.Product, error) {
	v, err := s.shared(ctx, "snapshot:products", func(ctx context.Context) (any, error) {
		return s.products.ListRankable(ctx)
	})
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	return v.([]catalog.Product), nil
}

// shared runs fn once for all concurrent callers of key. fn gets a context
// detached from the caller that started it, bounded by loadTimeout, so one
// caller going away does not fail the others. Each caller stops waiting
// when its own ctx is done.
func (s *Service) shared(ctx context.Context, key string, fn func(ctx context.Context) (any, error)) (any, error) {
	ch := s.group.DoChan(key, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.loadTimeout)
		defer cancel()
		return fn(ctx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.Val, r.Err
	}
}

type hydrateFunc func(ctx context.Context, entries []cachedEntry) (ranking.Results, error)

// remember returns the pool cached under name or computes, caches and
// returns it. Concurrent misses for one pool share a single computation.
// Cache failures are logged and fall through to computation.
func (s *Service) remember(
	ctx context.Context,
	name string,
	ttl time.Duration,
	hydrate hydrateFunc,
	compute func(ctx context.Context) (ranking.Results, error),
) (ranking.Results, error) {
	lg := zctx.From(ctx).With(zap.String("pool", name))
	key := keyPrefix + name
	attrs := metric.WithAttributes(attribute.String("pool", name))

	if s.cache != nil {
		data, ok, err := s.cache.Get(ctx, key)
		switch {
		case err != nil:
			lg.Warn("Cache get failed", zap.Error(err))
		case ok:
			entries, err := decodeEntries(data)
			if err == nil {
				res, err := hydrate(ctx, entries)
				if err != nil {
					return nil, err
				}
				s.hits.Add(ctx, 1, attrs)
				return res, nil
			}
			lg.Warn("Dropping undecodable cache entry", zap.Error(err))
		}
	}
	s.misses.Add(ctx, 1, attrs)

	v, err := s.shared(ctx, "pool:"+name, func(ctx context.Context) (any, error) {
		res, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		if s.cache != nil {
			if err := s.cache.Set(ctx, key, encodeEntries(res), ttl); err != nil {
				lg.Warn("Cache set failed", zap.Error(err))
			}
		}
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(ranking.Results), nil
}

func (s *Service) hydrateProducts(ctx context.Context, entries []cachedEntry) (ranking.Results, error) {
	ids := make([]int64, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	products, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	byID := make(map[int64]*catalog.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}

	out := make(ranking.Results, 0, len(entries))
	for _, e := range entries {
		// Products deleted since caching are dropped.
		if p, ok := byID[e.ID]; ok {
			out = append(out, ranking.Result{ID: e.ID, Score: e.Score, Product: p})
		}
	}
	return out, nil
}

func (s *Service) hydrateShops(ctx context.Context, entries []cachedEntry) (ranking.Results, error) {
	ids := make([]int64, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	shops, err := s.shops.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get shops")
	}
	byID := make(map[int64]*catalog.Shop, len(shops))
	for i := range shops {
		byID[shops[i].ID] = &shops[i]
	}

	out := make(ranking.Results, 0, len(entries))
	for _, e := range entries {
		if sh, ok := byID[e.ID]; ok {
			out = append(out, ranking.Result{ID: e.ID, Score: e.Score, Shop: sh})
		}
	}
	return out, nil
}
