// Package storefront assembles the home page pools from the catalog snapshot
// through the ranking engine, memoising each ranked pool in a Cache.
package storefront

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/bazaar/internal/domain/ranking"
)

// Pool names double as cache keys.
const (
	PoolNewArrivals   = "new_arrivals"
	PoolBestSellers   = "best_sellers"
	PoolSeasonalDeals = "seasonal_deals"
	PoolFlashDeals    = "flash_deals"
	PoolTrending      = "trending"
	PoolFeatured      = "featured"
	PoolTopShops      = "top_shops"
)

// Pool sizes for pools without a strategy cap.
const (
	TrendingLimit = 9
	FeaturedLimit = 12
	TopShopsLimit = 12
)

const keyPrefix = "storefront:"

// Cache stores ranked pools for a bounded time.
type Cache interface {
	// Get returns the cached value and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// TTLs holds the cache lifetime of each pool.
type TTLs struct {
	NewArrivals   time.Duration `default:"30m"`
	BestSellers   time.Duration `default:"30m"`
	SeasonalDeals time.Duration `default:"30m"`
	FlashDeals    time.Duration `default:"15m"`
	Trending      time.Duration `default:"30m"`
	Featured      time.Duration `default:"30m"`
	TopShops      time.Duration `default:"60m"`
}

// DefaultTTLs returns the default pool lifetimes.
func DefaultTTLs() TTLs {
	return TTLs{
		NewArrivals:   30 * time.Minute,
		BestSellers:   30 * time.Minute,
		SeasonalDeals: 30 * time.Minute,
		FlashDeals:    15 * time.Minute,
		Trending:      30 * time.Minute,
		Featured:      30 * time.Minute,
		TopShops:      60 * time.Minute,
	}
}

// Home is the assembled home page.
type Home struct {
	NewArrivals   ranking.Results
	BestSellers   ranking.Results
	SeasonalDeals ranking.Results
	FlashDeals    ranking.Results
	Trending      ranking.Results
	Featured      ranking.Results
	TopShops      ranking.Results
}

// cachedEntry is one ranked entity reduced to what is cached.
type cachedEntry struct {
	ID    int64
	Score float64
}

// encodeEntries writes a ranking as [[id, score], ...]. Snapshots are not
// cached; they are re-read by ID on hit.
func encodeEntries(r ranking.Results) []byte {
	var e jx.Encoder
	e.ArrStart()
	for _, res := range r.All() {
		e.ArrStart()
		e.Int64(res.ID)
		e.Float64(res.Score)
		e.ArrEnd()
	}
	e.ArrEnd()
	return e.Bytes()
}

func decodeEntries(data []byte) ([]cachedEntry, error) {
	var out []cachedEntry
	d := jx.DecodeBytes(data)
	err := d.Arr(func(d *jx.Decoder) error {
		var (
			entry cachedEntry
			i     int
		)
		if err := d.Arr(func(d *jx.Decoder) error {
			var err error
			switch i {
			case 0:
				entry.ID, err = d.Int64()
			case 1:
				entry.Score, err = d.Float64()
			default:
				err = d.Skip()
			}
			i++
			return err
		}); err != nil {
			return err
		}
		if i < 2 {
			return errors.New("short entry")
		}
		out = append(out, entry)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode pool")
	}
	return out, nil
}
