package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	goredis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/xenking/bazaar/internal/domain/cart"
	"github.com/xenking/bazaar/internal/domain/ranking"
	"github.com/xenking/bazaar/internal/domain/storefront"
	"github.com/xenking/bazaar/internal/domain/wishlist"
	"github.com/xenking/bazaar/internal/handler"
	"github.com/xenking/bazaar/internal/storage/memory"
	"github.com/xenking/bazaar/internal/storage/postgres"
	"github.com/xenking/bazaar/internal/storage/redis"
	"github.com/xenking/bazaar/pkg/health"
	"github.com/xenking/bazaar/pkg/httpmiddleware"
)

// ports groups the storage adapters that have an in-process and a Redis
// implementation.
type ports struct {
	cache   storefront.Cache
	locker  cart.Locker
	limiter httpmiddleware.Limiter
}

// service is the fully wired API without its listener.
type service struct {
	handler http.Handler
	health  *health.Health
	closers []func()
}

// Close releases resources in reverse acquisition order.
func (s *service) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	svc, err := newService(ctx, lg, m, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	svc.health.Start(ctx, 10*time.Second)
	svc.health.SetReady(true)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           svc.handler,
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		svc.health.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		svc.health.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// newService connects storage, builds the domain services and assembles the
// middleware chain. Background goroutines stop when ctx is done.
func newService(ctx context.Context, lg *zap.Logger, t httpmiddleware.Telemetry, cfg *Config) (_ *service, rerr error) {
	svc := &service{health: health.New()}
	defer func() {
		if rerr != nil {
			svc.Close()
		}
	}()

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	svc.closers = append(svc.closers, pool.Close)

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return nil, errors.Wrap(err, "run migrations")
	}

	// Health check service.
	svc.health.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck("postgres", pool.Ping))
	svc.health.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Cache, cart lock and rate limiter: Redis when configured.
	var (
		p        ports
		memCache *memory.Cache
	)
	if cfg.Redis.Addr != "" {
		rdb, err := redis.NewClient(ctx, redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, errors.Wrap(err, "connect redis")
		}
		svc.closers = append(svc.closers, func() { _ = rdb.Close() })

		svc.health.AddReadinessCheck("redis", 2*time.Second, health.PingCheck("redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}))
		p = redisPorts(rdb, cfg)
		lg.Info("Using Redis", zap.String("addr", cfg.Redis.Addr))
	} else {
		memCache = memory.NewCache()
		window := httpmiddleware.NewSlidingWindow(cfg.RateLimit.Max, cfg.RateLimit.Window)
		go window.RunSweeper(ctx)
		p = ports{cache: memCache, locker: memory.NewLocker(), limiter: window}
		lg.Info("Redis not configured, using in-process cache and locks")
	}

	// Repositories.
	productRepo := postgres.NewProductRepository(pool)
	shopRepo := postgres.NewShopRepository(pool)
	promotionRepo := postgres.NewPromotionRepository(pool)
	cartRepo := postgres.NewCartRepository(pool)
	wishlistRepo := postgres.NewWishlistRepository(pool)

	// Domain services.
	engine := ranking.NewEngine(lg.Named("ranking"))
	storefrontSvc, err := storefront.NewService(productRepo, shopRepo, engine, p.cache, cfg.Cache, t.MeterProvider())
	if err != nil {
		return nil, errors.Wrap(err, "create storefront service")
	}
	cartSvc := cart.NewService(cartRepo, productRepo, promotionRepo, p.locker, t.TracerProvider())
	wishlistSvc := wishlist.NewService(wishlistRepo, productRepo, cartSvc, p.locker, []byte(cfg.ShareKey))

	// Background sweeps.
	sweeper, err := NewSweeper(lg.Named("sweeper"), cartSvc, cfg.Sweeper)
	if err != nil {
		return nil, err
	}
	if memCache != nil {
		sweeper.Also(func() {
			if n := memCache.Sweep(); n > 0 {
				lg.Debug("Expired cache entries dropped", zap.Int("count", n))
			}
		})
	}
	sweeper.Start()
	svc.closers = append(svc.closers, sweeper.Stop)

	// Mux: health endpoints + API routes on one server.
	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", svc.health.LiveEndpoint)
	mux.HandleFunc("GET /readyz", svc.health.ReadyEndpoint)
	handler.New(storefrontSvc, cartSvc, wishlistSvc).Register(mux)
	routeFinder := httpmiddleware.MakeRouteFinder(mux)

	svc.handler = httpmiddleware.Wrap(mux,
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins: cfg.CORS.Origins,
			AllowHeaders: []string{
				"Content-Type",
				httpmiddleware.HeaderUserID,
				httpmiddleware.HeaderSessionID,
				httpmiddleware.HeaderRequestID,
			},
			ExposeHeaders: []string{
				httpmiddleware.HeaderSessionID,
				httpmiddleware.HeaderRequestID,
			},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
		httpmiddleware.RateLimit(httpmiddleware.RateLimitConfig{
			Max:     cfg.RateLimit.Max,
			Window:  cfg.RateLimit.Window,
			KeyFunc: httpmiddleware.ShopperKey,
			Limiter: p.limiter,
		}),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(lg),
		httpmiddleware.Instrument("bazaar-api", routeFinder, t),
		httpmiddleware.LogRequests(routeFinder),
		httpmiddleware.Labeler(routeFinder),
	)
	return svc, nil
}

func redisPorts(rdb *goredis.Client, cfg *Config) ports {
	return ports{
		cache:   redis.NewCache(rdb, "bazaar:"),
		locker:  redis.NewLocker(rdb, redis.LockerOptions{}),
		limiter: redis.NewRateLimiter(rdb, cfg.RateLimit.Max, cfg.RateLimit.Window),
	}
}
