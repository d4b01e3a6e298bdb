//go:build integration

package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/bazaar/internal/domain/catalog"
	"github.com/xenking/bazaar/internal/domain/promotion"
	"github.com/xenking/bazaar/internal/storage/postgres"
)

// End-to-end tests drive the fully wired API against a real PostgreSQL and
// decode responses into local types only.

var baseURL string

type noopTelemetry struct{}

func (noopTelemetry) TracerProvider() trace.TracerProvider { return tracenoop.NewTracerProvider() }

func (noopTelemetry) MeterProvider() metric.MeterProvider { return metricnoop.NewMeterProvider() }

type cartResponse struct {
	CartID         int64   `json:"cart_id"`
	Status         string  `json:"status"`
	ItemsCount     int     `json:"items_count"`
	PromotionCode  *string `json:"promotion_code"`
	PromotionValid bool    `json:"promotion_valid"`
	Subtotal       float64 `json:"subtotal"`
	Total          float64 `json:"total"`
	Items          []struct {
		ID        int64 `json:"id"`
		ProductID int64 `json:"product_id"`
		Quantity  int   `json:"quantity"`
	} `json:"items"`
}

type wishlistResponse struct {
	WishlistID int64 `json:"wishlist_id"`
	IsPublic   bool  `json:"is_public"`
	ItemsCount int   `json:"items_count"`
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startCtx, startCancel := context.WithTimeout(ctx, 3*time.Minute)
	defer startCancel()

	container, err := testcontainers.GenericContainer(startCtx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:17-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "bazaar",
				"POSTGRES_PASSWORD": "bazaar",
				"POSTGRES_DB":       "bazaar",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() { _ = container.Terminate(context.Background()) }()

	host, err := container.Host(startCtx)
	if err != nil {
		log.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(startCtx, "5432/tcp")
	if err != nil {
		log.Fatalf("mapped port: %v", err)
	}

	cfg := &Config{
		DatabaseURL: fmt.Sprintf("postgres://bazaar:bazaar@%s:%s/bazaar?sslmode=disable", host, port.Port()),
		ShareKey:    "integration",
		Sweeper:     SweeperConfig{Schedule: "@every 1h", AbandonAfter: 72 * time.Hour},
		RateLimit:   RateLimitConfig{Max: 10000, Window: time.Minute},
		CORS:        CORSConfig{Origins: []string{"*"}},
	}
	svc, err := newService(ctx, zap.NewNop(), noopTelemetry{}, cfg)
	if err != nil {
		log.Fatalf("service: %v", err)
	}
	defer svc.Close()
	svc.health.Start(ctx, time.Second)
	svc.health.SetReady(true)
	defer svc.health.Stop()

	if err := seedCatalog(startCtx, cfg.DatabaseURL); err != nil {
		log.Fatalf("seed: %v", err)
	}

	srv := httptest.NewServer(svc.handler)
	defer srv.Close()
	baseURL = srv.URL
	return m.Run()
}

func seedCatalog(ctx context.Context, url string) error {
	pool, err := postgres.NewPool(ctx, url)
	if err != nil {
		return err
	}
	defer pool.Close()

	now := time.Now().UTC()
	sale := decimal.RequireFromString("27.50")
	if err := postgres.UpsertShops(ctx, pool, []catalog.Shop{
		{ID: 1, Name: "Northwind Ceramics", AvgRating: 4.7, ReviewCount: 1280, OrderCount: 5400, Verified: true},
		{ID: 2, Name: "Loom & Thread", AvgRating: 4.4, ReviewCount: 640, OrderCount: 2100, Verified: true},
	}); err != nil {
		return err
	}
	if err := postgres.UpsertProducts(ctx, pool, []catalog.Product{
		{ID: 1, ShopID: 1, Name: "Speckled Mug", Rating: 4.8, ReviewCount: 420, SalesCount: 1900, ViewCount: 15000,
			ListPrice: decimal.RequireFromString("24.00"), Stock: 120, Active: true, CreatedAt: now.AddDate(0, 0, -200)},
		{ID: 2, ShopID: 2, Name: "Merino Scarf", Rating: 4.5, ReviewCount: 300, SalesCount: 1200, ViewCount: 9900,
			ListPrice: decimal.RequireFromString("55.00"), SalePrice: &sale, Stock: 60, Active: true, CreatedAt: now.AddDate(0, 0, -20)},
		{ID: 3, ShopID: 2, Name: "Retired Tote", Rating: 3.9, ReviewCount: 12, SalesCount: 40, ViewCount: 600,
			ListPrice: decimal.RequireFromString("18.00"), Stock: 10, Active: false, CreatedAt: now.AddDate(0, 0, -400)},
	}); err != nil {
		return err
	}
	if err := postgres.UpsertPromotions(ctx, pool, []promotion.Promotion{
		{Code: "WELCOME10", DiscountType: promotion.DiscountPercentage, Value: decimal.NewFromInt(10), Active: true},
	}); err != nil {
		return err
	}
	return postgres.SyncSequences(ctx, pool)
}

func call(t *testing.T, method, path string, body any, headers map[string]string) *http.Response {
	t.Helper()

	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(t.Context(), method, baseURL+path, r)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	for _, path := range []string{"/livez", "/readyz"} {
		resp := call(t, http.MethodGet, path, nil, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestStorefrontEndToEnd(t *testing.T) {
	t.Run("Ranked", func(t *testing.T) {
		resp := call(t, http.MethodGet, "/api/products/ranked?strategy=composite&limit=10", nil, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		body := decodeBody[struct {
			Strategy string `json:"strategy"`
			Products []struct {
				ID int64 `json:"id"`
			} `json:"products"`
		}](t, resp)
		assert.Equal(t, "composite", body.Strategy)
		require.NotEmpty(t, body.Products)
		for _, p := range body.Products {
			assert.NotEqual(t, int64(3), p.ID, "inactive product must not rank")
		}
	})
	t.Run("UnknownStrategy", func(t *testing.T) {
		resp := call(t, http.MethodGet, "/api/products/ranked?strategy=random", nil, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	})
	t.Run("Home", func(t *testing.T) {
		resp := call(t, http.MethodGet, "/api/home", nil, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body := decodeBody[map[string]json.RawMessage](t, resp)
		assert.Contains(t, body, "trending")
	})
	t.Run("TopShops", func(t *testing.T) {
		resp := call(t, http.MethodGet, "/api/shops/top?limit=5", nil, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body := decodeBody[struct {
			Shops []struct {
				ID int64 `json:"id"`
			} `json:"shops"`
		}](t, resp)
		assert.Len(t, body.Shops, 2)
	})
	t.Run("Score", func(t *testing.T) {
		resp := call(t, http.MethodGet, "/api/products/1/score", nil, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body := decodeBody[struct {
			ID    int64   `json:"id"`
			Score float64 `json:"composite_score"`
		}](t, resp)
		assert.Equal(t, int64(1), body.ID)
		assert.Positive(t, body.Score)
	})
	t.Run("ScoreNotFound", func(t *testing.T) {
		resp := call(t, http.MethodGet, "/api/products/999/score", nil, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestCartEndToEnd(t *testing.T) {
	session := map[string]string{"X-Session-ID": "e2e-session"}

	resp := call(t, http.MethodPost, "/api/cart/items", map[string]any{"product_id": 1, "quantity": 2}, session)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	c := decodeBody[cartResponse](t, resp)
	assert.Equal(t, 1, len(c.Items))
	assert.Equal(t, 48.0, c.Total)

	resp = call(t, http.MethodPost, "/api/cart/promotion", map[string]string{"code": "NOPE"}, session)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	c = decodeBody[cartResponse](t, resp)
	assert.False(t, c.PromotionValid, "unknown codes are kept but never discount")
	assert.Equal(t, 48.0, c.Total)

	resp = call(t, http.MethodPost, "/api/cart/promotion", map[string]string{"code": "welcome10"}, session)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	c = decodeBody[cartResponse](t, resp)
	require.NotNil(t, c.PromotionCode)
	assert.Equal(t, "WELCOME10", *c.PromotionCode)
	assert.True(t, c.PromotionValid)
	assert.Equal(t, 43.2, c.Total)

	resp = call(t, http.MethodPost, "/api/cart/items", map[string]any{"product_id": 3}, session)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "inactive product")
	assert.Equal(t, http.StatusConflict, decodeBody[errorResponse](t, resp).Code)

	// Log in: the session cart folds into the user's cart.
	user := map[string]string{"X-User-ID": "501", "X-Session-ID": "e2e-session"}
	resp = call(t, http.MethodPost, "/api/cart/merge", nil, user)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	c = decodeBody[cartResponse](t, resp)
	require.Len(t, c.Items, 1)
	assert.Equal(t, 2, c.Items[0].Quantity)

	resp = call(t, http.MethodPatch, "/api/cart/items/1", map[string]int{"quantity": 3}, user)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = call(t, http.MethodPost, "/api/cart/checkout", nil, user)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "converted", decodeBody[cartResponse](t, resp).Status)

	resp = call(t, http.MethodGet, "/api/cart", nil, user)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Zero(t, decodeBody[cartResponse](t, resp).ItemsCount, "checkout starts a fresh cart")

	resp = call(t, http.MethodPost, "/api/cart/checkout", nil, user)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestWishlistEndToEnd(t *testing.T) {
	user := map[string]string{"X-User-ID": "777"}

	resp := call(t, http.MethodPost, "/api/wishlists", map[string]any{"name": "Gifts", "is_public": true}, user)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	w := decodeBody[wishlistResponse](t, resp)
	require.NotZero(t, w.WishlistID)
	base := fmt.Sprintf("/api/wishlists/%d", w.WishlistID)

	resp = call(t, http.MethodPost, base+"/items", map[string]any{"product_id": 2}, user)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = call(t, http.MethodGet, base, nil, map[string]string{"X-User-ID": "778"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "other users cannot read it")

	resp = call(t, http.MethodGet, base+"/share", nil, user)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	share := decodeBody[struct {
		Token string `json:"token"`
		Path  string `json:"path"`
	}](t, resp)
	require.NotEmpty(t, share.Token)

	resp = call(t, http.MethodGet, share.Path, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, decodeBody[wishlistResponse](t, resp).ItemsCount)

	resp = call(t, http.MethodGet, fmt.Sprintf("/api/wishlists/shared/%d?token=forged", w.WishlistID), nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = call(t, http.MethodPost, base+"/move-to-cart", nil, user)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	move := decodeBody[struct {
		Moved []int64      `json:"moved"`
		Cart  cartResponse `json:"cart"`
	}](t, resp)
	assert.Equal(t, []int64{2}, move.Moved)
	assert.Equal(t, 1, move.Cart.ItemsCount)

	resp = call(t, http.MethodDelete, base, nil, user)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}
