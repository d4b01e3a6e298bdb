// Package handler exposes the storefront, cart and wishlist services as a
// JSON HTTP API.
package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/bazaar/internal/domain/cart"
	"github.com/xenking/bazaar/internal/domain/catalog"
	"github.com/xenking/bazaar/internal/domain/pricing"
	"github.com/xenking/bazaar/internal/domain/promotion"
	"github.com/xenking/bazaar/internal/domain/ranking"
	"github.com/xenking/bazaar/internal/domain/storefront"
	"github.com/xenking/bazaar/internal/domain/wishlist"
	"github.com/xenking/bazaar/pkg/httpmiddleware"
)

// Request limits.
const (
	MaxBodyBytes    = 64 << 10
	MaxLimit        = 100
	maxSessionIDLen = 128
)

// Storefront serves ranked catalog views.
type Storefront interface {
	Home(ctx context.Context) (*storefront.Home, error)
	Ranked(ctx context.Context, strategy ranking.Strategy, limit int) (ranking.Results, error)
	TopShops(ctx context.Context, limit int) (ranking.Results, error)
	ProductScore(ctx context.Context, id int64) (*catalog.Product, float64, error)
}

// Carts mutates shopper carts.
type Carts interface {
	Get(ctx context.Context, owner cart.Owner) (pricing.Summary, error)
	AddItem(ctx context.Context, owner cart.Owner, productID int64, qty int, opts pricing.Options) (pricing.Summary, error)
	RemoveItem(ctx context.Context, owner cart.Owner, lineID int64) (pricing.Summary, bool, error)
	UpdateQuantity(ctx context.Context, owner cart.Owner, productID int64, qty int) (pricing.Summary, bool, error)
	ApplyPromotion(ctx context.Context, owner cart.Owner, code string) (pricing.Summary, error)
	RemovePromotion(ctx context.Context, owner cart.Owner) (pricing.Summary, error)
	Clear(ctx context.Context, owner cart.Owner) (pricing.Summary, error)
	MergeOnLogin(ctx context.Context, sessionID string, userID int64) (pricing.Summary, error)
	MarkConverted(ctx context.Context, id int64) error
}

// Wishlists manages user wishlists.
type Wishlists interface {
	List(ctx context.Context, userID int64) ([]pricing.WishlistSummary, error)
	Get(ctx context.Context, userID, id int64) (pricing.WishlistSummary, error)
	Create(ctx context.Context, userID int64, in wishlist.Input) (pricing.WishlistSummary, error)
	Update(ctx context.Context, userID, id int64, in wishlist.Input) (pricing.WishlistSummary, error)
	Delete(ctx context.Context, userID, id int64) error
	AddItem(ctx context.Context, userID, id, productID int64, opts pricing.Options) (pricing.WishlistSummary, bool, error)
	RemoveItem(ctx context.Context, userID, id, productID int64) (pricing.WishlistSummary, bool, error)
	Toggle(ctx context.Context, userID, id, productID int64, opts pricing.Options) (pricing.WishlistSummary, bool, error)
	Clear(ctx context.Context, userID, id int64) (pricing.WishlistSummary, error)
	Share(ctx context.Context, userID, id int64) (token, path string, err error)
	Shared(ctx context.Context, id int64, token string) (pricing.WishlistSummary, error)
	MoveToCart(ctx context.Context, userID, id int64) (wishlist.MoveResult, error)
	Duplicate(ctx context.Context, userID, id int64, name string) (pricing.WishlistSummary, error)
}

var (
	_ Storefront = (*storefront.Service)(nil)
	_ Carts      = (*cart.Service)(nil)
	_ Wishlists  = (*wishlist.Service)(nil)
)

// Handler translates HTTP requests into service calls.
type Handler struct {
	storefront Storefront
	carts      Carts
	wishlists  Wishlists
}

// New returns a Handler.
func New(sf Storefront, carts Carts, wishlists Wishlists) *Handler {
	return &Handler{storefront: sf, carts: carts, wishlists: wishlists}
}

// Register mounts every API route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/home", h.home)
	mux.HandleFunc("GET /api/products/ranked", h.rankedProducts)
	mux.HandleFunc("GET /api/products/{id}/score", h.productScore)
	mux.HandleFunc("GET /api/shops/top", h.topShops)

	mux.HandleFunc("GET /api/cart", h.getCart)
	mux.HandleFunc("DELETE /api/cart", h.clearCart)
	mux.HandleFunc("POST /api/cart/items", h.addCartItem)
	mux.HandleFunc("PATCH /api/cart/items/{productID}", h.updateCartItem)
	mux.HandleFunc("DELETE /api/cart/items/{lineID}", h.removeCartItem)
	mux.HandleFunc("POST /api/cart/promotion", h.applyPromotion)
	mux.HandleFunc("DELETE /api/cart/promotion", h.removePromotion)
	mux.HandleFunc("POST /api/cart/merge", h.mergeCart)
	mux.HandleFunc("POST /api/cart/checkout", h.checkout)

	mux.HandleFunc("GET /api/wishlists", h.listWishlists)
	mux.HandleFunc("POST /api/wishlists", h.createWishlist)
	mux.HandleFunc("GET /api/wishlists/shared/{id}", h.sharedWishlist)
	mux.HandleFunc("GET /api/wishlists/{id}", h.getWishlist)
	mux.HandleFunc("PATCH /api/wishlists/{id}", h.updateWishlist)
	mux.HandleFunc("DELETE /api/wishlists/{id}", h.deleteWishlist)
	// "{id}/share" would conflict with "shared/{id}", so the share route
	// takes the action as a wildcard.
	mux.HandleFunc("GET /api/wishlists/{id}/{action}", h.wishlistAction)
	mux.HandleFunc("POST /api/wishlists/{id}/items", h.addWishlistItem)
	mux.HandleFunc("DELETE /api/wishlists/{id}/items", h.clearWishlist)
	mux.HandleFunc("DELETE /api/wishlists/{id}/items/{productID}", h.removeWishlistItem)
	mux.HandleFunc("POST /api/wishlists/{id}/toggle", h.toggleWishlistItem)
	mux.HandleFunc("POST /api/wishlists/{id}/move-to-cart", h.moveWishlistToCart)
	mux.HandleFunc("POST /api/wishlists/{id}/duplicate", h.duplicateWishlist)
}

// requestError is a transport-level rejection with its status code.
type requestError struct {
	status  int
	message string
}

func (e *requestError) Error() string { return e.message }

func badRequest(format string, args ...any) error {
	return &requestError{status: http.StatusBadRequest, message: fmt.Sprintf(format, args...)}
}

// writeError maps err to the API error envelope.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		reqErr     *requestError
		validation *pricing.ValidationError
		rankErr    *ranking.ValidationError
		unavail    *pricing.UnavailableError
	)
	switch {
	case errors.As(err, &reqErr):
		httpmiddleware.WriteError(w, reqErr.status, reqErr.message)
	case errors.As(err, &validation):
		httpmiddleware.WriteError(w, http.StatusUnprocessableEntity, validation.Error())
	case errors.As(err, &rankErr):
		httpmiddleware.WriteError(w, http.StatusUnprocessableEntity, rankErr.Error())
	case errors.As(err, &unavail):
		httpmiddleware.WriteError(w, http.StatusConflict, unavail.Error())
	case errors.Is(err, pricing.ErrCartClosed),
		errors.Is(err, pricing.ErrWishlistPrivate),
		errors.Is(err, promotion.ErrUsageExhausted):
		httpmiddleware.WriteError(w, http.StatusConflict, rootMessage(err))
	case errors.Is(err, cart.ErrNoOwner):
		httpmiddleware.WriteError(w, http.StatusBadRequest, "shopper identity required")
	case errors.Is(err, catalog.ErrNotFound),
		errors.Is(err, cart.ErrNotFound),
		errors.Is(err, wishlist.ErrNotFound),
		errors.Is(err, promotion.ErrNotFound):
		httpmiddleware.WriteError(w, http.StatusNotFound, "not found")
	case errors.Is(err, context.DeadlineExceeded):
		httpmiddleware.WriteError(w, http.StatusServiceUnavailable, "temporarily unavailable")
	default:
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		httpmiddleware.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}

func rootMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	var e jx.Encoder
	encode(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// decodeBody reads a JSON object body field by field. An empty body is
// accepted when optional is set.
func decodeBody(r *http.Request, optional bool, field func(d *jx.Decoder, key string) error) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
	if err != nil {
		return badRequest("read body")
	}
	if len(data) > MaxBodyBytes {
		return &requestError{status: http.StatusRequestEntityTooLarge, message: "body too large"}
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		if optional {
			return nil
		}
		return badRequest("request body required")
	}
	if err := jx.DecodeBytes(data).Obj(field); err != nil {
		var reqErr *requestError
		if errors.As(err, &reqErr) {
			return reqErr
		}
		return badRequest("malformed JSON body")
	}
	return nil
}

func decodeOptions(d *jx.Decoder) (pricing.Options, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	opts := pricing.Options{}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		v, err := d.Str()
		if err != nil {
			return err
		}
		opts[key] = v
		return nil
	})
	return opts, err
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("invalid %s", name)
	}
	return id, nil
}

func queryLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 || n > MaxLimit {
		return 0, badRequest("limit must be between 0 and %d", MaxLimit)
	}
	return n, nil
}

// userID returns the authenticated user from X-User-ID, zero when absent.
func userID(r *http.Request) (int64, error) {
	raw := r.Header.Get(httpmiddleware.HeaderUserID)
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("invalid %s header", httpmiddleware.HeaderUserID)
	}
	return id, nil
}

func requireUser(r *http.Request) (int64, error) {
	id, err := userID(r)
	if err != nil {
		return 0, err
	}
	if id == 0 {
		return 0, &requestError{status: http.StatusUnauthorized, message: "X-User-ID header required"}
	}
	return id, nil
}

func sessionID(r *http.Request) (string, error) {
	s := strings.TrimSpace(r.Header.Get(httpmiddleware.HeaderSessionID))
	if len(s) > maxSessionIDLen {
		return "", badRequest("invalid %s header", httpmiddleware.HeaderSessionID)
	}
	return s, nil
}

// owner resolves the cart owner. Anonymous shoppers without a session get a
// fresh session id, returned in the X-Session-ID response header.
func owner(w http.ResponseWriter, r *http.Request) (cart.Owner, error) {
	uid, err := userID(r)
	if err != nil {
		return cart.Owner{}, err
	}
	if uid != 0 {
		return cart.UserOwner(uid), nil
	}
	sid, err := sessionID(r)
	if err != nil {
		return cart.Owner{}, err
	}
	if sid == "" {
		sid = uuid.NewString()
		w.Header().Set(httpmiddleware.HeaderSessionID, sid)
	}
	return cart.SessionOwner(sid), nil
}
