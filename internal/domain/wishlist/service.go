// Package wishlist manages users' saved-product lists: CRUD, item
// management, sharing and moving items into the cart.
package wishlist

import (
	"context"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/bazaar/internal/domain/cart"
	"github.com/xenking/bazaar/internal/domain/catalog"
	"github.com/xenking/bazaar/internal/domain/pricing"
)

// ErrNotFound is returned for missing wishlists and for wishlists owned by
// another user.
var ErrNotFound = errors.New("wishlist not found")

// MaxNameLen bounds wishlist names.
const MaxNameLen = 255

// Repository persists wishlists with their lines.
type Repository interface {
	ListByUser(ctx context.Context, userID int64) ([]pricing.Wishlist, error)
	Get(ctx context.Context, id int64) (*pricing.Wishlist, error)
	// Save inserts a wishlist with zero ID (assigning it) or replaces the
	// stored one and its lines.
	Save(ctx context.Context, w *pricing.Wishlist) error
	Delete(ctx context.Context, id int64) error
}

// Carts reads and fills shopper carts. *cart.Service implements it.
type Carts interface {
	Get(ctx context.Context, owner cart.Owner) (pricing.Summary, error)
	AddItem(ctx context.Context, owner cart.Owner, productID int64, qty int, opts pricing.Options) (pricing.Summary, error)
}

// Input holds the user-editable wishlist fields.
type Input struct {
	Name        string
	Description string
	IsPublic    bool
	MaxItems    int
}

func (in *Input) validate() error {
	in.Name = strings.TrimSpace(in.Name)
	switch {
	case in.Name == "":
		return &pricing.ValidationError{Field: "name", Reason: "must not be empty"}
	case utf8.RuneCountInString(in.Name) > MaxNameLen:
		return &pricing.ValidationError{Field: "name", Reason: "too long"}
	case in.MaxItems < 0:
		return &pricing.ValidationError{Field: "max_items", Reason: "must not be negative"}
	}
	return nil
}

// MoveResult reports the outcome of moving a wishlist into the cart.
type MoveResult struct {
	Cart    pricing.Summary
	Moved   []int64
	Skipped []int64
}

// Service encapsulates wishlist business logic.
type Service struct {
	wishlists Repository
	products  catalog.Repository
	carts     Carts
	locker    cart.Locker
	shareKey  []byte
	now       func() time.Time
}

// NewService creates a wishlist Service. Mutations of one wishlist are
// serialised through locker; shareKey signs share tokens.
func NewService(
	wishlists Repository,
	products catalog.Repository,
	carts Carts,
	locker cart.Locker,
	shareKey []byte,
) *Service {
	return &Service{
		wishlists: wishlists,
		products:  products,
		carts:     carts,
		locker:    locker,
		shareKey:  shareKey,
		now:       time.Now,
	}
}

// List returns the user's wishlists.
func (s *Service) List(ctx context.Context, userID int64) ([]pricing.WishlistSummary, error) {
	lists, err := s.wishlists.ListByUser(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list wishlists")
	}
	out := make([]pricing.WishlistSummary, len(lists))
	for i := range lists {
		out[i] = pricing.SummarizeWishlist(&lists[i])
	}
	return out, nil
}

// Get returns one of the user's wishlists.
func (s *Service) Get(ctx context.Context, userID, id int64) (pricing.WishlistSummary, error) {
	w, err := s.owned(ctx, userID, id)
	if err != nil {
		return pricing.WishlistSummary{}, err
	}
	return pricing.SummarizeWishlist(w), nil
}

// Create creates an empty wishlist for the user.
func (s *Service) Create(ctx context.Context, userID int64, in Input) (pricing.WishlistSummary, error) {
	if err := in.validate(); err != nil {
		return pricing.WishlistSummary{}, err
	}
	now := s.now()
	w := &pricing.Wishlist{
		UserID:      userID,
		Name:        in.Name,
		Description: in.Description,
		IsPublic:    in.IsPublic,
		MaxItems:    in.MaxItems,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.wishlists.Save(ctx, w); err != nil {
		return pricing.WishlistSummary{}, errors.Wrap(err, "save wishlist")
	}
	return pricing.SummarizeWishlist(w), nil
}

// Update replaces the editable fields of a wishlist. Lowering MaxItems
// below the current item count keeps existing items; only new additions
// are refused.
func (s *Service) Update(ctx context.Context, userID, id int64, in Input) (pricing.WishlistSummary, error) {
	if err := in.validate(); err != nil {
		return pricing.WishlistSummary{}, err
	}
	return s.mutate(ctx, userID, id, func(w *pricing.Wishlist) error {
		w.Name = in.Name
		w.Description = in.Description
		w.IsPublic = in.IsPublic
		w.MaxItems = in.MaxItems
		return nil
	})
}

// Delete removes one of the user's wishlists.
func (s *Service) Delete(ctx context.Context, userID, id int64) error {
	release, err := s.lock(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	if _, err := s.owned(ctx, userID, id); err != nil {
		return err
	}
	if err := s.wishlists.Delete(ctx, id); err != nil {
		return errors.Wrap(err, "delete wishlist")
	}
	return nil
}

// AddItem saves productID on the wishlist. The boolean is false when the
// wishlist is full.
func (s *Service) AddItem(ctx context.Context, userID, id, productID int64, opts pricing.Options) (pricing.WishlistSummary, bool, error) {
	var added bool
	sum, err := s.mutate(ctx, userID, id, func(w *pricing.Wishlist) error {
		p, err := s.product(ctx, productID)
		if err != nil {
			return err
		}
		_, added, err = pricing.AddWishlistLine(w, p, opts, s.now())
		return err
	})
	return sum, added, err
}

// RemoveItem removes productID from the wishlist. The boolean is false when
// it was not saved.
func (s *Service) RemoveItem(ctx context.Context, userID, id, productID int64) (pricing.WishlistSummary, bool, error) {
	var removed bool
	sum, err := s.mutate(ctx, userID, id, func(w *pricing.Wishlist) error {
		removed = pricing.RemoveWishlistLine(w, productID, s.now())
		return nil
	})
	return sum, removed, err
}

// Toggle saves productID when absent and removes it otherwise. The boolean
// reports whether it is saved afterwards.
func (s *Service) Toggle(ctx context.Context, userID, id, productID int64, opts pricing.Options) (pricing.WishlistSummary, bool, error) {
	var saved bool
	sum, err := s.mutate(ctx, userID, id, func(w *pricing.Wishlist) error {
		// Removal needs no product read; the product may be gone.
		if pricing.RemoveWishlistLine(w, productID, s.now()) {
			return nil
		}
		p, err := s.product(ctx, productID)
		if err != nil {
			return err
		}
		saved, err = pricing.ToggleWishlistLine(w, p, opts, s.now())
		return err
	})
	return sum, saved, err
}

// Clear drops every item of the wishlist.
func (s *Service) Clear(ctx context.Context, userID, id int64) (pricing.WishlistSummary, error) {
	return s.mutate(ctx, userID, id, func(w *pricing.Wishlist) error {
		pricing.ClearWishlist(w, s.now())
		return nil
	})
}

// Share returns the share token of a public wishlist and the path under
// which it can be viewed.
func (s *Service) Share(ctx context.Context, userID, id int64) (token, path string, err error) {
	w, err := s.owned(ctx, userID, id)
	if err != nil {
		return "", "", err
	}
	token, err = pricing.ShareToken(w, s.shareKey)
	if err != nil {
		return "", "", err
	}
	return token, "/api/wishlists/shared/" + strconv.FormatInt(w.ID, 10) + "?token=" + token, nil
}

// Shared returns a public wishlist to anyone holding its share token. Bad
// tokens and private wishlists are reported as ErrNotFound.
func (s *Service) Shared(ctx context.Context, id int64, token string) (pricing.WishlistSummary, error) {
	w, err := s.get(ctx, id)
	if err != nil {
		return pricing.WishlistSummary{}, err
	}
	if !pricing.VerifyShareToken(w, s.shareKey, token) {
		return pricing.WishlistSummary{}, ErrNotFound
	}
	return pricing.SummarizeWishlist(w), nil
}

// MoveToCart adds every wishlist item to the user's cart with quantity one.
// Items that can no longer be sold are skipped; the wishlist is unchanged.
// The result always carries the user's current cart.
func (s *Service) MoveToCart(ctx context.Context, userID, id int64) (MoveResult, error) {
	w, err := s.owned(ctx, userID, id)
	if err != nil {
		return MoveResult{}, err
	}

	lg := zctx.From(ctx)
	var res MoveResult
	for _, l := range w.Lines {
		sum, err := s.carts.AddItem(ctx, cart.UserOwner(userID), l.ProductID, 1, l.Options)
		if err != nil {
			var (
				unavailable *pricing.UnavailableError
				invalid     *pricing.ValidationError
			)
			if errors.As(err, &unavailable) || errors.As(err, &invalid) {
				lg.Debug("Skipping wishlist item", zap.Int64("product_id", l.ProductID), zap.Error(err))
				res.Skipped = append(res.Skipped, l.ProductID)
				continue
			}
			return res, errors.Wrapf(err, "add product %d to cart", l.ProductID)
		}
		res.Cart = sum
		res.Moved = append(res.Moved, l.ProductID)
	}
	if len(res.Moved) == 0 {
		if res.Cart, err = s.carts.Get(ctx, cart.UserOwner(userID)); err != nil {
			return res, errors.Wrap(err, "get cart")
		}
	}
	return res, nil
}

// Duplicate copies one of the user's wishlists under a new name.
func (s *Service) Duplicate(ctx context.Context, userID, id int64, name string) (pricing.WishlistSummary, error) {
	w, err := s.owned(ctx, userID, id)
	if err != nil {
		return pricing.WishlistSummary{}, err
	}
	dup := pricing.DuplicateWishlist(w, strings.TrimSpace(name), s.now())
	if err := s.wishlists.Save(ctx, dup); err != nil {
		return pricing.WishlistSummary{}, errors.Wrap(err, "save wishlist")
	}
	return pricing.SummarizeWishlist(dup), nil
}

// mutate runs fn on the user's wishlist under the wishlist lock and persists
// the result.
func (s *Service) mutate(ctx context.Context, userID, id int64, fn func(w *pricing.Wishlist) error) (pricing.WishlistSummary, error) {
	release, err := s.lock(ctx, id)
	if err != nil {
		return pricing.WishlistSummary{}, err
	}
	defer release()

	w, err := s.owned(ctx, userID, id)
	if err != nil {
		return pricing.WishlistSummary{}, err
	}
	if err := fn(w); err != nil {
		return pricing.WishlistSummary{}, err
	}
	w.UpdatedAt = s.now()
	if err := s.wishlists.Save(ctx, w); err != nil {
		return pricing.WishlistSummary{}, errors.Wrap(err, "save wishlist")
	}
	return pricing.SummarizeWishlist(w), nil
}

func (s *Service) lock(ctx context.Context, id int64) (func(), error) {
	key := "wishlist:" + strconv.FormatInt(id, 10)
	release, err := s.locker.Lock(ctx, key)
	if err != nil {
		return nil, errors.Wrapf(err, "lock %s", key)
	}
	return func() {
		if err := release(); err != nil {
			zctx.From(ctx).Warn("Release wishlist lock", zap.String("key", key), zap.Error(err))
		}
	}, nil
}

func (s *Service) owned(ctx context.Context, userID, id int64) (*pricing.Wishlist, error) {
	w, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if w.UserID != userID {
		return nil, ErrNotFound
	}
	return w, nil
}

func (s *Service) get(ctx context.Context, id int64) (*pricing.Wishlist, error) {
	w, err := s.wishlists.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "get wishlist %d", id)
	}
	return w, nil
}

func (s *Service) product(ctx context.Context, id int64) (*catalog.Product, error) {
	p, err := s.products.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, &pricing.ValidationError{Field: "product_id", Reason: "unknown product"}
		}
		return nil, errors.Wrapf(err, "get product %d", id)
	}
	return p, nil
}
