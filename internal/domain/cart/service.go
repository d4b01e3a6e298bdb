package cart

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/bazaar/internal/domain/catalog"
	"github.com/xenking/bazaar/internal/domain/pricing"
	"github.com/xenking/bazaar/internal/domain/promotion"
)

// staleBatch bounds how many carts one AbandonStale call transitions.
const staleBatch = 500

// Service encapsulates cart business logic on top of the pricing engine.
type Service struct {
	carts      Repository
	products   catalog.Repository
	promotions promotion.Repository
	engine     *pricing.Engine
	locker     Locker
	tracer     trace.Tracer
	now        func() time.Time
}

// NewService creates a cart Service with the required dependencies.
func NewService(
	carts Repository,
	products catalog.Repository,
	promotions promotion.Repository,
	locker Locker,
	tp trace.TracerProvider,
) *Service {
	return &Service{
		carts:      carts,
		products:   products,
		promotions: promotions,
		engine:     pricing.NewEngine(promotions),
		locker:     locker,
		tracer:     tp.Tracer("github.com/xenking/bazaar/internal/domain/cart"),
		now:        time.Now,
	}
}

// Get returns the summary of the owner's active cart. An owner without a
// cart gets an empty summary; nothing is persisted.
func (s *Service) Get(ctx context.Context, owner Owner) (pricing.Summary, error) {
	ctx, span := s.tracer.Start(ctx, "cart.Get")
	defer span.End()

	if !owner.Valid() {
		return pricing.Summary{}, ErrNoOwner
	}
	c, err := s.load(ctx, owner)
	if err != nil {
		return pricing.Summary{}, err
	}
	// Promotion validity depends on time and usage, so totals are
	// recomputed on read as well.
	if err := s.engine.RecomputeTotals(ctx, c); err != nil {
		return pricing.Summary{}, errors.Wrap(err, "recompute totals")
	}
	return pricing.Summarize(c), nil
}

// AddItem adds productID to the owner's cart, replacing an existing line for
// the same product.
func (s *Service) AddItem(ctx context.Context, owner Owner, productID int64, qty int, opts pricing.Options) (pricing.Summary, error) {
	return s.mutate(ctx, "cart.AddItem", owner, func(ctx context.Context, c *pricing.Cart) error {
		p, err := s.product(ctx, productID)
		if err != nil {
			return err
		}
		_, err = s.engine.AddLine(ctx, c, p, qty, opts)
		return err
	})
}

// RemoveItem removes the line lineID. The boolean is false when the cart had
// no such line.
func (s *Service) RemoveItem(ctx context.Context, owner Owner, lineID int64) (pricing.Summary, bool, error) {
	var removed bool
	sum, err := s.mutate(ctx, "cart.RemoveItem", owner, func(ctx context.Context, c *pricing.Cart) (err error) {
		removed, err = s.engine.RemoveLine(ctx, c, lineID)
		return err
	})
	return sum, removed, err
}

// UpdateQuantity sets the quantity of the productID line after re-checking
// availability. The boolean is false when the cart had no such line.
func (s *Service) UpdateQuantity(ctx context.Context, owner Owner, productID int64, qty int) (pricing.Summary, bool, error) {
	var found bool
	sum, err := s.mutate(ctx, "cart.UpdateQuantity", owner, func(ctx context.Context, c *pricing.Cart) error {
		if qty < 1 {
			return &pricing.ValidationError{Field: "quantity", Reason: "must be at least 1"}
		}
		if _, ok := c.Line(productID); !ok {
			return nil
		}
		p, err := s.product(ctx, productID)
		if err != nil {
			return err
		}
		if err := pricing.CheckAvailable(p, qty); err != nil {
			return err
		}
		l, err := s.engine.UpdateQuantity(ctx, c, productID, qty)
		found = l != nil
		return err
	})
	return sum, found, err
}

// ApplyPromotion stores code on the owner's cart. Codes that do not resolve
// to a valid promotion are kept with no discount; see
// pricing.Totals.PromotionValid.
func (s *Service) ApplyPromotion(ctx context.Context, owner Owner, code string) (pricing.Summary, error) {
	return s.mutate(ctx, "cart.ApplyPromotion", owner, func(ctx context.Context, c *pricing.Cart) error {
		return s.engine.ApplyPromotion(ctx, c, code)
	})
}

// RemovePromotion clears the promotion code of the owner's cart.
func (s *Service) RemovePromotion(ctx context.Context, owner Owner) (pricing.Summary, error) {
	return s.mutate(ctx, "cart.RemovePromotion", owner, func(ctx context.Context, c *pricing.Cart) error {
		return s.engine.RemovePromotion(ctx, c)
	})
}

// Clear drops every line of the owner's cart.
func (s *Service) Clear(ctx context.Context, owner Owner) (pricing.Summary, error) {
	return s.mutate(ctx, "cart.Clear", owner, func(_ context.Context, c *pricing.Cart) error {
		return s.engine.Clear(c)
	})
}

// MergeOnLogin folds the anonymous session cart into the user's cart. When
// the user has no active cart the session cart is attached to the user
// instead. The session cart is deleted after a merge.
func (s *Service) MergeOnLogin(ctx context.Context, sessionID string, userID int64) (pricing.Summary, error) {
	ctx, span := s.tracer.Start(ctx, "cart.MergeOnLogin")
	defer span.End()

	guestOwner, userOwner := SessionOwner(sessionID), UserOwner(userID)
	if !guestOwner.Valid() || !userOwner.Valid() {
		return pricing.Summary{}, ErrNoOwner
	}

	// Fixed order: session first, then user.
	releaseGuest, err := s.lock(ctx, guestOwner)
	if err != nil {
		return pricing.Summary{}, err
	}
	defer releaseGuest()
	releaseUser, err := s.lock(ctx, userOwner)
	if err != nil {
		return pricing.Summary{}, err
	}
	defer releaseUser()

	guest, err := s.carts.FindActive(ctx, guestOwner)
	switch {
	case errors.Is(err, ErrNotFound):
		c, err := s.load(ctx, userOwner)
		if err != nil {
			return pricing.Summary{}, err
		}
		if err := s.engine.RecomputeTotals(ctx, c); err != nil {
			return pricing.Summary{}, errors.Wrap(err, "recompute totals")
		}
		return pricing.Summarize(c), nil
	case err != nil:
		return pricing.Summary{}, errors.Wrap(err, "find session cart")
	}

	user, err := s.carts.FindActive(ctx, userOwner)
	switch {
	case errors.Is(err, ErrNotFound):
		guest.UserID = userID
		if err := s.engine.RecomputeTotals(ctx, guest); err != nil {
			return pricing.Summary{}, errors.Wrap(err, "recompute totals")
		}
		if err := s.carts.Save(ctx, guest); err != nil {
			return pricing.Summary{}, errors.Wrap(err, "save cart")
		}
		return pricing.Summarize(guest), nil
	case err != nil:
		return pricing.Summary{}, errors.Wrap(err, "find user cart")
	}

	if err := s.engine.Merge(ctx, user, guest); err != nil {
		return pricing.Summary{}, errors.Wrap(err, "merge carts")
	}
	if err := s.carts.Save(ctx, user); err != nil {
		return pricing.Summary{}, errors.Wrap(err, "save cart")
	}
	if err := s.carts.Delete(ctx, guest.ID); err != nil {
		return pricing.Summary{}, errors.Wrap(err, "delete session cart")
	}

	zctx.From(ctx).Info("Merged session cart",
		zap.Int64("user_id", userID),
		zap.Int64("cart_id", user.ID),
		zap.Int("lines", len(guest.Lines)),
	)
	return pricing.Summarize(user), nil
}

// MarkConverted closes cart id after a successful checkout and counts one
// use of its promotion when that promotion applied. The redemption is
// claimed before the cart is saved; when the limit was reached in the
// meantime the cart stays active and promotion.ErrUsageExhausted is
// returned.
func (s *Service) MarkConverted(ctx context.Context, id int64) error {
	ctx, span := s.tracer.Start(ctx, "cart.MarkConverted",
		trace.WithAttributes(attribute.Int64("cart.id", id)),
	)
	defer span.End()

	_, err := s.transition(ctx, id, func(c *pricing.Cart) error {
		if err := s.engine.MarkConverted(c); err != nil {
			return err
		}
		if c.PromotionCode == "" || !c.Totals.PromotionValid {
			return nil
		}
		if err := s.promotions.IncrementUsage(ctx, c.PromotionCode); err != nil {
			return errors.Wrapf(err, "increment usage of %q", c.PromotionCode)
		}
		return nil
	})
	return err
}

// AbandonStale moves active carts idle for longer than olderThan to
// abandoned and returns how many were moved.
func (s *Service) AbandonStale(ctx context.Context, olderThan time.Duration) (int, error) {
	ctx, span := s.tracer.Start(ctx, "cart.AbandonStale")
	defer span.End()

	ids, err := s.carts.ListStale(ctx, s.now().Add(-olderThan), staleBatch)
	if err != nil {
		return 0, errors.Wrap(err, "list stale carts")
	}

	lg := zctx.From(ctx)
	n := 0
	for _, id := range ids {
		if _, err := s.transition(ctx, id, s.engine.MarkAbandoned); err != nil {
			if errors.Is(err, pricing.ErrCartClosed) || errors.Is(err, ErrNotFound) {
				continue
			}
			return n, err
		}
		n++
	}
	span.SetAttributes(attribute.Int("cart.abandoned", n))
	if n > 0 {
		lg.Info("Abandoned stale carts", zap.Int("count", n), zap.Duration("older_than", olderThan))
	}
	return n, nil
}

// transition applies a status change to cart id under its owner's lock.
func (s *Service) transition(ctx context.Context, id int64, apply func(*pricing.Cart) error) (*pricing.Cart, error) {
	c, err := s.carts.Get(ctx, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get cart %d", id)
	}
	release, err := s.lock(ctx, Owner{UserID: c.UserID, SessionID: c.SessionID})
	if err != nil {
		return nil, err
	}
	defer release()

	// Re-read under the lock.
	c, err = s.carts.Get(ctx, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get cart %d", id)
	}
	if err := s.engine.RecomputeTotals(ctx, c); err != nil {
		return nil, errors.Wrap(err, "recompute totals")
	}
	if err := apply(c); err != nil {
		return nil, err
	}
	if err := s.carts.Save(ctx, c); err != nil {
		return nil, errors.Wrap(err, "save cart")
	}
	return c, nil
}

// mutate runs fn on the owner's active cart under the owner's lock and
// persists the result. Untouched new carts are not persisted.
func (s *Service) mutate(
	ctx context.Context,
	op string,
	owner Owner,
	fn func(ctx context.Context, c *pricing.Cart) error,
) (pricing.Summary, error) {
	ctx, span := s.tracer.Start(ctx, op)
	defer span.End()

	if !owner.Valid() {
		return pricing.Summary{}, ErrNoOwner
	}
	release, err := s.lock(ctx, owner)
	if err != nil {
		return pricing.Summary{}, err
	}
	defer release()

	c, err := s.load(ctx, owner)
	if err != nil {
		return pricing.Summary{}, err
	}
	span.SetAttributes(attribute.Int64("cart.id", c.ID))

	if err := fn(ctx, c); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return pricing.Summary{}, err
	}
	if c.ID == 0 && len(c.Lines) == 0 && c.PromotionCode == "" {
		return pricing.Summarize(c), nil
	}
	if err := s.carts.Save(ctx, c); err != nil {
		return pricing.Summary{}, errors.Wrap(err, "save cart")
	}
	return pricing.Summarize(c), nil
}

// load returns the owner's active cart or a new unsaved one.
func (s *Service) load(ctx context.Context, owner Owner) (*pricing.Cart, error) {
	c, err := s.carts.FindActive(ctx, owner)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return pricing.NewCart(owner.UserID, owner.SessionID, s.now()), nil
		}
		return nil, errors.Wrap(err, "find cart")
	}
	return c, nil
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

// lock acquires the owner's cart lock. The returned function releases it and
// logs release failures.
func (s *Service) lock(ctx context.Context, owner Owner) (func(), error) {
	key := owner.Key()
	release, err := s.locker.Lock(ctx, key)
	if err != nil {
		return nil, errors.Wrapf(err, "lock %s", key)
	}
	return func() {
		if err := release(); err != nil {
			zctx.From(ctx).Warn("Release cart lock", zap.String("key", key), zap.Error(err))
		}
	}, nil
}
