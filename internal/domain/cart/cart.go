// Package cart orchestrates cart mutations: it loads the owner's cart under a
// per-owner lock, applies the pricing engine and persists the result.
package cart

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/bazaar/internal/domain/pricing"
)

// Sentinel errors for cart lookup.
var (
	ErrNotFound = errors.New("cart not found")
	ErrNoOwner  = errors.New("cart owner required: user or session")
)

// Owner identifies whose cart is addressed. A signed-in user takes
// precedence over an anonymous session.
type Owner struct {
	UserID    int64
	SessionID string
}

// UserOwner returns the owner for a signed-in user.
func UserOwner(userID int64) Owner { return Owner{UserID: userID} }

// SessionOwner returns the owner for an anonymous session.
func SessionOwner(sessionID string) Owner { return Owner{SessionID: sessionID} }

// Valid reports whether o names a user or a session.
func (o Owner) Valid() bool {
	return o.UserID > 0 || o.SessionID != ""
}

// Key returns the lock key of the owner's cart.
func (o Owner) Key() string {
	if o.UserID > 0 {
		return "cart:user:" + strconv.FormatInt(o.UserID, 10)
	}
	return "cart:session:" + o.SessionID
}

// Repository persists carts with their lines.
type Repository interface {
	// FindActive returns the active cart of owner or ErrNotFound. A session
	// owner only matches carts not yet attached to a user.
	FindActive(ctx context.Context, owner Owner) (*pricing.Cart, error)
	Get(ctx context.Context, id int64) (*pricing.Cart, error)
	// Save inserts a cart with zero ID (assigning it) or replaces the stored
	// cart and its lines in one transaction.
	Save(ctx context.Context, c *pricing.Cart) error
	Delete(ctx context.Context, id int64) error
	// ListStale returns IDs of active carts with no activity since before.
	ListStale(ctx context.Context, before time.Time, limit int) ([]int64, error)
}

// Locker provides mutual exclusion keyed by string across concurrent
// requests. The returned release function must be called exactly once.
type Locker interface {
	Lock(ctx context.Context, key string) (release func() error, err error)
}
