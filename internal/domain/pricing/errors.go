package pricing

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Sentinel errors for cart and wishlist state.
var (
	ErrCartClosed      = errors.New("cart is no longer active")
	ErrWishlistPrivate = errors.New("wishlist is not public")
)

// ValidationError reports malformed input. Nothing is applied when it is
// returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// UnavailableError reports a product that is inactive or short on stock at
// add or update time. The cart is left unchanged.
type UnavailableError struct {
	ProductID int64
	Reason    string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("product %d unavailable: %s", e.ProductID, e.Reason)
}
