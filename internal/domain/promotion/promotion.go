// Package promotion defines discount codes and their validity and discount
// rules.
package promotion

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported promotion discount strategies.
type DiscountType string

const (
	// DiscountPercentage applies a percentage of the order subtotal.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed applies a fixed monetary amount.
	DiscountFixed DiscountType = "fixed"
)

var (
	// ErrNotFound is returned when no active promotion matches a code.
	ErrNotFound = errors.New("promotion not found")
	// ErrUsageExhausted is returned when a redemption would exceed the
	// usage limit.
	ErrUsageExhausted = errors.New("promotion usage limit reached")
)

// Promotion is a discount code with validity constraints and a capped
// discount computation.
type Promotion struct {
	Code           string
	Description    string
	DiscountType   DiscountType
	Value          decimal.Decimal
	MinOrderAmount decimal.Decimal
	// MaxDiscount caps the computed discount. Zero means no cap.
	MaxDiscount decimal.Decimal
	Active      bool
	ExpiresAt   *time.Time
	// UsageLimit is the maximum number of redemptions. Zero means unlimited.
	UsageLimit int
	UsedCount  int
}

var hundred = decimal.NewFromInt(100)

// Valid reports whether the promotion can be redeemed at now: active, not
// expired and under its usage limit.
func (p *Promotion) Valid(now time.Time) bool {
	if !p.Active {
		return false
	}
	if p.ExpiresAt != nil && !now.Before(*p.ExpiresAt) {
		return false
	}
	if p.UsageLimit > 0 && p.UsedCount >= p.UsageLimit {
		return false
	}
	return true
}

// Discount returns the discount for an order subtotal. Orders below the
// minimum amount get nothing; the result is capped by MaxDiscount.
func (p *Promotion) Discount(subtotal decimal.Decimal) decimal.Decimal {
	if subtotal.LessThan(p.MinOrderAmount) {
		return decimal.Zero
	}

	var amount decimal.Decimal
	switch p.DiscountType {
	case DiscountPercentage:
		amount = subtotal.Mul(p.Value).Div(hundred)
	case DiscountFixed:
		amount = p.Value
	default:
		return decimal.Zero
	}

	if p.MaxDiscount.IsPositive() {
		amount = decimal.Min(amount, p.MaxDiscount)
	}
	if amount.IsNegative() {
		return decimal.Zero
	}
	return amount
}

// Validate checks the fields an operator must supply when creating or
// importing a promotion.
func (p *Promotion) Validate() error {
	switch {
	case strings.TrimSpace(p.Code) == "":
		return errors.New("code is required")
	case p.DiscountType != DiscountPercentage && p.DiscountType != DiscountFixed:
		return errors.Errorf("unsupported discount type %q", p.DiscountType)
	case !p.Value.IsPositive():
		return errors.New("discount value must be positive")
	case p.DiscountType == DiscountPercentage && p.Value.GreaterThan(hundred):
		return errors.New("percentage discount cannot exceed 100")
	case p.MinOrderAmount.IsNegative():
		return errors.New("minimum order amount cannot be negative")
	case p.MaxDiscount.IsNegative():
		return errors.New("max discount cannot be negative")
	case p.UsageLimit < 0:
		return errors.New("usage limit cannot be negative")
	}
	return nil
}

// NormalizeCode trims surrounding whitespace from a user-entered code.
// Lookups are case-insensitive, so case is preserved for display.
func NormalizeCode(code string) string {
	return strings.TrimSpace(code)
}

// Repository provides lookup and mutation of promotions.
type Repository interface {
	// FindByCode returns the active promotion with the given code
	// (case-insensitive) or ErrNotFound.
	FindByCode(ctx context.Context, code string) (*Promotion, error)
	// IncrementUsage counts one redemption of code, or returns
	// ErrUsageExhausted when the limit is already reached.
	IncrementUsage(ctx context.Context, code string) error
}
