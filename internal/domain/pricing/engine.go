// Package pricing manages cart and wishlist lines and derives cart totals:
// subtotal, per-item sale discount, capped promotion discount and total.
//
// Every mutation recomputes totals from lines and the stored promotion code
// before returning. Mutations are all-or-nothing: on error the cart is left
// as it was.
package pricing

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/bazaar/internal/domain/catalog"
	"github.com/xenking/bazaar/internal/domain/promotion"
)

// PromotionLookup resolves a promotion code. It returns promotion.ErrNotFound
// when no active promotion has that code.
type PromotionLookup interface {
	FindByCode(ctx context.Context, code string) (*promotion.Promotion, error)
}

// Engine applies line mutations to carts and recomputes their totals.
type Engine struct {
	promotions PromotionLookup
	now        func() time.Time
}

// NewEngine creates an Engine resolving promotion codes through promotions.
func NewEngine(promotions PromotionLookup) *Engine {
	return &Engine{promotions: promotions, now: time.Now}
}

// AddLine adds product to the cart or replaces the existing line for it
// (quantity, price snapshot and options are replaced, not summed).
func (e *Engine) AddLine(ctx context.Context, c *Cart, p *catalog.Product, qty int, opts Options) (*Line, error) {
	if err := checkOpen(c); err != nil {
		return nil, err
	}
	if qty < 1 {
		return nil, &ValidationError{Field: "quantity", Reason: "must be at least 1"}
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if !p.ListPrice.IsPositive() {
		return nil, &ValidationError{Field: "price", Reason: "product has no valid price"}
	}
	if err := CheckAvailable(p, qty); err != nil {
		return nil, err
	}

	lines := cloneLines(c.Lines)
	l := snapshotLine(p, qty, opts)
	idx := c.lineIndex(p.ID)
	if idx >= 0 {
		l.ID = lines[idx].ID
		lines[idx] = l
	} else {
		l.ID = c.nextLineID()
		lines = append(lines, l)
		idx = len(lines) - 1
	}

	if err := e.commit(ctx, c, lines, c.PromotionCode); err != nil {
		return nil, err
	}
	out := c.Lines[idx]
	return &out, nil
}

// RemoveLine removes the line with lineID. It reports false, without error,
// when there is no such line.
func (e *Engine) RemoveLine(ctx context.Context, c *Cart, lineID int64) (bool, error) {
	if err := checkOpen(c); err != nil {
		return false, err
	}
	idx := -1
	for i := range c.Lines {
		if c.Lines[i].ID == lineID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, nil
	}

	lines := make([]Line, 0, len(c.Lines)-1)
	lines = append(lines, c.Lines[:idx]...)
	lines = append(lines, c.Lines[idx+1:]...)
	if err := e.commit(ctx, c, lines, c.PromotionCode); err != nil {
		return false, err
	}
	return true, nil
}

// UpdateQuantity sets the quantity of the line for productID. It returns nil
// when the cart has no such line. Availability is the caller's concern; see
// CheckAvailable.
func (e *Engine) UpdateQuantity(ctx context.Context, c *Cart, productID int64, qty int) (*Line, error) {
	if err := checkOpen(c); err != nil {
		return nil, err
	}
	if qty < 1 {
		return nil, &ValidationError{Field: "quantity", Reason: "must be at least 1"}
	}
	idx := c.lineIndex(productID)
	if idx < 0 {
		return nil, nil
	}

	lines := cloneLines(c.Lines)
	lines[idx].Quantity = qty
	if err := e.commit(ctx, c, lines, c.PromotionCode); err != nil {
		return nil, err
	}
	out := c.Lines[idx]
	return &out, nil
}

// RecomputeTotals derives the cart totals from its lines and promotion code.
// Calling it repeatedly without mutations yields identical totals.
func (e *Engine) RecomputeTotals(ctx context.Context, c *Cart) error {
	totals, err := e.totals(ctx, c.Lines, c.PromotionCode)
	if err != nil {
		return err
	}
	c.Totals = totals
	return nil
}

// ApplyPromotion stores code on the cart and recomputes totals. A code that
// does not resolve to a valid promotion is still stored; it contributes no
// discount and Totals.PromotionValid is false.
func (e *Engine) ApplyPromotion(ctx context.Context, c *Cart, code string) error {
	if err := checkOpen(c); err != nil {
		return err
	}
	code = promotion.NormalizeCode(code)
	if code == "" {
		return &ValidationError{Field: "code", Reason: "must not be empty"}
	}
	return e.commit(ctx, c, c.Lines, code)
}

// RemovePromotion clears the promotion code and recomputes totals.
func (e *Engine) RemovePromotion(ctx context.Context, c *Cart) error {
	if err := checkOpen(c); err != nil {
		return err
	}
	return e.commit(ctx, c, c.Lines, "")
}

// Clear drops every line and zeroes totals. The promotion code is kept so
// that it applies again once the cart is refilled.
func (e *Engine) Clear(c *Cart) error {
	if err := checkOpen(c); err != nil {
		return err
	}
	c.Lines = nil
	c.Totals = zeroTotals()
	c.LastActivityAt = e.now()
	return nil
}

// Merge folds the lines of src into dst with AddLine semantics: a line of
// src replaces the dst line for the same product. Snapshots are taken from
// src lines, so no product reads are needed. src is not modified.
func (e *Engine) Merge(ctx context.Context, dst, src *Cart) error {
	if err := checkOpen(dst); err != nil {
		return err
	}

	lines := cloneLines(dst.Lines)
	next := dst.nextLineID()
	for _, sl := range src.Lines {
		l := sl
		l.Options = sl.Options.Clone()
		found := false
		for i := range lines {
			if lines[i].ProductID == l.ProductID {
				l.ID = lines[i].ID
				lines[i] = l
				found = true
				break
			}
		}
		if !found {
			l.ID = next
			next++
			lines = append(lines, l)
		}
	}
	return e.commit(ctx, dst, lines, dst.PromotionCode)
}

// MarkConverted moves an active cart to converted.
func (e *Engine) MarkConverted(c *Cart) error {
	return e.transition(c, StatusConverted)
}

// MarkAbandoned moves an active cart to abandoned.
func (e *Engine) MarkAbandoned(c *Cart) error {
	return e.transition(c, StatusAbandoned)
}

func (e *Engine) transition(c *Cart, to Status) error {
	if err := checkOpen(c); err != nil {
		return err
	}
	c.Status = to
	c.LastActivityAt = e.now()
	return nil
}

// Promotion resolves code to a promotion. Unknown codes yield nil without
// error.
func (e *Engine) Promotion(ctx context.Context, code string) (*promotion.Promotion, error) {
	if code == "" || e.promotions == nil {
		return nil, nil
	}
	promo, err := e.promotions.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, promotion.ErrNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "lookup promotion")
	}
	return promo, nil
}

// commit computes totals for lines and code and only then writes them to c.
func (e *Engine) commit(ctx context.Context, c *Cart, lines []Line, code string) error {
	totals, err := e.totals(ctx, lines, code)
	if err != nil {
		return err
	}
	c.Lines = lines
	c.PromotionCode = code
	c.Totals = totals
	c.LastActivityAt = e.now()
	return nil
}

func (e *Engine) totals(ctx context.Context, lines []Line, code string) (Totals, error) {
	if len(lines) == 0 {
		return zeroTotals(), nil
	}
	promo, err := e.Promotion(ctx, code)
	if err != nil {
		return Totals{}, err
	}
	return ComputeTotals(lines, promo, e.now()), nil
}

// ComputeTotals derives cart totals from lines and an optional promotion:
//
//	subtotal      = sum(unit * qty)
//	itemDiscount  = sum over on-sale lines of (list - sale) * qty
//	promotion     = promo.Discount(subtotal) when promo is valid at now
//	discountTotal = itemDiscount + promotion
//	total         = max(0, subtotal - discountTotal)
//
// Money is rounded to two places. An empty cart has all-zero totals.
func ComputeTotals(lines []Line, promo *promotion.Promotion, now time.Time) Totals {
	if len(lines) == 0 {
		return zeroTotals()
	}

	subtotal := decimal.Zero
	itemDiscount := decimal.Zero
	for i := range lines {
		l := &lines[i]
		qty := decimal.NewFromInt(int64(l.Quantity))
		subtotal = subtotal.Add(l.UnitPrice.Mul(qty))
		if l.OnSale() {
			itemDiscount = itemDiscount.Add(l.ListPrice.Sub(*l.SalePrice).Mul(qty))
		}
	}

	promoDiscount := decimal.Zero
	valid := false
	if promo != nil && promo.Valid(now) && subtotal.GreaterThanOrEqual(promo.MinOrderAmount) {
		promoDiscount = promo.Discount(subtotal)
		valid = true
	}

	discountTotal := itemDiscount.Add(promoDiscount)
	total := subtotal.Sub(discountTotal)
	if total.IsNegative() {
		total = decimal.Zero
	}

	return Totals{
		Subtotal:          subtotal.Round(2),
		ItemDiscount:      itemDiscount.Round(2),
		PromotionDiscount: promoDiscount.Round(2),
		DiscountTotal:     discountTotal.Round(2),
		Total:             total.Round(2),
		PromotionValid:    valid,
	}
}

// CheckAvailable returns an *UnavailableError unless qty units of p can be
// sold.
func CheckAvailable(p *catalog.Product, qty int) error {
	if !p.Active {
		return &UnavailableError{ProductID: p.ID, Reason: "product is not active"}
	}
	if p.Stock < qty {
		return &UnavailableError{ProductID: p.ID, Reason: "insufficient stock"}
	}
	return nil
}

func checkOpen(c *Cart) error {
	if c.Status != StatusActive {
		return errors.Wrapf(ErrCartClosed, "cart %d is %s", c.ID, c.Status)
	}
	return nil
}

func cloneLines(lines []Line) []Line {
	out := make([]Line, len(lines), len(lines)+1)
	copy(out, lines)
	return out
}

func zeroTotals() Totals {
	return Totals{
		Subtotal:          decimal.Zero,
		ItemDiscount:      decimal.Zero,
		PromotionDiscount: decimal.Zero,
		DiscountTotal:     decimal.Zero,
		Total:             decimal.Zero,
	}
}
