package pricing

import (
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/xenking/bazaar/internal/domain/catalog"
)

// Status is the lifecycle state of a cart.
type Status string

const (
	StatusActive    Status = "active"
	StatusConverted Status = "converted"
	StatusAbandoned Status = "abandoned"
)

// Option limits.
const (
	MaxOptions        = 16
	MaxOptionKeyLen   = 64
	MaxOptionValueLen = 256
)

// Options is the selected variation snapshot of a line (size, color, ...).
type Options map[string]string

// Validate checks option count and sizes.
func (o Options) Validate() error {
	if len(o) > MaxOptions {
		return &ValidationError{Field: "options", Reason: "too many options"}
	}
	for k, v := range o {
		if k == "" || len(k) > MaxOptionKeyLen || !utf8.ValidString(k) {
			return &ValidationError{Field: "options", Reason: "invalid option name"}
		}
		if len(v) > MaxOptionValueLen || !utf8.ValidString(v) {
			return &ValidationError{Field: "options", Reason: "invalid value for option " + k}
		}
	}
	return nil
}

// Clone returns an independent copy; nil stays nil.
func (o Options) Clone() Options {
	if o == nil {
		return nil
	}
	out := make(Options, len(o))
	for k, v := range o {
		out[k] = v
	}
	return out
}

// Line is one product entry of a cart with its price snapshot.
type Line struct {
	ID        int64
	ProductID int64
	Name      string
	// UnitPrice is the sale price when the product was on sale at add time,
	// else the list price.
	UnitPrice decimal.Decimal
	ListPrice decimal.Decimal
	SalePrice *decimal.Decimal
	Quantity  int
	Options   Options
}

// OnSale reports whether the snapshot carries a sale price below list price.
func (l *Line) OnSale() bool {
	return l.SalePrice != nil && l.SalePrice.LessThan(l.ListPrice)
}

// Amount returns UnitPrice times Quantity.
func (l *Line) Amount() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// snapshotLine captures the pricing fields of p.
func snapshotLine(p *catalog.Product, qty int, opts Options) Line {
	l := Line{
		ProductID: p.ID,
		Name:      p.Name,
		UnitPrice: p.FinalPrice(),
		ListPrice: p.ListPrice,
		Quantity:  qty,
		Options:   opts.Clone(),
	}
	if p.OnSale() {
		sale := *p.SalePrice
		l.SalePrice = &sale
	}
	return l
}

// Totals are the derived money fields of a cart. They are never accepted
// from callers.
type Totals struct {
	Subtotal          decimal.Decimal
	ItemDiscount      decimal.Decimal
	PromotionDiscount decimal.Decimal
	DiscountTotal     decimal.Decimal
	Total             decimal.Decimal
	// PromotionValid reports whether the stored promotion code contributed
	// a discount.
	PromotionValid bool
}

// Cart is a shopping cart owned by a user or an anonymous session.
type Cart struct {
	ID             int64
	UserID         int64 // 0 for guest carts
	SessionID      string
	Status         Status
	Lines          []Line
	PromotionCode  string
	Totals         Totals
	CreatedAt      time.Time
	LastActivityAt time.Time
}

// NewCart returns an empty active cart.
func NewCart(userID int64, sessionID string, now time.Time) *Cart {
	return &Cart{
		UserID:         userID,
		SessionID:      sessionID,
		Status:         StatusActive,
		CreatedAt:      now,
		LastActivityAt: now,
	}
}

// Line returns the line for productID.
func (c *Cart) Line(productID int64) (*Line, bool) {
	i := c.lineIndex(productID)
	if i < 0 {
		return nil, false
	}
	return &c.Lines[i], true
}

// ItemCount returns the sum of line quantities.
func (c *Cart) ItemCount() int {
	n := 0
	for i := range c.Lines {
		n += c.Lines[i].Quantity
	}
	return n
}

func (c *Cart) lineIndex(productID int64) int {
	for i := range c.Lines {
		if c.Lines[i].ProductID == productID {
			return i
		}
	}
	return -1
}

func (c *Cart) nextLineID() int64 {
	var id int64
	for i := range c.Lines {
		id = max(id, c.Lines[i].ID)
	}
	return id + 1
}

// Summary is the aggregate view returned after every cart operation.
type Summary struct {
	CartID        int64
	Status        Status
	Items         []Line
	ItemsCount    int
	PromotionCode string
	Totals
}

// Summarize builds the aggregate view of c.
func Summarize(c *Cart) Summary {
	return Summary{
		CartID:        c.ID,
		Status:        c.Status,
		Items:         c.Lines,
		ItemsCount:    c.ItemCount(),
		PromotionCode: c.PromotionCode,
		Totals:        c.Totals,
	}
}
