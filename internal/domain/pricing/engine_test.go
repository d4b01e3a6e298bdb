package pricing

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/bazaar/internal/domain/catalog"
	"github.com/xenking/bazaar/internal/domain/promotion"
)

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

// --- Mock implementations ---

type mockPromotions struct {
	byCode map[string]*promotion.Promotion
	err    error
	calls  int
}

func (m *mockPromotions) FindByCode(_ context.Context, code string) (*promotion.Promotion, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.byCode[code]
	if !ok {
		return nil, promotion.ErrNotFound
	}
	return p, nil
}

// --- Helpers ---

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func dp(v string) *decimal.Decimal {
	x := d(v)
	return &x
}

func newProduct(id int64, price string) *catalog.Product {
	return &catalog.Product{
		ID:        id,
		Name:      "product",
		ListPrice: d(price),
		Stock:     10,
		Active:    true,
	}
}

func newEngine(promos ...*promotion.Promotion) (*Engine, *mockPromotions) {
	m := &mockPromotions{byCode: make(map[string]*promotion.Promotion)}
	for _, p := range promos {
		m.byCode[p.Code] = p
	}
	e := NewEngine(m)
	e.now = func() time.Time { return fixedNow }
	return e, m
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, d(want).Equal(got), append([]any{"expected %s, got %s", want, got}, msgAndArgs...)...)
}

// --- Tests ---

func TestAddLine_ExampleCart(t *testing.T) {
	e, _ := newEngine()
	c := NewCart(1, "", fixedNow)
	ctx := context.Background()

	_, err := e.AddLine(ctx, c, newProduct(1, "20"), 2, nil)
	require.NoError(t, err)
	_, err = e.AddLine(ctx, c, newProduct(2, "15"), 1, nil)
	require.NoError(t, err)

	assertDecimal(t, "55", c.Totals.Subtotal)
	assertDecimal(t, "0", c.Totals.DiscountTotal)
	assertDecimal(t, "55", c.Totals.Total)
	assert.Equal(t, 3, c.ItemCount())
	assert.Equal(t, []int64{1, 2}, []int64{c.Lines[0].ID, c.Lines[1].ID})
}

func TestAddLine_LastAddWins(t *testing.T) {
	e, _ := newEngine()
	c := NewCart(1, "", fixedNow)
	ctx := context.Background()
	p := newProduct(7, "10")

	first, err := e.AddLine(ctx, c, p, 2, Options{"size": "M"})
	require.NoError(t, err)
	second, err := e.AddLine(ctx, c, p, 5, Options{"size": "L"})
	require.NoError(t, err)

	require.Len(t, c.Lines, 1)
	assert.Equal(t, 5, c.Lines[0].Quantity)
	assert.Equal(t, "L", c.Lines[0].Options["size"])
	assert.Equal(t, first.ID, second.ID)
	assertDecimal(t, "50", c.Totals.Total)
}

func TestAddLine_SnapshotsSalePrice(t *testing.T) {
	e, _ := newEngine()
	c := NewCart(1, "", fixedNow)
	p := newProduct(1, "100")
	p.SalePrice = dp("80")

	l, err := e.AddLine(context.Background(), c, p, 2, nil)
	require.NoError(t, err)

	assertDecimal(t, "80", l.UnitPrice)
	assertDecimal(t, "100", l.ListPrice)
	require.NotNil(t, l.SalePrice)
	// Subtotal is at sale price and the per-item sale discount is reported
	// on top of it.
	assertDecimal(t, "160", c.Totals.Subtotal)
	assertDecimal(t, "40", c.Totals.ItemDiscount)
	assertDecimal(t, "40", c.Totals.DiscountTotal)
	assertDecimal(t, "120", c.Totals.Total)

	// Mutating the product afterwards does not touch the snapshot.
	*p.SalePrice = d("1")
	assertDecimal(t, "80", c.Lines[0].UnitPrice)
}

func TestAddLine_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("quantity below one", func(t *testing.T) {
		e, _ := newEngine()
		c := NewCart(1, "", fixedNow)
		_, err := e.AddLine(ctx, c, newProduct(1, "10"), 0, nil)

		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, "quantity", vErr.Field)
		assert.Empty(t, c.Lines)
	})

	t.Run("inactive product", func(t *testing.T) {
		e, _ := newEngine()
		c := NewCart(1, "", fixedNow)
		p := newProduct(3, "10")
		p.Active = false
		_, err := e.AddLine(ctx, c, p, 1, nil)

		var uErr *UnavailableError
		require.ErrorAs(t, err, &uErr)
		assert.Equal(t, int64(3), uErr.ProductID)
		assert.Empty(t, c.Lines)
	})

	t.Run("insufficient stock", func(t *testing.T) {
		e, _ := newEngine()
		c := NewCart(1, "", fixedNow)
		_, err := e.AddLine(ctx, c, newProduct(1, "10"), 1, nil)
		require.NoError(t, err)
		before := c.Totals

		p := newProduct(2, "10")
		p.Stock = 2
		_, err = e.AddLine(ctx, c, p, 3, nil)

		var uErr *UnavailableError
		require.ErrorAs(t, err, &uErr)
		assert.Len(t, c.Lines, 1)
		assert.Equal(t, before, c.Totals)
	})

	t.Run("non-positive price", func(t *testing.T) {
		e, _ := newEngine()
		c := NewCart(1, "", fixedNow)
		_, err := e.AddLine(ctx, c, newProduct(1, "0"), 1, nil)

		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, "price", vErr.Field)
	})

	t.Run("too many options", func(t *testing.T) {
		e, _ := newEngine()
		c := NewCart(1, "", fixedNow)
		opts := Options{}
		for i := range MaxOptions + 1 {
			opts[string(rune('a'+i))] = "x"
		}
		_, err := e.AddLine(ctx, c, newProduct(1, "10"), 1, opts)

		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, "options", vErr.Field)
	})

	t.Run("closed cart", func(t *testing.T) {
		e, _ := newEngine()
		c := NewCart(1, "", fixedNow)
		require.NoError(t, e.MarkConverted(c))

		_, err := e.AddLine(ctx, c, newProduct(1, "10"), 1, nil)
		require.ErrorIs(t, err, ErrCartClosed)
	})

	t.Run("lookup failure leaves cart unchanged", func(t *testing.T) {
		e, m := newEngine()
		c := NewCart(1, "", fixedNow)
		_, err := e.AddLine(ctx, c, newProduct(1, "10"), 1, nil)
		require.NoError(t, err)
		require.NoError(t, e.ApplyPromotion(ctx, c, "ANY"))

		m.err = errors.New("connection refused")
		_, err = e.AddLine(ctx, c, newProduct(2, "10"), 1, nil)
		require.Error(t, err)
		assert.Len(t, c.Lines, 1)
	})
}

func TestRemoveLine(t *testing.T) {
	e, _ := newEngine()
	c := NewCart(1, "", fixedNow)
	ctx := context.Background()

	a, err := e.AddLine(ctx, c, newProduct(1, "20"), 2, nil)
	require.NoError(t, err)
	_, err = e.AddLine(ctx, c, newProduct(2, "15"), 1, nil)
	require.NoError(t, err)

	removed, err := e.RemoveLine(ctx, c, a.ID)
	require.NoError(t, err)
	assert.True(t, removed)
	assertDecimal(t, "15", c.Totals.Total)

	removed, err = e.RemoveLine(ctx, c, a.ID)
	require.NoError(t, err)
	assert.False(t, removed)

	// Line IDs are not reused after removal.
	b, err := e.AddLine(ctx, c, newProduct(3, "5"), 1, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), b.ID)
}

func TestUpdateQuantity(t *testing.T) {
	e, _ := newEngine()
	c := NewCart(1, "", fixedNow)
	ctx := context.Background()

	_, err := e.AddLine(ctx, c, newProduct(1, "20"), 2, nil)
	require.NoError(t, err)

	l, err := e.UpdateQuantity(ctx, c, 1, 4)
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.Equal(t, 4, l.Quantity)
	assertDecimal(t, "80", c.Totals.Total)

	l, err = e.UpdateQuantity(ctx, c, 99, 4)
	require.NoError(t, err)
	assert.Nil(t, l)

	_, err = e.UpdateQuantity(ctx, c, 1, 0)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, 4, c.Lines[0].Quantity)
}

func TestRecomputeTotals_Idempotent(t *testing.T) {
	promo := &promotion.Promotion{
		Code:         "SAVE10",
		DiscountType: promotion.DiscountPercentage,
		Value:        d("10"),
		Active:       true,
	}
	e, _ := newEngine(promo)
	c := NewCart(1, "", fixedNow)
	ctx := context.Background()

	p := newProduct(1, "33.33")
	p.SalePrice = dp("29.99")
	_, err := e.AddLine(ctx, c, p, 3, nil)
	require.NoError(t, err)
	require.NoError(t, e.ApplyPromotion(ctx, c, "SAVE10"))

	require.NoError(t, e.RecomputeTotals(ctx, c))
	first := c.Totals
	require.NoError(t, e.RecomputeTotals(ctx, c))
	assert.Equal(t, first, c.Totals)
}

func TestApplyPromotion(t *testing.T) {
	ctx := context.Background()
	past := fixedNow.Add(-time.Hour)

	tests := []struct {
		name      string
		promo     *promotion.Promotion
		code      string
		wantPromo string
		wantTotal string
		wantValid bool
	}{
		{
			name: "percentage capped by max discount",
			promo: &promotion.Promotion{
				Code: "HALF", DiscountType: promotion.DiscountPercentage,
				Value: d("50"), MaxDiscount: d("10"), Active: true,
			},
			code:      "HALF",
			wantPromo: "10",
			wantTotal: "90",
			wantValid: true,
		},
		{
			name: "fixed",
			promo: &promotion.Promotion{
				Code: "FIVE", DiscountType: promotion.DiscountFixed, Value: d("5"), Active: true,
			},
			code:      "  FIVE ",
			wantPromo: "5",
			wantTotal: "95",
			wantValid: true,
		},
		{
			name: "expired",
			promo: &promotion.Promotion{
				Code: "OLD", DiscountType: promotion.DiscountFixed, Value: d("5"),
				Active: true, ExpiresAt: &past,
			},
			code:      "OLD",
			wantPromo: "0",
			wantTotal: "100",
		},
		{
			name: "below minimum order",
			promo: &promotion.Promotion{
				Code: "BIG", DiscountType: promotion.DiscountFixed, Value: d("5"),
				MinOrderAmount: d("150"), Active: true,
			},
			code:      "BIG",
			wantPromo: "0",
			wantTotal: "100",
		},
		{
			name: "usage limit reached",
			promo: &promotion.Promotion{
				Code: "ONCE", DiscountType: promotion.DiscountFixed, Value: d("5"),
				Active: true, UsageLimit: 1, UsedCount: 1,
			},
			code:      "ONCE",
			wantPromo: "0",
			wantTotal: "100",
		},
		{
			name:      "unknown code is stored with no effect",
			code:      "NOPE",
			wantPromo: "0",
			wantTotal: "100",
		},
		{
			name: "fixed larger than subtotal clamps total at zero",
			promo: &promotion.Promotion{
				Code: "HUGE", DiscountType: promotion.DiscountFixed, Value: d("500"), Active: true,
			},
			code:      "HUGE",
			wantPromo: "500",
			wantTotal: "0",
			wantValid: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var promos []*promotion.Promotion
			if tt.promo != nil {
				promos = append(promos, tt.promo)
			}
			e, _ := newEngine(promos...)
			c := NewCart(1, "", fixedNow)
			_, err := e.AddLine(ctx, c, newProduct(1, "100"), 1, nil)
			require.NoError(t, err)

			require.NoError(t, e.ApplyPromotion(ctx, c, tt.code))

			assert.Equal(t, promotion.NormalizeCode(tt.code), c.PromotionCode)
			assertDecimal(t, tt.wantPromo, c.Totals.PromotionDiscount)
			assertDecimal(t, tt.wantTotal, c.Totals.Total)
			assert.Equal(t, tt.wantValid, c.Totals.PromotionValid)
		})
	}
}

func TestApplyPromotion_EmptyCode(t *testing.T) {
	e, _ := newEngine()
	c := NewCart(1, "", fixedNow)

	err := e.ApplyPromotion(context.Background(), c, "   ")
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Empty(t, c.PromotionCode)
}

func TestRemovePromotion(t *testing.T) {
	promo := &promotion.Promotion{
		Code: "FIVE", DiscountType: promotion.DiscountFixed, Value: d("5"), Active: true,
	}
	e, _ := newEngine(promo)
	c := NewCart(1, "", fixedNow)
	ctx := context.Background()

	_, err := e.AddLine(ctx, c, newProduct(1, "100"), 1, nil)
	require.NoError(t, err)
	require.NoError(t, e.ApplyPromotion(ctx, c, "FIVE"))
	assertDecimal(t, "95", c.Totals.Total)

	require.NoError(t, e.RemovePromotion(ctx, c))
	assert.Empty(t, c.PromotionCode)
	assertDecimal(t, "100", c.Totals.Total)
	assert.False(t, c.Totals.PromotionValid)
}

func TestClear(t *testing.T) {
	promo := &promotion.Promotion{
		Code: "FIVE", DiscountType: promotion.DiscountFixed, Value: d("5"), Active: true,
	}
	e, _ := newEngine(promo)
	c := NewCart(1, "", fixedNow)
	ctx := context.Background()

	_, err := e.AddLine(ctx, c, newProduct(1, "100"), 1, nil)
	require.NoError(t, err)
	require.NoError(t, e.ApplyPromotion(ctx, c, "FIVE"))

	require.NoError(t, e.Clear(c))
	assert.Empty(t, c.Lines)
	assert.Equal(t, "FIVE", c.PromotionCode)
	assertDecimal(t, "0", c.Totals.Subtotal)
	assertDecimal(t, "0", c.Totals.PromotionDiscount)
	assertDecimal(t, "0", c.Totals.Total)

	_, err = e.AddLine(ctx, c, newProduct(2, "50"), 1, nil)
	require.NoError(t, err)
	assertDecimal(t, "45", c.Totals.Total)
}

func TestMerge(t *testing.T) {
	e, _ := newEngine()
	ctx := context.Background()

	user := NewCart(1, "", fixedNow)
	_, err := e.AddLine(ctx, user, newProduct(1, "10"), 1, nil)
	require.NoError(t, err)
	_, err = e.AddLine(ctx, user, newProduct(2, "20"), 1, nil)
	require.NoError(t, err)

	guest := NewCart(0, "sess", fixedNow)
	_, err = e.AddLine(ctx, guest, newProduct(2, "20"), 3, Options{"color": "red"})
	require.NoError(t, err)
	_, err = e.AddLine(ctx, guest, newProduct(5, "5"), 2, nil)
	require.NoError(t, err)

	require.NoError(t, e.Merge(ctx, user, guest))

	require.Len(t, user.Lines, 3)
	l, ok := user.Line(2)
	require.True(t, ok)
	assert.Equal(t, 3, l.Quantity)
	assert.Equal(t, int64(2), l.ID)
	assert.Equal(t, "red", l.Options["color"])
	l, ok = user.Line(5)
	require.True(t, ok)
	assert.Equal(t, int64(3), l.ID)
	assertDecimal(t, "80", user.Totals.Total)
	assert.Len(t, guest.Lines, 2)
}

func TestStatusTransitions(t *testing.T) {
	e, _ := newEngine()

	c := NewCart(1, "", fixedNow)
	require.NoError(t, e.MarkAbandoned(c))
	assert.Equal(t, StatusAbandoned, c.Status)
	require.ErrorIs(t, e.MarkConverted(c), ErrCartClosed)
	require.ErrorIs(t, e.Clear(c), ErrCartClosed)
	require.ErrorIs(t, e.ApplyPromotion(context.Background(), c, "X"), ErrCartClosed)
}

func TestComputeTotals_Empty(t *testing.T) {
	promo := &promotion.Promotion{
		Code: "FIVE", DiscountType: promotion.DiscountFixed, Value: d("5"), Active: true,
	}
	totals := ComputeTotals(nil, promo, fixedNow)

	assertDecimal(t, "0", totals.Subtotal)
	assertDecimal(t, "0", totals.DiscountTotal)
	assertDecimal(t, "0", totals.Total)
	assert.False(t, totals.PromotionValid)
}

func TestComputeTotals_Rounding(t *testing.T) {
	promo := &promotion.Promotion{
		Code: "THIRD", DiscountType: promotion.DiscountPercentage, Value: d("33.333"), Active: true,
	}
	lines := []Line{{ProductID: 1, UnitPrice: d("10"), ListPrice: d("10"), Quantity: 1}}

	totals := ComputeTotals(lines, promo, fixedNow)
	assertDecimal(t, "3.33", totals.PromotionDiscount)
	assertDecimal(t, "6.67", totals.Total)
}

func TestSummarize(t *testing.T) {
	e, _ := newEngine()
	c := NewCart(1, "", fixedNow)
	ctx := context.Background()

	_, err := e.AddLine(ctx, c, newProduct(1, "20"), 2, nil)
	require.NoError(t, err)
	_, err = e.AddLine(ctx, c, newProduct(2, "15"), 1, nil)
	require.NoError(t, err)

	s := Summarize(c)
	assert.Equal(t, 3, s.ItemsCount)
	assert.Len(t, s.Items, 2)
	assertDecimal(t, "55", s.Total)
	assert.Equal(t, StatusActive, s.Status)
}
