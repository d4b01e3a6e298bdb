package promotion

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestDiscount(t *testing.T) {
	tests := []struct {
		name     string
		promo    Promotion
		subtotal decimal.Decimal
		want     decimal.Decimal
	}{
		{
			name:     "percentage",
			promo:    Promotion{DiscountType: DiscountPercentage, Value: d("18")},
			subtotal: d("100"),
			want:     d("18"),
		},
		{
			name:     "percentage capped by max discount",
			promo:    Promotion{DiscountType: DiscountPercentage, Value: d("50"), MaxDiscount: d("10")},
			subtotal: d("100"),
			want:     d("10"),
		},
		{
			name:     "fixed",
			promo:    Promotion{DiscountType: DiscountFixed, Value: d("9")},
			subtotal: d("100"),
			want:     d("9"),
		},
		{
			name:     "fixed capped by max discount",
			promo:    Promotion{DiscountType: DiscountFixed, Value: d("25"), MaxDiscount: d("20")},
			subtotal: d("100"),
			want:     d("20"),
		},
		{
			name:     "below minimum order amount",
			promo:    Promotion{DiscountType: DiscountFixed, Value: d("5"), MinOrderAmount: d("50")},
			subtotal: d("49.99"),
			want:     decimal.Zero,
		},
		{
			name:     "exactly minimum order amount",
			promo:    Promotion{DiscountType: DiscountFixed, Value: d("5"), MinOrderAmount: d("50")},
			subtotal: d("50"),
			want:     d("5"),
		},
		{
			name:     "zero max discount means no cap",
			promo:    Promotion{DiscountType: DiscountPercentage, Value: d("100")},
			subtotal: d("42"),
			want:     d("42"),
		},
		{
			name:     "unknown type yields nothing",
			promo:    Promotion{DiscountType: "free_lowest", Value: d("5")},
			subtotal: d("42"),
			want:     decimal.Zero,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.promo.Discount(tt.subtotal)
			assert.True(t, tt.want.Equal(got), "expected %s, got %s", tt.want, got)
		})
	}
}

func TestValid(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name  string
		promo Promotion
		want  bool
	}{
		{"active without limits", Promotion{Active: true}, true},
		{"inactive", Promotion{Active: false}, false},
		{"expired", Promotion{Active: true, ExpiresAt: &past}, false},
		{"expires exactly now", Promotion{Active: true, ExpiresAt: &now}, false},
		{"not yet expired", Promotion{Active: true, ExpiresAt: &future}, true},
		{"usage limit reached", Promotion{Active: true, UsageLimit: 3, UsedCount: 3}, false},
		{"under usage limit", Promotion{Active: true, UsageLimit: 3, UsedCount: 2}, true},
		{"unlimited usage", Promotion{Active: true, UsedCount: 9999}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.promo.Valid(now))
		})
	}
}

func TestValidate(t *testing.T) {
	ok := Promotion{Code: "SAVE10", DiscountType: DiscountPercentage, Value: d("10")}
	require.NoError(t, ok.Validate())

	bad := []Promotion{
		{Code: " ", DiscountType: DiscountFixed, Value: d("1")},
		{Code: "X", DiscountType: "bogus", Value: d("1")},
		{Code: "X", DiscountType: DiscountFixed, Value: decimal.Zero},
		{Code: "X", DiscountType: DiscountPercentage, Value: d("101")},
		{Code: "X", DiscountType: DiscountFixed, Value: d("1"), MinOrderAmount: d("-1")},
		{Code: "X", DiscountType: DiscountFixed, Value: d("1"), MaxDiscount: d("-1")},
		{Code: "X", DiscountType: DiscountFixed, Value: d("1"), UsageLimit: -1},
	}
	for _, p := range bad {
		assert.Error(t, p.Validate(), "%+v", p)
	}
}

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, "Summer25", NormalizeCode("  Summer25\t"))
}
