package handler

import (
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/bazaar/internal/domain/catalog"
	"github.com/xenking/bazaar/internal/domain/pricing"
	"github.com/xenking/bazaar/internal/domain/ranking"
	"github.com/xenking/bazaar/internal/domain/storefront"
	"github.com/xenking/bazaar/internal/domain/wishlist"
)

func money(e *jx.Encoder, field string, d decimal.Decimal) {
	e.FieldStart(field)
	e.Float64(d.Round(2).InexactFloat64())
}

func timestamp(e *jx.Encoder, field string, t time.Time) {
	e.FieldStart(field)
	e.Str(t.UTC().Format(time.RFC3339))
}

func encodeOptions(e *jx.Encoder, o pricing.Options) {
	e.ObjStart()
	for k, v := range o {
		e.FieldStart(k)
		e.Str(v)
	}
	e.ObjEnd()
}

func encodeProductFields(e *jx.Encoder, p *catalog.Product) {
	e.FieldStart("id")
	e.Int64(p.ID)
	e.FieldStart("shop_id")
	e.Int64(p.ShopID)
	e.FieldStart("name")
	e.Str(p.Name)
	e.FieldStart("rating")
	e.Float64(p.Rating)
	e.FieldStart("review_count")
	e.Int(p.ReviewCount)
	e.FieldStart("sales_count")
	e.Int(p.SalesCount)
	e.FieldStart("view_count")
	e.Int(p.ViewCount)
	money(e, "list_price", p.ListPrice)
	if p.SalePrice != nil {
		money(e, "sale_price", *p.SalePrice)
	}
	money(e, "final_price", p.FinalPrice())
	e.FieldStart("on_sale")
	e.Bool(p.OnSale())
	e.FieldStart("discount_percentage")
	e.Int(p.DiscountPercentage())
	e.FieldStart("stock")
	e.Int(p.Stock)
	e.FieldStart("stock_status")
	e.Str(string(p.StockStatus()))
	timestamp(e, "created_at", p.CreatedAt)
	if len(p.Attributes) > 0 {
		e.FieldStart("attributes")
		p.Attributes.Encode(e)
	}
}

func encodeShopFields(e *jx.Encoder, s *catalog.Shop) {
	e.FieldStart("id")
	e.Int64(s.ID)
	e.FieldStart("name")
	e.Str(s.Name)
	e.FieldStart("avg_rating")
	e.Float64(s.AvgRating)
	e.FieldStart("review_count")
	e.Int(s.ReviewCount)
	e.FieldStart("active_product_count")
	e.Int(s.ActiveProductCount)
	e.FieldStart("order_count")
	e.Int(s.OrderCount)
	e.FieldStart("verified")
	e.Bool(s.Verified)
}

func encodeResults(e *jx.Encoder, results ranking.Results) {
	e.ArrStart()
	for _, r := range results.All() {
		e.ObjStart()
		switch {
		case r.Product != nil:
			encodeProductFields(e, r.Product)
		case r.Shop != nil:
			encodeShopFields(e, r.Shop)
		default:
			e.FieldStart("id")
			e.Int64(r.ID)
		}
		e.FieldStart("score")
		e.Float64(r.Score)
		e.ObjEnd()
	}
	e.ArrEnd()
}

func encodeHome(e *jx.Encoder, h *storefront.Home) {
	e.ObjStart()
	for _, pool := range []struct {
		name    string
		results ranking.Results
	}{
		{"new_arrivals", h.NewArrivals},
		{"best_sellers", h.BestSellers},
		{"seasonal_deals", h.SeasonalDeals},
		{"flash_deals", h.FlashDeals},
		{"trending", h.Trending},
		{"featured", h.Featured},
		{"top_shops", h.TopShops},
	} {
		e.FieldStart(pool.name)
		encodeResults(e, pool.results)
	}
	e.ObjEnd()
}

func encodeLine(e *jx.Encoder, l *pricing.Line) {
	e.ObjStart()
	e.FieldStart("id")
	e.Int64(l.ID)
	e.FieldStart("product_id")
	e.Int64(l.ProductID)
	e.FieldStart("name")
	e.Str(l.Name)
	money(e, "unit_price", l.UnitPrice)
	money(e, "list_price", l.ListPrice)
	if l.SalePrice != nil {
		money(e, "sale_price", *l.SalePrice)
	}
	e.FieldStart("on_sale")
	e.Bool(l.OnSale())
	e.FieldStart("quantity")
	e.Int(l.Quantity)
	money(e, "amount", l.Amount())
	if len(l.Options) > 0 {
		e.FieldStart("options")
		encodeOptions(e, l.Options)
	}
	e.ObjEnd()
}

func encodeSummary(e *jx.Encoder, s *pricing.Summary) {
	e.ObjStart()
	e.FieldStart("cart_id")
	e.Int64(s.CartID)
	e.FieldStart("status")
	e.Str(string(s.Status))
	e.FieldStart("items")
	e.ArrStart()
	for i := range s.Items {
		encodeLine(e, &s.Items[i])
	}
	e.ArrEnd()
	e.FieldStart("items_count")
	e.Int(s.ItemsCount)
	e.FieldStart("promotion_code")
	if s.PromotionCode == "" {
		e.Null()
	} else {
		e.Str(s.PromotionCode)
	}
	e.FieldStart("promotion_valid")
	e.Bool(s.PromotionValid)
	money(e, "subtotal", s.Subtotal)
	money(e, "item_discount", s.ItemDiscount)
	money(e, "promotion_discount", s.PromotionDiscount)
	money(e, "discount_total", s.DiscountTotal)
	money(e, "total", s.Total)
	e.ObjEnd()
}

func encodeWishlist(e *jx.Encoder, s *pricing.WishlistSummary) {
	e.ObjStart()
	e.FieldStart("wishlist_id")
	e.Int64(s.WishlistID)
	e.FieldStart("name")
	e.Str(s.Name)
	e.FieldStart("is_public")
	e.Bool(s.IsPublic)
	e.FieldStart("items")
	e.ArrStart()
	for _, l := range s.Items {
		e.ObjStart()
		e.FieldStart("product_id")
		e.Int64(l.ProductID)
		e.FieldStart("name")
		e.Str(l.Name)
		money(e, "unit_price", l.UnitPrice)
		if len(l.Options) > 0 {
			e.FieldStart("options")
			encodeOptions(e, l.Options)
		}
		timestamp(e, "added_at", l.AddedAt)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("items_count")
	e.Int(s.ItemsCount)
	money(e, "subtotal", s.Subtotal)
	e.FieldStart("full")
	e.Bool(s.Full)
	e.ObjEnd()
}

func encodeIDs(e *jx.Encoder, ids []int64) {
	e.ArrStart()
	for _, id := range ids {
		e.Int64(id)
	}
	e.ArrEnd()
}

func encodeMove(e *jx.Encoder, m *wishlist.MoveResult) {
	e.ObjStart()
	e.FieldStart("moved")
	encodeIDs(e, m.Moved)
	e.FieldStart("skipped")
	encodeIDs(e, m.Skipped)
	e.FieldStart("cart")
	encodeSummary(e, &m.Cart)
	e.ObjEnd()
}
