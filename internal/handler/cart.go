package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/bazaar/internal/domain/pricing"
)

func writeSummary(w http.ResponseWriter, status int, s pricing.Summary) {
	writeJSON(w, status, func(e *jx.Encoder) { encodeSummary(e, &s) })
}

func writeFlagged(w http.ResponseWriter, flag string, ok bool, s pricing.Summary) {
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart(flag)
		e.Bool(ok)
		e.FieldStart("cart")
		encodeSummary(e, &s)
		e.ObjEnd()
	})
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	o, err := owner(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s, err := h.carts.Get(r.Context(), o)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSummary(w, http.StatusOK, s)
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request) {
	o, err := owner(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s, err := h.carts.Clear(r.Context(), o)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSummary(w, http.StatusOK, s)
}

func (h *Handler) addCartItem(w http.ResponseWriter, r *http.Request) {
	var (
		productID int64
		qty       = 1
		opts      pricing.Options
	)
	err := decodeBody(r, false, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "product_id":
			productID, err = d.Int64()
		case "quantity":
			qty, err = d.Int()
		case "options":
			opts, err = decodeOptions(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if productID <= 0 {
		writeError(w, r, badRequest("product_id required"))
		return
	}
	o, err := owner(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s, err := h.carts.AddItem(r.Context(), o, productID, qty, opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSummary(w, http.StatusOK, s)
}

func (h *Handler) updateCartItem(w http.ResponseWriter, r *http.Request) {
	productID, err := pathID(r, "productID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var (
		qty    int
		hasQty bool
	)
	err = decodeBody(r, false, func(d *jx.Decoder, key string) error {
		if key != "quantity" {
			return d.Skip()
		}
		hasQty = true
		var err error
		qty, err = d.Int()
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !hasQty {
		writeError(w, r, badRequest("quantity required"))
		return
	}
	o, err := owner(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s, updated, err := h.carts.UpdateQuantity(r.Context(), o, productID, qty)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeFlagged(w, "updated", updated, s)
}

func (h *Handler) removeCartItem(w http.ResponseWriter, r *http.Request) {
	lineID, err := pathID(r, "lineID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	o, err := owner(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s, removed, err := h.carts.RemoveItem(r.Context(), o, lineID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeFlagged(w, "removed", removed, s)
}

func (h *Handler) applyPromotion(w http.ResponseWriter, r *http.Request) {
	var code string
	err := decodeBody(r, false, func(d *jx.Decoder, key string) error {
		if key != "code" {
			return d.Skip()
		}
		var err error
		code, err = d.Str()
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	o, err := owner(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s, err := h.carts.ApplyPromotion(r.Context(), o, code)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSummary(w, http.StatusOK, s)
}

func (h *Handler) removePromotion(w http.ResponseWriter, r *http.Request) {
	o, err := owner(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s, err := h.carts.RemovePromotion(r.Context(), o)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSummary(w, http.StatusOK, s)
}

// mergeCart folds the guest cart named by X-Session-ID into the cart of the
// user named by X-User-ID.
func (h *Handler) mergeCart(w http.ResponseWriter, r *http.Request) {
	uid, err := requireUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	sid, err := sessionID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if sid == "" {
		writeError(w, r, badRequest("X-Session-ID header required"))
		return
	}
	s, err := h.carts.MergeOnLogin(r.Context(), sid, uid)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSummary(w, http.StatusOK, s)
}

// checkout closes the caller's active cart. Payment and order creation
// happen downstream; the response is the final summary.
func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	o, err := owner(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s, err := h.carts.Get(r.Context(), o)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if s.CartID == 0 || s.ItemsCount == 0 {
		writeError(w, r, &requestError{status: http.StatusConflict, message: "cart is empty"})
		return
	}
	if err := h.carts.MarkConverted(r.Context(), s.CartID); err != nil {
		writeError(w, r, err)
		return
	}
	s.Status = pricing.StatusConverted
	writeSummary(w, http.StatusOK, s)
}
