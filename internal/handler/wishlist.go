package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/bazaar/internal/domain/pricing"
	"github.com/xenking/bazaar/internal/domain/wishlist"
)

func writeWishlist(w http.ResponseWriter, status int, s pricing.WishlistSummary) {
	writeJSON(w, status, func(e *jx.Encoder) { encodeWishlist(e, &s) })
}

func writeWishlistFlagged(w http.ResponseWriter, flag string, ok bool, s pricing.WishlistSummary) {
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart(flag)
		e.Bool(ok)
		e.FieldStart("wishlist")
		encodeWishlist(e, &s)
		e.ObjEnd()
	})
}

// userWishlist resolves the caller and the wishlist id from the path.
func userWishlist(r *http.Request) (uid, id int64, err error) {
	if uid, err = requireUser(r); err != nil {
		return 0, 0, err
	}
	if id, err = pathID(r, "id"); err != nil {
		return 0, 0, err
	}
	return uid, id, nil
}

func decodeInput(r *http.Request) (wishlist.Input, error) {
	var in wishlist.Input
	err := decodeBody(r, false, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "name":
			in.Name, err = d.Str()
		case "description":
			in.Description, err = d.Str()
		case "is_public":
			in.IsPublic, err = d.Bool()
		case "max_items":
			in.MaxItems, err = d.Int()
		default:
			err = d.Skip()
		}
		return err
	})
	return in, err
}

// decodeItem reads {"product_id", "options"}.
func decodeItem(r *http.Request) (int64, pricing.Options, error) {
	var (
		productID int64
		opts      pricing.Options
	)
	err := decodeBody(r, false, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "product_id":
			productID, err = d.Int64()
		case "options":
			opts, err = decodeOptions(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return 0, nil, err
	}
	if productID <= 0 {
		return 0, nil, badRequest("product_id required")
	}
	return productID, opts, nil
}

func (h *Handler) listWishlists(w http.ResponseWriter, r *http.Request) {
	uid, err := requireUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	lists, err := h.wishlists.List(r.Context(), uid)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("wishlists")
		e.ArrStart()
		for i := range lists {
			encodeWishlist(e, &lists[i])
		}
		e.ArrEnd()
		e.ObjEnd()
	})
}

func (h *Handler) createWishlist(w http.ResponseWriter, r *http.Request) {
	uid, err := requireUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	in, err := decodeInput(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s, err := h.wishlists.Create(r.Context(), uid, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeWishlist(w, http.StatusCreated, s)
}

func (h *Handler) sharedWishlist(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, r, badRequest("token required"))
		return
	}
	s, err := h.wishlists.Shared(r.Context(), id, token)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeWishlist(w, http.StatusOK, s)
}

func (h *Handler) getWishlist(w http.ResponseWriter, r *http.Request) {
	uid, id, err := userWishlist(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s, err := h.wishlists.Get(r.Context(), uid, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeWishlist(w, http.StatusOK, s)
}

func (h *Handler) updateWishlist(w http.ResponseWriter, r *http.Request) {
	uid, id, err := userWishlist(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	in, err := decodeInput(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s, err := h.wishlists.Update(r.Context(), uid, id, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeWishlist(w, http.StatusOK, s)
}

func (h *Handler) deleteWishlist(w http.ResponseWriter, r *http.Request) {
	uid, id, err := userWishlist(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.wishlists.Delete(r.Context(), uid, id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) wishlistAction(w http.ResponseWriter, r *http.Request) {
	switch r.PathValue("action") {
	case "share":
		h.shareWishlist(w, r)
	default:
		writeError(w, r, &requestError{status: http.StatusNotFound, message: "not found"})
	}
}

func (h *Handler) shareWishlist(w http.ResponseWriter, r *http.Request) {
	uid, id, err := userWishlist(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	token, path, err := h.wishlists.Share(r.Context(), uid, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("token")
		e.Str(token)
		e.FieldStart("path")
		e.Str(path)
		e.ObjEnd()
	})
}

func (h *Handler) addWishlistItem(w http.ResponseWriter, r *http.Request) {
	uid, id, err := userWishlist(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	productID, opts, err := decodeItem(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s, added, err := h.wishlists.AddItem(r.Context(), uid, id, productID, opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeWishlistFlagged(w, "added", added, s)
}

func (h *Handler) clearWishlist(w http.ResponseWriter, r *http.Request) {
	uid, id, err := userWishlist(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s, err := h.wishlists.Clear(r.Context(), uid, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeWishlist(w, http.StatusOK, s)
}

func (h *Handler) removeWishlistItem(w http.ResponseWriter, r *http.Request) {
	uid, id, err := userWishlist(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	productID, err := pathID(r, "productID")
	if err != nil {
		writeError(w, r, err)
		return
	}
	s, removed, err := h.wishlists.RemoveItem(r.Context(), uid, id, productID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeWishlistFlagged(w, "removed", removed, s)
}

func (h *Handler) toggleWishlistItem(w http.ResponseWriter, r *http.Request) {
	uid, id, err := userWishlist(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	productID, opts, err := decodeItem(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s, saved, err := h.wishlists.Toggle(r.Context(), uid, id, productID, opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeWishlistFlagged(w, "saved", saved, s)
}

func (h *Handler) moveWishlistToCart(w http.ResponseWriter, r *http.Request) {
	uid, id, err := userWishlist(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.wishlists.MoveToCart(r.Context(), uid, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeMove(e, &res) })
}

func (h *Handler) duplicateWishlist(w http.ResponseWriter, r *http.Request) {
	uid, id, err := userWishlist(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var name string
	err = decodeBody(r, true, func(d *jx.Decoder, key string) error {
		if key != "name" {
			return d.Skip()
		}
		var err error
		name, err = d.Str()
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	s, err := h.wishlists.Duplicate(r.Context(), uid, id, name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeWishlist(w, http.StatusCreated, s)
}
