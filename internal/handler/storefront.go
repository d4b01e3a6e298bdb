package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/bazaar/internal/domain/ranking"
)

func (h *Handler) home(w http.ResponseWriter, r *http.Request) {
	home, err := h.storefront.Home(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeHome(e, home) })
}

func (h *Handler) rankedProducts(w http.ResponseWriter, r *http.Request) {
	strategy, err := ranking.ParseStrategy(r.URL.Query().Get("strategy"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	results, err := h.storefront.Ranked(r.Context(), strategy, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("strategy")
		e.Str(string(strategy))
		e.FieldStart("products")
		encodeResults(e, results)
		e.ObjEnd()
	})
}

func (h *Handler) productScore(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, score, err := h.storefront.ProductScore(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		encodeProductFields(e, p)
		e.FieldStart("composite_score")
		e.Float64(score)
		e.ObjEnd()
	})
}

func (h *Handler) topShops(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	results, err := h.storefront.TopShops(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("shops")
		encodeResults(e, results)
		e.ObjEnd()
	})
}
