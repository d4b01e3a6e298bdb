package pricing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/bazaar/internal/domain/catalog"
)

// Wishlist is a named, optionally public list of products a user saves for
// later. It mirrors the cart line contract without quantities or
// promotions.
type Wishlist struct {
	ID          int64
	UserID      int64
	Name        string
	Description string
	IsPublic    bool
	// MaxItems caps the number of lines. Zero means unlimited.
	MaxItems  int
	Lines     []WishlistLine
	CreatedAt time.Time
	UpdatedAt time.Time
}

// WishlistLine is one saved product with its price snapshot.
type WishlistLine struct {
	ProductID int64
	Name      string
	UnitPrice decimal.Decimal
	Options   Options
	AddedAt   time.Time
}

// Full reports whether the wishlist reached MaxItems.
func (w *Wishlist) Full() bool {
	return w.MaxItems > 0 && len(w.Lines) >= w.MaxItems
}

// Contains reports whether productID is on the wishlist.
func (w *Wishlist) Contains(productID int64) bool {
	return w.lineIndex(productID) >= 0
}

func (w *Wishlist) lineIndex(productID int64) int {
	for i := range w.Lines {
		if w.Lines[i].ProductID == productID {
			return i
		}
	}
	return -1
}

// AddWishlistLine saves p on w, replacing the snapshot of an existing line
// for the same product. Adding a new product to a full wishlist is rejected
// by returning nil and false without error.
func AddWishlistLine(w *Wishlist, p *catalog.Product, opts Options, now time.Time) (*WishlistLine, bool, error) {
	if err := opts.Validate(); err != nil {
		return nil, false, err
	}
	if !p.Active {
		return nil, false, &UnavailableError{ProductID: p.ID, Reason: "product is not active"}
	}

	l := WishlistLine{
		ProductID: p.ID,
		Name:      p.Name,
		UnitPrice: p.FinalPrice(),
		Options:   opts.Clone(),
		AddedAt:   now,
	}
	if i := w.lineIndex(p.ID); i >= 0 {
		l.AddedAt = w.Lines[i].AddedAt
		w.Lines[i] = l
	} else {
		if w.Full() {
			return nil, false, nil
		}
		w.Lines = append(w.Lines, l)
	}
	w.UpdatedAt = now
	return &l, true, nil
}

// RemoveWishlistLine removes productID from w and reports whether it was
// present. UpdatedAt only moves when a line was removed.
func RemoveWishlistLine(w *Wishlist, productID int64, now time.Time) bool {
	i := w.lineIndex(productID)
	if i < 0 {
		return false
	}
	w.Lines = append(w.Lines[:i:i], w.Lines[i+1:]...)
	w.UpdatedAt = now
	return true
}

// ClearWishlist drops every line of w.
func ClearWishlist(w *Wishlist, now time.Time) {
	w.Lines = nil
	w.UpdatedAt = now
}

// ToggleWishlistLine removes p when it is saved and adds it otherwise. It
// reports whether p is on the wishlist afterwards.
func ToggleWishlistLine(w *Wishlist, p *catalog.Product, opts Options, now time.Time) (bool, error) {
	if RemoveWishlistLine(w, p.ID, now) {
		return false, nil
	}
	_, added, err := AddWishlistLine(w, p, opts, now)
	return added, err
}

// WishlistSummary is the aggregate view of a wishlist.
type WishlistSummary struct {
	WishlistID int64
	Name       string
	IsPublic   bool
	Items      []WishlistLine
	ItemsCount int
	Subtotal   decimal.Decimal
	Full       bool
}

// SummarizeWishlist builds the aggregate view of w from its snapshots.
func SummarizeWishlist(w *Wishlist) WishlistSummary {
	subtotal := decimal.Zero
	for i := range w.Lines {
		subtotal = subtotal.Add(w.Lines[i].UnitPrice)
	}
	return WishlistSummary{
		WishlistID: w.ID,
		Name:       w.Name,
		IsPublic:   w.IsPublic,
		Items:      w.Lines,
		ItemsCount: len(w.Lines),
		Subtotal:   subtotal.Round(2),
		Full:       w.Full(),
	}
}

// DuplicateWishlist returns an unsaved copy of w named name, or the original
// name with a " (copy)" suffix when name is empty.
func DuplicateWishlist(w *Wishlist, name string, now time.Time) *Wishlist {
	if name == "" {
		name = w.Name + " (copy)"
	}
	dup := &Wishlist{
		UserID:      w.UserID,
		Name:        name,
		Description: w.Description,
		IsPublic:    w.IsPublic,
		MaxItems:    w.MaxItems,
		Lines:       make([]WishlistLine, len(w.Lines)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for i, l := range w.Lines {
		l.Options = l.Options.Clone()
		l.AddedAt = now
		dup.Lines[i] = l
	}
	return dup
}

// ShareToken derives the deterministic share token of a public wishlist as
// hex(HMAC-SHA256(key, "id:userID")).
func ShareToken(w *Wishlist, key []byte) (string, error) {
	if !w.IsPublic {
		return "", ErrWishlistPrivate
	}
	return shareToken(w, key), nil
}

// VerifyShareToken reports whether token grants access to w. Private
// wishlists never verify.
func VerifyShareToken(w *Wishlist, key []byte, token string) bool {
	if !w.IsPublic {
		return false
	}
	return hmac.Equal([]byte(shareToken(w, key)), []byte(token))
}

func shareToken(w *Wishlist, key []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(strconv.FormatInt(w.ID, 10) + ":" + strconv.FormatInt(w.UserID, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}
