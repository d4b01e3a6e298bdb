package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/bazaar/internal/domain/pricing"
	"github.com/xenking/bazaar/internal/domain/wishlist"
)

const wishlistColumns = `id, user_id, name, description, is_public, max_items, created_at, updated_at`

const (
	getWishlistSQL = `SELECT ` + wishlistColumns + ` FROM wishlists WHERE id = $1`

	listWishlistsByUserSQL = `SELECT ` + wishlistColumns + ` FROM wishlists
		WHERE user_id = $1 ORDER BY id`

	listWishlistLinesSQL = `SELECT wishlist_id, product_id, name, unit_price, options, added_at
		FROM wishlist_lines WHERE wishlist_id = ANY($1) ORDER BY wishlist_id, position`

	insertWishlistSQL = `INSERT INTO wishlists (user_id, name, description, is_public, max_items, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`

	updateWishlistSQL = `UPDATE wishlists SET name = $2, description = $3, is_public = $4,
		max_items = $5, updated_at = $6 WHERE id = $1`

	deleteWishlistLinesSQL = `DELETE FROM wishlist_lines WHERE wishlist_id = $1`

	insertWishlistLineSQL = `INSERT INTO wishlist_lines
		(wishlist_id, position, product_id, name, unit_price, options, added_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	deleteWishlistSQL = `DELETE FROM wishlists WHERE id = $1`
)

var _ wishlist.Repository = (*WishlistRepository)(nil)

// WishlistRepository implements wishlist.Repository backed by PostgreSQL.
type WishlistRepository struct {
	pool *pgxpool.Pool
}

// NewWishlistRepository returns a WishlistRepository that uses the given pool.
func NewWishlistRepository(pool *pgxpool.Pool) *WishlistRepository {
	return &WishlistRepository{pool: pool}
}

// ListByUser returns all wishlists of userID with their lines, ordered by ID.
func (r *WishlistRepository) ListByUser(ctx context.Context, userID int64) ([]pricing.Wishlist, error) {
	rows, err := r.pool.Query(ctx, listWishlistsByUserSQL, userID)
	if err != nil {
		return nil, errors.Wrapf(err, "list wishlists of user %d", userID)
	}
	lists, err := pgx.CollectRows(rows, scanWishlist)
	if err != nil {
		return nil, errors.Wrapf(err, "list wishlists of user %d", userID)
	}
	if err := r.attachLines(ctx, lists); err != nil {
		return nil, err
	}
	return lists, nil
}

// Get returns the wishlist with the given ID.
func (r *WishlistRepository) Get(ctx context.Context, id int64) (*pricing.Wishlist, error) {
	rows, err := r.pool.Query(ctx, getWishlistSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get wishlist %d", id)
	}
	w, err := pgx.CollectExactlyOneRow(rows, scanWishlist)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, wishlist.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get wishlist %d", id)
	}
	lists := []pricing.Wishlist{w}
	if err := r.attachLines(ctx, lists); err != nil {
		return nil, err
	}
	return &lists[0], nil
}

type wishlistLineRow struct {
	wishlistID int64
	line       pricing.WishlistLine
}

func (r *WishlistRepository) attachLines(ctx context.Context, lists []pricing.Wishlist) error {
	if len(lists) == 0 {
		return nil
	}
	ids := make([]int64, len(lists))
	index := make(map[int64]int, len(lists))
	for i := range lists {
		ids[i] = lists[i].ID
		index[lists[i].ID] = i
	}

	rows, err := r.pool.Query(ctx, listWishlistLinesSQL, ids)
	if err != nil {
		return errors.Wrap(err, "list wishlist lines")
	}
	lines, err := pgx.CollectRows(rows, scanWishlistLine)
	if err != nil {
		return errors.Wrap(err, "list wishlist lines")
	}
	for _, l := range lines {
		w := &lists[index[l.wishlistID]]
		w.Lines = append(w.Lines, l.line)
	}
	return nil
}

// Save inserts or replaces w and all its lines in one transaction.
func (r *WishlistRepository) Save(ctx context.Context, w *pricing.Wishlist) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if w.ID == 0 {
			if err := tx.QueryRow(ctx, insertWishlistSQL,
				w.UserID, w.Name, w.Description, w.IsPublic, w.MaxItems, w.CreatedAt, w.UpdatedAt,
			).Scan(&w.ID); err != nil {
				return errors.Wrap(err, "insert wishlist")
			}
		} else {
			tag, err := tx.Exec(ctx, updateWishlistSQL,
				w.ID, w.Name, w.Description, w.IsPublic, w.MaxItems, w.UpdatedAt,
			)
			if err != nil {
				return errors.Wrapf(err, "update wishlist %d", w.ID)
			}
			if tag.RowsAffected() == 0 {
				return wishlist.ErrNotFound
			}
			if _, err := tx.Exec(ctx, deleteWishlistLinesSQL, w.ID); err != nil {
				return errors.Wrapf(err, "clear lines of wishlist %d", w.ID)
			}
		}

		if len(w.Lines) == 0 {
			return nil
		}
		batch := &pgx.Batch{}
		for i := range w.Lines {
			l := &w.Lines[i]
			batch.Queue(insertWishlistLineSQL,
				w.ID, i, l.ProductID, l.Name, l.UnitPrice, optionsOrEmpty(l.Options), l.AddedAt,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return errors.Wrapf(err, "insert lines of wishlist %d", w.ID)
		}
		return nil
	})
}

// Delete removes the wishlist and its lines.
func (r *WishlistRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, deleteWishlistSQL, id)
	if err != nil {
		return errors.Wrapf(err, "delete wishlist %d", id)
	}
	if tag.RowsAffected() == 0 {
		return wishlist.ErrNotFound
	}
	return nil
}

func scanWishlist(row pgx.CollectableRow) (pricing.Wishlist, error) {
	var (
		w        pricing.Wishlist
		maxItems int32
	)
	err := row.Scan(&w.ID, &w.UserID, &w.Name, &w.Description, &w.IsPublic, &maxItems, &w.CreatedAt, &w.UpdatedAt)
	w.MaxItems = int(maxItems)
	return w, err
}

func scanWishlistLine(row pgx.CollectableRow) (wishlistLineRow, error) {
	var r wishlistLineRow
	err := row.Scan(&r.wishlistID, &r.line.ProductID, &r.line.Name, &r.line.UnitPrice, &r.line.Options, &r.line.AddedAt)
	if len(r.line.Options) == 0 {
		r.line.Options = nil
	}
	return r, err
}
