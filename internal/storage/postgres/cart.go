package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/bazaar/internal/domain/cart"
	"github.com/xenking/bazaar/internal/domain/pricing"
)

const cartColumns = `id, user_id, session_id, status, promotion_code, created_at, last_activity_at`

const (
	getCartSQL = `SELECT ` + cartColumns + ` FROM carts WHERE id = $1`

	findUserCartSQL = `SELECT ` + cartColumns + ` FROM carts
		WHERE user_id = $1 AND status = 'active'
		ORDER BY last_activity_at DESC LIMIT 1`

	findSessionCartSQL = `SELECT ` + cartColumns + ` FROM carts
		WHERE session_id = $1 AND user_id IS NULL AND status = 'active'
		ORDER BY last_activity_at DESC LIMIT 1`

	listCartLinesSQL = `SELECT line_id, product_id, name, unit_price, list_price, sale_price, quantity, options
		FROM cart_lines WHERE cart_id = $1 ORDER BY line_id`

	insertCartSQL = `INSERT INTO carts (user_id, session_id, status, promotion_code, created_at, last_activity_at)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`

	lockCartSQL = `SELECT id FROM carts WHERE id = $1 FOR UPDATE`

	updateCartSQL = `UPDATE carts SET user_id = $2, session_id = $3, status = $4,
		promotion_code = $5, last_activity_at = $6 WHERE id = $1`

	deleteCartLinesSQL = `DELETE FROM cart_lines WHERE cart_id = $1`

	insertCartLineSQL = `INSERT INTO cart_lines
		(cart_id, line_id, product_id, name, unit_price, list_price, sale_price, quantity, options)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	deleteCartSQL = `DELETE FROM carts WHERE id = $1`

	listStaleCartsSQL = `SELECT id FROM carts
		WHERE status = 'active' AND last_activity_at < $1
		ORDER BY last_activity_at LIMIT $2`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL. Totals are
// not stored; they are recomputed from lines on load.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// FindActive returns the most recently touched active cart of owner.
func (r *CartRepository) FindActive(ctx context.Context, owner cart.Owner) (*pricing.Cart, error) {
	if !owner.Valid() {
		return nil, cart.ErrNoOwner
	}
	query, arg := findSessionCartSQL, any(owner.SessionID)
	if owner.UserID != 0 {
		query, arg = findUserCartSQL, owner.UserID
	}
	return r.load(ctx, query, arg)
}

// Get returns the cart with the given ID in any status.
func (r *CartRepository) Get(ctx context.Context, id int64) (*pricing.Cart, error) {
	return r.load(ctx, getCartSQL, id)
}

func (r *CartRepository) load(ctx context.Context, query string, arg any) (*pricing.Cart, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, errors.Wrap(err, "query cart")
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCart)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cart.ErrNotFound
		}
		return nil, errors.Wrap(err, "query cart")
	}

	rows, err = r.pool.Query(ctx, listCartLinesSQL, c.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "query lines of cart %d", c.ID)
	}
	lines, err := pgx.CollectRows(rows, scanCartLine)
	if err != nil {
		return nil, errors.Wrapf(err, "query lines of cart %d", c.ID)
	}
	c.Lines = lines
	return &c, nil
}

// Save inserts or replaces c and all its lines in one transaction.
func (r *CartRepository) Save(ctx context.Context, c *pricing.Cart) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if c.ID == 0 {
			if err := tx.QueryRow(ctx, insertCartSQL,
				nullID(c.UserID), nullString(c.SessionID), string(c.Status),
				c.PromotionCode, c.CreatedAt, c.LastActivityAt,
			).Scan(&c.ID); err != nil {
				return errors.Wrap(err, "insert cart")
			}
		} else {
			var id int64
			if err := tx.QueryRow(ctx, lockCartSQL, c.ID).Scan(&id); err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return cart.ErrNotFound
				}
				return errors.Wrapf(err, "lock cart %d", c.ID)
			}
			if _, err := tx.Exec(ctx, updateCartSQL,
				c.ID, nullID(c.UserID), nullString(c.SessionID), string(c.Status),
				c.PromotionCode, c.LastActivityAt,
			); err != nil {
				return errors.Wrapf(err, "update cart %d", c.ID)
			}
			if _, err := tx.Exec(ctx, deleteCartLinesSQL, c.ID); err != nil {
				return errors.Wrapf(err, "clear lines of cart %d", c.ID)
			}
		}

		if len(c.Lines) == 0 {
			return nil
		}
		batch := &pgx.Batch{}
		for i := range c.Lines {
			l := &c.Lines[i]
			batch.Queue(insertCartLineSQL,
				c.ID, l.ID, l.ProductID, l.Name, l.UnitPrice, l.ListPrice, l.SalePrice,
				l.Quantity, optionsOrEmpty(l.Options),
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return errors.Wrapf(err, "insert lines of cart %d", c.ID)
		}
		return nil
	})
}

// Delete removes the cart and its lines.
func (r *CartRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, deleteCartSQL, id)
	if err != nil {
		return errors.Wrapf(err, "delete cart %d", id)
	}
	if tag.RowsAffected() == 0 {
		return cart.ErrNotFound
	}
	return nil
}

// ListStale returns IDs of active carts idle since before, oldest first.
func (r *CartRepository) ListStale(ctx context.Context, before time.Time, limit int) ([]int64, error) {
	rows, err := r.pool.Query(ctx, listStaleCartsSQL, before, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list stale carts")
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func scanCart(row pgx.CollectableRow) (pricing.Cart, error) {
	var (
		c         pricing.Cart
		userID    *int64
		sessionID *string
		status    string
	)
	err := row.Scan(&c.ID, &userID, &sessionID, &status, &c.PromotionCode, &c.CreatedAt, &c.LastActivityAt)
	if userID != nil {
		c.UserID = *userID
	}
	if sessionID != nil {
		c.SessionID = *sessionID
	}
	c.Status = pricing.Status(status)
	return c, err
}

func scanCartLine(row pgx.CollectableRow) (pricing.Line, error) {
	var (
		l   pricing.Line
		qty int32
	)
	err := row.Scan(&l.ID, &l.ProductID, &l.Name, &l.UnitPrice, &l.ListPrice, &l.SalePrice, &qty, &l.Options)
	l.Quantity = int(qty)
	if len(l.Options) == 0 {
		l.Options = nil
	}
	return l, err
}

func optionsOrEmpty(o pricing.Options) pricing.Options {
	if o == nil {
		return pricing.Options{}
	}
	return o
}
