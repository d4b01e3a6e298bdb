package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/bazaar/internal/domain/promotion"
)

const (
	getPromotionByCodeSQL = `SELECT code, description, discount_type, value, min_order_amount,
		max_discount, active, expires_at, usage_limit, used_count
		FROM promotions WHERE UPPER(code) = UPPER($1) AND active = TRUE`

	incrementPromotionUsageSQL = `UPDATE promotions SET used_count = used_count + 1
		WHERE UPPER(code) = UPPER($1) AND (usage_limit = 0 OR used_count < usage_limit)`

	promotionExistsSQL = `SELECT EXISTS (SELECT 1 FROM promotions WHERE UPPER(code) = UPPER($1))`
)

var _ promotion.Repository = (*PromotionRepository)(nil)

// PromotionRepository implements promotion.Repository backed by PostgreSQL.
type PromotionRepository struct {
	pool *pgxpool.Pool
}

// NewPromotionRepository returns a PromotionRepository that uses the given pool.
func NewPromotionRepository(pool *pgxpool.Pool) *PromotionRepository {
	return &PromotionRepository{pool: pool}
}

// FindByCode looks up an active promotion by its code (case-insensitive).
func (r *PromotionRepository) FindByCode(ctx context.Context, code string) (*promotion.Promotion, error) {
	rows, err := r.pool.Query(ctx, getPromotionByCodeSQL, code)
	if err != nil {
		return nil, errors.Wrapf(err, "find promotion %q", code)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanPromotion)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, promotion.ErrNotFound
		}
		return nil, errors.Wrapf(err, "find promotion %q", code)
	}
	return &p, nil
}

// IncrementUsage atomically bumps the redemption counter of code unless
// that would pass its usage limit.
func (r *PromotionRepository) IncrementUsage(ctx context.Context, code string) error {
	tag, err := r.pool.Exec(ctx, incrementPromotionUsageSQL, code)
	if err != nil {
		return errors.Wrapf(err, "increment usage of %q", code)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, promotionExistsSQL, code).Scan(&exists); err != nil {
		return errors.Wrapf(err, "check promotion %q", code)
	}
	if exists {
		return promotion.ErrUsageExhausted
	}
	return promotion.ErrNotFound
}

func scanPromotion(row pgx.CollectableRow) (promotion.Promotion, error) {
	var (
		p            promotion.Promotion
		discountType string
		limit, used  int32
	)
	err := row.Scan(
		&p.Code, &p.Description, &discountType, &p.Value, &p.MinOrderAmount,
		&p.MaxDiscount, &p.Active, &p.ExpiresAt, &limit, &used,
	)
	p.DiscountType = promotion.DiscountType(discountType)
	p.UsageLimit = int(limit)
	p.UsedCount = int(used)
	return p, err
}
