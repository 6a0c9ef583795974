package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/martok-store/internal/domain/coupon"
)

const (
	getCouponByCodeSQL = `SELECT code, description, discount_type, value, minimum_order_amount, maximum_discount,
		start_date, end_date, usage_limit, used_count, user_usage_limit, active
		FROM coupons WHERE code = UPPER($1)`

	getCouponUsagesSQL = `SELECT user_id, count, last_used FROM coupon_usages WHERE code = $1`

	listCouponCodesSQL = `SELECT code FROM coupons WHERE active`

	// The global increment takes the coupon row lock, which serializes the
	// per-user upsert below for the same code.
	incrementCouponUseSQL = `UPDATE coupons SET used_count = used_count + 1
		WHERE code = $1 AND (usage_limit = 0 OR used_count < usage_limit)`

	couponExistsSQL = `SELECT EXISTS (SELECT 1 FROM coupons WHERE code = $1)`

	recordUserUsageSQL = `INSERT INTO coupon_usages AS u (code, user_id, count, last_used)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (code, user_id) DO UPDATE SET count = u.count + 1, last_used = EXCLUDED.last_used
		WHERE u.count < (SELECT GREATEST(user_usage_limit, 1) FROM coupons WHERE code = $1)`

	upsertCouponSQL = `INSERT INTO coupons (code, description, discount_type, value, minimum_order_amount,
		maximum_discount, start_date, end_date, usage_limit, user_usage_limit, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (code) DO UPDATE SET description = EXCLUDED.description,
		discount_type = EXCLUDED.discount_type, value = EXCLUDED.value,
		minimum_order_amount = EXCLUDED.minimum_order_amount, maximum_discount = EXCLUDED.maximum_discount,
		start_date = EXCLUDED.start_date, end_date = EXCLUDED.end_date, usage_limit = EXCLUDED.usage_limit,
		user_usage_limit = EXCLUDED.user_usage_limit, active = EXCLUDED.active`
)

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up a coupon and its per-user usage records. Returns
// coupon.ErrNotFound when no coupon has the code.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, getCouponByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}

	rows, err = r.pool.Query(ctx, getCouponUsagesSQL, c.Code)
	if err != nil {
		return nil, fmt.Errorf("listing usages of coupon %q: %w", c.Code, err)
	}
	c.Usage, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (coupon.Usage, error) {
		var u coupon.Usage
		err := row.Scan(&u.UserID, &u.Count, &u.LastUsed)
		return u, err
	})
	if err != nil {
		return nil, fmt.Errorf("listing usages of coupon %q: %w", c.Code, err)
	}
	return &c, nil
}

// RecordUsage increments the global and per-user counters in one transaction.
// Either limit being reached rolls both back.
func (r *CouponRepository) RecordUsage(ctx context.Context, code, userID string, at time.Time) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, incrementCouponUseSQL, code)
		if err != nil {
			return fmt.Errorf("incrementing uses of coupon %q: %w", code, err)
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, couponExistsSQL, code).Scan(&exists); err != nil {
				return fmt.Errorf("checking coupon %q: %w", code, err)
			}
			if !exists {
				return coupon.ErrNotFound
			}
			return coupon.ErrUsageLimitReached
		}

		tag, err = tx.Exec(ctx, recordUserUsageSQL, code, userID, at)
		if err != nil {
			return fmt.Errorf("recording usage of coupon %q: %w", code, err)
		}
		if tag.RowsAffected() == 0 {
			return coupon.ErrUserLimitReached
		}
		return nil
	})
}

// ListCodes returns the codes of all active coupons.
func (r *CouponRepository) ListCodes(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, listCouponCodesSQL)
	if err != nil {
		return nil, fmt.Errorf("listing coupon codes: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// Upsert inserts or replaces coupon rules in one batch. Usage counters are
// kept.
func (r *CouponRepository) Upsert(ctx context.Context, coupons []coupon.Coupon) error {
	batch := &pgx.Batch{}
	for _, c := range coupons {
		batch.Queue(upsertCouponSQL,
			coupon.NormalizeCode(c.Code), c.Description, string(c.Type), c.Value,
			c.MinimumOrderAmount, c.MaximumDiscount, c.StartDate, c.EndDate,
			c.UsageLimit, c.UserUsageLimit, c.Active,
		)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upserting coupons: %w", err)
	}
	return nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c            coupon.Coupon
		discountType string
	)
	err := row.Scan(
		&c.Code, &c.Description, &discountType, &c.Value, &c.MinimumOrderAmount, &c.MaximumDiscount,
		&c.StartDate, &c.EndDate, &c.UsageLimit, &c.UsedCount, &c.UserUsageLimit, &c.Active,
	)
	c.Type = coupon.DiscountType(discountType)
	return c, err
}
