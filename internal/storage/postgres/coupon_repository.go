package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const couponColumns = `
	code, kind, discount_kind, discount_value,
	min_amount_minor, max_discount_minor, expires_at,
	usage_limit, used_count, active, description,
	created_at, updated_at
`

type couponRepository struct {
	db *sql.DB
}

// NewCouponRepository создаёт PostgreSQL-реализацию CouponRepository.
func NewCouponRepository(store *Store) domain.CouponRepository {
	return &couponRepository{db: store.DB()}
}

func (r *couponRepository) Create(coupon domain.Coupon) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO coupons (`+couponColumns+`
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`,
		domain.NormalizeCouponCode(coupon.Code), string(coupon.Kind), string(coupon.DiscountKind), coupon.DiscountValue,
		coupon.MinAmountMinor, coupon.MaxDiscountMinor, coupon.ExpiresAt,
		coupon.UsageLimit, coupon.UsedCount, coupon.Active, coupon.Description,
		coupon.CreatedAt, coupon.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrCouponExists
		}
		return fmt.Errorf("insert coupon: %w", err)
	}
	return nil
}

func (r *couponRepository) GetByCode(code string) (domain.Coupon, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `
		SELECT `+couponColumns+`
		FROM coupons
		WHERE code = $1
	`, domain.NormalizeCouponCode(code))

	coupon, err := scanCoupon(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Coupon{}, domain.ErrCouponNotFound
		}
		return domain.Coupon{}, fmt.Errorf("select coupon: %w", err)
	}
	return coupon, nil
}

// Save применяет административные правки; used_count намеренно не трогается,
// счётчик меняется только через ConditionalIncrementUsage/DecrementUsage.
func (r *couponRepository) Save(coupon domain.Coupon) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE coupons
		SET kind = $1,
		    discount_kind = $2,
		    discount_value = $3,
		    min_amount_minor = $4,
		    max_discount_minor = $5,
		    expires_at = $6,
		    usage_limit = $7,
		    active = $8,
		    description = $9,
		    updated_at = $10
		WHERE code = $11
	`,
		string(coupon.Kind), string(coupon.DiscountKind), coupon.DiscountValue,
		coupon.MinAmountMinor, coupon.MaxDiscountMinor, coupon.ExpiresAt,
		coupon.UsageLimit, coupon.Active, coupon.Description,
		coupon.UpdatedAt, domain.NormalizeCouponCode(coupon.Code),
	)
	if err != nil {
		return fmt.Errorf("update coupon: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrCouponNotFound
	}
	return nil
}

// ConditionalIncrementUsage — "increment iff used_count < usage_limit" одним
// guarded UPDATE. Проверка и инкремент атомарны на уровне строки: при любом
// числе конкурентных погашений счётчик не превысит квоту.
func (r *couponRepository) ConditionalIncrementUsage(code string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE coupons
		SET used_count = used_count + 1,
		    updated_at = NOW()
		WHERE code = $1
		  AND active
		  AND (expires_at IS NULL OR expires_at > NOW())
		  AND (usage_limit = 0 OR used_count < usage_limit)
	`, domain.NormalizeCouponCode(code))
	if err != nil {
		return false, fmt.Errorf("conditional increment usage: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

func (r *couponRepository) DecrementUsage(code string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		UPDATE coupons
		SET used_count = GREATEST(used_count - 1, 0),
		    updated_at = NOW()
		WHERE code = $1
	`, domain.NormalizeCouponCode(code))
	if err != nil {
		return fmt.Errorf("decrement usage: %w", err)
	}
	return nil
}

func scanCoupon(row rowScanner) (domain.Coupon, error) {
	var (
		coupon       domain.Coupon
		kind         string
		discountKind string
		expiresAt    sql.NullTime
	)
	err := row.Scan(
		&coupon.Code, &kind, &discountKind, &coupon.DiscountValue,
		&coupon.MinAmountMinor, &coupon.MaxDiscountMinor, &expiresAt,
		&coupon.UsageLimit, &coupon.UsedCount, &coupon.Active, &coupon.Description,
		&coupon.CreatedAt, &coupon.UpdatedAt,
	)
	if err != nil {
		return domain.Coupon{}, err
	}
	coupon.Kind = domain.CouponKind(kind)
	coupon.DiscountKind = domain.DiscountKind(discountKind)
	if expiresAt.Valid {
		at := expiresAt.Time
		coupon.ExpiresAt = &at
	}
	return coupon, nil
}

var _ domain.CouponRepository = (*couponRepository)(nil)
