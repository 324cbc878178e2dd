package domain

import (
	"regexp"
	"strings"
	"time"
)

// CouponKind описывает правило применимости купона.
type CouponKind string

const (
	// CouponKindFirstOrder — купон только для первого заказа клиента.
	CouponKindFirstOrder CouponKind = "first_order"
	// CouponKindMinimumAmount — купон с минимальной суммой заказа.
	CouponKindMinimumAmount CouponKind = "minimum_amount"
)

// DiscountKind описывает способ расчёта скидки.
type DiscountKind string

const (
	// DiscountKindPercentage — скидка в процентах от суммы заказа.
	DiscountKindPercentage DiscountKind = "percentage"
	// DiscountKindFixed — фиксированная скидка в минимальных денежных единицах.
	DiscountKindFixed DiscountKind = "fixed"
)

// couponCodePattern задаёт допустимый формат кода после нормализации.
var couponCodePattern = regexp.MustCompile(`^[a-z0-9_-]{3,20}$`)

// Coupon агрегирует определение купона и его счётчик использований.
type Coupon struct {
	Code string
	Kind CouponKind

	DiscountKind DiscountKind
	// DiscountValue — процент для percentage или сумма в минорных единицах для fixed.
	DiscountValue int64
	// MinAmountMinor — минимальная сумма заказа; обязательна для minimum_amount.
	MinAmountMinor int64
	// MaxDiscountMinor ограничивает скидку сверху; 0 означает отсутствие лимита.
	MaxDiscountMinor int64

	// ExpiresAt — срок действия; nil означает бессрочный купон.
	ExpiresAt *time.Time
	// UsageLimit — квота использований; 0 означает отсутствие лимита.
	UsageLimit int64
	// UsedCount монотонно растёт и никогда не превышает UsageLimit (если тот задан).
	UsedCount int64

	Active      bool
	Description string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NormalizeCouponCode приводит код к канонической форме: без пробелов, в нижнем регистре.
func NormalizeCouponCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

// ValidCouponCode проверяет формат нормализованного кода.
func ValidCouponCode(code string) bool {
	return couponCodePattern.MatchString(NormalizeCouponCode(code))
}

// ValidateInvariants проверяет базовые инварианты купона и возвращает список замечаний.
func (c *Coupon) ValidateInvariants() []error {
	var errs []error

	if !ValidCouponCode(c.Code) {
		errs = append(errs, ErrCouponCodeInvalid)
	}

	switch c.Kind {
	case CouponKindFirstOrder:
	case CouponKindMinimumAmount:
		if c.MinAmountMinor == 0 {
			errs = append(errs, ErrMinAmountRequired)
		}
	default:
		errs = append(errs, ErrCouponKindInvalid)
	}

	switch c.DiscountKind {
	case DiscountKindPercentage:
		if c.DiscountValue > 100 {
			errs = append(errs, ErrDiscountPercentTooLarge)
		}
	case DiscountKindFixed:
	default:
		errs = append(errs, ErrDiscountKindInvalid)
	}

	if c.DiscountValue <= 0 {
		errs = append(errs, ErrDiscountValueInvalid)
	}
	if c.MinAmountMinor < 0 {
		errs = append(errs, ErrMinAmountNegative)
	}
	if c.UsedCount < 0 {
		errs = append(errs, ErrUsageCountNegative)
	}

	return errs
}

// IsExpired сообщает, истёк ли срок действия купона на момент now.
func (c *Coupon) IsExpired(now time.Time) bool {
	return c.ExpiresAt != nil && now.After(*c.ExpiresAt)
}

// IsExhausted сообщает, выбрана ли квота использований.
func (c *Coupon) IsExhausted() bool {
	return c.UsageLimit > 0 && c.UsedCount >= c.UsageLimit
}

// IsAvailable объединяет условия доступности: активен, не истёк, квота не выбрана.
func (c *Coupon) IsAvailable(now time.Time) bool {
	return c.Active && !c.IsExpired(now) && !c.IsExhausted()
}
