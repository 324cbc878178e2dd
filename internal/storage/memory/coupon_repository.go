package memory

import (
	"sync"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// couponRepositoryInMemory — простая in-memory реализация CouponRepository.
type couponRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Coupon
}

// NewCouponRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewCouponRepository() domain.CouponRepository {
	return &couponRepositoryInMemory{
		items: make(map[string]domain.Coupon),
	}
}

// Create сохраняет новый купон, если код ещё не занят.
func (r *couponRepositoryInMemory) Create(coupon domain.Coupon) error {
	code := domain.NormalizeCouponCode(coupon.Code)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[code]; exists {
		return domain.ErrCouponExists
	}
	coupon.Code = code
	r.items[code] = coupon
	return nil
}

// GetByCode возвращает купон или ErrCouponNotFound, если его нет.
func (r *couponRepositoryInMemory) GetByCode(code string) (domain.Coupon, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	coupon, ok := r.items[domain.NormalizeCouponCode(code)]
	if !ok {
		return domain.Coupon{}, domain.ErrCouponNotFound
	}
	return coupon, nil
}

// Save перезаписывает административные поля купона, сохраняя счётчик использований.
func (r *couponRepositoryInMemory) Save(coupon domain.Coupon) error {
	code := domain.NormalizeCouponCode(coupon.Code)

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[code]
	if !ok {
		return domain.ErrCouponNotFound
	}
	// Счётчик меняется только через ConditionalIncrementUsage/DecrementUsage.
	coupon.Code = code
	coupon.UsedCount = current.UsedCount
	r.items[code] = coupon
	return nil
}

// ConditionalIncrementUsage выполняет "increment iff under limit" под одной блокировкой —
// эквивалент условного UPDATE в PostgreSQL-реализации.
func (r *couponRepositoryInMemory) ConditionalIncrementUsage(code string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	coupon, ok := r.items[domain.NormalizeCouponCode(code)]
	if !ok {
		return false, domain.ErrCouponNotFound
	}
	if !coupon.Active || coupon.IsExpired(time.Now().UTC()) || coupon.IsExhausted() {
		return false, nil
	}

	coupon.UsedCount++
	coupon.UpdatedAt = time.Now().UTC()
	r.items[coupon.Code] = coupon
	return true, nil
}

// DecrementUsage откатывает инкремент; значение не опускается ниже нуля.
func (r *couponRepositoryInMemory) DecrementUsage(code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	coupon, ok := r.items[domain.NormalizeCouponCode(code)]
	if !ok {
		return domain.ErrCouponNotFound
	}
	if coupon.UsedCount > 0 {
		coupon.UsedCount--
		coupon.UpdatedAt = time.Now().UTC()
		r.items[coupon.Code] = coupon
	}
	return nil
}

var _ domain.CouponRepository = (*couponRepositoryInMemory)(nil)
