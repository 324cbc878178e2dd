package promo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

// Причины отказа — структурированные и пригодные для показа пользователю.
// Проигранная гонка за квоту и заранее выбранная квота дают одну и ту же
// причину: различаются они только моментом обнаружения.
const (
	ReasonNotFound        = "coupon not found"
	ReasonInactive        = "coupon is inactive"
	ReasonExpired         = "coupon is expired"
	ReasonQuotaExceeded   = "coupon usage limit exceeded"
	ReasonAlreadyUsed     = "coupon already used by this customer"
	ReasonFirstOrderOnly  = "coupon is valid only for the first order"
	ReasonAnotherCoupon   = "another coupon is already applied to this order"
	ReasonTooManyAttempts = "too many validation attempts, try again later"
)

const (
	idempotencyTTL = 24 * time.Hour

	eventTypeCouponRedeemed = "coupon.redeemed"
	aggregateTypeOrder      = "order"
)

// CouponSummary — публичное описание купона для ответов API.
type CouponSummary struct {
	Code             string     `json:"code"`
	Kind             string     `json:"kind"`
	DiscountKind     string     `json:"discount_kind"`
	DiscountValue    int64      `json:"discount_value"`
	MinAmountMinor   int64      `json:"min_amount_minor,omitempty"`
	MaxDiscountMinor int64      `json:"max_discount_minor,omitempty"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	Description      string     `json:"description,omitempty"`
}

// ValidationResult — тегированный результат проверки купона.
// Бизнес-отказ — это Valid=false с причиной, а не ошибка.
type ValidationResult struct {
	Valid         bool           `json:"valid"`
	Reason        string         `json:"reason,omitempty"`
	Coupon        *CouponSummary `json:"coupon,omitempty"`
	DiscountMinor int64          `json:"discount_minor,omitempty"`
	FinalMinor    int64          `json:"final_minor,omitempty"`
}

// ApplyResult — тегированный результат погашения купона.
type ApplyResult struct {
	Applied       bool   `json:"applied"`
	Reason        string `json:"reason,omitempty"`
	OrderID       string `json:"order_id,omitempty"`
	CouponCode    string `json:"coupon_code,omitempty"`
	OriginalMinor int64  `json:"original_minor,omitempty"`
	DiscountMinor int64  `json:"discount_minor,omitempty"`
	TotalMinor    int64  `json:"total_minor,omitempty"`
}

// HistoryOrder — один заказ с погашенным купоном в истории клиента.
type HistoryOrder struct {
	OrderID       string    `json:"order_id"`
	CouponCode    string    `json:"coupon_code"`
	OriginalMinor int64     `json:"original_minor"`
	DiscountMinor int64     `json:"discount_minor"`
	TotalMinor    int64     `json:"total_minor"`
	CreatedAt     time.Time `json:"created_at"`
}

// HistoryResult — сводка использования купонов клиентом.
type HistoryResult struct {
	Orders          []HistoryOrder `json:"orders"`
	TotalSavedMinor int64          `json:"total_saved_minor"`
	CouponsUsed     []string       `json:"coupons_used"`
}

// Service реализует проверку и погашение купонов поверх доменных репозиториев.
type Service struct {
	coupons   domain.CouponRepository
	orders    domain.OrderRepository
	customers domain.CustomerRepository
	outbox    domain.OutboxRepository
	idem      domain.IdempotencyRepository
	limiter   domain.AttemptLimiter
	logger    *log.Entry
	metrics   *metrics.PromoMetrics

	// now подменяется в тестах для детерминированных окон/сроков.
	now func() time.Time
}

// NewService конструирует промо-сервис. Outbox, idempotency и limiter опциональны:
// без них сервис продолжает работать, теряя соответствующие гарантии.
func NewService(
	coupons domain.CouponRepository,
	orders domain.OrderRepository,
	customers domain.CustomerRepository,
	outbox domain.OutboxRepository,
	idem domain.IdempotencyRepository,
	limiter domain.AttemptLimiter,
	logger *log.Entry,
) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "promo")
	}
	return &Service{
		coupons:   coupons,
		orders:    orders,
		customers: customers,
		outbox:    outbox,
		idem:      idem,
		limiter:   limiter,
		logger:    logger,
		metrics:   metrics.NewPromoMetrics(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Validate выполняет проверку купона без побочных эффектов: читает каталог,
// прогоняет правила и считает скидку. Безопасно вызывать сколько угодно раз.
func (s *Service) Validate(ctx context.Context, code string, amountMinor int64, email string) (ValidationResult, error) {
	if amountMinor <= 0 {
		return ValidationResult{}, domain.ErrAmountNotPositive
	}
	if !domain.ValidCouponCode(code) {
		return ValidationResult{}, domain.ErrCouponCodeInvalid
	}
	if email != "" && !domain.ValidEmail(email) {
		return ValidationResult{}, domain.ErrEmailInvalid
	}

	if email != "" && s.limiter != nil {
		allowed, err := s.limiter.Allow(ctx, "coupon-validate:"+domain.NormalizeEmail(email))
		if err != nil {
			// Недоступность счётчика попыток не блокирует проверку купона.
			s.logger.WithError(err).Warn("attempt limiter unavailable, skipping rate limit")
		} else if !allowed {
			s.metrics.RecordValidation("rate_limited")
			return ValidationResult{Valid: false, Reason: ReasonTooManyAttempts}, nil
		}
	}

	coupon, reason, err := s.evaluate(ctx, code, amountMinor, email)
	if err != nil {
		return ValidationResult{}, err
	}
	if reason != "" {
		s.metrics.RecordValidation("rejected")
		return ValidationResult{Valid: false, Reason: reason}, nil
	}

	discount := domain.CalculateDiscount(coupon, amountMinor)
	s.metrics.RecordValidation("ok")
	return ValidationResult{
		Valid:         true,
		Coupon:        summarize(coupon),
		DiscountMinor: discount.DiscountMinor,
		FinalMinor:    discount.FinalMinor,
	}, nil
}

// evaluate прогоняет правила купона по порядку, останавливаясь на первом отказе.
// Пустая причина означает успех. Конкретная причина недоступности купона
// выводится повторной проверкой каждого под-условия, а не общим сообщением.
// История клиента разрешается через email; используется в пути Validate.
func (s *Service) evaluate(_ context.Context, code string, amountMinor int64, email string) (domain.Coupon, string, error) {
	coupon, reason, err := s.evaluateCatalog(code)
	if err != nil || reason != "" {
		return domain.Coupon{}, reason, err
	}

	// У неизвестного клиента нет истории, проверки 3-4 проходят автоматически.
	if email != "" {
		customer, err := s.customers.GetByEmail(email)
		switch {
		case err == nil:
			reason, err := s.evaluateHistory(coupon, customer.ID, "")
			if err != nil || reason != "" {
				return domain.Coupon{}, reason, err
			}
		case errors.Is(err, domain.ErrCustomerNotFound):
			// Новый клиент.
		default:
			return domain.Coupon{}, "", fmt.Errorf("load customer: %w", err)
		}
	}

	if coupon.Kind == domain.CouponKindMinimumAmount && amountMinor < coupon.MinAmountMinor {
		return domain.Coupon{}, fmt.Sprintf("minimum order amount is %d", coupon.MinAmountMinor), nil
	}

	return coupon, "", nil
}

// evaluateForOrder повторяет правила купона в пути погашения. История здесь
// проверяется по владельцу заказа, а не по email: погашение фиксируется на
// заказах владельца, и только эта привязка видна последующим проверкам.
// Сам погашаемый заказ исключается из истории: повтор после сбоя между
// штампом ценообразования и инкрементом квоты не должен принимать
// собственный полупроведённый штамп за чужое погашение.
func (s *Service) evaluateForOrder(_ context.Context, code string, amountMinor int64, order domain.Order) (domain.Coupon, string, error) {
	coupon, reason, err := s.evaluateCatalog(code)
	if err != nil || reason != "" {
		return domain.Coupon{}, reason, err
	}

	reason, err = s.evaluateHistory(coupon, order.CustomerID, order.ID)
	if err != nil || reason != "" {
		return domain.Coupon{}, reason, err
	}

	if coupon.Kind == domain.CouponKindMinimumAmount && amountMinor < coupon.MinAmountMinor {
		return domain.Coupon{}, fmt.Sprintf("minimum order amount is %d", coupon.MinAmountMinor), nil
	}

	return coupon, "", nil
}

// evaluateCatalog проверяет состояние купона в каталоге: существование,
// активность, срок и квоту.
func (s *Service) evaluateCatalog(code string) (domain.Coupon, string, error) {
	coupon, err := s.coupons.GetByCode(code)
	if err != nil {
		if errors.Is(err, domain.ErrCouponNotFound) {
			return domain.Coupon{}, ReasonNotFound, nil
		}
		return domain.Coupon{}, "", fmt.Errorf("load coupon: %w", err)
	}

	now := s.now()
	if !coupon.Active {
		return domain.Coupon{}, ReasonInactive, nil
	}
	if coupon.IsExpired(now) {
		return domain.Coupon{}, ReasonExpired, nil
	}
	if coupon.IsExhausted() {
		return domain.Coupon{}, ReasonQuotaExceeded, nil
	}
	return coupon, "", nil
}

// evaluateHistory выполняет проверки повторного использования и first_order
// по истории заказов клиента. Непустой excludeOrderID (внутренний ID заказа)
// выводит погашаемый заказ из обеих проверок: он не "прошлое" погашение и
// не "прошлый" заказ, он создан этим же оформлением.
func (s *Service) evaluateHistory(coupon domain.Coupon, customerID, excludeOrderID string) (string, error) {
	if _, err := s.orders.FindRedemption(customerID, coupon.Code, excludeOrderID); err == nil {
		return ReasonAlreadyUsed, nil
	} else if !errors.Is(err, domain.ErrOrderNotFound) {
		return "", fmt.Errorf("find redemption: %w", err)
	}

	if coupon.Kind == domain.CouponKindFirstOrder {
		count, err := s.orders.CountByCustomer(customerID)
		if err != nil {
			return "", fmt.Errorf("count customer orders: %w", err)
		}
		if excludeOrderID != "" {
			// Погашаемый заказ уже создан оформлением и входит в count.
			count--
		}
		if count > 0 {
			return ReasonFirstOrderOnly, nil
		}
	}
	return "", nil
}

// Apply выполняет погашение купона: повторную проверку, одноразовую запись
// ценообразования на заказ и атомарный условный инкремент квоты.
// Повтор с тем же ключом идемпотентности воспроизводит сохранённый результат.
func (s *Service) Apply(ctx context.Context, code string, amountMinor int64, orderID, email string) (ApplyResult, error) {
	started := s.now()

	if amountMinor <= 0 {
		return ApplyResult{}, domain.ErrAmountNotPositive
	}
	if !domain.ValidCouponCode(code) {
		return ApplyResult{}, domain.ErrCouponCodeInvalid
	}
	if !domain.ValidEmail(email) {
		return ApplyResult{}, domain.ErrEmailInvalid
	}
	if orderID == "" {
		return ApplyResult{}, domain.ErrOrderNotFound
	}

	code = domain.NormalizeCouponCode(code)
	email = domain.NormalizeEmail(email)

	// Идемпотентность: ключ orderID:couponCode защищает от двойного применения
	// ценообразования при повторе после сбоя между шагами.
	idemKey := orderID + ":" + code
	if s.idem != nil {
		record, err := s.idem.CreateProcessing(idemKey, requestHash(code, amountMinor, orderID, email), started.Add(idempotencyTTL))
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
			switch record.Status {
			case domain.IdempotencyStatusDone:
				var cached ApplyResult
				if jsonErr := json.Unmarshal(record.ResponseBody, &cached); jsonErr == nil {
					return cached, nil
				}
				s.logger.WithField("key", idemKey).Warn("stored redemption response is unreadable, reprocessing")
			case domain.IdempotencyStatusProcessing:
				return ApplyResult{}, domain.ErrRedemptionInProgress
			case domain.IdempotencyStatusFailed:
				// Неуспешная попытка: повтор разрешён, шаги ниже сами
				// определяют, что уже было сделано.
			}
		case errors.Is(err, domain.ErrIdempotencyHashMismatch):
			return ApplyResult{}, err
		default:
			return ApplyResult{}, fmt.Errorf("register idempotency key: %w", err)
		}
	}

	result, err := s.apply(ctx, code, amountMinor, orderID, email)
	if err != nil {
		s.markIdempotency(idemKey, ApplyResult{}, false)
		return ApplyResult{}, err
	}

	s.markIdempotency(idemKey, result, result.Applied)
	if result.Applied {
		s.metrics.RecordRedemption("ok")
	} else {
		s.metrics.RecordRedemption("rejected")
	}
	s.metrics.RecordRedemptionDuration(s.now().Sub(started))

	return result, nil
}

func (s *Service) apply(ctx context.Context, code string, amountMinor int64, orderID, email string) (ApplyResult, error) {
	order, err := s.orders.GetByOrderID(orderID)
	if err != nil {
		return ApplyResult{}, err
	}

	// Никогда не доверяем более ранней проверке: квота могла быть выбрана
	// конкурентным погашением, срок мог истечь.
	coupon, reason, err := s.evaluateForOrder(ctx, code, amountMinor, order)
	if err != nil {
		return ApplyResult{}, err
	}
	if reason != "" {
		return ApplyResult{Applied: false, Reason: reason, OrderID: orderID}, nil
	}

	customer, err := s.findOrCreateCustomer(email, order.CustomerID)
	if err != nil {
		return ApplyResult{}, err
	}

	alreadyStamped := false
	if order.HasCouponApplied() {
		if order.CouponCode != code {
			return ApplyResult{Applied: false, Reason: ReasonAnotherCoupon, OrderID: orderID}, nil
		}
		// Ценообразование уже записано прошлой попыткой: шаг пропускается,
		// остаётся довести до конца инкремент квоты.
		alreadyStamped = true
	}

	discount := domain.CalculateDiscount(coupon, amountMinor)
	now := s.now()

	if !alreadyStamped {
		order.ApplyCouponPricing(code, amountMinor, discount, now)
		if err := s.orders.Save(order); err != nil {
			return ApplyResult{}, fmt.Errorf("stamp order pricing: %w", err)
		}
	}

	// Ядро конкурентной опасности: инкремент и проверка квоты — одна
	// атомарная операция хранилища, а не read-then-write.
	incremented, err := s.coupons.ConditionalIncrementUsage(code)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("increment coupon usage: %w", err)
	}
	if !incremented {
		s.revertPricing(order.ID)
		s.metrics.RecordCompensation()
		return ApplyResult{Applied: false, Reason: ReasonQuotaExceeded, OrderID: orderID}, nil
	}

	if err := s.enqueueRedeemedEvent(order, customer, code, discount, now); err != nil {
		// Погашение без события не считается состоявшимся: компенсируем
		// инкремент квоты и снимок ценообразования.
		if derr := s.coupons.DecrementUsage(code); derr != nil {
			s.logger.WithError(derr).WithField("code", code).Error("failed to roll back coupon usage")
		}
		s.revertPricing(order.ID)
		s.metrics.RecordCompensation()
		return ApplyResult{}, fmt.Errorf("enqueue redemption event: %w", err)
	}

	return ApplyResult{
		Applied:       true,
		OrderID:       orderID,
		CouponCode:    code,
		OriginalMinor: amountMinor,
		DiscountMinor: discount.DiscountMinor,
		TotalMinor:    discount.FinalMinor,
	}, nil
}

// History возвращает заказы клиента с погашенными купонами и суммарную экономию.
// Неизвестный клиент получает пустую историю.
func (s *Service) History(_ context.Context, email string) (HistoryResult, error) {
	if !domain.ValidEmail(email) {
		return HistoryResult{}, domain.ErrEmailInvalid
	}

	result := HistoryResult{
		Orders:      make([]HistoryOrder, 0),
		CouponsUsed: make([]string, 0),
	}

	customer, err := s.customers.GetByEmail(email)
	if err != nil {
		if errors.Is(err, domain.ErrCustomerNotFound) {
			return result, nil
		}
		return HistoryResult{}, fmt.Errorf("load customer: %w", err)
	}

	orders, err := s.orders.ListByCustomer(customer.ID, 0)
	if err != nil {
		return HistoryResult{}, fmt.Errorf("list customer orders: %w", err)
	}

	seen := make(map[string]bool)
	for _, order := range orders {
		if !order.HasCouponApplied() {
			continue
		}
		result.Orders = append(result.Orders, HistoryOrder{
			OrderID:       order.OrderID,
			CouponCode:    order.CouponCode,
			OriginalMinor: order.OriginalAmountMinor,
			DiscountMinor: order.CouponDiscountMinor,
			TotalMinor:    order.TotalPriceMinor,
			CreatedAt:     order.CreatedAt,
		})
		result.TotalSavedMinor += order.CouponDiscountMinor
		if !seen[order.CouponCode] {
			seen[order.CouponCode] = true
			result.CouponsUsed = append(result.CouponsUsed, order.CouponCode)
		}
	}

	return result, nil
}

// findOrCreateCustomer находит клиента по email или заводит нового.
// Новая запись получает идентификатор владельца заказа: так погашения,
// проштампованные на заказах этого клиента, находятся проверками истории
// и по идентификатору, и по email.
func (s *Service) findOrCreateCustomer(email, orderCustomerID string) (domain.Customer, error) {
	customer, err := s.customers.GetByEmail(email)
	if err == nil {
		return customer, nil
	}
	if !errors.Is(err, domain.ErrCustomerNotFound) {
		return domain.Customer{}, fmt.Errorf("load customer: %w", err)
	}

	now := s.now()
	customer = domain.Customer{
		ID:        orderCustomerID,
		Email:     email,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if customer.ID == "" {
		customer.ID = uuid.NewString()
	}
	if err := s.customers.Create(customer); err == nil {
		return customer, nil
	} else if !errors.Is(err, domain.ErrCustomerExists) {
		return domain.Customer{}, fmt.Errorf("create customer: %w", err)
	}

	// Проигранная гонка создания: запись уже есть, читаем её.
	if existing, err := s.customers.GetByEmail(email); err == nil {
		return existing, nil
	}
	// Идентификатор владельца занят другим email: заводим отдельную запись.
	customer.ID = uuid.NewString()
	if err := s.customers.Create(customer); err != nil {
		return domain.Customer{}, fmt.Errorf("create customer: %w", err)
	}
	return customer, nil
}

// revertPricing снимает снимок ценообразования после проигранной гонки за квоту.
func (s *Service) revertPricing(orderInternalID string) {
	order, err := s.orders.Get(orderInternalID)
	if err != nil {
		s.logger.WithError(err).WithField("order_id", orderInternalID).Error("failed to load order for pricing revert")
		return
	}
	order.ClearCouponPricing(s.now())
	if err := s.orders.Save(order); err != nil {
		s.logger.WithError(err).WithField("order_id", orderInternalID).Error("failed to revert order pricing")
	}
}

func (s *Service) enqueueRedeemedEvent(order domain.Order, customer domain.Customer, code string, discount domain.Discount, now time.Time) error {
	if s.outbox == nil {
		return nil
	}

	payload, err := json.Marshal(map[string]any{
		"order_id":       order.OrderID,
		"customer_id":    customer.ID,
		"coupon_code":    code,
		"discount_minor": discount.DiscountMinor,
		"total_minor":    discount.FinalMinor,
		"occurred_at":    now.Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal coupon.redeemed payload: %w", err)
	}

	if _, err := s.outbox.Enqueue(domain.OutboxMessage{
		AggregateType: aggregateTypeOrder,
		AggregateID:   order.ID,
		EventType:     eventTypeCouponRedeemed,
		Payload:       payload,
	}); err != nil {
		return fmt.Errorf("enqueue coupon.redeemed event: %w", err)
	}
	s.metrics.RecordOutboxEvent()
	return nil
}

func (s *Service) markIdempotency(key string, result ApplyResult, applied bool) {
	if s.idem == nil {
		return
	}

	body, err := json.Marshal(result)
	if err != nil {
		body = nil
	}

	if applied {
		if err := s.idem.MarkDone(key, body, 200); err != nil {
			s.logger.WithError(err).WithField("key", key).Warn("failed to mark idempotency record done")
		}
		return
	}
	if err := s.idem.MarkFailed(key, body, 409); err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("failed to mark idempotency record failed")
	}
}

func summarize(coupon domain.Coupon) *CouponSummary {
	return &CouponSummary{
		Code:             coupon.Code,
		Kind:             string(coupon.Kind),
		DiscountKind:     string(coupon.DiscountKind),
		DiscountValue:    coupon.DiscountValue,
		MinAmountMinor:   coupon.MinAmountMinor,
		MaxDiscountMinor: coupon.MaxDiscountMinor,
		ExpiresAt:        coupon.ExpiresAt,
		Description:      coupon.Description,
	}
}

func requestHash(code string, amountMinor int64, orderID, email string) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%d|%s|%s", code, amountMinor, orderID, email))
	return hex.EncodeToString(sum[:])
}
