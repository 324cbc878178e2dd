package domain

import "errors"

var (
	// Ошибка некорректного формата кода купона.
	ErrCouponCodeInvalid = errors.New("coupon code must be 3-20 chars of letters, digits, hyphen or underscore")
	// Ошибка неположительного значения скидки.
	ErrDiscountValueInvalid = errors.New("discount value must be greater than zero")
	// Ошибка процентной скидки больше 100%.
	ErrDiscountPercentTooLarge = errors.New("percentage discount must not exceed 100")
	// Ошибка отсутствующего минимального порога для купона minimum_amount.
	ErrMinAmountRequired = errors.New("minimum amount is required for minimum_amount coupons")
	// Ошибка отрицательного минимального порога.
	ErrMinAmountNegative = errors.New("minimum amount must be non-negative")
	// Ошибка неподдерживаемого типа купона.
	ErrCouponKindInvalid = errors.New("unsupported coupon kind")
	// Ошибка неподдерживаемого типа скидки.
	ErrDiscountKindInvalid = errors.New("unsupported discount kind")
	// Ошибка отрицательного счётчика использований.
	ErrUsageCountNegative = errors.New("usage count must be non-negative")
	// ErrCouponNotFound возвращается, если купон не найден в хранилище.
	ErrCouponNotFound = errors.New("coupon not found")
	// ErrCouponExists возвращается при создании купона с занятым кодом.
	ErrCouponExists = errors.New("coupon code already exists")

	// Ошибка отсутствующего идентификатора клиента.
	ErrCustomerRequired = errors.New("customer_id is required")
	// Ошибка некорректного email.
	ErrEmailInvalid = errors.New("email is malformed")
	// ErrCustomerNotFound возвращается, если клиент не найден.
	ErrCustomerNotFound = errors.New("customer not found")
	// ErrCustomerExists возвращается при создании клиента с занятым email.
	ErrCustomerExists = errors.New("customer already exists")

	// Ошибка отсутствующего кода валюты.
	ErrCurrencyRequired = errors.New("currency is required")
	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка неположительной суммы заказа.
	ErrAmountNotPositive = errors.New("order amount must be greater than zero")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item qty must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrAmountMismatch = errors.New("order amount does not match items sum")
	// Ошибка, если возвращаемое количество позиции превышает заказанное.
	ErrReturnQtyExceedsOrdered = errors.New("item return qty exceeds ordered qty")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении заказа.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrOrderItemNotFound возвращается, если позиция заказа не найдена.
	ErrOrderItemNotFound = errors.New("order item not found")
	// ErrInsufficientReturnableQty возвращается, когда атомарное резервирование
	// количества под возврат не проходит по остатку.
	ErrInsufficientReturnableQty = errors.New("insufficient returnable quantity")
	// ErrCouponAlreadyApplied возвращается при попытке применить второй купон к заказу.
	ErrCouponAlreadyApplied = errors.New("another coupon is already applied to this order")

	// Ошибка отсутствия позиций в заявке на возврат.
	ErrReturnItemsRequired = errors.New("return must contain at least one item")
	// Ошибка неподдерживаемого способа возврата.
	ErrReturnMethodInvalid = errors.New("unsupported return method")
	// Ошибка неподдерживаемого статуса возврата.
	ErrReturnStatusInvalid = errors.New("unsupported return status")
	// ErrReturnNotFound возвращается, если возврат не найден.
	ErrReturnNotFound = errors.New("return not found")
	// ErrReturnVersionConflict сигнализирует о конкурентном изменении возврата.
	ErrReturnVersionConflict = errors.New("return version conflict")
	// ErrTransitionInvalid возвращается при недопустимом переходе статуса возврата.
	ErrTransitionInvalid = errors.New("return status transition is not allowed")
	// ErrUnauthorized возвращается, когда заказ или возврат принадлежит другому клиенту.
	// Отличается от not found: ресурс существует, но запрашивающему недоступен.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrPickupAddressRequired — для метода pickup адрес забора обязателен.
	ErrPickupAddressRequired = errors.New("pickup address is required for pickup method")
	// ErrOrderNotEligibleForReturn возвращается при попытке оформить возврат
	// по заказу, не прошедшему проверку пригодности.
	ErrOrderNotEligibleForReturn = errors.New("order is not eligible for return")

	// ErrIdempotencyKeyRequired — пустой idempotency-key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired — пустой hash запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyAlreadyExists — ключ уже зарегистрирован.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — по ключу пришёл другой запрос.
	ErrIdempotencyHashMismatch = errors.New("idempotency request hash mismatch")
	// ErrIdempotencyKeyNotFound — запись по ключу отсутствует.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
	// ErrRedemptionInProgress — погашение с тем же ключом ещё обрабатывается.
	ErrRedemptionInProgress = errors.New("redemption with the same key is already in progress")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// IsVersionConflict проверяет, является ли ошибка конфликтом версий заказа или возврата.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict) || errors.Is(err, ErrReturnVersionConflict)
}

// IsNotFound проверяет, относится ли ошибка к категории "не найдено".
func IsNotFound(err error) bool {
	return errors.Is(err, ErrCouponNotFound) ||
		errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrReturnNotFound) ||
		errors.Is(err, ErrCustomerNotFound) ||
		errors.Is(err, ErrOrderItemNotFound)
}
