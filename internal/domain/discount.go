package domain

// Discount — результат расчёта скидки для конкретной суммы заказа.
type Discount struct {
	// DiscountMinor — размер скидки в минимальных денежных единицах.
	DiscountMinor int64
	// FinalMinor — итоговая сумма заказа после скидки, не меньше нуля.
	FinalMinor int64
}

// CalculateDiscount вычисляет скидку детерминированно и без побочных эффектов.
// Сумма заказа всегда должна быть текущей, а не уже уменьшенной прошлым расчётом:
// повторное применение к finalMinor даст неверный результат.
func CalculateDiscount(c Coupon, amountMinor int64) Discount {
	var discount int64

	switch c.DiscountKind {
	case DiscountKindPercentage:
		discount = amountMinor * c.DiscountValue / 100
		if c.MaxDiscountMinor > 0 && discount > c.MaxDiscountMinor {
			discount = c.MaxDiscountMinor
		}
	case DiscountKindFixed:
		discount = c.DiscountValue
		// Фиксированная скидка не может превышать сумму заказа.
		if discount > amountMinor {
			discount = amountMinor
		}
	}

	if discount < 0 {
		discount = 0
	}

	final := amountMinor - discount
	if final < 0 {
		final = 0
	}

	return Discount{DiscountMinor: discount, FinalMinor: final}
}
