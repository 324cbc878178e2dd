package domain

import "time"

// OrderStatus описывает жизненный цикл заказа в витрине.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан, но ещё не принят в обработку.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing — заказ собирается на складе.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped — заказ передан в доставку.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered — заказ доставлен клиенту.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled — заказ отменён до завершения цикла.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusPartiallyReturned — часть позиций заказа оформлена на возврат.
	OrderStatusPartiallyReturned OrderStatus = "partially_returned"
	// OrderStatusFullyReturned — все позиции заказа оформлены на возврат.
	OrderStatusFullyReturned OrderStatus = "fully_returned"
)

// ItemReturnStatus описывает состояние позиции заказа в цикле возврата.
type ItemReturnStatus string

const (
	// ItemReturnStatusNone — по позиции не было заявок на возврат.
	ItemReturnStatusNone ItemReturnStatus = "none"
	// ItemReturnStatusRequested — по позиции подана заявка на возврат.
	ItemReturnStatusRequested ItemReturnStatus = "requested"
	// ItemReturnStatusApproved — возврат позиции одобрен.
	ItemReturnStatusApproved ItemReturnStatus = "approved"
	// ItemReturnStatusReturned — позиция возвращена, деньги зачтены в возврат.
	ItemReturnStatusReturned ItemReturnStatus = "returned"
	// ItemReturnStatusRefunded — возврат средств по позиции завершён.
	ItemReturnStatusRefunded ItemReturnStatus = "refunded"
)

// OrderItem представляет одну позицию заказа.
type OrderItem struct {
	// ID позиции нужен для однозначной идентификации в заявках на возврат.
	ID string
	// SKU — внешний идентификатор товара.
	SKU string
	// Size — размер/вариант товара, снимок на момент покупки.
	Size string
	// Qty — количество единиц товара.
	Qty int32
	// PriceMinor — цена за единицу в минимальных денежных единицах.
	PriceMinor int64
	// ReturnStatus отражает состояние позиции в цикле возврата.
	ReturnStatus ItemReturnStatus
	// ReturnQty — суммарно зарезервированное под возврат количество, всегда <= Qty.
	ReturnQty int32
	// CreatedAt фиксирует момент добавления позиции в заказ.
	CreatedAt time.Time
}

// EffectiveReturnStatus трактует пустой статус как "none".
func (i *OrderItem) EffectiveReturnStatus() ItemReturnStatus {
	if i.ReturnStatus == "" {
		return ItemReturnStatusNone
	}
	return i.ReturnStatus
}

// AvailableForReturn — сколько единиц позиции ещё можно заявить на возврат.
func (i *OrderItem) AvailableForReturn() int32 {
	avail := i.Qty - i.ReturnQty
	if avail < 0 {
		return 0
	}
	return avail
}

// Returnable сообщает, можно ли подать заявку на возврат по позиции.
func (i *OrderItem) Returnable() bool {
	return i.EffectiveReturnStatus() == ItemReturnStatusNone && i.AvailableForReturn() > 0
}

// Order агрегирует неизменяемый снимок покупки и производное состояние возвратов.
type Order struct {
	ID string
	// OrderID — публичный номер заказа, используется во внешних операциях.
	OrderID    string
	CustomerID string
	Status     OrderStatus
	Currency   string
	Items      []OrderItem

	// Снимок ценообразования. CouponCode/CouponDiscountMinor/TotalPriceMinor
	// записываются не более одного раза — успешным погашением купона.
	OriginalAmountMinor int64
	CouponCode          string
	CouponDiscountMinor int64
	TotalPriceMinor     int64

	Delivered   bool
	DeliveredAt *time.Time

	// Производное состояние возвратов; мутируется только синхронизацией агрегата.
	HasReturns             bool
	TotalReturnAmountMinor int64
	ReturnEligible         bool

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.CustomerID == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if o.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if o.OriginalAmountMinor <= 0 {
		errs = append(errs, ErrAmountNotPositive)
	}

	// Сверяем сумму заказа с суммой позиций: qty * price.
	var calc int64
	for _, item := range o.Items {
		if item.Qty <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.PriceMinor < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
		if item.ReturnQty > item.Qty {
			errs = append(errs, ErrReturnQtyExceedsOrdered)
		}
		calc += int64(item.Qty) * item.PriceMinor
	}
	if len(o.Items) > 0 && calc != o.OriginalAmountMinor {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}

// IsDelivered учитывает и флаг доставки, и статус заказа.
func (o *Order) IsDelivered() bool {
	return o.Delivered || o.Status == OrderStatusDelivered
}

// ReturnWindowReference — точка отсчёта окна возврата: дата доставки,
// либо дата создания, если доставка не зафиксирована.
func (o *Order) ReturnWindowReference() time.Time {
	if o.DeliveredAt != nil && !o.DeliveredAt.IsZero() {
		return *o.DeliveredAt
	}
	return o.CreatedAt
}

// TotalQty — суммарное заказанное количество по всем позициям.
func (o *Order) TotalQty() int32 {
	var total int32
	for _, item := range o.Items {
		total += item.Qty
	}
	return total
}

// ReturnedQty — суммарное зарезервированное под возврат количество.
func (o *Order) ReturnedQty() int32 {
	var total int32
	for _, item := range o.Items {
		total += item.ReturnQty
	}
	return total
}

// FindItem возвращает позицию заказа по её идентификатору.
func (o *Order) FindItem(itemID string) (*OrderItem, bool) {
	for idx := range o.Items {
		if o.Items[idx].ID == itemID {
			return &o.Items[idx], true
		}
	}
	return nil, false
}

// HasCouponApplied сообщает, записан ли на заказ снимок ценообразования купона.
func (o *Order) HasCouponApplied() bool {
	return o.CouponCode != ""
}

// ApplyCouponPricing записывает одноразовый снимок ценообразования погашения.
func (o *Order) ApplyCouponPricing(code string, amountMinor int64, d Discount, now time.Time) {
	o.OriginalAmountMinor = amountMinor
	o.CouponCode = code
	o.CouponDiscountMinor = d.DiscountMinor
	o.TotalPriceMinor = d.FinalMinor
	o.UpdatedAt = now
}

// ClearCouponPricing снимает снимок ценообразования (компенсация проигранной
// гонки за квоту купона).
func (o *Order) ClearCouponPricing(now time.Time) {
	o.CouponCode = ""
	o.CouponDiscountMinor = 0
	o.TotalPriceMinor = o.OriginalAmountMinor
	o.UpdatedAt = now
}

// RecalculateReturnState выводит статус заказа и агрегатные поля возврата
// заново из текущих количеств по позициям. Расчёт всегда делается с нуля,
// инкрементальные поправки приводят к дрейфу при частичных сбоях.
func (o *Order) RecalculateReturnState(now time.Time) {
	total := o.TotalQty()
	returned := o.ReturnedQty()

	switch {
	case returned == 0:
		o.HasReturns = false
		// Откат из возвратного статуса возможен только после отмены возврата.
		if o.Status == OrderStatusPartiallyReturned || o.Status == OrderStatusFullyReturned {
			o.Status = OrderStatusDelivered
		}
	case returned < total:
		o.HasReturns = true
		o.Status = OrderStatusPartiallyReturned
	case total > 0:
		o.HasReturns = true
		o.Status = OrderStatusFullyReturned
	}

	o.UpdatedAt = now
}
