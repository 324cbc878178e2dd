package domain

import "time"

// ReturnStatus описывает состояние машины статусов возврата.
type ReturnStatus string

const (
	// ReturnStatusRequested — заявка подана и ждёт решения администратора.
	ReturnStatusRequested ReturnStatus = "requested"
	// ReturnStatusApproved — возврат одобрен.
	ReturnStatusApproved ReturnStatus = "approved"
	// ReturnStatusRejected — возврат отклонён (терминальный статус).
	ReturnStatusRejected ReturnStatus = "rejected"
	// ReturnStatusPickupScheduled — назначен забор товара у клиента.
	ReturnStatusPickupScheduled ReturnStatus = "pickup_scheduled"
	// ReturnStatusItemsReceived — товар получен складом.
	ReturnStatusItemsReceived ReturnStatus = "items_received"
	// ReturnStatusItemsInspected — товар прошёл проверку.
	ReturnStatusItemsInspected ReturnStatus = "items_inspected"
	// ReturnStatusRefundProcessed — возврат средств проведён.
	ReturnStatusRefundProcessed ReturnStatus = "refund_processed"
	// ReturnStatusCompleted — возврат завершён (терминальный статус).
	ReturnStatusCompleted ReturnStatus = "completed"
	// ReturnStatusCancelled — возврат отменён (терминальный статус).
	ReturnStatusCancelled ReturnStatus = "cancelled"
)

// ReturnMethod описывает способ передачи товара обратно продавцу.
type ReturnMethod string

const (
	ReturnMethodPickup  ReturnMethod = "pickup"
	ReturnMethodDropOff ReturnMethod = "drop_off"
	ReturnMethodMail    ReturnMethod = "mail"
)

// returnTransitions задаёт разрешённые переходы машины статусов.
// Отмена из любого нетерминального статуса разрешена отдельно в CanTransition.
var returnTransitions = map[ReturnStatus][]ReturnStatus{
	ReturnStatusRequested:       {ReturnStatusApproved, ReturnStatusRejected},
	ReturnStatusApproved:        {ReturnStatusPickupScheduled},
	ReturnStatusPickupScheduled: {ReturnStatusItemsReceived},
	ReturnStatusItemsReceived:   {ReturnStatusItemsInspected},
	ReturnStatusItemsInspected:  {ReturnStatusRefundProcessed},
	ReturnStatusRefundProcessed: {ReturnStatusCompleted},
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s ReturnStatus) Valid() bool {
	switch s {
	case ReturnStatusRequested, ReturnStatusApproved, ReturnStatusRejected,
		ReturnStatusPickupScheduled, ReturnStatusItemsReceived, ReturnStatusItemsInspected,
		ReturnStatusRefundProcessed, ReturnStatusCompleted, ReturnStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal сообщает, является ли статус конечным.
func (s ReturnStatus) Terminal() bool {
	switch s {
	case ReturnStatusRejected, ReturnStatusCompleted, ReturnStatusCancelled:
		return true
	default:
		return false
	}
}

// CanonicalMessage возвращает стандартное человекочитаемое сообщение статуса.
// Switch покрывает все статусы; новый статус без сообщения не скомпилируется
// незамеченным благодаря default с пустой строкой и тестам на полноту.
func (s ReturnStatus) CanonicalMessage() string {
	switch s {
	case ReturnStatusRequested:
		return "Return request submitted"
	case ReturnStatusApproved:
		return "Return request approved"
	case ReturnStatusRejected:
		return "Return request rejected"
	case ReturnStatusPickupScheduled:
		return "Pickup scheduled"
	case ReturnStatusItemsReceived:
		return "Items received at warehouse"
	case ReturnStatusItemsInspected:
		return "Items passed inspection"
	case ReturnStatusRefundProcessed:
		return "Refund processed"
	case ReturnStatusCompleted:
		return "Return completed"
	case ReturnStatusCancelled:
		return "Return cancelled"
	default:
		return ""
	}
}

// Valid проверяет способ возврата.
func (m ReturnMethod) Valid() bool {
	switch m {
	case ReturnMethodPickup, ReturnMethodDropOff, ReturnMethodMail:
		return true
	default:
		return false
	}
}

// ReturnItem — часть одной позиции заказа, заявленная на возврат.
// Цена и размер снимаются с позиции заказа в момент заявки.
type ReturnItem struct {
	OrderItemID string
	SKU         string
	Size        string
	Qty         int32
	PriceMinor  int64
	Reason      string
}

// Return агрегирует заявку на возврат, её журнал статусов и вехи.
type Return struct {
	ID string
	// OrderID — публичный номер заказа: заявки создаются и читаются по нему.
	OrderID    string
	CustomerID string

	Items  []ReturnItem
	Reason string
	Method ReturnMethod
	// PickupAddress заполняется только для метода pickup.
	PickupAddress string

	Status ReturnStatus
	// ReturnAmountMinor — сумма price*qty по позициям на момент заявки; неизменна.
	ReturnAmountMinor int64
	// RefundAmountMinor задаётся администратором при проведении возврата средств;
	// 0 означает "использовать ReturnAmountMinor".
	RefundAmountMinor int64
	AdminNotes        string

	Timeline []TimelineEntry

	ApprovedAt        *time.Time
	PickupScheduledAt *time.Time
	ItemsReceivedAt   *time.Time
	RefundProcessedAt *time.Time
	CompletedAt       *time.Time
	CancelledAt       *time.Time

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ValidateInvariants проверяет базовые инварианты заявки на возврат.
func (r *Return) ValidateInvariants() []error {
	var errs []error

	if r.OrderID == "" {
		errs = append(errs, ErrOrderNotFound)
	}
	if r.CustomerID == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if len(r.Items) == 0 {
		errs = append(errs, ErrReturnItemsRequired)
	}
	if !r.Method.Valid() {
		errs = append(errs, ErrReturnMethodInvalid)
	}
	if !r.Status.Valid() {
		errs = append(errs, ErrReturnStatusInvalid)
	}

	var calc int64
	for _, item := range r.Items {
		if item.Qty <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.PriceMinor < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
		calc += int64(item.Qty) * item.PriceMinor
	}
	if len(r.Items) > 0 && calc != r.ReturnAmountMinor {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}

// CanTransition проверяет допустимость перехода из текущего статуса.
func (r *Return) CanTransition(to ReturnStatus) bool {
	if !to.Valid() {
		return false
	}
	// Отмена разрешена из любого нетерминального статуса.
	if to == ReturnStatusCancelled {
		return !r.Status.Terminal()
	}
	for _, allowed := range returnTransitions[r.Status] {
		if allowed == to {
			return true
		}
	}
	return false
}

// EffectiveRefundMinor — сумма к возврату: заданная администратором или исходная.
func (r *Return) EffectiveRefundMinor() int64 {
	if r.RefundAmountMinor > 0 {
		return r.RefundAmountMinor
	}
	return r.ReturnAmountMinor
}

// RefundApplied сообщает, был ли возврат средств уже зачтён в заказ.
func (r *Return) RefundApplied() bool {
	return r.RefundProcessedAt != nil
}

// ApplyTransition выполняет механику перехода: статус, веха, запись журнала.
// Допустимость перехода проверяется вызывающей стороной через CanTransition.
func (r *Return) ApplyTransition(to ReturnStatus, message string, now time.Time) {
	r.Status = to
	r.UpdatedAt = now

	switch to {
	case ReturnStatusApproved:
		at := now
		r.ApprovedAt = &at
	case ReturnStatusPickupScheduled:
		at := now
		r.PickupScheduledAt = &at
	case ReturnStatusItemsReceived:
		at := now
		r.ItemsReceivedAt = &at
	case ReturnStatusRefundProcessed:
		at := now
		r.RefundProcessedAt = &at
	case ReturnStatusCompleted:
		at := now
		r.CompletedAt = &at
	case ReturnStatusCancelled:
		at := now
		r.CancelledAt = &at
	}

	if message == "" {
		message = to.CanonicalMessage()
	}
	r.Timeline = append(r.Timeline, TimelineEntry{
		Status:   to,
		Message:  message,
		Occurred: now,
	})
}
