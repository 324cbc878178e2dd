package returns

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

// ReturnWindowDays — длительность окна возврата, отсчитываемого от доставки.
const ReturnWindowDays = 30

const (
	eventTypeReturnRequested     = "return.requested"
	eventTypeReturnStatusChanged = "return.status_changed"
	eventTypeReturnCompleted     = "return.completed"
	eventTypeReturnCanceled      = "return.canceled"
	aggregateTypeReturn          = "return"
)

// EligibilityItem описывает одну позицию заказа в ответе на проверку пригодности.
type EligibilityItem struct {
	OrderItemID        string `json:"order_item_id"`
	SKU                string `json:"sku"`
	Size               string `json:"size,omitempty"`
	Qty                int32  `json:"qty"`
	PriceMinor         int64  `json:"price_minor"`
	AvailableForReturn int32  `json:"available_for_return"`
}

// EligibilityResult — результат проверки пригодности заказа к возврату.
// При отказе Reasons перечисляет все провалившиеся условия, не только первое.
type EligibilityResult struct {
	Eligible        bool              `json:"eligible"`
	Reasons         []string          `json:"reasons,omitempty"`
	WindowClosesAt  *time.Time        `json:"window_closes_at,omitempty"`
	ReturnableItems []EligibilityItem `json:"returnable_items,omitempty"`
}

// CreateItemRequest — одна позиция в заявке на возврат.
type CreateItemRequest struct {
	OrderItemID string `json:"order_item_id"`
	Qty         int32  `json:"qty"`
	Reason      string `json:"reason,omitempty"`
}

// CreateRequest — заявка клиента на возврат по заказу.
type CreateRequest struct {
	OrderID       string              `json:"order_id"`
	CustomerID    string              `json:"customer_id"`
	Items         []CreateItemRequest `json:"items"`
	Reason        string              `json:"reason,omitempty"`
	Method        string              `json:"method"`
	PickupAddress string              `json:"pickup_address,omitempty"`
}

// TransitionRequest — административный перевод возврата в новый статус.
type TransitionRequest struct {
	ReturnID string `json:"return_id"`
	ToStatus string `json:"to_status"`
	Message  string `json:"message,omitempty"`
	// RefundAmountMinor учитывается только при переходе в refund_processed.
	RefundAmountMinor int64  `json:"refund_amount_minor,omitempty"`
	AdminNotes        string `json:"admin_notes,omitempty"`
}

// Service реализует жизненный цикл возврата: проверку пригодности, приём
// заявки с атомарным резервированием количеств и машину статусов с
// синхронизацией агрегата заказа.
type Service struct {
	orders  domain.OrderRepository
	returns domain.ReturnRepository
	outbox  domain.OutboxRepository
	logger  *log.Entry
	metrics *metrics.ReturnsMetrics

	now func() time.Time
}

// NewService конструирует сервис возвратов. Outbox опционален.
func NewService(
	orders domain.OrderRepository,
	returns domain.ReturnRepository,
	outbox domain.OutboxRepository,
	logger *log.Entry,
) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "returns")
	}
	return &Service{
		orders:  orders,
		returns: returns,
		outbox:  outbox,
		logger:  logger,
		metrics: metrics.NewReturnsMetrics(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Eligibility проверяет пригодность заказа к возврату и перечисляет позиции
// с ненулевым остатком под возврат. Ошибки выдаются только на инфраструктурных
// сбоях и отсутствии заказа; бизнес-отказ — это Eligible=false с причинами.
func (s *Service) Eligibility(_ context.Context, orderID, customerID string) (EligibilityResult, error) {
	order, err := s.orders.GetByOrderID(orderID)
	if err != nil {
		return EligibilityResult{}, err
	}
	if customerID != "" && order.CustomerID != customerID {
		return EligibilityResult{}, domain.ErrUnauthorized
	}

	now := s.now()
	windowClosesAt := order.ReturnWindowReference().Add(ReturnWindowDays * 24 * time.Hour)

	var reasons []string
	if !order.IsDelivered() {
		reasons = append(reasons, "order is not delivered yet")
	}
	if now.After(windowClosesAt) {
		reasons = append(reasons, fmt.Sprintf("return window of %d days has expired", ReturnWindowDays))
	}
	if !order.ReturnEligible {
		reasons = append(reasons, "returns are not allowed for this order")
	}

	items := make([]EligibilityItem, 0, len(order.Items))
	for _, item := range order.Items {
		avail := item.AvailableForReturn()
		if avail == 0 {
			continue
		}
		items = append(items, EligibilityItem{
			OrderItemID:        item.ID,
			SKU:                item.SKU,
			Size:               item.Size,
			Qty:                item.Qty,
			PriceMinor:         item.PriceMinor,
			AvailableForReturn: avail,
		})
	}
	if len(items) == 0 {
		reasons = append(reasons, "no items available for return")
	}

	if len(reasons) > 0 {
		return EligibilityResult{Eligible: false, Reasons: reasons}, nil
	}
	return EligibilityResult{
		Eligible:        true,
		WindowClosesAt:  &windowClosesAt,
		ReturnableItems: items,
	}, nil
}

// Create принимает заявку на возврат: повторяет проверку пригодности,
// атомарно резервирует количества по позициям (с откатом уже сделанных
// резервов при отказе), создаёт возврат с затравочным журналом и
// пересчитывает агрегат заказа.
func (s *Service) Create(ctx context.Context, req CreateRequest) (domain.Return, error) {
	if req.CustomerID == "" {
		return domain.Return{}, domain.ErrCustomerRequired
	}
	if len(req.Items) == 0 {
		return domain.Return{}, domain.ErrReturnItemsRequired
	}
	method := domain.ReturnMethod(req.Method)
	if !method.Valid() {
		return domain.Return{}, domain.ErrReturnMethodInvalid
	}
	if method == domain.ReturnMethodPickup && req.PickupAddress == "" {
		return domain.Return{}, domain.ErrPickupAddressRequired
	}
	for _, item := range req.Items {
		if item.Qty <= 0 {
			return domain.Return{}, domain.ErrItemQtyInvalid
		}
	}

	order, err := s.orders.GetByOrderID(req.OrderID)
	if err != nil {
		return domain.Return{}, err
	}
	if order.CustomerID != req.CustomerID {
		// Заказ существует, но принадлежит другому клиенту.
		return domain.Return{}, domain.ErrUnauthorized
	}

	eligibility, err := s.Eligibility(ctx, req.OrderID, req.CustomerID)
	if err != nil {
		return domain.Return{}, err
	}
	if !eligibility.Eligible {
		return domain.Return{}, fmt.Errorf("%w: %v", domain.ErrOrderNotEligibleForReturn, eligibility.Reasons)
	}

	now := s.now()
	returnItems := make([]domain.ReturnItem, 0, len(req.Items))
	reserved := make([]CreateItemRequest, 0, len(req.Items))

	// Резервирование по позициям: каждая операция атомарна в хранилище.
	// При отказе освобождаем уже сделанные резервы этой заявки.
	for _, item := range req.Items {
		orderItem, ok := order.FindItem(item.OrderItemID)
		if !ok {
			s.releaseReserved(reserved)
			return domain.Return{}, fmt.Errorf("%w: %s", domain.ErrOrderItemNotFound, item.OrderItemID)
		}

		if err := s.orders.ReserveReturnQty(item.OrderItemID, item.Qty); err != nil {
			s.releaseReserved(reserved)
			if errors.Is(err, domain.ErrInsufficientReturnableQty) {
				return domain.Return{}, fmt.Errorf(
					"%w: item %s: requested %d, only %d available",
					domain.ErrInsufficientReturnableQty, item.OrderItemID, item.Qty, orderItem.AvailableForReturn(),
				)
			}
			return domain.Return{}, fmt.Errorf("reserve return qty: %w", err)
		}
		reserved = append(reserved, item)

		returnItems = append(returnItems, domain.ReturnItem{
			OrderItemID: item.OrderItemID,
			SKU:         orderItem.SKU,
			Size:        orderItem.Size,
			Qty:         item.Qty,
			PriceMinor:  orderItem.PriceMinor,
			Reason:      item.Reason,
		})
	}

	var amount int64
	for _, item := range returnItems {
		amount += int64(item.Qty) * item.PriceMinor
	}

	ret := domain.Return{
		ID:                uuid.NewString(),
		OrderID:           order.OrderID,
		CustomerID:        req.CustomerID,
		Items:             returnItems,
		Reason:            req.Reason,
		Method:            method,
		PickupAddress:     req.PickupAddress,
		Status:            domain.ReturnStatusRequested,
		ReturnAmountMinor: amount,
		Timeline: []domain.TimelineEntry{{
			Status:   domain.ReturnStatusRequested,
			Message:  domain.ReturnStatusRequested.CanonicalMessage(),
			Occurred: now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.returns.Create(ret); err != nil {
		s.releaseReserved(reserved)
		return domain.Return{}, fmt.Errorf("create return: %w", err)
	}

	if err := s.syncOrder(order.ID); err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Error("failed to sync order aggregate after return creation")
	}

	s.enqueueEvent(eventTypeReturnRequested, ret, map[string]any{
		"return_amount_minor": ret.ReturnAmountMinor,
		"items":               len(ret.Items),
	})
	s.metrics.RecordCreated()

	s.logger.WithFields(log.Fields{
		"return_id": ret.ID,
		"order_id":  order.OrderID,
		"amount":    ret.ReturnAmountMinor,
	}).Info("return request created")

	return ret, nil
}

// Get возвращает заявку на возврат с проверкой принадлежности клиенту.
// Пустой customerID означает административный доступ.
func (s *Service) Get(_ context.Context, returnID, customerID string) (domain.Return, error) {
	ret, err := s.returns.Get(returnID)
	if err != nil {
		return domain.Return{}, err
	}
	if customerID != "" && ret.CustomerID != customerID {
		return domain.Return{}, domain.ErrUnauthorized
	}
	return ret, nil
}

// ListByCustomer возвращает возвраты клиента, новые первыми.
func (s *Service) ListByCustomer(_ context.Context, customerID string) ([]domain.Return, error) {
	if customerID == "" {
		return nil, domain.ErrCustomerRequired
	}
	return s.returns.ListByCustomer(customerID)
}

// Transition переводит возврат в новый статус: проверяет допустимость
// перехода, атомарно сохраняет переход вместе с записью журнала и
// синхронизирует агрегат заказа.
func (s *Service) Transition(_ context.Context, req TransitionRequest) (domain.Return, error) {
	started := s.now()

	to := domain.ReturnStatus(req.ToStatus)
	if !to.Valid() {
		return domain.Return{}, domain.ErrReturnStatusInvalid
	}

	ret, err := s.returns.Get(req.ReturnID)
	if err != nil {
		return domain.Return{}, err
	}

	if !ret.CanTransition(to) {
		return domain.Return{}, fmt.Errorf("%w: %s -> %s", domain.ErrTransitionInvalid, ret.Status, to)
	}

	now := s.now()
	previous := ret.Status
	refundWasApplied := ret.RefundApplied()

	if to == domain.ReturnStatusRefundProcessed && req.RefundAmountMinor > 0 {
		ret.RefundAmountMinor = req.RefundAmountMinor
	}
	if req.AdminNotes != "" {
		ret.AdminNotes = req.AdminNotes
	}

	ret.ApplyTransition(to, req.Message, now)

	// Переход и его запись журнала становятся видны одной операцией.
	if err := s.returns.Save(ret); err != nil {
		return domain.Return{}, fmt.Errorf("save return transition: %w", err)
	}
	s.metrics.RecordTimelineEntry()

	switch to {
	case domain.ReturnStatusRefundProcessed:
		if err := s.applyRefund(ret, refundWasApplied); err != nil {
			s.logger.WithError(err).WithField("return_id", ret.ID).Error("failed to credit refund to order aggregate")
		}
	case domain.ReturnStatusRejected, domain.ReturnStatusCancelled:
		if err := s.reverseReturn(ret, refundWasApplied); err != nil {
			s.logger.WithError(err).WithField("return_id", ret.ID).Error("failed to reverse return on order aggregate")
		}
	}

	switch to {
	case domain.ReturnStatusCompleted:
		s.enqueueEvent(eventTypeReturnCompleted, ret, map[string]any{
			"refund_minor": ret.EffectiveRefundMinor(),
		})
	case domain.ReturnStatusCancelled:
		s.enqueueEvent(eventTypeReturnCanceled, ret, map[string]any{
			"previous_status": string(previous),
		})
	default:
		s.enqueueEvent(eventTypeReturnStatusChanged, ret, map[string]any{
			"previous_status": string(previous),
			"new_status":      string(to),
		})
	}

	s.metrics.RecordTransition(string(to))
	s.metrics.RecordTransitionDuration(s.now().Sub(started))
	if to.Terminal() {
		s.metrics.RecordFinished()
	}

	s.logger.WithFields(log.Fields{
		"return_id": ret.ID,
		"from":      previous,
		"to":        to,
	}).Info("return status changed")

	return ret, nil
}

// applyRefund зачитывает сумму возврата средств в агрегат заказа ровно один раз
// и помечает возвращёнными позиции заказа, покрытые этим возвратом.
func (s *Service) applyRefund(ret domain.Return, alreadyApplied bool) error {
	if alreadyApplied {
		return nil
	}

	for _, item := range ret.Items {
		if err := s.orders.MarkItemReturned(item.OrderItemID); err != nil {
			s.logger.WithError(err).WithFields(log.Fields{
				"return_id":     ret.ID,
				"order_item_id": item.OrderItemID,
			}).Error("failed to mark order item returned")
		}
	}

	order, err := s.orders.GetByOrderID(ret.OrderID)
	if err != nil {
		return err
	}
	order.TotalReturnAmountMinor += ret.EffectiveRefundMinor()
	order.RecalculateReturnState(s.now())
	return s.orders.Save(order)
}

// reverseReturn откатывает эффект возврата при отклонении или отмене:
// освобождает зарезервированные количества, снимает зачтённую сумму
// (если возврат средств уже был проведён) и пересчитывает состояние заказа.
func (s *Service) reverseReturn(ret domain.Return, refundWasApplied bool) error {
	for _, item := range ret.Items {
		if err := s.orders.ReleaseReturnQty(item.OrderItemID, item.Qty); err != nil {
			s.logger.WithError(err).WithFields(log.Fields{
				"return_id":     ret.ID,
				"order_item_id": item.OrderItemID,
			}).Error("failed to release reserved return qty")
		}
	}

	order, err := s.orders.GetByOrderID(ret.OrderID)
	if err != nil {
		return err
	}
	if refundWasApplied {
		order.TotalReturnAmountMinor -= ret.EffectiveRefundMinor()
		if order.TotalReturnAmountMinor < 0 {
			order.TotalReturnAmountMinor = 0
		}
	}
	order.RecalculateReturnState(s.now())
	return s.orders.Save(order)
}

// syncOrder пересчитывает производное состояние возвратов заказа с нуля.
func (s *Service) syncOrder(orderInternalID string) error {
	order, err := s.orders.Get(orderInternalID)
	if err != nil {
		return err
	}
	order.RecalculateReturnState(s.now())
	return s.orders.Save(order)
}

// releaseReserved откатывает резервы количеств, сделанные неудавшейся заявкой.
func (s *Service) releaseReserved(reserved []CreateItemRequest) {
	for _, item := range reserved {
		if err := s.orders.ReleaseReturnQty(item.OrderItemID, item.Qty); err != nil {
			s.logger.WithError(err).WithField("order_item_id", item.OrderItemID).Error("failed to roll back return qty reservation")
		}
	}
}

func (s *Service) enqueueEvent(eventType string, ret domain.Return, extra map[string]any) {
	if s.outbox == nil {
		return
	}

	fields := map[string]any{
		"return_id":   ret.ID,
		"order_id":    ret.OrderID,
		"customer_id": ret.CustomerID,
		"status":      string(ret.Status),
		"occurred_at": s.now().Format(time.RFC3339Nano),
	}
	for k, v := range extra {
		fields[k] = v
	}

	payload, err := json.Marshal(fields)
	if err != nil {
		s.logger.WithError(err).WithField("event_type", eventType).Warn("failed to marshal return event payload")
		return
	}

	if _, err := s.outbox.Enqueue(domain.OutboxMessage{
		AggregateType: aggregateTypeReturn,
		AggregateID:   ret.ID,
		EventType:     eventType,
		Payload:       payload,
	}); err != nil {
		s.logger.WithError(err).WithField("event_type", eventType).Warn("failed to enqueue return event")
	}
}
