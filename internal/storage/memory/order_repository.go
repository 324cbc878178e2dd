package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// orderRepositoryInMemory — простая in-memory реализация OrderRepository.
type orderRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Order
	// byOrderID отображает публичный номер заказа на внутренний ID.
	byOrderID map[string]string
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() domain.OrderRepository {
	return &orderRepositoryInMemory{
		items:     make(map[string]domain.Order),
		byOrderID: make(map[string]string),
	}
}

// Create сохраняет новый заказ, если ID ещё не занят.
func (r *orderRepositoryInMemory) Create(order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[order.ID]; exists {
		return domain.ErrOrderVersionConflict
	}
	// Сохраняем копию позиций, чтобы избежать непредсказуемых мутаций извне.
	r.items[order.ID] = cloneOrder(order)
	if order.OrderID != "" {
		r.byOrderID[order.OrderID] = order.ID
	}
	return nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepositoryInMemory) Get(id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

// GetByOrderID возвращает заказ по публичному номеру.
func (r *orderRepositoryInMemory) GetByOrderID(orderID string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byOrderID[orderID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(r.items[id]), nil
}

// ListByCustomer возвращает заказы клиента, ограничивая выборку limit (если >0).
func (r *orderRepositoryInMemory) ListByCustomer(customerID string, limit int) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Order, 0, len(r.items))
	for _, order := range r.items {
		if order.CustomerID != customerID {
			continue
		}
		result = append(result, cloneOrder(order))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

// CountByCustomer возвращает число заказов клиента.
func (r *orderRepositoryInMemory) CountByCustomer(customerID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, order := range r.items {
		if order.CustomerID == customerID {
			count++
		}
	}
	return count, nil
}

// FindRedemption ищет заказ клиента с уже погашенным купоном,
// пропуская заказ с внутренним ID excludeOrderID.
func (r *orderRepositoryInMemory) FindRedemption(customerID, couponCode, excludeOrderID string) (domain.Order, error) {
	code := domain.NormalizeCouponCode(couponCode)

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, order := range r.items {
		if order.ID == excludeOrderID {
			continue
		}
		if order.CustomerID == customerID && order.CouponCode == code {
			return cloneOrder(order), nil
		}
	}
	return domain.Order{}, domain.ErrOrderNotFound
}

// Save перезаписывает заказ, проверяя версию (optimistic locking).
func (r *orderRepositoryInMemory) Save(order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.ErrOrderVersionConflict
	}
	// Инкрементируем версию перед сохранением.
	order.Version++
	r.items[order.ID] = cloneOrder(order)
	return nil
}

// ReserveReturnQty атомарно резервирует количество позиции под возврат.
// Инкремент по дельте под блокировкой — аналог условного UPDATE в PostgreSQL.
func (r *orderRepositoryInMemory) ReserveReturnQty(orderItemID string, delta int32) error {
	if delta <= 0 {
		return domain.ErrItemQtyInvalid
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for id, order := range r.items {
		item, ok := findItem(&order, orderItemID)
		if !ok {
			continue
		}
		if item.Qty-item.ReturnQty < delta {
			return domain.ErrInsufficientReturnableQty
		}
		item.ReturnQty += delta
		item.ReturnStatus = domain.ItemReturnStatusRequested
		order.UpdatedAt = time.Now().UTC()
		r.items[id] = order
		return nil
	}
	return domain.ErrOrderItemNotFound
}

// ReleaseReturnQty снимает резерв позиции; при обнулении сбрасывает статус возврата.
func (r *orderRepositoryInMemory) ReleaseReturnQty(orderItemID string, delta int32) error {
	if delta <= 0 {
		return domain.ErrItemQtyInvalid
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for id, order := range r.items {
		item, ok := findItem(&order, orderItemID)
		if !ok {
			continue
		}
		item.ReturnQty -= delta
		if item.ReturnQty <= 0 {
			item.ReturnQty = 0
			item.ReturnStatus = domain.ItemReturnStatusNone
		}
		order.UpdatedAt = time.Now().UTC()
		r.items[id] = order
		return nil
	}
	return domain.ErrOrderItemNotFound
}

// MarkItemReturned помечает позицию возвращённой после проведения возврата средств.
func (r *orderRepositoryInMemory) MarkItemReturned(orderItemID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, order := range r.items {
		item, ok := findItem(&order, orderItemID)
		if !ok {
			continue
		}
		item.ReturnStatus = domain.ItemReturnStatusReturned
		order.UpdatedAt = time.Now().UTC()
		r.items[id] = order
		return nil
	}
	return domain.ErrOrderItemNotFound
}

// findItem возвращает указатель на позицию уже склонированного заказа.
func findItem(order *domain.Order, itemID string) (*domain.OrderItem, bool) {
	for idx := range order.Items {
		if order.Items[idx].ID == itemID {
			return &order.Items[idx], true
		}
	}
	return nil, false
}

// cloneOrder делает глубокую копию заказа вместе с позициями.
func cloneOrder(order domain.Order) domain.Order {
	items := make([]domain.OrderItem, len(order.Items))
	copy(items, order.Items)
	order.Items = items
	return order
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
