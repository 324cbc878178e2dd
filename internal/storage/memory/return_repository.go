package memory

import (
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// returnRepositoryInMemory — простая in-memory реализация ReturnRepository.
// Статус и журнал хранятся в одной записи, поэтому сохраняются атомарно
// по построению.
type returnRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Return
}

// NewReturnRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewReturnRepository() domain.ReturnRepository {
	return &returnRepositoryInMemory{
		items: make(map[string]domain.Return),
	}
}

// Create сохраняет новую заявку, если ID ещё не занят.
func (r *returnRepositoryInMemory) Create(ret domain.Return) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[ret.ID]; exists {
		return domain.ErrReturnVersionConflict
	}
	r.items[ret.ID] = cloneReturn(ret)
	return nil
}

// Get возвращает возврат или ErrReturnNotFound, если его нет.
func (r *returnRepositoryInMemory) Get(id string) (domain.Return, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ret, ok := r.items[id]
	if !ok {
		return domain.Return{}, domain.ErrReturnNotFound
	}
	return cloneReturn(ret), nil
}

// ListByOrder возвращает все возвраты по заказу в порядке создания.
func (r *returnRepositoryInMemory) ListByOrder(orderID string) ([]domain.Return, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Return, 0)
	for _, ret := range r.items {
		if ret.OrderID == orderID {
			result = append(result, cloneReturn(ret))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})

	return result, nil
}

// ListByCustomer возвращает возвраты клиента, новые первыми.
func (r *returnRepositoryInMemory) ListByCustomer(customerID string) ([]domain.Return, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Return, 0)
	for _, ret := range r.items {
		if ret.CustomerID == customerID {
			result = append(result, cloneReturn(ret))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	return result, nil
}

// Save перезаписывает возврат вместе с журналом, проверяя версию (optimistic locking).
func (r *returnRepositoryInMemory) Save(ret domain.Return) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[ret.ID]
	if !ok {
		return domain.ErrReturnNotFound
	}
	if current.Version != ret.Version {
		return domain.ErrReturnVersionConflict
	}
	// Журнал append-only: усечение указывает на ошибку вызывающей стороны.
	if len(ret.Timeline) < len(current.Timeline) {
		return domain.ErrReturnVersionConflict
	}

	ret.Version++
	r.items[ret.ID] = cloneReturn(ret)
	return nil
}

// cloneReturn делает глубокую копию возврата вместе с позициями и журналом.
func cloneReturn(ret domain.Return) domain.Return {
	items := make([]domain.ReturnItem, len(ret.Items))
	copy(items, ret.Items)
	ret.Items = items

	timeline := make([]domain.TimelineEntry, len(ret.Timeline))
	copy(timeline, ret.Timeline)
	ret.Timeline = timeline

	return ret
}

var _ domain.ReturnRepository = (*returnRepositoryInMemory)(nil)
