package domain

// CouponRepository описывает требования к хранилищу купонов.
type CouponRepository interface {
	// Create сохраняет новый купон. Возвращает ErrCouponExists, если код занят.
	Create(coupon Coupon) error
	// GetByCode возвращает купон по нормализованному коду или ErrCouponNotFound.
	GetByCode(code string) (Coupon, error)
	// Save применяет административные правки к купону (кроме счётчика использований).
	Save(coupon Coupon) error
	// ConditionalIncrementUsage атомарно выполняет "increment iff used_count < usage_limit".
	// Возвращает false, если квота выбрана, купон неактивен или не найден.
	// Это единственный способ увеличить счётчик использований.
	ConditionalIncrementUsage(code string) (bool, error)
	// DecrementUsage компенсирует инкремент при откате погашения; пол — ноль.
	DecrementUsage(code string) error
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ошибку, если запись с таким ID уже существует.
	Create(order Order) error
	// Get возвращает заказ по внутреннему идентификатору или ErrOrderNotFound.
	Get(id string) (Order, error)
	// GetByOrderID возвращает заказ по публичному номеру или ErrOrderNotFound.
	GetByOrderID(orderID string) (Order, error)
	// ListByCustomer возвращает заказы клиента с опциональным ограничением на количество.
	ListByCustomer(customerID string, limit int) ([]Order, error)
	// CountByCustomer возвращает число заказов клиента (для first_order купонов).
	CountByCustomer(customerID string) (int, error)
	// FindRedemption ищет заказ клиента, на котором уже погашен данный купон.
	// Заказ с внутренним идентификатором excludeOrderID не учитывается: путь
	// погашения исключает сам погашаемый заказ. Пустой excludeOrderID ищет по
	// всем заказам. Возвращает ErrOrderNotFound, если погашения не было.
	FindRedemption(customerID, couponCode, excludeOrderID string) (Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking.
	Save(order Order) error
	// ReserveReturnQty атомарно увеличивает return_qty позиции на delta,
	// только если остатка qty-return_qty хватает. Возвращает
	// ErrInsufficientReturnableQty при нехватке остатка.
	ReserveReturnQty(orderItemID string, delta int32) error
	// ReleaseReturnQty атомарно уменьшает return_qty позиции на delta (пол — ноль)
	// и сбрасывает статус возврата позиции, когда резерв обнуляется.
	ReleaseReturnQty(orderItemID string, delta int32) error
	// MarkItemReturned переводит позицию в статус returned после проведения
	// возврата средств. Возвращает ErrOrderItemNotFound для неизвестной позиции.
	MarkItemReturned(orderItemID string) error
}

// ReturnRepository описывает требования к хранилищу возвратов.
type ReturnRepository interface {
	// Create сохраняет новую заявку на возврат вместе с затравочным журналом.
	Create(ret Return) error
	// Get возвращает возврат по идентификатору или ErrReturnNotFound.
	Get(id string) (Return, error)
	// ListByOrder возвращает все возвраты по заказу.
	ListByOrder(orderID string) ([]Return, error)
	// ListByCustomer возвращает возвраты клиента, новые первыми.
	ListByCustomer(customerID string) ([]Return, error)
	// Save атомарно сохраняет переход статуса вместе с новыми записями журнала:
	// переход не может быть виден без своей записи, и наоборот.
	// Конфликт версий — ErrReturnVersionConflict.
	Save(ret Return) error
}

// CustomerRepository описывает справочник клиентов.
type CustomerRepository interface {
	// Create сохраняет нового клиента. Возвращает ErrCustomerExists при дубле email.
	Create(customer Customer) error
	// Get возвращает клиента по идентификатору или ErrCustomerNotFound.
	Get(id string) (Customer, error)
	// GetByEmail возвращает клиента по нормализованному email или ErrCustomerNotFound.
	GetByEmail(email string) (Customer, error)
}
