package kafka

import "time"

// EventType определяет тип события
type EventType string

const (
	// Промо-события
	EventTypeCouponRedeemed EventType = "coupon.redeemed"

	// События жизненного цикла возврата
	EventTypeReturnRequested     EventType = "return.requested"
	EventTypeReturnStatusChanged EventType = "return.status_changed"
	EventTypeReturnCompleted     EventType = "return.completed"
	EventTypeReturnCanceled      EventType = "return.canceled"
)

// Topics для Kafka
const (
	TopicPromoEvents     = "storefront.promo.events"
	TopicReturnEvents    = "storefront.returns.events"
	TopicDeadLetterQueue = "storefront.dlq" // Dead Letter Queue для failed messages
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// PromoEvent представляет событие погашения купона
type PromoEvent struct {
	EventType  EventType              `json:"event_type"`
	OrderID    string                 `json:"order_id"`
	CustomerID string                 `json:"customer_id"`
	CouponCode string                 `json:"coupon_code"`
	Timestamp  time.Time              `json:"timestamp"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// ReturnEvent представляет событие жизненного цикла возврата
type ReturnEvent struct {
	EventType  EventType              `json:"event_type"`
	ReturnID   string                 `json:"return_id"`
	OrderID    string                 `json:"order_id"`
	CustomerID string                 `json:"customer_id"`
	Status     string                 `json:"status"`
	Timestamp  time.Time              `json:"timestamp"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// NewPromoEvent создает новое промо-событие
func NewPromoEvent(eventType EventType, orderID, customerID, couponCode string, metadata map[string]interface{}) *PromoEvent {
	return &PromoEvent{
		EventType:  eventType,
		OrderID:    orderID,
		CustomerID: customerID,
		CouponCode: couponCode,
		Timestamp:  time.Now(),
		Metadata:   metadata,
	}
}

// NewReturnEvent создает новое событие возврата
func NewReturnEvent(eventType EventType, returnID, orderID, customerID, status string, metadata map[string]interface{}) *ReturnEvent {
	return &ReturnEvent{
		EventType:  eventType,
		ReturnID:   returnID,
		OrderID:    orderID,
		CustomerID: customerID,
		Status:     status,
		Timestamp:  time.Now(),
		Metadata:   metadata,
	}
}
