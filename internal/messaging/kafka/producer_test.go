package kafka

import (
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
)

func TestProducer_PublishEvent(t *testing.T) {
	// Создаем mock producer
	mockProducer := mocks.NewSyncProducer(t, nil)

	producer := &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-producer-test"),
	}

	// Настраиваем ожидания
	mockProducer.ExpectSendMessageAndSucceed()

	// Создаем тестовое событие
	event := NewPromoEvent(
		EventTypeCouponRedeemed,
		"ord-1001",
		"cust-1",
		"summer10",
		map[string]interface{}{
			"discount_minor": 1000,
		},
	)

	// Публикуем событие
	err := producer.PublishEvent(TopicPromoEvents, "ord-1001", event)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	// Проверяем, что все ожидания выполнены
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_PublishEvent_Error(t *testing.T) {
	// Создаем mock producer с ошибкой
	mockProducer := mocks.NewSyncProducer(t, nil)

	producer := &Producer{
		producer: mockProducer,
		logger:   log.WithField("component", "kafka-producer-test"),
	}

	// Настраиваем ожидание ошибки
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	event := NewPromoEvent(
		EventTypeCouponRedeemed,
		"ord-1001",
		"cust-1",
		"summer10",
		nil,
	)

	// Публикуем событие
	err := producer.PublishEvent(TopicPromoEvents, "ord-1001", event)
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestNewPromoEvent(t *testing.T) {
	orderID := "ord-1001"
	metadata := map[string]interface{}{
		"discount_minor": 1000,
		"total_minor":    9000,
	}

	event := NewPromoEvent(EventTypeCouponRedeemed, orderID, "cust-1", "summer10", metadata)

	if event.EventType != EventTypeCouponRedeemed {
		t.Errorf("expected event type %s, got %s", EventTypeCouponRedeemed, event.EventType)
	}

	if event.OrderID != orderID {
		t.Errorf("expected order id %s, got %s", orderID, event.OrderID)
	}

	if event.CouponCode != "summer10" {
		t.Errorf("expected coupon code summer10, got %s", event.CouponCode)
	}

	if event.Metadata["discount_minor"] != 1000 {
		t.Error("metadata not set correctly")
	}

	// Проверяем, что timestamp установлен
	if event.Timestamp.IsZero() {
		t.Error("timestamp should not be zero")
	}

	// Проверяем, что timestamp близок к текущему времени
	if time.Since(event.Timestamp) > time.Second {
		t.Error("timestamp should be close to current time")
	}
}

func TestNewReturnEvent(t *testing.T) {
	returnID := "ret-1"
	orderID := "ord-1001"
	customerID := "cust-1"
	status := "approved"
	metadata := map[string]interface{}{
		"previous_status": "requested",
	}

	event := NewReturnEvent(EventTypeReturnStatusChanged, returnID, orderID, customerID, status, metadata)

	if event.EventType != EventTypeReturnStatusChanged {
		t.Errorf("expected event type %s, got %s", EventTypeReturnStatusChanged, event.EventType)
	}

	if event.ReturnID != returnID {
		t.Errorf("expected return id %s, got %s", returnID, event.ReturnID)
	}

	if event.OrderID != orderID {
		t.Errorf("expected order id %s, got %s", orderID, event.OrderID)
	}

	if event.CustomerID != customerID {
		t.Errorf("expected customer id %s, got %s", customerID, event.CustomerID)
	}

	if event.Status != status {
		t.Errorf("expected status %s, got %s", status, event.Status)
	}

	if event.Timestamp.IsZero() {
		t.Error("timestamp should not be zero")
	}
}
