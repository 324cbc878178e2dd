package app

import (
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestInitKafkaProducer_EmptyBrokersDisablesKafka(t *testing.T) {
	logger := log.WithField("test", "kafka")

	producer, err := initKafkaProducer("", logger)

	if err != nil {
		t.Errorf("empty brokers must not be an error, got %v", err)
	}
	if producer != nil {
		t.Error("empty brokers must disable kafka, producer expected nil")
	}
}

func TestInitKafkaProducer_UnreachableBrokers(t *testing.T) {
	logger := log.WithField("test", "kafka")

	tests := []struct {
		name    string
		brokers string
	}{
		{name: "single", brokers: "no-such-broker:9999"},
		{name: "multiple", brokers: "broker1:9092,broker2:9092,broker3:9092"},
		{name: "with spaces", brokers: "broker1:9092, broker2:9092"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			producer, err := initKafkaProducer(tc.brokers, logger)

			if err == nil {
				t.Error("expected error for unreachable brokers")
			}
			if producer != nil {
				t.Error("expected nil producer on error")
			}
		})
	}
}

func TestCloseKafka(t *testing.T) {
	logger := log.WithField("test", "kafka")

	// nil-producer означает выключенный kafka: закрытие не должно паниковать.
	closeKafka(nil, logger)

	producer, _ := initKafkaProducer("localhost:9999", logger)
	closeKafka(producer, logger)
}
