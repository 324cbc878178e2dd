package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
)

// Заглушки sarama-интерфейсов: группа, сессия и claim. Боевой sarama
// в юнит-тестах не поднимается, проверяем только нашу логику поверх него.

type groupStub struct {
	consumeFn func(context.Context, []string, sarama.ConsumerGroupHandler) error
	errorsCh  chan error
	closeFn   func() error
}

func (g *groupStub) Consume(ctx context.Context, topics []string, handler sarama.ConsumerGroupHandler) error {
	if g.consumeFn == nil {
		return nil
	}
	return g.consumeFn(ctx, topics, handler)
}

func (g *groupStub) Errors() <-chan error { return g.errorsCh }

func (g *groupStub) Close() error {
	if g.closeFn != nil {
		return g.closeFn()
	}
	if g.errorsCh != nil {
		close(g.errorsCh)
	}
	return nil
}

func (g *groupStub) Pause(map[string][]int32)  {}
func (g *groupStub) Resume(map[string][]int32) {}
func (g *groupStub) PauseAll()                 {}
func (g *groupStub) ResumeAll()                {}

type sessionStub struct {
	ctx    context.Context
	marked []*sarama.ConsumerMessage
}

func (s *sessionStub) Claims() map[string][]int32               { return nil }
func (s *sessionStub) MemberID() string                         { return "member" }
func (s *sessionStub) GenerationID() int32                      { return 1 }
func (s *sessionStub) MarkOffset(string, int32, int64, string)  {}
func (s *sessionStub) Commit()                                  {}
func (s *sessionStub) ResetOffset(string, int32, int64, string) {}
func (s *sessionStub) Context() context.Context                 { return s.ctx }
func (s *sessionStub) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.marked = append(s.marked, msg)
}

type claimStub struct {
	topic     string
	partition int32
	messages  chan *sarama.ConsumerMessage
}

func (c *claimStub) Topic() string                            { return c.topic }
func (c *claimStub) Partition() int32                         { return c.partition }
func (c *claimStub) InitialOffset() int64                     { return 0 }
func (c *claimStub) HighWaterMarkOffset() int64               { return 0 }
func (c *claimStub) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

// drainedClaim отдаёт перечисленные сообщения и закрывает канал claim-а.
func drainedClaim(topic string, msgs ...*sarama.ConsumerMessage) *claimStub {
	ch := make(chan *sarama.ConsumerMessage, len(msgs))
	for _, msg := range msgs {
		ch <- msg
	}
	close(ch)
	return &claimStub{topic: topic, partition: 0, messages: ch}
}

func promoMessage(retryCount string) *sarama.ConsumerMessage {
	msg := &sarama.ConsumerMessage{
		Topic: TopicPromoEvents,
		Key:   []byte("ord-1001"),
		Value: []byte(`{"event_type":"coupon.redeemed","order_id":"ord-1001","coupon_code":"summer10"}`),
	}
	if retryCount != "" {
		msg.Headers = []*sarama.RecordHeader{{Key: []byte(HeaderRetryCount), Value: []byte(retryCount)}}
	}
	return msg
}

func TestNewConsumerErrors(t *testing.T) {
	noop := func(context.Context, *sarama.ConsumerMessage) error { return nil }

	if _, err := NewConsumer([]string{"invalid-broker:9092"}, "group", []string{"topic"}, noop); err == nil {
		t.Fatal("expected new consumer error")
	}
	if _, err := NewConsumerWithDLQ([]string{"invalid-broker:9092"}, "group", []string{"topic"}, noop, nil, 3); err == nil {
		t.Fatal("expected new consumer with dlq error")
	}
}

func TestConsumerStartStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	consumeCalls := 0
	errorsCh := make(chan error, 1)
	group := &groupStub{
		errorsCh: errorsCh,
		consumeFn: func(context.Context, []string, sarama.ConsumerGroupHandler) error {
			consumeCalls++
			cancel()
			return nil
		},
		closeFn: func() error {
			close(errorsCh)
			return nil
		},
	}

	consumer := &Consumer{
		consumer:   group,
		topics:     []string{TopicPromoEvents},
		handler:    func(context.Context, *sarama.ConsumerMessage) error { return nil },
		logger:     log.WithField("test", "consumer"),
		maxRetries: 2,
	}

	// Фоновая ошибка группы не должна ронять Start.
	errorsCh <- errors.New("background error")

	if err := consumer.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := consumer.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if consumeCalls == 0 {
		t.Fatal("expected at least one consume call")
	}
}

func TestConsumerStopError(t *testing.T) {
	errorsCh := make(chan error)
	group := &groupStub{
		errorsCh: errorsCh,
		closeFn: func() error {
			close(errorsCh)
			return errors.New("close failed")
		},
	}

	consumer := &Consumer{consumer: group, logger: log.WithField("test", "stop")}
	if err := consumer.Stop(); err == nil {
		t.Fatal("expected stop error")
	}
}

func TestConsumerSetupCleanup(t *testing.T) {
	consumer := &Consumer{}
	if err := consumer.Setup(nil); err != nil {
		t.Fatalf("setup should return nil: %v", err)
	}
	if err := consumer.Cleanup(nil); err != nil {
		t.Fatalf("cleanup should return nil: %v", err)
	}
}

func TestConsumeClaim(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	t.Run("handled message is marked", func(t *testing.T) {
		consumer := &Consumer{
			handler: func(context.Context, *sarama.ConsumerMessage) error { return nil },
			logger:  log.WithField("test", "claim"),
		}
		session := &sessionStub{ctx: ctx}

		if err := consumer.ConsumeClaim(session, drainedClaim(TopicPromoEvents, promoMessage(""))); err != nil {
			t.Fatalf("ConsumeClaim failed: %v", err)
		}
		if len(session.marked) != 1 {
			t.Fatalf("expected one marked message, got %d", len(session.marked))
		}
	})

	t.Run("failed message stays unmarked", func(t *testing.T) {
		consumer := &Consumer{
			handler:    func(context.Context, *sarama.ConsumerMessage) error { return errors.New("failed") },
			logger:     log.WithField("test", "claim-fail"),
			maxRetries: 1,
		}
		session := &sessionStub{ctx: ctx}

		if err := consumer.ConsumeClaim(session, drainedClaim(TopicPromoEvents, promoMessage(""))); err != nil {
			t.Fatalf("ConsumeClaim failed: %v", err)
		}
		if len(session.marked) != 0 {
			t.Fatalf("failed message should not be marked, got %d", len(session.marked))
		}
	})
}

func TestConsumeClaimStopsOnContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	consumer := &Consumer{
		handler:    func(context.Context, *sarama.ConsumerMessage) error { return nil },
		logger:     log.WithField("test", "claim-stop"),
		maxRetries: 1,
	}
	session := &sessionStub{ctx: ctx}
	claim := &claimStub{topic: TopicPromoEvents, partition: 0, messages: make(chan *sarama.ConsumerMessage)}

	done := make(chan struct{})
	go func() {
		_ = consumer.ConsumeClaim(session, claim)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ConsumeClaim did not stop after context cancellation")
	}
}

func TestHandleMessageWithRetry(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		consumer := &Consumer{
			handler:    func(context.Context, *sarama.ConsumerMessage) error { return nil },
			logger:     log.WithField("test", "retry-success"),
			maxRetries: 2,
		}
		if err := consumer.handleMessageWithRetry(context.Background(), promoMessage("")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("retry below limit", func(t *testing.T) {
		// Одна доставка уже была (заголовок retry=1), бюджет maxRetries=3:
		// остаётся два локальных вызова обработчика, затем сообщение
		// возвращается брокеру на повторную доставку.
		attempts := 0
		consumer := &Consumer{
			handler: func(context.Context, *sarama.ConsumerMessage) error {
				attempts++
				return errors.New("temporary")
			},
			logger:     log.WithField("test", "retry"),
			maxRetries: 3,
			retryDelay: 0,
		}
		if err := consumer.handleMessageWithRetry(context.Background(), promoMessage("1")); err == nil {
			t.Fatal("expected retry error")
		}
		if attempts != 2 {
			t.Fatalf("expected 2 in-process attempts, got %d", attempts)
		}
	})

	t.Run("max retries without dlq", func(t *testing.T) {
		consumer := &Consumer{
			handler:    func(context.Context, *sarama.ConsumerMessage) error { return errors.New("permanent") },
			logger:     log.WithField("test", "max-no-dlq"),
			maxRetries: 3,
		}
		if err := consumer.handleMessageWithRetry(context.Background(), promoMessage("3")); err == nil {
			t.Fatal("expected error when dlq is absent")
		}
	})

	t.Run("max retries with dlq success", func(t *testing.T) {
		mockProducer := mocks.NewSyncProducer(t, nil)
		mockProducer.ExpectSendMessageAndSucceed()

		consumer := &Consumer{
			handler:     func(context.Context, *sarama.ConsumerMessage) error { return errors.New("permanent") },
			dlqProducer: &Producer{producer: mockProducer, logger: log.WithField("test", "dlq")},
			logger:      log.WithField("test", "max-dlq"),
			maxRetries:  3,
		}
		if err := consumer.handleMessageWithRetry(context.Background(), promoMessage("3")); err != nil {
			t.Fatalf("unexpected error after dlq publish: %v", err)
		}
		if err := mockProducer.Close(); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("max retries with dlq failure", func(t *testing.T) {
		mockProducer := mocks.NewSyncProducer(t, nil)
		mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

		consumer := &Consumer{
			handler:     func(context.Context, *sarama.ConsumerMessage) error { return errors.New("permanent") },
			dlqProducer: &Producer{producer: mockProducer, logger: log.WithField("test", "dlq-fail")},
			logger:      log.WithField("test", "max-dlq-fail"),
			maxRetries:  3,
		}
		if err := consumer.handleMessageWithRetry(context.Background(), promoMessage("3")); err == nil {
			t.Fatal("expected dlq failure")
		}
		if err := mockProducer.Close(); err != nil {
			t.Fatal(err)
		}
	})
}

func TestGetRetryCount(t *testing.T) {
	consumer := &Consumer{}

	if got := consumer.getRetryCount(promoMessage("5")); got != 5 {
		t.Fatalf("unexpected retry count: %d", got)
	}
	if got := consumer.getRetryCount(promoMessage("bad")); got != 0 {
		t.Fatalf("invalid retry count should fallback to 0, got %d", got)
	}
	if got := consumer.getRetryCount(promoMessage("")); got != 0 {
		t.Fatalf("missing header should mean 0, got %d", got)
	}
}

func TestEventParsers(t *testing.T) {
	if _, err := ParsePromoEvent(promoMessage("")); err != nil {
		t.Fatalf("ParsePromoEvent failed: %v", err)
	}
	if _, err := ParsePromoEvent(&sarama.ConsumerMessage{Value: []byte("{")}); err == nil {
		t.Fatal("expected ParsePromoEvent error")
	}

	returnMsg := &sarama.ConsumerMessage{
		Value: []byte(`{"event_type":"return.requested","return_id":"ret-1","order_id":"ord-1001","customer_id":"cust-1","status":"requested"}`),
	}
	if _, err := ParseReturnEvent(returnMsg); err != nil {
		t.Fatalf("ParseReturnEvent failed: %v", err)
	}
	if _, err := ParseReturnEvent(&sarama.ConsumerMessage{Value: []byte("{")}); err == nil {
		t.Fatal("expected ParseReturnEvent error")
	}
}

func TestSendToDLQ(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndSucceed()

	consumer := &Consumer{
		dlqProducer: &Producer{producer: mockProducer, logger: log.WithField("test", "send-dlq")},
		logger:      log.WithField("test", "consumer-send-dlq"),
	}

	msg := &sarama.ConsumerMessage{Topic: TopicPromoEvents, Partition: 1, Offset: 42, Key: []byte("ord-1001"), Value: []byte(`{"event_type":"coupon.redeemed"}`)}
	if err := consumer.sendToDLQ(msg, errors.New("boom")); err != nil {
		t.Fatalf("sendToDLQ failed: %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}
