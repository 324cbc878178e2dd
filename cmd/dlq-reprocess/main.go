// Утилита повторной доставки событий из DLQ-топика витрины.
//
// Сканирует storefront.dlq и возвращает застрявшие промо- и возвратные
// события в их целевые топики. По умолчанию работает в режиме dry-run:
// только считает кандидатов, ничего не публикуя. Флаг -execute включает
// реальную публикацию через идемпотентный продюсер.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
)

// config описывает параметры одного прогона утилиты.
type config struct {
	brokers     []string
	sourceTopic string
	targetTopic string
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
}

// replayMessage — готовое к публикации сообщение: топик, ключ и тело.
type replayMessage struct {
	topic string
	key   string
	value []byte
}

// consumerDLQPayload — формат, в котором консьюмер складывает в DLQ
// исходное сообщение после исчерпания ретраев.
type consumerDLQPayload struct {
	OriginalTopic string `json:"original_topic"`
	OriginalKey   string `json:"original_key"`
	OriginalValue string `json:"original_value"`
}

// outboxEnvelope — внешний конверт, который outbox-воркер публикует в DLQ.
type outboxEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
}

// outboxDLQPayload — вложенный конверт outbox-воркера с причиной отказа
// и исходным телом события.
type outboxDLQPayload struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
}

// replayEnvelope — конверт, в котором событие возвращается в целевой топик.
type replayEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// Зависимости описаны интерфейсами: в тестах вместо sarama подставляются
// заглушки через newReplayDependencies.

type offsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
	Close() error
}

type partitionConsumer interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionConsumerSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error)
	Close() error
}

type replayProducer interface {
	SendMessage(msg *sarama.ProducerMessage) (partition int32, offset int64, err error)
	Close() error
}

// saramaConsumerAdapter сужает sarama.Consumer до partitionConsumerSource.
type saramaConsumerAdapter struct {
	consumer sarama.Consumer
}

func (a saramaConsumerAdapter) ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error) {
	pc, err := a.consumer.ConsumePartition(topic, partition, offset)
	if err != nil {
		return nil, err
	}
	return pc, nil
}

func (a saramaConsumerAdapter) Close() error {
	if a.consumer == nil {
		return nil
	}
	return a.consumer.Close()
}

// newReplayDependencies собирает боевые kafka-зависимости.
// Продюсер создаётся только в режиме -execute: dry-run ничего не публикует.
var newReplayDependencies = func(cfg config) (offsetClient, partitionConsumerSource, replayProducer, error) {
	clientConfig := sarama.NewConfig()
	clientConfig.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, clientConfig)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create kafka client: %w", err)
	}

	rawConsumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	consumer := saramaConsumerAdapter{consumer: rawConsumer}

	if !cfg.execute {
		return client, consumer, nil, nil
	}

	producerConfig := sarama.NewConfig()
	producerConfig.Producer.RequiredAcks = sarama.WaitForAll
	producerConfig.Producer.Retry.Max = 5
	producerConfig.Producer.Return.Successes = true
	producerConfig.Producer.Compression = sarama.CompressionSnappy
	producerConfig.Producer.Idempotent = true
	producerConfig.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(cfg.brokers, producerConfig)
	if err != nil {
		_ = consumer.Close()
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create kafka producer: %w", err)
	}

	return client, consumer, producer, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	cfg, err := readConfig()
	if err != nil {
		fail("%v", err)
	}

	if err := run(context.Background(), cfg); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

// readConfig разбирает флаги и валидирует параметры прогона.
func readConfig() (config, error) {
	var (
		cfg        config
		brokersRaw string
	)

	flag.StringVar(&brokersRaw, "brokers", "", "адреса kafka-брокеров через запятую (fallback: KAFKA_BROKERS)")
	flag.StringVar(&cfg.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "DLQ-топик, из которого читаем")
	flag.StringVar(&cfg.targetTopic, "target-topic", kafka.TopicPromoEvents, "топик для повторной публикации")
	flag.IntVar(&cfg.limit, "limit", defaultReplayLimit, "максимум обрабатываемых сообщений за прогон")
	flag.BoolVar(&cfg.execute, "execute", false, "публиковать сообщения; без флага — dry-run")
	flag.BoolVar(&cfg.fromNewest, "from-newest", false, "начинать с хвоста партиции (в пределах limit)")
	flag.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "сколько ждать новых сообщений в партиции")
	flag.Parse()

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw = os.Getenv("KAFKA_BROKERS")
	}
	cfg.brokers = parseBrokers(brokersRaw)

	switch {
	case len(cfg.brokers) == 0:
		return config{}, fmt.Errorf("kafka brokers are required (-brokers or KAFKA_BROKERS)")
	case strings.TrimSpace(cfg.sourceTopic) == "":
		return config{}, fmt.Errorf("source-topic is required")
	case strings.TrimSpace(cfg.targetTopic) == "":
		return config{}, fmt.Errorf("target-topic is required")
	case cfg.limit <= 0:
		return config{}, fmt.Errorf("limit must be > 0")
	case cfg.idleTimeout <= 0:
		return config{}, fmt.Errorf("idle-timeout must be > 0")
	}

	return cfg, nil
}

func parseBrokers(raw string) []string {
	parts := strings.Split(raw, ",")
	brokers := make([]string, 0, len(parts))
	for _, part := range parts {
		if broker := strings.TrimSpace(part); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

// run собирает зависимости, гарантирует их закрытие и запускает сканирование.
func run(ctx context.Context, cfg config) error {
	log.WithFields(log.Fields{
		"source_topic": cfg.sourceTopic,
		"target_topic": cfg.targetTopic,
		"limit":        cfg.limit,
		"execute":      cfg.execute,
		"from_newest":  cfg.fromNewest,
	}).Info("starting dlq replay")

	client, consumer, producer, err := newReplayDependencies(cfg)
	if err != nil {
		return err
	}
	defer closeReplayDeps(client, consumer, producer)

	return runReplay(ctx, cfg, client, consumer, producer)
}

func closeReplayDeps(client offsetClient, consumer partitionConsumerSource, producer replayProducer) {
	if producer != nil {
		_ = producer.Close()
	}
	if consumer != nil {
		_ = consumer.Close()
	}
	if client != nil {
		_ = client.Close()
	}
}

// runReplay перебирает партиции DLQ-топика по возрастанию номера.
// limit — общий бюджет на прогон: остаток передаётся следующей партиции.
func runReplay(ctx context.Context, cfg config, client offsetClient, consumer partitionConsumerSource, producer replayProducer) error {
	if client == nil || consumer == nil {
		return fmt.Errorf("kafka client and consumer are required")
	}
	if cfg.execute && producer == nil {
		return fmt.Errorf("producer is required in execute mode")
	}

	partitions, err := client.Partitions(cfg.sourceTopic)
	if err != nil {
		return fmt.Errorf("get partitions for topic %s: %w", cfg.sourceTopic, err)
	}
	if len(partitions) == 0 {
		log.WithField("topic", cfg.sourceTopic).Warn("dlq topic has no partitions")
		return nil
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	var total partitionStats
	for _, partition := range partitions {
		remaining := cfg.limit - total.processed
		if remaining <= 0 {
			break
		}

		stats, err := processPartition(ctx, consumer, client, producer, cfg, partition, remaining)
		if err != nil {
			return err
		}
		total.processed += stats.processed
		total.replayed += stats.replayed
		total.skipped += stats.skipped
	}

	mode := "dry-run"
	if cfg.execute {
		mode = "execute"
	}
	log.WithFields(log.Fields{
		"mode":      mode,
		"processed": total.processed,
		"replayed":  total.replayed,
		"skipped":   total.skipped,
	}).Info("dlq replay finished")

	return nil
}

type partitionStats struct {
	processed int
	replayed  int
	skipped   int
}

// replayWindow вычисляет диапазон офсетов партиции для сканирования.
// Пустая партиция даёт empty=true, и её можно пропустить целиком.
func replayWindow(client offsetClient, cfg config, partition int32, limit int) (start, end int64, empty bool, err error) {
	oldest, err := client.GetOffset(cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return 0, 0, false, fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := client.GetOffset(cfg.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return 0, 0, false, fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}
	if newest <= oldest {
		return 0, 0, true, nil
	}

	start = oldest
	if cfg.fromNewest {
		start = newest - int64(limit)
		if start < oldest {
			start = oldest
		}
	}
	return start, newest, false, nil
}

// processPartition читает одну партицию до границы диапазона, исчерпания
// лимита или простоя idleTimeout.
func processPartition(
	ctx context.Context,
	consumer partitionConsumerSource,
	client offsetClient,
	producer replayProducer,
	cfg config,
	partition int32,
	limit int,
) (partitionStats, error) {
	var stats partitionStats
	if limit <= 0 {
		return stats, nil
	}

	start, end, empty, err := replayWindow(client, cfg, partition, limit)
	if err != nil || empty {
		return stats, err
	}

	pc, err := consumer.ConsumePartition(cfg.sourceTopic, partition, start)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idle := time.NewTimer(cfg.idleTimeout)
	defer idle.Stop()

	for stats.processed < limit {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()

		case consErr := <-pc.Errors():
			if consErr != nil {
				return stats, fmt.Errorf("partition %d consumer error: %w", partition, consErr)
			}

		case msg, ok := <-pc.Messages():
			if !ok || msg == nil {
				return stats, nil
			}
			resetIdleTimer(idle, cfg.idleTimeout)

			if msg.Offset >= end {
				return stats, nil
			}
			if err := replayOne(cfg, producer, msg, &stats); err != nil {
				return stats, err
			}
			// Последнее сообщение диапазона: хвоста ждать не нужно.
			if msg.Offset+1 >= end {
				return stats, nil
			}

		case <-idle.C:
			return stats, nil
		}
	}

	return stats, nil
}

func resetIdleTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// replayOne разбирает одно DLQ-сообщение и, в режиме execute, публикует его.
// Нераспознанные и битые сообщения учитываются как skipped, но не прерывают прогон.
func replayOne(cfg config, producer replayProducer, msg *sarama.ConsumerMessage, stats *partitionStats) error {
	stats.processed++

	candidate, ok, err := extractReplayMessage(msg, cfg.targetTopic)
	if err != nil {
		stats.skipped++
		log.WithError(err).WithFields(log.Fields{
			"partition": msg.Partition,
			"offset":    msg.Offset,
		}).Warn("skip unsupported dlq message")
		return nil
	}
	if !ok {
		stats.skipped++
		return nil
	}

	if cfg.execute {
		if err := publishReplay(producer, candidate); err != nil {
			return fmt.Errorf("publish replay message: %w", err)
		}
	} else {
		log.WithFields(log.Fields{
			"partition":    msg.Partition,
			"offset":       msg.Offset,
			"target_topic": candidate.topic,
			"key":          candidate.key,
		}).Info("dlq replay candidate")
	}
	stats.replayed++

	return nil
}

func publishReplay(producer replayProducer, msg replayMessage) error {
	if producer == nil {
		return fmt.Errorf("producer is nil")
	}

	_, _, err := producer.SendMessage(&sarama.ProducerMessage{
		Topic:     msg.topic,
		Key:       sarama.StringEncoder(msg.key),
		Value:     sarama.ByteEncoder(msg.value),
		Timestamp: time.Now().UTC(),
	})
	return err
}

// extractReplayMessage распознаёт один из двух форматов DLQ-сообщения.
// Сначала пробуем формат консьюмера (original_topic/original_value),
// затем конверт outbox-воркера. Всё остальное — не кандидат на повтор.
func extractReplayMessage(msg *sarama.ConsumerMessage, defaultTopic string) (replayMessage, bool, error) {
	if candidate, ok := replayFromConsumerDLQ(msg.Value, defaultTopic); ok {
		return candidate, true, nil
	}
	return replayFromOutboxDLQ(msg.Value, defaultTopic)
}

// replayFromConsumerDLQ возвращает исходное сообщение, сохранённое
// консьюмером как есть: оно уезжает обратно в свой топик без переупаковки.
func replayFromConsumerDLQ(value []byte, defaultTopic string) (replayMessage, bool) {
	var payload consumerDLQPayload
	if err := json.Unmarshal(value, &payload); err != nil || payload.OriginalValue == "" {
		return replayMessage{}, false
	}

	topic := strings.TrimSpace(payload.OriginalTopic)
	if topic == "" {
		topic = defaultTopic
	}
	return replayMessage{
		topic: topic,
		key:   payload.OriginalKey,
		value: []byte(payload.OriginalValue),
	}, true
}

// replayFromOutboxDLQ переупаковывает событие из конверта outbox-воркера
// в свежий replayEnvelope с новым published_at.
func replayFromOutboxDLQ(value []byte, defaultTopic string) (replayMessage, bool, error) {
	var envelope outboxEnvelope
	if err := json.Unmarshal(value, &envelope); err != nil || len(envelope.Payload) == 0 {
		return replayMessage{}, false, nil
	}

	var dlqPayload outboxDLQPayload
	if err := json.Unmarshal(envelope.Payload, &dlqPayload); err != nil {
		return replayMessage{}, false, fmt.Errorf("decode outbox dlq payload: %w", err)
	}
	if len(dlqPayload.Payload) == 0 {
		return replayMessage{}, false, fmt.Errorf("outbox dlq payload does not contain original event payload")
	}

	replay := replayEnvelope{
		ID:            firstNonEmpty(dlqPayload.OutboxID, envelope.ID),
		AggregateType: firstNonEmpty(dlqPayload.AggregateType, envelope.AggregateType),
		AggregateID:   firstNonEmpty(dlqPayload.AggregateID, envelope.AggregateID),
		EventType:     firstNonEmpty(dlqPayload.EventType, envelope.EventType),
		Payload:       dlqPayload.Payload,
		PublishedAt:   time.Now().UTC(),
	}
	encoded, err := json.Marshal(replay)
	if err != nil {
		return replayMessage{}, false, fmt.Errorf("encode replay envelope: %w", err)
	}

	key := replay.AggregateID
	if key == "" {
		key = replay.ID
	}
	return replayMessage{topic: defaultTopic, key: key, value: encoded}, true, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
