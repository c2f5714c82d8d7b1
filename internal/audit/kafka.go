package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// batchTimeout — предел накопления пачки перед отправкой (в kafka-go по умолчанию 1s).
const batchTimeout = 10 * time.Millisecond

// messageWriter — часть kafka.Writer, используемая KafkaSink.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink публикует события в топик Kafka (JSON, ключ — идентификатор файла).
// Writer работает асинхронно: Emit ставит сообщение в очередь и не ждёт
// подтверждения брокера, ошибки доставки журналируются в Completion.
type KafkaSink struct {
	writer       messageWriter
	writeTimeout time.Duration
}

// NewKafkaSink создаёт KafkaSink с асинхронным kafka.Writer.
// Подключение к брокерам ленивое.
func NewKafkaSink(brokers []string, topic string, writeTimeout time.Duration, logger *slog.Logger) *KafkaSink {
	logger = logger.With(slog.String("component", "audit_kafka"))
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireAll,
			WriteTimeout: writeTimeout,
			BatchTimeout: batchTimeout,
			Async:        true,
			Completion:   deliveryReporter(logger),
		},
		writeTimeout: writeTimeout,
	}
}

// deliveryReporter журналирует сообщения, которые не удалось доставить.
func deliveryReporter(logger *slog.Logger) func(msgs []kafka.Message, err error) {
	return func(msgs []kafka.Message, err error) {
		if err == nil {
			return
		}
		deliveryFailuresTotal.Add(float64(len(msgs)))
		for _, m := range msgs {
			logger.Error("Событие аудита не доставлено в Kafka",
				slog.String("key", string(m.Key)),
				slog.String("event_type", headerValue(m.Headers, "event_type")),
				slog.String("error", err.Error()),
			)
		}
	}
}

func headerValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// Emit сериализует событие и передаёт его writer. Ожидание ограничено writeTimeout.
func (s *KafkaSink) Emit(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("KafkaSink - Emit - json.Marshal: %w", err)
	}

	key := event.FileID
	if key == "" {
		key = event.ID
	}

	writeCtx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()

	err = s.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(event.ID)},
			{Key: "event_type", Value: []byte(event.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("KafkaSink - Emit - WriteMessages: %w", err)
	}
	return nil
}

// Close закрывает writer.
func (s *KafkaSink) Close() error {
	if err := s.writer.Close(); err != nil {
		return fmt.Errorf("KafkaSink - Close: %w", err)
	}
	return nil
}
