// Пакет audit — события безопасности (карантин, оповещения администраторов).
// Событие отправляется в Sink: журнал slog, Kafka или несколько приёмников сразу.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Типы событий.
const (
	// EventFileQuarantined — файл помещён в карантин
	EventFileQuarantined = "file.quarantined"
	// EventAdminAlert — оповещение администратора о непрошедшей проверке
	EventAdminAlert = "admin.alert"
	// EventEmergencyCleanup — аварийная очистка при нехватке диска
	EventEmergencyCleanup = "storage.emergency_cleanup"
)

// Уровни важности.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Event — событие безопасности.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Severity   string    `json:"severity"`
	FileID     string    `json:"file_id,omitempty"`
	UploaderID string    `json:"uploader_id,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Threats    []string  `json:"threats,omitempty"`
	Recipients []string  `json:"recipients,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Sink — приёмник событий.
type Sink interface {
	Emit(ctx context.Context, event Event) error
}

// LogSink пишет события в slog на уровне WARN (critical — ERROR).
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink создаёт LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With(slog.String("component", "audit"))}
}

// Emit записывает событие в журнал.
func (s *LogSink) Emit(ctx context.Context, event Event) error {
	level := slog.LevelWarn
	if event.Severity == SeverityCritical {
		level = slog.LevelError
	}

	s.logger.LogAttrs(ctx, level, "Событие безопасности",
		slog.String("event_id", event.ID),
		slog.String("type", event.Type),
		slog.String("severity", event.Severity),
		slog.String("file_id", event.FileID),
		slog.String("uploader_id", event.UploaderID),
		slog.String("reason", event.Reason),
		slog.Any("threats", event.Threats),
		slog.Any("recipients", event.Recipients),
		slog.String("detail", event.Detail),
		slog.Time("occurred_at", event.OccurredAt),
	)
	return nil
}

// MultiSink рассылает событие во все приёмники. Ошибки объединяются,
// сбой одного приёмника не мешает остальным.
type MultiSink []Sink

// Emit отправляет событие во все приёмники.
func (m MultiSink) Emit(ctx context.Context, event Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
