package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/ingest-module/internal/audit"
	"github.com/bigkaa/goartstore/ingest-module/internal/domain/model"
)

// Alert — оповещение о файле, не прошедшем проверку.
type Alert struct {
	FileID     string
	UploaderID string
	FileName   string
	Reason     model.QuarantineReason
	Threats    []string
	Detail     string
	OccurredAt time.Time
}

// Notifier — рассылка оповещений администраторам.
type Notifier interface {
	NotifyAdmins(ctx context.Context, alert Alert) error
}

// FanOutNotifier отправляет одно событие audit.EventAdminAlert со списком
// получателей. Доставку каждому адресату выполняет потребитель топика.
type FanOutNotifier struct {
	sink       audit.Sink
	recipients []string
	logger     *slog.Logger
}

// NewFanOutNotifier создаёт рассыльщик. Список получателей обрезается до maxRecipients.
func NewFanOutNotifier(sink audit.Sink, recipients []string, maxRecipients int, logger *slog.Logger) *FanOutNotifier {
	logger = logger.With(slog.String("component", "admin_notifier"))
	if maxRecipients > 0 && len(recipients) > maxRecipients {
		logger.Warn("Список получателей оповещений обрезан",
			slog.Int("configured", len(recipients)),
			slog.Int("max", maxRecipients),
		)
		recipients = recipients[:maxRecipients]
	}
	return &FanOutNotifier{
		sink:       sink,
		recipients: recipients,
		logger:     logger,
	}
}

// Recipients возвращает действующий список получателей.
func (n *FanOutNotifier) Recipients() []string {
	return n.recipients
}

// NotifyAdmins отправляет оповещение всем получателям одним событием.
func (n *FanOutNotifier) NotifyAdmins(ctx context.Context, alert Alert) error {
	if len(n.recipients) == 0 {
		n.logger.Warn("Нет получателей для оповещения администраторов",
			slog.String("file_id", alert.FileID),
			slog.String("reason", string(alert.Reason)),
		)
		return nil
	}

	severity := audit.SeverityWarning
	if alert.Reason == model.ReasonInfected || alert.Reason == model.ReasonOversizedArchive {
		severity = audit.SeverityCritical
	}

	err := n.sink.Emit(ctx, audit.Event{
		ID:         uuid.New().String(),
		Type:       audit.EventAdminAlert,
		Severity:   severity,
		FileID:     alert.FileID,
		UploaderID: alert.UploaderID,
		Reason:     string(alert.Reason),
		Threats:    alert.Threats,
		Recipients: slices.Clone(n.recipients),
		Detail:     alert.Detail,
		OccurredAt: alert.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("ошибка отправки оповещения: %w", err)
	}
	return nil
}
