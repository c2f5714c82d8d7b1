// Пакет scanner — адаптер антивирусной проверки.
//
// Adapter оборачивает внешний движок (clamd) и сводит результат к трём
// исходам: clean, infected, error. Порядок решения:
//  1. архив больше порога — infected-эквивалент (oversized-archive), движок не вызывается;
//  2. движок не настроен или недоступен — clean с аннотацией "scanner unavailable";
//  3. проверка с таймаутом: таймаут — error (scan-timeout), прочие ошибки — error (scan-error),
//     кроме режима разработки, где ошибка движка даёт clean с аннотацией "dev override".
//
// Любой исход, кроме clean, сопровождается оповещением администраторов.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bigkaa/goartstore/ingest-module/internal/domain/model"
	"github.com/bigkaa/goartstore/ingest-module/internal/domain/scanstatus"
)

// Аннотации исхода clean.
const (
	AnnotationUnavailable = "scanner unavailable"
	AnnotationDevOverride = "dev override"
)

// archiveExtensions — расширения сжатых контейнеров.
var archiveExtensions = map[string]bool{
	".zip": true, ".rar": true, ".7z": true, ".tar": true,
	".gz": true, ".tgz": true, ".bz2": true, ".xz": true,
}

// Verdict — ответ движка.
type Verdict struct {
	Infected bool
	Threats  []string
}

// Engine — внешний антивирусный движок.
type Engine interface {
	Ping(ctx context.Context) error
	Scan(ctx context.Context, path string) (Verdict, error)
}

// Config — параметры адаптера.
type Config struct {
	// Timeout — предел времени одной проверки
	Timeout time.Duration
	// ArchiveCeiling — порог размера архива в байтах
	ArchiveCeiling int64
	// DevOverride — не помещать в карантин при ошибке движка
	DevOverride bool
}

// Request — файл для проверки.
type Request struct {
	// Path — абсолютный путь к записанному файлу
	Path string
	// Name — имя, по расширению которого определяется архив
	Name       string
	FileID     string
	UploaderID string
}

// Outcome — итог проверки.
type Outcome struct {
	Status     scanstatus.Status
	Reason     model.QuarantineReason
	Threats    []string
	Detail     string
	Annotation string
	Duration   time.Duration
}

// Clean возвращает true для исхода clean.
func (o Outcome) Clean() bool {
	return o.Status == scanstatus.Clean
}

// ResultDetail — диагностика для поля scan_result записи о файле.
func (o Outcome) ResultDetail(scannedAt time.Time) map[string]any {
	detail := map[string]any{
		"scanned_at":  scannedAt.UTC().Format(time.RFC3339),
		"duration_ms": o.Duration.Milliseconds(),
	}
	if o.Annotation != "" {
		detail["reason"] = o.Annotation
	}
	if o.Detail != "" {
		detail["detail"] = o.Detail
	}
	return detail
}

// Adapter — адаптер антивирусной проверки. Создаётся один раз при старте.
type Adapter struct {
	engine   Engine
	cfg      Config
	notifier Notifier
	logger   *slog.Logger

	once      sync.Once
	available atomic.Bool
}

// NewAdapter создаёт адаптер. engine может быть nil — сканер не настроен.
func NewAdapter(engine Engine, cfg Config, notifier Notifier, logger *slog.Logger) *Adapter {
	return &Adapter{
		engine:   engine,
		cfg:      cfg,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "scanner")),
	}
}

// Initialize проверяет доступность движка. Повторные вызовы не выполняют
// проверку заново. Недоступный движок не является фатальной ошибкой:
// ошибка возвращается для журнала, адаптер переходит в режим "scanner unavailable".
func (a *Adapter) Initialize(ctx context.Context) error {
	var initErr error
	a.once.Do(func() {
		if a.engine == nil {
			a.logger.Warn("Антивирусный движок не настроен, файлы принимаются без проверки")
			scannerAvailable.Set(0)
			return
		}

		if err := a.engine.Ping(ctx); err != nil {
			initErr = fmt.Errorf("антивирусный движок недоступен: %w", err)
			a.logger.Warn("Антивирусный движок недоступен, файлы принимаются без проверки",
				slog.String("error", err.Error()),
			)
			scannerAvailable.Set(0)
			return
		}

		a.available.Store(true)
		scannerAvailable.Set(1)
		a.logger.Info("Антивирусный движок подключён")
	})
	return initErr
}

// Available возвращает true, если движок доступен.
func (a *Adapter) Available() bool {
	return a.available.Load()
}

// Scan проверяет файл. Никогда не возвращает ошибку: все сбои сводятся
// к исходу error с причиной в Reason.
func (a *Adapter) Scan(ctx context.Context, req Request) Outcome {
	// Без явного Initialize доступность движка проверяется при первой проверке
	_ = a.Initialize(ctx)

	start := time.Now()
	outcome := a.decide(ctx, req)
	outcome.Duration = time.Since(start)

	scanDuration.WithLabelValues(string(outcome.Status)).Observe(outcome.Duration.Seconds())
	scanOutcomes.WithLabelValues(string(outcome.Status), outcomeReason(outcome)).Inc()

	if !outcome.Clean() {
		a.logger.Warn("Файл не прошёл антивирусную проверку",
			slog.String("file_id", req.FileID),
			slog.String("uploader_id", req.UploaderID),
			slog.String("status", string(outcome.Status)),
			slog.String("reason", string(outcome.Reason)),
			slog.Any("threats", outcome.Threats),
			slog.String("detail", outcome.Detail),
		)
		a.notify(ctx, req, outcome)
	}

	return outcome
}

// decide выполняет проверку без метрик и оповещений.
func (a *Adapter) decide(ctx context.Context, req Request) Outcome {
	name := req.Name
	if name == "" {
		name = req.Path
	}

	if isArchive(name) {
		info, err := os.Stat(req.Path)
		if err != nil {
			return Outcome{
				Status: scanstatus.Error,
				Reason: model.ReasonScanError,
				Detail: fmt.Sprintf("ошибка получения размера файла: %v", err),
			}
		}
		if info.Size() > a.cfg.ArchiveCeiling {
			return Outcome{
				Status: scanstatus.Infected,
				Reason: model.ReasonOversizedArchive,
				Detail: fmt.Sprintf("размер архива %d превышает безопасный порог %d", info.Size(), a.cfg.ArchiveCeiling),
			}
		}
	}

	if !a.available.Load() {
		return Outcome{Status: scanstatus.Clean, Annotation: AnnotationUnavailable}
	}

	verdict, err := a.scanWithTimeout(ctx, req.Path)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Outcome{
			Status: scanstatus.Error,
			Reason: model.ReasonScanTimeout,
			Detail: fmt.Sprintf("проверка не завершилась за %s", a.cfg.Timeout),
		}
	case err != nil:
		if a.cfg.DevOverride {
			a.logger.Warn("Ошибка антивирусного движка проигнорирована (режим разработки)",
				slog.String("file_id", req.FileID),
				slog.String("error", err.Error()),
			)
			return Outcome{Status: scanstatus.Clean, Annotation: AnnotationDevOverride, Detail: err.Error()}
		}
		return Outcome{Status: scanstatus.Error, Reason: model.ReasonScanError, Detail: err.Error()}
	case verdict.Infected:
		return Outcome{Status: scanstatus.Infected, Reason: model.ReasonInfected, Threats: verdict.Threats}
	default:
		return Outcome{Status: scanstatus.Clean}
	}
}

// scanWithTimeout запускает проверку движком и ждёт результата не дольше
// cfg.Timeout. Движок, игнорирующий отмену контекста, не задерживает вызывающего.
func (a *Adapter) scanWithTimeout(ctx context.Context, path string) (Verdict, error) {
	scanCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	type result struct {
		verdict Verdict
		err     error
	}
	done := make(chan result, 1)

	go func() {
		v, err := a.engine.Scan(scanCtx, path)
		done <- result{verdict: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && scanCtx.Err() != nil {
			return Verdict{}, scanCtx.Err()
		}
		return r.verdict, r.err
	case <-scanCtx.Done():
		return Verdict{}, scanCtx.Err()
	}
}

// notify отправляет оповещение; сбой не влияет на исход проверки.
func (a *Adapter) notify(ctx context.Context, req Request, o Outcome) {
	if a.notifier == nil {
		return
	}
	alert := Alert{
		FileID:     req.FileID,
		UploaderID: req.UploaderID,
		FileName:   req.Name,
		Reason:     o.Reason,
		Threats:    o.Threats,
		Detail:     o.Detail,
		OccurredAt: time.Now().UTC(),
	}
	if err := a.notifier.NotifyAdmins(ctx, alert); err != nil {
		a.logger.Error("Ошибка оповещения администраторов",
			slog.String("file_id", req.FileID),
			slog.String("error", err.Error()),
		)
	}
}

// isArchive — имя файла указывает на сжатый контейнер.
func isArchive(name string) bool {
	return archiveExtensions[strings.ToLower(filepath.Ext(name))]
}

// outcomeReason — метка причины для метрик.
func outcomeReason(o Outcome) string {
	if o.Reason != "" {
		return string(o.Reason)
	}
	if o.Annotation != "" {
		return strings.ReplaceAll(o.Annotation, " ", "_")
	}
	return "none"
}
