// cleanup.go — фоновые задачи очистки хранилища.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/ingest-module/internal/audit"
	"github.com/bigkaa/goartstore/ingest-module/internal/domain/model"
	"github.com/bigkaa/goartstore/ingest-module/internal/domain/scanstatus"
	"github.com/bigkaa/goartstore/ingest-module/internal/repository"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/diskusage"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/layout"
)

// Шаги аварийной очистки в порядке выполнения.
const (
	StepTemp       = "temp"
	StepQuarantine = "quarantine"
	StepPurge      = "purge"
)

// DiskCheckResult — итог проверки заполнения диска.
type DiskCheckResult struct {
	Before    diskusage.Usage `json:"before"`
	After     diskusage.Usage `json:"after"`
	Triggered bool            `json:"triggered"`
	Steps     []JobResult     `json:"steps,omitempty"`
}

// PurgeExpired удаляет файлы с истёкшим сроком жизни и файлы, чьё окно
// восстановления закрылось. Порядок для каждого файла: превью → байты → запись.
// Перед удалением запись получает статус deleted: прерванная очистка
// будет продолжена следующим запуском.
func (m *Manager) PurgeExpired(ctx context.Context) (JobResult, error) {
	return m.run(JobExpiredPurge, func(res *JobResult) error {
		failed := make(map[string]bool)
		for {
			if err := ctx.Err(); err != nil {
				return err
			}

			batch, err := m.repo.ListPurgeable(ctx, m.now().UTC(), m.cfg.PurgeBatchSize+len(failed))
			if err != nil {
				return fmt.Errorf("ошибка выборки файлов для удаления: %w", err)
			}

			progressed := 0
			for _, f := range batch {
				if failed[f.ID] {
					continue
				}
				freed, err := m.purgeFile(ctx, f)
				if err != nil {
					failed[f.ID] = true
					res.Errors++
					m.logger.Error("Ошибка удаления файла",
						slog.String("file_id", f.ID),
						slog.String("error", err.Error()),
					)
					continue
				}
				res.Deleted++
				res.Freed += freed
				progressed++
			}

			if progressed == 0 || len(batch) < m.cfg.PurgeBatchSize+len(failed) {
				return nil
			}
		}
	})
}

// purgeFile удаляет один файл. Отсутствие байтов на диске не является ошибкой.
func (m *Manager) purgeFile(ctx context.Context, f *model.StoredFile) (int64, error) {
	if f.ScanStatus != scanstatus.Deleted {
		if err := scanstatus.Transition(f.ScanStatus, scanstatus.Deleted); err != nil {
			return 0, err
		}
		deleted := scanstatus.Deleted
		if _, err := m.repo.Update(ctx, f.ID, repository.FileUpdate{ScanStatus: &deleted}); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return 0, nil
			}
			return 0, fmt.Errorf("ошибка пометки статуса deleted: %w", err)
		}
	}

	if f.ThumbnailPath != nil && *f.ThumbnailPath != "" && !layout.IsIcon(*f.ThumbnailPath) {
		if err := m.files.Delete(*f.ThumbnailPath); err != nil {
			return 0, fmt.Errorf("ошибка удаления превью: %w", err)
		}
	}

	if err := m.files.Delete(f.StoragePath); err != nil {
		return 0, fmt.Errorf("ошибка удаления файла: %w", err)
	}

	if err := m.repo.Destroy(ctx, f.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return 0, fmt.Errorf("ошибка удаления записи: %w", err)
	}

	m.logger.Debug("Файл удалён",
		slog.String("file_id", f.ID),
		slog.String("storage_path", f.StoragePath),
	)
	return f.Size, nil
}

// ReconcileOrphans удаляет из files/ и thumbnails/ файлы, на которые не
// ссылается ни одна запись. Пропускаются журналы (.log), временные файлы
// (.tmp), dot-файлы, удержанные отклонённые файлы (layout.HeldSuffix) и файлы
// моложе порога: OrphanMinAge для files/ (загрузка может ещё проходить
// проверку), ThumbnailOrphanMinAge для thumbnails/.
// При ошибке чтения ссылок ничего не удаляется.
func (m *Manager) ReconcileOrphans(ctx context.Context) (JobResult, error) {
	return m.run(JobOrphanReconcile, func(res *JobResult) error {
		refs, err := m.repo.ListReferencedPaths(ctx)
		if err != nil {
			return fmt.Errorf("ошибка чтения ссылок на файлы: %w", err)
		}

		now := m.now()
		roots := []struct {
			dir    string
			minAge time.Duration
		}{
			{layout.FilesDir, m.cfg.OrphanMinAge},
			{layout.ThumbnailsDir, m.cfg.ThumbnailOrphanMinAge},
		}
		for _, root := range roots {
			cutoff := now.Add(-root.minAge)
			err := m.files.Walk(root.dir, func(rel string, info fs.FileInfo) error {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				ext := path.Ext(rel)
				if ext == ".log" || ext == ".tmp" || layout.IsHeld(rel) {
					return nil
				}
				if info.ModTime().After(cutoff) {
					return nil
				}
				if _, ok := refs[rel]; ok {
					return nil
				}
				m.deleteFile(rel, info, res)
				return nil
			})
			if err != nil {
				return fmt.Errorf("ошибка обхода %s: %w", root.dir, err)
			}
		}
		return nil
	})
}

// CleanupTemp удаляет файлы temp/ старше TempMaxAge.
func (m *Manager) CleanupTemp(ctx context.Context) (JobResult, error) {
	return m.run(JobTempCleanup, func(res *JobResult) error {
		return m.sweepOlderThan(ctx, layout.TempDir, m.cfg.TempMaxAge, nil, res)
	})
}

// CleanupOldQuarantine удаляет файлы карантина старше QuarantineRetention.
// Журнал карантина (.json) не удаляется.
func (m *Manager) CleanupOldQuarantine(ctx context.Context) (JobResult, error) {
	return m.run(JobQuarantineCleanup, func(res *JobResult) error {
		skipJSON := func(rel string) bool {
			return strings.HasSuffix(rel, ".json")
		}
		return m.sweepOlderThan(ctx, layout.QuarantineDir, m.cfg.QuarantineRetention, skipJSON, res)
	})
}

// sweepOlderThan удаляет файлы директории старше maxAge.
func (m *Manager) sweepOlderThan(
	ctx context.Context,
	dir string,
	maxAge time.Duration,
	skip func(rel string) bool,
	res *JobResult,
) error {
	cutoff := m.now().Add(-maxAge)
	err := m.files.Walk(dir, func(rel string, info fs.FileInfo) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if skip != nil && skip(rel) {
			return nil
		}
		if !info.ModTime().Before(cutoff) {
			return nil
		}
		m.deleteFile(rel, info, res)
		return nil
	})
	if err != nil {
		return fmt.Errorf("ошибка обхода %s: %w", dir, err)
	}
	return nil
}

// deleteFile удаляет файл и учитывает результат.
func (m *Manager) deleteFile(rel string, info fs.FileInfo, res *JobResult) {
	if err := m.files.Delete(rel); err != nil {
		res.Errors++
		m.logger.Warn("Не удалось удалить файл",
			slog.String("path", rel),
			slog.String("error", err.Error()),
		)
		return
	}
	res.Deleted++
	res.Freed += info.Size()
	m.logger.Debug("Файл удалён", slog.String("path", rel))
}

// CheckDiskPressure замеряет заполнение диска и при превышении порога
// запускает аварийную очистку, затем замеряет повторно.
func (m *Manager) CheckDiskPressure(ctx context.Context) (DiskCheckResult, error) {
	var result DiskCheckResult
	_, err := m.run(JobDiskPressure, func(*JobResult) error {
		before, err := m.sampler(m.layout.Root())
		if err != nil {
			return fmt.Errorf("ошибка замера диска: %w", err)
		}
		result.Before = before
		result.After = before
		diskUsageRatio.Set(before.Ratio())

		if before.Ratio() <= m.cfg.DiskThreshold {
			return nil
		}

		m.logger.Warn("Превышен порог заполнения диска, запуск аварийной очистки",
			slog.Float64("ratio", before.Ratio()),
			slog.Float64("threshold", m.cfg.DiskThreshold),
		)
		result.Triggered = true
		result.Steps = m.EmergencyCleanup(ctx)

		after, err := m.sampler(m.layout.Root())
		if err != nil {
			return fmt.Errorf("ошибка повторного замера диска: %w", err)
		}
		result.After = after
		diskUsageRatio.Set(after.Ratio())

		m.logger.Warn("Аварийная очистка завершена",
			slog.Float64("ratio_before", before.Ratio()),
			slog.Float64("ratio_after", after.Ratio()),
		)
		m.emitEmergency(ctx, before, after)
		return nil
	})
	return result, err
}

// EmergencyCleanup выполняет каскад от самого дешёвого шага к самому
// дорогому: temp → старый карантин → истёкшие файлы. Шаг, который уже
// выполняется по расписанию, пропускается.
func (m *Manager) EmergencyCleanup(ctx context.Context) []JobResult {
	steps := []struct {
		name string
		fn   func(context.Context) (JobResult, error)
	}{
		{StepTemp, m.CleanupTemp},
		{StepQuarantine, m.CleanupOldQuarantine},
		{StepPurge, m.PurgeExpired},
	}

	results := make([]JobResult, 0, len(steps))
	for _, step := range steps {
		if ctx.Err() != nil {
			break
		}
		if m.stepHook != nil {
			m.stepHook(step.name)
		}
		res, err := step.fn(ctx)
		if err != nil && !errors.Is(err, ErrJobInProgress) {
			m.logger.Error("Шаг аварийной очистки завершился с ошибкой",
				slog.String("step", step.name),
				slog.String("error", err.Error()),
			)
		}
		results = append(results, res)
	}
	return results
}

func (m *Manager) emitEmergency(ctx context.Context, before, after diskusage.Usage) {
	if m.audit == nil {
		return
	}
	err := m.audit.Emit(ctx, audit.Event{
		ID:         uuid.NewString(),
		Type:       audit.EventEmergencyCleanup,
		Severity:   audit.SeverityWarning,
		Detail:     fmt.Sprintf("заполнение диска %.3f → %.3f", before.Ratio(), after.Ratio()),
		OccurredAt: m.now().UTC(),
	})
	if err != nil {
		m.logger.Error("Не удалось отправить событие аварийной очистки",
			slog.String("error", err.Error()),
		)
	}
}
