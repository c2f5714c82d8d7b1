// Пакет lifecycle — жизненный цикл принятых файлов.
//
// Состояния файла относительно удаления:
//
//	live → marked (мягкое удаление, окно восстановления открыто) → purged (байты и запись удалены)
//
// Фоновые задачи: очистка истёкших файлов, сверка сирот, очистка temp,
// очистка старого карантина, контроль заполнения диска. Каждая задача
// идемпотентна и не запускается повторно, пока предыдущий запуск не завершён.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bigkaa/goartstore/ingest-module/internal/audit"
	"github.com/bigkaa/goartstore/ingest-module/internal/domain/model"
	"github.com/bigkaa/goartstore/ingest-module/internal/repository"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/diskusage"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/filestore"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/layout"
)

// Имена задач.
const (
	JobExpiredPurge      = "expired-purge"
	JobOrphanReconcile   = "orphan-reconcile"
	JobTempCleanup       = "temp-cleanup"
	JobQuarantineCleanup = "quarantine-cleanup"
	JobDiskPressure      = "disk-pressure"
	JobThumbnailSweep    = "thumbnail-sweep"
)

// Ошибки мягкого удаления.
var (
	ErrFileNotFound         = errors.New("файл не найден")
	ErrNotMarked            = errors.New("файл не помечен на удаление")
	ErrRecoveryWindowClosed = errors.New("окно восстановления закрыто")
)

const defaultThumbnailOrphanMinAge = 30 * 24 * time.Hour

// Config — параметры Manager.
type Config struct {
	// RecoveryWindow — окно восстановления после мягкого удаления
	RecoveryWindow time.Duration
	// TempMaxAge — возраст файлов temp/, после которого они удаляются
	TempMaxAge time.Duration
	// QuarantineRetention — срок хранения файлов карантина
	QuarantineRetention time.Duration
	// OrphanMinAge — минимальный возраст файла-сироты для удаления
	OrphanMinAge time.Duration
	// ThumbnailOrphanMinAge — минимальный возраст превью-сироты (по умолчанию 30 дней)
	ThumbnailOrphanMinAge time.Duration
	// DiskThreshold — доля занятого места, запускающая аварийную очистку
	DiskThreshold float64
	// PurgeBatchSize — размер пачки при очистке истёкших файлов
	PurgeBatchSize int
	// StatsCacheTTL — время жизни кэша размеров директорий
	StatsCacheTTL time.Duration
}

// QuarantineReader — чтение журнала карантина.
type QuarantineReader interface {
	ReadAll() ([]model.QuarantineEntry, error)
}

// JobResult — итог одного запуска задачи.
type JobResult struct {
	Job      string        `json:"job"`
	Deleted  int           `json:"deleted"`
	Freed    int64         `json:"freedBytes"`
	Errors   int           `json:"errors"`
	Duration time.Duration `json:"durationNs"`
}

// Manager — управление жизненным циклом файлов.
type Manager struct {
	cfg        Config
	repo       repository.FileRepository
	files      *filestore.FileStore
	layout     *layout.Layout
	quarantine QuarantineReader
	sampler    diskusage.Sampler
	audit      audit.Sink
	dirSizes   *DirSizeCache
	guard      *jobGuard
	logger     *slog.Logger

	now func() time.Time
	// stepHook вызывается перед каждым шагом аварийной очистки
	stepHook func(step string)
}

// NewManager создаёт Manager. sampler == nil — diskusage.Sample.
func NewManager(
	cfg Config,
	repo repository.FileRepository,
	files *filestore.FileStore,
	l *layout.Layout,
	quarantine QuarantineReader,
	sampler diskusage.Sampler,
	sink audit.Sink,
	logger *slog.Logger,
) *Manager {
	if sampler == nil {
		sampler = diskusage.Sample
	}
	if cfg.ThumbnailOrphanMinAge <= 0 {
		cfg.ThumbnailOrphanMinAge = defaultThumbnailOrphanMinAge
	}
	if cfg.PurgeBatchSize <= 0 {
		cfg.PurgeBatchSize = 500
	}
	return &Manager{
		cfg:        cfg,
		repo:       repo,
		files:      files,
		layout:     l,
		quarantine: quarantine,
		sampler:    sampler,
		audit:      sink,
		dirSizes:   NewDirSizeCache(cfg.StatsCacheTTL),
		guard:      newJobGuard(),
		logger:     logger.With(slog.String("component", "lifecycle")),
		now:        time.Now,
	}
}

// IsRunning возвращает true, если задача выполняется.
func (m *Manager) IsRunning(job string) bool {
	return m.guard.isRunning(job)
}

// MarkForDeletion помечает файл на удаление. Фактическое удаление — по
// истечении окна восстановления. Повторная пометка не сдвигает срок.
func (m *Manager) MarkForDeletion(ctx context.Context, id, reason string) (*model.StoredFile, error) {
	file, err := m.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if file.IsMarkedForDeletion() {
		return file, nil
	}

	now := m.now().UTC()
	deletion := &model.DeletionInfo{
		Reason:   reason,
		MarkedAt: now,
		PurgeAt:  now.Add(m.cfg.RecoveryWindow),
	}
	updated, err := m.repo.Update(ctx, id, repository.FileUpdate{Deletion: deletion})
	if err != nil {
		return nil, m.mapRepoErr(id, err)
	}

	m.logger.Info("Файл помечен на удаление",
		slog.String("file_id", id),
		slog.String("reason", reason),
		slog.Time("purge_at", deletion.PurgeAt),
	)
	return updated, nil
}

// Restore снимает пометку удаления, пока окно восстановления открыто.
func (m *Manager) Restore(ctx context.Context, id string) (*model.StoredFile, error) {
	file, err := m.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !file.IsMarkedForDeletion() {
		return nil, ErrNotMarked
	}
	if !m.now().Before(file.Deletion.PurgeAt) {
		return nil, ErrRecoveryWindowClosed
	}

	updated, err := m.repo.Update(ctx, id, repository.FileUpdate{ClearDeletion: true})
	if err != nil {
		return nil, m.mapRepoErr(id, err)
	}

	m.logger.Info("Файл восстановлен", slog.String("file_id", id))
	return updated, nil
}

func (m *Manager) find(ctx context.Context, id string) (*model.StoredFile, error) {
	file, err := m.repo.FindByID(ctx, id)
	if err != nil {
		return nil, m.mapRepoErr(id, err)
	}
	return file, nil
}

func (m *Manager) mapRepoErr(id string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrFileNotFound
	}
	return fmt.Errorf("ошибка доступа к файлу %s: %w", id, err)
}

// run выполняет задачу под защитой от повторного запуска
// и обновляет метрики.
func (m *Manager) run(job string, fn func(res *JobResult) error) (JobResult, error) {
	release, ok := m.guard.acquire(job)
	if !ok {
		m.logger.Info("Задача уже выполняется, запуск пропущен", slog.String("job", job))
		return JobResult{Job: job}, ErrJobInProgress
	}
	defer release()

	start := time.Now()
	res := JobResult{Job: job}
	err := fn(&res)
	res.Duration = time.Since(start)

	jobDurationSeconds.WithLabelValues(job).Observe(res.Duration.Seconds())
	filesDeletedTotal.WithLabelValues(job).Add(float64(res.Deleted))
	bytesFreedTotal.WithLabelValues(job).Add(float64(res.Freed))
	if res.Deleted > 0 {
		m.dirSizes.Invalidate()
	}

	if err != nil {
		m.logger.Error("Задача очистки завершилась с ошибкой",
			slog.String("job", job),
			slog.String("error", err.Error()),
		)
		return res, err
	}

	m.logger.Info("Задача очистки завершена",
		slog.String("job", job),
		slog.Int("deleted", res.Deleted),
		slog.Int64("freed_bytes", res.Freed),
		slog.Int("errors", res.Errors),
		slog.Duration("duration", res.Duration),
	)
	return res, nil
}
