package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/bigkaa/goartstore/ingest-module/internal/domain/model"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/layout"
)

// DiskStats — заполнение файловой системы хранилища.
type DiskStats struct {
	Total     int64   `json:"total"`
	Used      int64   `json:"used"`
	Available int64   `json:"available"`
	Ratio     float64 `json:"ratio"`
}

// DirectoryStats — размеры директорий хранилища в байтах.
type DirectoryStats struct {
	Uploads    int64 `json:"uploads"`
	Quarantine int64 `json:"quarantine"`
	Temp       int64 `json:"temp"`
}

// Stats — статистика для административного API.
// InfectedFiles учитывает только записи карантина в пределах срока хранения.
type Stats struct {
	ExpiredFiles     int64          `json:"expiredFiles"`
	InfectedFiles    int64          `json:"infectedFiles"`
	SoftDeletedFiles int64          `json:"softDeletedFiles"`
	TotalFiles       int64          `json:"totalFiles"`
	TotalSize        int64          `json:"totalSize"`
	Disk             DiskStats      `json:"disk"`
	Directories      DirectoryStats `json:"directories"`
	GeneratedAt      time.Time      `json:"generatedAt"`
}

// Stats собирает статистику очистки. Количество заражённых файлов берётся
// из журнала карантина (записи о них не создаются) и ограничено сроком
// хранения карантина: более старые файлы уже удалены очисткой.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	now := m.now().UTC()
	st := Stats{GeneratedAt: now}

	byStatus, err := m.repo.CountByStatus(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("ошибка подсчёта файлов по статусу: %w", err)
	}
	for _, n := range byStatus {
		st.TotalFiles += n
	}

	if st.ExpiredFiles, err = m.repo.CountExpired(ctx, now); err != nil {
		return Stats{}, fmt.Errorf("ошибка подсчёта истёкших файлов: %w", err)
	}
	if st.SoftDeletedFiles, err = m.repo.CountMarkedForDeletion(ctx); err != nil {
		return Stats{}, fmt.Errorf("ошибка подсчёта помеченных файлов: %w", err)
	}
	if st.TotalSize, err = m.repo.SumSizes(ctx); err != nil {
		return Stats{}, fmt.Errorf("ошибка подсчёта объёма: %w", err)
	}

	if m.quarantine != nil {
		entries, err := m.quarantine.ReadAll()
		if err != nil {
			return Stats{}, fmt.Errorf("ошибка чтения журнала карантина: %w", err)
		}
		retainedSince := now.Add(-m.cfg.QuarantineRetention)
		for _, e := range entries {
			if e.QuarantinedAt.Before(retainedSince) {
				continue
			}
			if e.Reason == model.ReasonInfected || e.Reason == model.ReasonOversizedArchive {
				st.InfectedFiles++
			}
		}
	}

	usage, err := m.sampler(m.layout.Root())
	if err != nil {
		return Stats{}, fmt.Errorf("ошибка замера диска: %w", err)
	}
	st.Disk = DiskStats{
		Total:     usage.Total,
		Used:      usage.Used,
		Available: usage.Available,
		Ratio:     usage.Ratio(),
	}

	if st.Directories.Uploads, err = m.dirSize(layout.FilesDir); err != nil {
		return Stats{}, err
	}
	if st.Directories.Quarantine, err = m.dirSize(layout.QuarantineDir); err != nil {
		return Stats{}, err
	}
	if st.Directories.Temp, err = m.dirSize(layout.TempDir); err != nil {
		return Stats{}, err
	}
	return st, nil
}

// dirSize возвращает размер директории из кэша или обходом.
func (m *Manager) dirSize(dir string) (int64, error) {
	if size, ok := m.dirSizes.Get(dir); ok {
		return size, nil
	}
	size, err := m.files.DirSize(dir)
	if err != nil {
		return 0, err
	}
	m.dirSizes.Set(dir, size)
	return size, nil
}
