package thumbnail

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"strings"

	"github.com/bigkaa/goartstore/ingest-module/internal/storage/layout"
)

// SweepOrphans удаляет превью, чей файл отсутствует в хранилище метаданных
// и которые старше OrphanMinAge. Параллельный вызов возвращает ErrSweepInProgress.
// При ошибке запроса к хранилищу ничего не удаляется.
func (w *Worker) SweepOrphans(ctx context.Context) (int, error) {
	if !w.sweeping.CompareAndSwap(false, true) {
		return 0, ErrSweepInProgress
	}
	defer w.sweeping.Store(false)

	cutoff := w.now().Add(-w.cfg.OrphanMinAge)

	candidates := make(map[string]string)
	err := w.files.Walk(layout.ThumbnailsDir, func(rel string, info fs.FileInfo) error {
		if info.ModTime().After(cutoff) {
			return nil
		}
		name := path.Base(rel)
		if strings.HasSuffix(name, ".tmp") {
			return nil
		}
		id, ok := layout.FileIDFromThumbnail(name)
		if !ok {
			return nil
		}
		candidates[id] = rel
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("ошибка обхода директории превью: %w", err)
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(candidates))
	for id := range candidates {
		ids = append(ids, id)
	}

	existing, err := w.store.ExistingIDs(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("ошибка проверки существования файлов: %w", err)
	}

	deleted := 0
	for id, rel := range candidates {
		if existing[id] {
			continue
		}
		if err := w.files.Delete(rel); err != nil {
			w.logger.Warn("Не удалось удалить превью-сироту",
				slog.String("path", rel),
				slog.String("error", err.Error()),
			)
			continue
		}
		deleted++
	}

	if deleted > 0 {
		orphanThumbnailsDeleted.Add(float64(deleted))
		w.logger.Info("Удалены превью-сироты", slog.Int("count", deleted))
	}
	return deleted, nil
}
