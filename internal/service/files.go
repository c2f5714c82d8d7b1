// files.go — чтение принятых файлов: метаданные, скачивание, превью.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/bigkaa/goartstore/ingest-module/internal/domain/model"
	"github.com/bigkaa/goartstore/ingest-module/internal/repository"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/filestore"
)

// Caller — вызывающий пользователь.
type Caller struct {
	UserID  string
	IsAdmin bool
}

// FileService — сервис выдачи файлов.
type FileService struct {
	repo   repository.FileRepository
	store  *filestore.FileStore
	logger *slog.Logger
}

// NewFileService создаёт сервис выдачи файлов.
func NewFileService(repo repository.FileRepository, store *filestore.FileStore, logger *slog.Logger) *FileService {
	return &FileService{
		repo:   repo,
		store:  store,
		logger: logger.With(slog.String("component", "file_service")),
	}
}

// Get возвращает метаданные файла. Файл, недоступный вызывающему,
// неотличим от отсутствующего.
func (s *FileService) Get(ctx context.Context, id string, caller Caller) (*model.StoredFile, error) {
	file, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("ошибка получения файла %s: %w", id, err)
	}
	if !file.CanBeDownloadedBy(caller.UserID, caller.IsAdmin) {
		return nil, ErrFileNotFound
	}
	return file, nil
}

// Open открывает файл для скачивания и увеличивает счётчик скачиваний.
// Закрытие *os.File — на вызывающем.
func (s *FileService) Open(ctx context.Context, id string, caller Caller) (*os.File, *model.StoredFile, error) {
	file, err := s.Get(ctx, id, caller)
	if err != nil {
		return nil, nil, err
	}

	f, err := s.store.Open(file.StoragePath)
	if err != nil {
		if errors.Is(err, filestore.ErrNotFound) {
			s.logger.Error("Файл не найден на диске",
				slog.String("file_id", id),
				slog.String("storage_path", file.StoragePath),
			)
			return nil, nil, ErrFileNotFound
		}
		return nil, nil, fmt.Errorf("ошибка открытия файла %s: %w", id, err)
	}

	updated, err := s.repo.Update(ctx, id, repository.FileUpdate{IncrementDownloads: true})
	if err != nil {
		// Счётчик — статистика, скачивание не блокируем
		s.logger.Warn("Не удалось увеличить счётчик скачиваний",
			slog.String("file_id", id),
			slog.String("error", err.Error()),
		)
	} else {
		file = updated
	}

	downloadsTotal.Inc()
	return f, file, nil
}

// OpenThumbnail открывает превью файла или иконку категории.
func (s *FileService) OpenThumbnail(ctx context.Context, id string, caller Caller) (*os.File, error) {
	file, err := s.Get(ctx, id, caller)
	if err != nil {
		return nil, err
	}
	if file.ThumbnailPath == nil || *file.ThumbnailPath == "" {
		return nil, ErrThumbnailNotReady
	}

	f, err := s.store.Open(*file.ThumbnailPath)
	if err != nil {
		if errors.Is(err, filestore.ErrNotFound) {
			return nil, ErrThumbnailNotReady
		}
		return nil, fmt.Errorf("ошибка открытия превью %s: %w", id, err)
	}
	return f, nil
}

// Authorize проверяет право изменять файл: владелец или администратор.
// Помеченный на удаление файл доступен владельцу, чтобы его можно было
// восстановить.
func (s *FileService) Authorize(ctx context.Context, id string, caller Caller) (*model.StoredFile, error) {
	file, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("ошибка получения файла %s: %w", id, err)
	}
	if caller.IsAdmin {
		return file, nil
	}
	if caller.UserID == "" || file.UploaderID != caller.UserID {
		if !file.IsVisible() {
			return nil, ErrFileNotFound
		}
		return nil, ErrForbidden
	}
	return file, nil
}
