// Пакет service — бизнес-логика Ingest Module.
// ingest.go — конвейер загрузки: валидация → запись → проверка → запись метаданных
// или карантин.
package service

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"image"
	// Декодеры для определения размеров изображений
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"path"
	"time"

	"github.com/google/uuid"
	_ "golang.org/x/image/webp"

	"github.com/bigkaa/goartstore/ingest-module/internal/audit"
	"github.com/bigkaa/goartstore/ingest-module/internal/domain/model"
	"github.com/bigkaa/goartstore/ingest-module/internal/domain/scanstatus"
	"github.com/bigkaa/goartstore/ingest-module/internal/repository"
	"github.com/bigkaa/goartstore/ingest-module/internal/scanner"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/filestore"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/layout"
	"github.com/bigkaa/goartstore/ingest-module/internal/validator"
)

// Candidate — загружаемый файл. Существует только на время вызова Ingest.
type Candidate struct {
	// Data — содержимое файла
	Data []byte
	// FileName — имя, указанное клиентом
	FileName string
	// DeclaredMIME — MIME-тип, указанный клиентом
	DeclaredMIME string
	// UploaderID — sub из JWT
	UploaderID string
	// AssociationID — ссылка на родительскую сущность (опционально)
	AssociationID *string
	// ExpiresAt — срок жизни файла (опционально)
	ExpiresAt *time.Time
}

// BatchFailure — отказ по одному файлу пакета.
type BatchFailure struct {
	Index    int
	FileName string
	Class    ReasonClass
	Err      error
}

// BatchResult — итог пакетной загрузки. Допустим частичный успех.
type BatchResult struct {
	Accepted []*model.StoredFile
	Rejected []BatchFailure
}

// Scanner — антивирусная проверка записанного файла.
type Scanner interface {
	Scan(ctx context.Context, req scanner.Request) scanner.Outcome
}

// ThumbnailQueue — постановка задачи генерации превью.
type ThumbnailQueue interface {
	Enqueue(fileID, storagePath string, category model.Category, mimeType string) bool
}

// QuarantineRecorder — журнал карантина.
type QuarantineRecorder interface {
	Append(entry model.QuarantineEntry) error
}

// IngestConfig — параметры конвейера.
type IngestConfig struct {
	// DefaultExpiry — срок жизни файла без явного expires_at (0 — бессрочно)
	DefaultExpiry time.Duration
	// UserQuota — квота пользователя в байтах (0 — без ограничения)
	UserQuota int64
}

// IngestService — конвейер загрузки файлов.
type IngestService struct {
	cfg        IngestConfig
	validator  *validator.Validator
	layout     *layout.Layout
	store      *filestore.FileStore
	scanner    Scanner
	repo       repository.FileRepository
	quarantine QuarantineRecorder
	audit      audit.Sink
	thumbnails ThumbnailQueue
	logger     *slog.Logger

	now    func() time.Time
	random io.Reader
}

// IngestDeps — зависимости конвейера.
type IngestDeps struct {
	Validator  *validator.Validator
	Layout     *layout.Layout
	Store      *filestore.FileStore
	Scanner    Scanner
	Repo       repository.FileRepository
	Quarantine QuarantineRecorder
	Audit      audit.Sink
	// Thumbnails — очередь превью; nil отключает генерацию
	Thumbnails ThumbnailQueue
}

// NewIngestService создаёт конвейер загрузки.
func NewIngestService(cfg IngestConfig, deps IngestDeps, logger *slog.Logger) *IngestService {
	return &IngestService{
		cfg:        cfg,
		validator:  deps.Validator,
		layout:     deps.Layout,
		store:      deps.Store,
		scanner:    deps.Scanner,
		repo:       deps.Repo,
		quarantine: deps.Quarantine,
		audit:      deps.Audit,
		thumbnails: deps.Thumbnails,
		logger:     logger.With(slog.String("component", "ingest_service")),
		now:        time.Now,
		random:     rand.Reader,
	}
}

// Ingest проводит файл через конвейер. Возвращает запись о принятом файле
// или ошибку: *validator.Error, *QuotaError, *RejectionError, *StorageError.
//
// Запись в хранилище метаданных создаётся только после проверки с исходом clean.
// Отклонённые проверкой байты перемещаются в карантин, а не удаляются.
func (s *IngestService) Ingest(ctx context.Context, c Candidate) (*model.StoredFile, error) {
	// 1. Валидация без обращения к диску
	res, err := s.validator.Validate(c.Data, c.FileName, c.DeclaredMIME)
	if err != nil {
		var verr *validator.Error
		if errors.As(err, &verr) {
			validationFailuresTotal.WithLabelValues(string(verr.Kind)).Inc()
		}
		uploadsTotal.WithLabelValues("rejected").Inc()
		s.logger.Info("Файл не прошёл валидацию",
			slog.String("file_name", c.FileName),
			slog.String("uploader_id", c.UploaderID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	size := int64(len(c.Data))
	if err := s.checkQuota(ctx, c.UploaderID, size); err != nil {
		uploadsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	// 2. Запись на диск
	now := s.now().UTC()
	fileID := uuid.NewString()
	storedName, err := validator.GenerateStorageName(c.FileName, now, s.random)
	if err != nil {
		uploadsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("ошибка генерации имени файла: %w", err)
	}

	rel, err := s.store.Save(s.layout.FilesDir(res.Category), storedName, c.Data)
	if err != nil {
		uploadsTotal.WithLabelValues("failed").Inc()
		return nil, &StorageError{Op: "save", Err: err}
	}

	// Байты без записи в хранилище метаданных удаляются при любом сбое,
	// кроме карантина, который забирает их себе
	keep := false
	defer func() {
		if keep {
			return
		}
		if r := recover(); r != nil {
			s.discard(rel, fileID)
			panic(r)
		}
		s.discard(rel, fileID)
	}()

	// 3. Проверка до появления записи
	tracker := scanstatus.NewTracker()
	if err := tracker.Transition(scanstatus.Scanning); err != nil {
		uploadsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	outcome := s.scanner.Scan(ctx, scanner.Request{
		Path:       s.layout.Abs(rel),
		Name:       c.FileName,
		FileID:     fileID,
		UploaderID: c.UploaderID,
	})
	if err := tracker.Transition(outcome.Status); err != nil {
		uploadsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	// 5. Карантин
	if !outcome.Clean() {
		keep = true
		uploadsTotal.WithLabelValues("rejected").Inc()
		return nil, s.quarantineFile(ctx, fileID, storedName, rel, size, c, outcome)
	}

	// 4. Запись метаданных
	file := &model.StoredFile{
		ID:            fileID,
		StoredName:    storedName,
		OriginalName:  c.FileName,
		DeclaredMIME:  c.DeclaredMIME,
		DetectedMIME:  res.DetectedMIME,
		Size:          size,
		Category:      res.Category,
		UploaderID:    c.UploaderID,
		AssociationID: c.AssociationID,
		ScanStatus:    tracker.Current(),
		ScanResult:    outcome.ResultDetail(s.now()),
		ExpiresAt:     s.expiry(c.ExpiresAt, now),
		StoragePath:   rel,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if res.Category == model.CategoryImage {
		file.Dimensions = s.dimensions(c.Data, fileID)
	}

	if err := s.repo.Create(ctx, file); err != nil {
		uploadsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("ошибка сохранения метаданных файла %s: %w", fileID, err)
	}
	keep = true

	if s.thumbnails != nil {
		s.thumbnails.Enqueue(file.ID, file.StoragePath, file.Category, file.DetectedMIME)
	}

	uploadsTotal.WithLabelValues("accepted").Inc()
	uploadBytesTotal.Add(float64(size))
	s.logger.Info("Файл принят",
		slog.String("file_id", file.ID),
		slog.String("uploader_id", file.UploaderID),
		slog.String("mime", file.DetectedMIME),
		slog.Int64("size", file.Size),
		slog.String("scan_annotation", outcome.Annotation),
	)
	return file, nil
}

// IngestBatch проводит каждый файл независимо. Отказ одного файла
// не прерывает обработку остальных.
func (s *IngestService) IngestBatch(ctx context.Context, candidates []Candidate) BatchResult {
	var result BatchResult
	for i, c := range candidates {
		file, err := s.Ingest(ctx, c)
		if err != nil {
			result.Rejected = append(result.Rejected, BatchFailure{
				Index:    i,
				FileName: c.FileName,
				Class:    Classify(err),
				Err:      err,
			})
			continue
		}
		result.Accepted = append(result.Accepted, file)
	}
	return result
}

// checkQuota проверяет квоту пользователя до записи на диск.
func (s *IngestService) checkQuota(ctx context.Context, uploaderID string, size int64) error {
	if s.cfg.UserQuota <= 0 {
		return nil
	}
	used, err := s.repo.SumSizesByUploader(ctx, uploaderID)
	if err != nil {
		return fmt.Errorf("ошибка подсчёта занятого объёма: %w", err)
	}
	if used+size > s.cfg.UserQuota {
		return &QuotaError{UploaderID: uploaderID, Used: used, Size: size, Quota: s.cfg.UserQuota}
	}
	return nil
}

// quarantineFile перемещает байты в карантин, пишет журнал и событие аудита.
// Сбой любого шага журналируется; вызывающий всё равно получает отказ.
func (s *IngestService) quarantineFile(
	ctx context.Context,
	fileID, storedName, rel string,
	size int64,
	c Candidate,
	outcome scanner.Outcome,
) error {
	now := s.now().UTC()
	qrel, held := s.isolate(fileID, storedName, rel, c.Data)

	entry := model.QuarantineEntry{
		ID:              uuid.NewString(),
		FileID:          fileID,
		UploaderID:      c.UploaderID,
		OriginalName:    c.FileName,
		DeclaredMIME:    c.DeclaredMIME,
		Size:            size,
		OriginalPath:    rel,
		QuarantinedPath: qrel,
		HeldPath:        held,
		Threats:         outcome.Threats,
		Reason:          outcome.Reason,
		Detail:          outcome.Detail,
		QuarantinedAt:   now,
	}
	if err := s.quarantine.Append(entry); err != nil {
		s.logger.Error("Не удалось записать журнал карантина",
			slog.String("file_id", fileID),
			slog.String("error", err.Error()),
		)
	}

	severity := audit.SeverityWarning
	if outcome.Reason == model.ReasonInfected || outcome.Reason == model.ReasonOversizedArchive {
		severity = audit.SeverityCritical
	}
	err := s.audit.Emit(ctx, audit.Event{
		ID:         uuid.NewString(),
		Type:       audit.EventFileQuarantined,
		Severity:   severity,
		FileID:     fileID,
		UploaderID: c.UploaderID,
		Reason:     string(outcome.Reason),
		Threats:    outcome.Threats,
		Detail:     outcome.Detail,
		OccurredAt: now,
	})
	if err != nil {
		s.logger.Error("Не удалось отправить событие аудита",
			slog.String("file_id", fileID),
			slog.String("error", err.Error()),
		)
	}

	quarantineTotal.WithLabelValues(string(outcome.Reason)).Inc()
	s.logger.Warn("Файл помещён в карантин",
		slog.String("file_id", fileID),
		slog.String("uploader_id", c.UploaderID),
		slog.String("reason", string(outcome.Reason)),
	)

	return &RejectionError{
		Reason:  outcome.Reason,
		FileID:  fileID,
		Message: "Файл не прошёл проверку безопасности",
	}
}

// isolate убирает отклонённые байты из files/. Порядок попыток:
//  1. перенос записанного файла в quarantine/;
//  2. запись копии из памяти в quarantine/ и удаление исходного файла;
//  3. переименование на месте с суффиксом layout.HeldSuffix.
//
// Возвращает путь в карантине либо путь удержания. Отклонённые байты
// не удаляются ни на одном из путей.
func (s *IngestService) isolate(fileID, storedName, rel string, data []byte) (qrel, held string) {
	qrel = s.layout.QuarantinePath(fileID, storedName)

	moveErr := s.store.Move(rel, qrel)
	if moveErr == nil {
		return qrel, ""
	}

	_, saveErr := s.store.Save(layout.QuarantineDir, path.Base(qrel), data)
	if saveErr == nil {
		s.logger.Warn("Перенос в карантин не удался, сохранена копия из памяти",
			slog.String("file_id", fileID),
			slog.String("error", moveErr.Error()),
		)
		s.discard(rel, fileID)
		return qrel, ""
	}
	s.logger.Error("Не удалось поместить файл в карантин",
		slog.String("file_id", fileID),
		slog.String("path", rel),
		slog.String("move_error", moveErr.Error()),
		slog.String("save_error", saveErr.Error()),
	)

	held = s.layout.HeldPath(rel)
	if err := s.store.Move(rel, held); err != nil {
		s.logger.Error("Не удалось удержать отклонённый файл",
			slog.String("file_id", fileID),
			slog.String("path", rel),
			slog.String("error", err.Error()),
		)
		return "", ""
	}
	quarantineHeldTotal.Inc()
	return "", held
}

// discard удаляет записанные байты после сбоя.
func (s *IngestService) discard(rel, fileID string) {
	if err := s.store.Delete(rel); err != nil {
		s.logger.Error("Не удалось удалить файл после сбоя загрузки",
			slog.String("file_id", fileID),
			slog.String("path", rel),
			slog.String("error", err.Error()),
		)
	}
}

// expiry возвращает явный срок жизни или срок по умолчанию.
func (s *IngestService) expiry(explicit *time.Time, now time.Time) *time.Time {
	if explicit != nil {
		t := explicit.UTC()
		return &t
	}
	if s.cfg.DefaultExpiry <= 0 {
		return nil
	}
	t := now.Add(s.cfg.DefaultExpiry)
	return &t
}

// dimensions читает размеры изображения из заголовка.
func (s *IngestService) dimensions(data []byte, fileID string) *model.Dimensions {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		s.logger.Debug("Не удалось определить размеры изображения",
			slog.String("file_id", fileID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return &model.Dimensions{Width: cfg.Width, Height: cfg.Height}
}
