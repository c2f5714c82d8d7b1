// files.go — HTTP handlers файловых операций: загрузка, метаданные,
// скачивание, превью, мягкое удаление и восстановление.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"time"

	apierrors "github.com/bigkaa/goartstore/ingest-module/internal/api/errors"
	"github.com/bigkaa/goartstore/ingest-module/internal/domain/model"
	"github.com/bigkaa/goartstore/ingest-module/internal/lifecycle"
	"github.com/bigkaa/goartstore/ingest-module/internal/service"
)

const (
	// MaxFilesPerRequest — максимальное число частей file в одном запросе
	MaxFilesPerRequest = 10
	// multipartMemory — часть multipart-формы, удерживаемая в памяти
	multipartMemory = 32 << 20
	// formOverhead — запас на заголовки и поля формы сверх размера файлов
	formOverhead = 1 << 20
)

// Reasons мягкого удаления.
const (
	deleteReasonUser  = "user_request"
	deleteReasonAdmin = "admin_request"
)

// Ingester — конвейер загрузки.
type Ingester interface {
	IngestBatch(ctx context.Context, candidates []service.Candidate) service.BatchResult
}

// FileReader — выдача файлов.
type FileReader interface {
	Get(ctx context.Context, id string, caller service.Caller) (*model.StoredFile, error)
	Open(ctx context.Context, id string, caller service.Caller) (*os.File, *model.StoredFile, error)
	OpenThumbnail(ctx context.Context, id string, caller service.Caller) (*os.File, error)
	Authorize(ctx context.Context, id string, caller service.Caller) (*model.StoredFile, error)
}

// SoftDeleter — мягкое удаление и восстановление.
type SoftDeleter interface {
	MarkForDeletion(ctx context.Context, id, reason string) (*model.StoredFile, error)
	Restore(ctx context.Context, id string) (*model.StoredFile, error)
}

// FilesConfig — параметры FilesHandler.
type FilesConfig struct {
	MaxUploadSize  int64
	PreviewBaseURL string
	AdminScope     string
}

// FilesHandler — обработчик файловых endpoints.
type FilesHandler struct {
	cfg       FilesConfig
	ingest    Ingester
	files     FileReader
	lifecycle SoftDeleter
	logger    *slog.Logger
	now       func() time.Time
}

// NewFilesHandler создаёт обработчик файловых endpoints.
func NewFilesHandler(cfg FilesConfig, ingest Ingester, files FileReader, lc SoftDeleter, logger *slog.Logger) *FilesHandler {
	return &FilesHandler{
		cfg:       cfg,
		ingest:    ingest,
		files:     files,
		lifecycle: lc,
		logger:    logger.With(slog.String("component", "files_handler")),
		now:       time.Now,
	}
}

// rejectedItem — отказ по одному файлу в ответе пакетной загрузки.
// Наружу передаётся только класс причины.
type rejectedItem struct {
	Index    int                 `json:"index"`
	FileName string              `json:"fileName"`
	Reason   service.ReasonClass `json:"reason"`
}

// batchResponse — ответ пакетной загрузки.
type batchResponse struct {
	Accepted []model.FileDescriptor `json:"accepted"`
	Rejected []rejectedItem         `json:"rejected"`
}

// deletionResponse — ответ на мягкое удаление.
type deletionResponse struct {
	ID       string    `json:"id"`
	Reason   string    `json:"reason"`
	MarkedAt time.Time `json:"markedAt"`
	PurgeAt  time.Time `json:"purgeAt"`
}

// Upload обрабатывает POST /api/v1/files.
// Multipart form: file (одна или несколько частей), association_id и
// expires_at (RFC 3339) — опционально. Один файл: 201 с описанием или
// ошибка по классу отказа. Несколько файлов: 201, если приняты все,
// иначе 207 со списками accepted/rejected.
func (h *FilesHandler) Upload(w http.ResponseWriter, r *http.Request) {
	caller := callerFromRequest(r, h.cfg.AdminScope)
	if caller.UserID == "" {
		apierrors.Unauthorized(w, "Не определён пользователь")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadSize*MaxFilesPerRequest+formOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apierrors.FileTooLarge(w, "Запрос превышает допустимый размер")
			return
		}
		apierrors.ValidationError(w, fmt.Sprintf("Ошибка разбора multipart: %s", err.Error()))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	parts := r.MultipartForm.File["file"]
	if len(parts) == 0 {
		apierrors.ValidationError(w, "Поле 'file' обязательно")
		return
	}
	if len(parts) > MaxFilesPerRequest {
		apierrors.ValidationError(w, fmt.Sprintf("Не более %d файлов в одном запросе", MaxFilesPerRequest))
		return
	}

	var association *string
	if v := r.FormValue("association_id"); v != "" {
		association = &v
	}

	var expiresAt *time.Time
	if v := r.FormValue("expires_at"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			apierrors.ValidationError(w, "expires_at должен быть в формате RFC 3339")
			return
		}
		if !t.After(h.now()) {
			apierrors.ValidationError(w, "expires_at должен быть в будущем")
			return
		}
		t = t.UTC()
		expiresAt = &t
	}

	candidates := make([]service.Candidate, 0, len(parts))
	for _, part := range parts {
		data, err := h.readPart(part)
		if err != nil {
			h.logger.Error("Ошибка чтения части multipart",
				slog.String("file_name", part.Filename),
				slog.String("error", err.Error()),
			)
			apierrors.InternalError(w, "Ошибка чтения загруженного файла")
			return
		}
		candidates = append(candidates, service.Candidate{
			Data:          data,
			FileName:      part.Filename,
			DeclaredMIME:  part.Header.Get("Content-Type"),
			UploaderID:    caller.UserID,
			AssociationID: association,
			ExpiresAt:     expiresAt,
		})
	}

	result := h.ingest.IngestBatch(r.Context(), candidates)

	if len(candidates) == 1 {
		if len(result.Rejected) == 1 {
			writeRejection(w, result.Rejected[0].Class)
			return
		}
		writeJSON(w, http.StatusCreated, result.Accepted[0].Descriptor(h.cfg.PreviewBaseURL))
		return
	}

	resp := batchResponse{
		Accepted: make([]model.FileDescriptor, 0, len(result.Accepted)),
		Rejected: make([]rejectedItem, 0, len(result.Rejected)),
	}
	for _, f := range result.Accepted {
		resp.Accepted = append(resp.Accepted, f.Descriptor(h.cfg.PreviewBaseURL))
	}
	for _, rej := range result.Rejected {
		resp.Rejected = append(resp.Rejected, rejectedItem{Index: rej.Index, FileName: rej.FileName, Reason: rej.Class})
	}

	status := http.StatusCreated
	if len(resp.Rejected) > 0 {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, resp)
}

// readPart читает часть формы, но не больше MaxUploadSize+1 байт:
// превышение лимита обнаружит валидатор.
func (h *FilesHandler) readPart(part *multipart.FileHeader) ([]byte, error) {
	f, err := part.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, h.cfg.MaxUploadSize+1))
}

// writeRejection отвечает на отказ по одному файлу. Детали проверки
// безопасности наружу не передаются.
func writeRejection(w http.ResponseWriter, class service.ReasonClass) {
	switch class {
	case service.ClassTooLarge:
		apierrors.FileTooLarge(w, "Файл превышает допустимый размер")
	case service.ClassWrongType:
		apierrors.UnsupportedType(w, "Тип файла не поддерживается или не соответствует расширению")
	case service.ClassQuota:
		apierrors.QuotaExceeded(w, "Превышена квота хранения")
	case service.ClassSecurityScan:
		apierrors.UploadRejected(w, "Файл отклонён проверкой безопасности")
	default:
		apierrors.InternalError(w, "Не удалось принять файл")
	}
}

// Get обрабатывает GET /api/v1/files/{id}.
func (h *FilesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := fileIDParam(r)
	if !ok {
		apierrors.ValidationError(w, "Некорректный идентификатор файла")
		return
	}

	file, err := h.files.Get(r.Context(), id, callerFromRequest(r, h.cfg.AdminScope))
	if err != nil {
		h.writeFileError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, file.Descriptor(h.cfg.PreviewBaseURL))
}

// Download обрабатывает GET /api/v1/files/{id}/download.
// Range и If-Modified-Since обрабатывает http.ServeContent.
func (h *FilesHandler) Download(w http.ResponseWriter, r *http.Request) {
	id, ok := fileIDParam(r)
	if !ok {
		apierrors.ValidationError(w, "Некорректный идентификатор файла")
		return
	}

	f, file, err := h.files.Open(r.Context(), id, callerFromRequest(r, h.cfg.AdminScope))
	if err != nil {
		h.writeFileError(w, id, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", file.DetectedMIME)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": file.OriginalName,
	}))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	http.ServeContent(w, r, file.StoredName, file.CreatedAt, f)
}

// Thumbnail обрабатывает GET /api/v1/files/{id}/thumbnail.
func (h *FilesHandler) Thumbnail(w http.ResponseWriter, r *http.Request) {
	id, ok := fileIDParam(r)
	if !ok {
		apierrors.ValidationError(w, "Некорректный идентификатор файла")
		return
	}

	f, err := h.files.OpenThumbnail(r.Context(), id, callerFromRequest(r, h.cfg.AdminScope))
	if err != nil {
		h.writeFileError(w, id, err)
		return
	}
	defer f.Close()

	var modTime time.Time
	if info, err := f.Stat(); err == nil {
		modTime = info.ModTime()
	}
	if ct := mime.TypeByExtension(path.Ext(f.Name())); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Cache-Control", "private, max-age=3600")
	http.ServeContent(w, r, path.Base(f.Name()), modTime, f)
}

// Delete обрабатывает DELETE /api/v1/files/{id}: мягкое удаление.
// Доступно владельцу и администратору. Повторный вызов не сдвигает срок.
func (h *FilesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := fileIDParam(r)
	if !ok {
		apierrors.ValidationError(w, "Некорректный идентификатор файла")
		return
	}

	caller := callerFromRequest(r, h.cfg.AdminScope)
	if _, err := h.files.Authorize(r.Context(), id, caller); err != nil {
		h.writeFileError(w, id, err)
		return
	}

	reason := deleteReasonUser
	if caller.IsAdmin {
		reason = deleteReasonAdmin
	}
	file, err := h.lifecycle.MarkForDeletion(r.Context(), id, reason)
	if err != nil {
		h.writeFileError(w, id, err)
		return
	}

	writeJSON(w, http.StatusOK, deletionResponse{
		ID:       file.ID,
		Reason:   file.Deletion.Reason,
		MarkedAt: file.Deletion.MarkedAt,
		PurgeAt:  file.Deletion.PurgeAt,
	})
}

// Restore обрабатывает POST /api/v1/files/{id}/restore.
func (h *FilesHandler) Restore(w http.ResponseWriter, r *http.Request) {
	id, ok := fileIDParam(r)
	if !ok {
		apierrors.ValidationError(w, "Некорректный идентификатор файла")
		return
	}

	if _, err := h.files.Authorize(r.Context(), id, callerFromRequest(r, h.cfg.AdminScope)); err != nil {
		h.writeFileError(w, id, err)
		return
	}

	file, err := h.lifecycle.Restore(r.Context(), id)
	if err != nil {
		h.writeFileError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, file.Descriptor(h.cfg.PreviewBaseURL))
}

// writeFileError сопоставляет ошибку сервиса с HTTP-ответом.
func (h *FilesHandler) writeFileError(w http.ResponseWriter, id string, err error) {
	switch {
	case errors.Is(err, service.ErrFileNotFound), errors.Is(err, lifecycle.ErrFileNotFound):
		apierrors.NotFound(w, fmt.Sprintf("Файл %s не найден", id))
	case errors.Is(err, service.ErrForbidden):
		apierrors.Forbidden(w, "Недостаточно прав для операции с файлом")
	case errors.Is(err, service.ErrThumbnailNotReady):
		apierrors.ThumbnailNotReady(w, "Превью ещё не готово")
	case errors.Is(err, lifecycle.ErrNotMarked):
		apierrors.NotMarked(w, fmt.Sprintf("Файл %s не помечен на удаление", id))
	case errors.Is(err, lifecycle.ErrRecoveryWindowClosed):
		apierrors.RecoveryWindowClosed(w, "Окно восстановления истекло")
	default:
		h.logger.Error("Ошибка обработки запроса к файлу",
			slog.String("file_id", id),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка")
	}
}
