// Пакет errors — ошибки HTTP API Ingest Module.
// Единый формат: {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors //nolint:revive // конфликт имени со stdlib, пакет импортируется как apierrors

import (
	"encoding/json"
	"net/http"
)

// Коды ошибок.
const (
	CodeValidationError      = "VALIDATION_ERROR"
	CodeNotFound             = "NOT_FOUND"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeForbidden            = "FORBIDDEN"
	CodeFileTooLarge         = "FILE_TOO_LARGE"
	CodeUnsupportedType      = "UNSUPPORTED_TYPE"
	CodeQuotaExceeded        = "QUOTA_EXCEEDED"
	CodeUploadRejected       = "UPLOAD_REJECTED"
	CodeThumbnailNotReady    = "THUMBNAIL_NOT_READY"
	CodeNotMarked            = "NOT_MARKED_FOR_DELETION"
	CodeRecoveryWindowClosed = "RECOVERY_WINDOW_CLOSED"
	CodeJobInProgress        = "JOB_IN_PROGRESS"
	CodeInternalError        = "INTERNAL_ERROR"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки в стандартном формате.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden — 403 недостаточно прав.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// FileTooLarge — 413 файл превышает лимит.
func FileTooLarge(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusRequestEntityTooLarge, CodeFileTooLarge, message)
}

// UnsupportedType — 415 тип файла не поддерживается или не совпадает с расширением.
func UnsupportedType(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnsupportedMediaType, CodeUnsupportedType, message)
}

// QuotaExceeded — 413 загрузка превысит квоту пользователя.
func QuotaExceeded(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusRequestEntityTooLarge, CodeQuotaExceeded, message)
}

// UploadRejected — 422 файл отклонён проверкой безопасности.
func UploadRejected(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnprocessableEntity, CodeUploadRejected, message)
}

// ThumbnailNotReady — 404 превью ещё не сгенерировано.
func ThumbnailNotReady(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeThumbnailNotReady, message)
}

// NotMarked — 409 файл не помечен на удаление.
func NotMarked(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeNotMarked, message)
}

// RecoveryWindowClosed — 410 окно восстановления истекло.
func RecoveryWindowClosed(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusGone, CodeRecoveryWindowClosed, message)
}

// JobInProgress — 409 задача уже выполняется.
func JobInProgress(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeJobInProgress, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
