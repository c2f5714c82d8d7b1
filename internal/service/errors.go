package service

import (
	"errors"
	"fmt"

	"github.com/bigkaa/goartstore/ingest-module/internal/domain/model"
	"github.com/bigkaa/goartstore/ingest-module/internal/validator"
)

// Ошибки сервиса файлов.
var (
	// ErrFileNotFound — файл не существует или недоступен вызывающему
	ErrFileNotFound = errors.New("файл не найден")
	// ErrForbidden — операция над чужим файлом
	ErrForbidden = errors.New("недостаточно прав для операции с файлом")
	// ErrThumbnailNotReady — превью ещё не сгенерировано
	ErrThumbnailNotReady = errors.New("превью ещё не готово")
)

// ReasonClass — класс отказа, видимый вызывающей стороне.
// Имена угроз и внутренние детали наружу не передаются.
type ReasonClass string

const (
	ClassTooLarge     ReasonClass = "too_large"
	ClassWrongType    ReasonClass = "wrong_type"
	ClassQuota        ReasonClass = "quota_exceeded"
	ClassSecurityScan ReasonClass = "security_scan"
	ClassInternal     ReasonClass = "internal"
)

// RejectionError — файл отклонён проверкой безопасности и перемещён в карантин.
type RejectionError struct {
	// Reason — причина карантина (для журналов и метрик)
	Reason model.QuarantineReason
	// FileID — идентификатор, под которым файл записан в журнал карантина
	FileID  string
	Message string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("файл %s отклонён проверкой безопасности: %s", e.FileID, e.Reason)
}

// StorageError — сбой файловой системы на пути загрузки.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("ошибка хранилища (%s): %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// QuotaError — загрузка превысит квоту пользователя.
type QuotaError struct {
	UploaderID string
	Used       int64
	Size       int64
	Quota      int64
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("квота пользователя %s превышена: занято %d, файл %d, квота %d",
		e.UploaderID, e.Used, e.Size, e.Quota)
}

// Classify сводит ошибку загрузки к классу отказа.
func Classify(err error) ReasonClass {
	var (
		rej   *RejectionError
		quota *QuotaError
	)
	switch {
	case errors.Is(err, validator.ErrSizeExceeded):
		return ClassTooLarge
	case errors.Is(err, validator.ErrUnsupportedType), errors.Is(err, validator.ErrTypeMismatch):
		return ClassWrongType
	case errors.As(err, &quota):
		return ClassQuota
	case errors.As(err, &rej):
		return ClassSecurityScan
	default:
		return ClassInternal
	}
}
