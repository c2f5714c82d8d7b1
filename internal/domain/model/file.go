// Пакет model — доменные модели Ingest Module.
// StoredFile — принятый файл, прошедший проверку и записанный на диск.
// QuarantineEntry — отклонённый файл, перемещённый в карантин.
package model

import (
	"strings"
	"time"

	"github.com/bigkaa/goartstore/ingest-module/internal/domain/scanstatus"
)

// Category — категория содержимого файла.
type Category string

const (
	CategoryImage    Category = "image"
	CategoryVideo    Category = "video"
	CategoryAudio    Category = "audio"
	CategoryDocument Category = "document"
)

// CategoryFromMIME определяет категорию по MIME-типу.
// Всё, что не image/video/audio, считается документом.
func CategoryFromMIME(mime string) Category {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return CategoryImage
	case strings.HasPrefix(mime, "video/"):
		return CategoryVideo
	case strings.HasPrefix(mime, "audio/"):
		return CategoryAudio
	default:
		return CategoryDocument
	}
}

// Dimensions — размеры изображения в пикселях.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// DeletionInfo — метаданные мягкого удаления.
type DeletionInfo struct {
	// Reason — причина удаления
	Reason string `json:"reason"`
	// MarkedAt — момент пометки
	MarkedAt time.Time `json:"marked_at"`
	// PurgeAt — момент фактического удаления (конец окна восстановления)
	PurgeAt time.Time `json:"purge_at"`
}

// StoredFile — запись о принятом файле.
type StoredFile struct {
	// ID — UUID v4
	ID string `json:"id"`
	// StoredName — сгенерированное безопасное имя файла на диске
	StoredName string `json:"stored_name"`
	// OriginalName — имя файла, указанное при загрузке
	OriginalName string `json:"original_name"`
	// DeclaredMIME — MIME-тип, заявленный клиентом
	DeclaredMIME string `json:"declared_mime"`
	// DetectedMIME — MIME-тип, определённый по содержимому
	DetectedMIME string `json:"detected_mime"`
	// Size — размер в байтах
	Size int64 `json:"size"`
	// Category — категория содержимого
	Category Category `json:"category"`
	// Dimensions — размеры изображения (только для image)
	Dimensions *Dimensions `json:"dimensions,omitempty"`
	// UploaderID — идентификатор загрузившего (sub из JWT)
	UploaderID string `json:"uploader_id"`
	// AssociationID — ссылка на родительскую сущность (беседа, сообщение)
	AssociationID *string `json:"association_id,omitempty"`
	// DownloadCount — количество скачиваний
	DownloadCount int64 `json:"download_count"`
	// ScanStatus — статус антивирусной проверки
	ScanStatus scanstatus.Status `json:"scan_status"`
	// ScanResult — диагностика проверки (аннотации, длительность)
	ScanResult map[string]any `json:"scan_result,omitempty"`
	// ExpiresAt — явный срок жизни файла
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	// ThumbnailPath — путь превью относительно корня хранилища
	ThumbnailPath *string `json:"thumbnail_path,omitempty"`
	// StoragePath — путь файла относительно корня хранилища
	StoragePath string `json:"storage_path"`
	// Deletion — метаданные мягкого удаления (nil — файл не помечен)
	Deletion *DeletionInfo `json:"deletion,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsMarkedForDeletion возвращает true, если файл помечен на удаление.
func (f *StoredFile) IsMarkedForDeletion() bool {
	return f.Deletion != nil
}

// IsExpired проверяет, истёк ли явный срок жизни файла.
func (f *StoredFile) IsExpired(now time.Time) bool {
	if f.ExpiresAt == nil {
		return false
	}
	return !now.Before(*f.ExpiresAt)
}

// PurgeDue возвращает true, если файл подлежит физическому удалению:
// истёк срок жизни или закрылось окно восстановления.
func (f *StoredFile) PurgeDue(now time.Time) bool {
	if f.IsExpired(now) {
		return true
	}
	return f.Deletion != nil && !now.Before(f.Deletion.PurgeAt)
}

// IsVisible — файл участвует в обычной выдаче: проверка пройдена,
// файл не помечен на удаление.
func (f *StoredFile) IsVisible() bool {
	return f.ScanStatus == scanstatus.Clean && f.Deletion == nil
}

// CanBeDownloadedBy проверяет право скачивания.
// Обычный пользователь получает только видимые clean-файлы.
// Администратор может читать любой clean-файл, в том числе помеченный на удаление.
func (f *StoredFile) CanBeDownloadedBy(userID string, isAdmin bool) bool {
	if f.ScanStatus != scanstatus.Clean {
		return false
	}
	if isAdmin {
		return true
	}
	return userID != "" && f.Deletion == nil
}

// FileDescriptor — описание принятого файла, возвращаемое вызывающей стороне.
type FileDescriptor struct {
	ID               string            `json:"id"`
	StoredFilename   string            `json:"storedFilename"`
	OriginalFilename string            `json:"originalFilename"`
	Size             int64             `json:"size"`
	MIMEType         string            `json:"mimeType"`
	Category         Category          `json:"category"`
	Dimensions       *Dimensions       `json:"dimensions,omitempty"`
	ScanStatus       scanstatus.Status `json:"scanStatus"`
	PreviewURL       *string           `json:"previewUrl,omitempty"`
	ExpiresAt        *time.Time        `json:"expiresAt,omitempty"`
}

// Descriptor строит описание файла. previewUrl указывается, только если
// превью уже сгенерировано: <previewBaseURL>/<id>/thumbnail.
func (f *StoredFile) Descriptor(previewBaseURL string) FileDescriptor {
	d := FileDescriptor{
		ID:               f.ID,
		StoredFilename:   f.StoredName,
		OriginalFilename: f.OriginalName,
		Size:             f.Size,
		MIMEType:         f.DetectedMIME,
		Category:         f.Category,
		Dimensions:       f.Dimensions,
		ScanStatus:       f.ScanStatus,
		ExpiresAt:        f.ExpiresAt,
	}
	if f.ThumbnailPath != nil && *f.ThumbnailPath != "" {
		u := strings.TrimRight(previewBaseURL, "/") + "/" + f.ID + "/thumbnail"
		d.PreviewURL = &u
	}
	return d
}
