package model

import "time"

// QuarantineReason — причина помещения файла в карантин.
type QuarantineReason string

const (
	ReasonInfected         QuarantineReason = "infected"
	ReasonScanTimeout      QuarantineReason = "scan-timeout"
	ReasonScanError        QuarantineReason = "scan-error"
	ReasonOversizedArchive QuarantineReason = "oversized-archive"
)

// QuarantineEntry — запись о файле в карантине.
// Хранится построчно в quarantine/quarantine_log.json.
type QuarantineEntry struct {
	// ID — UUID записи
	ID string `json:"id"`
	// FileID — идентификатор, выданный файлу при загрузке
	FileID string `json:"file_id"`
	// UploaderID — кто загрузил файл
	UploaderID string `json:"uploader_id"`
	// OriginalName — имя файла при загрузке
	OriginalName string `json:"original_name"`
	// DeclaredMIME — заявленный MIME-тип
	DeclaredMIME string `json:"declared_mime"`
	// Size — размер в байтах
	Size int64 `json:"size"`
	// OriginalPath — путь, по которому файл был записан до карантина
	OriginalPath string `json:"original_path"`
	// QuarantinedPath — путь файла в карантине; пусто, если перенос не удался
	QuarantinedPath string `json:"quarantined_path"`
	// HeldPath — куда переименован файл, который не удалось поместить в карантин.
	// Очистка сирот такие файлы не трогает.
	HeldPath string `json:"held_path,omitempty"`
	// Threats — имена обнаруженных угроз
	Threats []string `json:"threats,omitempty"`
	// Reason — причина
	Reason QuarantineReason `json:"reason"`
	// Detail — диагностика движка проверки
	Detail string `json:"detail,omitempty"`
	// QuarantinedAt — момент помещения в карантин
	QuarantinedAt time.Time `json:"quarantined_at"`
}
