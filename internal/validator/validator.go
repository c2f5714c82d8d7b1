// Пакет validator — проверка содержимого загружаемых файлов.
//
// Порядок проверок: размер → сигнатура содержимого → allow-list →
// расширение заявленного имени. Заявленному MIME-типу никогда не доверяем:
// расхождение заявленного и обнаруженного типа только логируется.
package validator

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/bigkaa/goartstore/ingest-module/internal/domain/model"
)

// DefaultAllowed — типы, принимаемые по умолчанию.
var DefaultAllowed = []string{
	MIMEJPEG, MIMEPNG, MIMEGIF, MIMEWebP,
	MIMEPDF, MIMEMSWord, MIMEDocx, MIMEMSExcel, MIMEXlsx, MIMEText, MIMECSV,
	MIMEMP4, MIMEQuickTime, MIMEAVI, MIMEWMV, MIMEWebM,
	MIMEMP3, MIMEWAV, MIMEOgg, MIMEM4A,
}

// extensions — канонические расширения для каждого типа.
var extensions = map[string][]string{
	MIMEJPEG:      {".jpg", ".jpeg"},
	MIMEPNG:       {".png"},
	MIMEGIF:       {".gif"},
	MIMEWebP:      {".webp"},
	MIMEPDF:       {".pdf"},
	MIMEMSWord:    {".doc"},
	MIMEDocx:      {".docx"},
	MIMEMSExcel:   {".xls"},
	MIMEXlsx:      {".xlsx"},
	MIMEText:      {".txt", ".text", ".log", ".md"},
	MIMECSV:       {".csv"},
	MIMEMP4:       {".mp4", ".m4v"},
	MIMEQuickTime: {".mov", ".qt"},
	MIMEAVI:       {".avi"},
	MIMEWMV:       {".wmv"},
	MIMEWebM:      {".webm"},
	MIMEMP3:       {".mp3"},
	MIMEWAV:       {".wav"},
	MIMEOgg:       {".ogg", ".oga"},
	MIMEM4A:       {".m4a"},
}

// Extensions возвращает канонические расширения типа.
func Extensions(mime string) []string {
	return extensions[mime]
}

// Result — результат успешной проверки.
type Result struct {
	// DetectedMIME — тип, определённый по содержимому
	DetectedMIME string
	// Extension — расширение заявленного имени (в нижнем регистре)
	Extension string
	// Category — категория содержимого
	Category model.Category
}

// Validator — проверка загружаемых файлов.
type Validator struct {
	maxSize int64
	allowed map[string]bool
	logger  *slog.Logger
	// inspections — количество выполненных проверок сигнатуры
	inspections atomic.Int64
}

// New создаёт Validator. Пустой allowed — DefaultAllowed.
func New(maxSize int64, allowed []string, logger *slog.Logger) *Validator {
	if len(allowed) == 0 {
		allowed = DefaultAllowed
	}
	set := make(map[string]bool, len(allowed))
	for _, m := range allowed {
		set[strings.ToLower(strings.TrimSpace(m))] = true
	}
	return &Validator{
		maxSize: maxSize,
		allowed: set,
		logger:  logger.With(slog.String("component", "validator")),
	}
}

// MaxSize возвращает предел размера файла.
func (v *Validator) MaxSize() int64 {
	return v.maxSize
}

// Inspections возвращает число проверок сигнатуры с момента создания.
func (v *Validator) Inspections() int64 {
	return v.inspections.Load()
}

// Validate проверяет буфер. Ошибки — *Error одного из классов Kind.
func (v *Validator) Validate(buf []byte, declaredName, declaredMIME string) (Result, error) {
	if int64(len(buf)) > v.maxSize {
		return Result{}, &Error{
			Kind:    KindSizeExceeded,
			Message: fmt.Sprintf("размер %d превышает допустимый %d", len(buf), v.maxSize),
		}
	}

	ext := strings.ToLower(filepath.Ext(declaredName))

	v.inspections.Add(1)
	detected := Detect(buf, ext)
	if detected == "" {
		return Result{}, &Error{
			Kind:    KindUnsupportedType,
			Message: "не удалось определить тип по содержимому",
		}
	}

	if !v.allowed[detected] {
		return Result{}, &Error{
			Kind:         KindTypeNotAllowed,
			Message:      fmt.Sprintf("тип %s не разрешён", detected),
			DetectedMIME: detected,
		}
	}

	if !hasExtension(detected, ext) {
		return Result{}, &Error{
			Kind:         KindTypeMismatch,
			Message:      fmt.Sprintf("расширение %q не соответствует типу %s", ext, detected),
			DetectedMIME: detected,
		}
	}

	if declared := normalizeMIME(declaredMIME); declared != detected {
		v.logger.Warn("Заявленный MIME-тип не совпадает с содержимым",
			slog.String("declared", declared),
			slog.String("detected", detected),
			slog.String("filename", declaredName),
		)
	}

	return Result{
		DetectedMIME: detected,
		Extension:    ext,
		Category:     model.CategoryFromMIME(detected),
	}, nil
}

// hasExtension — ext входит в канонический набор типа.
// Типы без набора расширений не проверяются.
func hasExtension(mime, ext string) bool {
	exts, ok := extensions[mime]
	if !ok {
		return true
	}
	for _, e := range exts {
		if e == ext {
			return true
		}
	}
	return false
}

// normalizeMIME отбрасывает параметры (charset и т.п.) и приводит к нижнему регистру.
func normalizeMIME(mime string) string {
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	return strings.ToLower(strings.TrimSpace(mime))
}
