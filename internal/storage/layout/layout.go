// Пакет layout — структура директорий корня хранилища.
//
//	<root>/files/images    принятые изображения
//	<root>/files/generic   остальные принятые файлы
//	<root>/thumbnails      превью (<fileID>_thumb.jpg)
//	<root>/quarantine      отклонённые файлы + quarantine_log.json
//	<root>/temp            временные файлы без гарантий сохранности
//	<root>/icons           иконки категорий
//
// В БД хранятся пути относительно корня.
package layout

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bigkaa/goartstore/ingest-module/internal/domain/model"
)

// Имена директорий относительно корня.
const (
	FilesDir      = "files"
	ImagesDir     = "files/images"
	GenericDir    = "files/generic"
	ThumbnailsDir = "thumbnails"
	QuarantineDir = "quarantine"
	TempDir       = "temp"
	IconsDir      = "icons"

	// QuarantineLogName — журнал карантина (JSON Lines).
	QuarantineLogName = "quarantine_log.json"
	// ThumbnailSuffix — суффикс файла превью.
	ThumbnailSuffix = "_thumb.jpg"
	// HeldSuffix — отклонённый файл, который не удалось перенести в карантин.
	// Такие файлы не считаются сиротами и ждут ручного разбора.
	HeldSuffix = ".held"
)

// Layout — корень хранилища.
type Layout struct {
	root string
}

// New создаёт Layout. Корень приводится к абсолютному пути.
func New(root string) (*Layout, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("некорректный корень хранилища %s: %w", root, err)
	}
	return &Layout{root: abs}, nil
}

// Initialize создаёт все директории. Повторный вызов безопасен.
func (l *Layout) Initialize() error {
	for _, dir := range []string{ImagesDir, GenericDir, ThumbnailsDir, QuarantineDir, TempDir, IconsDir} {
		if err := os.MkdirAll(l.Abs(dir), 0o750); err != nil {
			return fmt.Errorf("не удалось создать директорию %s: %w", dir, err)
		}
	}
	return nil
}

// Root возвращает абсолютный путь корня.
func (l *Layout) Root() string {
	return l.root
}

// Abs преобразует путь относительно корня в абсолютный.
func (l *Layout) Abs(rel string) string {
	return filepath.Join(l.root, filepath.FromSlash(rel))
}

// Rel преобразует абсолютный путь в путь относительно корня (с прямыми слэшами).
// Пути за пределами корня возвращают ошибку.
func (l *Layout) Rel(abs string) (string, error) {
	rel, err := filepath.Rel(l.root, abs)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("путь %s вне корня хранилища", abs)
	}
	return filepath.ToSlash(rel), nil
}

// FilesDir возвращает директорию для категории: изображения отдельно,
// всё остальное в generic.
func (l *Layout) FilesDir(category model.Category) string {
	if category == model.CategoryImage {
		return ImagesDir
	}
	return GenericDir
}

// ThumbnailPath — относительный путь превью файла.
func (l *Layout) ThumbnailPath(fileID string) string {
	return ThumbnailsDir + "/" + fileID + ThumbnailSuffix
}

// QuarantinePath — относительный путь файла в карантине.
func (l *Layout) QuarantinePath(fileID, storedName string) string {
	return QuarantineDir + "/" + fileID + "_" + storedName
}

// HeldPath — путь удержания отклонённого файла рядом с исходным.
func (l *Layout) HeldPath(rel string) string {
	return rel + HeldSuffix
}

// IsHeld возвращает true для удержанных файлов.
func IsHeld(rel string) bool {
	return strings.HasSuffix(rel, HeldSuffix)
}

// QuarantineLogPath — абсолютный путь журнала карантина.
func (l *Layout) QuarantineLogPath() string {
	return l.Abs(QuarantineDir + "/" + QuarantineLogName)
}

// IconPath — относительный путь иконки категории.
func (l *Layout) IconPath(name string) string {
	return IconsDir + "/" + name + ".png"
}

// IsIcon возвращает true для путей внутри icons/.
func IsIcon(rel string) bool {
	return strings.HasPrefix(rel, IconsDir+"/")
}

// FileIDFromThumbnail извлекает идентификатор файла из имени превью.
func FileIDFromThumbnail(name string) (string, bool) {
	if !strings.HasSuffix(name, ThumbnailSuffix) {
		return "", false
	}
	id := strings.TrimSuffix(name, ThumbnailSuffix)
	return id, id != ""
}
