package thumbnail

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/bigkaa/goartstore/ingest-module/internal/domain/model"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/layout"
)

// IconKind — вид иконки-заглушки для файлов без графического превью.
type IconKind string

const (
	IconDocument IconKind = "document"
	IconVideo    IconKind = "video"
	IconAudio    IconKind = "audio"
	IconArchive  IconKind = "archive"
	IconCode     IconKind = "code"
	IconDefault  IconKind = "default"
)

// iconCanvas — сторона исходного холста иконки; затем масштабируется до size.
const iconCanvas = 48

// iconStyles — цвет фона и подпись каждой иконки.
var iconStyles = map[IconKind]struct {
	bg    color.NRGBA
	label string
}{
	IconDocument: {color.NRGBA{R: 0x3B, G: 0x82, B: 0xF6, A: 0xFF}, "DOC"},
	IconVideo:    {color.NRGBA{R: 0xEF, G: 0x44, B: 0x44, A: 0xFF}, "VID"},
	IconAudio:    {color.NRGBA{R: 0x8B, G: 0x5C, B: 0xF6, A: 0xFF}, "AUD"},
	IconArchive:  {color.NRGBA{R: 0xF5, G: 0x9E, B: 0x0B, A: 0xFF}, "ZIP"},
	IconCode:     {color.NRGBA{R: 0x10, G: 0xB9, B: 0x81, A: 0xFF}, "</>"},
	IconDefault:  {color.NRGBA{R: 0x6B, G: 0x72, B: 0x80, A: 0xFF}, "FILE"},
}

// AllIcons возвращает все виды иконок.
func AllIcons() []IconKind {
	return []IconKind{IconDocument, IconVideo, IconAudio, IconArchive, IconCode, IconDefault}
}

// KindFor выбирает иконку по MIME-типу и категории.
func KindFor(mime string, category model.Category) IconKind {
	switch {
	case strings.Contains(mime, "zip"), strings.Contains(mime, "compressed"),
		strings.Contains(mime, "x-tar"), strings.Contains(mime, "x-7z"), strings.Contains(mime, "x-rar"):
		return IconArchive
	case strings.Contains(mime, "json"), strings.Contains(mime, "javascript"),
		strings.Contains(mime, "xml"), mime == "text/html", mime == "text/x-go":
		return IconCode
	}

	switch category {
	case model.CategoryVideo:
		return IconVideo
	case model.CategoryAudio:
		return IconAudio
	case model.CategoryDocument:
		return IconDocument
	default:
		return IconDefault
	}
}

// Icons — набор иконок в icons/.
type Icons struct {
	layout *layout.Layout
	size   int
	logger *slog.Logger
}

// NewIcons создаёт набор иконок размера size×size.
func NewIcons(l *layout.Layout, size int, logger *slog.Logger) *Icons {
	return &Icons{
		layout: l,
		size:   size,
		logger: logger.With(slog.String("component", "thumbnail_icons")),
	}
}

// Path — относительный путь иконки.
func (i *Icons) Path(kind IconKind) string {
	return i.layout.IconPath(string(kind))
}

// EnsureGenerated создаёт отсутствующие иконки. Существующие не перезаписываются.
func (i *Icons) EnsureGenerated() error {
	generated := 0
	for _, kind := range AllIcons() {
		path := i.layout.Abs(i.Path(kind))
		if _, err := os.Stat(path); err == nil {
			continue
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("ошибка проверки иконки %s: %w", kind, err)
		}

		if err := i.generate(kind, path); err != nil {
			return err
		}
		generated++
	}

	if generated > 0 {
		i.logger.Info("Иконки категорий сгенерированы", slog.Int("count", generated))
	}
	return nil
}

// generate рисует цветной квадрат с подписью и сохраняет PNG.
func (i *Icons) generate(kind IconKind, path string) error {
	style := iconStyles[kind]

	canvas := imaging.New(iconCanvas, iconCanvas, style.bg)
	d := &font.Drawer{
		Dst:  canvas,
		Src:  image.NewUniform(color.White),
		Face: basicfont.Face7x13,
	}
	textWidth := d.MeasureString(style.label).Round()
	d.Dot = fixed.P((iconCanvas-textWidth)/2, iconCanvas/2+basicfont.Face7x13.Ascent/2)
	d.DrawString(style.label)

	icon := imaging.Resize(canvas, i.size, i.size, imaging.NearestNeighbor)

	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("ошибка сохранения иконки %s: %w", kind, err)
	}
	if err := imaging.Encode(f, icon, imaging.PNG); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка кодирования иконки %s: %w", kind, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка сохранения иконки %s: %w", kind, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка сохранения иконки %s: %w", kind, err)
	}
	return nil
}
