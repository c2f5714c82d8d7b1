package thumbnail

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	// Регистрация декодера WebP для imaging.Open
	_ "golang.org/x/image/webp"
)

// Renderer строит квадратные JPEG-превью с обрезкой по центру.
type Renderer struct {
	size    int
	quality int
}

// NewRenderer создаёт Renderer: size — сторона превью, quality — качество JPEG.
func NewRenderer(size, quality int) *Renderer {
	return &Renderer{size: size, quality: quality}
}

// Render декодирует src, обрезает по центру до size×size и атомарно
// записывает JPEG в dst (temp файл → fsync → rename).
func (r *Renderer) Render(src, dst string) error {
	img, err := imaging.Open(src, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("Renderer - Render - imaging.Open: %w", err)
	}

	thumb := imaging.Fill(img, r.size, r.size, imaging.Center, imaging.Lanczos)

	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return fmt.Errorf("Renderer - Render - MkdirAll: %w", err)
	}

	tmpPath := dst + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("Renderer - Render - Create: %w", err)
	}

	if err := imaging.Encode(f, thumb, imaging.JPEG, imaging.JPEGQuality(r.quality)); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("Renderer - Render - imaging.Encode: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("Renderer - Render - Sync: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("Renderer - Render - Close: %w", err)
	}

	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("Renderer - Render - Rename: %w", err)
	}
	return nil
}
