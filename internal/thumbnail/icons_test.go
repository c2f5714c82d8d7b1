package thumbnail

import (
	"os"
	"testing"
	"time"

	"github.com/disintegration/imaging"

	"github.com/bigkaa/goartstore/ingest-module/internal/domain/model"
)

func TestKindFor(t *testing.T) {
	tests := []struct {
		mime     string
		category model.Category
		want     IconKind
	}{
		{"application/pdf", model.CategoryDocument, IconDocument},
		{"application/zip", model.CategoryDocument, IconArchive},
		{"application/x-7z-compressed", model.CategoryDocument, IconArchive},
		{"application/json", model.CategoryDocument, IconCode},
		{"video/webm", model.CategoryVideo, IconVideo},
		{"audio/ogg", model.CategoryAudio, IconAudio},
		{"image/png", model.CategoryImage, IconDefault},
	}

	for _, tt := range tests {
		if got := KindFor(tt.mime, tt.category); got != tt.want {
			t.Errorf("KindFor(%s): хотели %s, получили %s", tt.mime, tt.want, got)
		}
	}
}

func TestIcons_EnsureGenerated(t *testing.T) {
	env := newTestEnv(t, 1)

	for _, kind := range AllIcons() {
		img, err := imaging.Open(env.layout.Abs(env.icons.Path(kind)))
		if err != nil {
			t.Fatalf("иконка %s не создана: %v", kind, err)
		}
		if b := img.Bounds(); b.Dx() != 64 || b.Dy() != 64 {
			t.Errorf("иконка %s: размер %dx%d", kind, b.Dx(), b.Dy())
		}
	}

	// Существующие иконки не перезаписываются
	path := env.layout.Abs(env.icons.Path(IconVideo))
	old := time.Now().Add(-time.Hour).Truncate(time.Second)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatal(err)
	}
	if err := env.icons.EnsureGenerated(); err != nil {
		t.Fatalf("повторный EnsureGenerated: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if !info.ModTime().Equal(old) {
		t.Error("существующая иконка была перезаписана")
	}
}
