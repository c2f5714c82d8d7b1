package model

import (
	"testing"
	"time"

	"github.com/bigkaa/goartstore/ingest-module/internal/domain/scanstatus"
)

func TestCategoryFromMIME(t *testing.T) {
	tests := map[string]Category{
		"image/png":       CategoryImage,
		"video/mp4":       CategoryVideo,
		"audio/mpeg":      CategoryAudio,
		"application/pdf": CategoryDocument,
		"text/plain":      CategoryDocument,
	}
	for mime, want := range tests {
		if got := CategoryFromMIME(mime); got != want {
			t.Errorf("CategoryFromMIME(%q) = %q, хотели %q", mime, got, want)
		}
	}
}

func TestPurgeDue(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	tests := []struct {
		name string
		file StoredFile
		want bool
	}{
		{"без срока и пометки", StoredFile{}, false},
		{"срок истёк", StoredFile{ExpiresAt: &past}, true},
		{"срок не истёк", StoredFile{ExpiresAt: &future}, false},
		{"окно восстановления открыто", StoredFile{Deletion: &DeletionInfo{PurgeAt: future}}, false},
		{"окно восстановления закрыто", StoredFile{Deletion: &DeletionInfo{PurgeAt: past}}, true},
		{"ровно на границе", StoredFile{Deletion: &DeletionInfo{PurgeAt: now}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.file.PurgeDue(now); got != tt.want {
				t.Errorf("PurgeDue = %v, хотели %v", got, tt.want)
			}
		})
	}
}

func TestCanBeDownloadedBy(t *testing.T) {
	clean := &StoredFile{ScanStatus: scanstatus.Clean}
	marked := &StoredFile{ScanStatus: scanstatus.Clean, Deletion: &DeletionInfo{Reason: "user"}}
	infected := &StoredFile{ScanStatus: scanstatus.Infected}

	if !clean.CanBeDownloadedBy("u1", false) {
		t.Error("clean-файл должен быть доступен пользователю")
	}
	if marked.CanBeDownloadedBy("u1", false) {
		t.Error("помеченный на удаление файл не должен отдаваться пользователю")
	}
	if !marked.CanBeDownloadedBy("admin", true) {
		t.Error("администратор должен видеть помеченный clean-файл")
	}
	if infected.CanBeDownloadedBy("admin", true) {
		t.Error("не-clean файл не должен отдаваться никому")
	}
}

func TestDescriptor(t *testing.T) {
	f := &StoredFile{
		ID:           "f1",
		StoredName:   "1700000000000_abcd1234_photo.jpg",
		OriginalName: "photo.jpg",
		DetectedMIME: "image/jpeg",
		Size:         42,
		Category:     CategoryImage,
		ScanStatus:   scanstatus.Clean,
	}

	d := f.Descriptor("/api/v1/files/")
	if d.PreviewURL != nil {
		t.Errorf("previewUrl до генерации превью: %s", *d.PreviewURL)
	}
	if d.MIMEType != "image/jpeg" || d.StoredFilename != f.StoredName {
		t.Errorf("неверное описание: %+v", d)
	}

	thumb := "thumbnails/f1_thumb.jpg"
	f.ThumbnailPath = &thumb
	d = f.Descriptor("/api/v1/files/")
	if d.PreviewURL == nil || *d.PreviewURL != "/api/v1/files/f1/thumbnail" {
		t.Errorf("previewUrl: %v", d.PreviewURL)
	}
}
