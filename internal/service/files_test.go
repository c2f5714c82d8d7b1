package service

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/ingest-module/internal/domain/model"
	"github.com/bigkaa/goartstore/ingest-module/internal/domain/scanstatus"
)

// seedFile записывает файл на диск и создаёт запись о нём.
func seedFile(t *testing.T, env *ingestEnv, mutate func(f *model.StoredFile)) *model.StoredFile {
	t.Helper()
	rel, err := env.store.Save("files/generic", uuid.NewString()+".txt", []byte("содержимое"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	f := &model.StoredFile{
		ID:           uuid.NewString(),
		StoredName:   "x.txt",
		OriginalName: "x.txt",
		DetectedMIME: "text/plain",
		Size:         int64(len("содержимое")),
		Category:     model.CategoryDocument,
		UploaderID:   "user-1",
		ScanStatus:   scanstatus.Clean,
		StoragePath:  rel,
		CreatedAt:    time.Now().UTC(),
	}
	if mutate != nil {
		mutate(f)
	}
	env.repo.Put(f)
	return f
}

func TestFileService_Get(t *testing.T) {
	env := newIngestEnv(t, IngestConfig{})
	svc := NewFileService(env.repo, env.store, testLogger())

	visible := seedFile(t, env, nil)
	marked := seedFile(t, env, func(f *model.StoredFile) {
		f.Deletion = &model.DeletionInfo{Reason: "user", MarkedAt: time.Now(), PurgeAt: time.Now().Add(time.Hour)}
	})

	user := Caller{UserID: "user-2"}
	admin := Caller{UserID: "admin", IsAdmin: true}

	if _, err := svc.Get(context.Background(), visible.ID, user); err != nil {
		t.Errorf("видимый файл: %v", err)
	}
	if _, err := svc.Get(context.Background(), marked.ID, user); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("помеченный файл для пользователя: хотели ErrFileNotFound, получили %v", err)
	}
	if _, err := svc.Get(context.Background(), marked.ID, admin); err != nil {
		t.Errorf("помеченный файл для администратора: %v", err)
	}
	if _, err := svc.Get(context.Background(), uuid.NewString(), admin); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("несуществующий файл: %v", err)
	}
	if _, err := svc.Get(context.Background(), visible.ID, Caller{}); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("анонимный вызов: %v", err)
	}
}

func TestFileService_OpenIncrementsDownloads(t *testing.T) {
	env := newIngestEnv(t, IngestConfig{})
	svc := NewFileService(env.repo, env.store, testLogger())
	file := seedFile(t, env, nil)

	f, rec, err := svc.Open(context.Background(), file.ID, Caller{UserID: "user-1"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil || string(data) != "содержимое" {
		t.Errorf("содержимое: %q, %v", data, err)
	}
	if rec.DownloadCount != 1 {
		t.Errorf("DownloadCount: хотели 1, получили %d", rec.DownloadCount)
	}
}

func TestFileService_OpenMissingBytes(t *testing.T) {
	env := newIngestEnv(t, IngestConfig{})
	svc := NewFileService(env.repo, env.store, testLogger())
	file := seedFile(t, env, nil)
	if err := env.store.Delete(file.StoragePath); err != nil {
		t.Fatal(err)
	}

	if _, _, err := svc.Open(context.Background(), file.ID, Caller{UserID: "user-1"}); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("хотели ErrFileNotFound, получили %v", err)
	}
}

func TestFileService_OpenThumbnail(t *testing.T) {
	env := newIngestEnv(t, IngestConfig{})
	svc := NewFileService(env.repo, env.store, testLogger())

	pending := seedFile(t, env, nil)
	if _, err := svc.OpenThumbnail(context.Background(), pending.ID, Caller{UserID: "u"}); !errors.Is(err, ErrThumbnailNotReady) {
		t.Errorf("хотели ErrThumbnailNotReady, получили %v", err)
	}

	thumbRel, err := env.store.Save("thumbnails", pending.ID+"_thumb.jpg", []byte("jpeg"))
	if err != nil {
		t.Fatal(err)
	}
	ready := seedFile(t, env, func(f *model.StoredFile) { f.ThumbnailPath = &thumbRel })

	f, err := svc.OpenThumbnail(context.Background(), ready.ID, Caller{UserID: "u"})
	if err != nil {
		t.Fatalf("OpenThumbnail: %v", err)
	}
	f.Close()
}

func TestFileService_Authorize(t *testing.T) {
	env := newIngestEnv(t, IngestConfig{})
	svc := NewFileService(env.repo, env.store, testLogger())

	owned := seedFile(t, env, nil)
	marked := seedFile(t, env, func(f *model.StoredFile) {
		f.Deletion = &model.DeletionInfo{Reason: "user", MarkedAt: time.Now(), PurgeAt: time.Now().Add(time.Hour)}
	})
	ctx := context.Background()

	if _, err := svc.Authorize(ctx, owned.ID, Caller{UserID: "user-1"}); err != nil {
		t.Errorf("владелец: %v", err)
	}
	if _, err := svc.Authorize(ctx, marked.ID, Caller{UserID: "user-1"}); err != nil {
		t.Errorf("владелец помеченного файла: %v", err)
	}
	if _, err := svc.Authorize(ctx, owned.ID, Caller{UserID: "user-2"}); !errors.Is(err, ErrForbidden) {
		t.Errorf("чужой файл: хотели ErrForbidden, получили %v", err)
	}
	if _, err := svc.Authorize(ctx, marked.ID, Caller{UserID: "user-2"}); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("чужой помеченный файл: хотели ErrFileNotFound, получили %v", err)
	}
	if _, err := svc.Authorize(ctx, owned.ID, Caller{UserID: "root", IsAdmin: true}); err != nil {
		t.Errorf("администратор: %v", err)
	}
	if _, err := svc.Authorize(ctx, uuid.NewString(), Caller{UserID: "user-1"}); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("несуществующий файл: %v", err)
	}
}
