package repository

import (
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/ingest-module/internal/domain/model"
	"github.com/bigkaa/goartstore/ingest-module/internal/domain/scanstatus"
)

func TestFileUpdate_IsEmpty(t *testing.T) {
	if !(FileUpdate{}).IsEmpty() {
		t.Error("пустое обновление должно быть IsEmpty")
	}
	if (FileUpdate{IncrementDownloads: true}).IsEmpty() {
		t.Error("IncrementDownloads — непустое обновление")
	}
}

func TestBuildUpdate(t *testing.T) {
	status := scanstatus.Deleted
	thumb := "thumbnails/x_thumb.jpg"

	query, args, err := buildUpdate("id-1", FileUpdate{
		ScanStatus:         &status,
		ThumbnailPath:      &thumb,
		IncrementDownloads: true,
	})
	if err != nil {
		t.Fatalf("buildUpdate: %v", err)
	}

	for _, part := range []string{
		"UPDATE stored_files SET updated_at = NOW()",
		"scan_status = $1",
		"thumbnail_path = $2",
		"download_count = download_count + 1",
		"WHERE id = $3",
		"RETURNING id, stored_name",
	} {
		if !strings.Contains(query, part) {
			t.Errorf("запрос не содержит %q:\n%s", part, query)
		}
	}
	if len(args) != 3 || args[0] != "deleted" || args[2] != "id-1" {
		t.Errorf("аргументы: %v", args)
	}
}

func TestBuildUpdate_Deletion(t *testing.T) {
	now := time.Now().UTC()
	query, args, err := buildUpdate("id-1", FileUpdate{
		Deletion: &model.DeletionInfo{Reason: "user", MarkedAt: now, PurgeAt: now.Add(24 * time.Hour)},
	})
	if err != nil {
		t.Fatalf("buildUpdate: %v", err)
	}
	if !strings.Contains(query, "deletion_reason = $1, marked_at = $2, purge_at = $3") {
		t.Errorf("запрос: %s", query)
	}
	if len(args) != 4 {
		t.Errorf("аргументы: %v", args)
	}

	// ClearDeletion имеет приоритет над Deletion
	query, args, _ = buildUpdate("id-1", FileUpdate{ClearDeletion: true, Deletion: &model.DeletionInfo{}})
	if !strings.Contains(query, "deletion_reason = $1") || args[0] != nil {
		t.Errorf("снятие пометки: %s %v", query, args)
	}
}
