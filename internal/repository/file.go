package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/ingest-module/internal/domain/model"
	"github.com/bigkaa/goartstore/ingest-module/internal/domain/scanstatus"
)

const filesTable = "stored_files"

// fileColumns — столбцы stored_files в порядке сканирования scanFile.
var fileColumns = []string{
	"id", "stored_name", "original_name", "declared_mime", "detected_mime",
	"size", "category", "width", "height", "uploader_id", "association_id",
	"download_count", "scan_status", "scan_result", "expires_at", "thumbnail_path",
	"storage_path", "deletion_reason", "marked_at", "purge_at", "created_at", "updated_at",
}

// FileUpdate — частичное обновление записи. nil-поля не изменяются.
type FileUpdate struct {
	ScanStatus    *scanstatus.Status
	ScanResult    map[string]any
	ThumbnailPath *string
	ExpiresAt     *time.Time
	// Deletion — пометить на удаление
	Deletion *model.DeletionInfo
	// ClearDeletion — снять пометку удаления
	ClearDeletion bool
	// IncrementDownloads — увеличить счётчик скачиваний на 1
	IncrementDownloads bool
}

// IsEmpty возвращает true, если обновление ничего не меняет.
func (u FileUpdate) IsEmpty() bool {
	return u.ScanStatus == nil && u.ScanResult == nil && u.ThumbnailPath == nil &&
		u.ExpiresAt == nil && u.Deletion == nil && !u.ClearDeletion && !u.IncrementDownloads
}

// FileRepository — контракт хранения метаданных файлов.
type FileRepository interface {
	// Create создаёт запись. Дубликат идентификатора или имени — ErrConflict.
	Create(ctx context.Context, f *model.StoredFile) error
	// FindByID возвращает запись или ErrNotFound.
	FindByID(ctx context.Context, id string) (*model.StoredFile, error)
	// Update применяет частичное обновление и возвращает новую версию записи.
	Update(ctx context.Context, id string, upd FileUpdate) (*model.StoredFile, error)
	// Destroy удаляет запись. Отсутствие записи — ErrNotFound.
	Destroy(ctx context.Context, id string) error
	// ListPurgeable — записи с истёкшим сроком, закрытым окном восстановления
	// или меткой deleted (прерванная очистка).
	ListPurgeable(ctx context.Context, now time.Time, limit int) ([]*model.StoredFile, error)
	// ListReferencedPaths — множество путей файлов и превью, на которые ссылаются записи.
	ListReferencedPaths(ctx context.Context) (map[string]struct{}, error)
	// ExistingIDs — какие из идентификаторов существуют.
	ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error)

	// Агрегаты для статистики
	CountByStatus(ctx context.Context) (map[scanstatus.Status]int64, error)
	SumSizes(ctx context.Context) (int64, error)
	SumSizesByUploader(ctx context.Context, uploaderID string) (int64, error)
	CountMarkedForDeletion(ctx context.Context) (int64, error)
	CountExpired(ctx context.Context, now time.Time) (int64, error)
}

// fileRepo — реализация FileRepository через pgx.
type fileRepo struct {
	db DBTX
}

// NewFileRepository создаёт репозиторий файлов.
func NewFileRepository(db DBTX) FileRepository {
	return &fileRepo{db: db}
}

// Create вставляет запись о файле.
func (r *fileRepo) Create(ctx context.Context, f *model.StoredFile) error {
	scanResult, err := marshalScanResult(f.ScanResult)
	if err != nil {
		return err
	}

	var width, height *int
	if f.Dimensions != nil {
		width, height = &f.Dimensions.Width, &f.Dimensions.Height
	}
	var reason *string
	var markedAt, purgeAt *time.Time
	if f.Deletion != nil {
		reason, markedAt, purgeAt = &f.Deletion.Reason, &f.Deletion.MarkedAt, &f.Deletion.PurgeAt
	}

	query, args, err := builder.Insert(filesTable).
		Columns(fileColumns...).
		Values(
			f.ID, f.StoredName, f.OriginalName, f.DeclaredMIME, f.DetectedMIME,
			f.Size, string(f.Category), width, height, f.UploaderID, f.AssociationID,
			f.DownloadCount, string(f.ScanStatus), scanResult, f.ExpiresAt, f.ThumbnailPath,
			f.StoragePath, reason, markedAt, purgeAt, f.CreatedAt, f.UpdatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("FileRepository - Create - ToSql: %w", err)
	}

	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("ошибка создания записи о файле: %w", err)
	}
	return nil
}

// FindByID возвращает запись по UUID или ErrNotFound.
func (r *fileRepo) FindByID(ctx context.Context, id string) (*model.StoredFile, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	query, args, err := builder.Select(fileColumns...).
		From(filesTable).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("FileRepository - FindByID - ToSql: %w", err)
	}

	f, err := scanFile(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения файла: %w", err)
	}
	return f, nil
}

// Update применяет частичное обновление.
func (r *fileRepo) Update(ctx context.Context, id string, upd FileUpdate) (*model.StoredFile, error) {
	if upd.IsEmpty() {
		return r.FindByID(ctx, id)
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	query, args, err := buildUpdate(id, upd)
	if err != nil {
		return nil, err
	}

	f, err := scanFile(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка обновления файла: %w", err)
	}
	return f, nil
}

// buildUpdate строит UPDATE ... RETURNING для непустых полей обновления.
func buildUpdate(id string, upd FileUpdate) (string, []any, error) {
	b := builder.Update(filesTable).Set("updated_at", sq.Expr("NOW()"))

	if upd.ScanStatus != nil {
		b = b.Set("scan_status", string(*upd.ScanStatus))
	}
	if upd.ScanResult != nil {
		raw, err := marshalScanResult(upd.ScanResult)
		if err != nil {
			return "", nil, err
		}
		b = b.Set("scan_result", raw)
	}
	if upd.ThumbnailPath != nil {
		b = b.Set("thumbnail_path", *upd.ThumbnailPath)
	}
	if upd.ExpiresAt != nil {
		b = b.Set("expires_at", *upd.ExpiresAt)
	}
	switch {
	case upd.ClearDeletion:
		b = b.Set("deletion_reason", nil).Set("marked_at", nil).Set("purge_at", nil)
	case upd.Deletion != nil:
		b = b.Set("deletion_reason", upd.Deletion.Reason).
			Set("marked_at", upd.Deletion.MarkedAt).
			Set("purge_at", upd.Deletion.PurgeAt)
	}
	if upd.IncrementDownloads {
		b = b.Set("download_count", sq.Expr("download_count + 1"))
	}

	query, args, err := b.Where(sq.Eq{"id": id}).
		Suffix("RETURNING " + strings.Join(fileColumns, ", ")).
		ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("FileRepository - Update - ToSql: %w", err)
	}
	return query, args, nil
}

// Destroy удаляет запись.
func (r *fileRepo) Destroy(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}

	query, args, err := builder.Delete(filesTable).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("FileRepository - Destroy - ToSql: %w", err)
	}

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("ошибка удаления записи о файле: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPurgeable возвращает до limit записей, подлежащих физическому удалению.
func (r *fileRepo) ListPurgeable(ctx context.Context, now time.Time, limit int) ([]*model.StoredFile, error) {
	query, args, err := builder.Select(fileColumns...).
		From(filesTable).
		Where(sq.Or{
			sq.LtOrEq{"expires_at": now},
			sq.LtOrEq{"purge_at": now},
			sq.Eq{"scan_status": string(scanstatus.Deleted)},
		}).
		OrderBy("created_at").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("FileRepository - ListPurgeable - ToSql: %w", err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки файлов для очистки: %w", err)
	}
	defer rows.Close()

	var result []*model.StoredFile
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования файла: %w", err)
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации результатов: %w", err)
	}
	return result, nil
}

// ListReferencedPaths возвращает пути файлов и превью всех записей.
func (r *fileRepo) ListReferencedPaths(ctx context.Context) (map[string]struct{}, error) {
	query, args, err := builder.Select("storage_path", "thumbnail_path").From(filesTable).ToSql()
	if err != nil {
		return nil, fmt.Errorf("FileRepository - ListReferencedPaths - ToSql: %w", err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки путей файлов: %w", err)
	}
	defer rows.Close()

	paths := make(map[string]struct{})
	for rows.Next() {
		var storagePath string
		var thumbnailPath *string
		if err := rows.Scan(&storagePath, &thumbnailPath); err != nil {
			return nil, fmt.Errorf("ошибка сканирования путей: %w", err)
		}
		paths[storagePath] = struct{}{}
		if thumbnailPath != nil && *thumbnailPath != "" {
			paths[*thumbnailPath] = struct{}{}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации результатов: %w", err)
	}
	return paths, nil
}

// ExistingIDs возвращает множество существующих идентификаторов из ids.
// Строки, не являющиеся UUID, считаются несуществующими.
func (r *fileRepo) ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	result := make(map[string]bool, len(ids))
	canonical := make(map[string]string, len(ids))
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		u, err := uuid.Parse(id)
		if err != nil {
			continue
		}
		canonical[u.String()] = id
		valid = append(valid, u.String())
	}
	if len(valid) == 0 {
		return result, nil
	}

	query, args, err := builder.Select("id").From(filesTable).Where(sq.Eq{"id": valid}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("FileRepository - ExistingIDs - ToSql: %w", err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка проверки идентификаторов: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ошибка сканирования идентификатора: %w", err)
		}
		if orig, ok := canonical[id]; ok {
			result[orig] = true
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации результатов: %w", err)
	}
	return result, nil
}

// CountByStatus возвращает количество записей по статусу проверки.
func (r *fileRepo) CountByStatus(ctx context.Context) (map[scanstatus.Status]int64, error) {
	query, args, err := builder.Select("scan_status", "COUNT(*)").
		From(filesTable).
		GroupBy("scan_status").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("FileRepository - CountByStatus - ToSql: %w", err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка подсчёта по статусам: %w", err)
	}
	defer rows.Close()

	counts := make(map[scanstatus.Status]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("ошибка сканирования агрегата: %w", err)
		}
		counts[scanstatus.Status(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации результатов: %w", err)
	}
	return counts, nil
}

// SumSizes — суммарный размер всех файлов.
func (r *fileRepo) SumSizes(ctx context.Context) (int64, error) {
	return r.scalar(ctx, builder.Select("COALESCE(SUM(size), 0)").From(filesTable))
}

// SumSizesByUploader — суммарный размер файлов пользователя.
func (r *fileRepo) SumSizesByUploader(ctx context.Context, uploaderID string) (int64, error) {
	return r.scalar(ctx, builder.Select("COALESCE(SUM(size), 0)").
		From(filesTable).
		Where(sq.Eq{"uploader_id": uploaderID}))
}

// CountMarkedForDeletion — количество файлов, помеченных на удаление.
func (r *fileRepo) CountMarkedForDeletion(ctx context.Context) (int64, error) {
	return r.scalar(ctx, builder.Select("COUNT(*)").
		From(filesTable).
		Where(sq.NotEq{"marked_at": nil}))
}

// CountExpired — количество файлов с истёкшим сроком жизни.
func (r *fileRepo) CountExpired(ctx context.Context, now time.Time) (int64, error) {
	return r.scalar(ctx, builder.Select("COUNT(*)").
		From(filesTable).
		Where(sq.LtOrEq{"expires_at": now}))
}

// scalar выполняет запрос, возвращающий одно целое значение.
func (r *fileRepo) scalar(ctx context.Context, b sq.SelectBuilder) (int64, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return 0, fmt.Errorf("FileRepository - scalar - ToSql: %w", err)
	}

	var value int64
	if err := r.db.QueryRow(ctx, query, args...).Scan(&value); err != nil {
		return 0, fmt.Errorf("ошибка выполнения агрегатного запроса: %w", err)
	}
	return value, nil
}

// rowScanner — общий интерфейс pgx.Row и pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanFile читает строку в порядке fileColumns.
func scanFile(row rowScanner) (*model.StoredFile, error) {
	var (
		f                 model.StoredFile
		category, status  string
		width, height     *int
		scanResult        []byte
		reason            *string
		markedAt, purgeAt *time.Time
	)

	err := row.Scan(
		&f.ID, &f.StoredName, &f.OriginalName, &f.DeclaredMIME, &f.DetectedMIME,
		&f.Size, &category, &width, &height, &f.UploaderID, &f.AssociationID,
		&f.DownloadCount, &status, &scanResult, &f.ExpiresAt, &f.ThumbnailPath,
		&f.StoragePath, &reason, &markedAt, &purgeAt, &f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	f.Category = model.Category(category)
	f.ScanStatus = scanstatus.Status(status)
	if width != nil && height != nil {
		f.Dimensions = &model.Dimensions{Width: *width, Height: *height}
	}
	if len(scanResult) > 0 {
		if err := json.Unmarshal(scanResult, &f.ScanResult); err != nil {
			return nil, fmt.Errorf("некорректный scan_result: %w", err)
		}
	}
	if markedAt != nil && purgeAt != nil {
		f.Deletion = &model.DeletionInfo{MarkedAt: *markedAt, PurgeAt: *purgeAt}
		if reason != nil {
			f.Deletion.Reason = *reason
		}
	}
	return &f, nil
}

// marshalScanResult сериализует диагностику проверки в JSONB (nil — NULL).
func marshalScanResult(result map[string]any) ([]byte, error) {
	if result == nil {
		return nil, nil
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации scan_result: %w", err)
	}
	return raw, nil
}
