// Пакет repotest — in-memory реализация repository.FileRepository для тестов.
package repotest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bigkaa/goartstore/ingest-module/internal/domain/model"
	"github.com/bigkaa/goartstore/ingest-module/internal/domain/scanstatus"
	"github.com/bigkaa/goartstore/ingest-module/internal/repository"
)

// Memory — потокобезопасное хранилище записей в памяти.
// Ошибки, заданные в полях *Err, возвращаются соответствующими методами.
type Memory struct {
	mu    sync.Mutex
	files map[string]*model.StoredFile

	CreateErr      error
	UpdateErr      error
	DestroyErr     error
	ExistingIDsErr error
	ListErr        error
}

var _ repository.FileRepository = (*Memory)(nil)

// NewMemory создаёт пустое хранилище.
func NewMemory() *Memory {
	return &Memory{files: make(map[string]*model.StoredFile)}
}

// Put добавляет запись напрямую (подготовка данных теста).
func (m *Memory) Put(f *model.StoredFile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[f.ID] = clone(f)
}

// Len возвращает количество записей.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.files)
}

// Get возвращает копию записи или nil.
func (m *Memory) Get(id string) *model.StoredFile {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.files[id]; ok {
		return clone(f)
	}
	return nil
}

func (m *Memory) Create(_ context.Context, f *model.StoredFile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return m.CreateErr
	}
	if _, ok := m.files[f.ID]; ok {
		return repository.ErrConflict
	}
	m.files[f.ID] = clone(f)
	return nil
}

func (m *Memory) FindByID(_ context.Context, id string) (*model.StoredFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return clone(f), nil
}

func (m *Memory) Update(_ context.Context, id string, upd repository.FileUpdate) (*model.StoredFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpdateErr != nil {
		return nil, m.UpdateErr
	}
	f, ok := m.files[id]
	if !ok {
		return nil, repository.ErrNotFound
	}

	if upd.ScanStatus != nil {
		f.ScanStatus = *upd.ScanStatus
	}
	if upd.ScanResult != nil {
		f.ScanResult = upd.ScanResult
	}
	if upd.ThumbnailPath != nil {
		p := *upd.ThumbnailPath
		f.ThumbnailPath = &p
	}
	if upd.ExpiresAt != nil {
		e := *upd.ExpiresAt
		f.ExpiresAt = &e
	}
	switch {
	case upd.ClearDeletion:
		f.Deletion = nil
	case upd.Deletion != nil:
		d := *upd.Deletion
		f.Deletion = &d
	}
	if upd.IncrementDownloads {
		f.DownloadCount++
	}
	if !upd.IsEmpty() {
		f.UpdatedAt = time.Now().UTC()
	}
	return clone(f), nil
}

func (m *Memory) Destroy(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DestroyErr != nil {
		return m.DestroyErr
	}
	if _, ok := m.files[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.files, id)
	return nil
}

func (m *Memory) ListPurgeable(_ context.Context, now time.Time, limit int) ([]*model.StoredFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListErr != nil {
		return nil, m.ListErr
	}

	var result []*model.StoredFile
	for _, f := range m.sorted() {
		if f.PurgeDue(now) || f.ScanStatus == scanstatus.Deleted {
			result = append(result, clone(f))
			if len(result) == limit {
				break
			}
		}
	}
	return result, nil
}

func (m *Memory) ListReferencedPaths(context.Context) (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListErr != nil {
		return nil, m.ListErr
	}

	paths := make(map[string]struct{})
	for _, f := range m.files {
		paths[f.StoragePath] = struct{}{}
		if f.ThumbnailPath != nil && *f.ThumbnailPath != "" {
			paths[*f.ThumbnailPath] = struct{}{}
		}
	}
	return paths, nil
}

func (m *Memory) ExistingIDs(_ context.Context, ids []string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ExistingIDsErr != nil {
		return nil, m.ExistingIDsErr
	}

	result := make(map[string]bool)
	for _, id := range ids {
		if _, ok := m.files[id]; ok {
			result[id] = true
		}
	}
	return result, nil
}

func (m *Memory) CountByStatus(context.Context) (map[scanstatus.Status]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[scanstatus.Status]int64)
	for _, f := range m.files {
		counts[f.ScanStatus]++
	}
	return counts, nil
}

func (m *Memory) SumSizes(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, f := range m.files {
		total += f.Size
	}
	return total, nil
}

func (m *Memory) SumSizesByUploader(_ context.Context, uploaderID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, f := range m.files {
		if f.UploaderID == uploaderID {
			total += f.Size
		}
	}
	return total, nil
}

func (m *Memory) CountMarkedForDeletion(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, f := range m.files {
		if f.IsMarkedForDeletion() {
			n++
		}
	}
	return n, nil
}

func (m *Memory) CountExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, f := range m.files {
		if f.IsExpired(now) {
			n++
		}
	}
	return n, nil
}

// sorted возвращает записи в порядке создания.
func (m *Memory) sorted() []*model.StoredFile {
	list := make([]*model.StoredFile, 0, len(m.files))
	for _, f := range m.files {
		list = append(list, f)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	return list
}

// clone — глубокая копия указательных полей.
func clone(f *model.StoredFile) *model.StoredFile {
	c := *f
	if f.Dimensions != nil {
		d := *f.Dimensions
		c.Dimensions = &d
	}
	if f.AssociationID != nil {
		a := *f.AssociationID
		c.AssociationID = &a
	}
	if f.ExpiresAt != nil {
		e := *f.ExpiresAt
		c.ExpiresAt = &e
	}
	if f.ThumbnailPath != nil {
		p := *f.ThumbnailPath
		c.ThumbnailPath = &p
	}
	if f.Deletion != nil {
		d := *f.Deletion
		c.Deletion = &d
	}
	if f.ScanResult != nil {
		c.ScanResult = make(map[string]any, len(f.ScanResult))
		for k, v := range f.ScanResult {
			c.ScanResult[k] = v
		}
	}
	return &c
}
