package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/ingest-module/internal/audit"
	"github.com/bigkaa/goartstore/ingest-module/internal/domain/model"
	"github.com/bigkaa/goartstore/ingest-module/internal/domain/scanstatus"
	"github.com/bigkaa/goartstore/ingest-module/internal/repository/repotest"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/diskusage"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/filestore"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/layout"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/quarantinelog"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type recordingSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *recordingSink) Emit(_ context.Context, e audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

// fakeSampler возвращает заданные замеры по очереди; последний повторяется.
type fakeSampler struct {
	mu      sync.Mutex
	samples []diskusage.Usage
	calls   int
}

func (f *fakeSampler) sample(string) (diskusage.Usage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	if i >= len(f.samples) {
		i = len(f.samples) - 1
	}
	f.calls++
	return f.samples[i], nil
}

func usage(ratio float64) diskusage.Usage {
	const total = 1000
	used := int64(math.Round(ratio * total))
	return diskusage.Usage{Total: total, Used: used, Available: total - used}
}

type managerEnv struct {
	layout  *layout.Layout
	files   *filestore.FileStore
	repo    *repotest.Memory
	qlog    *quarantinelog.Log
	sampler *fakeSampler
	sink    *recordingSink
	manager *Manager
	now     time.Time
}

func newManagerEnv(t *testing.T) *managerEnv {
	t.Helper()

	l, err := layout.New(t.TempDir())
	if err != nil {
		t.Fatalf("layout.New: %v", err)
	}
	if err := l.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	env := &managerEnv{
		layout:  l,
		files:   filestore.New(l),
		repo:    repotest.NewMemory(),
		qlog:    quarantinelog.New(l.QuarantineLogPath(), testLogger()),
		sampler: &fakeSampler{samples: []diskusage.Usage{usage(0.5)}},
		sink:    &recordingSink{},
		now:     time.Now().UTC(),
	}
	env.manager = NewManager(Config{
		RecoveryWindow:      24 * time.Hour,
		TempMaxAge:          24 * time.Hour,
		QuarantineRetention: 7 * 24 * time.Hour,
		OrphanMinAge:        time.Hour,
		DiskThreshold:       0.85,
		PurgeBatchSize:      2,
		StatsCacheTTL:       time.Minute,
	}, env.repo, env.files, l, env.qlog, env.sampler.sample, env.sink, testLogger())
	env.manager.now = func() time.Time { return env.now }
	return env
}

// writeFile записывает файл с заданным возрастом и возвращает относительный путь.
func (e *managerEnv) writeFile(t *testing.T, dir, name string, age time.Duration) string {
	t.Helper()
	rel := dir + "/" + name
	if err := os.WriteFile(e.layout.Abs(rel), []byte("data-"+name), 0o600); err != nil {
		t.Fatal(err)
	}
	mtime := time.Now().Add(-age)
	if err := os.Chtimes(e.layout.Abs(rel), mtime, mtime); err != nil {
		t.Fatal(err)
	}
	return rel
}

// seed создаёт файл на диске и запись о нём.
func (e *managerEnv) seed(t *testing.T, mutate func(f *model.StoredFile)) *model.StoredFile {
	t.Helper()
	id := uuid.NewString()
	rel := e.writeFile(t, layout.GenericDir, id+".txt", 2*time.Hour)
	f := &model.StoredFile{
		ID:           id,
		StoredName:   id + ".txt",
		OriginalName: "report.txt",
		DetectedMIME: "text/plain",
		Size:         int64(len("data-" + id + ".txt")),
		Category:     model.CategoryDocument,
		UploaderID:   "user-1",
		ScanStatus:   scanstatus.Clean,
		StoragePath:  rel,
		CreatedAt:    e.now.Add(-2 * time.Hour),
		UpdatedAt:    e.now.Add(-2 * time.Hour),
	}
	if mutate != nil {
		mutate(f)
	}
	e.repo.Put(f)
	return f
}

func TestMarkAndRestore_RoundTrip(t *testing.T) {
	env := newManagerEnv(t)
	original := env.seed(t, nil)
	ctx := context.Background()

	marked, err := env.manager.MarkForDeletion(ctx, original.ID, "user_request")
	if err != nil {
		t.Fatalf("MarkForDeletion: %v", err)
	}
	if marked.Deletion == nil || marked.Deletion.Reason != "user_request" {
		t.Fatalf("Deletion: %+v", marked.Deletion)
	}
	if !marked.Deletion.PurgeAt.Equal(env.now.Add(24 * time.Hour)) {
		t.Errorf("PurgeAt: хотели %s, получили %s", env.now.Add(24*time.Hour), marked.Deletion.PurgeAt)
	}

	// Повторная пометка не сдвигает срок
	env.now = env.now.Add(time.Hour)
	again, err := env.manager.MarkForDeletion(ctx, original.ID, "other")
	if err != nil {
		t.Fatalf("повторный MarkForDeletion: %v", err)
	}
	if !again.Deletion.PurgeAt.Equal(marked.Deletion.PurgeAt) || again.Deletion.Reason != "user_request" {
		t.Error("повторная пометка изменила метаданные удаления")
	}

	restored, err := env.manager.Restore(ctx, original.ID)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if restored.Deletion != nil {
		t.Error("пометка не снята")
	}
	if restored.StoragePath != original.StoragePath || restored.Size != original.Size ||
		restored.OriginalName != original.OriginalName || restored.ScanStatus != original.ScanStatus {
		t.Errorf("запись изменилась после восстановления: %+v", restored)
	}
	if !env.files.Exists(original.StoragePath) {
		t.Error("байты файла потеряны")
	}
	if !restored.IsVisible() {
		t.Error("восстановленный файл должен быть видим")
	}
}

func TestRestore_Errors(t *testing.T) {
	env := newManagerEnv(t)
	ctx := context.Background()

	if _, err := env.manager.Restore(ctx, uuid.NewString()); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("несуществующий файл: %v", err)
	}

	live := env.seed(t, nil)
	if _, err := env.manager.Restore(ctx, live.ID); !errors.Is(err, ErrNotMarked) {
		t.Errorf("непомеченный файл: %v", err)
	}

	if _, err := env.manager.MarkForDeletion(ctx, live.ID, "user_request"); err != nil {
		t.Fatal(err)
	}
	env.now = env.now.Add(24 * time.Hour)
	if _, err := env.manager.Restore(ctx, live.ID); !errors.Is(err, ErrRecoveryWindowClosed) {
		t.Errorf("окно закрыто: хотели ErrRecoveryWindowClosed, получили %v", err)
	}
}

func TestPurgeExpired(t *testing.T) {
	env := newManagerEnv(t)
	past := env.now.Add(-time.Minute)
	future := env.now.Add(time.Hour)

	thumbRel := env.writeFile(t, layout.ThumbnailsDir, "x"+layout.ThumbnailSuffix, time.Hour)
	iconRel := env.writeFile(t, layout.IconsDir, "document.png", time.Hour)

	expired := env.seed(t, func(f *model.StoredFile) {
		f.ExpiresAt = &past
		f.ThumbnailPath = &thumbRel
	})
	windowClosed := env.seed(t, func(f *model.StoredFile) {
		f.Deletion = &model.DeletionInfo{Reason: "user", MarkedAt: past.Add(-24 * time.Hour), PurgeAt: past}
		f.ThumbnailPath = &iconRel
	})
	windowOpen := env.seed(t, func(f *model.StoredFile) {
		f.Deletion = &model.DeletionInfo{Reason: "user", MarkedAt: env.now, PurgeAt: future}
	})
	interrupted := env.seed(t, func(f *model.StoredFile) {
		f.ScanStatus = scanstatus.Deleted
	})
	bytesGone := env.seed(t, func(f *model.StoredFile) { f.ExpiresAt = &past })
	if err := env.files.Delete(bytesGone.StoragePath); err != nil {
		t.Fatal(err)
	}
	live := env.seed(t, nil)

	res, err := env.manager.PurgeExpired(context.Background())
	if err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if res.Deleted != 4 || res.Errors != 0 {
		t.Errorf("удалено %d, ошибок %d; хотели 4 и 0", res.Deleted, res.Errors)
	}

	for _, f := range []*model.StoredFile{expired, windowClosed, interrupted, bytesGone} {
		if env.repo.Get(f.ID) != nil {
			t.Errorf("запись %s не удалена", f.ID)
		}
		if env.files.Exists(f.StoragePath) {
			t.Errorf("байты %s не удалены", f.StoragePath)
		}
	}
	for _, f := range []*model.StoredFile{windowOpen, live} {
		if env.repo.Get(f.ID) == nil || !env.files.Exists(f.StoragePath) {
			t.Errorf("файл %s не должен удаляться", f.ID)
		}
	}
	if env.files.Exists(thumbRel) {
		t.Error("превью истёкшего файла не удалено")
	}
	if !env.files.Exists(iconRel) {
		t.Error("общая иконка категории не должна удаляться")
	}
}

func TestReconcileOrphans_Idempotent(t *testing.T) {
	env := newManagerEnv(t)

	referenced := env.seed(t, nil)
	orphan := env.writeFile(t, layout.ImagesDir, "orphan.png", 3*time.Hour)
	young := env.writeFile(t, layout.ImagesDir, "in-flight.png", time.Minute)
	logFile := env.writeFile(t, layout.FilesDir, "access.log", 48*time.Hour)
	tmpFile := env.writeFile(t, layout.ThumbnailsDir, "x_thumb.jpg.tmp", 48*time.Hour)
	orphanThumb := env.writeFile(t, layout.ThumbnailsDir, uuid.NewString()+layout.ThumbnailSuffix, 31*24*time.Hour)
	// Превью моложе 30 дней не удаляется, даже если записи о файле нет
	recentThumb := env.writeFile(t, layout.ThumbnailsDir, uuid.NewString()+layout.ThumbnailSuffix, 48*time.Hour)
	held := env.writeFile(t, layout.GenericDir, "rejected.zip"+layout.HeldSuffix, 30*24*time.Hour)

	res, err := env.manager.ReconcileOrphans(context.Background())
	if err != nil {
		t.Fatalf("ReconcileOrphans: %v", err)
	}
	if res.Deleted != 2 {
		t.Errorf("удалено %d, хотели 2", res.Deleted)
	}
	if env.files.Exists(orphan) || env.files.Exists(orphanThumb) {
		t.Error("сироты не удалены")
	}
	for _, keep := range []string{referenced.StoragePath, young, logFile, tmpFile, recentThumb, held} {
		if !env.files.Exists(keep) {
			t.Errorf("файл %s не должен удаляться", keep)
		}
	}

	res, err = env.manager.ReconcileOrphans(context.Background())
	if err != nil {
		t.Fatalf("повторный ReconcileOrphans: %v", err)
	}
	if res.Deleted != 0 {
		t.Errorf("повторный запуск удалил %d файлов", res.Deleted)
	}
}

func TestReconcileOrphans_StoreErrorDeletesNothing(t *testing.T) {
	env := newManagerEnv(t)
	orphan := env.writeFile(t, layout.GenericDir, "orphan.bin", 48*time.Hour)
	env.repo.ListErr = errors.New("db down")

	if _, err := env.manager.ReconcileOrphans(context.Background()); err == nil {
		t.Fatal("ожидалась ошибка")
	}
	if !env.files.Exists(orphan) {
		t.Error("при ошибке хранилища файлы не удаляются")
	}
}

func TestCleanupTempAndQuarantine(t *testing.T) {
	env := newManagerEnv(t)

	oldTemp := env.writeFile(t, layout.TempDir, "upload-1.tmp", 25*time.Hour)
	freshTemp := env.writeFile(t, layout.TempDir, "upload-2.tmp", time.Hour)
	oldQ := env.writeFile(t, layout.QuarantineDir, "id_evil.png", 8*24*time.Hour)
	freshQ := env.writeFile(t, layout.QuarantineDir, "id_new.png", 24*time.Hour)
	qlog := env.writeFile(t, layout.QuarantineDir, layout.QuarantineLogName, 30*24*time.Hour)

	res, err := env.manager.CleanupTemp(context.Background())
	if err != nil || res.Deleted != 1 {
		t.Errorf("CleanupTemp: удалено %d, ошибка %v", res.Deleted, err)
	}
	res, err = env.manager.CleanupOldQuarantine(context.Background())
	if err != nil || res.Deleted != 1 {
		t.Errorf("CleanupOldQuarantine: удалено %d, ошибка %v", res.Deleted, err)
	}

	if env.files.Exists(oldTemp) || env.files.Exists(oldQ) {
		t.Error("старые файлы не удалены")
	}
	for _, keep := range []string{freshTemp, freshQ, qlog} {
		if !env.files.Exists(keep) {
			t.Errorf("файл %s не должен удаляться", keep)
		}
	}
}

func TestCheckDiskPressure_CascadeOrder(t *testing.T) {
	env := newManagerEnv(t)
	env.sampler.samples = []diskusage.Usage{usage(0.9), usage(0.6)}

	var steps []string
	env.manager.stepHook = func(step string) { steps = append(steps, step) }

	res, err := env.manager.CheckDiskPressure(context.Background())
	if err != nil {
		t.Fatalf("CheckDiskPressure: %v", err)
	}
	if !res.Triggered {
		t.Fatal("аварийная очистка должна запуститься при 90%")
	}

	want := []string{StepTemp, StepQuarantine, StepPurge}
	if len(steps) != len(want) {
		t.Fatalf("шаги: хотели %v, получили %v", want, steps)
	}
	for i := range want {
		if steps[i] != want[i] {
			t.Errorf("шаг %d: хотели %s, получили %s", i, want[i], steps[i])
		}
	}
	if res.After.Ratio() != 0.6 {
		t.Errorf("повторный замер: %v", res.After.Ratio())
	}
	if len(env.sink.events) != 1 || env.sink.events[0].Type != audit.EventEmergencyCleanup {
		t.Errorf("событие аудита: %+v", env.sink.events)
	}
}

func TestCheckDiskPressure_BelowThreshold(t *testing.T) {
	env := newManagerEnv(t)
	env.sampler.samples = []diskusage.Usage{usage(0.8)}
	called := false
	env.manager.stepHook = func(string) { called = true }

	res, err := env.manager.CheckDiskPressure(context.Background())
	if err != nil {
		t.Fatalf("CheckDiskPressure: %v", err)
	}
	if res.Triggered || called {
		t.Error("ниже порога очистка не запускается")
	}
}

func TestJobSkippedWhileRunning(t *testing.T) {
	env := newManagerEnv(t)

	release, ok := env.manager.guard.acquire(JobExpiredPurge)
	if !ok {
		t.Fatal("acquire")
	}
	if !env.manager.IsRunning(JobExpiredPurge) {
		t.Error("IsRunning должен вернуть true")
	}
	if _, err := env.manager.PurgeExpired(context.Background()); !errors.Is(err, ErrJobInProgress) {
		t.Errorf("хотели ErrJobInProgress, получили %v", err)
	}

	// Другая задача не блокируется
	if _, err := env.manager.CleanupTemp(context.Background()); err != nil {
		t.Errorf("CleanupTemp: %v", err)
	}

	release()
	if _, err := env.manager.PurgeExpired(context.Background()); err != nil {
		t.Errorf("после освобождения: %v", err)
	}
}

func TestStats(t *testing.T) {
	env := newManagerEnv(t)
	past := env.now.Add(-time.Minute)

	env.seed(t, nil)
	env.seed(t, func(f *model.StoredFile) { f.ExpiresAt = &past })
	env.seed(t, func(f *model.StoredFile) {
		f.Deletion = &model.DeletionInfo{Reason: "user", MarkedAt: env.now, PurgeAt: env.now.Add(time.Hour)}
	})
	quarantined := []struct {
		reason model.QuarantineReason
		age    time.Duration
	}{
		{model.ReasonInfected, time.Hour},
		{model.ReasonScanTimeout, time.Hour},
		// Старше срока хранения карантина: байты уже удалены, в счёт не входит
		{model.ReasonInfected, 8 * 24 * time.Hour},
	}
	for _, q := range quarantined {
		entry := model.QuarantineEntry{
			ID:            uuid.NewString(),
			FileID:        uuid.NewString(),
			Reason:        q.reason,
			QuarantinedAt: env.now.Add(-q.age),
		}
		if err := env.qlog.Append(entry); err != nil {
			t.Fatal(err)
		}
	}
	env.writeFile(t, layout.TempDir, "scratch", time.Minute)

	st, err := env.manager.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.TotalFiles != 3 || st.ExpiredFiles != 1 || st.SoftDeletedFiles != 1 || st.InfectedFiles != 1 {
		t.Errorf("счётчики: %+v", st)
	}
	if st.Disk.Ratio != 0.5 {
		t.Errorf("Disk.Ratio: %v", st.Disk.Ratio)
	}
	if st.Directories.Uploads <= 0 || st.Directories.Temp != int64(len("data-scratch")) || st.Directories.Quarantine <= 0 {
		t.Errorf("директории: %+v", st.Directories)
	}

	// Размеры директорий кэшируются
	env.writeFile(t, layout.TempDir, "scratch-2", time.Minute)
	cached, err := env.manager.Stats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if cached.Directories.Temp != st.Directories.Temp {
		t.Error("размер temp должен браться из кэша")
	}
}
