package quarantinelog

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/ingest-module/internal/domain/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestAppendAndRead(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "quarantine_log.json"), testLogger())

	entries, err := l.ReadAll()
	if err != nil || len(entries) != 0 {
		t.Fatalf("пустой журнал: %v, %v", entries, err)
	}

	first := model.QuarantineEntry{
		ID: "q1", FileID: "f1", UploaderID: "u1",
		Reason: model.ReasonInfected, Threats: []string{"Eicar-Test-Signature"},
		QuarantinedAt: time.Now().UTC(),
	}
	second := model.QuarantineEntry{ID: "q2", FileID: "f2", Reason: model.ReasonScanTimeout}

	if err := l.Append(first); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := l.Append(second); err != nil {
		t.Fatalf("Append: %v", err)
	}

	entries, err = l.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("ожидалось 2 записи, получено %d", len(entries))
	}
	if entries[0].Threats[0] != "Eicar-Test-Signature" {
		t.Errorf("угрозы: %v", entries[0].Threats)
	}

	found, err := l.FindByFileID("f2")
	if err != nil || found == nil || found.Reason != model.ReasonScanTimeout {
		t.Errorf("FindByFileID: %+v, %v", found, err)
	}
	missing, _ := l.FindByFileID("none")
	if missing != nil {
		t.Error("запись для неизвестного файла не должна находиться")
	}
}

// TestReadAll_SkipsCorruptLines проверяет устойчивость к повреждённым строкам.
func TestReadAll_SkipsCorruptLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quarantine_log.json")
	l := New(path, testLogger())
	_ = l.Append(model.QuarantineEntry{ID: "q1", FileID: "f1"})

	f, _ := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o640)
	_, _ = f.WriteString("{обрыв записи\n")
	f.Close()
	_ = l.Append(model.QuarantineEntry{ID: "q2", FileID: "f2"})

	entries, err := l.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("ожидалось 2 корректные записи, получено %d", len(entries))
	}
}

func TestAppend_Concurrent(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "quarantine_log.json"), testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Append(model.QuarantineEntry{ID: "q", FileID: "f", Reason: model.ReasonScanError})
		}()
	}
	wg.Wait()

	entries, _ := l.ReadAll()
	if len(entries) != 20 {
		t.Errorf("ожидалось 20 записей, получено %d", len(entries))
	}
}
