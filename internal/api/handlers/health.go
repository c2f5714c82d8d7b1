// health.go — health endpoints для liveness и readiness проверок Kubernetes.
package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bigkaa/goartstore/ingest-module/internal/config"
)

const (
	statusOK       = "ok"
	statusFail     = "fail"
	statusDegraded = "degraded"
)

// DBReadinessChecker — проверка готовности PostgreSQL.
type DBReadinessChecker interface {
	CheckReady() (status string, message string)
}

// ScannerStatus — доступность антивирусного движка.
type ScannerStatus interface {
	Available() bool
}

// HealthHandler реализует /health/live и /health/ready.
type HealthHandler struct {
	version string
	// tempDir — директория для проверки записи
	tempDir string
	db      DBReadinessChecker
	scanner ScannerStatus
}

// NewHealthHandler создаёт обработчик health endpoints.
// db и scanner могут быть nil — проверка пропускается.
func NewHealthHandler(tempDir string, db DBReadinessChecker, scanner ScannerStatus) *HealthHandler {
	return &HealthHandler{
		version: config.Version,
		tempDir: tempDir,
		db:      db,
		scanner: scanner,
	}
}

// HealthLive обрабатывает GET /health/live.
// Возвращает 200, если процесс жив. Зависимости не проверяются.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    statusOK,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "ingest-module",
	})
}

// HealthReady обрабатывает GET /health/ready.
// Хранилище и PostgreSQL обязательны (503 при сбое). Недоступный
// антивирус переводит статус в degraded: файлы принимаются
// с пометкой "scanner unavailable".
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	overall := statusOK
	httpStatus := http.StatusOK
	checks := map[string]any{}

	storage := h.checkStorage()
	checks["storage"] = storage
	if storage["status"] != statusOK {
		overall = statusFail
		httpStatus = http.StatusServiceUnavailable
	}

	if h.db != nil {
		status, message := h.db.CheckReady()
		checks["database"] = map[string]any{"status": status, "message": message}
		if status != statusOK {
			overall = statusFail
			httpStatus = http.StatusServiceUnavailable
		}
	}

	if h.scanner != nil {
		scan := map[string]any{"status": statusOK}
		if !h.scanner.Available() {
			scan = map[string]any{"status": statusFail, "message": "Антивирусный движок недоступен"}
			if overall == statusOK {
				overall = statusDegraded
			}
		}
		checks["scanner"] = scan
	}

	writeJSON(w, httpStatus, map[string]any{
		"status":    overall,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "ingest-module",
		"checks":    checks,
	})
}

// checkStorage проверяет доступность хранилища на запись.
func (h *HealthHandler) checkStorage() map[string]any {
	if h.tempDir == "" {
		return map[string]any{"status": statusOK, "message": "Проверка не настроена"}
	}

	testFile := filepath.Join(h.tempDir, ".health_check")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return map[string]any{
			"status":  statusFail,
			"message": "Хранилище недоступно для записи: " + err.Error(),
		}
	}
	_ = os.Remove(testFile)
	return map[string]any{"status": statusOK}
}
