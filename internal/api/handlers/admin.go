// admin.go — административные endpoints: очередь превью, статистика
// очистки, ручной запуск задач, журнал карантина.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/goartstore/ingest-module/internal/api/errors"
	"github.com/bigkaa/goartstore/ingest-module/internal/domain/model"
	"github.com/bigkaa/goartstore/ingest-module/internal/lifecycle"
	"github.com/bigkaa/goartstore/ingest-module/internal/thumbnail"
)

const (
	defaultQuarantineLimit = 100
	maxQuarantineLimit     = 1000
)

// ThumbnailStatusProvider — состояние очереди превью.
type ThumbnailStatusProvider interface {
	Status() thumbnail.QueueStatus
}

// StatsProvider — статистика очистки.
type StatsProvider interface {
	Stats(ctx context.Context) (lifecycle.Stats, error)
}

// JobRunner — фоновые задачи.
type JobRunner interface {
	Jobs() []lifecycle.JobInfo
	Trigger(name string) error
}

// QuarantineLister — журнал карантина.
type QuarantineLister interface {
	ReadAll() ([]model.QuarantineEntry, error)
}

// AdminHandler — обработчик административных endpoints.
type AdminHandler struct {
	thumbnails ThumbnailStatusProvider
	stats      StatsProvider
	jobs       JobRunner
	quarantine QuarantineLister
	logger     *slog.Logger
}

// NewAdminHandler создаёт обработчик административных endpoints.
func NewAdminHandler(
	thumbnails ThumbnailStatusProvider,
	stats StatsProvider,
	jobs JobRunner,
	quarantine QuarantineLister,
	logger *slog.Logger,
) *AdminHandler {
	return &AdminHandler{
		thumbnails: thumbnails,
		stats:      stats,
		jobs:       jobs,
		quarantine: quarantine,
		logger:     logger.With(slog.String("component", "admin_handler")),
	}
}

// quarantineResponse — страница журнала карантина.
type quarantineResponse struct {
	Items []model.QuarantineEntry `json:"items"`
	Total int                     `json:"total"`
}

// ThumbnailStatus обрабатывает GET /api/v1/admin/thumbnails/status.
func (h *AdminHandler) ThumbnailStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.thumbnails.Status())
}

// CleanupStats обрабатывает GET /api/v1/admin/cleanup/stats.
func (h *AdminHandler) CleanupStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.stats.Stats(r.Context())
	if err != nil {
		h.logger.Error("Ошибка получения статистики очистки", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Не удалось получить статистику")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// CleanupJobs обрабатывает GET /api/v1/admin/cleanup/jobs.
func (h *AdminHandler) CleanupJobs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"jobs": h.jobs.Jobs()})
}

// RunCleanupJob обрабатывает POST /api/v1/admin/cleanup/{job}/run.
// Задача запускается в фоне: 202, если запущена, 409, если уже выполняется.
func (h *AdminHandler) RunCleanupJob(w http.ResponseWriter, r *http.Request) {
	job := chi.URLParam(r, "job")

	err := h.jobs.Trigger(job)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"job": job, "status": "started"})
	case errors.Is(err, lifecycle.ErrUnknownJob):
		apierrors.NotFound(w, fmt.Sprintf("Задача %s не найдена", job))
	case errors.Is(err, lifecycle.ErrJobInProgress):
		apierrors.JobInProgress(w, fmt.Sprintf("Задача %s уже выполняется", job))
	default:
		h.logger.Error("Ошибка запуска задачи", slog.String("job", job), slog.String("error", err.Error()))
		apierrors.InternalError(w, "Не удалось запустить задачу")
	}
}

// Quarantine обрабатывает GET /api/v1/admin/quarantine?limit=N.
// Записи отдаются от новых к старым.
func (h *AdminHandler) Quarantine(w http.ResponseWriter, r *http.Request) {
	limit := defaultQuarantineLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxQuarantineLimit {
			apierrors.ValidationError(w, fmt.Sprintf("Параметр limit должен быть от 1 до %d", maxQuarantineLimit))
			return
		}
		limit = n
	}

	entries, err := h.quarantine.ReadAll()
	if err != nil {
		h.logger.Error("Ошибка чтения журнала карантина", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Не удалось прочитать журнал карантина")
		return
	}

	slices.Reverse(entries)
	total := len(entries)
	if len(entries) > limit {
		entries = entries[:limit]
	}
	writeJSON(w, http.StatusOK, quarantineResponse{Items: entries, Total: total})
}
