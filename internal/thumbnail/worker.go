// Пакет thumbnail — фоновая генерация превью.
//
// Worker держит FIFO-очередь задач с объединением по идентификатору файла:
// пока задача для файла в очереди или обрабатывается, повторная постановка
// игнорируется. Одновременно обрабатывается не более concurrency задач.
// Очередь живёт в памяти и не переживает перезапуск.
package thumbnail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bigkaa/goartstore/ingest-module/internal/domain/model"
	"github.com/bigkaa/goartstore/ingest-module/internal/repository"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/filestore"
	"github.com/bigkaa/goartstore/ingest-module/internal/storage/layout"
)

// ErrSweepInProgress — очистка превью уже выполняется.
var ErrSweepInProgress = errors.New("очистка превью уже выполняется")

// JobStatus — состояние задачи в очереди.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
)

// Job — задача генерации превью.
type Job struct {
	FileID      string         `json:"fileId"`
	StoragePath string         `json:"storagePath"`
	Category    model.Category `json:"category"`
	MIMEType    string         `json:"mimeType"`
	QueuedAt    time.Time      `json:"queuedAt"`
	Status      JobStatus      `json:"status"`
}

// QueueStatus — снимок очереди для административного API.
type QueueStatus struct {
	Queued     int   `json:"queued"`
	Processing int   `json:"processing"`
	Items      []Job `json:"items"`
}

// Store — часть порта хранения, нужная Worker.
type Store interface {
	Update(ctx context.Context, id string, upd repository.FileUpdate) (*model.StoredFile, error)
	ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error)
}

// Config — параметры Worker.
type Config struct {
	// Concurrency — максимум одновременно обрабатываемых задач
	Concurrency int
	// OrphanMinAge — минимальный возраст превью для удаления при очистке
	OrphanMinAge time.Duration
}

// ProcessFunc обрабатывает одну задачу.
type ProcessFunc func(ctx context.Context, job Job) error

// Worker — очередь и пул генерации превью.
type Worker struct {
	cfg      Config
	store    Store
	files    *filestore.FileStore
	layout   *layout.Layout
	renderer *Renderer
	icons    *Icons
	logger   *slog.Logger

	// process — обработчик задачи; по умолчанию generate
	process ProcessFunc
	now     func() time.Time

	mu         sync.Mutex
	pending    []*Job
	jobs       map[string]*Job
	processing int
	stopped    bool

	wake     chan struct{}
	cancel   context.CancelFunc
	done     chan struct{}
	sweeping atomic.Bool
}

// NewWorker создаёт Worker. Запуск — через Start.
func NewWorker(
	cfg Config,
	store Store,
	files *filestore.FileStore,
	l *layout.Layout,
	renderer *Renderer,
	icons *Icons,
	logger *slog.Logger,
) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	w := &Worker{
		cfg:      cfg,
		store:    store,
		files:    files,
		layout:   l,
		renderer: renderer,
		icons:    icons,
		logger:   logger.With(slog.String("component", "thumbnail_worker")),
		now:      time.Now,
		jobs:     make(map[string]*Job),
		wake:     make(chan struct{}, 1),
	}
	w.process = w.generate
	return w
}

// Start запускает диспетчер очереди.
func (w *Worker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})

	go w.dispatch(ctx)

	w.logger.Info("Генератор превью запущен",
		slog.Int("concurrency", w.cfg.Concurrency),
	)
}

// Stop останавливает приём задач и ждёт завершения обрабатываемых.
// Задачи, оставшиеся в очереди, отбрасываются.
func (w *Worker) Stop() {
	w.mu.Lock()
	w.stopped = true
	dropped := len(w.pending)
	w.mu.Unlock()

	if w.cancel != nil {
		w.cancel()
		<-w.done
	}

	w.logger.Info("Генератор превью остановлен", slog.Int("dropped", dropped))
}

// Enqueue ставит задачу в очередь. Возвращает false, если задача для этого
// файла уже в очереди или обрабатывается, а также после Stop.
func (w *Worker) Enqueue(fileID, storagePath string, category model.Category, mimeType string) bool {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return false
	}
	if _, exists := w.jobs[fileID]; exists {
		w.mu.Unlock()
		w.logger.Debug("Задача превью уже в очереди", slog.String("file_id", fileID))
		return false
	}

	job := &Job{
		FileID:      fileID,
		StoragePath: storagePath,
		Category:    category,
		MIMEType:    mimeType,
		QueuedAt:    w.now().UTC(),
		Status:      JobQueued,
	}
	w.jobs[fileID] = job
	w.pending = append(w.pending, job)
	w.updateGaugesLocked()
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	return true
}

// Status возвращает снимок очереди в порядке постановки.
func (w *Worker) Status() QueueStatus {
	w.mu.Lock()
	defer w.mu.Unlock()

	st := QueueStatus{
		Processing: w.processing,
		Items:      make([]Job, 0, len(w.jobs)),
	}
	for _, job := range w.jobs {
		if job.Status == JobQueued {
			st.Queued++
		}
		st.Items = append(st.Items, *job)
	}
	slices.SortStableFunc(st.Items, func(a, b Job) int {
		return a.QueuedAt.Compare(b.QueuedAt)
	})
	return st
}

// dispatch выбирает задачи из очереди и запускает их в пуле.
func (w *Worker) dispatch(ctx context.Context) {
	defer close(w.done)

	var g errgroup.Group
	g.SetLimit(w.cfg.Concurrency)
	defer g.Wait() //nolint:errcheck // задачи не возвращают ошибок

	for {
		job := w.next()
		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-w.wake:
				continue
			}
		}

		// Go блокируется, пока занято concurrency слотов
		g.Go(func() error {
			w.run(ctx, job)
			return nil
		})
	}
}

// next извлекает первую задачу очереди или nil.
func (w *Worker) next() *Job {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.pending) == 0 {
		return nil
	}
	job := w.pending[0]
	w.pending[0] = nil
	w.pending = w.pending[1:]
	return job
}

// run обрабатывает задачу в слоте пула.
func (w *Worker) run(ctx context.Context, job *Job) {
	w.mu.Lock()
	job.Status = JobProcessing
	w.processing++
	snapshot := *job
	w.updateGaugesLocked()
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		delete(w.jobs, job.FileID)
		w.processing--
		w.updateGaugesLocked()
		w.mu.Unlock()
	}()

	if ctx.Err() != nil {
		jobsTotal.WithLabelValues(resultDropped).Inc()
		return
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			jobsTotal.WithLabelValues(resultFailed).Inc()
			w.logger.Error("Паника при генерации превью",
				slog.String("file_id", job.FileID),
				slog.Any("panic", r),
			)
		}
		jobDuration.Observe(time.Since(start).Seconds())
	}()

	if err := w.process(ctx, snapshot); err != nil {
		jobsTotal.WithLabelValues(resultFailed).Inc()
		w.logger.Error("Ошибка генерации превью",
			slog.String("file_id", job.FileID),
			slog.String("error", err.Error()),
		)
	}
}

// generate строит превью изображения или назначает иконку категории
// и записывает путь в хранилище метаданных.
func (w *Worker) generate(ctx context.Context, job Job) error {
	var (
		thumbPath string
		result    string
		rendered  bool
	)

	if job.Category == model.CategoryImage {
		thumbPath = w.layout.ThumbnailPath(job.FileID)
		err := w.renderer.Render(w.layout.Abs(job.StoragePath), w.layout.Abs(thumbPath))
		if err == nil {
			result = resultGenerated
			rendered = true
		} else {
			w.logger.Warn("Не удалось построить превью, используется иконка",
				slog.String("file_id", job.FileID),
				slog.String("error", err.Error()),
			)
			thumbPath = w.icons.Path(IconDefault)
			result = resultFallback
		}
	} else {
		thumbPath = w.icons.Path(KindFor(job.MIMEType, job.Category))
		result = resultIcon
	}

	_, err := w.store.Update(ctx, job.FileID, repository.FileUpdate{ThumbnailPath: &thumbPath})
	if err != nil {
		if rendered {
			_ = w.files.Delete(thumbPath)
		}
		if errors.Is(err, repository.ErrNotFound) {
			// Файл удалён, пока задача ждала в очереди
			jobsTotal.WithLabelValues(resultDropped).Inc()
			return nil
		}
		return fmt.Errorf("ошибка сохранения пути превью: %w", err)
	}

	jobsTotal.WithLabelValues(result).Inc()
	w.logger.Debug("Превью готово",
		slog.String("file_id", job.FileID),
		slog.String("thumbnail", thumbPath),
		slog.String("result", result),
	)
	return nil
}

func (w *Worker) updateGaugesLocked() {
	queueSize.WithLabelValues(string(JobQueued)).Set(float64(len(w.jobs) - w.processing))
	queueSize.WithLabelValues(string(JobProcessing)).Set(float64(w.processing))
}
