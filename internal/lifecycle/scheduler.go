// scheduler.go — запуск фоновых задач по таймерам.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ErrUnknownJob — задача с таким именем не зарегистрирована.
var ErrUnknownJob = errors.New("неизвестная задача")

// Job — периодическая задача.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// JobInfo — состояние задачи для административного API.
type JobInfo struct {
	Name      string     `json:"name"`
	Interval  string     `json:"interval"`
	Running   bool       `json:"running"`
	LastRun   *time.Time `json:"lastRun,omitempty"`
	LastError string     `json:"lastError,omitempty"`
}

type jobState struct {
	job       Job
	lastRun   *time.Time
	lastError string
}

// Scheduler — планировщик фоновых задач. Запуск задачи, предыдущий
// запуск которой не завершён, пропускается. Ошибки и паники задач
// журналируются и не останавливают планировщик.
type Scheduler struct {
	mu     sync.Mutex
	jobs   map[string]*jobState
	guard  *jobGuard
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler создаёт планировщик.
func NewScheduler(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		jobs:   make(map[string]*jobState),
		guard:  newJobGuard(),
		logger: logger.With(slog.String("component", "scheduler")),
	}
}

// Register добавляет задачу. Вызывается до Start.
func (s *Scheduler) Register(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("задача без имени или функции")
	}
	if job.Interval <= 0 {
		return fmt.Errorf("задача %s: интервал должен быть положительным", job.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("задача %s уже зарегистрирована", job.Name)
	}
	s.jobs[job.Name] = &jobState{job: job}
	return nil
}

// Start запускает по горутине на задачу. Первый запуск — через Interval.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	jobs := make([]Job, 0, len(s.jobs))
	for _, st := range s.jobs {
		jobs = append(jobs, st.job)
	}
	s.mu.Unlock()

	for _, job := range jobs {
		s.wg.Add(1)
		go s.loop(job)
	}

	s.logger.Info("Планировщик запущен", slog.Int("jobs", len(jobs)))
}

// Stop останавливает таймеры и ждёт завершения выполняющихся задач.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.logger.Info("Планировщик остановлен")
}

func (s *Scheduler) loop(job Job) {
	defer s.wg.Done()

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.RunOnce(s.ctx, job.Name); errors.Is(err, ErrJobInProgress) {
				s.logger.Info("Задача ещё выполняется, тик пропущен", slog.String("job", job.Name))
			}
		}
	}
}

// RunOnce синхронно выполняет задачу.
func (s *Scheduler) RunOnce(ctx context.Context, name string) error {
	st, err := s.lookup(name)
	if err != nil {
		return err
	}
	release, ok := s.guard.acquire(name)
	if !ok {
		jobRunsTotal.WithLabelValues(name, "skipped").Inc()
		return ErrJobInProgress
	}
	defer release()
	return s.execute(ctx, st)
}

// Trigger запускает задачу в фоне. Возвращает ErrJobInProgress, если
// задача уже выполняется, и ErrUnknownJob для незарегистрированной задачи.
func (s *Scheduler) Trigger(name string) error {
	st, err := s.lookup(name)
	if err != nil {
		return err
	}
	release, ok := s.guard.acquire(name)
	if !ok {
		jobRunsTotal.WithLabelValues(name, "skipped").Inc()
		return ErrJobInProgress
	}

	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer release()
		_ = s.execute(ctx, st)
	}()

	s.logger.Info("Задача запущена вручную", slog.String("job", name))
	return nil
}

// Jobs возвращает состояние задач, отсортированных по имени.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]JobInfo, 0, len(s.jobs))
	for name, st := range s.jobs {
		infos = append(infos, JobInfo{
			Name:      name,
			Interval:  st.job.Interval.String(),
			Running:   s.guard.isRunning(name),
			LastRun:   st.lastRun,
			LastError: st.lastError,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

func (s *Scheduler) lookup(name string) (*jobState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.jobs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return st, nil
}

// execute выполняет задачу с перехватом паники.
func (s *Scheduler) execute(ctx context.Context, st *jobState) (err error) {
	name := st.job.Name
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("паника в задаче %s: %v", name, r)
			jobRunsTotal.WithLabelValues(name, "panic").Inc()
			s.logger.Error("Паника в фоновой задаче",
				slog.String("job", name),
				slog.Any("panic", r),
			)
		}

		finished := time.Now().UTC()
		s.mu.Lock()
		st.lastRun = &finished
		st.lastError = ""
		if err != nil {
			st.lastError = err.Error()
		}
		s.mu.Unlock()
	}()

	err = st.job.Run(ctx)
	switch {
	case errors.Is(err, ErrJobInProgress):
		jobRunsTotal.WithLabelValues(name, "skipped").Inc()
		return err
	case err != nil:
		jobRunsTotal.WithLabelValues(name, "error").Inc()
		s.logger.Error("Фоновая задача завершилась с ошибкой",
			slog.String("job", name),
			slog.String("error", err.Error()),
			slog.Duration("duration", time.Since(start)),
		)
		return err
	default:
		jobRunsTotal.WithLabelValues(name, "success").Inc()
		return nil
	}
}
