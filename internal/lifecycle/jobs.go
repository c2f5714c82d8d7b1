package lifecycle

import (
	"context"
	"time"
)

// Intervals — периоды фоновых задач.
type Intervals struct {
	Expired        time.Duration
	Orphans        time.Duration
	Disk           time.Duration
	Temp           time.Duration
	Quarantine     time.Duration
	ThumbnailSweep time.Duration
}

// ThumbnailSweeper — очистка превью-сирот.
type ThumbnailSweeper interface {
	SweepOrphans(ctx context.Context) (int, error)
}

// RegisterJobs регистрирует задачи Manager и очистку превью в планировщике.
// sweeper может быть nil.
func RegisterJobs(s *Scheduler, m *Manager, iv Intervals, sweeper ThumbnailSweeper) error {
	jobs := []Job{
		{Name: JobExpiredPurge, Interval: iv.Expired, Run: discardResult(m.PurgeExpired)},
		{Name: JobOrphanReconcile, Interval: iv.Orphans, Run: discardResult(m.ReconcileOrphans)},
		{Name: JobTempCleanup, Interval: iv.Temp, Run: discardResult(m.CleanupTemp)},
		{Name: JobQuarantineCleanup, Interval: iv.Quarantine, Run: discardResult(m.CleanupOldQuarantine)},
		{Name: JobDiskPressure, Interval: iv.Disk, Run: func(ctx context.Context) error {
			_, err := m.CheckDiskPressure(ctx)
			return err
		}},
	}
	if sweeper != nil {
		jobs = append(jobs, Job{Name: JobThumbnailSweep, Interval: iv.ThumbnailSweep, Run: func(ctx context.Context) error {
			_, err := sweeper.SweepOrphans(ctx)
			return err
		}})
	}

	for _, job := range jobs {
		if err := s.Register(job); err != nil {
			return err
		}
	}
	return nil
}

func discardResult(fn func(context.Context) (JobResult, error)) func(context.Context) error {
	return func(ctx context.Context) error {
		_, err := fn(ctx)
		return err
	}
}
