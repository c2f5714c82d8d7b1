package thumbnail

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ingest_thumbnail_queue_size",
			Help: "Количество задач превью по состоянию",
		},
		[]string{"state"},
	)

	jobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_thumbnail_jobs_total",
			Help: "Завершённые задачи превью по результату",
		},
		[]string{"result"},
	)

	jobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ingest_thumbnail_job_duration_seconds",
			Help:    "Длительность обработки задачи превью",
			Buckets: prometheus.DefBuckets,
		},
	)

	orphanThumbnailsDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_thumbnail_orphans_deleted_total",
			Help: "Удалённые превью без файла",
		},
	)
)

// Результаты задачи для метрики jobsTotal.
const (
	resultGenerated = "generated"
	resultIcon      = "icon"
	resultFallback  = "fallback"
	resultDropped   = "dropped"
	resultFailed    = "failed"
)
