package lifecycle

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_cleanup_runs_total",
		Help: "Запуски фоновых задач очистки по результату",
	}, []string{"job", "result"})

	jobDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ingest_cleanup_duration_seconds",
		Help:    "Длительность фоновых задач очистки в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
	}, []string{"job"})

	filesDeletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_cleanup_files_deleted_total",
		Help: "Файлы, удалённые задачами очистки",
	}, []string{"job"})

	bytesFreedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_cleanup_bytes_freed_total",
		Help: "Объём, освобождённый задачами очистки",
	}, []string{"job"})

	diskUsageRatio = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ingest_disk_usage_ratio",
		Help: "Доля занятого места в файловой системе хранилища",
	})

	statsCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingest_stats_cache_hits_total",
		Help: "Попадания в кэш размеров директорий",
	})

	statsCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingest_stats_cache_misses_total",
		Help: "Промахи кэша размеров директорий",
	})
)
