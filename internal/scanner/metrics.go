package scanner

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// scanDuration — длительность проверки по итоговому статусу.
	scanDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingest_scan_duration_seconds",
			Help:    "Длительность антивирусной проверки в секундах",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"status"},
	)

	// scanOutcomes — исходы проверки.
	scanOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_scan_outcomes_total",
			Help: "Количество антивирусных проверок по исходу и причине",
		},
		[]string{"status", "reason"},
	)

	// scannerAvailable — 1, если движок доступен.
	scannerAvailable = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ingest_scanner_available",
			Help: "Доступность антивирусного движка (1 — доступен)",
		},
	)
)
