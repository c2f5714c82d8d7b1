package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	uploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_uploads_total",
			Help: "Загрузки по результату (accepted, rejected, failed)",
		},
		[]string{"outcome"},
	)

	uploadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_upload_bytes_total",
			Help: "Объём принятых файлов в байтах",
		},
	)

	validationFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_validation_failures_total",
			Help: "Отказы валидации по классу",
		},
		[]string{"kind"},
	)

	quarantineTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_quarantine_total",
			Help: "Файлы, помещённые в карантин, по причине",
		},
		[]string{"reason"},
	)

	quarantineHeldTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_quarantine_held_total",
			Help: "Отклонённые файлы, удержанные на месте из-за недоступного карантина",
		},
	)

	downloadsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_downloads_total",
			Help: "Выданные скачивания файлов",
		},
	)
)
