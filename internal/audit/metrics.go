package audit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var deliveryFailuresTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "ingest_audit_delivery_failures_total",
		Help: "События аудита, не доставленные в Kafka",
	},
)
