package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TasksSubmitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "conjoiner_tasks_submitted_total",
			Help: "Total preparation tasks submitted",
		},
	)

	TasksCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conjoiner_tasks_completed_total",
			Help: "Total preparation tasks that reached a terminal state",
		},
		[]string{"status"},
	)

	TaskDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "conjoiner_task_duration_seconds",
			Help:    "Wall time of a preparation task",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 1800},
		},
	)

	SubstancesProcessed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "conjoiner_substances_processed_total",
			Help: "Total substances assembled into data entries",
		},
	)

	EffectsSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "conjoiner_effects_skipped_total",
			Help: "Total effects or substances skipped as unrecoverable",
		},
	)

	DatasetsPrepared = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "conjoiner_datasets_prepared_total",
			Help: "Total datasets produced",
		},
	)

	UpstreamRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conjoiner_upstream_request_duration_seconds",
			Help:    "Outbound request duration by upstream",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 60},
		},
		[]string{"upstream"},
	)
)

func Init() {
	prometheus.MustRegister(TasksSubmitted)
	prometheus.MustRegister(TasksCompleted)
	prometheus.MustRegister(TaskDuration)
	prometheus.MustRegister(SubstancesProcessed)
	prometheus.MustRegister(EffectsSkipped)
	prometheus.MustRegister(DatasetsPrepared)
	prometheus.MustRegister(UpstreamRequestDuration)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
