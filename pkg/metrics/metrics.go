package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TrainStepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "train_steps_total",
			Help: "Total number of optimizer steps executed",
		},
		[]string{"symbol"},
	)

	InstabilityResetsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "instability_resets_total",
			Help: "Total number of watchdog rollbacks",
		},
		[]string{"symbol", "cause"},
	)

	ExperiencesIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "experiences_ingested_total",
			Help: "Total number of experiences added to replay buffers",
		},
		[]string{"symbol"},
	)

	TrainingLoss = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "training_loss",
			Help: "Loss of the most recent training step",
		},
		[]string{"symbol"},
	)

	LearningRate = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "learning_rate",
			Help: "Current learning rate of the optimizer",
		},
		[]string{"symbol"},
	)

	GradientNorm = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gradient_norm",
			Help:    "Pre-clip global gradient L2 norm per step",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 12),
		},
		[]string{"symbol"},
	)

	DatabaseQueriesDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "db_queries_duration_seconds",
			Help: "Database query duration",
		},
		[]string{"operation"},
	)
)
