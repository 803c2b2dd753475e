package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 予測モード（メトリクスのラベル値）
const (
	ModeBatch   = "batch"
	ModeOnline  = "online"
	ModeVectors = "vectors"
)

var (
	trainingRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "featurepipe",
		Name:      "training_runs_total",
		Help:      "Number of training runs by model and outcome.",
	}, []string{"model", "status"})

	trainingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "featurepipe",
		Name:      "training_duration_seconds",
		Help:      "Wall time of successful training runs.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
	}, []string{"model"})

	predictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "featurepipe",
		Name:      "predictions_total",
		Help:      "Number of scored rows by model and mode.",
	}, []string{"model", "mode"})

	predictionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "featurepipe",
		Name:      "prediction_errors_total",
		Help:      "Number of failed prediction calls by model and mode.",
	}, []string{"model", "mode"})

	predictionLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "featurepipe",
		Name:      "prediction_duration_seconds",
		Help:      "Latency of prediction calls by model and mode.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"model", "mode"})
)
