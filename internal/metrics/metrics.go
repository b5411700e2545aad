package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TrainingRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emissionwatch_training_runs_total",
			Help: "Total model training attempts",
		},
		[]string{"status"},
	)

	TrainingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "emissionwatch_training_duration_seconds",
			Help:    "Model training duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)

	ModelTrained = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "emissionwatch_model_trained",
			Help: "1 when a trained model is loaded, 0 otherwise",
		},
	)

	PredictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emissionwatch_predictions_total",
			Help: "Total prediction calls",
		},
		[]string{"status"},
	)

	PredictedRows = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "emissionwatch_predicted_rows_total",
			Help: "Total rows scored by the model",
		},
	)

	ThresholdWarnings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emissionwatch_threshold_warnings_total",
			Help: "Predicted values exceeding their configured threshold",
		},
		[]string{"parameter_code"},
	)

	PredictionLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "emissionwatch_prediction_latency_seconds",
			Help:    "Prediction call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SourceFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emissionwatch_source_fetches_total",
			Help: "Training data fetches by scheme and status",
		},
		[]string{"scheme", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "emissionwatch_http_requests_total",
			Help: "HTTP requests by route and status code",
		},
		[]string{"route", "code"},
	)
)
