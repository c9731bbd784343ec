package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hickeroar/sentibayes/bayes"
)

// ClassifierMetrics tracks training, prediction and evaluation. A nil
// *ClassifierMetrics records nothing.
type ClassifierMetrics struct {
	TrainingDocuments  prometheus.Counter
	SkippedRows        prometheus.Counter
	VocabularySize     prometheus.Gauge
	Predictions        *prometheus.CounterVec
	PredictionDuration prometheus.Histogram
	EvaluationAccuracy prometheus.Gauge
}

// NewClassifierMetrics creates and registers classifier metrics on the given registry.
func NewClassifierMetrics(reg prometheus.Registerer) *ClassifierMetrics {
	m := &ClassifierMetrics{
		TrainingDocuments: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "training",
			Name:      "documents_total",
			Help:      "Total number of documents accepted for training.",
		}),
		SkippedRows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "training",
			Name:      "skipped_rows_total",
			Help:      "Total number of training rows skipped for an invalid label.",
		}),
		VocabularySize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "model",
			Name:      "vocabulary_size",
			Help:      "Number of distinct tokens in the current model.",
		}),
		Predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "prediction",
			Name:      "documents_total",
			Help:      "Total number of predicted documents by sentiment.",
		}, []string{"sentiment"}),
		PredictionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "prediction",
			Name:      "batch_duration_seconds",
			Help:      "Duration of prediction batches in seconds.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		}),
		EvaluationAccuracy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "evaluation",
			Name:      "accuracy_ratio",
			Help:      "Accuracy of the most recent evaluation.",
		}),
	}

	reg.MustRegister(
		m.TrainingDocuments,
		m.SkippedRows,
		m.VocabularySize,
		m.Predictions,
		m.PredictionDuration,
		m.EvaluationAccuracy,
	)
	return m
}

// ObserveTraining records the outcome of a training pass.
func (m *ClassifierMetrics) ObserveTraining(report bayes.TrainingReport) {
	if m == nil {
		return
	}
	m.TrainingDocuments.Add(float64(report.Documents))
	m.SkippedRows.Add(float64(len(report.Skipped)))
	m.VocabularySize.Set(float64(report.VocabularySize))
}

// SetVocabularySize records the vocabulary of a freshly loaded or flushed model.
func (m *ClassifierMetrics) SetVocabularySize(size int) {
	if m == nil {
		return
	}
	m.VocabularySize.Set(float64(size))
}

// ObservePredictions records a prediction batch and how long it took.
func (m *ClassifierMetrics) ObservePredictions(predictions []bayes.Prediction, elapsed time.Duration) {
	if m == nil {
		return
	}
	for _, p := range predictions {
		m.Predictions.WithLabelValues(p.Sentiment).Inc()
	}
	m.PredictionDuration.Observe(elapsed.Seconds())
}

// ObserveAccuracy records the accuracy of an evaluation.
func (m *ClassifierMetrics) ObserveAccuracy(accuracy float64) {
	if m == nil {
		return
	}
	m.EvaluationAccuracy.Set(accuracy)
}
