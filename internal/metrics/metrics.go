package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels forecasts that produced a fitted result.
	OutcomeSuccess = "success"
	// OutcomeDegraded labels forecasts that fell back to the actual-only shape.
	OutcomeDegraded = "degraded"
	// OutcomeUnavailable labels requests for slices with no backing table.
	OutcomeUnavailable = "unavailable"
	// OutcomeError labels forecasts that failed outright (storage faults).
	OutcomeError = "error"
)

var (
	forecastsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "complaint_forecast",
			Name:      "forecasts_total",
			Help:      "Total number of forecast requests handled, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	forecastSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "complaint_forecast",
			Name:      "forecast_seconds",
			Help:      "Slice resolution latency in seconds, including model fitting.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)

	precomputeSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "complaint_forecast",
			Name:      "precompute_seconds",
			Help:      "Duration of the most recent precompute pass in seconds.",
		},
	)

	precomputeRows = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "complaint_forecast",
			Name:      "precompute_rows",
			Help:      "Rows materialized by the most recent precompute pass, per metric table.",
		},
		[]string{"metric"},
	)
)

// Register attaches forecast collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		forecastsTotal,
		forecastSeconds,
		precomputeSeconds,
		precomputeRows,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveForecast records one resolved forecast with its outcome label.
func ObserveForecast(duration time.Duration, outcome string) {
	forecastsTotal.WithLabelValues(outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	forecastSeconds.Observe(duration.Seconds())
}

// ObservePrecompute records the duration and row counts of a precompute pass.
func ObservePrecompute(duration time.Duration, rowsPerMetric map[string]int) {
	precomputeSeconds.Set(duration.Seconds())
	for metric, rows := range rowsPerMetric {
		precomputeRows.WithLabelValues(metric).Set(float64(rows))
	}
}
