package models

import "time"

// SeriesPoint is one (month-end, value) observation.
type SeriesPoint struct {
	Month time.Time `json:"ds"`
	Value float64   `json:"y"`
}

// MonthlySeries is a gap-free, strictly increasing sequence of month-end
// observations.
type MonthlySeries []SeriesPoint

// First returns the earliest month, or the zero time for an empty series.
func (s MonthlySeries) First() time.Time {
	if len(s) == 0 {
		return time.Time{}
	}
	return s[0].Month
}

// Last returns the latest month, or the zero time for an empty series.
func (s MonthlySeries) Last() time.Time {
	if len(s) == 0 {
		return time.Time{}
	}
	return s[len(s)-1].Month
}

// DistinctValues counts distinct observed values. A series with fewer than
// two distinct values cannot support a model fit.
func (s MonthlySeries) DistinctValues() int {
	seen := make(map[float64]struct{}, len(s))
	for _, p := range s {
		seen[p.Value] = struct{}{}
	}
	return len(seen)
}

// ForecastPoint carries an observed-and-or-predicted month. Actual is nil for
// future months the model extends beyond observed history.
type ForecastPoint struct {
	Month            time.Time `json:"ds"`
	Actual           *float64  `json:"y"`
	Predicted        float64   `json:"yhat"`
	Lower            float64   `json:"yhat_lower"`
	Upper            float64   `json:"yhat_upper"`
	RollingTrend     float64   `json:"rolling_trend"`
	RollingPctChange float64   `json:"rolling_pct_change"`
}

// Reliability labels how well the fitted model explains recent history. It is
// a backward-looking proxy for forward confidence, not validated accuracy.
type Reliability string

const (
	Reliable           Reliability = "Reliable"
	PossiblyUnreliable Reliability = "Possibly Unreliable"
	Unreliable         Reliability = "Unreliable"
)

// ForecastResult is the immutable outcome of resolving one slice.
type ForecastResult struct {
	History     []ForecastPoint `json:"history"`
	Future      []ForecastPoint `json:"future"`
	Reliability Reliability     `json:"reliability"`
	MAPE        *float64        `json:"mape"`
}

// InsufficientData reports whether the result is the degenerate no-fit shape:
// history mirrors the actuals and there is no future.
func (r ForecastResult) InsufficientData() bool {
	return len(r.Future) == 0 && r.MAPE == nil
}
