package engine

import (
	"math"
	"time"

	"github.com/civicworks/complaint-forecast/internal/models"
)

// reliableFraction is the fixed fraction of maxMAPE below which a fit is
// labelled Reliable. Not user-configurable.
const reliableFraction = 0.6

// RecentMAPE computes the mean absolute percentage error between actual and
// fitted values over the most recent recencyYears of the series, measured by
// date from the final point. Months without an actual, without a fit, or with
// an actual <= 0 are excluded. Returns nil when no month qualifies.
//
// This is a backward-looking measure of how well the model explains observed
// history, used as a proxy for forward confidence.
func RecentMAPE(points []models.ForecastPoint, recencyYears int) *float64 {
	if len(points) == 0 {
		return nil
	}
	var cutoff time.Time
	last := points[len(points)-1].Month
	if recencyYears > 0 {
		cutoff = last.AddDate(-recencyYears, 0, 0)
	}

	sum := 0.0
	count := 0
	for _, pt := range points {
		if pt.Month.Before(cutoff) {
			continue
		}
		if pt.Actual == nil || *pt.Actual <= 0 {
			continue
		}
		sum += math.Abs(*pt.Actual-pt.Predicted) / *pt.Actual
		count++
	}
	if count == 0 {
		return nil
	}
	mape := sum / float64(count) * 100
	return &mape
}

// Classify maps a MAPE onto the three-level reliability label. A missing
// MAPE means the fit explains nothing and is Unreliable outright.
func Classify(mape *float64, maxMAPE float64) models.Reliability {
	if mape == nil {
		return models.Unreliable
	}
	switch {
	case *mape <= reliableFraction*maxMAPE:
		return models.Reliable
	case *mape <= maxMAPE:
		return models.PossiblyUnreliable
	default:
		return models.Unreliable
	}
}
