// Package engine fits the additive monthly forecast model and scores how
// well it explains recent history.
package engine

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/civicworks/complaint-forecast/internal/models"
	"github.com/civicworks/complaint-forecast/internal/utils"
)

// intervalZ scales the residual spread into a ~95% uncertainty band.
const intervalZ = 1.96

// FitAndPredict fits an additive trend + yearly-seasonality model on the full
// series and returns month-end-aligned points covering history plus horizon
// future months. Each point carries the estimate, bracketing bounds, the
// centered rolling trend, and the period-over-period percent change of the
// observed-else-predicted series. The fit is stateless: every call refits.
func FitAndPredict(ts models.MonthlySeries, horizon, trendWindow int) ([]models.ForecastPoint, error) {
	n := len(ts)
	if n == 0 {
		return nil, fmt.Errorf("empty series")
	}
	if horizon < 0 {
		horizon = 0
	}

	order := fourierOrder(n)
	p := 2 + 2*order
	if n < p {
		return nil, fmt.Errorf("series of %d months cannot support %d model terms", n, p)
	}

	x := mat.NewDense(n, p, nil)
	y := mat.NewVecDense(n, nil)
	for i, pt := range ts {
		x.SetRow(i, featureRow(i, pt.Month.Month(), order))
		y.SetVec(i, pt.Value)
	}

	var beta mat.VecDense
	if err := beta.SolveVec(x, y); err != nil {
		return nil, fmt.Errorf("least squares solve: %w", err)
	}

	fitted := make([]float64, n)
	residuals := make([]float64, n)
	for i, pt := range ts {
		fitted[i] = mat.Dot(mat.NewVecDense(p, featureRow(i, pt.Month.Month(), order)), &beta)
		residuals[i] = pt.Value - fitted[i]
	}
	margin := intervalZ * stat.StdDev(residuals, nil)
	if math.IsNaN(margin) {
		margin = 0
	}

	points := make([]models.ForecastPoint, 0, n+horizon)
	blended := make([]float64, 0, n+horizon)
	for i, pt := range ts {
		actual := pt.Value
		points = append(points, models.ForecastPoint{
			Month:     pt.Month,
			Actual:    &actual,
			Predicted: fitted[i],
			Lower:     fitted[i] - margin,
			Upper:     fitted[i] + margin,
		})
		blended = append(blended, actual)
	}

	last := ts.Last()
	for h := 1; h <= horizon; h++ {
		month := utils.AddMonths(last, h)
		yhat := mat.Dot(mat.NewVecDense(p, featureRow(n-1+h, month.Month(), order)), &beta)
		points = append(points, models.ForecastPoint{
			Month:     month,
			Predicted: yhat,
			Lower:     yhat - margin,
			Upper:     yhat + margin,
		})
		blended = append(blended, yhat)
	}

	applyRollingFields(points, blended, trendWindow)
	return points, nil
}

// ActualOnlyPoints builds the degenerate no-fit shape: the forecast fields
// mirror the actual values at every historical point. Callers use it when a
// slice is too short or too flat to fit.
func ActualOnlyPoints(ts models.MonthlySeries, trendWindow int) []models.ForecastPoint {
	points := make([]models.ForecastPoint, 0, len(ts))
	values := make([]float64, 0, len(ts))
	for _, pt := range ts {
		actual := pt.Value
		points = append(points, models.ForecastPoint{
			Month:     pt.Month,
			Actual:    &actual,
			Predicted: actual,
			Lower:     actual,
			Upper:     actual,
		})
		values = append(values, actual)
	}
	applyRollingFields(points, values, trendWindow)
	return points
}

// fourierOrder picks the yearly harmonic count the history can support.
func fourierOrder(n int) int {
	if n >= 12 {
		return 3
	}
	return 1
}

// featureRow builds one design-matrix row: intercept, linear trend index,
// and yearly Fourier harmonics keyed on the calendar month.
func featureRow(t int, month time.Month, order int) []float64 {
	row := make([]float64, 0, 2+2*order)
	row = append(row, 1, float64(t))
	for k := 1; k <= order; k++ {
		angle := 2 * math.Pi * float64(k) * float64(month) / 12
		row = append(row, math.Cos(angle), math.Sin(angle))
	}
	return row
}

func applyRollingFields(points []models.ForecastPoint, blended []float64, window int) {
	trend := RollingTrend(blended, window)
	change := PctChange(blended)
	for i := range points {
		points[i].RollingTrend = trend[i]
		points[i].RollingPctChange = change[i]
	}
}

// RollingTrend computes a centered moving average over the window, shrinking
// it at the series edges rather than emitting partial-window gaps.
func RollingTrend(values []float64, window int) []float64 {
	n := len(values)
	out := make([]float64, n)
	if window < 1 {
		window = 1
	}
	for i := 0; i < n; i++ {
		lo := i - (window-1)/2
		hi := lo + window - 1
		if lo < 0 {
			lo = 0
		}
		if hi >= n {
			hi = n - 1
		}
		sum := 0.0
		for j := lo; j <= hi; j++ {
			sum += values[j]
		}
		out[i] = sum / float64(hi-lo+1)
	}
	return out
}

// PctChange returns period-over-period percent change. The first period and
// any period following a zero value are 0% by convention; dividing by a zero
// prior must never fault.
func PctChange(values []float64) []float64 {
	out := make([]float64, len(values))
	for i := 1; i < len(values); i++ {
		prior := values[i-1]
		if prior == 0 {
			out[i] = 0
			continue
		}
		out[i] = (values[i] - prior) / prior * 100
	}
	return out
}
