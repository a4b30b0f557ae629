package engine

import (
	"math"
	"testing"
	"time"

	"github.com/civicworks/complaint-forecast/internal/models"
	"github.com/civicworks/complaint-forecast/internal/utils"
)

func monthlySeries(start time.Time, values []float64) models.MonthlySeries {
	ts := make(models.MonthlySeries, 0, len(values))
	first := utils.MonthEnd(start)
	for i, v := range values {
		ts = append(ts, models.SeriesPoint{Month: utils.AddMonths(first, i), Value: v})
	}
	return ts
}

func constantSeries(start time.Time, n int, value float64) models.MonthlySeries {
	values := make([]float64, n)
	for i := range values {
		values[i] = value
	}
	return monthlySeries(start, values)
}

func TestConstantSeriesFitsFlatAndReliable(t *testing.T) {
	ts := constantSeries(time.Date(2022, time.January, 1, 0, 0, 0, 0, time.UTC), 24, 100)

	points, err := FitAndPredict(ts, 12, 3)
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	if len(points) != 36 {
		t.Fatalf("expected 24 history + 12 future points, got %d", len(points))
	}
	for _, pt := range points {
		if math.Abs(pt.Predicted-100) > 1 {
			t.Fatalf("fitted value drifted: %v at %v", pt.Predicted, pt.Month)
		}
	}

	mape := RecentMAPE(points, 3)
	if mape == nil {
		t.Fatalf("expected a MAPE for constant history")
	}
	if *mape > 1 {
		t.Fatalf("expected near-zero MAPE, got %v", *mape)
	}
	if got := Classify(mape, 50); got != models.Reliable {
		t.Fatalf("expected Reliable, got %s", got)
	}
}

func TestBoundsBracketEstimate(t *testing.T) {
	values := make([]float64, 36)
	for i := range values {
		// Upward trend with a yearly cycle and some spread.
		values[i] = 50 + 2*float64(i) + 10*math.Sin(2*math.Pi*float64(i)/12)
	}
	ts := monthlySeries(time.Date(2021, time.March, 1, 0, 0, 0, 0, time.UTC), values)

	points, err := FitAndPredict(ts, 6, 3)
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	for _, pt := range points {
		if pt.Lower > pt.Predicted || pt.Predicted > pt.Upper {
			t.Fatalf("bounds do not bracket estimate at %v: %v <= %v <= %v",
				pt.Month, pt.Lower, pt.Predicted, pt.Upper)
		}
	}

	// Future months continue month-end aligned with no gaps.
	for i := 1; i < len(points); i++ {
		if utils.MonthsBetween(points[i-1].Month, points[i].Month) != 1 {
			t.Fatalf("gap between %v and %v", points[i-1].Month, points[i].Month)
		}
	}
}

func TestPctChangeZeroPriorIsZero(t *testing.T) {
	changes := PctChange([]float64{0, 5, 10, 0, 7})
	if changes[0] != 0 {
		t.Fatalf("first period must be 0, got %v", changes[0])
	}
	if changes[1] != 0 {
		t.Fatalf("zero prior must yield 0%%, got %v", changes[1])
	}
	if changes[4] != 0 {
		t.Fatalf("zero prior later in series must yield 0%%, got %v", changes[4])
	}
	if math.Abs(changes[2]-100) > 1e-9 {
		t.Fatalf("expected +100%%, got %v", changes[2])
	}
}

func TestRollingTrendCenteredWithClampedEdges(t *testing.T) {
	trend := RollingTrend([]float64{1, 2, 3, 4, 5}, 3)
	want := []float64{1.5, 2, 3, 4, 4.5}
	for i := range want {
		if math.Abs(trend[i]-want[i]) > 1e-9 {
			t.Fatalf("trend[%d] = %v, want %v", i, trend[i], want[i])
		}
	}
}

func TestActualOnlyPointsMirrorActuals(t *testing.T) {
	ts := monthlySeries(time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC), []float64{3, 0, 9})
	points := ActualOnlyPoints(ts, 2)

	for i, pt := range points {
		if pt.Actual == nil || *pt.Actual != ts[i].Value {
			t.Fatalf("actual lost at %d: %+v", i, pt)
		}
		if pt.Predicted != ts[i].Value || pt.Lower != ts[i].Value || pt.Upper != ts[i].Value {
			t.Fatalf("degenerate point must equal actual: %+v", pt)
		}
	}
	// Zero prior in the pct-change path must not fault.
	if points[2].RollingPctChange != 0 {
		t.Fatalf("pct change after zero prior should be 0, got %v", points[2].RollingPctChange)
	}
}

func TestShortSeriesRejected(t *testing.T) {
	ts := monthlySeries(time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC), []float64{1, 2, 3})
	if _, err := FitAndPredict(ts, 6, 2); err == nil {
		t.Fatalf("expected error for series shorter than the model terms")
	}
}
