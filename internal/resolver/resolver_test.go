package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/civicworks/complaint-forecast/internal/cache"
	"github.com/civicworks/complaint-forecast/internal/config"
	"github.com/civicworks/complaint-forecast/internal/models"
	"github.com/civicworks/complaint-forecast/internal/utils"
)

type fakeSource struct {
	series models.MonthlySeries
	err    error

	gotMetric       models.Metric
	gotLevelKey     string
	gotNeighborhood string
	gotItem         string
}

func (f *fakeSource) Series(_ context.Context, metric models.Metric, levelKey, neighborhood, item string) (models.MonthlySeries, error) {
	f.gotMetric = metric
	f.gotLevelKey = levelKey
	f.gotNeighborhood = neighborhood
	f.gotItem = item
	return f.series, f.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func monthlySeries(start time.Time, values ...float64) models.MonthlySeries {
	first := utils.MonthEnd(start)
	out := make(models.MonthlySeries, 0, len(values))
	for i, v := range values {
		out = append(out, models.SeriesPoint{Month: utils.AddMonths(first, i), Value: v})
	}
	return out
}

func varyingSeries(start time.Time, n int) models.MonthlySeries {
	values := make([]float64, n)
	for i := range values {
		values[i] = 100 + float64(i%4)*10
	}
	return monthlySeries(start, values...)
}

// monthRecords fabricates cases created in the given month, closedCount of
// them already closed.
func monthRecords(month time.Time, total, closedCount int) []models.ComplaintRecord {
	created := utils.MonthStart(month)
	out := make([]models.ComplaintRecord, 0, total)
	for i := 0; i < total; i++ {
		rec := models.ComplaintRecord{
			CreatedAt:    created,
			Neighborhood: "Midtown",
			Department:   "Public Works",
			CaseType:     "Pothole",
		}
		if i < closedCount {
			rec.ClosedAt = created.AddDate(0, 0, 5)
		}
		out = append(out, rec)
	}
	return out
}

func newResolver(source SeriesSource, records []models.ComplaintRecord) *Resolver {
	return New(source, records, config.Default().Forecast, cache.NoopProvider{}, quietLogger())
}

func volumeRequest() models.ForecastRequest {
	return models.ForecastRequest{
		Neighborhood: models.Citywide,
		Item:         models.AllItems,
		Metric:       models.MetricVolume,
	}
}

func TestShortSeriesDegradesToInsufficientData(t *testing.T) {
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	source := &fakeSource{series: monthlySeries(start, 10, 12, 14)}
	r := newResolver(source, nil)

	result, err := r.Resolve(context.Background(), volumeRequest())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !result.InsufficientData() {
		t.Fatalf("expected insufficient-data result, got %+v", result)
	}
	if result.Reliability != models.Unreliable {
		t.Fatalf("expected Unreliable, got %s", result.Reliability)
	}
	if len(result.Future) != 0 || result.MAPE != nil {
		t.Fatalf("degenerate result must have no future and nil MAPE")
	}
	for _, pt := range result.History {
		if pt.Actual == nil || pt.Predicted != *pt.Actual {
			t.Fatalf("degenerate history must mirror actuals: %+v", pt)
		}
	}
}

func TestConstantSeriesDegradesWithoutFit(t *testing.T) {
	start := time.Date(2022, time.January, 1, 0, 0, 0, 0, time.UTC)
	values := make([]float64, 24)
	for i := range values {
		values[i] = 100
	}
	source := &fakeSource{series: monthlySeries(start, values...)}

	r := newResolver(source, nil)
	fitCalls := 0
	r.fit = func(ts models.MonthlySeries, horizon, trendWindow int) ([]models.ForecastPoint, error) {
		fitCalls++
		return nil, nil
	}

	result, err := r.Resolve(context.Background(), volumeRequest())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if fitCalls != 0 {
		t.Fatalf("constant series must never reach the fitter")
	}
	if !result.InsufficientData() {
		t.Fatalf("expected degenerate result, got %+v", result)
	}
}

func TestAllItemsSeverityUsesCitywideSeries(t *testing.T) {
	start := time.Date(2023, time.January, 1, 0, 0, 0, 0, time.UTC)
	source := &fakeSource{series: varyingSeries(start, 18)}
	r := newResolver(source, nil)

	req := models.ForecastRequest{
		Neighborhood: "Midtown",
		Item:         models.AllItems,
		Metric:       models.MetricSeverity,
	}
	if _, err := r.Resolve(context.Background(), req); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if source.gotLevelKey != "citywide" || source.gotNeighborhood != "" || source.gotItem != "" {
		t.Fatalf("severity over all items must read the citywide series, got level=%q neighborhood=%q item=%q",
			source.gotLevelKey, source.gotNeighborhood, source.gotItem)
	}
	if source.gotMetric != models.MetricSeverity {
		t.Fatalf("metric must stay severity, got %s", source.gotMetric)
	}
}

func TestSpecificSliceCoordinates(t *testing.T) {
	start := time.Date(2023, time.January, 1, 0, 0, 0, 0, time.UTC)
	source := &fakeSource{series: varyingSeries(start, 18)}
	r := newResolver(source, nil)

	req := models.ForecastRequest{
		Neighborhood: "midtown",
		Item:         "public  works",
		Level:        models.LevelDepartment,
		Metric:       models.MetricVolume,
	}
	if _, err := r.Resolve(context.Background(), req); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if source.gotLevelKey != "neighborhood_department" {
		t.Fatalf("unexpected level key %q", source.gotLevelKey)
	}
	if source.gotNeighborhood != "Midtown" || source.gotItem != "Public Works" {
		t.Fatalf("labels must be normalized before lookup, got %q / %q",
			source.gotNeighborhood, source.gotItem)
	}
}

func TestClosureRateGovernsTrimDepth(t *testing.T) {
	start := time.Date(2023, time.January, 1, 0, 0, 0, 0, time.UTC)
	ts := varyingSeries(start, 20)
	secondToLast := ts[len(ts)-2].Month

	cases := []struct {
		name       string
		closed     int
		total      int
		wantLength int
	}{
		{"high closure trims one month", 19, 20, 19},
		{"low closure trims two months", 14, 20, 18},
		{"no cases trims two months", 0, 0, 18},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			source := &fakeSource{series: ts}
			r := newResolver(source, monthRecords(secondToLast, tc.total, tc.closed))

			var gotLength int
			r.fit = func(fitted models.MonthlySeries, horizon, trendWindow int) ([]models.ForecastPoint, error) {
				gotLength = len(fitted)
				return nil, nil
			}

			if _, err := r.Resolve(context.Background(), volumeRequest()); err != nil {
				t.Fatalf("resolve: %v", err)
			}
			if gotLength != tc.wantLength {
				t.Fatalf("fitter saw %d months, want %d", gotLength, tc.wantLength)
			}
		})
	}
}

func TestFitFailureDegrades(t *testing.T) {
	start := time.Date(2023, time.January, 1, 0, 0, 0, 0, time.UTC)
	source := &fakeSource{series: varyingSeries(start, 24)}
	r := newResolver(source, nil)
	r.fit = func(models.MonthlySeries, int, int) ([]models.ForecastPoint, error) {
		return nil, errors.New("singular matrix")
	}

	result, err := r.Resolve(context.Background(), volumeRequest())
	if err != nil {
		t.Fatalf("fit failures must not surface as errors, got %v", err)
	}
	if !result.InsufficientData() || result.Reliability != models.Unreliable {
		t.Fatalf("expected degraded result, got %+v", result)
	}
}

func TestUnknownMappingIsLoud(t *testing.T) {
	source := &fakeSource{}
	r := newResolver(source, nil)

	_, err := r.Resolve(context.Background(), models.ForecastRequest{
		Neighborhood: models.Citywide,
		Item:         "Public Works",
		Level:        models.Level("precinct"),
		Metric:       models.MetricVolume,
	})
	if !errors.Is(err, ErrNoSliceMapping) {
		t.Fatalf("expected ErrNoSliceMapping, got %v", err)
	}

	_, err = r.Resolve(context.Background(), models.ForecastRequest{
		Neighborhood: models.Citywide,
		Item:         models.AllItems,
		Metric:       models.Metric("sentiment"),
	})
	if !errors.Is(err, ErrNoSliceMapping) {
		t.Fatalf("expected ErrNoSliceMapping for unknown metric, got %v", err)
	}
}

func TestSeverityFutureStartsAtCurrentMonthAndPadsFlat(t *testing.T) {
	start := time.Date(2023, time.June, 1, 0, 0, 0, 0, time.UTC)
	source := &fakeSource{series: varyingSeries(start, 18)}
	r := newResolver(source, nil)
	r.now = func() time.Time {
		return time.Date(2025, time.March, 15, 0, 0, 0, 0, time.UTC)
	}
	r.fit = func(ts models.MonthlySeries, horizon, trendWindow int) ([]models.ForecastPoint, error) {
		points := make([]models.ForecastPoint, 0, len(ts)+6)
		for _, pt := range ts {
			actual := pt.Value
			points = append(points, models.ForecastPoint{Month: pt.Month, Actual: &actual, Predicted: pt.Value})
		}
		futureStart := utils.MonthEnd(time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC))
		for h := 0; h < 6; h++ {
			points = append(points, models.ForecastPoint{
				Month:     utils.AddMonths(futureStart, h),
				Predicted: float64(h + 1),
			})
		}
		return points, nil
	}

	req := models.ForecastRequest{
		Neighborhood: models.Citywide,
		Item:         "Traffic Signal",
		Level:        models.LevelCategory,
		Metric:       models.MetricSeverity,
	}
	result, err := r.Resolve(context.Background(), req)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	horizon := config.Default().Forecast.Severity.HorizonMonths
	if len(result.Future) != horizon {
		t.Fatalf("expected %d future months, got %d", horizon, len(result.Future))
	}
	wantStart := utils.MonthEnd(time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC))
	if !result.Future[0].Month.Equal(wantStart) {
		t.Fatalf("future must start at the current month end, got %s", result.Future[0].Month)
	}
	for i := 1; i < len(result.Future); i++ {
		want := utils.AddMonths(wantStart, i)
		if !result.Future[i].Month.Equal(want) {
			t.Fatalf("future months must be contiguous: got %s want %s", result.Future[i].Month, want)
		}
	}
	// January and February predictions fall before the window; March..June
	// survive, then the last prediction pads the remaining months flat.
	if result.Future[0].Predicted != 3 {
		t.Fatalf("expected March prediction 3, got %v", result.Future[0].Predicted)
	}
	for _, pt := range result.Future[3:] {
		if pt.Predicted != 6 {
			t.Fatalf("padding must repeat the final prediction, got %v", pt.Predicted)
		}
	}
}

func TestResolvedResultsAreMemoised(t *testing.T) {
	start := time.Date(2022, time.January, 1, 0, 0, 0, 0, time.UTC)
	source := &fakeSource{series: varyingSeries(start, 30)}
	r := New(source, nil, config.Default().Forecast, cache.NewMemoryProvider(), quietLogger())

	fitCalls := 0
	realFit := r.fit
	r.fit = func(ts models.MonthlySeries, horizon, trendWindow int) ([]models.ForecastPoint, error) {
		fitCalls++
		return realFit(ts, horizon, trendWindow)
	}

	ctx := context.Background()
	first, err := r.Resolve(ctx, volumeRequest())
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	second, err := r.Resolve(ctx, volumeRequest())
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}

	if fitCalls != 1 {
		t.Fatalf("expected one fit across repeated requests, got %d", fitCalls)
	}
	firstJSON, _ := json.Marshal(first)
	secondJSON, _ := json.Marshal(second)
	if string(firstJSON) != string(secondJSON) {
		t.Fatalf("memoised result differs:\nfirst:  %s\nsecond: %s", firstJSON, secondJSON)
	}
}
