// Package series turns filtered slices of raw complaint records into
// continuous monthly time series ready for model fitting.
package series

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/civicworks/complaint-forecast/internal/models"
	"github.com/civicworks/complaint-forecast/internal/utils"
)

// resolutionCapQuantile caps extreme resolution times before averaging, so a
// handful of years-open cases cannot dominate a month's severity.
const resolutionCapQuantile = 0.95

// Builder holds the slice-independent severity statistics: the global
// 95th-percentile resolution cap and the per-case-type medians used to impute
// missing resolution times. Both are computed once over the full dataset.
type Builder struct {
	capDays        float64
	caseTypeMedian map[string]float64
}

// NewBuilder derives the capping and imputation statistics from the full
// record set.
func NewBuilder(records []models.ComplaintRecord) *Builder {
	all := make([]float64, 0, len(records))
	for _, r := range records {
		if days, ok := r.ResolutionDays(); ok {
			all = append(all, days)
		}
	}

	b := &Builder{caseTypeMedian: make(map[string]float64)}
	if len(all) == 0 {
		return b
	}

	sort.Float64s(all)
	b.capDays = stat.Quantile(resolutionCapQuantile, stat.LinInterp, all, nil)

	byCaseType := make(map[string][]float64)
	for _, r := range records {
		if days, ok := r.ResolutionDays(); ok {
			ct := models.NormalizeLabel(r.CaseType)
			byCaseType[ct] = append(byCaseType[ct], math.Min(days, b.capDays))
		}
	}
	for ct, values := range byCaseType {
		sort.Float64s(values)
		b.caseTypeMedian[ct] = stat.Quantile(0.5, stat.LinInterp, values, nil)
	}
	return b
}

// CapDays exposes the global resolution cap.
func (b *Builder) CapDays() float64 { return b.capDays }

// Build produces the monthly series for one slice. Volume series fill absent
// months with zero; severity series interpolate gaps and edge-fill. The
// caller decides whether the result is long enough to fit a model.
func (b *Builder) Build(records []models.ComplaintRecord, key models.SliceKey) models.MonthlySeries {
	filtered := FilterRecords(records, key)
	if len(filtered) == 0 {
		return nil
	}

	switch key.Metric {
	case models.MetricSeverity:
		return b.severitySeries(filtered)
	default:
		return volumeSeries(filtered)
	}
}

// FilterRecords narrows records to the slice's neighborhood and item, using
// normalized label comparison.
func FilterRecords(records []models.ComplaintRecord, key models.SliceKey) []models.ComplaintRecord {
	wantNeigh := ""
	if !key.IsCitywide() {
		wantNeigh = models.NormalizeLabel(key.Neighborhood)
	}
	wantItem := ""
	if !key.IsAllItems() {
		wantItem = models.NormalizeLabel(key.Item)
	}
	if wantNeigh == "" && wantItem == "" {
		return records
	}

	out := make([]models.ComplaintRecord, 0, len(records))
	for _, r := range records {
		if wantNeigh != "" && models.NormalizeLabel(r.Neighborhood) != wantNeigh {
			continue
		}
		if wantItem != "" && models.NormalizeLabel(key.Level.Field(r)) != wantItem {
			continue
		}
		out = append(out, r)
	}
	return out
}

func volumeSeries(records []models.ComplaintRecord) models.MonthlySeries {
	counts := make(map[time.Time]float64)
	for _, r := range records {
		counts[utils.MonthEnd(r.CreatedAt)]++
	}
	return fillFromMap(counts, models.MetricVolume)
}

func (b *Builder) severitySeries(records []models.ComplaintRecord) models.MonthlySeries {
	sums := make(map[time.Time]float64)
	ns := make(map[time.Time]int)
	for _, r := range records {
		days, ok := b.Resolution(r)
		if !ok {
			continue
		}
		m := utils.MonthEnd(r.CreatedAt)
		sums[m] += days
		ns[m]++
	}

	means := make(map[time.Time]float64, len(sums))
	for m, sum := range sums {
		means[m] = sum / float64(ns[m])
	}
	return fillFromMap(means, models.MetricSeverity)
}

// Resolution returns the capped resolution time for a record, imputing the
// case-type median when the case is still open. The second return value is
// false when no value can be produced at all.
func (b *Builder) Resolution(r models.ComplaintRecord) (float64, bool) {
	if days, ok := r.ResolutionDays(); ok {
		return math.Min(days, b.capDays), true
	}
	median, ok := b.caseTypeMedian[models.NormalizeLabel(r.CaseType)]
	return median, ok
}

func fillFromMap(values map[time.Time]float64, metric models.Metric) models.MonthlySeries {
	if len(values) == 0 {
		return nil
	}
	months := make([]time.Time, 0, len(values))
	for m := range values {
		months = append(months, m)
	}
	sort.Slice(months, func(i, j int) bool { return months[i].Before(months[j]) })

	sparse := make(models.MonthlySeries, 0, len(months))
	for _, m := range months {
		sparse = append(sparse, models.SeriesPoint{Month: m, Value: values[m]})
	}
	return FillMonthly(sparse, metric)
}

// FillMonthly reindexes a sorted sparse series onto the full contiguous
// month range between its first and last observation. Volume gaps become
// zero; severity gaps are linearly interpolated, then the edges are filled
// with the nearest observation.
func FillMonthly(sparse models.MonthlySeries, metric models.Metric) models.MonthlySeries {
	if len(sparse) == 0 {
		return nil
	}

	observed := make(map[time.Time]float64, len(sparse))
	for _, p := range sparse {
		observed[p.Month] = p.Value
	}

	months := utils.MonthRange(sparse.First(), sparse.Last())
	out := make(models.MonthlySeries, len(months))
	missing := make([]bool, len(months))
	for i, m := range months {
		v, ok := observed[m]
		out[i] = models.SeriesPoint{Month: m, Value: v}
		missing[i] = !ok
	}

	if metric == models.MetricVolume {
		// Zero-filled already: absent months had no complaints.
		return out
	}

	interpolate(out, missing)
	return out
}

// interpolate fills gaps linearly between known neighbors; runs touching the
// series edges copy the nearest known value.
func interpolate(points models.MonthlySeries, missing []bool) {
	n := len(points)
	i := 0
	for i < n {
		if !missing[i] {
			i++
			continue
		}
		start := i
		for i < n && missing[i] {
			i++
		}
		// Gap spans [start, i).
		switch {
		case start == 0 && i == n:
			// Entire series missing; nothing to anchor on.
		case start == 0:
			for j := start; j < i; j++ {
				points[j].Value = points[i].Value
			}
		case i == n:
			for j := start; j < i; j++ {
				points[j].Value = points[start-1].Value
			}
		default:
			lo := points[start-1].Value
			hi := points[i].Value
			span := float64(i - start + 1)
			for j := start; j < i; j++ {
				frac := float64(j-start+1) / span
				points[j].Value = lo + (hi-lo)*frac
			}
		}
	}
}
