// Package resolver answers slice forecast requests against the precomputed
// aggregation tables, applying the trailing-month trim and degradation
// policies before and after the model fit.
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/civicworks/complaint-forecast/internal/cache"
	"github.com/civicworks/complaint-forecast/internal/config"
	"github.com/civicworks/complaint-forecast/internal/engine"
	"github.com/civicworks/complaint-forecast/internal/models"
	"github.com/civicworks/complaint-forecast/internal/series"
	"github.com/civicworks/complaint-forecast/internal/utils"
)

// ErrNoSliceMapping signals a level/metric combination with no backing
// aggregation table. Callers render it as "not available" rather than
// crashing.
var ErrNoSliceMapping = errors.New("no aggregation table for slice")

// SeriesSource is the read side of the aggregate store.
type SeriesSource interface {
	Series(ctx context.Context, metric models.Metric, levelKey, neighborhood, item string) (models.MonthlySeries, error)
}

// Resolver resolves slice keys to forecast results. Raw records are retained
// only for the trailing-month closure-rate check; all series come from the
// precomputed tables.
type Resolver struct {
	source  SeriesSource
	records []models.ComplaintRecord
	cfg     config.ForecastConfig
	cache   cache.Provider
	logger  *slog.Logger

	// Seams for tests.
	fit func(ts models.MonthlySeries, horizon, trendWindow int) ([]models.ForecastPoint, error)
	now func() time.Time
}

// New builds a Resolver over the precomputed source. A nil provider disables
// memoisation.
func New(source SeriesSource, records []models.ComplaintRecord, cfg config.ForecastConfig, provider cache.Provider, logger *slog.Logger) *Resolver {
	if provider == nil {
		provider = cache.NoopProvider{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		source:  source,
		records: records,
		cfg:     cfg,
		cache:   provider,
		logger:  logger,
		fit:     engine.FitAndPredict,
		now:     time.Now,
	}
}

// Resolve answers one forecast request. Insufficient data and fit failures
// degrade to the actual-only result; only unknown slice mappings and storage
// faults surface as errors.
func (r *Resolver) Resolve(ctx context.Context, req models.ForecastRequest) (models.ForecastResult, error) {
	key, err := normalizeKey(req)
	if err != nil {
		return models.ForecastResult{}, err
	}

	mc := r.cfg.Metric(key.Metric == models.MetricVolume)
	horizon := mc.HorizonMonths
	if req.Horizon > 0 {
		horizon = req.Horizon
	}

	cacheKey := resultCacheKey(key, horizon)
	if cached, err := r.cache.Get(ctx, cacheKey); err == nil {
		var result models.ForecastResult
		if err := json.Unmarshal(cached, &result); err == nil {
			return result, nil
		}
		r.cache.Del(ctx, cacheKey)
	}

	ts, err := r.lookup(ctx, key)
	if err != nil {
		return models.ForecastResult{}, err
	}

	ts = r.trimIncomplete(ts, key)

	result := r.forecast(ts, key, mc, horizon)

	if encoded, err := json.Marshal(result); err == nil {
		if err := r.cache.Set(ctx, cacheKey, encoded, r.cfg.ResultTTL); err != nil {
			r.logger.Warn("forecast cache write failed", "key", cacheKey, "error", err)
		}
	}
	return result, nil
}

func (r *Resolver) forecast(ts models.MonthlySeries, key models.SliceKey, mc config.MetricConfig, horizon int) models.ForecastResult {
	if len(ts) < mc.MinMonths || ts.DistinctValues() < 2 {
		return degraded(ts, mc.TrendWindow)
	}

	points, err := r.fit(ts, horizon, mc.TrendWindow)
	if err != nil {
		r.logger.Warn("model fit failed, degrading to actuals",
			"neighborhood", key.Neighborhood, "item", key.Item,
			"level", string(key.Level), "metric", string(key.Metric),
			"error", err)
		return degraded(ts, mc.TrendWindow)
	}

	var history, future []models.ForecastPoint
	for _, pt := range points {
		if pt.Actual != nil {
			history = append(history, pt)
		} else {
			future = append(future, pt)
		}
	}
	if key.Metric == models.MetricSeverity {
		future = r.alignSeverityFuture(future, horizon)
	}

	mape := engine.RecentMAPE(history, r.cfg.RecencyYears)
	return models.ForecastResult{
		History:     history,
		Future:      future,
		Reliability: engine.Classify(mape, mc.MaxMAPE),
		MAPE:        mape,
	}
}

// lookup fetches the slice's precomputed series. Severity requests spanning
// every item fall back to the citywide severity series regardless of the
// requested neighborhood, an intentional guard against noisy per-neighborhood
// aggregate severity.
func (r *Resolver) lookup(ctx context.Context, key models.SliceKey) (models.MonthlySeries, error) {
	levelKey, neighborhood, item := storeCoordinates(key)

	ts, err := r.source.Series(ctx, key.Metric, levelKey, neighborhood, item)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSliceMapping, err)
	}
	return ts, nil
}

func storeCoordinates(key models.SliceKey) (levelKey, neighborhood, item string) {
	if key.Metric == models.MetricSeverity && key.IsAllItems() {
		return "citywide", "", ""
	}
	levelKey = key.LevelKey()
	if !key.IsCitywide() {
		neighborhood = key.Neighborhood
	}
	if !key.IsAllItems() {
		item = key.Item
	}
	return levelKey, neighborhood, item
}

// trimIncomplete drops the trailing one or two months, which typically carry
// partially observed data. The trim depth depends on how many cases created
// in the second-to-last month have already closed: at or above the configured
// threshold only the final month goes, otherwise the final two.
func (r *Resolver) trimIncomplete(ts models.MonthlySeries, key models.SliceKey) models.MonthlySeries {
	if len(ts) < 2 {
		return ts
	}

	trim := 2
	if r.closureRate(ts[len(ts)-2].Month, key) >= r.cfg.ClosureThreshold {
		trim = 1
	}
	if trim >= len(ts) {
		return nil
	}
	return ts[:len(ts)-trim]
}

// closureRate returns the closed fraction of cases created in the given
// month within the slice's record scope. Zero cases reads as fully
// unresolved.
func (r *Resolver) closureRate(month time.Time, key models.SliceKey) float64 {
	scope := key
	if key.Metric == models.MetricSeverity && key.IsAllItems() {
		scope.Neighborhood = models.Citywide
	}

	total, closed := 0, 0
	for _, rec := range series.FilterRecords(r.records, scope) {
		if !utils.MonthEnd(rec.CreatedAt).Equal(month) {
			continue
		}
		total++
		if rec.Closed() {
			closed++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(closed) / float64(total)
}

// alignSeverityFuture reindexes the forecast window to start at the current
// calendar month and pads it flat to the requested horizon, so severity pages
// always show a full forward window even when trimming shortened the fit.
func (r *Resolver) alignSeverityFuture(future []models.ForecastPoint, horizon int) []models.ForecastPoint {
	if len(future) == 0 || horizon <= 0 {
		return future
	}

	start := utils.MonthEnd(r.now())
	aligned := make([]models.ForecastPoint, 0, horizon)
	for _, pt := range future {
		if pt.Month.Before(start) {
			continue
		}
		aligned = append(aligned, pt)
	}

	template := future[len(future)-1]
	next := start
	if len(aligned) > 0 {
		next = utils.AddMonths(aligned[len(aligned)-1].Month, 1)
	}
	for len(aligned) < horizon {
		pad := template
		pad.Month = next
		aligned = append(aligned, pad)
		next = utils.AddMonths(next, 1)
	}
	return aligned[:horizon]
}

// degraded is the insufficient-data shape: forecast fields mirror the actuals
// and there is no forward window.
func degraded(ts models.MonthlySeries, trendWindow int) models.ForecastResult {
	return models.ForecastResult{
		History:     engine.ActualOnlyPoints(ts, trendWindow),
		Reliability: models.Unreliable,
	}
}

// normalizeKey canonicalizes the request into a SliceKey, applying the same
// label normalization the aggregation tables were built with.
func normalizeKey(req models.ForecastRequest) (models.SliceKey, error) {
	key := req.Slice()

	switch key.Metric {
	case models.MetricVolume, models.MetricSeverity:
	default:
		return models.SliceKey{}, fmt.Errorf("%w: metric %q", ErrNoSliceMapping, key.Metric)
	}

	if key.Neighborhood == "" || strings.EqualFold(key.Neighborhood, models.Citywide) {
		key.Neighborhood = models.Citywide
	} else {
		key.Neighborhood = models.NormalizeLabel(key.Neighborhood)
	}
	if key.Item == "" || strings.EqualFold(key.Item, models.AllItems) {
		key.Item = models.AllItems
	} else {
		key.Item = models.NormalizeLabel(key.Item)
	}

	if !key.IsAllItems() {
		switch key.Level {
		case models.LevelDepartment, models.LevelDivision, models.LevelCategory:
		default:
			return models.SliceKey{}, fmt.Errorf("%w: level %q", ErrNoSliceMapping, key.Level)
		}
	}
	return key, nil
}

func resultCacheKey(key models.SliceKey, horizon int) string {
	return fmt.Sprintf("forecast:%s|%s|%s|%s|%d",
		key.Neighborhood, key.Item, key.Level, key.Metric, horizon)
}
