// Package precompute materializes the monthly aggregation tables the
// resolver serves from, across the full cross-product of slice dimensions.
package precompute

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/civicworks/complaint-forecast/internal/models"
	"github.com/civicworks/complaint-forecast/internal/series"
	"github.com/civicworks/complaint-forecast/internal/store"
)

// Sink is the write side of the aggregate store.
type Sink interface {
	Replace(ctx context.Context, metric models.Metric, rows []store.AggregateRow) error
	ReplaceValidMonths(ctx context.Context, months models.MonthlySeries) error
}

// Runner drives one precompute pass. Slices are built sequentially; output
// ordering is deterministic so identical inputs produce identical tables.
type Runner struct {
	sink   Sink
	logger *slog.Logger
}

// NewRunner builds a Runner writing to sink.
func NewRunner(sink Sink, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{sink: sink, logger: logger}
}

var levels = []models.Level{models.LevelDepartment, models.LevelDivision, models.LevelCategory}

// Stats summarises one precompute pass.
type Stats struct {
	Records  int
	Rows     map[models.Metric]int
	Duration time.Duration
}

// Run rebuilds every aggregation table from the raw records, fully
// overwriting prior contents.
func (r *Runner) Run(ctx context.Context, records []models.ComplaintRecord) (Stats, error) {
	started := time.Now()
	stats := Stats{Records: len(records), Rows: make(map[models.Metric]int)}

	builder := series.NewBuilder(records)
	neighborhoods := distinctNeighborhoods(records)
	items := make(map[models.Level][]string, len(levels))
	for _, level := range levels {
		items[level] = distinctItems(records, level)
	}

	for _, metric := range []models.Metric{models.MetricVolume, models.MetricSeverity} {
		rows := r.buildRows(builder, records, metric, neighborhoods, items)
		if err := r.sink.Replace(ctx, metric, rows); err != nil {
			return stats, fmt.Errorf("persist %s table: %w", metric, err)
		}
		stats.Rows[metric] = len(rows)
		r.logger.Info("aggregation table written", "metric", string(metric), "rows", len(rows))
	}

	citywide := builder.Build(records, models.SliceKey{
		Neighborhood: models.Citywide,
		Item:         models.AllItems,
		Metric:       models.MetricVolume,
	})
	if err := r.sink.ReplaceValidMonths(ctx, citywide); err != nil {
		return stats, fmt.Errorf("persist valid months: %w", err)
	}

	stats.Duration = time.Since(started)
	r.logger.Info("precompute complete",
		"records", len(records),
		"neighborhoods", len(neighborhoods),
		"duration", stats.Duration)
	return stats, nil
}

func (r *Runner) buildRows(builder *series.Builder, records []models.ComplaintRecord, metric models.Metric, neighborhoods []string, items map[models.Level][]string) []store.AggregateRow {
	var rows []store.AggregateRow
	add := func(levelKey, neighborhood, item string, ts models.MonthlySeries) {
		for _, pt := range ts {
			rows = append(rows, store.AggregateRow{
				LevelKey:     levelKey,
				Neighborhood: neighborhood,
				Item:         item,
				Month:        pt.Month,
				Value:        pt.Value,
			})
		}
	}

	add("citywide", "", "", builder.Build(records, models.SliceKey{
		Neighborhood: models.Citywide, Item: models.AllItems, Metric: metric,
	}))

	for _, level := range levels {
		for _, item := range items[level] {
			add(string(level), "", item, builder.Build(records, models.SliceKey{
				Neighborhood: models.Citywide, Item: item, Level: level, Metric: metric,
			}))
		}
	}

	for _, neighborhood := range neighborhoods {
		add("neighborhood", neighborhood, "", builder.Build(records, models.SliceKey{
			Neighborhood: neighborhood, Item: models.AllItems, Metric: metric,
		}))
	}

	// Only observed neighborhood x item pairs get a slice; the full
	// cross-product would be dominated by empty series.
	for _, level := range levels {
		for _, pair := range observedPairs(records, level) {
			add("neighborhood_"+string(level), pair.neighborhood, pair.item,
				builder.Build(records, models.SliceKey{
					Neighborhood: pair.neighborhood, Item: pair.item, Level: level, Metric: metric,
				}))
		}
	}
	return rows
}

func distinctNeighborhoods(records []models.ComplaintRecord) []string {
	seen := make(map[string]struct{})
	for _, rec := range records {
		if n := models.NormalizeLabel(rec.Neighborhood); n != "" {
			seen[n] = struct{}{}
		}
	}
	return sortedKeys(seen)
}

func distinctItems(records []models.ComplaintRecord, level models.Level) []string {
	seen := make(map[string]struct{})
	for _, rec := range records {
		if item := models.NormalizeLabel(level.Field(rec)); item != "" {
			seen[item] = struct{}{}
		}
	}
	return sortedKeys(seen)
}

type slicePair struct {
	neighborhood string
	item         string
}

func observedPairs(records []models.ComplaintRecord, level models.Level) []slicePair {
	seen := make(map[slicePair]struct{})
	for _, rec := range records {
		pair := slicePair{
			neighborhood: models.NormalizeLabel(rec.Neighborhood),
			item:         models.NormalizeLabel(level.Field(rec)),
		}
		if pair.neighborhood == "" || pair.item == "" {
			continue
		}
		seen[pair] = struct{}{}
	}

	out := make([]slicePair, 0, len(seen))
	for pair := range seen {
		out = append(out, pair)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].neighborhood != out[j].neighborhood {
			return out[i].neighborhood < out[j].neighborhood
		}
		return out[i].item < out[j].item
	})
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
