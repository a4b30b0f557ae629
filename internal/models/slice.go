package models

import "fmt"

// Citywide is the neighborhood value selecting the all-neighborhoods
// aggregate, and AllItems the item value selecting every department,
// division, or category.
const (
	Citywide = "CITYWIDE"
	AllItems = "ALL"
)

// Level enumerates the taxonomy axes an item can filter against.
type Level string

const (
	LevelDepartment Level = "department"
	LevelDivision   Level = "division"
	LevelCategory   Level = "category"
)

// ParseLevel maps user input onto a Level.
func ParseLevel(s string) (Level, error) {
	switch Level(s) {
	case LevelDepartment, LevelDivision, LevelCategory:
		return Level(s), nil
	}
	return "", fmt.Errorf("unknown level %q", s)
}

// Field returns the record value the level filters against.
func (l Level) Field(r ComplaintRecord) string {
	switch l {
	case LevelDepartment:
		return r.Department
	case LevelDivision:
		return r.Division
	case LevelCategory:
		return r.Category
	}
	return ""
}

// Metric enumerates the two forecastable measures.
type Metric string

const (
	// MetricVolume counts requests created per month.
	MetricVolume Metric = "volume"
	// MetricSeverity is the mean resolution time in days per month.
	MetricSeverity Metric = "severity"
)

// ParseMetric maps user input onto a Metric.
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case MetricVolume, MetricSeverity:
		return Metric(s), nil
	}
	return "", fmt.Errorf("unknown metric %q", s)
}

// SliceKey narrows the dataset to one forecastable monthly series.
type SliceKey struct {
	Neighborhood string
	Item         string
	Level        Level
	Metric       Metric
}

// IsCitywide reports whether the slice spans all neighborhoods.
func (k SliceKey) IsCitywide() bool { return k.Neighborhood == Citywide }

// IsAllItems reports whether the slice spans every item at its level.
func (k SliceKey) IsAllItems() bool { return k.Item == AllItems }

// LevelKey derives the aggregation-table discriminator from the four-way
// combination of {citywide vs specific neighborhood} x {ALL vs specific item}.
func (k SliceKey) LevelKey() string {
	switch {
	case k.IsCitywide() && k.IsAllItems():
		return "citywide"
	case k.IsCitywide():
		return string(k.Level)
	case k.IsAllItems():
		return "neighborhood"
	default:
		return "neighborhood_" + string(k.Level)
	}
}

// LevelKeys lists every discriminator produced by LevelKey, in the order the
// precompute stage materialises them.
func LevelKeys() []string {
	return []string{
		"citywide",
		"department",
		"division",
		"category",
		"neighborhood",
		"neighborhood_department",
		"neighborhood_division",
		"neighborhood_category",
	}
}
