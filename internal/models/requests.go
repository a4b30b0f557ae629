package models

// ForecastRequest captures one query-interface call.
type ForecastRequest struct {
	Neighborhood string
	Item         string
	Level        Level
	Metric       Metric
	// Horizon overrides the configured horizon when positive.
	Horizon int
}

// Slice returns the slice key the request narrows to.
func (r ForecastRequest) Slice() SliceKey {
	return SliceKey{
		Neighborhood: r.Neighborhood,
		Item:         r.Item,
		Level:        r.Level,
		Metric:       r.Metric,
	}
}
