// Package series turns change-only price logs into fixed-cadence series.
package series

import (
	"github.com/aluiziolira/go-price-graph/models"
)

// Day is the resampling step in seconds.
const Day int64 = 24 * 60 * 60

// Resample returns one price per day for the days ending at end, oldest
// first. Each day carries the most recent change at or before it; days that
// predate the log are unknown.
func Resample(h models.PriceHistory, days int, end int64) []models.Price {
	if days <= 0 {
		return []models.Price{}
	}

	out := make([]models.Price, days)
	cursor := 0
	at := end
	for i := days - 1; i >= 0; i-- {
		for cursor < h.Len() && h.At(cursor).ObservedAt > at {
			cursor++
		}
		if cursor < h.Len() {
			out[i] = h.At(cursor).Price
		} else {
			out[i] = models.Unknown()
		}
		at -= Day
	}
	return out
}

// Values converts prices to chart values; unknown days become nil.
func Values(prices []models.Price) []*float64 {
	out := make([]*float64, len(prices))
	for i, p := range prices {
		amount, ok := p.Amount()
		if !ok {
			continue
		}
		f := amount.InexactFloat64()
		out[i] = &f
	}
	return out
}
