// Package bars turns raw trade ticks into 1-minute OHLCV bars.
//
// Aggregation is a pure function: the same tick set always yields the same
// bars, regardless of input ordering. Minutes with no ticks produce no bar;
// callers must treat a missing bar as "no data for that minute", not as an
// error.
package bars

import (
	"sort"
	"time"

	"intraday-autotrader/marketdata"
)

// Bar represents 1-minute OHLCV data for a symbol. Derived from ticks, never
// mutated after creation, uniquely keyed by (symbol, minute start).
type Bar struct {
	Symbol string    `json:"symbol"`
	Minute time.Time `json:"minute"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// Aggregate groups ticks into ordered 1-minute bars. Ticks are sorted
// internally by timestamp so the result is independent of input order.
func Aggregate(symbol string, ticks []marketdata.Tick) []Bar {
	if len(ticks) == 0 {
		return nil
	}

	sorted := make([]marketdata.Tick, len(ticks))
	copy(sorted, ticks)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	var result []Bar
	var cur *Bar
	for _, tick := range sorted {
		minute := tick.Timestamp.Truncate(time.Minute)

		if cur == nil || !cur.Minute.Equal(minute) {
			if cur != nil {
				result = append(result, *cur)
			}
			cur = &Bar{
				Symbol: symbol,
				Minute: minute,
				Open:   tick.Price,
				High:   tick.Price,
				Low:    tick.Price,
				Close:  tick.Price,
				Volume: tick.Size,
			}
			continue
		}

		if tick.Price > cur.High {
			cur.High = tick.Price
		}
		if tick.Price < cur.Low {
			cur.Low = tick.Price
		}
		cur.Close = tick.Price
		cur.Volume += tick.Size
	}
	if cur != nil {
		result = append(result, *cur)
	}

	return result
}
