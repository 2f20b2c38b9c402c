package broker

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"
)

// wire shape of one minute-chart row. The broker encodes the tick direction
// in the sign of the price fields.
type chartRow struct {
	Time   string  `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

const chartTimeLayout = "2006-01-02 15:04:05"

// GetMinuteChart fetches up to count intraday bars at the given minute
// interval, oldest first, with the sign quirk normalized away.
func (g *Gateway) GetMinuteChart(ctx context.Context, code string, interval, count int) ([]Bar, error) {
	var resp struct {
		Bars []chartRow `json:"bars"`
	}
	req := map[string]any{
		"code":     code,
		"interval": interval,
		"count":    count,
	}
	if err := g.readCall(ctx, "MINUTE_CHART", req, &resp); err != nil {
		return nil, fmt.Errorf("get minute chart %s: %w", code, err)
	}

	bars := make([]Bar, 0, len(resp.Bars))
	for _, row := range resp.Bars {
		ts, err := time.ParseInLocation(chartTimeLayout, row.Time, time.Local)
		if err != nil {
			g.logger.Debug("skipping bar with bad timestamp", "code", code, "time", row.Time)
			continue
		}
		bars = append(bars, Bar{
			Time:   ts,
			Open:   math.Abs(row.Open),
			High:   math.Abs(row.High),
			Low:    math.Abs(row.Low),
			Close:  math.Abs(row.Close),
			Volume: row.Volume,
		})
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
	return bars, nil
}
