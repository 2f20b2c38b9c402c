package signal

import "github.com/itaek/kw-trader/internal/broker"

// typicalPrice is the (H+L+C)/3 price VWAP weights by volume.
func typicalPrice(b broker.Bar) float64 {
	return (b.High + b.Low + b.Close) / 3
}

// VWAPSeries computes per-bar VWAP values. With useRolling false the
// accumulation runs from the first bar (session VWAP); with useRolling true
// each value covers the trailing window bars.
func VWAPSeries(bars []broker.Bar, useRolling bool, window int) []float64 {
	out := make([]float64, len(bars))
	if useRolling && window > 0 {
		for i := range bars {
			start := i - window + 1
			if start < 0 {
				start = 0
			}
			out[i] = vwapOver(bars[start : i+1])
		}
		return out
	}

	var pv, vol float64
	for i, b := range bars {
		pv += typicalPrice(b) * b.Volume
		vol += b.Volume
		if vol > 0 {
			out[i] = pv / vol
		} else {
			out[i] = b.Close
		}
	}
	return out
}

func vwapOver(bars []broker.Bar) float64 {
	var pv, vol float64
	for _, b := range bars {
		pv += typicalPrice(b) * b.Volume
		vol += b.Volume
	}
	if vol == 0 {
		if len(bars) == 0 {
			return 0
		}
		return bars[len(bars)-1].Close
	}
	return pv / vol
}

// ATR is Wilder's average true range over the given period, computed on the
// tail of bars. Returns 0 with fewer than period+1 bars.
func ATR(bars []broker.Bar, period int) float64 {
	if period <= 0 || len(bars) < period+1 {
		return 0
	}

	start := len(bars) - period
	var sum float64
	for i := start; i < len(bars); i++ {
		sum += trueRange(bars[i], bars[i-1])
	}
	return sum / float64(period)
}

func trueRange(cur, prev broker.Bar) float64 {
	tr := cur.High - cur.Low
	if d := abs(cur.High - prev.Close); d > tr {
		tr = d
	}
	if d := abs(cur.Low - prev.Close); d > tr {
		tr = d
	}
	return tr
}

// slopePct is the percent change of series over the trailing lookback values.
func slopePct(series []float64, lookback int) float64 {
	if lookback < 1 || len(series) < lookback+1 {
		return 0
	}
	from := series[len(series)-1-lookback]
	to := series[len(series)-1]
	if from == 0 {
		return 0
	}
	return (to - from) / from * 100
}

// avgVolume averages volume over the trailing n bars, excluding the last bar.
func avgVolume(bars []broker.Bar, n int) float64 {
	if n < 1 || len(bars) < n+1 {
		return 0
	}
	start := len(bars) - 1 - n
	var sum float64
	for i := start; i < len(bars)-1; i++ {
		sum += bars[i].Volume
	}
	return sum / float64(n)
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
