package scanner

import (
	"github.com/itaek/kw-trader/internal/broker"
	"github.com/itaek/kw-trader/internal/config"
	"github.com/itaek/kw-trader/internal/signal"
)

// ValidationResult summarizes a deterministic replay of the VWAP strategy
// over historical bars.
type ValidationResult struct {
	WinRate      float64 // percent of closed trades with positive profit
	AvgProfitPct float64
	TradeCount   int
}

// Validator replays the VWAP-cross strategy over history. Same bars, same
// result — no randomness, no external calls.
type Validator struct {
	cfg *config.Config
}

func NewValidator(cfg *config.Config) *Validator {
	return &Validator{cfg: cfg}
}

// Backtest walks the bars, entering on a close crossing above VWAP and
// exiting on the cross back below (or the final bar).
func (v *Validator) Backtest(bars []broker.Bar) ValidationResult {
	if len(bars) < 2 {
		return ValidationResult{}
	}

	vwaps := signal.VWAPSeries(bars, v.cfg.VWAP.UseRolling, v.cfg.VWAP.RollingWindow)

	var (
		inTrade    bool
		entryPrice float64
		profits    []float64
	)

	for i := 1; i < len(bars); i++ {
		price := bars[i].Close
		if price <= 0 || vwaps[i] <= 0 {
			continue
		}

		crossedUp := bars[i-1].Close <= vwaps[i-1] && price > vwaps[i]
		crossedDown := bars[i-1].Close >= vwaps[i-1] && price < vwaps[i]

		if !inTrade && crossedUp {
			inTrade = true
			entryPrice = price
			continue
		}
		if inTrade && crossedDown {
			profits = append(profits, (price-entryPrice)/entryPrice*100)
			inTrade = false
		}
	}

	if inTrade {
		final := bars[len(bars)-1].Close
		if final > 0 && entryPrice > 0 {
			profits = append(profits, (final-entryPrice)/entryPrice*100)
		}
	}

	res := ValidationResult{TradeCount: len(profits)}
	if len(profits) == 0 {
		return res
	}

	var wins int
	var sum float64
	for _, p := range profits {
		if p > 0 {
			wins++
		}
		sum += p
	}
	res.WinRate = float64(wins) / float64(len(profits)) * 100
	res.AvgProfitPct = sum / float64(len(profits))
	return res
}
