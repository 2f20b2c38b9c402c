package scanner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/itaek/kw-trader/internal/broker"
	"github.com/itaek/kw-trader/internal/config"
)

func barsFromCloses(closes ...float64) []broker.Bar {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.FixedZone("KST", 9*60*60))
	bars := make([]broker.Bar, len(closes))
	for i, c := range closes {
		bars[i] = broker.Bar{
			Time: start.Add(time.Duration(i) * time.Minute),
			Open: c, High: c, Low: c, Close: c,
			Volume: 1000,
		}
	}
	return bars
}

func sessionValidator() *Validator {
	cfg := config.Default()
	cfg.VWAP.UseRolling = false
	return NewValidator(cfg)
}

func TestBacktestTooFewBars(t *testing.T) {
	v := sessionValidator()
	assert.Equal(t, ValidationResult{}, v.Backtest(nil))
	assert.Equal(t, ValidationResult{}, v.Backtest(barsFromCloses(100)))
}

func TestBacktestNoCrossNoTrades(t *testing.T) {
	v := sessionValidator()
	res := v.Backtest(barsFromCloses(100, 100, 100, 100, 100))
	assert.Zero(t, res.TradeCount)
	assert.Zero(t, res.WinRate)
}

func TestBacktestRoundTrips(t *testing.T) {
	v := sessionValidator()

	// With equal-volume flat-range bars the cumulative VWAP is the running
	// mean of closes. The series crosses up at 106 (mean 102), back down at
	// 95 (mean 101.4), re-enters at 110 and rides to the final bar at 120.
	bars := barsFromCloses(100, 100, 106, 106, 95, 95, 110, 120)

	res := v.Backtest(bars)
	assert.Equal(t, 2, res.TradeCount)
	assert.Equal(t, 50.0, res.WinRate)
	lose := (95.0 - 106.0) / 106.0 * 100
	win := (120.0 - 110.0) / 110.0 * 100
	assert.InDelta(t, (lose+win)/2, res.AvgProfitPct, 1e-9)
}

func TestBacktestOpenTradeClosesOnFinalBar(t *testing.T) {
	v := sessionValidator()

	res := v.Backtest(barsFromCloses(100, 100, 106, 120))
	assert.Equal(t, 1, res.TradeCount)
	assert.Equal(t, 100.0, res.WinRate)
	assert.InDelta(t, (120.0-106.0)/106.0*100, res.AvgProfitPct, 1e-9)
}

func TestBacktestDeterministic(t *testing.T) {
	v := sessionValidator()
	bars := barsFromCloses(100, 100, 106, 106, 95, 95, 110, 120)
	assert.Equal(t, v.Backtest(bars), v.Backtest(bars))
}
