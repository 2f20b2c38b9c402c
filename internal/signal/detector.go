// Package signal computes entry and exit decisions from intraday bars,
// indicators and the current position state. A nil decision means "no action"
// and is never an error; errors mark data that cannot be evaluated at all.
package signal

import (
	"time"

	"github.com/itaek/kw-trader/internal/broker"
	"github.com/itaek/kw-trader/internal/config"
	"github.com/itaek/kw-trader/internal/errs"
	"github.com/itaek/kw-trader/internal/logger"
	"github.com/itaek/kw-trader/internal/position"
)

const (
	minEntryBars   = 50
	atrPeriod      = 14
	slopeLookback  = 5
	volumeLookback = 20
)

// Entry is a buy decision.
type Entry struct {
	Price      float64
	VWAP       float64
	Confidence float64 // 0..1
	Reason     string
}

// Exit is a sell decision. Ratio < 1 with a stage marks a staged exit;
// Full closes the remainder. Urgent exits bypass limit routing.
type Exit struct {
	Price       float64
	Full        bool
	Ratio       float64
	Stage       position.ExitStage
	Reason      string
	Urgent      bool
	MarketOrder bool
}

type Detector struct {
	cfg    *config.Config
	logger *logger.Logger
}

func NewDetector(cfg *config.Config, log *logger.Logger) *Detector {
	return &Detector{cfg: cfg, logger: log}
}

// EvaluateEntry derives a VWAP-cross entry from bars, filtered by session
// time, distance from VWAP and VWAP slope. winRate is the candidate's
// historical win rate in percent; hasWinRate is false when no validation
// stats exist.
func (d *Detector) EvaluateEntry(bars []broker.Bar, winRate float64, hasWinRate bool, now time.Time) (*Entry, error) {
	if len(bars) < minEntryBars {
		return nil, errs.Validation("entry evaluation needs %d bars, have %d", minEntryBars, len(bars))
	}

	last := bars[len(bars)-1]
	if last.Close <= 0 {
		return nil, errs.Validation("non-positive close price")
	}

	if !d.withinEntryWindow(now) {
		return nil, nil
	}

	vwaps := VWAPSeries(bars, d.cfg.VWAP.UseRolling, d.cfg.VWAP.RollingWindow)
	vwap := vwaps[len(vwaps)-1]
	prevVWAP := vwaps[len(vwaps)-2]
	prevClose := bars[len(bars)-2].Close

	// Raw signal: close crossed above VWAP on the latest bar.
	crossed := prevClose <= prevVWAP && last.Close > vwap
	if !crossed {
		return nil, nil
	}

	if vwap <= 0 {
		return nil, errs.Validation("non-positive vwap")
	}
	distancePct := (last.Close - vwap) / vwap * 100
	if distancePct < d.cfg.VWAP.MinDistancePct {
		return nil, nil
	}

	if slopePct(vwaps, slopeLookback) < d.cfg.VWAP.MinSlopePct {
		return nil, nil
	}

	conf := d.confidence(distancePct, last, bars, winRate, hasWinRate)
	return &Entry{
		Price:      last.Close,
		VWAP:       vwap,
		Confidence: conf,
		Reason:     "vwap_cross",
	}, nil
}

// confidence blends 30% VWAP-distance, 30% volume-vs-average and 40%
// historical win rate. Without stats the win-rate slice falls to a neutral
// midpoint.
func (d *Detector) confidence(distancePct float64, last broker.Bar, bars []broker.Bar, winRate float64, hasWinRate bool) float64 {
	distScore := distancePct / (d.cfg.VWAP.MinDistancePct * 4)
	if distScore > 1 {
		distScore = 1
	}

	volScore := 0.5
	if avg := avgVolume(bars, volumeLookback); avg > 0 {
		volScore = last.Volume / (avg * 2)
		if volScore > 1 {
			volScore = 1
		}
	}

	winScore := 0.5
	if hasWinRate {
		winScore = winRate / 100
		if winScore > 1 {
			winScore = 1
		}
	}

	return 0.3*distScore + 0.3*volScore + 0.4*winScore
}

func (d *Detector) withinEntryWindow(now time.Time) bool {
	if !d.cfg.TimeFilter.UseTimeFilter {
		return true
	}
	local := now.In(d.cfg.MarketLocation())
	minutes := local.Hour()*60 + local.Minute()

	open := d.cfg.MarketOpenMinutes()
	close := d.cfg.MarketCloseMinutes()
	if minutes < open+d.cfg.TimeFilter.AvoidEarlyMinutes {
		return false
	}
	if minutes > close-d.cfg.TimeFilter.AvoidLateMinutes {
		return false
	}
	return true
}

// EvaluateExit applies the exit rules in strict priority order against the
// current position and latest bar. Exactly one rule fires per tick; nil means
// hold. The caller must have pushed the latest price into pos already.
func (d *Detector) EvaluateExit(pos *position.Position, bars []broker.Bar, now time.Time) *Exit {
	if len(bars) == 0 {
		return nil
	}
	last := bars[len(bars)-1]
	price := last.Close
	if price <= 0 {
		return nil
	}
	profitPct := pos.ProfitPct()

	// 1. Emergency stop.
	if profitPct <= -d.cfg.Trailing.EmergencyStopPct {
		return &Exit{Price: price, Full: true, Ratio: 1, Stage: position.StageFull,
			Reason: "emergency_stop", Urgent: true, MarketOrder: true}
	}

	// 2. Hard stop-loss.
	if profitPct <= -d.cfg.Trailing.StopLossPct {
		return &Exit{Price: price, Full: true, Ratio: 1, Stage: position.StageFull,
			Reason: "stop_loss", Urgent: true, MarketOrder: true}
	}

	// 3. Partial exit tiers, highest first, so a fast move through several
	// tiers exits at the highest tier's ratio instead of the lowest's.
	if d.cfg.PartialExit.Enabled {
		tiers := d.cfg.PartialExit.Tiers
		for i := len(tiers) - 1; i >= 0; i-- {
			stage := position.ExitStage(i + 1)
			if stage >= position.StageFull {
				continue
			}
			if profitPct >= tiers[i].ProfitPct && !pos.StageDone(stage) {
				return &Exit{Price: price, Ratio: tiers[i].ExitRatio, Stage: stage,
					Reason: "partial_exit", MarketOrder: true}
			}
		}
	}

	// 4. Trailing stop, armed once profit clears the activation threshold.
	if exit := d.evaluateTrailing(pos, bars, price, profitPct); exit != nil {
		return exit
	}

	// 5. Indicator reversal: close crossed back below VWAP.
	vwaps := VWAPSeries(bars, d.cfg.VWAP.UseRolling, d.cfg.VWAP.RollingWindow)
	if len(vwaps) >= 2 && len(bars) >= 2 {
		prevClose := bars[len(bars)-2].Close
		if prevClose >= vwaps[len(vwaps)-2] && price < vwaps[len(vwaps)-1] {
			return &Exit{Price: price, Full: true, Ratio: 1, Stage: position.StageFull,
				Reason: "vwap_reversal", MarketOrder: true}
		}
	}

	// 6. Session-end forced liquidation.
	local := now.In(d.cfg.MarketLocation())
	if local.Hour()*60+local.Minute() >= d.cfg.LiquidateAfterMinutes() {
		return &Exit{Price: price, Full: true, Ratio: 1, Stage: position.StageFull,
			Reason: "session_end", MarketOrder: true}
	}

	return nil
}

func (d *Detector) evaluateTrailing(pos *position.Position, bars []broker.Bar, price, profitPct float64) *Exit {
	if !pos.TrailingActive() {
		if profitPct >= d.cfg.Trailing.ActivationProfitPct {
			pos.ArmTrailing()
			d.logger.Debug("trailing stop armed", "code", pos.Code, "profit_pct", profitPct)
		}
		return nil
	}

	peak := pos.HighestPrice()
	if peak <= 0 {
		return nil
	}
	dropPct := (peak - price) / peak * 100

	var thresholdPct float64
	if d.cfg.Trailing.UseATRBased {
		if atr := ATR(bars, atrPeriod); atr > 0 && price > 0 {
			thresholdPct = d.cfg.Trailing.ATRMultiplier * atr / price * 100
		}
	}
	if thresholdPct == 0 {
		thresholdPct = d.cfg.Trailing.TrailingStopPct
	}
	// Tighten once profit has cleared the tier threshold.
	if d.cfg.Trailing.UseProfitTier && profitPct >= d.cfg.Trailing.ProfitTierThreshold {
		thresholdPct /= 2
	}

	if dropPct >= thresholdPct {
		return &Exit{Price: price, Full: true, Ratio: 1, Stage: position.StageFull,
			Reason: "trailing_stop", MarketOrder: true}
	}
	return nil
}
