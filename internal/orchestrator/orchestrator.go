// Package orchestrator ties the scanner, market monitor, signal detector and
// executor together under one control loop.
//
// The loop is strictly sequential: one tick at a time, one instrument at a
// time. Suspension happens only at network calls, so risk-budget reads are
// never invalidated mid-decision. The sole cross-goroutine primitive is the
// per-position selling guard owned by Position.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/itaek/kw-trader/internal/account"
	"github.com/itaek/kw-trader/internal/config"
	"github.com/itaek/kw-trader/internal/executor"
	"github.com/itaek/kw-trader/internal/logger"
	"github.com/itaek/kw-trader/internal/market"
	"github.com/itaek/kw-trader/internal/position"
	"github.com/itaek/kw-trader/internal/risk"
	"github.com/itaek/kw-trader/internal/scanner"
	"github.com/itaek/kw-trader/internal/signal"
	"github.com/itaek/kw-trader/internal/storage"
	"github.com/itaek/kw-trader/internal/telegram"
)

const (
	tickInterval      = 1 * time.Second
	scanInterval      = 60 * time.Second
	rescanInterval    = 300 * time.Second
	closedLogThrottle = 10 * time.Minute
)

// Gateway is the broker surface the orchestrator itself needs.
type Gateway interface {
	account.Gateway
	Connected() bool
}

// Status is the snapshot served by GetSystemStatus.
type Status struct {
	Running        bool      `json:"running"`
	MarketOpen     bool      `json:"market_open"`
	Connected      bool      `json:"connected"`
	WatchlistSize  int       `json:"watchlist_size"`
	OpenPositions  int       `json:"open_positions"`
	TotalInvested  float64   `json:"total_invested"`
	TotalValue     float64   `json:"total_value"`
	TotalProfit    float64   `json:"total_profit"`
	DayRealizedPnL float64   `json:"day_realized_pnl"`
	Cash           float64   `json:"cash"`
	StartedAt      time.Time `json:"started_at"`
}

type Orchestrator struct {
	gw       Gateway
	market   *market.Monitor
	scanner  *scanner.Scanner
	detector *signal.Detector
	exec     *executor.Executor
	tracker  *position.Tracker
	account  *account.State
	risk     *risk.Manager
	repo     *storage.Repository
	notifier *telegram.Notifier
	cfg      *config.Config
	logger   *logger.Logger

	mu        sync.RWMutex
	watchlist []scanner.WatchlistEntry
	running   bool
	startedAt time.Time
}

func New(gw Gateway, mon *market.Monitor, scan *scanner.Scanner, det *signal.Detector,
	exec *executor.Executor, tracker *position.Tracker, acct *account.State, riskMgr *risk.Manager,
	repo *storage.Repository, notifier *telegram.Notifier, cfg *config.Config, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		gw:       gw,
		market:   mon,
		scanner:  scan,
		detector: det,
		exec:     exec,
		tracker:  tracker,
		account:  acct,
		risk:     riskMgr,
		repo:     repo,
		notifier: notifier,
		cfg:      cfg,
		logger:   log,
	}
}

// Initialize bootstraps the account snapshot and hydrates the tracker from
// broker-reported holdings. A failure here is the one unrecoverable startup
// path; the caller halts on it.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	if err := o.account.Refresh(ctx, o.gw); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	snap := o.account.Get()
	for code, h := range snap.Holdings {
		if h.Quantity < 1 {
			continue
		}
		o.tracker.Add(position.Restore(code, h.Name, h.AvgPrice, h.Quantity, h.CurrentPrice))
	}

	o.startedAt = time.Now()
	o.logger.Info("orchestrator initialized",
		"cash", snap.Cash, "holdings", len(snap.Holdings), "positions", o.tracker.Count())
	return nil
}

// RunConditionFiltering refreshes the watchlist: live screen, historical
// validation, and the persisted-candidate fallback when the screen is empty.
func (o *Orchestrator) RunConditionFiltering(ctx context.Context) error {
	candidates, err := o.scanner.RunConditionSearch(ctx, o.cfg.Scanner.ConditionName)
	if err != nil {
		o.logger.Warn("condition search failed, falling back to db", "error", err)
		candidates = nil
	}

	var entries []scanner.WatchlistEntry
	if len(candidates) > 0 {
		entries, err = o.scanner.FilterWithVwap(ctx, candidates,
			o.cfg.VWAPValidation.MinWinRate, o.cfg.VWAPValidation.MinAvgProfitPct)
		if err != nil {
			return fmt.Errorf("condition filtering: %w", err)
		}
	}
	if len(entries) == 0 {
		entries, err = o.scanner.LoadCandidatesFromDB(o.cfg.Scanner.DBCandidateLimit)
		if err != nil {
			return fmt.Errorf("condition filtering fallback: %w", err)
		}
	}

	o.mu.Lock()
	o.watchlist = entries
	o.mu.Unlock()

	o.logger.Info("watchlist refreshed", "size", len(entries))
	return nil
}

// MonitorAndTrade is the main loop: a 1s market-state tick, a full
// scan-and-evaluate pass every 60s, and a watchlist refresh every 300s. It
// returns after ctx is cancelled and shutdown has run.
func (o *Orchestrator) MonitorAndTrade(ctx context.Context) {
	o.mu.Lock()
	o.running = true
	o.mu.Unlock()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	var lastScan, lastRescan, lastClosedLog time.Time
	o.logger.Info("trading loop started")

	for {
		select {
		case <-ctx.Done():
			o.shutdown()
			return
		case <-ticker.C:
		}

		if !o.market.IsMarketOpen() {
			if time.Since(lastClosedLog) > closedLogThrottle {
				st := o.market.MarketStatus()
				o.logger.Info("market closed", "next_open_in", st.NextOpenIn.Round(time.Minute).String())
				lastClosedLog = time.Now()
			}
			continue
		}

		if time.Since(lastRescan) >= rescanInterval {
			lastRescan = time.Now()
			if err := o.RunConditionFiltering(ctx); err != nil {
				o.logger.Error("watchlist refresh failed", "error", err)
			}
		}

		if time.Since(lastScan) >= scanInterval {
			lastScan = time.Now()
			o.runScanPass(ctx)
		}
	}
}

// runScanPass evaluates exits for held instruments and entries for unheld
// watchlist instruments, strictly sequentially. Any per-instrument failure
// is logged and the pass continues.
func (o *Orchestrator) runScanPass(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("panic in scan pass", "panic", fmt.Sprint(r))
			o.notifier.NotifyError("scan pass panic", fmt.Errorf("%v", r))
		}
	}()

	o.mu.RLock()
	watch := make([]scanner.WatchlistEntry, len(o.watchlist))
	copy(watch, o.watchlist)
	o.mu.RUnlock()

	watchCodes := make([]string, len(watch))
	for i, w := range watch {
		watchCodes[i] = w.Code
	}
	held := o.tracker.Codes()

	data := o.market.MonitorStocks(ctx, watchCodes, held)
	now := time.Now()

	// Exits first so freed budget is visible to the entry pass below.
	for _, code := range held {
		o.evaluateExit(ctx, code, data[code], now)
	}

	for _, entry := range watch {
		if o.tracker.Has(entry.Code) {
			continue
		}
		o.evaluateEntry(ctx, entry, data[entry.Code], now)
	}

	o.snapshotAccount()
}

func (o *Orchestrator) evaluateExit(ctx context.Context, code string, data market.StockData, now time.Time) {
	pos, ok := o.tracker.Get(code)
	if !ok || !data.Available {
		return
	}

	o.tracker.UpdatePrice(code, data.Price)

	exit := o.detector.EvaluateExit(pos, data.Bars, now)
	if exit == nil {
		return
	}

	// The guard makes a second evaluation of the same position a no-op while
	// an exit is in flight.
	if !pos.BeginExit() {
		o.logger.Debug("exit already in flight", "code", code)
		return
	}
	defer pos.EndExit()

	profitPct := pos.ProfitPct()
	if exit.Full {
		if err := o.exec.ExecuteSell(ctx, pos, exit.Price, profitPct, exit.Reason); err != nil {
			o.logger.Error("sell failed", "code", code, "reason", exit.Reason, "error", err)
			o.notifier.NotifyError("SELL "+code, err)
			return
		}
		o.tracker.Remove(code)
		return
	}

	if err := o.exec.ExecutePartialSell(ctx, pos, exit.Price, profitPct, exit.Ratio, exit.Stage); err != nil {
		o.logger.Error("partial sell failed", "code", code, "stage", exit.Stage.String(), "error", err)
		o.notifier.NotifyError("PARTIAL SELL "+code, err)
	}
}

func (o *Orchestrator) evaluateEntry(ctx context.Context, cand scanner.WatchlistEntry, data market.StockData, now time.Time) {
	if !data.Available {
		return
	}

	entry, err := o.detector.EvaluateEntry(data.Bars, cand.WinRate, cand.HasStats, now)
	if err != nil {
		// Data-validation failure: skip this instrument for this tick.
		o.logger.Debug("entry evaluation skipped", "code", cand.Code, "error", err)
		return
	}
	if entry == nil {
		return
	}
	if entry.Confidence < o.cfg.Risk.MinConfidence {
		o.logger.Debug("entry below confidence floor",
			"code", cand.Code, "confidence", entry.Confidence)
		return
	}

	snap := o.account.Get()
	pos, err := o.exec.ExecuteBuy(ctx, cand, entry, snap.Cash, snap.PositionsValue, o.tracker.Count())
	if err != nil {
		o.logger.Error("buy failed", "code", cand.Code, "error", err)
		o.notifier.NotifyError("BUY "+cand.Code, err)
		return
	}
	if pos != nil {
		o.tracker.Add(pos)
	}
}

func (o *Orchestrator) snapshotAccount() {
	snap := o.account.Get()
	positionsJSON, _ := json.Marshal(snap.Holdings)
	row := &storage.AccountSnapshot{
		Cash:           snap.Cash,
		PositionsValue: snap.PositionsValue,
		TotalAssets:    snap.TotalAssets,
		PositionsCount: o.tracker.Count(),
		PositionsJSON:  string(positionsJSON),
	}
	if err := o.repo.SaveAccountSnapshot(row); err != nil {
		o.logger.Error("save account snapshot", "error", err)
	}
}

// shutdown reports still-open positions without cancelling in-flight orders.
func (o *Orchestrator) shutdown() {
	o.mu.Lock()
	o.running = false
	o.mu.Unlock()

	open := o.tracker.All()
	for _, p := range open {
		o.logger.Info("position still open at shutdown",
			"code", p.Code, "qty", p.RemainingQty(), "profit_pct", p.ProfitPct(),
			"stage", p.Stage().String())
	}

	realized, fills := o.risk.DayPnL()
	o.logger.Info("trading loop stopped", "open_positions", len(open), "day_pnl", realized, "fills", fills)
	o.notifier.NotifyStatus(fmt.Sprintf("🛑 trading stopped: %d open positions, day P&L %.0f", len(open), realized))
}

// GetSystemStatus reports the live state for the status surface.
func (o *Orchestrator) GetSystemStatus() Status {
	o.mu.RLock()
	running := o.running
	watchSize := len(o.watchlist)
	started := o.startedAt
	o.mu.RUnlock()

	agg := o.tracker.Aggregate()
	realized, _ := o.risk.DayPnL()

	return Status{
		Running:        running,
		MarketOpen:     o.market.IsMarketOpen(),
		Connected:      o.gw.Connected(),
		WatchlistSize:  watchSize,
		OpenPositions:  agg.Count,
		TotalInvested:  agg.TotalInvested,
		TotalValue:     agg.TotalValue,
		TotalProfit:    agg.TotalProfit,
		DayRealizedPnL: realized,
		Cash:           o.account.Cash(),
		StartedAt:      started,
	}
}
