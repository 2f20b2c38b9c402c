// Package executor sizes and places orders and applies the resulting
// position/account mutations. Order placement is never retried here: a broker
// failure is surfaced with state untouched so the next tick re-decides.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/itaek/kw-trader/internal/account"
	"github.com/itaek/kw-trader/internal/broker"
	"github.com/itaek/kw-trader/internal/config"
	"github.com/itaek/kw-trader/internal/logger"
	"github.com/itaek/kw-trader/internal/position"
	"github.com/itaek/kw-trader/internal/risk"
	"github.com/itaek/kw-trader/internal/scanner"
	"github.com/itaek/kw-trader/internal/signal"
	"github.com/itaek/kw-trader/internal/storage"
	"github.com/itaek/kw-trader/internal/telegram"
)

// OrderPlacer is the broker slice the executor places through.
type OrderPlacer interface {
	OrderBuy(ctx context.Context, code string, qty int64, price float64, typ broker.OrderType) (*broker.OrderResult, error)
	OrderSell(ctx context.Context, code string, qty int64, price float64, typ broker.OrderType) (*broker.OrderResult, error)
}

// AccountRefresher updates the account snapshot after a fill.
type AccountRefresher interface {
	Refresh(ctx context.Context, gw account.Gateway) error
}

type Executor struct {
	gw        OrderPlacer
	accountGW account.Gateway
	account   *account.State
	risk      *risk.Manager
	repo      *storage.Repository
	notifier  *telegram.Notifier
	cfg       *config.Config
	logger    *logger.Logger
}

func NewExecutor(gw OrderPlacer, accountGW account.Gateway, acct *account.State, riskMgr *risk.Manager,
	repo *storage.Repository, notifier *telegram.Notifier, cfg *config.Config, log *logger.Logger) *Executor {
	return &Executor{
		gw:        gw,
		accountGW: accountGW,
		account:   acct,
		risk:      riskMgr,
		repo:      repo,
		notifier:  notifier,
		cfg:       cfg,
		logger:    log,
	}
}

// entryContext is the indicator snapshot persisted with a filled buy.
type entryContext struct {
	Price        float64 `json:"price"`
	VWAP         float64 `json:"vwap"`
	Confidence   float64 `json:"confidence"`
	Reason       string  `json:"reason"`
	WinRate      float64 `json:"win_rate"`
	AvgProfitPct float64 `json:"avg_profit_pct"`
	TradeCount   int     `json:"trade_count"`
	AIScore      int     `json:"ai_score"`
}

// exitContext is the snapshot persisted with a full exit.
type exitContext struct {
	Reason          string                 `json:"reason"`
	ProfitPct       float64                `json:"profit_pct"`
	HighestPrice    float64                `json:"highest_price"`
	TrailingActive  bool                   `json:"trailing_active"`
	HoldingDuration string                 `json:"holding_duration"`
	PartialSells    []position.PartialSell `json:"partial_sells"`
}

// ExecuteBuy sizes an entry from the risk budget, passes the open gate and
// places a market buy. A nil position with nil error is the normal
// "no position" outcome (sizing too small or gate rejection); an order
// rejection propagates with no state mutated.
func (e *Executor) ExecuteBuy(ctx context.Context, cand scanner.WatchlistEntry, entry *signal.Entry,
	cash, positionsValue float64, positionCount int) (*position.Position, error) {

	stopPrice := entry.Price * (1 - e.cfg.Trailing.StopLossPct/100)

	sizing, err := e.risk.PositionSize(cash, entry.Price, stopPrice, entry.Confidence)
	if err != nil {
		return nil, fmt.Errorf("size %s: %w", cand.Code, err)
	}
	if sizing == nil {
		e.logger.Debug("buy skipped: sizing below one share", "code", cand.Code)
		return nil, nil
	}

	if ok, reason := e.risk.CanOpen(cash, positionsValue, positionCount, sizing.Investment); !ok {
		e.logger.Info("buy skipped by gate", "code", cand.Code, "reason", reason)
		return nil, nil
	}

	result, err := e.gw.OrderBuy(ctx, cand.Code, sizing.Quantity, 0, broker.OrderMarket)
	if err != nil {
		// Deliberately no retry: a second attempt could double-fill.
		return nil, fmt.Errorf("buy %s: %w", cand.Code, err)
	}

	pos := position.New(cand.Code, cand.Name, entry.Price, sizing.Quantity)

	ctxJSON, _ := json.Marshal(entryContext{
		Price:        entry.Price,
		VWAP:         entry.VWAP,
		Confidence:   entry.Confidence,
		Reason:       entry.Reason,
		WinRate:      cand.WinRate,
		AvgProfitPct: cand.AvgProfitPct,
		TradeCount:   cand.TradeCount,
		AIScore:      cand.AIScore,
	})
	trade := &storage.TradeRecord{
		Code:         cand.Code,
		Name:         cand.Name,
		Action:       "BUY",
		Price:        entry.Price,
		Quantity:     sizing.Quantity,
		OrderID:      result.OrderID,
		Reason:       entry.Reason,
		EntryContext: string(ctxJSON),
		Status:       "open",
	}
	if err := e.repo.SaveTrade(trade); err != nil {
		e.logger.Error("save buy trade", "code", cand.Code, "error", err)
	}

	e.refreshAccount(ctx)
	e.notifier.NotifyBuy(cand.Code, cand.Name, entry.Price, sizing.Quantity, entry.Confidence)
	e.logger.Info("buy executed",
		"code", cand.Code, "price", entry.Price, "qty", sizing.Quantity,
		"investment", sizing.Investment, "ratio", sizing.PositionRatio)

	return pos, nil
}

// ExecuteSell closes the remainder of a position at market. On broker failure
// the position stays open and the error is surfaced — never silently retried.
func (e *Executor) ExecuteSell(ctx context.Context, pos *position.Position, price, profitPct float64, reason string) error {
	qty := pos.RemainingQty()
	if qty < 1 {
		return nil
	}

	result, err := e.gw.OrderSell(ctx, pos.Code, qty, 0, broker.OrderMarket)
	if err != nil {
		return fmt.Errorf("sell %s: %w", pos.Code, err)
	}

	pnl := (price - pos.EntryPrice) * float64(qty)
	pos.RecordFullSell(price)

	ctxJSON, _ := json.Marshal(exitContext{
		Reason:          reason,
		ProfitPct:       profitPct,
		HighestPrice:    pos.HighestPrice(),
		TrailingActive:  pos.TrailingActive(),
		HoldingDuration: pos.HoldingDuration().Round(time.Second).String(),
		PartialSells:    pos.Partials(),
	})
	trade := &storage.TradeRecord{
		Code:        pos.Code,
		Name:        pos.Name,
		Action:      "SELL",
		Price:       price,
		Quantity:    qty,
		OrderID:     result.OrderID,
		Stage:       int(position.StageFull),
		Reason:      reason,
		ProfitPct:   profitPct,
		PnL:         pnl,
		ExitContext: string(ctxJSON),
		Status:      "closed",
	}
	if err := e.repo.SaveTrade(trade); err != nil {
		e.logger.Error("save sell trade", "code", pos.Code, "error", err)
	}
	e.closeOpenRecord(pos.Code, pos.RealizedProfit())

	e.risk.RecordFill(pnl)
	e.refreshAccount(ctx)
	e.notifier.NotifySell(pos.Code, pos.Name, price, qty, pnl, reason)
	e.logger.Info("sell executed",
		"code", pos.Code, "price", price, "qty", qty, "pnl", pnl, "reason", reason)

	return nil
}

// ExecutePartialSell closes one tier of a position. Quantity comes from the
// initial quantity times the tier ratio, clipped to what remains. Re-running
// an already-completed stage is a no-op.
//
// The mutation below and Tracker.RecordPartialSell share the stage/quantity
// invariant; both go through Position.RecordPartialSell to keep them aligned.
func (e *Executor) ExecutePartialSell(ctx context.Context, pos *position.Position, price, profitPct, ratio float64, stage position.ExitStage) error {
	if pos.StageDone(stage) {
		e.logger.Debug("partial sell already executed", "code", pos.Code, "stage", stage.String())
		return nil
	}

	qty := int64(math.Floor(float64(pos.InitialQty) * ratio))
	if remaining := pos.RemainingQty(); qty > remaining {
		qty = remaining
	}
	if qty < 1 {
		return nil
	}

	result, err := e.gw.OrderSell(ctx, pos.Code, qty, 0, broker.OrderMarket)
	if err != nil {
		return fmt.Errorf("partial sell %s stage %s: %w", pos.Code, stage.String(), err)
	}

	pos.RecordPartialSell(stage, qty, price)
	pnl := (price - pos.EntryPrice) * float64(qty)

	trade := &storage.TradeRecord{
		Code:      pos.Code,
		Name:      pos.Name,
		Action:    "PARTIAL_SELL",
		Price:     price,
		Quantity:  qty,
		OrderID:   result.OrderID,
		Stage:     int(stage),
		Reason:    "partial_exit",
		ProfitPct: profitPct,
		PnL:       pnl,
		Status:    "closed",
	}
	if err := e.repo.SaveTrade(trade); err != nil {
		e.logger.Error("save partial sell trade", "code", pos.Code, "error", err)
	}

	e.risk.RecordFill(pnl)
	e.refreshAccount(ctx)
	e.notifier.NotifyPartialSell(pos.Code, pos.Name, int(stage), price, qty, profitPct)
	e.logger.Info("partial sell executed",
		"code", pos.Code, "stage", stage.String(), "price", price, "qty", qty,
		"remaining", pos.RemainingQty())

	return nil
}

func (e *Executor) closeOpenRecord(code string, realized float64) {
	open, err := e.repo.GetOpenTradeByCode(code)
	if err != nil {
		return
	}
	open.Status = "closed"
	open.PnL = realized
	if err := e.repo.UpdateTrade(open); err != nil {
		e.logger.Error("update open trade", "code", code, "error", err)
	}
}

func (e *Executor) refreshAccount(ctx context.Context) {
	if e.accountGW == nil {
		return
	}
	if err := e.account.Refresh(ctx, e.accountGW); err != nil {
		e.logger.Warn("account refresh after fill failed", "error", err)
	}
}
