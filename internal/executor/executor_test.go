package executor

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itaek/kw-trader/internal/broker"
	"github.com/itaek/kw-trader/internal/config"
	"github.com/itaek/kw-trader/internal/errs"
	"github.com/itaek/kw-trader/internal/logger"
	"github.com/itaek/kw-trader/internal/position"
	"github.com/itaek/kw-trader/internal/risk"
	"github.com/itaek/kw-trader/internal/scanner"
	"github.com/itaek/kw-trader/internal/signal"
	"github.com/itaek/kw-trader/internal/storage"
	"github.com/itaek/kw-trader/internal/telegram"
)

type fakePlacer struct {
	mu        sync.Mutex
	buyCalls  int
	sellCalls int
	buyErr    error
	sellErr   error
	lastQty   int64
}

func (f *fakePlacer) OrderBuy(ctx context.Context, code string, qty int64, price float64, typ broker.OrderType) (*broker.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buyCalls++
	f.lastQty = qty
	if f.buyErr != nil {
		return nil, f.buyErr
	}
	return &broker.OrderResult{OrderID: "B-1", Code: code}, nil
}

func (f *fakePlacer) OrderSell(ctx context.Context, code string, qty int64, price float64, typ broker.OrderType) (*broker.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sellCalls++
	f.lastQty = qty
	if f.sellErr != nil {
		return nil, f.sellErr
	}
	return &broker.OrderResult{OrderID: "S-1", Code: code}, nil
}

func newTestExecutor(t *testing.T, gw *fakePlacer) (*Executor, *storage.Repository, *risk.Manager) {
	t.Helper()
	cfg := config.Default()
	log := logger.New("error")

	db, err := storage.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	repo := storage.NewRepository(db)

	riskMgr := risk.NewManager(cfg, log)
	notifier := telegram.NewNotifier(cfg, log)

	return NewExecutor(gw, nil, nil, riskMgr, repo, notifier, cfg, log), repo, riskMgr
}

func testCandidate() scanner.WatchlistEntry {
	return scanner.WatchlistEntry{
		Code: "005930", Name: "Samsung Electronics",
		WinRate: 60, AvgProfitPct: 1.2, TradeCount: 5, HasStats: true,
	}
}

func TestExecuteBuyPlacesAndRecords(t *testing.T) {
	gw := &fakePlacer{}
	ex, repo, _ := newTestExecutor(t, gw)

	entry := &signal.Entry{Price: 10_000, VWAP: 9_950, Confidence: 0.8, Reason: "vwap_cross"}
	pos, err := ex.ExecuteBuy(context.Background(), testCandidate(), entry, 10_000_000, 0, 0)
	require.NoError(t, err)
	require.NotNil(t, pos)

	assert.Equal(t, 1, gw.buyCalls)
	assert.Equal(t, gw.lastQty, pos.InitialQty)
	assert.Equal(t, 10_000.0, pos.EntryPrice)

	open, err := repo.GetOpenTradeByCode("005930")
	require.NoError(t, err)
	assert.Equal(t, "BUY", open.Action)
	assert.Equal(t, "B-1", open.OrderID)
	assert.Contains(t, open.EntryContext, "vwap_cross")
}

func TestExecuteBuyGateRejectionIsNil(t *testing.T) {
	gw := &fakePlacer{}
	ex, _, _ := newTestExecutor(t, gw)

	entry := &signal.Entry{Price: 10_000, VWAP: 9_950, Confidence: 0.8, Reason: "vwap_cross"}
	// Position count already at the cap.
	pos, err := ex.ExecuteBuy(context.Background(), testCandidate(), entry, 10_000_000, 0, 5)
	require.NoError(t, err)
	assert.Nil(t, pos)
	assert.Zero(t, gw.buyCalls, "gate rejection must not reach the broker")
}

func TestExecuteBuyRejectionPropagatesUntouched(t *testing.T) {
	gw := &fakePlacer{buyErr: &errs.OrderRejection{Code: "005930", RetCode: -4, Message: "insufficient funds"}}
	ex, repo, riskMgr := newTestExecutor(t, gw)

	entry := &signal.Entry{Price: 10_000, VWAP: 9_950, Confidence: 0.8, Reason: "vwap_cross"}
	pos, err := ex.ExecuteBuy(context.Background(), testCandidate(), entry, 10_000_000, 0, 0)
	require.Error(t, err)
	assert.Nil(t, pos)

	var rej *errs.OrderRejection
	assert.ErrorAs(t, err, &rej)

	// No retry, no persisted trade, no fill in the day ledger.
	assert.Equal(t, 1, gw.buyCalls)
	_, err = repo.GetOpenTradeByCode("005930")
	assert.Error(t, err)
	pnl, fills := riskMgr.DayPnL()
	assert.Zero(t, pnl)
	assert.Zero(t, fills)
}

func TestExecuteSellFailureLeavesPositionOpen(t *testing.T) {
	gw := &fakePlacer{sellErr: errs.Connection("channel down")}
	ex, _, _ := newTestExecutor(t, gw)

	pos := position.New("005930", "Samsung Electronics", 10_000, 10)
	pos.UpdatePrice(9_700)

	err := ex.ExecuteSell(context.Background(), pos, 9_700, -3.0, "stop_loss")
	require.Error(t, err)
	assert.Equal(t, 1, gw.sellCalls, "order placement is never retried")
	assert.Equal(t, int64(10), pos.RemainingQty())
	assert.Equal(t, position.StageNone, pos.Stage())
}

func TestExecuteSellRecordsAndCloses(t *testing.T) {
	gw := &fakePlacer{}
	ex, repo, riskMgr := newTestExecutor(t, gw)

	// Seed the open record the way a buy would.
	require.NoError(t, repo.SaveTrade(&storage.TradeRecord{
		Code: "005930", Name: "Samsung Electronics", Action: "BUY",
		Price: 10_000, Quantity: 10, Status: "open",
	}))

	pos := position.New("005930", "Samsung Electronics", 10_000, 10)
	pos.UpdatePrice(10_300)

	require.NoError(t, ex.ExecuteSell(context.Background(), pos, 10_300, 3.0, "trailing_stop"))

	assert.Equal(t, int64(0), pos.RemainingQty())
	assert.Equal(t, position.StageFull, pos.Stage())

	pnl, fills := riskMgr.DayPnL()
	assert.Equal(t, 3_000.0, pnl)
	assert.Equal(t, 1, fills)

	// The opening record is closed; no open trade remains.
	_, err := repo.GetOpenTradeByCode("005930")
	assert.Error(t, err)
}

func TestExecutePartialSellStagedScenario(t *testing.T) {
	gw := &fakePlacer{}
	ex, _, riskMgr := newTestExecutor(t, gw)

	// 10 shares at 10,000: tier 1 at 10,100 sells 3, tier 2 at 10,200
	// sells 3, the hard stop at 9,900 closes the remaining 4.
	pos := position.New("005930", "Samsung Electronics", 10_000, 10)

	pos.UpdatePrice(10_100)
	require.NoError(t, ex.ExecutePartialSell(context.Background(), pos, 10_100, 1.0, 0.3, position.StagePartial1))
	assert.Equal(t, int64(7), pos.RemainingQty())
	assert.Equal(t, int64(3), gw.lastQty)

	pos.UpdatePrice(10_200)
	require.NoError(t, ex.ExecutePartialSell(context.Background(), pos, 10_200, 2.0, 0.3, position.StagePartial2))
	assert.Equal(t, int64(4), pos.RemainingQty())
	assert.Equal(t, int64(3), gw.lastQty)

	pos.UpdatePrice(9_900)
	require.NoError(t, ex.ExecuteSell(context.Background(), pos, 9_900, -1.0, "stop_loss"))
	assert.Equal(t, int64(0), pos.RemainingQty())
	assert.Equal(t, int64(4), gw.lastQty)

	// Realized: +300 +600 -400.
	pnl, fills := riskMgr.DayPnL()
	assert.Equal(t, 500.0, pnl)
	assert.Equal(t, 3, fills)
}

func TestExecutePartialSellStageIdempotent(t *testing.T) {
	gw := &fakePlacer{}
	ex, _, _ := newTestExecutor(t, gw)

	pos := position.New("005930", "Samsung Electronics", 10_000, 10)
	pos.UpdatePrice(10_100)

	require.NoError(t, ex.ExecutePartialSell(context.Background(), pos, 10_100, 1.0, 0.3, position.StagePartial1))
	require.NoError(t, ex.ExecutePartialSell(context.Background(), pos, 10_100, 1.0, 0.3, position.StagePartial1))

	assert.Equal(t, 1, gw.sellCalls, "a completed stage must not sell again")
	assert.Equal(t, int64(7), pos.RemainingQty())
}

func TestExecutePartialSellClipsToRemaining(t *testing.T) {
	gw := &fakePlacer{}
	ex, _, _ := newTestExecutor(t, gw)

	pos := position.New("005930", "Samsung Electronics", 10_000, 4)
	pos.UpdatePrice(10_200)

	// 0.9 of 4 floors to 3; a second tier of 0.9 would want 3 again but
	// only 1 remains.
	require.NoError(t, ex.ExecutePartialSell(context.Background(), pos, 10_200, 2.0, 0.9, position.StagePartial1))
	assert.Equal(t, int64(1), pos.RemainingQty())

	require.NoError(t, ex.ExecutePartialSell(context.Background(), pos, 10_200, 2.0, 0.9, position.StagePartial2))
	assert.Equal(t, int64(0), pos.RemainingQty())
	assert.Equal(t, int64(1), gw.lastQty)
}

func TestConcurrentExitGuardSingleOrder(t *testing.T) {
	gw := &fakePlacer{}
	ex, _, _ := newTestExecutor(t, gw)

	pos := position.New("005930", "Samsung Electronics", 10_000, 10)
	pos.UpdatePrice(9_700)

	// Two loops racing the same exit decision: only the guard winner sells.
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !pos.BeginExit() {
				return
			}
			defer pos.EndExit()
			_ = ex.ExecuteSell(context.Background(), pos, 9_700, -3.0, "stop_loss")
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, gw.sellCalls)
	assert.Equal(t, int64(0), pos.RemainingQty())
}
