// Package risk sizes entries and gates new exposure. All decisions here are
// pre-trade: a rejection never reaches the broker.
package risk

import (
	"fmt"
	"math"
	"sync"

	"github.com/itaek/kw-trader/internal/config"
	"github.com/itaek/kw-trader/internal/errs"
	"github.com/itaek/kw-trader/internal/logger"
)

// Sizing is the outcome of a position-size request.
type Sizing struct {
	Quantity      int64
	Investment    float64
	RiskAmount    float64
	PositionRatio float64 // investment / balance
}

type Manager struct {
	cfg    *config.Config
	logger *logger.Logger

	mu          sync.Mutex
	dayRealized float64
	fills       int
}

func NewManager(cfg *config.Config, log *logger.Logger) *Manager {
	return &Manager{cfg: cfg, logger: log}
}

// PositionSize computes quantity from the risk budget: a fixed fraction of
// balance, scaled by entry confidence, divided by the per-share stop
// distance and capped by the max position ratio. A nil result with nil error
// means "no position" — a normal outcome.
func (m *Manager) PositionSize(balance, price, stopPrice, confidence float64) (*Sizing, error) {
	if price <= 0 {
		return nil, errs.Validation("non-positive price %.2f", price)
	}
	if stopPrice >= price {
		return nil, errs.Validation("stop price %.2f not below entry %.2f", stopPrice, price)
	}
	if balance <= 0 {
		return nil, nil
	}

	// Confidence scales the risk budget between 50% and 100%.
	scale := 0.5 + 0.5*clamp01(confidence)
	riskAmount := balance * m.cfg.Risk.RiskPerTradePct / 100 * scale

	perShareRisk := price - stopPrice
	qty := int64(math.Floor(riskAmount / perShareRisk))
	if qty < 1 {
		return nil, nil
	}

	maxInvestment := balance * m.cfg.Risk.MaxPositionRatio
	if float64(qty)*price > maxInvestment {
		qty = int64(math.Floor(maxInvestment / price))
	}
	if qty < 1 {
		return nil, nil
	}

	investment := float64(qty) * price
	return &Sizing{
		Quantity:      qty,
		Investment:    investment,
		RiskAmount:    riskAmount,
		PositionRatio: investment / balance,
	}, nil
}

// CanOpen is the open-gate decision over balance, current exposure, position
// count and the proposed investment. A false verdict is a normal outcome with
// a reason, not an error.
func (m *Manager) CanOpen(balance, exposure float64, positionCount int, investment float64) (bool, string) {
	if positionCount >= m.cfg.Risk.MaxPositions {
		return false, fmt.Sprintf("max positions reached (%d)", m.cfg.Risk.MaxPositions)
	}

	total := balance + exposure
	if total <= 0 {
		return false, "no assets"
	}

	if (exposure+investment)/total*100 > m.cfg.Risk.MaxExposurePct {
		return false, fmt.Sprintf("exposure cap %.0f%% exceeded", m.cfg.Risk.MaxExposurePct)
	}

	reserve := total * m.cfg.Risk.CashReservePct / 100
	if balance-investment < reserve {
		return false, fmt.Sprintf("cash reserve %.0f would be breached", reserve)
	}

	return true, ""
}

// RecordFill accumulates realized P&L into the day ledger.
func (m *Manager) RecordFill(pnl float64) {
	m.mu.Lock()
	m.dayRealized += pnl
	m.fills++
	m.mu.Unlock()
	m.logger.Debug("fill recorded", "pnl", pnl)
}

// DayPnL returns the realized P&L and fill count since start.
func (m *Manager) DayPnL() (float64, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dayRealized, m.fills
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
