package position

import (
	"sync"

	"github.com/itaek/kw-trader/internal/logger"
)

// Aggregate is the tracker-wide view returned by mutation methods.
type Aggregate struct {
	Count         int
	TotalInvested float64
	TotalValue    float64
	TotalProfit   float64
}

// Tracker owns the set of open positions. Operations on an unknown code are
// no-ops, never errors.
type Tracker struct {
	mu        sync.RWMutex
	positions map[string]*Position
	logger    *logger.Logger
}

func NewTracker(log *logger.Logger) *Tracker {
	return &Tracker{
		positions: make(map[string]*Position),
		logger:    log,
	}
}

func (t *Tracker) Add(p *Position) {
	t.mu.Lock()
	t.positions[p.Code] = p
	t.mu.Unlock()
	t.logger.Info("position opened",
		"code", p.Code, "name", p.Name, "entry", p.EntryPrice, "qty", p.InitialQty)
}

func (t *Tracker) Remove(code string) {
	t.mu.Lock()
	_, ok := t.positions[code]
	delete(t.positions, code)
	t.mu.Unlock()
	if ok {
		t.logger.Info("position removed", "code", code)
	}
}

func (t *Tracker) Get(code string) (*Position, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.positions[code]
	return p, ok
}

func (t *Tracker) Has(code string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.positions[code]
	return ok
}

func (t *Tracker) Codes() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	codes := make([]string, 0, len(t.positions))
	for code := range t.positions {
		codes = append(codes, code)
	}
	return codes
}

func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.positions)
}

// UpdatePrice pushes the latest price into one position. Unknown code: no-op.
func (t *Tracker) UpdatePrice(code string, price float64) Aggregate {
	if p, ok := t.Get(code); ok {
		p.UpdatePrice(price)
	}
	return t.Aggregate()
}

// RecordPartialSell applies a staged exit to one position. Unknown code or a
// stale stage: no-op.
func (t *Tracker) RecordPartialSell(code string, stage ExitStage, qty int64, price float64) Aggregate {
	if p, ok := t.Get(code); ok {
		p.RecordPartialSell(stage, qty, price)
	}
	return t.Aggregate()
}

// RecordFullSell closes one position's remainder. The caller removes it from
// the tracker after persistence.
func (t *Tracker) RecordFullSell(code string, price float64) Aggregate {
	if p, ok := t.Get(code); ok {
		p.RecordFullSell(price)
	}
	return t.Aggregate()
}

// Aggregate sums invested capital, market value and total (realized plus
// unrealized) profit over all open positions.
func (t *Tracker) Aggregate() Aggregate {
	t.mu.RLock()
	defer t.mu.RUnlock()

	agg := Aggregate{Count: len(t.positions)}
	for _, p := range t.positions {
		agg.TotalInvested += p.Invested()
		agg.TotalValue += p.Value()
		agg.TotalProfit += p.RealizedProfit() + p.UnrealizedProfit()
	}
	return agg
}

// All returns the open positions, for status reporting and shutdown.
func (t *Tracker) All() []*Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Position, 0, len(t.positions))
	for _, p := range t.positions {
		out = append(out, p)
	}
	return out
}
