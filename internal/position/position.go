// Package position models the life-cycle of one open trade and the tracker
// that owns the open set.
package position

import (
	"sync"
	"time"
)

// ExitStage orders the staged-exit state machine. It only moves forward.
type ExitStage int

const (
	StageNone ExitStage = iota
	StagePartial1
	StagePartial2
	StageFull
)

func (s ExitStage) String() string {
	switch s {
	case StageNone:
		return "none"
	case StagePartial1:
		return "partial_1"
	case StagePartial2:
		return "partial_2"
	case StageFull:
		return "full"
	default:
		return "unknown"
	}
}

// PartialSell is one executed staged exit.
type PartialSell struct {
	Stage    ExitStage
	Quantity int64
	Price    float64
	Time     time.Time
}

// Position is a single open trade. Invariant: RemainingQty plus the sum of
// partial-sell quantities equals InitialQty at all times.
//
// The exclusive selling guard lives here, acquired with BeginExit before the
// first suspension point of any exit path and released with EndExit on every
// path out, success or failure.
type Position struct {
	Code       string
	Name       string
	EntryPrice float64
	InitialQty int64
	EntryTime  time.Time

	mu             sync.Mutex
	remainingQty   int64
	stage          ExitStage
	partials       []PartialSell
	highestPrice   float64
	trailingActive bool
	currentPrice   float64
	profitPct      float64
	realized       float64
	selling        bool
}

func New(code, name string, entryPrice float64, qty int64) *Position {
	now := time.Now()
	return &Position{
		Code:         code,
		Name:         name,
		EntryPrice:   entryPrice,
		InitialQty:   qty,
		EntryTime:    now,
		remainingQty: qty,
		highestPrice: entryPrice,
		currentPrice: entryPrice,
	}
}

// Restore rebuilds a position from broker-reported holdings at startup. Exit
// history is unknown, so it starts at stage none.
func Restore(code, name string, avgPrice float64, qty int64, currentPrice float64) *Position {
	p := New(code, name, avgPrice, qty)
	p.UpdatePrice(currentPrice)
	return p
}

// BeginExit acquires the exclusive selling guard. It returns false when an
// exit for this position is already in flight.
func (p *Position) BeginExit() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.selling {
		return false
	}
	p.selling = true
	return true
}

// EndExit releases the selling guard. Safe to call from a deferred path.
func (p *Position) EndExit() {
	p.mu.Lock()
	p.selling = false
	p.mu.Unlock()
}

// UpdatePrice records the latest price, recomputing profit and the running
// peak used by trailing stops. Replaying the same price is a no-op in effect.
func (p *Position) UpdatePrice(price float64) {
	if price <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.currentPrice = price
	if price > p.highestPrice {
		p.highestPrice = price
	}
	if p.EntryPrice > 0 {
		p.profitPct = (price - p.EntryPrice) / p.EntryPrice * 100
	}
}

// ArmTrailing latches the trailing-stop flag. It never unlatches.
func (p *Position) ArmTrailing() {
	p.mu.Lock()
	p.trailingActive = true
	p.mu.Unlock()
}

// RecordPartialSell applies one staged exit: decrement remaining quantity,
// advance the stage, append the history entry and accumulate realized profit.
// A stage at or below the current one is a no-op and returns false.
func (p *Position) RecordPartialSell(stage ExitStage, qty int64, price float64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if stage <= p.stage || qty <= 0 {
		return false
	}
	if qty > p.remainingQty {
		qty = p.remainingQty
	}
	if qty == 0 {
		return false
	}

	p.remainingQty -= qty
	p.stage = stage
	p.partials = append(p.partials, PartialSell{
		Stage:    stage,
		Quantity: qty,
		Price:    price,
		Time:     time.Now(),
	})
	p.realized += (price - p.EntryPrice) * float64(qty)
	return true
}

// RecordFullSell closes whatever remains at price and moves to the terminal
// stage.
func (p *Position) RecordFullSell(price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.remainingQty > 0 {
		p.realized += (price - p.EntryPrice) * float64(p.remainingQty)
		p.partials = append(p.partials, PartialSell{
			Stage:    StageFull,
			Quantity: p.remainingQty,
			Price:    price,
			Time:     time.Now(),
		})
		p.remainingQty = 0
	}
	p.stage = StageFull
	p.currentPrice = price
}

// StageDone reports whether the given stage has already executed.
func (p *Position) StageDone(stage ExitStage) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return stage <= p.stage
}

func (p *Position) RemainingQty() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remainingQty
}

func (p *Position) Stage() ExitStage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stage
}

func (p *Position) Partials() []PartialSell {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PartialSell, len(p.partials))
	copy(out, p.partials)
	return out
}

func (p *Position) HighestPrice() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.highestPrice
}

func (p *Position) TrailingActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.trailingActive
}

func (p *Position) CurrentPrice() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentPrice
}

func (p *Position) ProfitPct() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.profitPct
}

// RealizedProfit is the summed P&L of executed partial and full sells.
func (p *Position) RealizedProfit() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.realized
}

// UnrealizedProfit is the open P&L of the remaining quantity.
func (p *Position) UnrealizedProfit() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return (p.currentPrice - p.EntryPrice) * float64(p.remainingQty)
}

// Invested is entry price times remaining quantity.
func (p *Position) Invested() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.EntryPrice * float64(p.remainingQty)
}

// Value is current price times remaining quantity.
func (p *Position) Value() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentPrice * float64(p.remainingQty)
}

// HoldingDuration is the time since entry.
func (p *Position) HoldingDuration() time.Duration {
	return time.Since(p.EntryTime)
}
