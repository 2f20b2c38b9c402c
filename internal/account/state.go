// Package account owns the cash/holdings snapshot refreshed from the broker.
package account

import (
	"context"
	"fmt"
	"sync"

	"github.com/itaek/kw-trader/internal/broker"
	"github.com/itaek/kw-trader/internal/logger"
)

// Gateway is the slice of the broker the account state needs.
type Gateway interface {
	GetBalance(ctx context.Context) (*broker.Balance, error)
	GetHoldings(ctx context.Context) ([]broker.Holding, error)
}

// Snapshot is an immutable copy of the account at one refresh.
type Snapshot struct {
	Cash           float64
	PositionsValue float64
	TotalAssets    float64
	Holdings       map[string]broker.Holding
}

// State holds the latest snapshot. Mutation happens only through Refresh; the
// mutex exists because the status endpoint reads from another goroutine.
type State struct {
	mu     sync.RWMutex
	snap   Snapshot
	logger *logger.Logger
}

func NewState(log *logger.Logger) *State {
	return &State{
		snap:   Snapshot{Holdings: map[string]broker.Holding{}},
		logger: log,
	}
}

// Refresh pulls balance and holdings from the broker. Called at startup and
// after every fill.
func (s *State) Refresh(ctx context.Context, gw Gateway) error {
	bal, err := gw.GetBalance(ctx)
	if err != nil {
		return fmt.Errorf("refresh account: %w", err)
	}
	holdings, err := gw.GetHoldings(ctx)
	if err != nil {
		return fmt.Errorf("refresh holdings: %w", err)
	}

	snap := Snapshot{
		Cash:     bal.Cash,
		Holdings: make(map[string]broker.Holding, len(holdings)),
	}
	for _, h := range holdings {
		snap.Holdings[h.Code] = h
		snap.PositionsValue += h.CurrentPrice * float64(h.Quantity)
	}
	snap.TotalAssets = snap.Cash + snap.PositionsValue

	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()

	s.logger.Debug("account refreshed",
		"cash", snap.Cash, "positions_value", snap.PositionsValue, "total", snap.TotalAssets)
	return nil
}

// Get returns a copy of the latest snapshot.
func (s *State) Get() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.snap
	out.Holdings = make(map[string]broker.Holding, len(s.snap.Holdings))
	for k, v := range s.snap.Holdings {
		out.Holdings[k] = v
	}
	return out
}

func (s *State) Cash() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Cash
}

func (s *State) PositionsValue() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.PositionsValue
}
