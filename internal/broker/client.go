// Package broker is the typed gateway over the brokerage's framed channel.
// Reads go through the shared retry policy; order placement never does.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/itaek/kw-trader/internal/config"
	"github.com/itaek/kw-trader/internal/errs"
	"github.com/itaek/kw-trader/internal/logger"
	"github.com/itaek/kw-trader/internal/protocol"
	"github.com/itaek/kw-trader/internal/retry"
)

const callTimeout = 10 * time.Second

// Channel is the transport the gateway needs. *protocol.Client satisfies it.
type Channel interface {
	Send(name string, payload any) error
	Receive(timeout time.Duration) (*protocol.Frame, error)
	IsConnected() bool
	Connected() bool
}

type Gateway struct {
	ch        Channel
	accountID string
	reads     retry.Policy
	logger    *logger.Logger
}

func NewGateway(ch Channel, cfg *config.Config, log *logger.Logger) *Gateway {
	return &Gateway{
		ch:        ch,
		accountID: cfg.Broker.AccountID,
		reads:     retry.Reads(),
		logger:    log,
	}
}

func (g *Gateway) AccountID() string { return g.accountID }

// Ping probes channel liveness over the wire. Loop-owner use only.
func (g *Gateway) Ping() bool { return g.ch.IsConnected() }

// Connected reports the last known channel state without I/O.
func (g *Gateway) Connected() bool { return g.ch.Connected() }

// call sends one request and waits for the matching response frame, skipping
// unrelated frames. A nonzero broker code is an error; a read deadline is a
// recoverable timeout.
func (g *Gateway) call(name string, payload any, out any) error {
	if err := g.ch.Send(name, payload); err != nil {
		return err
	}

	deadline := time.Now().Add(callTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return errs.Timeout(name, fmt.Errorf("no response within %s", callTimeout))
		}

		frame, err := g.ch.Receive(remaining)
		if err != nil {
			return err
		}
		if frame == nil || frame.Name != name {
			continue
		}
		if frame.Code != 0 {
			return fmt.Errorf("%s: broker code %d: %s", name, frame.Code, frame.Message)
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(frame.Payload, out); err != nil {
			return fmt.Errorf("%s: decode payload: %w", name, err)
		}
		return nil
	}
}

// readCall wraps call with the idempotent-read retry policy.
func (g *Gateway) readCall(ctx context.Context, name string, payload any, out any) error {
	return g.reads.Do(ctx, func() error {
		return g.call(name, payload, out)
	})
}

func (g *Gateway) GetBalance(ctx context.Context) (*Balance, error) {
	var bal Balance
	req := map[string]string{"account_id": g.accountID}
	if err := g.readCall(ctx, "ACCOUNT_BALANCE", req, &bal); err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	return &bal, nil
}

func (g *Gateway) GetHoldings(ctx context.Context) ([]Holding, error) {
	var resp struct {
		Holdings []Holding `json:"holdings"`
	}
	req := map[string]string{"account_id": g.accountID}
	if err := g.readCall(ctx, "ACCOUNT_HOLDINGS", req, &resp); err != nil {
		return nil, fmt.Errorf("get holdings: %w", err)
	}
	return resp.Holdings, nil
}

func (g *Gateway) GetStockPrice(ctx context.Context, code string) (*Quote, error) {
	var q Quote
	req := map[string]string{"code": code}
	if err := g.readCall(ctx, "STOCK_PRICE", req, &q); err != nil {
		return nil, fmt.Errorf("get price %s: %w", code, err)
	}
	if q.Price < 0 {
		q.Price = -q.Price
	}
	return &q, nil
}
