package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/itaek/kw-trader/internal/errs"
)

const orderTimeout = 15 * time.Second

type orderRequest struct {
	AccountID     string  `json:"account_id"`
	Code          string  `json:"code"`
	Quantity      int64   `json:"quantity"`
	Price         float64 `json:"price"`
	OrderType     string  `json:"order_type"`
	ClientOrderID string  `json:"client_order_id"`
}

type orderResponse struct {
	OrderID string `json:"order_id"`
}

// OrderBuy places a buy order. It is deliberately not wrapped in any retry:
// on failure the caller re-decides on the next tick, never this layer.
func (g *Gateway) OrderBuy(ctx context.Context, code string, qty int64, price float64, typ OrderType) (*OrderResult, error) {
	return g.placeOrder("ORDER_BUY", code, qty, price, typ)
}

// OrderSell places a sell order under the same no-retry contract.
func (g *Gateway) OrderSell(ctx context.Context, code string, qty int64, price float64, typ OrderType) (*OrderResult, error) {
	return g.placeOrder("ORDER_SELL", code, qty, price, typ)
}

func (g *Gateway) placeOrder(name, code string, qty int64, price float64, typ OrderType) (*OrderResult, error) {
	if qty < 1 {
		return nil, errs.Validation("%s %s: non-positive quantity %d", name, code, qty)
	}
	if typ == OrderLimit && price <= 0 {
		return nil, errs.Validation("%s %s: non-positive limit price", name, code)
	}

	req := orderRequest{
		AccountID:     g.accountID,
		Code:          code,
		Quantity:      qty,
		Price:         price,
		OrderType:     string(typ),
		ClientOrderID: uuid.NewString(),
	}
	if err := g.ch.Send(name, req); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(orderTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, errs.Timeout(name, fmt.Errorf("no order response within %s", orderTimeout))
		}

		frame, err := g.ch.Receive(remaining)
		if err != nil {
			return nil, err
		}
		if frame == nil || frame.Name != name {
			continue
		}
		if frame.Code != 0 {
			return nil, &errs.OrderRejection{Code: code, RetCode: frame.Code, Message: frame.Message}
		}

		var resp orderResponse
		if err := json.Unmarshal(frame.Payload, &resp); err != nil {
			return nil, fmt.Errorf("%s: decode payload: %w", name, err)
		}
		g.logger.Info("order accepted", "tx", name, "code", code, "qty", qty, "order_id", resp.OrderID)
		return &OrderResult{OrderID: resp.OrderID, Code: code}, nil
	}
}
