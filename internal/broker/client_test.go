package broker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itaek/kw-trader/internal/config"
	"github.com/itaek/kw-trader/internal/errs"
	"github.com/itaek/kw-trader/internal/logger"
	"github.com/itaek/kw-trader/internal/protocol"
)

// scriptedChannel answers each Send by queueing the frames its script
// produces for that request name.
type scriptedChannel struct {
	script    func(name string, sendCount int) ([]*protocol.Frame, error)
	queue     []*protocol.Frame
	sendCount int
	sent      []string
}

func (s *scriptedChannel) Send(name string, payload any) error {
	s.sendCount++
	s.sent = append(s.sent, name)
	frames, err := s.script(name, s.sendCount)
	if err != nil {
		return err
	}
	s.queue = append(s.queue, frames...)
	return nil
}

func (s *scriptedChannel) Receive(timeout time.Duration) (*protocol.Frame, error) {
	if len(s.queue) == 0 {
		return nil, errs.Timeout("receive", context.DeadlineExceeded)
	}
	frame := s.queue[0]
	s.queue = s.queue[1:]
	return frame, nil
}

func (s *scriptedChannel) IsConnected() bool { return true }
func (s *scriptedChannel) Connected() bool   { return true }

func frameWith(name string, payload any) *protocol.Frame {
	raw, _ := json.Marshal(payload)
	return &protocol.Frame{Name: name, Payload: raw}
}

func newTestGateway(ch Channel) *Gateway {
	cfg := config.Default()
	cfg.Broker.AccountID = "1234-01"
	return NewGateway(ch, cfg, logger.New("error"))
}

func TestGetBalanceSkipsUnrelatedFrames(t *testing.T) {
	ch := &scriptedChannel{script: func(name string, _ int) ([]*protocol.Frame, error) {
		return []*protocol.Frame{
			{Name: "NOTICE", Message: "midday auction"},
			frameWith("ACCOUNT_BALANCE", map[string]float64{"cash": 5_000_000}),
		}, nil
	}}
	gw := newTestGateway(ch)

	bal, err := gw.GetBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5_000_000.0, bal.Cash)
	assert.Equal(t, []string{"ACCOUNT_BALANCE"}, ch.sent)
}

func TestReadRetriesOnTimeout(t *testing.T) {
	// First request gets no answer; the retry policy resends and succeeds.
	ch := &scriptedChannel{script: func(name string, sendCount int) ([]*protocol.Frame, error) {
		if sendCount == 1 {
			return nil, nil
		}
		return []*protocol.Frame{frameWith("STOCK_PRICE", map[string]any{"code": "005930", "price": 70_000})}, nil
	}}
	gw := newTestGateway(ch)

	q, err := gw.GetStockPrice(context.Background(), "005930")
	require.NoError(t, err)
	assert.Equal(t, 70_000.0, q.Price)
	assert.Equal(t, 2, ch.sendCount)
}

func TestGetStockPriceStripsSign(t *testing.T) {
	// The feed sign-encodes tick direction; a falling quote comes in negative.
	ch := &scriptedChannel{script: func(name string, _ int) ([]*protocol.Frame, error) {
		return []*protocol.Frame{frameWith("STOCK_PRICE", map[string]any{"code": "005930", "price": -69_500})}, nil
	}}
	gw := newTestGateway(ch)

	q, err := gw.GetStockPrice(context.Background(), "005930")
	require.NoError(t, err)
	assert.Equal(t, 69_500.0, q.Price)
}

func TestOrderRejectionNoRetry(t *testing.T) {
	ch := &scriptedChannel{script: func(name string, _ int) ([]*protocol.Frame, error) {
		return []*protocol.Frame{{Name: "ORDER_BUY", Code: -4, Message: "insufficient funds"}}, nil
	}}
	gw := newTestGateway(ch)

	_, err := gw.OrderBuy(context.Background(), "005930", 10, 0, OrderMarket)
	require.Error(t, err)

	var rej *errs.OrderRejection
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, -4, rej.RetCode)
	assert.Equal(t, "005930", rej.Code)
	assert.Equal(t, 1, ch.sendCount, "orders are never retried")
}

func TestOrderTimeoutNoRetry(t *testing.T) {
	ch := &scriptedChannel{script: func(name string, _ int) ([]*protocol.Frame, error) {
		return nil, nil
	}}
	gw := newTestGateway(ch)

	_, err := gw.OrderSell(context.Background(), "005930", 10, 0, OrderMarket)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrTimeout)
	assert.Equal(t, 1, ch.sendCount, "a timed-out order must not be resent")
}

func TestOrderValidation(t *testing.T) {
	gw := newTestGateway(&scriptedChannel{script: func(string, int) ([]*protocol.Frame, error) {
		return nil, nil
	}})

	_, err := gw.OrderBuy(context.Background(), "005930", 0, 0, OrderMarket)
	assert.ErrorIs(t, err, errs.ErrDataValidation)

	_, err = gw.OrderBuy(context.Background(), "005930", 10, 0, OrderLimit)
	assert.ErrorIs(t, err, errs.ErrDataValidation)
}

func TestOrderAccepted(t *testing.T) {
	ch := &scriptedChannel{script: func(name string, _ int) ([]*protocol.Frame, error) {
		return []*protocol.Frame{frameWith("ORDER_BUY", map[string]string{"order_id": "ORD-42"})}, nil
	}}
	gw := newTestGateway(ch)

	res, err := gw.OrderBuy(context.Background(), "005930", 10, 0, OrderMarket)
	require.NoError(t, err)
	assert.Equal(t, "ORD-42", res.OrderID)
	assert.Equal(t, "005930", res.Code)
}
