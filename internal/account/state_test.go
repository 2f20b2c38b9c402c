package account

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itaek/kw-trader/internal/broker"
	"github.com/itaek/kw-trader/internal/logger"
)

type fakeGateway struct {
	balance  *broker.Balance
	holdings []broker.Holding
	err      error
}

func (f *fakeGateway) GetBalance(ctx context.Context) (*broker.Balance, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.balance, nil
}

func (f *fakeGateway) GetHoldings(ctx context.Context) ([]broker.Holding, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.holdings, nil
}

func TestRefreshBuildsSnapshot(t *testing.T) {
	gw := &fakeGateway{
		balance: &broker.Balance{Cash: 3_000_000},
		holdings: []broker.Holding{
			{Code: "005930", Name: "Samsung Electronics", Quantity: 10, AvgPrice: 70_000, CurrentPrice: 71_000},
			{Code: "000660", Name: "SK Hynix", Quantity: 5, AvgPrice: 120_000, CurrentPrice: 118_000},
		},
	}
	st := NewState(logger.New("error"))
	require.NoError(t, st.Refresh(context.Background(), gw))

	snap := st.Get()
	assert.Equal(t, 3_000_000.0, snap.Cash)
	assert.Equal(t, 710_000.0+590_000.0, snap.PositionsValue)
	assert.Equal(t, snap.Cash+snap.PositionsValue, snap.TotalAssets)
	assert.Len(t, snap.Holdings, 2)
	assert.Equal(t, int64(10), snap.Holdings["005930"].Quantity)
}

func TestRefreshFailureKeepsOldSnapshot(t *testing.T) {
	gw := &fakeGateway{balance: &broker.Balance{Cash: 1_000_000}}
	st := NewState(logger.New("error"))
	require.NoError(t, st.Refresh(context.Background(), gw))

	gw.err = errors.New("channel down")
	require.Error(t, st.Refresh(context.Background(), gw))

	assert.Equal(t, 1_000_000.0, st.Cash())
}

func TestGetReturnsCopy(t *testing.T) {
	gw := &fakeGateway{
		balance:  &broker.Balance{Cash: 1_000_000},
		holdings: []broker.Holding{{Code: "005930", Quantity: 10}},
	}
	st := NewState(logger.New("error"))
	require.NoError(t, st.Refresh(context.Background(), gw))

	snap := st.Get()
	delete(snap.Holdings, "005930")

	assert.Len(t, st.Get().Holdings, 1, "callers must not be able to mutate state")
}
