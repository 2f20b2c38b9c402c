package market

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itaek/kw-trader/internal/broker"
	"github.com/itaek/kw-trader/internal/config"
	"github.com/itaek/kw-trader/internal/logger"
)

var kst = time.FixedZone("KST", 9*60*60)

type fakeChart struct {
	quote      *broker.Quote
	bars       []broker.Bar
	err        error
	priceCalls int
	chartCalls int
}

func (f *fakeChart) GetStockPrice(ctx context.Context, code string) (*broker.Quote, error) {
	f.priceCalls++
	return f.quote, f.err
}

func (f *fakeChart) GetMinuteChart(ctx context.Context, code string, interval, count int) ([]broker.Bar, error) {
	f.chartCalls++
	return f.bars, f.err
}

type fakeHist struct {
	bars  []broker.Bar
	err   error
	calls int
}

func (f *fakeHist) DailyBars(ctx context.Context, code string, count int) ([]broker.Bar, error) {
	f.calls++
	return f.bars, f.err
}

func sessionBars(n int, day time.Time, startHour, startMin int, price float64) []broker.Bar {
	start := time.Date(day.Year(), day.Month(), day.Day(), startHour, startMin, 0, 0, kst)
	bars := make([]broker.Bar, n)
	for i := range bars {
		bars[i] = broker.Bar{
			Time: start.Add(time.Duration(i) * time.Minute),
			Open: price, High: price, Low: price, Close: price,
			Volume: 1000,
		}
	}
	return bars
}

func newTestMonitor(gw ChartSource, hist HistSource, at time.Time) *Monitor {
	m := NewMonitor(gw, hist, config.Default(), logger.New("error"))
	m.SetNow(func() time.Time { return at })
	return m
}

func TestIsMarketOpen(t *testing.T) {
	cases := []struct {
		name string
		at   time.Time
		open bool
	}{
		{"weekday mid-session", time.Date(2026, 3, 2, 11, 0, 0, 0, kst), true},
		{"weekday at open", time.Date(2026, 3, 2, 9, 0, 0, 0, kst), true},
		{"weekday at close", time.Date(2026, 3, 2, 15, 30, 0, 0, kst), true},
		{"weekday before open", time.Date(2026, 3, 2, 8, 59, 0, 0, kst), false},
		{"weekday after close", time.Date(2026, 3, 2, 15, 31, 0, 0, kst), false},
		{"saturday mid-session hours", time.Date(2026, 3, 7, 11, 0, 0, 0, kst), false},
		{"sunday mid-session hours", time.Date(2026, 3, 8, 11, 0, 0, 0, kst), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := newTestMonitor(&fakeChart{}, &fakeHist{}, tc.at)
			assert.Equal(t, tc.open, m.IsMarketOpen())
		})
	}
}

func TestMarketStatusNextOpenSkipsWeekend(t *testing.T) {
	// Friday 16:00: next open is Monday 09:00.
	friday := time.Date(2026, 3, 6, 16, 0, 0, 0, kst)
	m := newTestMonitor(&fakeChart{}, &fakeHist{}, friday)

	st := m.MarketStatus()
	require.False(t, st.Open)
	assert.Equal(t, 65*time.Hour, st.NextOpenIn)
}

func TestRealtimePriceClosedSkipsBroker(t *testing.T) {
	gw := &fakeChart{quote: &broker.Quote{Code: "005930", Price: 70000}}
	saturday := time.Date(2026, 3, 7, 11, 0, 0, 0, kst)
	m := newTestMonitor(gw, &fakeHist{}, saturday)

	q, err := m.RealtimePrice(context.Background(), "005930")
	require.NoError(t, err)
	assert.Nil(t, q)
	assert.Zero(t, gw.priceCalls, "closed market must not touch the broker")
}

func TestRealtimePriceOpen(t *testing.T) {
	gw := &fakeChart{quote: &broker.Quote{Code: "005930", Price: 70000}}
	m := newTestMonitor(gw, &fakeHist{}, time.Date(2026, 3, 2, 11, 0, 0, 0, kst))

	q, err := m.RealtimePrice(context.Background(), "005930")
	require.NoError(t, err)
	require.NotNil(t, q)
	assert.Equal(t, 70000.0, q.Price)
	assert.Equal(t, 1, gw.priceCalls)
}

func TestStockDataPrimarySufficient(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, kst)
	gw := &fakeChart{bars: sessionBars(30, day, 10, 0, 70000)}
	hist := &fakeHist{}
	m := newTestMonitor(gw, hist, time.Date(2026, 3, 2, 11, 0, 0, 0, kst))

	bars, err := m.StockData(context.Background(), "005930")
	require.NoError(t, err)
	assert.Len(t, bars, 30)
	assert.Zero(t, hist.calls, "sufficient primary data needs no backfill")
}

func TestStockDataDropsOutOfSessionBars(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, kst)
	// 10 pre-market bars plus 25 in-session ones.
	bars := append(sessionBars(10, day, 8, 30, 70000), sessionBars(25, day, 10, 0, 70000)...)
	m := newTestMonitor(&fakeChart{bars: bars}, &fakeHist{}, time.Date(2026, 3, 2, 11, 0, 0, 0, kst))

	got, err := m.StockData(context.Background(), "005930")
	require.NoError(t, err)
	assert.Len(t, got, 25)
}

func TestStockDataBackfillMergesAndDedups(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, kst)
	primary := sessionBars(5, day, 10, 0, 70000)

	// Backfill overlaps the first two primary timestamps.
	backfill := append(sessionBars(10, day, 9, 52, 69500), primary[0], primary[1])

	gw := &fakeChart{bars: primary}
	hist := &fakeHist{bars: backfill}
	m := newTestMonitor(gw, hist, time.Date(2026, 3, 2, 11, 0, 0, 0, kst))

	bars, err := m.StockData(context.Background(), "005930")
	require.NoError(t, err)
	require.Equal(t, 1, hist.calls)
	// 10 backfill bars end at 10:01 and overlap 10:00 and 10:01 of the
	// primary feed, so the merge keeps 13 unique timestamps.
	assert.Len(t, bars, 13)
	for i := 1; i < len(bars); i++ {
		assert.True(t, bars[i-1].Time.Before(bars[i].Time), "bars must be oldest first")
	}
	// Overlapping timestamps keep the backfill copy seen first.
	assert.Equal(t, 69500.0, bars[8].Close)
}

func TestStockDataBothSourcesFail(t *testing.T) {
	gw := &fakeChart{err: errors.New("feed down")}
	hist := &fakeHist{err: errors.New("hist down")}
	m := newTestMonitor(gw, hist, time.Date(2026, 3, 2, 11, 0, 0, 0, kst))

	_, err := m.StockData(context.Background(), "005930")
	assert.Error(t, err)
}

func TestMonitorStocksFlagsUnavailable(t *testing.T) {
	gw := &fakeChart{err: errors.New("feed down")}
	hist := &fakeHist{err: errors.New("hist down")}
	m := newTestMonitor(gw, hist, time.Date(2026, 3, 2, 11, 0, 0, 0, kst))

	out := m.MonitorStocks(context.Background(), []string{"005930"}, []string{"000660", "005930"})
	require.Len(t, out, 2)
	assert.False(t, out["005930"].Available)
	assert.False(t, out["000660"].Available)
}
