// Package market owns session-window logic and per-instrument data retrieval
// with fallback sourcing.
package market

import (
	"context"
	"sort"
	"time"

	"github.com/itaek/kw-trader/internal/broker"
	"github.com/itaek/kw-trader/internal/config"
	"github.com/itaek/kw-trader/internal/logger"
)

const minPrimaryBars = 20

// ChartSource is the broker slice the monitor reads from.
type ChartSource interface {
	GetStockPrice(ctx context.Context, code string) (*broker.Quote, error)
	GetMinuteChart(ctx context.Context, code string, interval, count int) ([]broker.Bar, error)
}

// HistSource is the secondary historical provider used for backfill.
type HistSource interface {
	DailyBars(ctx context.Context, code string, count int) ([]broker.Bar, error)
}

// Status describes the session state and, when closed, the wait until the
// next open.
type Status struct {
	Open       bool
	NextOpenIn time.Duration
}

// StockData is the per-instrument result of a monitoring pass. Available is
// false when neither source produced usable bars.
type StockData struct {
	Code      string
	Bars      []broker.Bar
	Price     float64
	Available bool
}

type Monitor struct {
	gw     ChartSource
	hist   HistSource
	cfg    *config.Config
	loc    *time.Location
	logger *logger.Logger
	now    func() time.Time
}

func NewMonitor(gw ChartSource, hist HistSource, cfg *config.Config, log *logger.Logger) *Monitor {
	return &Monitor{
		gw:     gw,
		hist:   hist,
		cfg:    cfg,
		loc:    cfg.MarketLocation(),
		logger: log,
		now:    time.Now,
	}
}

// IsMarketOpen checks weekday plus the configured session window.
func (m *Monitor) IsMarketOpen() bool {
	now := m.now().In(m.loc)
	if wd := now.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	minutes := now.Hour()*60 + now.Minute()
	return minutes >= m.cfg.MarketOpenMinutes() && minutes <= m.cfg.MarketCloseMinutes()
}

// MarketStatus reports open/closed and the time remaining until the next
// session open.
func (m *Monitor) MarketStatus() Status {
	if m.IsMarketOpen() {
		return Status{Open: true}
	}

	now := m.now().In(m.loc)
	openMin := m.cfg.MarketOpenMinutes()
	next := time.Date(now.Year(), now.Month(), now.Day(), openMin/60, openMin%60, 0, 0, m.loc)
	for !next.After(now) || next.Weekday() == time.Saturday || next.Weekday() == time.Sunday {
		next = next.AddDate(0, 0, 1)
	}
	return Status{Open: false, NextOpenIn: next.Sub(now)}
}

// RealtimePrice fetches the live quote. Outside the session window it
// short-circuits to (nil, nil) — "unavailable" — without touching the broker.
func (m *Monitor) RealtimePrice(ctx context.Context, code string) (*broker.Quote, error) {
	if !m.IsMarketOpen() {
		m.logger.Debug("realtime price unavailable outside session", "code", code)
		return nil, nil
	}
	return m.gw.GetStockPrice(ctx, code)
}

// StockData fetches intraday bars from the broker, restricted to the live
// session, and backfills from the secondary provider whenever fewer than 20
// bars come back. Merged bars are de-duplicated on timestamp, oldest first.
func (m *Monitor) StockData(ctx context.Context, code string) ([]broker.Bar, error) {
	bars, err := m.gw.GetMinuteChart(ctx, code, m.cfg.Scanner.ChartInterval, m.cfg.Scanner.ChartBars)
	if err != nil {
		m.logger.Warn("minute chart fetch failed", "code", code, "error", err)
		bars = nil
	}
	bars = m.sessionOnly(bars)

	if len(bars) >= minPrimaryBars {
		return bars, nil
	}

	backfill, histErr := m.hist.DailyBars(ctx, code, m.cfg.Scanner.ChartBars)
	if histErr != nil {
		if err != nil {
			return nil, err
		}
		m.logger.Warn("backfill fetch failed", "code", code, "error", histErr)
		return bars, nil
	}
	return mergeBars(backfill, bars), nil
}

// sessionOnly keeps bars stamped inside today's session window.
func (m *Monitor) sessionOnly(bars []broker.Bar) []broker.Bar {
	out := bars[:0]
	openMin, closeMin := m.cfg.MarketOpenMinutes(), m.cfg.MarketCloseMinutes()
	for _, b := range bars {
		t := b.Time.In(m.loc)
		minutes := t.Hour()*60 + t.Minute()
		if minutes >= openMin && minutes <= closeMin {
			out = append(out, b)
		}
	}
	return out
}

func mergeBars(older, newer []broker.Bar) []broker.Bar {
	seen := make(map[int64]bool, len(older)+len(newer))
	merged := make([]broker.Bar, 0, len(older)+len(newer))
	for _, b := range append(append([]broker.Bar{}, older...), newer...) {
		key := b.Time.Unix()
		if seen[key] {
			continue
		}
		seen[key] = true
		merged = append(merged, b)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Time.Before(merged[j].Time) })
	return merged
}

// MonitorStocks fetches data for the union of watchlist and held codes. A
// failed feed flags that instrument unavailable instead of aborting the pass.
func (m *Monitor) MonitorStocks(ctx context.Context, watchlist, held []string) map[string]StockData {
	codes := make([]string, 0, len(watchlist)+len(held))
	seen := make(map[string]bool, len(watchlist)+len(held))
	for _, c := range append(append([]string{}, watchlist...), held...) {
		if !seen[c] {
			seen[c] = true
			codes = append(codes, c)
		}
	}

	out := make(map[string]StockData, len(codes))
	for _, code := range codes {
		bars, err := m.StockData(ctx, code)
		if err != nil || len(bars) == 0 {
			if err != nil {
				m.logger.Warn("stock data unavailable", "code", code, "error", err)
			}
			out[code] = StockData{Code: code}
			continue
		}
		out[code] = StockData{
			Code:      code,
			Bars:      bars,
			Price:     bars[len(bars)-1].Close,
			Available: true,
		}
	}
	return out
}

// SetNow overrides the clock. Tests use this.
func (m *Monitor) SetNow(now func() time.Time) { m.now = now }
