// Package krx fetches historical OHLCV from the exchange's public data
// service. It is the fallback source when the broker's intraday chart is too
// thin.
package krx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/itaek/kw-trader/internal/broker"
	"github.com/itaek/kw-trader/internal/logger"
)

const defaultBaseURL = "https://data.krx.co.kr/api/ohlcv"

type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *logger.Logger
}

func NewClient(log *logger.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    defaultBaseURL,
		logger:     log,
	}
}

type ohlcvRow struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

type ohlcvResponse struct {
	Code string     `json:"code"`
	Rows []ohlcvRow `json:"rows"`
}

// DailyBars returns up to count recent daily bars for code, oldest first.
func (c *Client) DailyBars(ctx context.Context, code string, count int) ([]broker.Bar, error) {
	q := url.Values{}
	q.Set("code", code)
	q.Set("interval", "day")
	q.Set("count", fmt.Sprint(count))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create ohlcv request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch ohlcv %s: %w", code, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("krx data service returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read ohlcv response: %w", err)
	}

	var parsed ohlcvResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse ohlcv response: %w", err)
	}

	loc, locErr := time.LoadLocation("Asia/Seoul")
	if locErr != nil {
		loc = time.FixedZone("KST", 9*60*60)
	}

	bars := make([]broker.Bar, 0, len(parsed.Rows))
	for _, row := range parsed.Rows {
		ts, err := time.ParseInLocation("20060102", row.Date, loc)
		if err != nil {
			continue
		}
		bars = append(bars, broker.Bar{
			Time:   ts,
			Open:   row.Open,
			High:   row.High,
			Low:    row.Low,
			Close:  row.Close,
			Volume: row.Volume,
		})
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
	if count > 0 && len(bars) > count {
		bars = bars[len(bars)-count:]
	}
	return bars, nil
}

// SetBaseURL points the client at a different endpoint. Tests use this.
func (c *Client) SetBaseURL(u string) { c.baseURL = u }
