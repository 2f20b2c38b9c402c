package broker

import "time"

// Balance is the broker-reported account balance.
type Balance struct {
	Cash        float64 `json:"cash"`
	TotalAssets float64 `json:"total_assets"`
}

// Holding is one broker-reported open holding.
type Holding struct {
	Code         string  `json:"code"`
	Name         string  `json:"name"`
	Quantity     int64   `json:"quantity"`
	AvgPrice     float64 `json:"avg_price"`
	CurrentPrice float64 `json:"current_price"`
}

// Quote is a realtime price snapshot.
type Quote struct {
	Code   string  `json:"code"`
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
}

// Bar is one OHLCV bar. Prices are always positive; the gateway strips the
// broker's sign-encoded tick direction.
type Bar struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// OrderType selects broker order routing.
type OrderType string

const (
	OrderMarket OrderType = "market"
	OrderLimit  OrderType = "limit"
)

// OrderResult is consumed exactly once by the executor; placements are never
// retried on failure.
type OrderResult struct {
	OrderID string
	Code    string
	Message string
}

// Condition is one server-side screening condition registered at the broker.
type Condition struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Candidate is one raw instrument returned by a condition search.
type Candidate struct {
	Code   string `json:"code"`
	Name   string `json:"name"`
	Market string `json:"market"`
}
