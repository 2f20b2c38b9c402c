package storage

import "time"

// TradeRecord rows are written on every fill. EntryContext and ExitContext
// hold JSON snapshots of the indicators that drove the decision.
type TradeRecord struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Code     string  `gorm:"index;not null" json:"code"`
	Name     string  `json:"name"`
	Action   string  `gorm:"not null" json:"action"` // BUY, PARTIAL_SELL, SELL
	Price    float64 `gorm:"not null" json:"price"`
	Quantity int64   `gorm:"not null" json:"quantity"`
	OrderID  string  `json:"order_id"`

	Stage     int     `json:"stage"`
	Reason    string  `json:"reason"`
	ProfitPct float64 `json:"profit_pct"`
	PnL       float64 `gorm:"column:pnl" json:"pnl"`

	EntryContext string `gorm:"type:text" json:"entry_context"`
	ExitContext  string `gorm:"type:text" json:"exit_context"`

	Status string `gorm:"not null;default:'open'" json:"status"` // open, closed
}

// ValidationScore is one historical-validation scorecard for a candidate.
type ValidationScore struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	Code         string  `gorm:"index;not null" json:"code"`
	Name         string  `json:"name"`
	WinRate      float64 `json:"win_rate"`
	AvgProfitPct float64 `json:"avg_profit_pct"`
	TradeCount   int     `json:"trade_count"`
	Passed       bool    `json:"passed"`
}

// Candidate persists the current watchlist so the scanner can cold-start
// after hours when the live screen returns nothing.
type Candidate struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	Code         string  `gorm:"index;not null" json:"code"`
	Name         string  `json:"name"`
	Market       string  `json:"market"`
	WinRate      float64 `json:"win_rate"`
	AvgProfitPct float64 `json:"avg_profit_pct"`
	TradeCount   int     `json:"trade_count"`
	AIScore      int     `json:"ai_score"`
	AIReason     string  `gorm:"type:text" json:"ai_reason"`
}

// AccountSnapshot is written once per scan pass.
type AccountSnapshot struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	Cash           float64 `json:"cash"`
	PositionsValue float64 `json:"positions_value"`
	TotalAssets    float64 `json:"total_assets"`
	PositionsCount int     `json:"positions_count"`
	PositionsJSON  string  `gorm:"type:text" json:"positions_json"`
}
