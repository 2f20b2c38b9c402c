package ai

// CandidateInput is one screened instrument handed to the scorer.
type CandidateInput struct {
	Code         string
	Name         string
	Market       string
	WinRate      float64
	AvgProfitPct float64
	TradeCount   int
	LastPrice    float64
}

// Score is the model's assessment of one candidate. Scores annotate the
// watchlist; they never gate trades by themselves.
type Score struct {
	Code   string `json:"code"`
	Score  int    `json:"score"` // 0-100
	Reason string `json:"reason"`
}
