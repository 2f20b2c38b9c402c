package ai

import (
	"fmt"
	"strings"
)

const systemPrompt = `You are an experienced intraday trader on the Korean equity market.
You receive candidates that passed a server-side momentum screen and a deterministic
VWAP-strategy backtest. Rate how attractive each one is for a VWAP-cross long entry today.

Rules:
1. Score each candidate from 0 to 100. Higher means a cleaner setup.
2. Weigh the backtest stats: win rate, average profit per trade, trade count.
3. A low trade count makes the stats unreliable; score conservatively.
4. Keep the reason to one short sentence.

Answer strictly as a JSON array:
[
  {"code": "005930", "score": 72, "reason": "why"}
]

Score every candidate you were given; do not drop any.`

func BuildScoringPrompt(candidates []CandidateInput) string {
	var sb strings.Builder

	sb.WriteString("## Screened candidates\n")
	sb.WriteString("| Code | Name | Market | Win rate % | Avg profit % | Trades | Last price |\n")
	sb.WriteString("|------|------|--------|------------|--------------|--------|------------|\n")
	for _, c := range candidates {
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %.1f | %+.2f | %d | %.0f |\n",
			c.Code, c.Name, c.Market, c.WinRate, c.AvgProfitPct, c.TradeCount, c.LastPrice))
	}
	sb.WriteString("\nScore the candidates and answer in JSON.")

	return sb.String()
}
