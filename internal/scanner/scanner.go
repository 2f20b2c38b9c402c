// Package scanner turns the broker's server-side screen into a validated
// watchlist.
package scanner

import (
	"context"
	"fmt"

	"github.com/itaek/kw-trader/internal/ai"
	"github.com/itaek/kw-trader/internal/broker"
	"github.com/itaek/kw-trader/internal/config"
	"github.com/itaek/kw-trader/internal/logger"
	"github.com/itaek/kw-trader/internal/storage"
)

// WatchlistEntry is one instrument approved for entry evaluation. The set is
// replaced wholesale on each rescan.
type WatchlistEntry struct {
	Code         string
	Name         string
	Market       string
	WinRate      float64
	AvgProfitPct float64
	TradeCount   int
	HasStats     bool
	AIScore      int
	AIReason     string
}

// ConditionSource is the broker slice the scanner screens with.
type ConditionSource interface {
	GetConditionList(ctx context.Context) ([]broker.Condition, error)
	RunConditionSearch(ctx context.Context, id string) ([]broker.Candidate, error)
}

// DataSource supplies per-candidate bars for validation, with fallback.
type DataSource interface {
	StockData(ctx context.Context, code string) ([]broker.Bar, error)
}

// Scorer is the optional AI annotator.
type Scorer interface {
	ScoreCandidates(ctx context.Context, candidates []ai.CandidateInput) ([]ai.Score, string, error)
}

type Scanner struct {
	gw        ConditionSource
	data      DataSource
	validator *Validator
	scorer    Scorer
	repo      *storage.Repository
	cfg       *config.Config
	logger    *logger.Logger
}

func NewScanner(gw ConditionSource, data DataSource, validator *Validator, scorer Scorer,
	repo *storage.Repository, cfg *config.Config, log *logger.Logger) *Scanner {
	return &Scanner{
		gw:        gw,
		data:      data,
		validator: validator,
		scorer:    scorer,
		repo:      repo,
		cfg:       cfg,
		logger:    log,
	}
}

// RunConditionSearch executes the named server-side screen and returns raw
// candidates.
func (s *Scanner) RunConditionSearch(ctx context.Context, name string) ([]broker.Candidate, error) {
	conditions, err := s.gw.GetConditionList(ctx)
	if err != nil {
		return nil, fmt.Errorf("condition search: %w", err)
	}

	var id string
	for _, c := range conditions {
		if c.Name == name {
			id = c.ID
			break
		}
	}
	if id == "" {
		return nil, fmt.Errorf("condition search: condition %q not registered", name)
	}

	candidates, err := s.gw.RunConditionSearch(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("condition search: %w", err)
	}
	s.logger.Info("condition search done", "condition", name, "candidates", len(candidates))
	return candidates, nil
}

// FilterWithVwap backtests each candidate's history and keeps the ones
// clearing both thresholds, persisting a scorecard per candidate. A feed
// failure skips that candidate, never the whole pass.
func (s *Scanner) FilterWithVwap(ctx context.Context, candidates []broker.Candidate, minWinRate, minAvgProfit float64) ([]WatchlistEntry, error) {
	var entries []WatchlistEntry

	for _, cand := range candidates {
		bars, err := s.data.StockData(ctx, cand.Code)
		if err != nil {
			s.logger.Warn("validation data unavailable", "code", cand.Code, "error", err)
			continue
		}

		res := s.validator.Backtest(bars)
		passed := res.TradeCount > 0 && res.WinRate >= minWinRate && res.AvgProfitPct >= minAvgProfit

		score := &storage.ValidationScore{
			Code:         cand.Code,
			Name:         cand.Name,
			WinRate:      res.WinRate,
			AvgProfitPct: res.AvgProfitPct,
			TradeCount:   res.TradeCount,
			Passed:       passed,
		}
		if err := s.repo.SaveValidationScore(score); err != nil {
			s.logger.Error("save validation score", "code", cand.Code, "error", err)
		}

		if !passed {
			continue
		}
		entries = append(entries, WatchlistEntry{
			Code:         cand.Code,
			Name:         cand.Name,
			Market:       cand.Market,
			WinRate:      res.WinRate,
			AvgProfitPct: res.AvgProfitPct,
			TradeCount:   res.TradeCount,
			HasStats:     true,
		})
	}

	s.logger.Info("vwap validation done",
		"candidates", len(candidates), "passed", len(entries),
		"min_win_rate", minWinRate, "min_avg_profit", minAvgProfit)

	if s.cfg.AI.Enabled && s.scorer != nil && len(entries) > 0 {
		s.scoreEntries(ctx, entries)
	}

	s.persistWatchlist(entries)
	return entries, nil
}

func (s *Scanner) scoreEntries(ctx context.Context, entries []WatchlistEntry) {
	inputs := make([]ai.CandidateInput, len(entries))
	for i, e := range entries {
		inputs[i] = ai.CandidateInput{
			Code:         e.Code,
			Name:         e.Name,
			Market:       e.Market,
			WinRate:      e.WinRate,
			AvgProfitPct: e.AvgProfitPct,
			TradeCount:   e.TradeCount,
		}
	}

	scores, _, err := s.scorer.ScoreCandidates(ctx, inputs)
	if err != nil {
		// Scoring only annotates; the watchlist stands without it.
		s.logger.Warn("ai scoring failed", "error", err)
		return
	}

	byCode := make(map[string]ai.Score, len(scores))
	for _, sc := range scores {
		byCode[sc.Code] = sc
	}
	for i := range entries {
		if sc, ok := byCode[entries[i].Code]; ok {
			entries[i].AIScore = sc.Score
			entries[i].AIReason = sc.Reason
		}
	}
}

func (s *Scanner) persistWatchlist(entries []WatchlistEntry) {
	rows := make([]storage.Candidate, len(entries))
	for i, e := range entries {
		rows[i] = storage.Candidate{
			Code:         e.Code,
			Name:         e.Name,
			Market:       e.Market,
			WinRate:      e.WinRate,
			AvgProfitPct: e.AvgProfitPct,
			TradeCount:   e.TradeCount,
			AIScore:      e.AIScore,
			AIReason:     e.AIReason,
		}
	}
	if err := s.repo.ReplaceCandidates(rows); err != nil {
		s.logger.Error("persist watchlist", "error", err)
	}
}

// LoadCandidatesFromDB is the cold-start/after-hours fallback when the live
// screen returns nothing.
func (s *Scanner) LoadCandidatesFromDB(limit int) ([]WatchlistEntry, error) {
	rows, err := s.repo.GetCandidates(limit)
	if err != nil {
		return nil, fmt.Errorf("load candidates from db: %w", err)
	}

	entries := make([]WatchlistEntry, len(rows))
	for i, r := range rows {
		entries[i] = WatchlistEntry{
			Code:         r.Code,
			Name:         r.Name,
			Market:       r.Market,
			WinRate:      r.WinRate,
			AvgProfitPct: r.AvgProfitPct,
			TradeCount:   r.TradeCount,
			HasStats:     true,
			AIScore:      r.AIScore,
			AIReason:     r.AIReason,
		}
	}
	s.logger.Info("loaded candidates from db", "count", len(entries))
	return entries, nil
}
