package storage

import (
	"time"

	"gorm.io/gorm"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Trades

func (r *Repository) SaveTrade(trade *TradeRecord) error {
	return r.db.Create(trade).Error
}

func (r *Repository) UpdateTrade(trade *TradeRecord) error {
	return r.db.Save(trade).Error
}

func (r *Repository) GetOpenTradeByCode(code string) (*TradeRecord, error) {
	var trade TradeRecord
	err := r.db.Where("status = ? AND code = ? AND action = ?", "open", code, "BUY").
		Order("created_at DESC").First(&trade).Error
	if err != nil {
		return nil, err
	}
	return &trade, nil
}

func (r *Repository) GetRecentTrades(limit int) ([]TradeRecord, error) {
	var trades []TradeRecord
	err := r.db.Order("created_at DESC").Limit(limit).Find(&trades).Error
	return trades, err
}

func (r *Repository) GetTodayPnL() (float64, error) {
	today := time.Now().Truncate(24 * time.Hour)
	var total float64
	err := r.db.Model(&TradeRecord{}).
		Where("action IN ? AND created_at >= ?", []string{"SELL", "PARTIAL_SELL"}, today).
		Select("COALESCE(SUM(pnl), 0)").Scan(&total).Error
	return total, err
}

func (r *Repository) GetTotalPnL() (float64, error) {
	var total float64
	err := r.db.Model(&TradeRecord{}).
		Where("action IN ?", []string{"SELL", "PARTIAL_SELL"}).
		Select("COALESCE(SUM(pnl), 0)").Scan(&total).Error
	return total, err
}

// Validation scorecards

func (r *Repository) SaveValidationScore(score *ValidationScore) error {
	return r.db.Create(score).Error
}

func (r *Repository) GetLatestScore(code string) (*ValidationScore, error) {
	var score ValidationScore
	err := r.db.Where("code = ?", code).Order("created_at DESC").First(&score).Error
	if err != nil {
		return nil, err
	}
	return &score, nil
}

// Candidates

// ReplaceCandidates swaps the persisted watchlist wholesale.
func (r *Repository) ReplaceCandidates(candidates []Candidate) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&Candidate{}).Error; err != nil {
			return err
		}
		if len(candidates) == 0 {
			return nil
		}
		return tx.Create(&candidates).Error
	})
}

func (r *Repository) GetCandidates(limit int) ([]Candidate, error) {
	var candidates []Candidate
	err := r.db.Order("win_rate DESC").Limit(limit).Find(&candidates).Error
	return candidates, err
}

// Account snapshots

func (r *Repository) SaveAccountSnapshot(snapshot *AccountSnapshot) error {
	return r.db.Create(snapshot).Error
}

func (r *Repository) GetLatestSnapshot() (*AccountSnapshot, error) {
	var snapshot AccountSnapshot
	err := r.db.Order("created_at DESC").First(&snapshot).Error
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}
