package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Broker         BrokerConfig         `yaml:"broker"`
	VWAP           VWAPConfig           `yaml:"vwap"`
	VWAPValidation VWAPValidationConfig `yaml:"vwap_validation"`
	Trailing       TrailingConfig       `yaml:"trailing"`
	PartialExit    PartialExitConfig    `yaml:"partial_exit"`
	TimeFilter     TimeFilterConfig     `yaml:"time_filter"`
	Risk           RiskConfig           `yaml:"risk"`
	Scanner        ScannerConfig        `yaml:"scanner"`
	AI             AIConfig             `yaml:"ai"`
	Telegram       TelegramConfig       `yaml:"telegram"`
	Web            WebConfig            `yaml:"web"`
	Logging        LoggingConfig        `yaml:"logging"`
}

type BrokerConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Token     string `yaml:"token"`
	AccountID string `yaml:"account_id"`
	AppName   string `yaml:"app_name"`
}

type VWAPConfig struct {
	UseRolling     bool    `yaml:"use_rolling"`
	RollingWindow  int     `yaml:"rolling_window"`
	MinDistancePct float64 `yaml:"min_distance_pct"`
	MinSlopePct    float64 `yaml:"min_slope_pct"`
}

type VWAPValidationConfig struct {
	MinWinRate      float64 `yaml:"min_win_rate"`
	MinAvgProfitPct float64 `yaml:"min_avg_profit_pct"`
}

type TrailingConfig struct {
	UseATRBased         bool    `yaml:"use_atr_based"`
	ATRMultiplier       float64 `yaml:"atr_multiplier"`
	TrailingStopPct     float64 `yaml:"trailing_stop_pct"`
	ActivationProfitPct float64 `yaml:"activation_profit_pct"`
	UseProfitTier       bool    `yaml:"use_profit_tier"`
	ProfitTierThreshold float64 `yaml:"profit_tier_threshold"`
	StopLossPct         float64 `yaml:"stop_loss_pct"`
	EmergencyStopPct    float64 `yaml:"emergency_stop_pct"`
}

type PartialExitTier struct {
	ProfitPct float64 `yaml:"profit_pct"`
	ExitRatio float64 `yaml:"exit_ratio"`
}

type PartialExitConfig struct {
	Enabled bool              `yaml:"enabled"`
	Tiers   []PartialExitTier `yaml:"tiers"`
}

type TimeFilterConfig struct {
	UseTimeFilter     bool   `yaml:"use_time_filter"`
	MarketOpen        string `yaml:"market_open"`
	MarketClose       string `yaml:"market_close"`
	AvoidEarlyMinutes int    `yaml:"avoid_early_minutes"`
	AvoidLateMinutes  int    `yaml:"avoid_late_minutes"`
	LiquidateAfter    string `yaml:"liquidate_after"`
}

type RiskConfig struct {
	RiskPerTradePct  float64 `yaml:"risk_per_trade_pct"`
	MaxPositionRatio float64 `yaml:"max_position_ratio"`
	MaxPositions     int     `yaml:"max_positions"`
	MaxExposurePct   float64 `yaml:"max_exposure_pct"`
	CashReservePct   float64 `yaml:"cash_reserve_pct"`
	MinConfidence    float64 `yaml:"min_confidence"`
}

type ScannerConfig struct {
	ConditionName    string `yaml:"condition_name"`
	ChartInterval    int    `yaml:"chart_interval"`
	ChartBars        int    `yaml:"chart_bars"`
	DBCandidateLimit int    `yaml:"db_candidate_limit"`
}

type AIConfig struct {
	Enabled        bool   `yaml:"enabled"`
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	Model          string `yaml:"model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
}

type WebConfig struct {
	Port int `yaml:"port"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Default returns a config with every default applied and no broker
// credentials. Used by tests.
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

func setDefaults(cfg *Config) {
	if cfg.Broker.Endpoint == "" {
		cfg.Broker.Endpoint = "wss://openapi.kbroker.co.kr/ws"
	}
	if cfg.Broker.AppName == "" {
		cfg.Broker.AppName = "kw-trader"
	}
	if cfg.VWAP.RollingWindow == 0 {
		cfg.VWAP.RollingWindow = 20
	}
	if cfg.VWAP.MinDistancePct == 0 {
		cfg.VWAP.MinDistancePct = 0.4
	}
	if cfg.VWAP.MinSlopePct == 0 {
		cfg.VWAP.MinSlopePct = 0.05
	}
	if cfg.VWAPValidation.MinWinRate == 0 {
		cfg.VWAPValidation.MinWinRate = 50.0
	}
	if cfg.VWAPValidation.MinAvgProfitPct == 0 {
		cfg.VWAPValidation.MinAvgProfitPct = 0.3
	}
	if cfg.Trailing.ATRMultiplier == 0 {
		cfg.Trailing.ATRMultiplier = 2.0
	}
	if cfg.Trailing.TrailingStopPct == 0 {
		cfg.Trailing.TrailingStopPct = 1.0
	}
	if cfg.Trailing.ActivationProfitPct == 0 {
		cfg.Trailing.ActivationProfitPct = 1.0
	}
	if cfg.Trailing.ProfitTierThreshold == 0 {
		cfg.Trailing.ProfitTierThreshold = 2.0
	}
	if cfg.Trailing.StopLossPct == 0 {
		cfg.Trailing.StopLossPct = 2.0
	}
	if cfg.Trailing.EmergencyStopPct == 0 {
		cfg.Trailing.EmergencyStopPct = 5.0
	}
	if len(cfg.PartialExit.Tiers) == 0 {
		cfg.PartialExit.Tiers = []PartialExitTier{
			{ProfitPct: 1.0, ExitRatio: 0.3},
			{ProfitPct: 2.0, ExitRatio: 0.3},
		}
	}
	if cfg.TimeFilter.MarketOpen == "" {
		cfg.TimeFilter.MarketOpen = "09:00"
	}
	if cfg.TimeFilter.MarketClose == "" {
		cfg.TimeFilter.MarketClose = "15:30"
	}
	if cfg.TimeFilter.AvoidEarlyMinutes == 0 {
		cfg.TimeFilter.AvoidEarlyMinutes = 10
	}
	if cfg.TimeFilter.AvoidLateMinutes == 0 {
		cfg.TimeFilter.AvoidLateMinutes = 20
	}
	if cfg.TimeFilter.LiquidateAfter == "" {
		cfg.TimeFilter.LiquidateAfter = "15:10"
	}
	if cfg.Risk.RiskPerTradePct == 0 {
		cfg.Risk.RiskPerTradePct = 1.0
	}
	if cfg.Risk.MaxPositionRatio == 0 {
		cfg.Risk.MaxPositionRatio = 0.2
	}
	if cfg.Risk.MaxPositions == 0 {
		cfg.Risk.MaxPositions = 5
	}
	if cfg.Risk.MaxExposurePct == 0 {
		cfg.Risk.MaxExposurePct = 80.0
	}
	if cfg.Risk.CashReservePct == 0 {
		cfg.Risk.CashReservePct = 10.0
	}
	if cfg.Risk.MinConfidence == 0 {
		cfg.Risk.MinConfidence = 0.6
	}
	if cfg.Scanner.ChartInterval == 0 {
		cfg.Scanner.ChartInterval = 1
	}
	if cfg.Scanner.ChartBars == 0 {
		cfg.Scanner.ChartBars = 120
	}
	if cfg.Scanner.DBCandidateLimit == 0 {
		cfg.Scanner.DBCandidateLimit = 20
	}
	if cfg.AI.Model == "" {
		cfg.AI.Model = "deepseek-chat"
	}
	if cfg.AI.BaseURL == "" {
		cfg.AI.BaseURL = "https://api.deepseek.com/v1"
	}
	if cfg.AI.TimeoutSeconds == 0 {
		cfg.AI.TimeoutSeconds = 60
	}
	if cfg.Web.Port == 0 {
		cfg.Web.Port = 8080
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

func (c *Config) Validate() error {
	if c.Broker.Token == "" && os.Getenv("BROKER_TOKEN") == "" {
		return fmt.Errorf("broker.token is required (or BROKER_TOKEN env)")
	}
	if _, err := parseClock(c.TimeFilter.MarketOpen); err != nil {
		return fmt.Errorf("invalid time_filter.market_open %q: %w", c.TimeFilter.MarketOpen, err)
	}
	if _, err := parseClock(c.TimeFilter.MarketClose); err != nil {
		return fmt.Errorf("invalid time_filter.market_close %q: %w", c.TimeFilter.MarketClose, err)
	}
	if _, err := parseClock(c.TimeFilter.LiquidateAfter); err != nil {
		return fmt.Errorf("invalid time_filter.liquidate_after %q: %w", c.TimeFilter.LiquidateAfter, err)
	}
	for i, t := range c.PartialExit.Tiers {
		if t.ExitRatio <= 0 || t.ExitRatio > 1 {
			return fmt.Errorf("partial_exit.tiers[%d].exit_ratio must be in (0,1]", i)
		}
	}
	if c.AI.Enabled && c.AI.APIKey == "" {
		return fmt.Errorf("ai.api_key is required when ai is enabled")
	}
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == 0 {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}
	return nil
}

// BrokerToken prefers the BROKER_TOKEN environment variable over the file.
func (c *Config) BrokerToken() string {
	if t := os.Getenv("BROKER_TOKEN"); t != "" {
		return t
	}
	return c.Broker.Token
}

// MarketLocation is the exchange timezone for session-window logic.
func (c *Config) MarketLocation() *time.Location {
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		loc = time.FixedZone("KST", 9*60*60)
	}
	return loc
}

func (c *Config) AITimeout() time.Duration {
	return time.Duration(c.AI.TimeoutSeconds) * time.Second
}

// MarketOpenMinutes returns the session open as minutes from midnight.
func (c *Config) MarketOpenMinutes() int {
	m, _ := parseClock(c.TimeFilter.MarketOpen)
	return m
}

func (c *Config) MarketCloseMinutes() int {
	m, _ := parseClock(c.TimeFilter.MarketClose)
	return m
}

func (c *Config) LiquidateAfterMinutes() int {
	m, _ := parseClock(c.TimeFilter.LiquidateAfter)
	return m
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}
