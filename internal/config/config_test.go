package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
broker:
  token: test-token
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "09:00", cfg.TimeFilter.MarketOpen)
	assert.Equal(t, "15:30", cfg.TimeFilter.MarketClose)
	assert.Equal(t, "15:10", cfg.TimeFilter.LiquidateAfter)
	assert.Equal(t, 2.0, cfg.Trailing.StopLossPct)
	assert.Equal(t, 5.0, cfg.Trailing.EmergencyStopPct)
	assert.Equal(t, 5, cfg.Risk.MaxPositions)
	assert.Equal(t, 0.6, cfg.Risk.MinConfidence)
	require.Len(t, cfg.PartialExit.Tiers, 2)
	assert.Equal(t, 1.0, cfg.PartialExit.Tiers[0].ProfitPct)
	assert.Equal(t, 0.3, cfg.PartialExit.Tiers[0].ExitRatio)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
broker:
  token: test-token
risk:
  max_positions: 3
  risk_per_trade_pct: 0.5
trailing:
  stop_loss_pct: 3.0
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Risk.MaxPositions)
	assert.Equal(t, 0.5, cfg.Risk.RiskPerTradePct)
	assert.Equal(t, 3.0, cfg.Trailing.StopLossPct)
}

func TestLoadMissingToken(t *testing.T) {
	t.Setenv("BROKER_TOKEN", "")
	path := writeConfig(t, `
web:
  port: 9000
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker.token")
}

func TestBrokerTokenEnvOverride(t *testing.T) {
	t.Setenv("BROKER_TOKEN", "env-token")
	path := writeConfig(t, `
broker:
  token: file-token
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-token", cfg.BrokerToken())
}

func TestValidateRejectsBadClock(t *testing.T) {
	path := writeConfig(t, `
broker:
  token: test-token
time_filter:
  market_open: "25:99"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "market_open")
}

func TestValidateRejectsBadTierRatio(t *testing.T) {
	path := writeConfig(t, `
broker:
  token: test-token
partial_exit:
  enabled: true
  tiers:
    - profit_pct: 1.0
      exit_ratio: 1.5
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit_ratio")
}

func TestValidateTelegramRequiresCredentials(t *testing.T) {
	path := writeConfig(t, `
broker:
  token: test-token
telegram:
  enabled: true
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram")
}

func TestSessionMinutes(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 9*60, cfg.MarketOpenMinutes())
	assert.Equal(t, 15*60+30, cfg.MarketCloseMinutes())
	assert.Equal(t, 15*60+10, cfg.LiquidateAfterMinutes())
}
