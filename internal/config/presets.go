package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Preset is one named bundle of engine defaults in YAML. Values left
// at zero keep the built-in defaults.
type Preset struct {
	Name string `yaml:"name"`

	Symbol         string   `yaml:"symbol"`
	TradingMode    string   `yaml:"trading_mode"`
	DynamicSymbols []string `yaml:"dynamic_symbols"`

	TradeAmountPercent float64 `yaml:"trade_amount_percent"`
	MinTradeAmount     float64 `yaml:"min_trade_amount"`
	MaxTradeAmount     float64 `yaml:"max_trade_amount"`

	DailyProfitTarget   float64 `yaml:"daily_profit_target"`
	StopLossPercent     float64 `yaml:"stop_loss_percent"`
	MaxDailyTrades      int     `yaml:"max_daily_trades"`
	MinDailyVariation   float64 `yaml:"min_daily_variation"`
	BuyThresholdFromLow float64 `yaml:"buy_threshold_from_low"`
	BuyOnDropPercent    float64 `yaml:"buy_on_drop_percent"`
	MinHistory          int     `yaml:"min_history"`
	TrendWindow         int     `yaml:"trend_window"`
	BuyCooldownSeconds  int     `yaml:"buy_cooldown_seconds"`

	EnableReinforcement          bool    `yaml:"enable_reinforcement"`
	OriginalStrategyPercent      float64 `yaml:"original_strategy_percent"`
	ReinforcementStrategyPercent float64 `yaml:"reinforcement_strategy_percent"`
	ReinforcementTriggerPercent  float64 `yaml:"reinforcement_trigger_percent"`

	DipThreshold float64 `yaml:"dip_threshold"`
	VolumeFloor  float64 `yaml:"volume_floor"`
}

type presetFile struct {
	Presets []Preset `yaml:"presets"`
}

// LoadPresets reads named engine presets from a YAML file.
func LoadPresets(path string) ([]Preset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file presetFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse presets: %w", err)
	}
	return file.Presets, nil
}

// Apply overlays the preset's non-zero values onto a config.
func (p Preset) Apply(c EngineConfig) EngineConfig {
	if p.Symbol != "" {
		c.Symbol = p.Symbol
	}
	if p.TradingMode != "" {
		c.TradingMode = p.TradingMode
	}
	if len(p.DynamicSymbols) > 0 {
		c.DynamicSymbols = p.DynamicSymbols
	}
	if p.TradeAmountPercent > 0 {
		c.TradeAmountPercent = p.TradeAmountPercent
	}
	if p.MinTradeAmount > 0 {
		c.MinTradeAmount = p.MinTradeAmount
	}
	if p.MaxTradeAmount > 0 {
		c.MaxTradeAmount = p.MaxTradeAmount
	}
	if p.DailyProfitTarget > 0 {
		c.DailyProfitTarget = p.DailyProfitTarget
	}
	if p.StopLossPercent > 0 {
		c.StopLossPercent = p.StopLossPercent
	}
	if p.MaxDailyTrades > 0 {
		c.MaxDailyTrades = p.MaxDailyTrades
	}
	if p.MinDailyVariation > 0 {
		c.MinDailyVariation = p.MinDailyVariation
	}
	if p.BuyThresholdFromLow > 0 {
		c.BuyThresholdFromLow = p.BuyThresholdFromLow
	}
	if p.BuyOnDropPercent > 0 {
		c.BuyOnDropPercent = p.BuyOnDropPercent
	}
	if p.MinHistory > 0 {
		c.MinHistory = p.MinHistory
	}
	if p.TrendWindow > 0 {
		c.TrendWindow = p.TrendWindow
	}
	if p.BuyCooldownSeconds > 0 {
		c.BuyCooldown = time.Duration(p.BuyCooldownSeconds) * time.Second
	}
	if p.EnableReinforcement {
		c.EnableReinforcement = true
	}
	if p.OriginalStrategyPercent > 0 {
		c.OriginalStrategyPercent = p.OriginalStrategyPercent
	}
	if p.ReinforcementStrategyPercent > 0 {
		c.ReinforcementStrategyPercent = p.ReinforcementStrategyPercent
	}
	if p.ReinforcementTriggerPercent > 0 {
		c.ReinforcementTriggerPercent = p.ReinforcementTriggerPercent
	}
	if p.DipThreshold != 0 {
		c.DipThreshold = p.DipThreshold
	}
	if p.VolumeFloor > 0 {
		c.VolumeFloor = p.VolumeFloor
	}
	return c
}
