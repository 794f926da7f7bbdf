// Package config defines the per-user engine configuration: defaults,
// database hydration, and validation.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"tradecore/pkg/db"
)

// Trading modes.
const (
	ModeSingle  = "single"
	ModeDynamic = "dynamic"
)

var (
	ErrSymbolRequired    = errors.New("trading symbol is required")
	ErrCredentialsNeeded = errors.New("api credentials are required")
)

// EngineConfig is the fully hydrated configuration one engine runs
// with. Defaults are applied once at construction; the engine never
// re-reads them mid-run.
type EngineConfig struct {
	UserID         string
	Symbol         string
	TradingMode    string
	DynamicSymbols []string

	TradeAmountPercent float64
	MinTradeAmount     float64
	MaxTradeAmount     float64

	DailyProfitTarget   float64 // net % after fees
	StopLossPercent     float64 // raw drawdown %
	MaxDailyTrades      int
	MinDailyVariation   float64 // % range required before buying
	BuyThresholdFromLow float64 // % band above daily low
	BuyOnDropPercent    float64 // % drop from daily high
	MinHistory          int
	TrendWindow         int
	BuyCooldown         time.Duration
	MakerFee            float64
	TakerFee            float64

	EnableReinforcement          bool
	OriginalStrategyPercent      float64
	ReinforcementStrategyPercent float64
	ReinforcementTriggerPercent  float64

	DipThreshold float64 // max 24h change % for dynamic candidates
	VolumeFloor  float64 // min 24h quote volume for dynamic candidates

	APIKey    string
	APISecret string
	BaseURL   string

	PollInterval         time.Duration
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
}

// Default returns an EngineConfig with production defaults applied.
func Default(userID string) EngineConfig {
	return EngineConfig{
		UserID:              userID,
		Symbol:              "BTCUSDT",
		TradingMode:         ModeSingle,
		TradeAmountPercent:  10,
		MinTradeAmount:      5,
		MaxTradeAmount:      10000,
		DailyProfitTarget:   0.3,
		StopLossPercent:     1.5,
		MaxDailyTrades:      3,
		MinDailyVariation:   0.5,
		BuyThresholdFromLow: 0.2,
		BuyOnDropPercent:    0.7,
		MinHistory:          20,
		TrendWindow:         10,
		BuyCooldown:         5 * time.Minute,
		MakerFee:            0.001,
		TakerFee:            0.001,

		OriginalStrategyPercent:      70,
		ReinforcementStrategyPercent: 30,
		ReinforcementTriggerPercent:  1.0,

		DipThreshold: -0.5,
		VolumeFloor:  1000000,

		PollInterval:         10 * time.Second,
		MaxReconnectAttempts: 5,
		ReconnectDelay:       5 * time.Second,
	}
}

// FromRow hydrates an EngineConfig from its database row, filling
// gaps with defaults so half-written rows still produce a runnable
// config.
func FromRow(row *db.BotConfig) EngineConfig {
	c := Default(row.UserID)

	if row.Symbol != "" {
		c.Symbol = strings.ToUpper(row.Symbol)
	}
	if row.TradingMode != "" {
		c.TradingMode = row.TradingMode
	}
	if row.DynamicSymbols != "" {
		for _, s := range strings.Split(row.DynamicSymbols, ",") {
			s = strings.ToUpper(strings.TrimSpace(s))
			if s != "" {
				c.DynamicSymbols = append(c.DynamicSymbols, s)
			}
		}
	}

	if row.TradeAmountPercent > 0 {
		c.TradeAmountPercent = row.TradeAmountPercent
	}
	if row.MinTradeAmount > 0 {
		c.MinTradeAmount = row.MinTradeAmount
	}
	if row.MaxTradeAmount > 0 {
		c.MaxTradeAmount = row.MaxTradeAmount
	}
	if row.DailyProfitTarget > 0 {
		c.DailyProfitTarget = row.DailyProfitTarget
	}
	if row.StopLossPercent > 0 {
		c.StopLossPercent = row.StopLossPercent
	}
	if row.MaxDailyTrades > 0 {
		c.MaxDailyTrades = row.MaxDailyTrades
	}
	if row.MinDailyVariation > 0 {
		c.MinDailyVariation = row.MinDailyVariation
	}
	if row.BuyThresholdFromLow > 0 {
		c.BuyThresholdFromLow = row.BuyThresholdFromLow
	}
	if row.BuyOnDropPercent > 0 {
		c.BuyOnDropPercent = row.BuyOnDropPercent
	}
	if row.MinHistory > 0 {
		c.MinHistory = row.MinHistory
	}
	if row.TrendWindow > 0 {
		c.TrendWindow = row.TrendWindow
	}
	if row.BuyCooldownSeconds > 0 {
		c.BuyCooldown = time.Duration(row.BuyCooldownSeconds) * time.Second
	}
	if row.MakerFee > 0 {
		c.MakerFee = row.MakerFee
	}
	if row.TakerFee > 0 {
		c.TakerFee = row.TakerFee
	}

	c.EnableReinforcement = row.EnableReinforcement
	if row.OriginalStrategyPercent > 0 {
		c.OriginalStrategyPercent = row.OriginalStrategyPercent
	}
	if row.ReinforcementStrategyPercent > 0 {
		c.ReinforcementStrategyPercent = row.ReinforcementStrategyPercent
	}
	if row.ReinforcementTriggerPercent > 0 {
		c.ReinforcementTriggerPercent = row.ReinforcementTriggerPercent
	}

	if row.DipThreshold != 0 {
		c.DipThreshold = row.DipThreshold
	}
	if row.VolumeFloor > 0 {
		c.VolumeFloor = row.VolumeFloor
	}

	c.APIKey = row.APIKey
	c.APISecret = row.APISecret
	c.BaseURL = row.BaseURL

	if row.PollIntervalSeconds > 0 {
		c.PollInterval = time.Duration(row.PollIntervalSeconds) * time.Second
	}
	if row.MaxReconnectAttempts > 0 {
		c.MaxReconnectAttempts = row.MaxReconnectAttempts
	}
	if row.ReconnectDelaySeconds > 0 {
		c.ReconnectDelay = time.Duration(row.ReconnectDelaySeconds) * time.Second
	}

	return c
}

// ToRow converts the config back to its persistence shape.
func (c EngineConfig) ToRow() *db.BotConfig {
	return &db.BotConfig{
		UserID:         c.UserID,
		Symbol:         c.Symbol,
		TradingMode:    c.TradingMode,
		DynamicSymbols: strings.Join(c.DynamicSymbols, ","),

		TradeAmountPercent: c.TradeAmountPercent,
		MinTradeAmount:     c.MinTradeAmount,
		MaxTradeAmount:     c.MaxTradeAmount,

		DailyProfitTarget:   c.DailyProfitTarget,
		StopLossPercent:     c.StopLossPercent,
		MaxDailyTrades:      c.MaxDailyTrades,
		MinDailyVariation:   c.MinDailyVariation,
		BuyThresholdFromLow: c.BuyThresholdFromLow,
		BuyOnDropPercent:    c.BuyOnDropPercent,
		MinHistory:          c.MinHistory,
		TrendWindow:         c.TrendWindow,
		BuyCooldownSeconds:  int(c.BuyCooldown / time.Second),
		MakerFee:            c.MakerFee,
		TakerFee:            c.TakerFee,

		EnableReinforcement:          c.EnableReinforcement,
		OriginalStrategyPercent:      c.OriginalStrategyPercent,
		ReinforcementStrategyPercent: c.ReinforcementStrategyPercent,
		ReinforcementTriggerPercent:  c.ReinforcementTriggerPercent,

		DipThreshold: c.DipThreshold,
		VolumeFloor:  c.VolumeFloor,

		APIKey:    c.APIKey,
		APISecret: c.APISecret,
		BaseURL:   c.BaseURL,

		PollIntervalSeconds:   int(c.PollInterval / time.Second),
		MaxReconnectAttempts:  c.MaxReconnectAttempts,
		ReconnectDelaySeconds: int(c.ReconnectDelay / time.Second),
	}
}

// Validate rejects configurations an engine must not start with.
func (c EngineConfig) Validate() error {
	if c.UserID == "" {
		return db.ErrUserIDRequired
	}
	if c.TradingMode != ModeSingle && c.TradingMode != ModeDynamic {
		return fmt.Errorf("unknown trading mode %q", c.TradingMode)
	}
	if c.TradingMode == ModeSingle && c.Symbol == "" {
		return ErrSymbolRequired
	}
	if c.TradingMode == ModeDynamic && len(c.DynamicSymbols) == 0 {
		return errors.New("dynamic mode requires at least one symbol")
	}
	if c.APIKey == "" || c.APISecret == "" {
		return ErrCredentialsNeeded
	}
	if c.TradeAmountPercent <= 0 || c.TradeAmountPercent > 100 {
		return fmt.Errorf("trade amount percent %.2f out of range (0,100]", c.TradeAmountPercent)
	}
	if c.MinTradeAmount <= 0 || c.MaxTradeAmount < c.MinTradeAmount {
		return fmt.Errorf("trade amount bounds invalid: min=%.2f max=%.2f", c.MinTradeAmount, c.MaxTradeAmount)
	}
	if c.DailyProfitTarget <= 0 {
		return errors.New("daily profit target must be positive")
	}
	if c.StopLossPercent <= 0 {
		return errors.New("stop loss percent must be positive")
	}
	if c.MinHistory < 2 {
		return errors.New("min history must be at least 2")
	}
	if c.TrendWindow < 2 {
		return errors.New("trend window must be at least 2")
	}

	if c.EnableReinforcement {
		sum := c.OriginalStrategyPercent + c.ReinforcementStrategyPercent
		if sum < 99.999 || sum > 100.001 {
			return fmt.Errorf("strategy allocation must sum to 100, got %.2f", sum)
		}
		if c.OriginalStrategyPercent < 10 || c.OriginalStrategyPercent > 90 {
			return fmt.Errorf("original strategy percent %.2f out of range [10,90]", c.OriginalStrategyPercent)
		}
		if c.ReinforcementTriggerPercent <= 0 {
			return errors.New("reinforcement trigger percent must be positive")
		}
	}

	return nil
}
