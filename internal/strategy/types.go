// Package strategy holds the pure trading decision functions. They
// take market snapshots and return decisions with human-readable
// reasons; no I/O, no clocks, no side effects.
package strategy

import "time"

// Strategy names recorded on positions and trades.
const (
	StrategyOriginal      = "original"
	StrategyReinforcement = "reinforcement"
)

// Buy/sell reason codes.
const (
	ReasonBuyAtLow     = "buy_at_low"
	ReasonBuyOnDrop    = "buy_on_drop"
	ReasonProfitTarget = "profit_target"
	ReasonStopLoss     = "stop_loss"
)

// PricePoint is one observed price sample.
type PricePoint struct {
	Price float64
	Time  time.Time
}

// Snapshot is everything the buy evaluators look at for one symbol.
type Snapshot struct {
	Price     float64
	DailyLow  float64
	DailyHigh float64
	History   []PricePoint
	LastBuy   time.Time // zero when never bought
	Now       time.Time
}

// BuyDecision reports whether and why to buy.
type BuyDecision struct {
	Buy    bool
	Code   string // ReasonBuyAtLow or ReasonBuyOnDrop
	Reason string
}

// SellDecision reports whether and why to exit a position.
type SellDecision struct {
	Sell         bool
	Code         string // ReasonProfitTarget or ReasonStopLoss
	Reason       string
	NetProfitPct float64 // net of both-leg fees
}

// Params is the strategy-relevant slice of the engine configuration.
type Params struct {
	MinHistory          int
	MinDailyVariation   float64 // % range required before buying
	BuyThresholdFromLow float64 // % band above daily low
	BuyOnDropPercent    float64 // % drop from daily high
	TrendWindow         int
	BuyCooldown         time.Duration

	ProfitTarget float64 // net % after fees
	StopLoss     float64 // raw drawdown %
	TakerFee     float64 // both legs fill at market, so both pay taker

	ReinforcementTrigger float64 // drawdown % that arms reinforcement
}
