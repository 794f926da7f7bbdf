package db

import "time"

// User is a platform account. Registration lives elsewhere; the trading
// core only reads approval status.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Approved  bool      `json:"approved"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BotConfig is the persisted per-user engine configuration row.
type BotConfig struct {
	UserID         string `json:"user_id"`
	Symbol         string `json:"symbol"`
	TradingMode    string `json:"trading_mode"` // "single" or "dynamic"
	DynamicSymbols string `json:"dynamic_symbols"`

	TradeAmountPercent float64 `json:"trade_amount_percent"`
	MinTradeAmount     float64 `json:"min_trade_amount"`
	MaxTradeAmount     float64 `json:"max_trade_amount"`

	DailyProfitTarget   float64 `json:"daily_profit_target"`
	StopLossPercent     float64 `json:"stop_loss_percent"`
	MaxDailyTrades      int     `json:"max_daily_trades"`
	MinDailyVariation   float64 `json:"min_daily_variation"`
	BuyThresholdFromLow float64 `json:"buy_threshold_from_low"`
	BuyOnDropPercent    float64 `json:"buy_on_drop_percent"`
	MinHistory          int     `json:"min_history"`
	TrendWindow         int     `json:"trend_window"`
	BuyCooldownSeconds  int     `json:"buy_cooldown_seconds"`
	MakerFee            float64 `json:"maker_fee"`
	TakerFee            float64 `json:"taker_fee"`

	EnableReinforcement          bool    `json:"enable_reinforcement"`
	OriginalStrategyPercent      float64 `json:"original_strategy_percent"`
	ReinforcementStrategyPercent float64 `json:"reinforcement_strategy_percent"`
	ReinforcementTriggerPercent  float64 `json:"reinforcement_trigger_percent"`

	DipThreshold float64 `json:"dip_threshold"`
	VolumeFloor  float64 `json:"volume_floor"`

	APIKey    string `json:"-"`
	APISecret string `json:"-"`
	BaseURL   string `json:"base_url"`

	PollIntervalSeconds   int `json:"poll_interval_seconds"`
	MaxReconnectAttempts  int `json:"max_reconnect_attempts"`
	ReconnectDelaySeconds int `json:"reconnect_delay_seconds"`

	UpdatedAt time.Time `json:"updated_at"`
}

// BotState is the persisted engine checkpoint row. PriceHistory and
// Positions are stored as JSON text; parsing is tolerant of corruption.
type BotState struct {
	UserID       string     `json:"user_id"`
	Running      bool       `json:"running"`
	CurrentPrice float64    `json:"current_price"`
	DailyLow     float64    `json:"daily_low"`
	DailyHigh    float64    `json:"daily_high"`
	DailyTrades  int        `json:"daily_trades"`
	TotalProfit  float64    `json:"total_profit"`
	ActiveSymbol string     `json:"active_symbol"`
	LastBuyTime  *time.Time `json:"last_buy_time,omitempty"`
	PriceHistory string     `json:"-"`
	Positions    string     `json:"-"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Position is an open or closed spot holding keyed by the exchange
// order id. SpentUSD is the order's executed quote amount and is the
// authoritative cost basis for profit math.
type Position struct {
	OrderID       string     `json:"order_id"`
	UserID        string     `json:"user_id"`
	Symbol        string     `json:"symbol"`
	Side          string     `json:"side"`
	Qty           float64    `json:"qty"`
	Price         float64    `json:"price"`
	SpentUSD      float64    `json:"spent_usd"`
	Status        string     `json:"status"` // OPEN or CLOSED
	Strategy      string     `json:"strategy"`
	ParentOrderID string     `json:"parent_order_id,omitempty"`
	Profit        float64    `json:"profit"`
	OpenedAt      time.Time  `json:"opened_at"`
	ClosedAt      *time.Time `json:"closed_at,omitempty"`
}

// Trade is one executed fill (buy or sell) for audit history.
type Trade struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"order_id"`
	UserID    string    `json:"user_id"`
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side"`
	Qty       float64   `json:"qty"`
	Price     float64   `json:"price"`
	Fee       float64   `json:"fee"`
	Profit    float64   `json:"profit"`
	Strategy  string    `json:"strategy"`
	CreatedAt time.Time `json:"created_at"`
}

// Balance is the last synced exchange balance snapshot per user.
type Balance struct {
	UserID    string    `json:"user_id"`
	USDT      float64   `json:"usdt"`
	Asset     string    `json:"asset"`
	AssetQty  float64   `json:"asset_qty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DailyStat is one local-date row of trading results.
type DailyStat struct {
	UserID    string  `json:"user_id"`
	Date      string  `json:"date"` // YYYY-MM-DD local
	Symbol    string  `json:"symbol"`
	Trades    int     `json:"trades"`
	Profit    float64 `json:"profit"`
	DailyLow  float64 `json:"daily_low"`
	DailyHigh float64 `json:"daily_high"`
}
