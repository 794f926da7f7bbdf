package events

import "time"

// Event enumerates high-level topics inside the trading core.
type Event string

const (
	EventStatusChange  Event = "engine.status"
	EventLog           Event = "engine.log"
	EventCoinsUpdate   Event = "engine.coins"
	EventTradeExecuted Event = "engine.trade"
	EventWarning       Event = "engine.warning"
)

// StatusChange reports an engine lifecycle transition for one user.
type StatusChange struct {
	UserID string    `json:"user_id"`
	Status string    `json:"status"`
	Time   time.Time `json:"time"`
}

// LogLine is an operator-visible engine message.
type LogLine struct {
	UserID  string    `json:"user_id"`
	Level   string    `json:"level"` // info, success, warning, error
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// CoinsUpdate carries the latest per-symbol snapshots in dynamic mode.
type CoinsUpdate struct {
	UserID string         `json:"user_id"`
	Coins  map[string]any `json:"coins"`
	Time   time.Time      `json:"time"`
}

// TradeExecuted reports one completed buy or sell.
type TradeExecuted struct {
	UserID   string    `json:"user_id"`
	Symbol   string    `json:"symbol"`
	Side     string    `json:"side"`
	Qty      float64   `json:"qty"`
	Price    float64   `json:"price"`
	Profit   float64   `json:"profit"`
	Reason   string    `json:"reason"`
	Strategy string    `json:"strategy"`
	Time     time.Time `json:"time"`
}

// Warning flags a recoverable anomaly, like a sell quantity trimmed
// to the real exchange balance.
type Warning struct {
	UserID  string    `json:"user_id"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}
