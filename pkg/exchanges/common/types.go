package common

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType denotes basic spot order types.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// TimeInForce captures TIF semantics.
type TimeInForce string

const (
	TIFGTC TimeInForce = "GTC" // Good Till Cancelled
	TIFIOC TimeInForce = "IOC" // Immediate Or Cancel
	TIFFOK TimeInForce = "FOK" // Fill Or Kill
)

// OrderStatus normalizes exchange status into a small set.
type OrderStatus string

const (
	StatusNew      OrderStatus = "NEW"
	StatusPartial  OrderStatus = "PARTIAL"
	StatusFilled   OrderStatus = "FILLED"
	StatusCanceled OrderStatus = "CANCELED"
	StatusRejected OrderStatus = "REJECTED"
	StatusExpired  OrderStatus = "EXPIRED"
	StatusUnknown  OrderStatus = "UNKNOWN"
)

// OrderRequest captures a spot order intent to be sent to an exchange.
// Market buys may be sized by quote amount instead of base quantity.
type OrderRequest struct {
	Symbol      string
	Side        Side
	Type        OrderType
	Qty         float64 // base quantity; zero when QuoteQty is used
	QuoteQty    float64 // quote amount for MARKET buys (quoteOrderQty)
	Price       float64 // required for LIMIT
	TimeInForce TimeInForce
	ClientID    string // optional client order id
}

// OrderResult returns the exchange ack with executed amounts.
// ExecutedQuote is the cummulativeQuoteQty of the fill and is the
// authoritative spent/received quote value.
type OrderResult struct {
	ExchangeOrderID string
	ClientID        string
	Status          OrderStatus
	ExecutedQty     float64
	ExecutedQuote   float64
	AvgPrice        float64
}

// AssetBalance is one asset row from the account endpoint.
type AssetBalance struct {
	Asset  string
	Free   float64
	Locked float64
}

// SymbolFilters holds the exchange trading rules needed before
// submitting an order.
type SymbolFilters struct {
	Symbol      string
	StepSize    float64 // LOT_SIZE quantity increment
	MinQty      float64 // LOT_SIZE minimum quantity
	TickSize    float64 // PRICE_FILTER price increment
	MinNotional float64 // NOTIONAL / MIN_NOTIONAL
	QtyDecimals int     // decimals derived from StepSize string
}
