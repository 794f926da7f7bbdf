package market

// Ticker is a 24h rolling window snapshot for one symbol, shared by
// the REST and websocket paths.
type Ticker struct {
	Symbol        string
	Price         float64 // last price
	High          float64 // 24h high
	Low           float64 // 24h low
	ChangePercent float64 // 24h price change %
	QuoteVolume   float64 // 24h quote asset volume
	Time          int64   // event/close time (ms)
}

// Price is a lightweight last-price snapshot.
type Price struct {
	Symbol string
	Price  float64
}
