// Package coins tracks per-symbol market state for an engine and
// picks the next candidate in dynamic mode.
package coins

import (
	"sync"
	"time"

	"tradecore/internal/strategy"
	market "tradecore/pkg/market/binance"
)

// MaxHistoryPoints bounds the in-memory price history per symbol;
// checkpoints persist the same window.
const MaxHistoryPoints = 100

// CoinState is the tracked market state for one symbol.
type CoinState struct {
	Symbol      string
	Price       float64
	DailyLow    float64
	DailyHigh   float64
	Change24h   float64 // % from the exchange 24h ticker
	QuoteVol24h float64
	History     []strategy.PricePoint
	LastUpdate  time.Time

	day string // local date the daily range belongs to
}

// Update folds a new price sample into the state, rolling the daily
// range over when the local date changes.
func (c *CoinState) Update(price float64, now time.Time) {
	if price <= 0 {
		return
	}

	day := now.Local().Format("2006-01-02")
	if c.day != day {
		c.day = day
		c.DailyLow = price
		c.DailyHigh = price
	} else {
		if price < c.DailyLow || c.DailyLow == 0 {
			c.DailyLow = price
		}
		if price > c.DailyHigh {
			c.DailyHigh = price
		}
	}

	c.Price = price
	c.LastUpdate = now
	c.History = append(c.History, strategy.PricePoint{Price: price, Time: now})
	if len(c.History) > MaxHistoryPoints {
		c.History = c.History[len(c.History)-MaxHistoryPoints:]
	}
}

// ApplyTicker merges 24h statistics from the exchange ticker and
// counts as a price sample too.
func (c *CoinState) ApplyTicker(t market.Ticker, now time.Time) {
	c.Change24h = t.ChangePercent
	c.QuoteVol24h = t.QuoteVolume
	c.Update(t.Price, now)
	// Exchange daily range is wider than anything observed locally.
	if t.Low > 0 && (c.DailyLow == 0 || t.Low < c.DailyLow) {
		c.DailyLow = t.Low
	}
	if t.High > c.DailyHigh {
		c.DailyHigh = t.High
	}
}

// Snapshot converts the state into the strategy evaluator's view.
func (c *CoinState) Snapshot(now time.Time, lastBuy time.Time) strategy.Snapshot {
	return strategy.Snapshot{
		Price:     c.Price,
		DailyLow:  c.DailyLow,
		DailyHigh: c.DailyHigh,
		History:   c.History,
		LastBuy:   lastBuy,
		Now:       now,
	}
}

// Criteria filters candidates in dynamic mode.
type Criteria struct {
	MinDailyVariation float64         // min |24h change| %
	DipThreshold      float64         // max 24h change % (negative means dipping)
	VolumeFloor       float64         // min 24h quote volume
	NearLowBandPct    float64         // price must sit within this % of the daily low
	Exclude           map[string]bool // symbols with open positions
}

// Tracker holds CoinStates for a configured basket, in order.
type Tracker struct {
	mu    sync.RWMutex
	order []string
	coins map[string]*CoinState
}

// NewTracker builds a tracker for the basket; order is preserved for
// candidate selection.
func NewTracker(symbols []string) *Tracker {
	t := &Tracker{coins: make(map[string]*CoinState, len(symbols))}
	for _, s := range symbols {
		if _, ok := t.coins[s]; ok {
			continue
		}
		t.order = append(t.order, s)
		t.coins[s] = &CoinState{Symbol: s}
	}
	return t
}

// Symbols returns the basket in configured order.
func (t *Tracker) Symbols() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// Update folds a price sample for one symbol; unknown symbols are
// ignored.
func (t *Tracker) Update(symbol string, price float64, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.coins[symbol]; ok {
		c.Update(price, now)
	}
}

// ApplyTickers merges a batch of 24h tickers.
func (t *Tracker) ApplyTickers(tickers map[string]market.Ticker, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for sym, tk := range tickers {
		if c, ok := t.coins[sym]; ok {
			c.ApplyTicker(tk, now)
		}
	}
}

// Get returns a copy of one coin's state.
func (t *Tracker) Get(symbol string) (CoinState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.coins[symbol]
	if !ok {
		return CoinState{}, false
	}
	return snapshotState(c), true
}

// All returns copies of every tracked state keyed by symbol.
func (t *Tracker) All() map[string]CoinState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]CoinState, len(t.coins))
	for sym, c := range t.coins {
		out[sym] = snapshotState(c)
	}
	return out
}

// Pick walks the basket in configured order and returns the first
// symbol passing every filter. Deterministic given equal data.
func (t *Tracker) Pick(cr Criteria) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, sym := range t.order {
		if cr.Exclude[sym] {
			continue
		}
		c := t.coins[sym]
		if c.Price <= 0 || c.DailyLow <= 0 {
			continue
		}
		if abs(c.Change24h) < cr.MinDailyVariation {
			continue
		}
		if c.Change24h > cr.DipThreshold {
			continue
		}
		if c.QuoteVol24h < cr.VolumeFloor {
			continue
		}
		distFromLow := (c.Price - c.DailyLow) / c.DailyLow * 100
		if distFromLow > cr.NearLowBandPct {
			continue
		}
		return sym, true
	}
	return "", false
}

func snapshotState(c *CoinState) CoinState {
	out := *c
	out.History = make([]strategy.PricePoint, len(c.History))
	copy(out.History, c.History)
	return out
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
