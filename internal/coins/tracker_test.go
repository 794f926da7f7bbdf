package coins

import (
	"testing"
	"time"

	market "tradecore/pkg/market/binance"
)

var noon = time.Date(2024, 6, 1, 12, 0, 0, 0, time.Local)

func TestCoinStateDailyRange(t *testing.T) {
	var c CoinState
	c.Update(100, noon)
	c.Update(98, noon.Add(time.Minute))
	c.Update(103, noon.Add(2*time.Minute))

	if c.DailyLow != 98 {
		t.Errorf("daily low = %v, want 98", c.DailyLow)
	}
	if c.DailyHigh != 103 {
		t.Errorf("daily high = %v, want 103", c.DailyHigh)
	}
	if c.Price != 103 {
		t.Errorf("price = %v, want 103", c.Price)
	}
}

func TestCoinStateDateRollover(t *testing.T) {
	var c CoinState
	c.Update(100, noon)
	c.Update(90, noon.Add(time.Hour))

	nextDay := noon.Add(24 * time.Hour)
	c.Update(105, nextDay)

	if c.DailyLow != 105 || c.DailyHigh != 105 {
		t.Errorf("after rollover low/high = %v/%v, want 105/105", c.DailyLow, c.DailyHigh)
	}
	// History survives the rollover.
	if len(c.History) != 3 {
		t.Errorf("history length = %d, want 3", len(c.History))
	}
}

func TestCoinStateHistoryBounded(t *testing.T) {
	var c CoinState
	for i := 0; i < MaxHistoryPoints+50; i++ {
		c.Update(100+float64(i%10), noon.Add(time.Duration(i)*time.Second))
	}
	if len(c.History) != MaxHistoryPoints {
		t.Fatalf("history length = %d, want %d", len(c.History), MaxHistoryPoints)
	}
}

func TestCoinStateIgnoresBadPrice(t *testing.T) {
	var c CoinState
	c.Update(100, noon)
	c.Update(0, noon.Add(time.Second))
	c.Update(-5, noon.Add(2*time.Second))

	if c.Price != 100 || len(c.History) != 1 {
		t.Fatalf("bad prices leaked into state: price=%v history=%d", c.Price, len(c.History))
	}
}

func dipTicker(sym string, price, change, volume float64) market.Ticker {
	return market.Ticker{
		Symbol:        sym,
		Price:         price,
		High:          price * 1.03,
		Low:           price * 0.999,
		ChangePercent: change,
		QuoteVolume:   volume,
	}
}

func TestPickFirstMatchInOrder(t *testing.T) {
	tr := NewTracker([]string{"BTCUSDT", "ETHUSDT", "SOLUSDT"})
	tr.ApplyTickers(map[string]market.Ticker{
		"BTCUSDT": dipTicker("BTCUSDT", 30000, 0.2, 5e6),  // change too small
		"ETHUSDT": dipTicker("ETHUSDT", 2000, -1.5, 5e6),  // passes
		"SOLUSDT": dipTicker("SOLUSDT", 150, -2.0, 5e6),   // also passes, later in order
	}, noon)

	cr := Criteria{
		MinDailyVariation: 0.5,
		DipThreshold:      -0.5,
		VolumeFloor:       1e6,
		NearLowBandPct:    0.5,
	}
	sym, ok := tr.Pick(cr)
	if !ok || sym != "ETHUSDT" {
		t.Fatalf("Pick = %s/%v, want ETHUSDT", sym, ok)
	}
}

func TestPickFilters(t *testing.T) {
	base := func() map[string]market.Ticker {
		return map[string]market.Ticker{
			"ETHUSDT": dipTicker("ETHUSDT", 2000, -1.5, 5e6),
		}
	}
	cr := Criteria{
		MinDailyVariation: 0.5,
		DipThreshold:      -0.5,
		VolumeFloor:       1e6,
		NearLowBandPct:    0.5,
	}

	tests := []struct {
		name   string
		mutate func(map[string]market.Ticker)
		crMod  func(*Criteria)
	}{
		{"rising coin rejected", func(m map[string]market.Ticker) {
			tk := m["ETHUSDT"]
			tk.ChangePercent = 1.5
			m["ETHUSDT"] = tk
		}, nil},
		{"thin volume rejected", func(m map[string]market.Ticker) {
			tk := m["ETHUSDT"]
			tk.QuoteVolume = 100
			m["ETHUSDT"] = tk
		}, nil},
		{"far from low rejected", func(m map[string]market.Ticker) {
			tk := m["ETHUSDT"]
			tk.Low = tk.Price * 0.9
			m["ETHUSDT"] = tk
		}, nil},
		{"open position excluded", nil, func(c *Criteria) {
			c.Exclude = map[string]bool{"ETHUSDT": true}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker([]string{"ETHUSDT"})
			tickers := base()
			if tt.mutate != nil {
				tt.mutate(tickers)
			}
			tr.ApplyTickers(tickers, noon)
			c := cr
			if tt.crMod != nil {
				tt.crMod(&c)
			}
			if sym, ok := tr.Pick(c); ok {
				t.Fatalf("Pick returned %s, want no candidate", sym)
			}
		})
	}
}

func TestPickNoData(t *testing.T) {
	tr := NewTracker([]string{"BTCUSDT"})
	if sym, ok := tr.Pick(Criteria{}); ok {
		t.Fatalf("Pick on empty tracker returned %s", sym)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	tr := NewTracker([]string{"BTCUSDT"})
	tr.Update("BTCUSDT", 100, noon)

	c, ok := tr.Get("BTCUSDT")
	if !ok {
		t.Fatal("Get miss for tracked symbol")
	}
	c.History[0].Price = -1

	again, _ := tr.Get("BTCUSDT")
	if again.History[0].Price != 100 {
		t.Fatal("Get exposed internal history slice")
	}
}
